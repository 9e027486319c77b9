package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	bolt "go.etcd.io/bbolt"

	"github.com/janvault/janvault/internal/citizen"
	"github.com/janvault/janvault/internal/ledger"
)

var (
	LedgerBucket   = []byte("ledger")
	CitizensBucket = []byte("citizens")
	MetadataBucket = []byte("metadata")
)

// Storage is the embedded BoltDB backend. It implements both ledger.Store and
// citizen.Store. Ledger entries are keyed by big-endian sequence so cursor
// order is chain order.
type Storage struct {
	db *bolt.DB
}

func New(path string) (*Storage, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{LedgerBucket, CitizensBucket, MetadataBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// AppendEntry assigns the next sequence number and persists the entry.
func (s *Storage) AppendEntry(_ context.Context, entry *ledger.Entry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(LedgerBucket)

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate sequence: %w", err)
		}
		entry.Sequence = seq

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal ledger entry: %w", err)
		}

		return bucket.Put(sequenceKey(seq), data)
	})
}

// Entries returns the full ledger log in chain order.
func (s *Storage) Entries(_ context.Context) ([]ledger.Entry, error) {
	var entries []ledger.Entry

	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(LedgerBucket).Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var entry ledger.Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("failed to unmarshal ledger entry: %w", err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// LastEntry returns the chain tail, or nil for an empty ledger.
func (s *Storage) LastEntry(_ context.Context) (*ledger.Entry, error) {
	var tail *ledger.Entry

	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(LedgerBucket).Cursor()
		k, v := cursor.Last()
		if k == nil {
			return nil
		}
		var entry ledger.Entry
		if err := json.Unmarshal(v, &entry); err != nil {
			return fmt.Errorf("failed to unmarshal ledger entry: %w", err)
		}
		tail = &entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	return tail, nil
}

// HasEntryHash reports whether any stored entry carries the given current
// hash. Used by the backfill path to keep re-imports idempotent.
func (s *Storage) HasEntryHash(_ context.Context, currentHash string) (bool, error) {
	found := false

	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(LedgerBucket).Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var entry ledger.Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				continue
			}
			if entry.CurrentHash == currentHash {
				found = true
				return nil
			}
		}
		return nil
	})

	return found, err
}

// TotalDisbursed sums every entry amount.
func (s *Storage) TotalDisbursed(_ context.Context) (decimal.Decimal, error) {
	total := decimal.Zero

	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(LedgerBucket).Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var entry ledger.Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("failed to unmarshal ledger entry: %w", err)
			}
			total = total.Add(entry.Amount)
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}

	return total, nil
}

func (s *Storage) GetCitizen(_ context.Context, citizenID string) (*citizen.Record, error) {
	var record citizen.Record

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(CitizensBucket).Get([]byte(citizenID))
		if data == nil {
			return citizen.ErrNotFound
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}

	return &record, nil
}

func (s *Storage) UpsertCitizen(_ context.Context, record *citizen.Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal citizen record: %w", err)
		}
		return tx.Bucket(CitizensBucket).Put([]byte(record.CitizenID), data)
	})
}

func (s *Storage) ListCitizens(_ context.Context) ([]citizen.Record, error) {
	var records []citizen.Record

	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(CitizensBucket).Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var record citizen.Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("failed to unmarshal citizen record: %w", err)
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// RecordClaim increments the claim count and stamps the claim date in a
// single transaction.
func (s *Storage) RecordClaim(_ context.Context, citizenID, claimDate string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(CitizensBucket)

		data := bucket.Get([]byte(citizenID))
		if data == nil {
			return citizen.ErrNotFound
		}

		var record citizen.Record
		if err := json.Unmarshal(data, &record); err != nil {
			return fmt.Errorf("failed to unmarshal citizen record: %w", err)
		}

		record.ClaimCount++
		record.LastClaimDate = claimDate

		updated, err := json.Marshal(&record)
		if err != nil {
			return fmt.Errorf("failed to marshal citizen record: %w", err)
		}
		return bucket.Put([]byte(citizenID), updated)
	})
}

func (s *Storage) SetMetadata(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(MetadataBucket).Put([]byte(key), []byte(value))
	})
}

func (s *Storage) GetMetadata(key string) (string, error) {
	var value string

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(MetadataBucket).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("metadata key not found: %s", key)
		}
		value = string(data)
		return nil
	})

	return value, err
}
