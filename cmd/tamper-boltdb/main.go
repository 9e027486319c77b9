package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	bolt "go.etcd.io/bbolt"

	"github.com/janvault/janvault/internal/ledger"
)

// Demo tool: rewrites the amount of one stored ledger entry without
// recomputing its hash, so the next chain verification trips and the
// system freezes.
func main() {
	if len(os.Args) < 2 || len(os.Args) > 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s <boltdb-path> [sequence]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Inflates the amount of the given ledger entry (default: first entry)\n")
		os.Exit(1)
	}

	dbPath := os.Args[1]
	var targetSeq uint64
	if len(os.Args) == 3 {
		seq, err := strconv.ParseUint(os.Args[2], 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid sequence: %v\n", err)
			os.Exit(1)
		}
		targetSeq = seq
	}

	fmt.Printf("Opening BoltDB: %s\n", dbPath)

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open BoltDB: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	bucketName := []byte("ledger")

	var targetKey []byte
	var targetEntry ledger.Entry

	err = db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", bucketName)
		}

		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var entry ledger.Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				continue
			}

			if targetSeq == 0 || entry.Sequence == targetSeq {
				targetKey = make([]byte, len(k))
				copy(targetKey, k)
				targetEntry = entry
				fmt.Printf("Found entry seq=%d scheme=%s\n", entry.Sequence, entry.SchemeID)
				fmt.Printf("  Original Amount: %s\n", entry.Amount.String())
				fmt.Printf("  Stored Hash:     %s...\n", entry.CurrentHash[:32])
				break
			}
		}

		if len(targetKey) == 0 {
			return fmt.Errorf("no ledger entry found (sequence %d)", targetSeq)
		}

		return nil
	})

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Inflate the amount, leaving the stored hash untouched.
	targetEntry.Amount = targetEntry.Amount.Add(decimal.NewFromInt(1000000))

	fmt.Printf("Corrupted entry (seq=%d):\n", targetEntry.Sequence)
	fmt.Printf("  Amount: %s\n", targetEntry.Amount.String())

	err = db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", bucketName)
		}

		corruptedValue, err := json.Marshal(targetEntry)
		if err != nil {
			return fmt.Errorf("failed to marshal corrupted entry: %w", err)
		}

		if err := bucket.Put(targetKey, corruptedValue); err != nil {
			return fmt.Errorf("failed to save corrupted entry: %w", err)
		}

		fmt.Println("✓ Successfully corrupted ledger entry")
		return nil
	})

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("BoltDB tampering completed")
}
