package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/janvault/janvault/internal/citizen"
	"github.com/janvault/janvault/internal/ledger"
)

// Storage is the PostgreSQL backend. Same contracts as the embedded store:
// an ordered ledger_entries log and a keyed citizens table.
type Storage struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, connStr string) (*Storage, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	s := &Storage{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() {
	s.pool.Close()
}

func (s *Storage) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id BIGSERIAL PRIMARY KEY,
			entry_time TEXT NOT NULL,
			citizen_hash TEXT NOT NULL,
			scheme TEXT NOT NULL,
			amount NUMERIC NOT NULL,
			previous_hash TEXT NOT NULL,
			current_hash TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS citizens (
			citizen_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			account_status TEXT NOT NULL,
			aadhaar_linked BOOLEAN NOT NULL,
			scheme_eligibility TEXT NOT NULL,
			scheme_amount NUMERIC NOT NULL,
			claim_count INTEGER NOT NULL,
			last_claim_date TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_current_hash ON ledger_entries (current_hash)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return nil
}

func (s *Storage) AppendEntry(ctx context.Context, entry *ledger.Entry) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO ledger_entries (entry_time, citizen_hash, scheme, amount, previous_hash, current_hash)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		entry.Timestamp, entry.Fingerprint, entry.SchemeID, entry.Amount.String(), entry.PreviousHash, entry.CurrentHash,
	).Scan(&entry.Sequence)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

func (s *Storage) Entries(ctx context.Context) ([]ledger.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, entry_time, citizen_hash, scheme, amount::text, previous_hash, current_hash
		 FROM ledger_entries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}

	return entries, rows.Err()
}

func (s *Storage) LastEntry(ctx context.Context) (*ledger.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, entry_time, citizen_hash, scheme, amount::text, previous_hash, current_hash
		 FROM ledger_entries ORDER BY id DESC LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chain tail: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanEntry(rows)
}

func (s *Storage) HasEntryHash(ctx context.Context, currentHash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE current_hash = $1)`,
		currentHash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check entry hash: %w", err)
	}
	return exists, nil
}

func (s *Storage) TotalDisbursed(ctx context.Context) (decimal.Decimal, error) {
	var total string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::text FROM ledger_entries`,
	).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to total disbursements: %w", err)
	}

	disbursed, err := decimal.NewFromString(total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse disbursement total: %w", err)
	}
	return disbursed, nil
}

func scanEntry(rows pgx.Rows) (*ledger.Entry, error) {
	var entry ledger.Entry
	var amount string

	if err := rows.Scan(&entry.Sequence, &entry.Timestamp, &entry.Fingerprint, &entry.SchemeID,
		&amount, &entry.PreviousHash, &entry.CurrentHash); err != nil {
		return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
	}

	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse entry amount: %w", err)
	}
	entry.Amount = parsed

	return &entry, nil
}

func (s *Storage) GetCitizen(ctx context.Context, citizenID string) (*citizen.Record, error) {
	var record citizen.Record
	var amount string

	err := s.pool.QueryRow(ctx,
		`SELECT citizen_id, name, account_status, aadhaar_linked, scheme_eligibility,
		        scheme_amount::text, claim_count, last_claim_date
		 FROM citizens WHERE citizen_id = $1`,
		citizenID,
	).Scan(&record.CitizenID, &record.Name, &record.AccountStatus, &record.AadhaarLinked,
		&record.SchemeEligibility, &amount, &record.ClaimCount, &record.LastClaimDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, citizen.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query citizen: %w", err)
	}

	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse scheme amount: %w", err)
	}
	record.SchemeAmount = parsed

	return &record, nil
}

func (s *Storage) UpsertCitizen(ctx context.Context, record *citizen.Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO citizens
		 (citizen_id, name, account_status, aadhaar_linked, scheme_eligibility, scheme_amount, claim_count, last_claim_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (citizen_id) DO UPDATE SET
		     name = EXCLUDED.name,
		     account_status = EXCLUDED.account_status,
		     aadhaar_linked = EXCLUDED.aadhaar_linked,
		     scheme_eligibility = EXCLUDED.scheme_eligibility,
		     scheme_amount = EXCLUDED.scheme_amount,
		     claim_count = EXCLUDED.claim_count,
		     last_claim_date = EXCLUDED.last_claim_date`,
		record.CitizenID, record.Name, record.AccountStatus, record.AadhaarLinked,
		record.SchemeEligibility, record.SchemeAmount.String(), record.ClaimCount, record.LastClaimDate)
	if err != nil {
		return fmt.Errorf("failed to upsert citizen: %w", err)
	}
	return nil
}

func (s *Storage) ListCitizens(ctx context.Context) ([]citizen.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT citizen_id, name, account_status, aadhaar_linked, scheme_eligibility,
		        scheme_amount::text, claim_count, last_claim_date
		 FROM citizens ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query citizens: %w", err)
	}
	defer rows.Close()

	var records []citizen.Record
	for rows.Next() {
		var record citizen.Record
		var amount string
		if err := rows.Scan(&record.CitizenID, &record.Name, &record.AccountStatus, &record.AadhaarLinked,
			&record.SchemeEligibility, &amount, &record.ClaimCount, &record.LastClaimDate); err != nil {
			return nil, fmt.Errorf("failed to scan citizen: %w", err)
		}
		parsed, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse scheme amount: %w", err)
		}
		record.SchemeAmount = parsed
		records = append(records, record)
	}

	return records, rows.Err()
}

func (s *Storage) RecordClaim(ctx context.Context, citizenID, claimDate string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE citizens
		 SET claim_count = claim_count + 1, last_claim_date = $2
		 WHERE citizen_id = $1`,
		citizenID, claimDate)
	if err != nil {
		return fmt.Errorf("failed to record claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return citizen.ErrNotFound
	}
	return nil
}
