package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/janvault/janvault/internal/hash"
)

// TimestampFormat is the wall-clock layout stamped into entries. The exact
// string is part of the hashed material, so it is stored verbatim.
const TimestampFormat = "2006-01-02 15:04:05"

// Entry is one immutable, hash-linked record of an approved disbursement.
// CurrentHash covers Timestamp, Fingerprint, SchemeID, the canonical amount
// string and PreviousHash; Sequence is storage bookkeeping and not hashed.
type Entry struct {
	Sequence     uint64          `json:"sequence"`
	Timestamp    string          `json:"timestamp"`
	Fingerprint  string          `json:"citizen_fingerprint"`
	SchemeID     string          `json:"scheme"`
	Amount       decimal.Decimal `json:"amount"`
	PreviousHash string          `json:"previous_hash"`
	CurrentHash  string          `json:"current_hash"`
}

// EntryView is a display-safe projection of an entry with the fingerprint and
// hash redacted for listing.
type EntryView struct {
	Timestamp   string          `json:"timestamp"`
	Fingerprint string          `json:"citizen_hash"`
	SchemeID    string          `json:"scheme"`
	Amount      decimal.Decimal `json:"amount"`
	Hash        string          `json:"block_hash"`
}

// Store is the persistence contract for the ordered entry log. AppendEntry
// assigns Sequence; Entries returns the full log in chain order.
type Store interface {
	AppendEntry(ctx context.Context, entry *Entry) error
	Entries(ctx context.Context) ([]Entry, error)
	LastEntry(ctx context.Context) (*Entry, error)
	HasEntryHash(ctx context.Context, currentHash string) (bool, error)
	TotalDisbursed(ctx context.Context) (decimal.Decimal, error)
}

// Ledger is the append-only hash chain. A single RWMutex serializes the
// read-tail-then-append unit against concurrent appends and keeps Verify
// from interleaving with an uncommitted append.
type Ledger struct {
	mu    sync.RWMutex
	store Store
	now   func() time.Time
}

func New(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Append stamps the current time, chains off the current tail (or the genesis
// sentinel for an empty ledger) and persists the new entry.
func (l *Ledger) Append(ctx context.Context, fingerprint, schemeID string, amount decimal.Decimal) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	previousHash := hash.GenesisSentinel
	tail, err := l.store.LastEntry(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain tail: %w", err)
	}
	if tail != nil {
		previousHash = tail.CurrentHash
	}

	timestamp := l.now().Format(TimestampFormat)
	entry := &Entry{
		Timestamp:    timestamp,
		Fingerprint:  fingerprint,
		SchemeID:     schemeID,
		Amount:       amount,
		PreviousHash: previousHash,
		CurrentHash:  hash.EntryHash(timestamp, fingerprint, schemeID, amount, previousHash),
	}

	if err := l.store.AppendEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to persist ledger entry: %w", err)
	}

	return entry, nil
}

// Verify recomputes every entry's hash from its stored fields and walks the
// chain links. It returns nil only when the full history is untampered and
// correctly ordered; the first mismatch is reported as a TamperError.
func (l *Ledger) Verify(ctx context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries, err := l.store.Entries(ctx)
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}

	previousHash := hash.GenesisSentinel
	for _, e := range entries {
		recomputed := hash.EntryHash(e.Timestamp, e.Fingerprint, e.SchemeID, e.Amount, e.PreviousHash)
		if recomputed != e.CurrentHash {
			return NewTamperError(e.Sequence, "stored hash does not match recomputed hash")
		}
		if e.PreviousHash != previousHash {
			return NewTamperError(e.Sequence, fmt.Sprintf("chain broken: expected previous %s, got %s", previousHash, e.PreviousHash))
		}
		previousHash = e.CurrentHash
	}

	return nil
}

// RemainingBudget is max(initial - sum of all entry amounts, 0).
func (l *Ledger) RemainingBudget(ctx context.Context, initial decimal.Decimal) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	disbursed, err := l.store.TotalDisbursed(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to total disbursements: %w", err)
	}

	remaining := initial.Sub(disbursed)
	if remaining.Sign() < 0 {
		return decimal.Zero, nil
	}
	return remaining, nil
}

// ListRecent returns all entries most recent first, with the fingerprint and
// hash truncated for display.
func (l *Ledger) ListRecent(ctx context.Context) ([]EntryView, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries, err := l.store.Entries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	views := make([]EntryView, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		views = append(views, EntryView{
			Timestamp:   e.Timestamp,
			Fingerprint: hash.Truncate(e.Fingerprint, 12),
			SchemeID:    e.SchemeID,
			Amount:      e.Amount,
			Hash:        hash.Truncate(e.CurrentHash, 12),
		})
	}

	return views, nil
}
