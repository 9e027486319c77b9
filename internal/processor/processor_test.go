package processor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/janvault/janvault/internal/citizen"
	"github.com/janvault/janvault/internal/gates"
	"github.com/janvault/janvault/internal/hash"
	"github.com/janvault/janvault/internal/ledger"
	"github.com/janvault/janvault/internal/scheme"
	"github.com/janvault/janvault/internal/status"
)

// memStore implements ledger.Store and citizen.Store so tests can tamper
// with persisted entries directly.
type memStore struct {
	entries        []ledger.Entry
	citizens       map[string]citizen.Record
	recordClaimErr error
}

func newMemStore() *memStore {
	return &memStore{citizens: make(map[string]citizen.Record)}
}

func (s *memStore) AppendEntry(_ context.Context, entry *ledger.Entry) error {
	entry.Sequence = uint64(len(s.entries) + 1)
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *memStore) Entries(_ context.Context) ([]ledger.Entry, error) {
	out := make([]ledger.Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

func (s *memStore) LastEntry(_ context.Context) (*ledger.Entry, error) {
	if len(s.entries) == 0 {
		return nil, nil
	}
	e := s.entries[len(s.entries)-1]
	return &e, nil
}

func (s *memStore) HasEntryHash(_ context.Context, currentHash string) (bool, error) {
	for _, e := range s.entries {
		if e.CurrentHash == currentHash {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) TotalDisbursed(_ context.Context) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, e := range s.entries {
		total = total.Add(e.Amount)
	}
	return total, nil
}

func (s *memStore) GetCitizen(_ context.Context, citizenID string) (*citizen.Record, error) {
	rec, ok := s.citizens[citizenID]
	if !ok {
		return nil, citizen.ErrNotFound
	}
	return &rec, nil
}

func (s *memStore) UpsertCitizen(_ context.Context, record *citizen.Record) error {
	s.citizens[record.CitizenID] = *record
	return nil
}

func (s *memStore) ListCitizens(_ context.Context) ([]citizen.Record, error) {
	out := make([]citizen.Record, 0, len(s.citizens))
	for _, rec := range s.citizens {
		out = append(out, rec)
	}
	return out, nil
}

func (s *memStore) RecordClaim(_ context.Context, citizenID, claimDate string) error {
	if s.recordClaimErr != nil {
		return s.recordClaimErr
	}
	rec, ok := s.citizens[citizenID]
	if !ok {
		return citizen.ErrNotFound
	}
	rec.ClaimCount++
	rec.LastClaimDate = claimDate
	s.citizens[citizenID] = rec
	return nil
}

type env struct {
	store *memStore
	st    *status.Holder
	proc  *Processor
}

func newEnv(t *testing.T, initialBudget int64) *env {
	t.Helper()

	store := newMemStore()
	catalog := scheme.NewCatalog(scheme.DefaultAmounts())
	st := status.NewHolder()
	led := ledger.New(store)
	reg := citizen.NewRegistry(store, catalog)

	budget := decimal.NewFromInt(initialBudget)
	pipeline := gates.NewPipeline(catalog, func(ctx context.Context) (decimal.Decimal, error) {
		return led.RemainingBudget(ctx, budget)
	}, st, gates.DefaultPolicy())

	proc := New(led, reg, pipeline, st, budget, nil)

	store.citizens["123456789012"] = citizen.Record{
		CitizenID:         "123456789012",
		Name:              "Rahul Sharma",
		AccountStatus:     "Active",
		AadhaarLinked:     true,
		SchemeEligibility: "Health_Scheme",
		SchemeAmount:      decimal.NewFromInt(5000),
		ClaimCount:        0,
		LastClaimDate:     time.Now().AddDate(0, 0, -45).Format(citizen.DateFormat),
	}

	return &env{store: store, st: st, proc: proc}
}

func TestSubmitApproved(t *testing.T) {
	e := newEnv(t, 1000000)
	ctx := context.Background()

	res, err := e.proc.Submit(ctx, "123456789012", "Health_Scheme", decimal.NewFromInt(5000))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if !res.Approved {
		t.Fatalf("Expected approval, got %+v", res)
	}
	if res.CitizenName != "Rahul Sharma" {
		t.Errorf("Expected citizen name in result, got %q", res.CitizenName)
	}
	if res.RemainingBudget == nil || !res.RemainingBudget.Equal(decimal.NewFromInt(995000)) {
		t.Errorf("Expected remaining budget 995000, got %v", res.RemainingBudget)
	}
	if len(res.EntryHash) != 19 {
		t.Errorf("Expected 16-char truncated hash plus ellipsis, got %q", res.EntryHash)
	}

	if len(e.store.entries) != 1 {
		t.Fatalf("Expected 1 ledger entry, got %d", len(e.store.entries))
	}

	rec := e.store.citizens["123456789012"]
	if rec.ClaimCount != 1 {
		t.Errorf("Expected claim to be recorded, claim count is %d", rec.ClaimCount)
	}
	if rec.LastClaimDate != time.Now().Format(citizen.DateFormat) {
		t.Errorf("Expected last claim date updated to today, got %s", rec.LastClaimDate)
	}
}

func TestSubmitFrequencyDenied(t *testing.T) {
	e := newEnv(t, 1000000)
	ctx := context.Background()

	rec := e.store.citizens["123456789012"]
	rec.LastClaimDate = time.Now().AddDate(0, 0, -10).Format(citizen.DateFormat)
	e.store.citizens["123456789012"] = rec

	res, err := e.proc.Submit(ctx, "123456789012", "Health_Scheme", decimal.NewFromInt(5000))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if res.Approved {
		t.Fatal("Expected frequency denial")
	}
	if res.Gate != gates.GateFrequency {
		t.Errorf("Expected frequency gate tag, got %s", res.Gate)
	}
	if len(e.store.entries) != 0 {
		t.Error("Denied transaction must not touch the ledger")
	}
	if e.store.citizens["123456789012"].ClaimCount != 0 {
		t.Error("Denied transaction must not record a claim")
	}
}

func TestSubmitUnknownCitizen(t *testing.T) {
	e := newEnv(t, 1000000)

	res, err := e.proc.Submit(context.Background(), "000000000000", "Health_Scheme", decimal.NewFromInt(5000))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if res.Approved || res.Gate != GateLookup || res.Message != "Citizen Not Found" {
		t.Errorf("Expected lookup abort, got %+v", res)
	}
	if len(e.store.entries) != 0 {
		t.Error("Lookup abort must not touch the ledger")
	}
}

func TestSubmitAmountMismatch(t *testing.T) {
	e := newEnv(t, 1000000)

	res, err := e.proc.Submit(context.Background(), "123456789012", "Health_Scheme", decimal.NewFromInt(4999))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if res.Approved {
		t.Fatal("Expected denial for amount mismatch")
	}
	if res.Message != "Transaction Amount Mismatch" {
		t.Errorf("Expected amount-mismatch reason, got %q", res.Message)
	}
}

func TestSubmitClaimRecordFailureKeepsLedgerEntry(t *testing.T) {
	e := newEnv(t, 1000000)
	e.store.recordClaimErr = errors.New("registry unavailable")

	_, err := e.proc.Submit(context.Background(), "123456789012", "Health_Scheme", decimal.NewFromInt(5000))
	if err == nil {
		t.Fatal("Expected error when claim recording fails")
	}

	// The ledger entry committed before the claim update failed; the error
	// must say so and name the entry.
	if len(e.store.entries) != 1 {
		t.Fatalf("Expected committed ledger entry, got %d", len(e.store.entries))
	}
	if !strings.Contains(err.Error(), hash.Truncate(e.store.entries[0].CurrentHash, 16)) {
		t.Errorf("Error should identify the committed entry, got %v", err)
	}
}

func TestSubmitTamperedLedgerFreezesSystem(t *testing.T) {
	e := newEnv(t, 1000000)
	ctx := context.Background()

	if _, err := e.proc.Submit(ctx, "123456789012", "Health_Scheme", decimal.NewFromInt(5000)); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// Rewrite the disbursed amount behind the ledger's back.
	e.store.entries[0].Amount = decimal.NewFromInt(99999)

	rec := e.store.citizens["123456789012"]
	rec.LastClaimDate = time.Now().AddDate(0, 0, -45).Format(citizen.DateFormat)
	rec.ClaimCount = 0
	e.store.citizens["123456789012"] = rec

	res, err := e.proc.Submit(ctx, "123456789012", "Health_Scheme", decimal.NewFromInt(5000))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if res.Approved || res.Gate != GateIntegrity {
		t.Errorf("Expected integrity abort, got %+v", res)
	}
	if e.st.Current() != status.Frozen {
		t.Errorf("Expected FROZEN status, got %s", e.st.Current())
	}

	// All subsequent calls are blocked before touching the ledger.
	res, err = e.proc.Submit(ctx, "123456789012", "Health_Scheme", decimal.NewFromInt(5000))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.Gate != GateSystem {
		t.Errorf("Expected system-blocked abort, got %+v", res)
	}
	if res.Message != "System is FROZEN. Transaction Blocked." {
		t.Errorf("Unexpected block message %q", res.Message)
	}
}

func TestSubmitBudgetExhaustionLocksSystem(t *testing.T) {
	// Initial budget covers exactly one disbursement.
	e := newEnv(t, 5000)
	ctx := context.Background()

	res, err := e.proc.Submit(ctx, "123456789012", "Health_Scheme", decimal.NewFromInt(5000))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !res.Approved {
		t.Fatalf("Expected approval, got %+v", res)
	}
	if !res.RemainingBudget.IsZero() {
		t.Errorf("Expected remaining budget 0, got %s", res.RemainingBudget)
	}
	if e.st.Current() != status.Locked {
		t.Errorf("Exact exhaustion should lock the system, got %s", e.st.Current())
	}

	// Another otherwise-eligible citizen is now rejected up front.
	e.store.citizens["987654321098"] = citizen.Record{
		CitizenID:         "987654321098",
		Name:              "Priya Patel",
		AccountStatus:     "Active",
		AadhaarLinked:     true,
		SchemeEligibility: "Education_Scheme",
		SchemeAmount:      decimal.NewFromInt(10000),
		LastClaimDate:     time.Now().AddDate(0, 0, -60).Format(citizen.DateFormat),
	}

	res, err = e.proc.Submit(ctx, "987654321098", "Education_Scheme", decimal.NewFromInt(10000))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.Gate != GateSystem {
		t.Errorf("Expected system-blocked abort, got %+v", res)
	}
	if len(e.store.entries) != 1 {
		t.Error("Blocked transaction must not touch the ledger")
	}
}

func TestStatus(t *testing.T) {
	e := newEnv(t, 1000000)
	ctx := context.Background()

	st, err := e.proc.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !st.LedgerIntegrity || st.State != status.Active {
		t.Errorf("Expected healthy status, got %+v", st)
	}
	if !st.RemainingBudget.Equal(decimal.NewFromInt(1000000)) {
		t.Errorf("Expected full budget, got %s", st.RemainingBudget)
	}

	if _, err := e.proc.Submit(ctx, "123456789012", "Health_Scheme", decimal.NewFromInt(5000)); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	e.store.entries[0].SchemeID = "Housing_Scheme"

	st, err = e.proc.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.LedgerIntegrity {
		t.Error("Expected integrity failure after tampering")
	}
	if st.State != status.Frozen {
		t.Errorf("Status check on tampered ledger should freeze the system, got %s", st.State)
	}
}
