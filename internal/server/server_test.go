package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/janvault/janvault/internal/citizen"
	"github.com/janvault/janvault/internal/gates"
	"github.com/janvault/janvault/internal/ledger"
	"github.com/janvault/janvault/internal/processor"
	"github.com/janvault/janvault/internal/scheme"
	"github.com/janvault/janvault/internal/status"
	"github.com/janvault/janvault/internal/storage"
)

func newTestServer(t *testing.T, initialBudget int64) (*Server, *storage.Storage) {
	t.Helper()

	store, err := storage.New(filepath.Join(t.TempDir(), "janvault.db"))
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	catalog := scheme.NewCatalog(scheme.DefaultAmounts())
	st := status.NewHolder()
	led := ledger.New(store)
	registry := citizen.NewRegistry(store, catalog)

	budget := decimal.NewFromInt(initialBudget)
	pipeline := gates.NewPipeline(catalog, func(ctx context.Context) (decimal.Decimal, error) {
		return led.RemainingBudget(ctx, budget)
	}, st, gates.DefaultPolicy())
	proc := processor.New(led, registry, pipeline, st, budget, nil)

	return New(proc, registry, led, catalog, nil), store
}

func seedCitizen(t *testing.T, store *storage.Storage) {
	t.Helper()

	err := store.UpsertCitizen(context.Background(), &citizen.Record{
		CitizenID:         "123456789012",
		Name:              "Rahul Sharma",
		AccountStatus:     "Active",
		AadhaarLinked:     true,
		SchemeEligibility: "Health_Scheme",
		SchemeAmount:      decimal.NewFromInt(5000),
		ClaimCount:        0,
		LastClaimDate:     time.Now().AddDate(0, 0, -45).Format(citizen.DateFormat),
	})
	if err != nil {
		t.Fatalf("Failed to seed citizen: %v", err)
	}
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		decoded = nil
	}
	return rec, decoded
}

func TestProcessApproved(t *testing.T) {
	srv, store := newTestServer(t, 1000000)
	seedCitizen(t, store)
	router := srv.Router()

	rec, body := doJSON(t, router, http.MethodPost, "/process", map[string]any{
		"citizen_id": "123456789012",
		"scheme":     "Health_Scheme",
		"amount":     5000,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if body["success"] != true {
		t.Fatalf("Expected approval, got %v", body)
	}
	if body["remaining_budget"].(float64) != 995000 {
		t.Errorf("Expected remaining budget 995000, got %v", body["remaining_budget"])
	}
	if body["transaction_hash"] == "" {
		t.Error("Expected truncated transaction hash in response")
	}
}

func TestProcessUnsupportedScheme(t *testing.T) {
	srv, store := newTestServer(t, 1000000)
	seedCitizen(t, store)

	_, body := doJSON(t, srv.Router(), http.MethodPost, "/process", map[string]any{
		"citizen_id": "123456789012",
		"scheme":     "Pension_Scheme",
		"amount":     5000,
	})

	if body["success"] != false || body["message"] != "Unsupported scheme" {
		t.Errorf("Expected unsupported-scheme rejection, got %v", body)
	}
}

func TestProcessAmountMismatch(t *testing.T) {
	srv, store := newTestServer(t, 1000000)
	seedCitizen(t, store)

	_, body := doJSON(t, srv.Router(), http.MethodPost, "/process", map[string]any{
		"citizen_id": "123456789012",
		"scheme":     "Health_Scheme",
		"amount":     4999,
	})

	if body["success"] != false {
		t.Fatalf("Expected rejection, got %v", body)
	}
	if body["gate"] != "eligibility" {
		t.Errorf("Expected eligibility gate tag, got %v", body["gate"])
	}
}

func TestLedgerListing(t *testing.T) {
	srv, store := newTestServer(t, 1000000)
	seedCitizen(t, store)
	router := srv.Router()

	doJSON(t, router, http.MethodPost, "/process", map[string]any{
		"citizen_id": "123456789012",
		"scheme":     "Health_Scheme",
		"amount":     5000,
	})

	req := httptest.NewRequest(http.MethodGet, "/ledger", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var views []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("Failed to decode ledger response: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("Expected 1 ledger view, got %d", len(views))
	}
	fp := views[0]["citizen_hash"].(string)
	if len(fp) != 15 {
		t.Errorf("Expected truncated fingerprint, got %q", fp)
	}
}

func TestCitizenUpsertAndList(t *testing.T) {
	srv, _ := newTestServer(t, 1000000)
	router := srv.Router()

	rec, body := doJSON(t, router, http.MethodPost, "/citizens", map[string]any{
		"citizen_id":         "111122223333",
		"name":               "Sita Devi",
		"account_status":     "Active",
		"aadhaar_linked":     false,
		"scheme_eligibility": "Health_Scheme",
		"scheme_amount":      5000,
		"claim_count":        0,
		"last_claim_date":    "2024-01-01",
	})
	if rec.Code != http.StatusOK || body["success"] != true {
		t.Fatalf("Expected successful upsert, got %d %v", rec.Code, body)
	}

	rec, body = doJSON(t, router, http.MethodPost, "/citizens", map[string]any{
		"citizen_id":    "badid",
		"name":          "Broken",
		"scheme_amount": 5000,
	})
	if rec.Code != http.StatusBadRequest || body["success"] != false {
		t.Fatalf("Expected 400 for invalid citizen, got %d %v", rec.Code, body)
	}

	req := httptest.NewRequest(http.MethodGet, "/citizens", nil)
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, req)

	var records []map[string]any
	if err := json.Unmarshal(listRec.Body.Bytes(), &records); err != nil {
		t.Fatalf("Failed to decode citizens response: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("Expected 1 citizen, got %d", len(records))
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, 1000000)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["system_status"] != "ACTIVE" {
		t.Errorf("Expected ACTIVE status, got %v", body["system_status"])
	}
	if body["ledger_integrity"] != true {
		t.Errorf("Expected ledger integrity true, got %v", body["ledger_integrity"])
	}
	if body["budget"].(float64) != 1000000 {
		t.Errorf("Expected budget 1000000, got %v", body["budget"])
	}
}
