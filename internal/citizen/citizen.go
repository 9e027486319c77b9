package citizen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/janvault/janvault/internal/scheme"
)

// DateFormat is the calendar-date layout used for last_claim_date.
const DateFormat = "2006-01-02"

const citizenIDLength = 12

// ErrNotFound is returned when no record exists for a citizen ID.
var ErrNotFound = errors.New("citizen not found")

// Record is one citizen's eligibility state. One record per citizen ID,
// written by the administrative path and mutated by the processor only
// through RecordClaim.
type Record struct {
	CitizenID         string          `json:"citizen_id"`
	Name              string          `json:"name"`
	AccountStatus     string          `json:"account_status"`
	AadhaarLinked     bool            `json:"aadhaar_linked"`
	SchemeEligibility string          `json:"scheme_eligibility"`
	SchemeAmount      decimal.Decimal `json:"scheme_amount"`
	ClaimCount        int             `json:"claim_count"`
	LastClaimDate     string          `json:"last_claim_date"`
}

// ValidationError reports a malformed field on the registry write path. It is
// rejected before any gate runs and causes no state change.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Store is the persistence contract for citizen records.
type Store interface {
	GetCitizen(ctx context.Context, citizenID string) (*Record, error)
	UpsertCitizen(ctx context.Context, record *Record) error
	ListCitizens(ctx context.Context) ([]Record, error)
	RecordClaim(ctx context.Context, citizenID, claimDate string) error
}

// Registry provides validated read/write access to citizen records.
type Registry struct {
	store   Store
	catalog *scheme.Catalog
	now     func() time.Time
}

func NewRegistry(store Store, catalog *scheme.Catalog) *Registry {
	return &Registry{store: store, catalog: catalog, now: time.Now}
}

func (r *Registry) Get(ctx context.Context, citizenID string) (*Record, error) {
	return r.store.GetCitizen(ctx, citizenID)
}

func (r *Registry) List(ctx context.Context) ([]Record, error) {
	return r.store.ListCitizens(ctx)
}

// Upsert validates and writes a record. It is the administrative write path
// only; the disbursement path never goes through it.
func (r *Registry) Upsert(ctx context.Context, record *Record) error {
	normalized, err := r.validate(record)
	if err != nil {
		return err
	}
	return r.store.UpsertCitizen(ctx, normalized)
}

// RecordClaim increments the claim count and stamps the claim date. Invoked
// by the processor only after an approved disbursement.
func (r *Registry) RecordClaim(ctx context.Context, citizenID string, date time.Time) error {
	return r.store.RecordClaim(ctx, citizenID, date.Format(DateFormat))
}

func (r *Registry) validate(record *Record) (*Record, error) {
	out := *record

	out.CitizenID = strings.TrimSpace(out.CitizenID)
	if len(out.CitizenID) != citizenIDLength || !isDigits(out.CitizenID) {
		return nil, &ValidationError{Field: "citizen_id", Message: "must be a 12 digit number"}
	}

	out.Name = strings.TrimSpace(out.Name)
	if out.Name == "" {
		return nil, &ValidationError{Field: "name", Message: "is required"}
	}

	out.AccountStatus = strings.TrimSpace(out.AccountStatus)
	if out.AccountStatus == "" {
		out.AccountStatus = "Active"
	}

	out.SchemeEligibility = strings.TrimSpace(out.SchemeEligibility)
	if out.SchemeEligibility == "" {
		return nil, &ValidationError{Field: "scheme_eligibility", Message: "is required"}
	}

	if out.SchemeAmount.Sign() <= 0 {
		return nil, &ValidationError{Field: "scheme_amount", Message: "must be greater than zero"}
	}

	authorized, ok := r.catalog.AuthorizedAmount(out.SchemeEligibility)
	if !ok {
		return nil, &ValidationError{Field: "scheme_eligibility", Message: fmt.Sprintf("unsupported scheme: %s", out.SchemeEligibility)}
	}
	if !scheme.WithinTolerance(out.SchemeAmount, authorized) {
		return nil, &ValidationError{
			Field:   "scheme_amount",
			Message: fmt.Sprintf("must be Rs. %s for %s", authorized.String(), out.SchemeEligibility),
		}
	}

	if out.ClaimCount < 0 {
		return nil, &ValidationError{Field: "claim_count", Message: "cannot be negative"}
	}

	// Malformed optional date is the one locally recovered input: absent
	// dates default to today.
	out.LastClaimDate = strings.TrimSpace(out.LastClaimDate)
	if out.LastClaimDate == "" {
		out.LastClaimDate = r.now().Format(DateFormat)
	} else if _, err := time.Parse(DateFormat, out.LastClaimDate); err != nil {
		return nil, &ValidationError{Field: "last_claim_date", Message: "must be in YYYY-MM-DD format"}
	}

	return &out, nil
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}
