package gates

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/janvault/janvault/internal/citizen"
	"github.com/janvault/janvault/internal/scheme"
	"github.com/janvault/janvault/internal/status"
)

// Gate tags surfaced to callers alongside denial reasons.
const (
	GateEligibility = "eligibility"
	GateBudget      = "budget"
	GateFrequency   = "frequency"
)

// Decision is the outcome of one gate or of the whole pipeline. A denial is a
// normal negative outcome, not an error; Reason is the user-visible message.
type Decision struct {
	Approved bool
	Gate     string
	Reason   string
}

func approved(gate, reason string) Decision {
	return Decision{Approved: true, Gate: gate, Reason: reason}
}

func denied(gate, reason string) Decision {
	return Decision{Approved: false, Gate: gate, Reason: reason}
}

// Policy holds the fixed gate constants.
type Policy struct {
	ClaimCeiling int
	CooldownDays int
}

func DefaultPolicy() Policy {
	return Policy{ClaimCeiling: 3, CooldownDays: 30}
}

// BudgetFunc reports the remaining budget at evaluation time.
type BudgetFunc func(ctx context.Context) (decimal.Decimal, error)

// Pipeline runs the approval gates in their canonical order: eligibility,
// then budget, then frequency. The order is policy: it decides which denial
// reason a citizen failing several gates will see.
type Pipeline struct {
	catalog *scheme.Catalog
	budget  BudgetFunc
	status  *status.Holder
	policy  Policy
	now     func() time.Time
}

func NewPipeline(catalog *scheme.Catalog, budget BudgetFunc, st *status.Holder, policy Policy) *Pipeline {
	return &Pipeline{
		catalog: catalog,
		budget:  budget,
		status:  st,
		policy:  policy,
		now:     time.Now,
	}
}

// Run evaluates the gates, short-circuiting on the first denial. The error
// return is reserved for storage failures while computing the budget.
func (p *Pipeline) Run(ctx context.Context, rec *citizen.Record, schemeID string, amount decimal.Decimal) (Decision, error) {
	if d := p.Eligibility(rec, schemeID, amount); !d.Approved {
		return d, nil
	}

	d, err := p.Budget(ctx, amount)
	if err != nil {
		return Decision{}, err
	}
	if !d.Approved {
		return d, nil
	}

	if d := p.Frequency(rec.LastClaimDate); !d.Approved {
		return d, nil
	}

	return approved("", "Approved"), nil
}

// Eligibility checks the citizen's standing against the requested scheme.
func (p *Pipeline) Eligibility(rec *citizen.Record, schemeID string, amount decimal.Decimal) Decision {
	if rec.AccountStatus != "Active" {
		return denied(GateEligibility, "Account Not Active")
	}

	if !rec.AadhaarLinked {
		return denied(GateEligibility, "Aadhaar Not Linked")
	}

	if rec.SchemeEligibility != schemeID {
		return denied(GateEligibility, "Scheme Not Eligible")
	}

	expected, ok := p.catalog.AuthorizedAmount(schemeID)
	if !ok {
		return denied(GateEligibility, "Unsupported Scheme")
	}

	if !scheme.WithinTolerance(rec.SchemeAmount, expected) {
		return denied(GateEligibility, "Registry Scheme Amount Mismatch")
	}

	if !scheme.WithinTolerance(amount, expected) {
		return denied(GateEligibility, "Transaction Amount Mismatch")
	}

	if rec.ClaimCount > p.policy.ClaimCeiling {
		return denied(GateEligibility, "Claim Limit Exceeded")
	}

	return approved(GateEligibility, "Eligible")
}

// Budget denies when the requested amount exceeds the remaining budget. Full
// exhaustion additionally locks the system: that transition, not the denial,
// is what blocks every later transaction.
func (p *Pipeline) Budget(ctx context.Context, amount decimal.Decimal) (Decision, error) {
	remaining, err := p.budget(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("budget gate: %w", err)
	}

	if remaining.Sign() <= 0 {
		p.status.MarkLocked()
		return denied(GateBudget, "Budget Exhausted. System Locked."), nil
	}

	if amount.GreaterThan(remaining) {
		return denied(GateBudget, "Insufficient Budget"), nil
	}

	return approved(GateBudget, "Budget Approved"), nil
}

// Frequency denies claims made within the cooldown window of the last one.
func (p *Pipeline) Frequency(lastClaimDate string) Decision {
	last, err := time.Parse(citizen.DateFormat, lastClaimDate)
	if err != nil {
		return denied(GateFrequency, "Invalid last claim date")
	}

	// Parse yields a UTC midnight; put the current time on the same basis so
	// the day count matches the calendar regardless of local zone.
	now := p.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	days := int(today.Sub(last).Hours() / 24)
	if days < p.policy.CooldownDays {
		return denied(GateFrequency, fmt.Sprintf("Claim within %d days not allowed (Last claim: %d days ago)", p.policy.CooldownDays, days))
	}

	return approved(GateFrequency, "Frequency OK")
}
