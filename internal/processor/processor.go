package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/janvault/janvault/internal/alert"
	"github.com/janvault/janvault/internal/citizen"
	"github.com/janvault/janvault/internal/gates"
	"github.com/janvault/janvault/internal/hash"
	"github.com/janvault/janvault/internal/ledger"
	"github.com/janvault/janvault/internal/status"
)

// Gate tags for the pre-gate abort steps.
const (
	GateSystem    = "system"
	GateIntegrity = "integrity"
	GateLookup    = "lookup"
)

// Result is the synchronous outcome of one disbursement request. Every abort
// carries a machine-readable gate tag and a human-readable message; nothing
// is retried.
type Result struct {
	Approved        bool             `json:"success"`
	Gate            string           `json:"gate,omitempty"`
	Message         string           `json:"message"`
	CitizenName     string           `json:"citizen_name,omitempty"`
	RemainingBudget *decimal.Decimal `json:"remaining_budget,omitempty"`
	EntryHash       string           `json:"transaction_hash,omitempty"`
}

// SystemStatus is the snapshot returned by Status.
type SystemStatus struct {
	RemainingBudget decimal.Decimal `json:"budget"`
	State           status.State    `json:"system_status"`
	LedgerIntegrity bool            `json:"ledger_integrity"`
}

// Processor runs a disbursement request through the full pipeline: status
// check, integrity check, citizen lookup, gates, then commit.
type Processor struct {
	ledger        *ledger.Ledger
	registry      *citizen.Registry
	pipeline      *gates.Pipeline
	status        *status.Holder
	initialBudget decimal.Decimal
	alerts        *alert.Manager
	logger        *zap.Logger
	now           func() time.Time
}

func New(l *ledger.Ledger, registry *citizen.Registry, pipeline *gates.Pipeline, st *status.Holder, initialBudget decimal.Decimal, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		ledger:        l,
		registry:      registry,
		pipeline:      pipeline,
		status:        st,
		initialBudget: initialBudget,
		logger:        logger,
		now:           time.Now,
	}
}

func (p *Processor) SetAlertManager(am *alert.Manager) {
	p.alerts = am
}

// RemainingBudget exposes the current budget headroom against the configured
// initial budget.
func (p *Processor) RemainingBudget(ctx context.Context) (decimal.Decimal, error) {
	return p.ledger.RemainingBudget(ctx, p.initialBudget)
}

// Submit processes one disbursement request end to end. Denials are normal
// results; the error return is reserved for storage failures.
func (p *Processor) Submit(ctx context.Context, citizenID, schemeID string, amount decimal.Decimal) (*Result, error) {
	if st := p.status.Current(); st != status.Active {
		return &Result{
			Gate:    GateSystem,
			Message: fmt.Sprintf("System is %s. Transaction Blocked.", st),
		}, nil
	}

	if err := p.ledger.Verify(ctx); err != nil {
		if !ledger.IsTamperError(err) {
			return nil, fmt.Errorf("integrity check failed: %w", err)
		}
		p.freeze(err)
		return &Result{
			Gate:    GateIntegrity,
			Message: "Ledger Tampering Detected. System Frozen.",
		}, nil
	}

	rec, err := p.registry.Get(ctx, citizenID)
	if errors.Is(err, citizen.ErrNotFound) {
		return &Result{Gate: GateLookup, Message: "Citizen Not Found"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("citizen lookup failed: %w", err)
	}

	decision, err := p.pipeline.Run(ctx, rec, schemeID, amount)
	if err != nil {
		return nil, err
	}
	if !decision.Approved {
		p.logger.Info("disbursement denied",
			zap.String("gate", decision.Gate),
			zap.String("reason", decision.Reason),
			zap.String("scheme", schemeID))
		return &Result{
			Gate:        decision.Gate,
			Message:     decision.Reason,
			CitizenName: rec.Name,
		}, nil
	}

	entry, err := p.ledger.Append(ctx, hash.Fingerprint(citizenID), schemeID, amount)
	if err != nil {
		return nil, err
	}

	if err := p.registry.RecordClaim(ctx, citizenID, p.now()); err != nil {
		// The appended entry stays: the ledger is the source of truth, and
		// the claim history can be reconciled from it.
		p.logger.Error("claim recording failed after ledger commit",
			zap.String("entry_hash", entry.CurrentHash),
			zap.Error(err))
		return nil, fmt.Errorf("failed to record claim (ledger entry %s committed): %w",
			hash.Truncate(entry.CurrentHash, 16), err)
	}

	remaining, err := p.ledger.RemainingBudget(ctx, p.initialBudget)
	if err != nil {
		return nil, err
	}
	if remaining.Sign() <= 0 {
		p.status.MarkLocked()
		p.logger.Warn("budget exhausted, system locked")
		if p.alerts != nil {
			_ = p.alerts.SendBudgetLockedAlert(remaining.String())
		}
	}

	p.logger.Info("disbursement approved",
		zap.String("scheme", schemeID),
		zap.String("amount", amount.String()),
		zap.String("entry_hash", entry.CurrentHash),
		zap.String("remaining_budget", remaining.String()))

	return &Result{
		Approved:        true,
		Message:         "Transaction Approved",
		CitizenName:     rec.Name,
		RemainingBudget: &remaining,
		EntryHash:       hash.Truncate(entry.CurrentHash, 16),
	}, nil
}

// Status reports the remaining budget, the system state and the current
// ledger integrity. The integrity flag is a full recomputation, and a failed
// one freezes the system just as a transaction would.
func (p *Processor) Status(ctx context.Context) (*SystemStatus, error) {
	integrity := true
	if err := p.ledger.Verify(ctx); err != nil {
		if !ledger.IsTamperError(err) {
			return nil, fmt.Errorf("integrity check failed: %w", err)
		}
		p.freeze(err)
		integrity = false
	}

	remaining, err := p.ledger.RemainingBudget(ctx, p.initialBudget)
	if err != nil {
		return nil, err
	}

	return &SystemStatus{
		RemainingBudget: remaining,
		State:           p.status.Current(),
		LedgerIntegrity: integrity,
	}, nil
}

func (p *Processor) freeze(err error) {
	p.status.MarkFrozen()
	p.logger.Error("ledger tampering detected, system frozen", zap.Error(err))
	if p.alerts != nil {
		var te *ledger.TamperError
		if errors.As(err, &te) {
			_ = p.alerts.SendTamperAlert(te.Sequence, te.Reason)
		}
	}
}
