package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/janvault/janvault/internal/citizen"
	"github.com/janvault/janvault/internal/gates"
	"github.com/janvault/janvault/internal/ledger"
	"github.com/janvault/janvault/internal/processor"
	"github.com/janvault/janvault/internal/scheme"
)

func init() {
	// Amounts go over the wire as JSON numbers, matching the stored canonical
	// representation.
	decimal.MarshalJSONWithoutQuotes = true
}

// Server is the JSON transport collaborator. It owns no disbursement policy:
// every decision is delegated to the processor and registry.
type Server struct {
	processor *processor.Processor
	registry  *citizen.Registry
	ledger    *ledger.Ledger
	catalog   *scheme.Catalog
	logger    *zap.Logger
}

func New(proc *processor.Processor, registry *citizen.Registry, led *ledger.Ledger, catalog *scheme.Catalog, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		processor: proc,
		registry:  registry,
		ledger:    led,
		catalog:   catalog,
		logger:    logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/process", s.handleProcess)
	r.Get("/ledger", s.handleLedger)
	r.Get("/citizens", s.handleListCitizens)
	r.Post("/citizens", s.handleUpsertCitizen)
	r.Get("/status", s.handleStatus)

	return r
}

type processRequest struct {
	CitizenID string  `json:"citizen_id"`
	Scheme    string  `json:"scheme"`
	Amount    float64 `json:"amount"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": "Invalid request body",
		})
		return
	}

	expected, ok := s.catalog.AuthorizedAmount(req.Scheme)
	if !ok {
		s.writeJSON(w, http.StatusOK, &processor.Result{
			Gate:    gates.GateEligibility,
			Message: "Unsupported scheme",
		})
		return
	}

	// A submitted amount is checked against the catalog up front; the
	// processor is always handed the authorized amount.
	if req.Amount != 0 && !scheme.WithinTolerance(decimal.NewFromFloat(req.Amount), expected) {
		s.writeJSON(w, http.StatusOK, &processor.Result{
			Gate:    gates.GateEligibility,
			Message: "Amount does not match authorized scheme value",
		})
		return
	}

	result, err := s.processor.Submit(r.Context(), req.CitizenID, req.Scheme, expected)
	if err != nil {
		s.internalError(w, "process transaction", err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	views, err := s.ledger.ListRecent(r.Context())
	if err != nil {
		s.internalError(w, "list ledger", err)
		return
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleListCitizens(w http.ResponseWriter, r *http.Request) {
	records, err := s.registry.List(r.Context())
	if err != nil {
		s.internalError(w, "list citizens", err)
		return
	}
	if records == nil {
		records = []citizen.Record{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

type citizenPayload struct {
	CitizenID         string  `json:"citizen_id"`
	Name              string  `json:"name"`
	AccountStatus     string  `json:"account_status"`
	AadhaarLinked     bool    `json:"aadhaar_linked"`
	SchemeEligibility string  `json:"scheme_eligibility"`
	SchemeAmount      float64 `json:"scheme_amount"`
	ClaimCount        int     `json:"claim_count"`
	LastClaimDate     string  `json:"last_claim_date"`
}

func (s *Server) handleUpsertCitizen(w http.ResponseWriter, r *http.Request) {
	var payload citizenPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": "Invalid request body",
		})
		return
	}

	record := &citizen.Record{
		CitizenID:         payload.CitizenID,
		Name:              payload.Name,
		AccountStatus:     payload.AccountStatus,
		AadhaarLinked:     payload.AadhaarLinked,
		SchemeEligibility: payload.SchemeEligibility,
		SchemeAmount:      decimal.NewFromFloat(payload.SchemeAmount),
		ClaimCount:        payload.ClaimCount,
		LastClaimDate:     payload.LastClaimDate,
	}

	err := s.registry.Upsert(r.Context(), record)
	var ve *citizen.ValidationError
	if errors.As(err, &ve) {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": ve.Error(),
		})
		return
	}
	if err != nil {
		s.internalError(w, "upsert citizen", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Citizen saved successfully",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.processor.Status(r.Context())
	if err != nil {
		s.internalError(w, "system status", err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("request failed", zap.String("op", op), zap.Error(err))
	s.writeJSON(w, http.StatusInternalServerError, map[string]any{
		"success": false,
		"message": "Internal error",
	})
}
