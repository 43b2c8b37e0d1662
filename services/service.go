package services

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/go-chi/chi/v5"

	"github.com/ruteri/portfolio-oracle/oracle"
	"github.com/ruteri/portfolio-oracle/protocol"
)

var (
	submissionsAccepted  = metrics.NewCounter(`portfolio_submissions_accepted_total`)
	submissionsRejected  = metrics.NewCounter(`portfolio_submissions_rejected_total`)
	decryptionsRequested = metrics.NewCounter(`portfolio_decryption_requests_total`)
	decryptionsPublished = metrics.NewCounter(`portfolio_decryption_results_published_total`)
	callbacksRejected    = metrics.NewCounter(`portfolio_oracle_callbacks_rejected_total`)
)

// Service exposes a protocol ledger over HTTP.
type Service struct {
	ledger   *protocol.Ledger
	store    ResultStore
	verifier *oracle.Verifier
	cfg      *ServiceConfig
	log      *slog.Logger
}

// NewService creates the protocol HTTP service. The verifier holds the
// trusted oracle identity used for callback sender verification; it is
// shared with the ledger's oracle client so a verified re-registration
// updates both.
func NewService(ledger *protocol.Ledger, store ResultStore, verifier *oracle.Verifier, cfg *ServiceConfig) (*Service, error) {
	if ledger == nil {
		return nil, errors.New("ledger cannot be nil")
	}
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if verifier == nil {
		return nil, errors.New("verifier cannot be nil")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Service{ledger: ledger, store: store, verifier: verifier, cfg: cfg, log: log}, nil
}

// RegisterRoutes registers all protocol routes.
func (s *Service) RegisterRoutes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(s.adminAuth)
		r.Post("/owner", s.handleSetOwner)
		r.Post("/providers", s.handleAddProvider)
		r.Delete("/providers/{address}", s.handleRemoveProvider)
		r.Post("/pause", s.handleSetPaused)
		r.Post("/cooldown", s.handleSetCooldown)
		r.Post("/rounds/open", s.handleOpenRound)
		r.Post("/rounds/close", s.handleCloseRound)
		r.Post("/rounds/{round}/decrypt", s.handleRequestDecryption)
		r.Post("/oracle", s.handleRegisterOracle)
	})

	r.Post("/submit", s.handleSubmit)
	r.Post("/oracle/callback", s.handleOracleCallback)

	r.Get("/rounds/current", s.handleCurrentRound)
	r.Get("/rounds/{round}", s.handleRoundStatus)
	r.Get("/results/{round}", s.handleResult)
}

// adminAuth guards the admin surface with basic auth against the configured
// admin token. Authenticated admin calls act as the ledger owner.
func (s *Service) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken == "" {
			http.Error(w, "admin surface disabled", http.StatusForbidden)
			return
		}
		wantUser, wantPass := parseAdminToken(s.cfg.AdminToken)
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(wantUser)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(wantPass)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func parseAdminToken(token string) (user, pass string) {
	idx := strings.Index(token, ":")
	if idx < 0 {
		return token, ""
	}
	return token[:idx], token[idx+1:]
}

func (s *Service) handleSetOwner(w http.ResponseWriter, r *http.Request) {
	var req setOwnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.runAsOwner(w, func(owner protocol.Address) error {
		return s.ledger.SetOwner(owner, protocol.Address(req.NewOwner))
	})
}

func (s *Service) handleAddProvider(w http.ResponseWriter, r *http.Request) {
	var req providerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.runAsOwner(w, func(owner protocol.Address) error {
		return s.ledger.AddProvider(owner, protocol.Address(req.Address))
	})
}

func (s *Service) handleRemoveProvider(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "address")
	s.runAsOwner(w, func(owner protocol.Address) error {
		return s.ledger.RemoveProvider(owner, protocol.Address(addr))
	})
}

func (s *Service) handleSetPaused(w http.ResponseWriter, r *http.Request) {
	var req setPausedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.runAsOwner(w, func(owner protocol.Address) error {
		return s.ledger.SetPaused(owner, req.Paused)
	})
}

func (s *Service) handleSetCooldown(w http.ResponseWriter, r *http.Request) {
	var req setCooldownRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.runAsOwner(w, func(owner protocol.Address) error {
		return s.ledger.SetCooldown(owner, time.Duration(req.Seconds)*time.Second)
	})
}

// runAsOwner executes an owner-gated ledger call and writes a json status.
func (s *Service) runAsOwner(w http.ResponseWriter, fn func(owner protocol.Address) error) {
	if err := fn(s.ledger.Owner()); err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

func (s *Service) handleOpenRound(w http.ResponseWriter, r *http.Request) {
	round, err := s.ledger.OpenNewRound(s.ledger.Owner())
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	writeJSON(w, &RoundOpenedResponse{Round: round})
}

func (s *Service) handleCloseRound(w http.ResponseWriter, r *http.Request) {
	s.runAsOwner(w, s.ledger.CloseCurrentRound)
}

func (s *Service) handleRequestDecryption(w http.ResponseWriter, r *http.Request) {
	round, err := parseRoundParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	requestID, err := s.ledger.RequestDecryption(r.Context(), s.ledger.Owner(), round)
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}

	decryptionsRequested.Inc()
	writeJSON(w, &DecryptionRequestedResponse{RequestID: requestID})
}

func (s *Service) handleRegisterOracle(w http.ResponseWriter, r *http.Request) {
	var signed protocol.Signed[oracle.Registration]
	if err := json.NewDecoder(r.Body).Decode(&signed); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	reg, err := oracle.VerifyRegistration(s.cfg.AttestationProvider, &signed)
	if err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	s.verifier.SetPublicKey(signed.PublicKey)
	s.log.Info("oracle identity registered", "publicKey", reg.PublicKey, "endpoint", reg.Endpoint)
	writeJSON(w, map[string]bool{"success": true})
}

func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var signed protocol.Signed[SubmissionRequest]
	if err := json.NewDecoder(r.Body).Decode(&signed); err != nil {
		submissionsRejected.Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	req, signer, err := signed.Recover()
	if err != nil {
		submissionsRejected.Inc()
		http.Error(w, "invalid submission signature", http.StatusForbidden)
		return
	}

	provider := protocol.Address(signer.String())
	round := s.ledger.CurrentRound()
	if err := s.ledger.Submit(provider, &req.Update); err != nil {
		submissionsRejected.Inc()
		http.Error(w, err.Error(), httpStatus(err))
		return
	}

	submissionsAccepted.Inc()
	if err := s.store.SaveSubmission(&SubmissionRecord{
		Round:       round,
		Provider:    provider,
		SubmittedAt: time.Now(),
	}); err != nil {
		s.log.Error("could not persist submission record", "provider", provider, "err", err)
	}

	writeJSON(w, &SubmissionResponse{Round: round})
}

func (s *Service) handleOracleCallback(w http.ResponseWriter, r *http.Request) {
	var signed protocol.Signed[oracle.DecryptionResult]
	if err := json.NewDecoder(r.Body).Decode(&signed); err != nil {
		callbacksRejected.Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, signer, err := signed.Recover()
	if err != nil {
		callbacksRejected.Inc()
		http.Error(w, "invalid callback signature", http.StatusForbidden)
		return
	}

	// Only the trusted oracle identity may reach the callback entry point.
	if !signer.Equal(s.verifier.PublicKey()) {
		callbacksRejected.Inc()
		http.Error(w, "caller is not the trusted oracle", http.StatusForbidden)
		return
	}

	published, err := s.ledger.OnDecryptionCallback(result.RequestID, result.Cleartexts, result.Proof)
	if err != nil {
		callbacksRejected.Inc()
		http.Error(w, err.Error(), httpStatus(err))
		return
	}

	decryptionsPublished.Inc()
	if err := s.store.SaveResult(published); err != nil {
		s.log.Error("could not persist round result", "round", published.Round, "err", err)
	}

	writeJSON(w, map[string]bool{"success": true})
}

func (s *Service) handleCurrentRound(w http.ResponseWriter, r *http.Request) {
	round := s.ledger.CurrentRound()
	writeJSON(w, s.roundStatus(round))
}

func (s *Service) handleRoundStatus(w http.ResponseWriter, r *http.Request) {
	round, err := parseRoundParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if round > s.ledger.CurrentRound() {
		http.Error(w, "round does not exist", http.StatusNotFound)
		return
	}
	writeJSON(w, s.roundStatus(round))
}

func (s *Service) handleResult(w http.ResponseWriter, r *http.Request) {
	round, err := parseRoundParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, ok := s.ledger.Result(round)
	if !ok {
		http.Error(w, "no published result for round", http.StatusNotFound)
		return
	}
	writeJSON(w, result)
}

func (s *Service) roundStatus(round protocol.RoundID) *RoundStatusResponse {
	_, published := s.ledger.Result(round)
	return &RoundStatusResponse{
		Round:           round,
		Current:         round == s.ledger.CurrentRound(),
		Closed:          s.ledger.RoundClosed(round),
		HasAggregates:   s.ledger.HasAggregates(round),
		ResultPublished: published,
	}
}

func parseRoundParam(r *http.Request) (protocol.RoundID, error) {
	raw := chi.URLParam(r, "round")
	round, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errors.New("invalid round id")
	}
	return protocol.RoundID(round), nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// httpStatus maps the protocol's typed errors onto HTTP statuses.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, protocol.ErrNotOwner),
		errors.Is(err, protocol.ErrNotProvider),
		errors.Is(err, protocol.ErrInvalidProof):
		return http.StatusForbidden
	case errors.Is(err, protocol.ErrPaused),
		errors.Is(err, protocol.ErrRoundClosedOrInvalid),
		errors.Is(err, protocol.ErrAlreadyClosedOrInvalid),
		errors.Is(err, protocol.ErrStateMismatch),
		errors.Is(err, protocol.ErrReplayAttempt):
		return http.StatusConflict
	case errors.Is(err, protocol.ErrCooldownActive):
		return http.StatusTooManyRequests
	case errors.Is(err, protocol.ErrNotInitialized):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}
