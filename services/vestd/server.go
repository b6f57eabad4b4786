package vestd

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"vestvault/crypto"
	nativecommon "vestvault/native/common"
	"vestvault/native/sale"
	"vestvault/native/token"
	"vestvault/observability"
	"vestvault/services/vestd/recon"
	"vestvault/services/vestd/registry"
)

const maxRequestBody = 1 << 20

// Server exposes the custody engine over an authenticated HTTP API. All
// engine calls are serialised through a single mutex; the engine itself
// assumes one writer.
type Server struct {
	engine  *sale.Engine
	ledger  *token.Ledger
	pauses  *nativecommon.Pauses
	journal *Journal
	hub     *EventHub
	auth    *Authenticator
	logger  *slog.Logger
	metrics *observability.SaleMetrics

	engineMu sync.Mutex

	rateCfg  RateConfig
	rateMu   sync.Mutex
	limiters map[string]*rate.Limiter

	registry *registry.Registry
	reporter *recon.Reporter
}

// NewServer wires the HTTP surface around an initialised engine.
func NewServer(engine *sale.Engine, ledger *token.Ledger, pauses *nativecommon.Pauses, journal *Journal, hub *EventHub, auth *Authenticator, rateCfg RateConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:   engine,
		ledger:   ledger,
		pauses:   pauses,
		journal:  journal,
		hub:      hub,
		auth:     auth,
		logger:   logger,
		metrics:  observability.Metrics(),
		rateCfg:  rateCfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Use(s.rateLimit)

		r.Get("/ws/events", s.hub.ServeHTTP)

		r.Route("/v1", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Get("/commitments/{address}", s.handleCommitmentGet)
			r.Post("/commitments", s.handleCommitmentSet)
			r.Post("/sale/extend", s.handleExtendSale)
			r.Post("/vesting/start", s.handleStartVesting)
			r.Post("/buy", s.handleBuy)
			r.Post("/redeem", s.handleRedeem)
			r.Post("/forward", s.handleForward)
			r.Post("/sweep", s.handleSweep)
			r.Post("/roles/administrator/propose", s.handleProposeAdministrator)
			r.Post("/roles/administrator/accept", s.handleAcceptAdministrator)
			r.Post("/roles/governance/propose", s.handleProposeGovernance)
			r.Post("/roles/governance/accept", s.handleAcceptGovernance)
			r.Post("/pauses", s.handleSetPaused)

			r.Post("/counterparties", s.handleCounterpartyCreate)
			r.Get("/counterparties", s.handleCounterpartyList)
			r.Get("/counterparties/{id}", s.handleCounterpartyGet)
			r.Post("/counterparties/{id}/grants", s.handleGrantCreate)
			r.Post("/reports", s.handleReport)
		})
	})

	return otelhttp.NewHandler(r, "vestd")
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, _ := CallerFromContext(r.Context())
		if !s.obtainLimiter(hex.EncodeToString(caller[:])).Allow() {
			writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) obtainLimiter(id string) *rate.Limiter {
	s.rateMu.Lock()
	defer s.rateMu.Unlock()
	if limiter, ok := s.limiters[id]; ok {
		return limiter
	}
	perSecond := s.rateCfg.RequestsPerMinute / 60.0
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := s.rateCfg.Burst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	s.limiters[id] = limiter
	return limiter
}

type commitmentRequest struct {
	Holder string `json:"holder"`
	Amount string `json:"amount"`
}

type extendRequest struct {
	Deadline int64 `json:"deadline"`
}

type vestingRequest struct {
	Unlock int64 `json:"unlock"`
}

type amountRequest struct {
	// Amount is optional for buy under the allocation-draw policy and for
	// permissionless forwarding.
	Amount string `json:"amount,omitempty"`
}

type sweepRequest struct {
	Symbol string `json:"symbol"`
}

type roleRequest struct {
	Successor string `json:"successor"`
}

type pauseRequest struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

type purchaseResponse struct {
	Buyer   string `json:"buyer"`
	Payment string `json:"payment"`
	Reward  string `json:"reward"`
	Shares  string `json:"shares"`
	At      int64  `json:"at"`
}

type redemptionResponse struct {
	Holder string `json:"holder"`
	Shares string `json:"shares"`
	Assets string `json:"assets,omitempty"`
	Mode   string `json:"mode"`
	At     int64  `json:"at"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.engineMu.Lock()
	phases, err := s.engine.Phases()
	if err != nil {
		s.engineMu.Unlock()
		writeEngineError(w, err)
		return
	}
	roles, err := s.engine.Roles()
	if err != nil {
		s.engineMu.Unlock()
		writeEngineError(w, err)
		return
	}
	cfg := s.engine.Config()
	proceeds, err := s.ledger.BalanceOf(cfg.PaymentSymbol, cfg.ModuleAddress)
	s.engineMu.Unlock()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"phases": map[string]int64{
			"sale_deadline":  phases.SaleDeadline,
			"vesting_unlock": phases.VestingUnlock,
			"sweep_unlock":   phases.SweepUnlock,
		},
		"roles": map[string]string{
			"administrator":         bech32Addr(roles.Administrator),
			"pending_administrator": bech32Addr(roles.PendingAdministrator),
			"governance":            bech32Addr(roles.Governance),
			"pending_governance":    bech32Addr(roles.PendingGovernance),
		},
		"policy":      cfg.Policy.String(),
		"redeem_mode": cfg.RedeemMode.String(),
		"proceeds":    proceeds.String(),
		"pauses": map[string]bool{
			sale.ModuleBuy:     s.pauses.IsPaused(sale.ModuleBuy),
			sale.ModuleRedeem:  s.pauses.IsPaused(sale.ModuleRedeem),
			sale.ModuleForward: s.pauses.IsPaused(sale.ModuleForward),
		},
	})
}

func (s *Server) handleCommitmentGet(w http.ResponseWriter, r *http.Request) {
	holder, err := crypto.DecodeAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.engineMu.Lock()
	amount, err := s.engine.CommitmentOf(holder.Array())
	s.engineMu.Unlock()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"holder": holder.String(),
		"amount": amount.String(),
	})
}

func (s *Server) handleCommitmentSet(w http.ResponseWriter, r *http.Request) {
	s.mutating(w, r, "sale.set_commitment", func(caller [20]byte, body []byte) (int, any, error) {
		var req commitmentRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return http.StatusBadRequest, nil, err
		}
		holder, err := crypto.DecodeAddress(req.Holder)
		if err != nil {
			return http.StatusBadRequest, nil, err
		}
		amount, err := parseAmount(req.Amount)
		if err != nil {
			return http.StatusBadRequest, nil, err
		}
		if err := s.engine.SetCommitment(caller, holder.Array(), amount); err != nil {
			return 0, nil, err
		}
		s.record("sale.set_commitment", caller, holder.String(), amount.String(), "")
		return http.StatusOK, map[string]string{"holder": holder.String(), "amount": amount.String()}, nil
	})
}

func (s *Server) handleExtendSale(w http.ResponseWriter, r *http.Request) {
	s.mutating(w, r, "sale.extend", func(caller [20]byte, body []byte) (int, any, error) {
		var req extendRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return http.StatusBadRequest, nil, err
		}
		if err := s.engine.ExtendSale(caller, req.Deadline); err != nil {
			return 0, nil, err
		}
		s.record("sale.extend", caller, "", "", time.Unix(req.Deadline, 0).UTC().Format(time.RFC3339))
		return http.StatusOK, map[string]int64{"deadline": req.Deadline}, nil
	})
}

func (s *Server) handleStartVesting(w http.ResponseWriter, r *http.Request) {
	s.mutating(w, r, "sale.start_vesting", func(caller [20]byte, body []byte) (int, any, error) {
		var req vestingRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return http.StatusBadRequest, nil, err
		}
		if err := s.engine.StartVesting(caller, req.Unlock); err != nil {
			return 0, nil, err
		}
		s.record("sale.start_vesting", caller, "", "", time.Unix(req.Unlock, 0).UTC().Format(time.RFC3339))
		return http.StatusOK, map[string]int64{"unlock": req.Unlock}, nil
	})
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	s.mutating(w, r, sale.ModuleBuy, func(caller [20]byte, body []byte) (int, any, error) {
		var req amountRequest
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				return http.StatusBadRequest, nil, err
			}
		}
		amount, err := parseOptionalAmount(req.Amount)
		if err != nil {
			return http.StatusBadRequest, nil, err
		}
		purchase, err := s.engine.Buy(caller, amount)
		if err != nil {
			return 0, nil, err
		}
		s.metrics.AddPurchased(purchase.PaymentAmount)
		s.record(sale.ModuleBuy, caller, "", purchase.PaymentAmount.String(), "shares="+purchase.Shares.String())
		return http.StatusOK, purchaseResponse{
			Buyer:   bech32Addr(purchase.Buyer),
			Payment: purchase.PaymentAmount.String(),
			Reward:  purchase.RewardAmount.String(),
			Shares:  purchase.Shares.String(),
			At:      purchase.At,
		}, nil
	})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	s.mutating(w, r, sale.ModuleRedeem, func(caller [20]byte, body []byte) (int, any, error) {
		var req amountRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return http.StatusBadRequest, nil, err
		}
		shares, err := parseAmount(req.Amount)
		if err != nil {
			return http.StatusBadRequest, nil, err
		}
		redemption, err := s.engine.Redeem(caller, shares)
		if err != nil {
			return 0, nil, err
		}
		s.metrics.AddRedeemed(redemption.Shares)
		resp := redemptionResponse{
			Holder: bech32Addr(redemption.Holder),
			Shares: redemption.Shares.String(),
			Mode:   redemption.Mode.String(),
			At:     redemption.At,
		}
		if redemption.Assets != nil {
			resp.Assets = redemption.Assets.String()
		}
		s.record(sale.ModuleRedeem, caller, "", redemption.Shares.String(), "mode="+resp.Mode)
		return http.StatusOK, resp, nil
	})
}

func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	s.mutating(w, r, sale.ModuleForward, func(caller [20]byte, body []byte) (int, any, error) {
		var req amountRequest
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				return http.StatusBadRequest, nil, err
			}
		}
		requested, err := parseOptionalAmount(req.Amount)
		if err != nil {
			return http.StatusBadRequest, nil, err
		}
		sent, err := s.engine.ForwardProceeds(caller, requested)
		if err != nil {
			return 0, nil, err
		}
		s.metrics.AddForwarded(sent)
		s.record(sale.ModuleForward, caller, "", sent.String(), "")
		return http.StatusOK, map[string]string{"forwarded": sent.String()}, nil
	})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	s.mutating(w, r, "sale.sweep", func(caller [20]byte, body []byte) (int, any, error) {
		var req sweepRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return http.StatusBadRequest, nil, err
		}
		symbol := strings.TrimSpace(req.Symbol)
		if symbol == "" {
			return http.StatusBadRequest, nil, errors.New("symbol required")
		}
		swept, err := s.engine.Sweep(caller, symbol)
		if err != nil {
			return 0, nil, err
		}
		s.record("sale.sweep", caller, symbol, swept.String(), "")
		return http.StatusOK, map[string]string{"symbol": symbol, "amount": swept.String()}, nil
	})
}

func (s *Server) handleProposeAdministrator(w http.ResponseWriter, r *http.Request) {
	s.handleRolePropose(w, r, "sale.propose_administrator", s.engine.ProposeAdministrator)
}

func (s *Server) handleProposeGovernance(w http.ResponseWriter, r *http.Request) {
	s.handleRolePropose(w, r, "sale.propose_governance", s.engine.ProposeGovernance)
}

func (s *Server) handleRolePropose(w http.ResponseWriter, r *http.Request, kind string, propose func(caller, successor [20]byte) error) {
	s.mutating(w, r, kind, func(caller [20]byte, body []byte) (int, any, error) {
		var req roleRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return http.StatusBadRequest, nil, err
		}
		successor, err := crypto.DecodeAddress(req.Successor)
		if err != nil {
			return http.StatusBadRequest, nil, err
		}
		if err := propose(caller, successor.Array()); err != nil {
			return 0, nil, err
		}
		s.record(kind, caller, successor.String(), "", "")
		return http.StatusOK, map[string]string{"successor": successor.String()}, nil
	})
}

func (s *Server) handleAcceptAdministrator(w http.ResponseWriter, r *http.Request) {
	s.handleRoleAccept(w, r, "sale.accept_administrator", s.engine.AcceptAdministrator)
}

func (s *Server) handleAcceptGovernance(w http.ResponseWriter, r *http.Request) {
	s.handleRoleAccept(w, r, "sale.accept_governance", s.engine.AcceptGovernance)
}

func (s *Server) handleRoleAccept(w http.ResponseWriter, r *http.Request, kind string, accept func(caller [20]byte) error) {
	s.mutating(w, r, kind, func(caller [20]byte, _ []byte) (int, any, error) {
		if err := accept(caller); err != nil {
			return 0, nil, err
		}
		s.record(kind, caller, "", "", "")
		return http.StatusOK, map[string]string{"holder": bech32Addr(caller)}, nil
	})
}

func (s *Server) handleSetPaused(w http.ResponseWriter, r *http.Request) {
	s.mutating(w, r, "sale.set_paused", func(caller [20]byte, body []byte) (int, any, error) {
		var req pauseRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return http.StatusBadRequest, nil, err
		}
		if err := s.engine.SetPaused(caller, req.Module, req.Paused); err != nil {
			return 0, nil, err
		}
		s.record("sale.set_paused", caller, req.Module, "", map[bool]string{true: "paused", false: "resumed"}[req.Paused])
		return http.StatusOK, map[string]any{"module": req.Module, "paused": req.Paused}, nil
	})
}

// mutating wraps a state-changing handler with idempotency replay, engine
// serialisation, and metrics.
func (s *Server) mutating(w http.ResponseWriter, r *http.Request, operation string, fn func(caller [20]byte, body []byte) (int, any, error)) {
	start := time.Now()
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errMissingBearer)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	subject := hex.EncodeToString(caller[:])
	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	requestHash := RequestHash(body)
	if idemKey != "" {
		status, stored, found, err := s.journal.LookupIdempotency(subject, idemKey, requestHash)
		if err != nil {
			if errors.Is(err, ErrIdempotencyMismatch) {
				writeError(w, http.StatusConflict, err)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if found {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write(stored)
			return
		}
	}

	s.engineMu.Lock()
	status, payload, err := fn(caller, body)
	s.engineMu.Unlock()

	s.metrics.Observe(operation, start, err, errClass(err))
	if err != nil {
		if status == 0 {
			status = statusFor(err)
		}
		s.logger.Warn("request failed", "operation", operation, "caller", subject, "error", err)
		writeError(w, status, err)
		return
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if idemKey != "" {
		if err := s.journal.StoreIdempotency(subject, idemKey, requestHash, status, encoded); err != nil {
			s.logger.Error("idempotency store failed", "operation", operation, "error", err)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(encoded)
}

func (s *Server) record(kind string, caller [20]byte, subject, amount, detail string) {
	if s.journal == nil {
		return
	}
	if _, err := s.journal.Record(Operation{
		Kind:    kind,
		Actor:   hex.EncodeToString(caller[:]),
		Subject: subject,
		Amount:  amount,
		Detail:  detail,
	}); err != nil {
		s.logger.Error("journal write failed", "kind", kind, "error", err)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, sale.ErrNotAdministrator),
		errors.Is(err, sale.ErrNotGovernance),
		errors.Is(err, sale.ErrNotPendingAdministrator),
		errors.Is(err, sale.ErrNotPendingGovernance):
		return http.StatusForbidden
	case errors.Is(err, sale.ErrAmountZero),
		errors.Is(err, sale.ErrAmountUnexpected),
		errors.Is(err, sale.ErrCommitmentMismatch),
		errors.Is(err, sale.ErrNoCommitment):
		return http.StatusBadRequest
	case errors.Is(err, sale.ErrSaleClosed),
		errors.Is(err, sale.ErrVestingNotStarted),
		errors.Is(err, sale.ErrVestingAlreadyStarted),
		errors.Is(err, sale.ErrSweepLocked),
		errors.Is(err, sale.ErrNothingToForward),
		errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errClass(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, sale.ErrNotAdministrator),
		errors.Is(err, sale.ErrNotGovernance),
		errors.Is(err, sale.ErrNotPendingAdministrator),
		errors.Is(err, sale.ErrNotPendingGovernance):
		return "unauthorized"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return "paused"
	case errors.Is(err, sale.ErrSaleClosed),
		errors.Is(err, sale.ErrVestingNotStarted),
		errors.Is(err, sale.ErrVestingAlreadyStarted),
		errors.Is(err, sale.ErrSweepLocked):
		return "phase"
	case errors.Is(err, sale.ErrAmountZero),
		errors.Is(err, sale.ErrAmountUnexpected),
		errors.Is(err, sale.ErrCommitmentMismatch),
		errors.Is(err, sale.ErrNoCommitment),
		errors.Is(err, sale.ErrNothingToForward):
		return "rejected"
	default:
		return "internal"
	}
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, errors.New("amount must be a non-negative decimal integer")
	}
	return amount, nil
}

func parseOptionalAmount(raw string) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return parseAmount(raw)
}

func bech32Addr(addr [20]byte) string {
	return crypto.NewAddress(crypto.VestPrefix, addr[:]).String()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeEngineError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}
