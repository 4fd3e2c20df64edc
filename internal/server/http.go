// Package server exposes the HTTP read and admin surfaces: query endpoints
// backed by the projection schema, admin event injection, a WebSocket feed
// of applied events, health probes, and Prometheus metrics.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"HedgeCore/internal/event"
	"HedgeCore/internal/ingestion"
	"HedgeCore/internal/observability"
	"HedgeCore/internal/projection"
	"HedgeCore/internal/query"
)

// QueryAPI is the read surface the HTTP handlers depend on. Both
// query.QueryService and query.CachedQueryService satisfy it.
type QueryAPI interface {
	GetPosition(ctx context.Context, positionID uuid.UUID) (*query.PositionResponse, error)
	GetHedgerPositions(ctx context.Context, hedger uuid.UUID, activeOnly bool) ([]query.PositionResponse, error)
	GetHedgerSummary(ctx context.Context, hedger uuid.UUID) (*query.HedgerSummary, error)
	GetBalance(ctx context.Context, accountPath string) (*query.BalanceResponse, error)
	GetYieldState(ctx context.Context) (*query.YieldStateResponse, error)
	GetDistributionHistory(ctx context.Context, limit int, afterSequence *int64) ([]query.DistributionHistoryResponse, error)
	GetJournalHistory(ctx context.Context, accountPrefix string, limit int, afterSequence *int64) ([]query.JournalHistoryEntry, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

// Deps holds everything the HTTP server needs.
type Deps struct {
	DB       *sql.DB
	Queries  QueryAPI
	Injector *ingestion.AdminInjector
	WSHub    *WSHub
	Health   *observability.HealthChecker
	APIKey   string
}

// Server wraps the chi router and the underlying http.Server.
type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
}

// NewServer builds the router and returns an unstarted server bound to addr.
func NewServer(addr string, deps *Deps) *Server {
	s := &Server{
		logger: observability.NewLogger("http"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", deps.Health.LivenessHandler)
	r.Get("/readyz", deps.Health.ReadinessHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ws", deps.WSHub.HandleWS)

		r.Get("/positions/{positionID}", s.getPosition(deps.Queries))
		r.Get("/hedgers/{hedgerID}/positions", s.getHedgerPositions(deps.Queries))
		r.Get("/hedgers/{hedgerID}/summary", s.getHedgerSummary(deps.Queries))
		r.Get("/balances/{accountPath}", s.getBalance(deps.Queries))
		r.Get("/yield", s.getYieldState(deps.Queries))
		r.Get("/yield/distributions", s.getDistributionHistory(deps.Queries))
		r.Get("/journal", s.getJournalHistory(deps.Queries))
		r.Get("/integrity", s.verifyIntegrity(deps.Queries))
	})

	r.Route("/admin/v1", func(r chi.Router) {
		r.Use(apiKeyAuth(deps.APIKey))

		r.Post("/rates", s.postRate(deps.Injector))
		r.Post("/vault/mint", s.postVaultMint(deps.Injector))
		r.Post("/vault/redeem", s.postVaultRedeem(deps.Injector))
		r.Post("/vault/redemption-debit", s.postRedemptionDebit(deps.Injector))
		r.Post("/depositors/deposit", s.postUserDeposit(deps.Injector))
		r.Post("/depositors/withdraw", s.postUserWithdraw(deps.Injector))
		r.Post("/yield/deposit", s.postYieldDeposit(deps.Injector))
		r.Post("/yield/distribute", s.postDistributionUpdate(deps.Injector))
		r.Post("/params", s.postParamUpdate(deps.Injector))
		r.Post("/emergency", s.postEmergency(deps.Injector))
		r.Post("/projections/rebuild", s.postRebuildProjections(deps.DB))
	})

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// apiKeyAuth rejects admin requests without the configured X-API-Key header.
// An empty configured key disables the check for local development.
func apiKeyAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key != "" && r.Header.Get("X-API-Key") != key {
				writeError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// parseAfter reads the optional ?after= cursor.
func parseAfter(r *http.Request) (*int64, bool) {
	raw := r.URL.Query().Get("after")
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, false
	}
	return &v, true
}

func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// --- Query handlers ---

func (s *Server) getPosition(q QueryAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "positionID"))
		if err != nil {
			writeError(w, "invalid position id", http.StatusBadRequest)
			return
		}
		pos, err := q.GetPosition(r.Context(), id)
		if err != nil {
			writeError(w, "query failed", http.StatusInternalServerError)
			return
		}
		if pos == nil {
			writeError(w, "position not found", http.StatusNotFound)
			return
		}
		writeJSON(w, pos)
	}
}

func (s *Server) getHedgerPositions(q QueryAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hedger, err := uuid.Parse(chi.URLParam(r, "hedgerID"))
		if err != nil {
			writeError(w, "invalid hedger id", http.StatusBadRequest)
			return
		}
		activeOnly := r.URL.Query().Get("active") == "true"
		positions, err := q.GetHedgerPositions(r.Context(), hedger, activeOnly)
		if err != nil {
			writeError(w, "query failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, positions)
	}
}

func (s *Server) getHedgerSummary(q QueryAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hedger, err := uuid.Parse(chi.URLParam(r, "hedgerID"))
		if err != nil {
			writeError(w, "invalid hedger id", http.StatusBadRequest)
			return
		}
		summary, err := q.GetHedgerSummary(r.Context(), hedger)
		if err != nil {
			writeError(w, "query failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, summary)
	}
}

func (s *Server) getBalance(q QueryAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := chi.URLParam(r, "accountPath")
		if path == "" {
			writeError(w, "account path required", http.StatusBadRequest)
			return
		}
		bal, err := q.GetBalance(r.Context(), path)
		if err != nil {
			writeError(w, "query failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, bal)
	}
}

func (s *Server) getYieldState(q QueryAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ys, err := q.GetYieldState(r.Context())
		if err != nil {
			writeError(w, "query failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, ys)
	}
}

func (s *Server) getDistributionHistory(q QueryAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		after, ok := parseAfter(r)
		if !ok {
			writeError(w, "invalid after cursor", http.StatusBadRequest)
			return
		}
		hist, err := q.GetDistributionHistory(r.Context(), parseLimit(r, 50), after)
		if err != nil {
			writeError(w, "query failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, hist)
	}
}

func (s *Server) getJournalHistory(q QueryAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("account")
		if prefix == "" {
			writeError(w, "account query parameter required", http.StatusBadRequest)
			return
		}
		after, ok := parseAfter(r)
		if !ok {
			writeError(w, "invalid after cursor", http.StatusBadRequest)
			return
		}
		entries, err := q.GetJournalHistory(r.Context(), prefix, parseLimit(r, 100), after)
		if err != nil {
			writeError(w, "query failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, entries)
	}
}

func (s *Server) verifyIntegrity(q QueryAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := q.VerifyIntegrity(r.Context())
		if err != nil {
			writeError(w, "integrity check failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, report)
	}
}

// --- Admin handlers ---

func accepted(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

func (s *Server) postRate(inj *ingestion.AdminInjector) http.HandlerFunc {
	type req struct {
		Pair          string `json:"pair"`
		Price         int64  `json:"price"`
		PriceSequence int64  `json:"price_sequence"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var body req
		if !decodeBody(w, r, &body) {
			return
		}
		if err := inj.InjectRate(r.Context(), body.Pair, body.Price, body.PriceSequence); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		accepted(w)
	}
}

func (s *Server) postVaultMint(inj *ingestion.AdminInjector) http.HandlerFunc {
	type req struct {
		Notional int64 `json:"notional"`
		Price    int64 `json:"price"`
		Sequence int64 `json:"sequence"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var body req
		if !decodeBody(w, r, &body) {
			return
		}
		if err := inj.InjectVaultMint(r.Context(), body.Notional, body.Price, body.Sequence); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		accepted(w)
	}
}

func (s *Server) postVaultRedeem(inj *ingestion.AdminInjector) http.HandlerFunc {
	type req struct {
		BaseAmount int64 `json:"base_amount"`
		Price      int64 `json:"price"`
		Sequence   int64 `json:"sequence"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var body req
		if !decodeBody(w, r, &body) {
			return
		}
		if err := inj.InjectVaultRedeem(r.Context(), body.BaseAmount, body.Price, body.Sequence); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		accepted(w)
	}
}

func (s *Server) postRedemptionDebit(inj *ingestion.AdminInjector) http.HandlerFunc {
	type req struct {
		RedeemedNotional int64 `json:"redeemed_notional"`
		TotalSupply      int64 `json:"total_supply"`
		Sequence         int64 `json:"sequence"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var body req
		if !decodeBody(w, r, &body) {
			return
		}
		if err := inj.InjectRedemptionDebit(r.Context(), body.RedeemedNotional, body.TotalSupply, body.Sequence); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		accepted(w)
	}
}

func (s *Server) postUserDeposit(inj *ingestion.AdminInjector) http.HandlerFunc {
	type req struct {
		UserID   string `json:"user_id"`
		Amount   int64  `json:"amount"`
		Sequence int64  `json:"sequence"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var body req
		if !decodeBody(w, r, &body) {
			return
		}
		user, err := uuid.Parse(body.UserID)
		if err != nil {
			writeError(w, "invalid user_id", http.StatusBadRequest)
			return
		}
		if err := inj.InjectUserDeposit(r.Context(), user, body.Amount, body.Sequence); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		accepted(w)
	}
}

func (s *Server) postUserWithdraw(inj *ingestion.AdminInjector) http.HandlerFunc {
	type req struct {
		UserID   string `json:"user_id"`
		Amount   int64  `json:"amount"`
		Sequence int64  `json:"sequence"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var body req
		if !decodeBody(w, r, &body) {
			return
		}
		user, err := uuid.Parse(body.UserID)
		if err != nil {
			writeError(w, "invalid user_id", http.StatusBadRequest)
			return
		}
		if err := inj.InjectUserWithdraw(r.Context(), user, body.Amount, body.Sequence); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		accepted(w)
	}
}

func (s *Server) postYieldDeposit(inj *ingestion.AdminInjector) http.HandlerFunc {
	type req struct {
		Source   string `json:"source"`
		Type     string `json:"yield_type"`
		Amount   int64  `json:"amount"`
		Sequence int64  `json:"sequence"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var body req
		if !decodeBody(w, r, &body) {
			return
		}
		if err := inj.InjectYieldDeposit(r.Context(), body.Source, body.Type, body.Amount, body.Sequence); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		accepted(w)
	}
}

func (s *Server) postDistributionUpdate(inj *ingestion.AdminInjector) http.HandlerFunc {
	type req struct {
		Sequence int64 `json:"sequence"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var body req
		if !decodeBody(w, r, &body) {
			return
		}
		if err := inj.InjectDistributionUpdate(r.Context(), body.Sequence); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		accepted(w)
	}
}

func (s *Server) postParamUpdate(inj *ingestion.AdminInjector) http.HandlerFunc {
	type req struct {
		ActorID               string `json:"actor_id"`
		MinMarginRatioBps     int64  `json:"min_margin_ratio_bps"`
		LiquidationThreshBps  int64  `json:"liquidation_threshold_bps"`
		MaxLeverage           int32  `json:"max_leverage"`
		EntryFeeBps           int64  `json:"entry_fee_bps"`
		ExitFeeBps            int64  `json:"exit_fee_bps"`
		MarginFeeBps          int64  `json:"margin_fee_bps"`
		LiquidationPenaltyBps int64  `json:"liquidation_penalty_bps"`
		MaxPositionsPerHedger int    `json:"max_positions_per_hedger"`
		PositionCollateralCap int64  `json:"position_collateral_cap"`
		PoolCollateralCap     int64  `json:"pool_collateral_cap"`
		RateDifferentialBps   int64  `json:"rate_differential_bps"`
		MaxRewardPeriodSec    int64  `json:"max_reward_period_sec"`
		BaseShiftBps          int64  `json:"base_shift_bps"`
		MaxShiftBps           int64  `json:"max_shift_bps"`
		AdjustmentSpeedBps    int64  `json:"adjustment_speed_bps"`
		TargetPoolRatioBps    int64  `json:"target_pool_ratio_bps"`
		ToleranceBps          int64  `json:"tolerance_bps"`
		YieldFeeBps           int64  `json:"yield_fee_bps"`
		HoldingPeriodSec      int64  `json:"holding_period_sec"`
		TWAPWindowSec         int64  `json:"twap_window_sec"`
		EffectiveSeq          int64  `json:"effective_seq"`
		Sequence              int64  `json:"sequence"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var body req
		if !decodeBody(w, r, &body) {
			return
		}
		actor, err := uuid.Parse(body.ActorID)
		if err != nil {
			writeError(w, "invalid actor_id", http.StatusBadRequest)
			return
		}
		upd := &event.ParamUpdate{
			Actor:                 actor,
			MinMarginRatioBps:     body.MinMarginRatioBps,
			LiquidationThreshBps:  body.LiquidationThreshBps,
			MaxLeverage:           body.MaxLeverage,
			EntryFeeBps:           body.EntryFeeBps,
			ExitFeeBps:            body.ExitFeeBps,
			MarginFeeBps:          body.MarginFeeBps,
			LiquidationPenaltyBps: body.LiquidationPenaltyBps,
			MaxPositionsPerHedger: body.MaxPositionsPerHedger,
			PositionCollateralCap: body.PositionCollateralCap,
			PoolCollateralCap:     body.PoolCollateralCap,
			RateDifferentialBps:   body.RateDifferentialBps,
			MaxRewardPeriodSec:    body.MaxRewardPeriodSec,
			BaseShiftBps:          body.BaseShiftBps,
			MaxShiftBps:           body.MaxShiftBps,
			AdjustmentSpeedBps:    body.AdjustmentSpeedBps,
			TargetPoolRatioBps:    body.TargetPoolRatioBps,
			ToleranceBps:          body.ToleranceBps,
			YieldFeeBps:           body.YieldFeeBps,
			HoldingPeriodSec:      body.HoldingPeriodSec,
			TWAPWindowSec:         body.TWAPWindowSec,
			EffectiveSeq:          body.EffectiveSeq,
			Sequence:              body.Sequence,
			Timestamp:             time.Now().UnixMicro(),
		}
		if err := inj.InjectParamUpdate(r.Context(), upd); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		accepted(w)
	}
}

func (s *Server) postEmergency(inj *ingestion.AdminInjector) http.HandlerFunc {
	type req struct {
		ActorID       string `json:"actor_id"`
		Kind          string `json:"kind"`
		TargetID      string `json:"target_id"`
		Amount        int64  `json:"amount"`
		ToHedgerPool  bool   `json:"to_hedger_pool"`
		Justification string `json:"justification"`
		Sequence      int64  `json:"sequence"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var body req
		if !decodeBody(w, r, &body) {
			return
		}
		actor, err := uuid.Parse(body.ActorID)
		if err != nil {
			writeError(w, "invalid actor_id", http.StatusBadRequest)
			return
		}
		var kind event.EmergencyKind
		switch body.Kind {
		case "pause":
			kind = event.EmergencyPause
		case "resume":
			kind = event.EmergencyResume
		case "force_distribute":
			kind = event.EmergencyForceDistribute
		case "force_close":
			kind = event.EmergencyForceClose
		case "rebalance_pools":
			kind = event.EmergencyRebalancePools
		default:
			writeError(w, "unknown emergency kind", http.StatusBadRequest)
			return
		}
		target := uuid.Nil
		if body.TargetID != "" {
			if target, err = uuid.Parse(body.TargetID); err != nil {
				writeError(w, "invalid target_id", http.StatusBadRequest)
				return
			}
		}
		if err := inj.InjectEmergency(r.Context(), actor, kind, target, body.Amount, body.ToHedgerPool, body.Justification, body.Sequence); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		accepted(w)
	}
}

func (s *Server) postRebuildProjections(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Rebuild can take a while on a long event log. Detach from the
		// request timeout.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := projection.RebuildProjections(ctx, db); err != nil {
			s.logger.Error().Err(err).Msg("projection rebuild failed")
			writeError(w, "rebuild failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{"status": "rebuilt"})
	}
}
