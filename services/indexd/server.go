package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"launchpad/gateway/middleware"
)

// ServerConfig wires the query surface to the store.
type ServerConfig struct {
	Store      *SQLiteStore
	QueryLimit int
	Logger     *slog.Logger
	// Metrics defaults to the process-global registry.
	Metrics prometheus.Registerer
}

// Server exposes the materialised index over a read-only HTTP surface.
type Server struct {
	store      *SQLiteStore
	queryLimit int
	logger     *slog.Logger
	router     http.Handler
}

// NewServer assembles the query router over the supplied store.
func NewServer(cfg ServerConfig) *Server {
	srv := &Server{
		store:      cfg.Store,
		queryLimit: cfg.QueryLimit,
		logger:     cfg.Logger,
	}
	if srv.logger == nil {
		srv.logger = slog.Default()
	}
	if srv.queryLimit <= 0 {
		srv.queryLimit = 100
	}
	srv.router = srv.buildRouter(cfg)
	return srv
}

func (s *Server) buildRouter(cfg ServerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName:   "indexd",
		MetricsPrefix: "indexd_http",
		Enabled:       true,
		Registerer:    cfg.Metrics,
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", middleware.MetricsHandler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(obs.Middleware("query"))
		v1.Get("/status", s.Status)
		v1.Get("/events", s.Events)
		v1.Get("/contributions", s.Contributions)
		v1.Get("/stages/totals", s.StageTotals)
		v1.Get("/referrals/{account}/rewards", s.ReferralRewards)
		v1.Get("/referrals/{account}/claims", s.ReferralClaims)
	})
	return r
}

// Handler returns the assembled router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Status reports the feed cursor so operators can watch indexing lag.
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	cursor, err := s.store.Cursor(r.Context())
	if err != nil {
		s.fail(w, "load cursor", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint64{"cursor": cursor})
}

// Events serves raw feed frames filtered by type and sequence.
func (s *Server) Events(w http.ResponseWriter, r *http.Request) {
	after, err := parseQueryUint(r.URL.Query().Get("after"))
	if err != nil {
		http.Error(w, "invalid after", http.StatusBadRequest)
		return
	}
	eventType := strings.TrimSpace(r.URL.Query().Get("type"))
	events, err := s.store.EventsSince(r.Context(), after, eventType, s.limit(r))
	if err != nil {
		s.fail(w, "query events", err)
		return
	}
	if events == nil {
		events = []StoredEvent{}
	}
	s.writeJSON(w, http.StatusOK, events)
}

// Contributions serves purchases filtered by buyer or stage.
func (s *Server) Contributions(w http.ResponseWriter, r *http.Request) {
	buyer := strings.TrimSpace(r.URL.Query().Get("buyer"))
	stageRaw := strings.TrimSpace(r.URL.Query().Get("stage"))
	switch {
	case buyer != "":
		rows, err := s.store.ContributionsByBuyer(r.Context(), buyer, s.limit(r))
		if err != nil {
			s.fail(w, "query contributions", err)
			return
		}
		s.writeContributions(w, rows)
	case stageRaw != "":
		stageID, err := parseQueryUint(stageRaw)
		if err != nil {
			http.Error(w, "invalid stage", http.StatusBadRequest)
			return
		}
		rows, err := s.store.ContributionsByStage(r.Context(), stageID, s.limit(r))
		if err != nil {
			s.fail(w, "query contributions", err)
			return
		}
		s.writeContributions(w, rows)
	default:
		http.Error(w, "buyer or stage query parameter required", http.StatusBadRequest)
	}
}

// StageTotals serves per-stage contribution aggregates.
func (s *Server) StageTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := s.store.StageTotals(r.Context())
	if err != nil {
		s.fail(w, "sum stages", err)
		return
	}
	if totals == nil {
		totals = []StageTotal{}
	}
	s.writeJSON(w, http.StatusOK, totals)
}

// ReferralRewards serves an account's accruals.
func (s *Server) ReferralRewards(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	rows, err := s.store.RewardsByReferrer(r.Context(), account, s.limit(r))
	if err != nil {
		s.fail(w, "query rewards", err)
		return
	}
	if rows == nil {
		rows = []RewardRow{}
	}
	s.writeJSON(w, http.StatusOK, rows)
}

// ReferralClaims serves an account's withdrawals.
func (s *Server) ReferralClaims(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	rows, err := s.store.ClaimsByAccount(r.Context(), account, s.limit(r))
	if err != nil {
		s.fail(w, "query claims", err)
		return
	}
	if rows == nil {
		rows = []ClaimRow{}
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) writeContributions(w http.ResponseWriter, rows []ContributionRow) {
	if rows == nil {
		rows = []ContributionRow{}
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) limit(r *http.Request) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return s.queryLimit
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 || parsed > s.queryLimit {
		return s.queryLimit
	}
	return parsed
}

func (s *Server) fail(w http.ResponseWriter, context string, err error) {
	s.logger.Warn(context, slog.String("error", err.Error()))
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseQueryUint(raw string) (uint64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}
