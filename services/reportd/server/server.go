package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"launchpad/gateway/middleware"
	"launchpad/services/reportd/models"
	"launchpad/services/reportd/report"
)

const adminRoute = "admin"

// Config captures the dependencies for the admin surface.
type Config struct {
	DB        *gorm.DB
	Reporter  *report.Reporter
	Window    time.Duration
	Auth      middleware.AuthConfig
	RateLimit middleware.RateLimit
	CORS      middleware.CORSConfig
	// Metrics defaults to the process-global registry.
	Metrics prometheus.Registerer
	Logger  *slog.Logger
	Now     func() time.Time
}

// Server exposes run history, collector status and a manual trigger for
// report runs. Everything under /admin sits behind the report.admin scope.
type Server struct {
	db       *gorm.DB
	reporter *report.Reporter
	window   time.Duration
	logger   *slog.Logger
	now      func() time.Time
	router   http.Handler
}

// New validates the configuration and assembles the router.
func New(cfg Config) (*Server, error) {
	if cfg.DB == nil {
		return nil, errors.New("server: db is required")
	}
	if cfg.Reporter == nil {
		return nil, errors.New("server: reporter is required")
	}
	srv := &Server{
		db:       cfg.DB,
		reporter: cfg.Reporter,
		window:   cfg.Window,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if srv.window <= 0 {
		srv.window = 24 * time.Hour
	}
	if srv.logger == nil {
		srv.logger = slog.Default()
	}
	if srv.now == nil {
		srv.now = time.Now
	}
	srv.router = srv.buildRouter(cfg)
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the handler on addr and blocks until the listener fails.
func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server.ListenAndServe()
}

func (s *Server) buildRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName:   "reportd",
		MetricsPrefix: "reportd_http",
		Enabled:       true,
		Registerer:    cfg.Metrics,
	})
	auth := middleware.NewAuthenticator(cfg.Auth, s.logger)
	limits := map[string]middleware.RateLimit{}
	if cfg.RateLimit.RatePerSecond > 0 {
		limits[adminRoute] = cfg.RateLimit
	}
	limiter := middleware.NewRateLimiter(limits)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", middleware.MetricsHandler())

	r.Route("/admin", func(admin chi.Router) {
		if len(cfg.CORS.AllowedOrigins) > 0 {
			admin.Use(middleware.CORS(cfg.CORS))
		}
		admin.Use(obs.Middleware(adminRoute))
		admin.Use(limiter.Middleware(adminRoute))
		admin.Use(auth.Middleware(middleware.ScopeReportAdmin))
		admin.Get("/status", s.Status)
		admin.Get("/runs", s.ListRuns)
		admin.Get("/runs/{id}/anomalies", s.ListAnomalies)
		admin.Post("/run", s.TriggerRun)
	})
	return r
}

type runView struct {
	ID          string    `json:"id"`
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`
	Status      string    `json:"status"`
	Rows        int       `json:"rows"`
	Checksum    string    `json:"checksum,omitempty"`
	DryRun      bool      `json:"dryRun"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	Anomalies   int64     `json:"anomalies"`
}

type statusView struct {
	Checkpoint uint64   `json:"checkpoint"`
	LastRun    *runView `json:"lastRun,omitempty"`
}

type anomalyView struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Subject   string    `json:"subject"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"createdAt"`
}

// Status reports the collector checkpoint and the most recent run.
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	view := statusView{}

	var checkpoint models.Checkpoint
	err := s.db.WithContext(r.Context()).First(&checkpoint, "name = ?", models.CheckpointEvents).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
	case err != nil:
		http.Error(w, "load checkpoint", http.StatusInternalServerError)
		return
	default:
		view.Checkpoint = checkpoint.Sequence
	}

	var run models.ReportRun
	err = s.db.WithContext(r.Context()).Order("started_at desc").First(&run).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
	case err != nil:
		http.Error(w, "load runs", http.StatusInternalServerError)
		return
	default:
		converted := s.runView(r, run)
		view.LastRun = &converted
	}

	s.writeJSON(w, http.StatusOK, view)
}

// ListRuns returns recent runs, newest first.
func (s *Server) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		if parsed > 100 {
			parsed = 100
		}
		limit = parsed
	}

	var runs []models.ReportRun
	if err := s.db.WithContext(r.Context()).Order("started_at desc").Limit(limit).Find(&runs).Error; err != nil {
		http.Error(w, "load runs", http.StatusInternalServerError)
		return
	}
	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, s.runView(r, run))
	}
	s.writeJSON(w, http.StatusOK, views)
}

// ListAnomalies returns the anomalies raised by one run.
func (s *Server) ListAnomalies(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid run id", http.StatusBadRequest)
		return
	}
	var rows []models.Anomaly
	if err := s.db.WithContext(r.Context()).Where("run_id = ?", runID).Order("created_at asc").Find(&rows).Error; err != nil {
		http.Error(w, "load anomalies", http.StatusInternalServerError)
		return
	}
	views := make([]anomalyView, 0, len(rows))
	for _, row := range rows {
		views = append(views, anomalyView{
			ID:        row.ID.String(),
			Kind:      row.Kind,
			Subject:   row.Subject,
			Details:   row.Details,
			CreatedAt: row.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, views)
}

type runRequest struct {
	Start  *time.Time `json:"start,omitempty"`
	End    *time.Time `json:"end,omitempty"`
	DryRun bool       `json:"dryRun"`
}

// TriggerRun executes a report run synchronously. The window defaults to the
// configured duration ending now.
func (s *Server) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	end := s.now()
	if req.End != nil {
		end = *req.End
	}
	start := end.Add(-s.window)
	if req.Start != nil {
		start = *req.Start
	}

	result, err := s.reporter.Run(r.Context(), report.RunOptions{Start: start, End: end, DryRun: req.DryRun})
	if err != nil {
		s.logger.Error("manual report run failed", slog.String("error", err.Error()))
		http.Error(w, "report run failed", http.StatusInternalServerError)
		return
	}

	var run models.ReportRun
	if err := s.db.WithContext(r.Context()).First(&run, "id = ?", result.RunID).Error; err != nil {
		http.Error(w, "load run record", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, s.runView(r, run))
}

func (s *Server) runView(r *http.Request, run models.ReportRun) runView {
	var anomalies int64
	if err := s.db.WithContext(r.Context()).Model(&models.Anomaly{}).Where("run_id = ?", run.ID).Count(&anomalies).Error; err != nil {
		s.logger.Warn("count anomalies failed", slog.String("error", err.Error()))
	}
	return runView{
		ID:          run.ID.String(),
		WindowStart: run.WindowStart,
		WindowEnd:   run.WindowEnd,
		Status:      run.Status,
		Rows:        run.Rows,
		Checksum:    run.Checksum,
		DryRun:      run.DryRun,
		Error:       run.Error,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
		Anomalies:   anomalies,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
