package http

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"finanzas/internal/amqp"
	"finanzas/internal/core"
	"finanzas/internal/log"
	"finanzas/internal/middleware/ratelimit"
	"finanzas/internal/middleware/security"
	"finanzas/internal/middleware/trace"
	"finanzas/internal/reports"
	"finanzas/internal/services"
)

// UserIDHeader identifies the caller of every /api route except user
// creation.
const UserIDHeader = "X-User-ID"

// Ledger is the write and listing side used by the handlers.
type Ledger interface {
	CreateUser(ctx context.Context, u core.User) (core.User, error)
	GetUser(ctx context.Context, id int64) (core.User, error)
	UpdateUser(ctx context.Context, u core.User) (core.User, error)
	GetProfile(ctx context.Context, userID int64) (core.Profile, error)
	UpdateProfile(ctx context.Context, p core.Profile) (core.Profile, error)

	ListCategories(ctx context.Context, userID int64, t core.CategoryType) ([]core.Category, error)
	GroupedCategories(ctx context.Context, userID int64) (services.CategoryGroups, error)
	GetCategory(ctx context.Context, userID, id int64) (core.Category, error)
	CreateCategory(ctx context.Context, c core.Category) (core.Category, error)
	UpdateCategory(ctx context.Context, c core.Category) (core.Category, error)
	DeleteCategory(ctx context.Context, userID, id int64) error

	ListOperations(ctx context.Context, userID int64, f services.OperationFilter) (services.OperationList, error)
	GetOperation(ctx context.Context, userID, id int64) (core.Operation, error)
	CreateOperation(ctx context.Context, o core.Operation) (core.Operation, error)
	UpdateOperation(ctx context.Context, o core.Operation) (core.Operation, error)
	DeleteOperation(ctx context.Context, userID, id int64) error

	ListSavedReports(ctx context.Context, userID int64) ([]core.SavedReport, error)
	GetSavedReport(ctx context.Context, userID, id int64) (core.SavedReport, error)
	SaveReport(ctx context.Context, r core.SavedReport) (core.SavedReport, error)
	DeleteSavedReport(ctx context.Context, userID, id int64) error
}

// Reports computes reports and dashboards.
type Reports interface {
	Build(ctx context.Context, userID int64, q reports.Query) (reports.Report, error)
	RunSaved(ctx context.Context, userID, id int64) (reports.Report, error)
	Dashboard(ctx context.Context, userID int64) (reports.Dashboard, error)
	Trend(ctx context.Context, userID int64, g reports.Granularity, start, end core.Date) ([]reports.TrendPoint, reports.Period, error)
}

// ExportQueue hands export requests to the worker.
type ExportQueue interface {
	PublishExportRequest(ctx context.Context, msg *amqp.ExportRequestMessage) error
}

// Pinger checks a dependency for readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Sizer reports the number of entries of a cache.
type Sizer interface {
	Size() int
}

// Options wires the server. Exports may be nil, in which case export
// requests are refused with 503.
type Options struct {
	Addr           string
	Ledger         Ledger
	Reports        Reports
	Exports        ExportQueue
	Storage        Pinger
	Logger         *log.Logger
	RequestTimeout time.Duration
	RateLimit      int
	TrustedProxies []string
	Caches         map[string]Sizer
}

type Server struct {
	http.Server

	ledger  Ledger
	reports Reports
	exports ExportQueue
	storage Pinger
	caches  map[string]Sizer

	logger  *log.Logger
	timeout time.Duration

	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware

	startedAt    time.Time
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(opts Options) (*Server, error) {
	if opts.Ledger == nil || opts.Reports == nil {
		return nil, errors.New("http server: ledger and reports are required")
	}
	detector, err := security.NewDetector(opts.TrustedProxies...)
	if err != nil {
		return nil, fmt.Errorf("http server: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 7 * time.Second
	}

	s := &Server{
		ledger:    opts.Ledger,
		reports:   opts.Reports,
		exports:   opts.Exports,
		storage:   opts.Storage,
		caches:    opts.Caches,
		logger:    logger.WithComponent(log.ComponentHTTP),
		timeout:   timeout,
		limiter:   ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimit}),
		detector:  detector,
		tracer:    trace.NewMiddleware(detector.ExtractClientIP),
		startedAt: time.Now(),
	}
	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(log.Middleware(s.logger))
	r.Use(s.tracer.Middleware)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(s.flagSuspicious)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NotFoundError("not found").Write(w)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusMethodNotAllowed, "method not allowed").Write(w)
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
			ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded, try again later").Write(w)
		}))

		r.Post("/users", s.handleCreateUser)

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)
			r.Use(log.ComponentMiddleware(log.ComponentLedger))

			r.Get("/me", s.handleGetMe)
			r.Put("/me", s.handleUpdateMe)
			r.Get("/profile", s.handleGetProfile)
			r.Put("/profile", s.handleUpdateProfile)

			r.Route("/categories", func(r chi.Router) {
				r.Get("/", s.handleListCategories)
				r.Post("/", s.handleCreateCategory)
				r.Get("/{id}", s.handleGetCategory)
				r.Put("/{id}", s.handleUpdateCategory)
				r.Delete("/{id}", s.handleDeleteCategory)
			})

			r.Route("/operations", func(r chi.Router) {
				r.Get("/", s.handleListOperations)
				r.Post("/", s.handleCreateOperation)
				r.Get("/{id}", s.handleGetOperation)
				r.Put("/{id}", s.handleUpdateOperation)
				r.Delete("/{id}", s.handleDeleteOperation)
			})

			r.Route("/reports", func(r chi.Router) {
				r.Use(log.ComponentMiddleware(log.ComponentReports))

				r.Get("/dashboard", s.handleDashboard)
				r.Get("/monthly", s.handleMonthlyReport)
				r.Get("/annual", s.handleAnnualReport)
				r.Get("/period", s.handlePeriodReport)
				r.Get("/trend", s.handleTrend)
				r.Get("/chart.png", s.handleChart)
				r.Get("/saved", s.handleListSavedReports)
				r.Post("/saved", s.handleCreateSavedReport)
				r.Get("/saved/{id}", s.handleGetSavedReport)
				r.Delete("/saved/{id}", s.handleDeleteSavedReport)
				r.Get("/saved/{id}/run", s.handleRunSavedReport)
				r.Post("/exports", s.handleQueueExport)
			})
		})
	})
	return r
}

// Shutdown stops the rate limiter and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

// flagSuspicious logs requests that look like probes. They are still served.
func (s *Server) flagSuspicious(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.detector.DetectSuspiciousRequest(r) {
			log.FromContext(r.Context()).WithComponent(log.ComponentSecurity).WarnContext(r.Context(), "Suspicious request",
				log.NewFields().
					WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("User-Agent"), "").
					WithClientIP(s.detector.ExtractClientIP(r)).
					ToSlice()...)
		}
		next.ServeHTTP(w, r)
	})
}

type userIDKey struct{}

// requireUser resolves X-User-ID to an existing user and stores its id in
// the request context.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(UserIDHeader))
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			UnauthorizedError("missing or invalid " + UserIDHeader + " header").Write(w)
			return
		}

		ctx, cancel := s.withTimeout(r)
		_, err = s.ledger.GetUser(ctx, id)
		cancel()
		if errors.Is(err, core.ErrNotFound) {
			UnauthorizedError("unknown user").Write(w)
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}

		rctx := context.WithValue(r.Context(), userIDKey{}, id)
		rctx = log.NewContext(rctx, log.FromContext(rctx).With(log.FieldUserID, id))
		next.ServeHTTP(w, r.WithContext(rctx))
	})
}

// userID is the caller resolved by requireUser.
func userID(r *http.Request) int64 {
	id, _ := r.Context().Value(userIDKey{}).(int64)
	return id
}

// withTimeout bounds the storage and report calls of one handler.
func (s *Server) withTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.timeout)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// handleReady checks storage. Messaging is reported but optional.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, code := "ready", http.StatusOK
	checks := map[string]string{}

	if s.storage == nil {
		checks["storage"] = "not_configured"
		status, code = "not_ready", http.StatusServiceUnavailable
	} else if err := s.storage.Ping(ctx); err != nil {
		checks["storage"] = "failed: " + err.Error()
		status, code = "not_ready", http.StatusServiceUnavailable
	} else {
		checks["storage"] = "ok"
	}

	if s.exports == nil {
		checks["exports"] = "disabled"
	} else {
		checks["exports"] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleMetrics writes request, security and cache counters in the
// Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	traceMetrics := s.tracer.GetMetrics()
	securityMetrics := s.detector.GetMetrics()
	limitMetrics := s.limiter.GetMetrics()

	metric := func(name, help, kind string, value any) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %v\n\n", name, help, name, kind, name, value)
	}
	metric("http_requests_total", "Total number of HTTP requests", "counter", traceMetrics.TotalRequests)
	metric("http_request_duration_avg_seconds", "Average request duration", "gauge",
		traceMetrics.AverageResponseTime().Seconds())
	metric("security_suspicious_requests_total", "Requests matching attack patterns", "counter",
		securityMetrics.SuspiciousRequests)
	metric("security_invalid_ip_total", "Requests with unparsable client addresses", "counter",
		securityMetrics.InvalidIPAttempts)
	metric("rate_limit_rejections_total", "Requests rejected by the rate limiter", "counter", limitMetrics.TotalHits)
	metric("rate_limit_active_clients", "Clients tracked by the rate limiter", "gauge", limitMetrics.ClientCount)
	metric("uptime_seconds", "Seconds since the server started", "gauge", int64(time.Since(s.startedAt).Seconds()))

	if len(s.caches) > 0 {
		fmt.Fprintf(w, "# HELP cache_entries Entries held by each cache\n# TYPE cache_entries gauge\n")
		for _, name := range slices.Sorted(maps.Keys(s.caches)) {
			fmt.Fprintf(w, "cache_entries{cache=%q} %d\n", name, s.caches[name].Size())
		}
	}
}
