package apihttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"cinetrack/internal/domain"
	"cinetrack/internal/domain/ports"
	"cinetrack/internal/retry"
	"cinetrack/internal/trend"
)

type TrendReader interface {
	TopTrending(ctx context.Context, limit int) ([]domain.TrendAggregate, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context) (domain.ReconcileReport, error)
	Plan(ctx context.Context) ([]trend.MergePlan, int, error)
}

type SavedMovies interface {
	IsSaved(ctx context.Context, movieID int) (bool, error)
	Save(ctx context.Context, movie domain.MovieSummary) (bool, error)
	Remove(ctx context.Context, movieID int) error
	List(ctx context.Context, limit int) ([]domain.SavedMovie, error)
}

type Server struct {
	catalog        ports.Catalog
	trends         TrendReader
	reconciler     Reconciler
	saved          SavedMovies
	publisher      ports.SearchEventPublisher
	executor       *retry.Executor
	health         func(context.Context) error
	logger         *slog.Logger
	rps            float64
	burst          int
	requestTimeout time.Duration
	viewMaxAge     time.Duration
	trendingLimit  int
	views          *views
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithReconciler(reconciler Reconciler) ServerOption {
	return func(s *Server) {
		s.reconciler = reconciler
	}
}

func WithSavedMovies(saved SavedMovies) ServerOption {
	return func(s *Server) {
		s.saved = saved
	}
}

func WithPublisher(publisher ports.SearchEventPublisher) ServerOption {
	return func(s *Server) {
		s.publisher = publisher
	}
}

func WithExecutor(executor *retry.Executor) ServerOption {
	return func(s *Server) {
		s.executor = executor
	}
}

// WithHealthCheck adds a dependency probe to /health.
func WithHealthCheck(check func(context.Context) error) ServerOption {
	return func(s *Server) {
		s.health = check
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 && burst > 0 {
			s.rps, s.burst = rps, burst
		}
	}
}

func WithRequestTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		if timeout > 0 {
			s.requestTimeout = timeout
		}
	}
}

// WithViewMaxAge sets how old a view may get before a request triggers a
// background refresh.
func WithViewMaxAge(maxAge time.Duration) ServerOption {
	return func(s *Server) {
		s.viewMaxAge = maxAge
	}
}

func WithDefaultTrendingLimit(limit int) ServerOption {
	return func(s *Server) {
		if limit > 0 {
			s.trendingLimit = limit
		}
	}
}

func NewServer(catalog ports.Catalog, trends TrendReader, options ...ServerOption) *Server {
	server := &Server{
		catalog:        catalog,
		trends:         trends,
		logger:         slog.Default(),
		rps:            20,
		burst:          40,
		requestTimeout: 10 * time.Second,
		viewMaxAge:     time.Minute,
		trendingLimit:  trend.DefaultTrendingLimit,
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	if server.executor == nil {
		server.executor = retry.New(retry.DefaultConfig(), retry.WithLogger(server.logger))
	}
	server.views = newViews(server.catalog, server.trends, server.executor, server.logger)
	return server
}

// Close stops the view controllers; late results are dropped.
func (s *Server) Close() {
	s.views.close()
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /movies/search", s.handleMovieSearch)
	mux.HandleFunc("GET /movies/popular", s.handlePopular)
	mux.HandleFunc("GET /trending", s.handleTrending)
	mux.HandleFunc("POST /trending/searches", s.handleRecordSearch)
	mux.HandleFunc("POST /trending/reconcile", s.handleReconcile)
	mux.HandleFunc("GET /saved", s.handleSavedList)
	mux.HandleFunc("GET /saved/{movieId}", s.handleSavedGet)
	mux.HandleFunc("PUT /saved/{movieId}", s.handleSavedPut)
	mux.HandleFunc("DELETE /saved/{movieId}", s.handleSavedDelete)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "cinetrack",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health"
		}),
	)
	return recoveryMiddleware(s.logger, rateLimitMiddleware(s.rps, s.burst, metricsMiddleware(gzhttp.GzipHandler(traced))))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	}
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			payload["status"] = "degraded"
			payload["error"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, payload)
			return
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

// requestContext detaches work from client disconnects but keeps a deadline.
func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), s.requestTimeout)
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error, fallback string) {
	status, code, message := classifyError(err, fallback)
	writeError(w, status, code, message)
}

func classifyError(err error, fallback string) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidQuery):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found", "not found"
	case errors.Is(err, trend.ErrReconcileInProgress):
		return http.StatusConflict, "conflict", err.Error()
	case errors.Is(err, domain.ErrRetryExhausted), errors.Is(err, domain.ErrTransientRemote):
		return http.StatusBadGateway, "upstream_unavailable", fallback
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout", fallback
	default:
		return http.StatusInternalServerError, "internal_error", fallback
	}
}

func parseLimit(r *http.Request, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, errors.New("invalid limit")
	}
	return parsed, nil
}

func parseMovieID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(r.PathValue("movieId")))
	if err != nil || id <= 0 {
		return 0, errors.New("invalid movie id")
	}
	return id, nil
}

func parseOptionalBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
