package apihttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"cinetrack/internal/domain"
	"cinetrack/internal/domain/ports"
	"cinetrack/internal/fetch"
	"cinetrack/internal/retry"
	"cinetrack/internal/trend"
)

// views holds the server-side fetch controllers behind the list endpoints.
// Each keeps the last good result so a failed refresh still serves data.
type views struct {
	popular *fetch.Controller[[]domain.MovieSummary]

	mu       sync.Mutex
	trending map[int]*fetch.Controller[[]domain.TrendAggregate]
	trends   TrendReader
	// TopTrending retries internally; its controller does not retry again.
	trendingRetry *retry.Executor
	logger        *slog.Logger
}

func newViews(catalog ports.Catalog, trends TrendReader, executor *retry.Executor, logger *slog.Logger) *views {
	v := &views{
		trending:      make(map[int]*fetch.Controller[[]domain.TrendAggregate]),
		trends:        trends,
		trendingRetry: executor.WithRetries(0),
		logger:        logger,
	}
	if catalog != nil {
		v.popular = fetch.New(catalog.DiscoverPopular,
			fetch.WithRetry(executor),
			fetch.WithLabel("view.popular"),
			fetch.WithLogger(logger),
		)
	}
	return v
}

func (v *views) trendingView(limit int) *fetch.Controller[[]domain.TrendAggregate] {
	v.mu.Lock()
	defer v.mu.Unlock()
	if ctrl, ok := v.trending[limit]; ok {
		return ctrl
	}
	ctrl := fetch.New(func(ctx context.Context) ([]domain.TrendAggregate, error) {
		return v.trends.TopTrending(ctx, limit)
	},
		fetch.WithRetry(v.trendingRetry),
		fetch.WithLabel("view.trending"),
		fetch.WithLogger(v.logger),
	)
	v.trending[limit] = ctrl
	return ctrl
}

// markTrendingStale flags every trending view for refresh after the
// underlying aggregates changed.
func (v *views) markTrendingStale() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, ctrl := range v.trending {
		ctrl.MarkStale()
	}
}

func (v *views) close() {
	if v.popular != nil {
		v.popular.Close()
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, ctrl := range v.trending {
		ctrl.Close()
	}
}

type viewResponse[T any] struct {
	Status    string     `json:"status"`
	Data      T          `json:"data"`
	Stale     bool       `json:"stale"`
	Loading   bool       `json:"loading"`
	Error     string     `json:"error,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	RequestID uint64     `json:"requestId"`
}

// serveView answers from the controller's last committed state. A request
// blocks on a fetch only when there is no data yet or refresh is set; stale
// or aged data is served immediately while a background fetch runs.
func serveView[T any](s *Server, w http.ResponseWriter, r *http.Request, ctrl *fetch.Controller[T], refresh bool) {
	state := ctrl.State()
	switch {
	case refresh || (!state.HasData && !state.Loading):
		ctx, cancel := s.requestContext(r)
		state = ctrl.Fetch(ctx)
		cancel()
	case state.HasData && !state.Loading && (state.Stale || s.viewExpired(state.UpdatedAt)):
		go func() {
			ctx, cancel := s.requestContext(r)
			defer cancel()
			ctrl.Fetch(ctx)
		}()
	}

	if !state.HasData && state.Err != nil {
		s.logger.Warn("view fetch failed", slog.String("path", r.URL.Path), slog.String("error", state.Err.Error()))
		s.writeDomainError(w, state.Err, "upstream request failed")
		return
	}

	resp := viewResponse[T]{
		Status:    string(state.Status()),
		Data:      state.Data,
		Stale:     state.Stale,
		Loading:   state.Loading,
		RequestID: state.RequestID,
	}
	if state.Err != nil {
		resp.Error = state.Err.Error()
	}
	if !state.UpdatedAt.IsZero() {
		updated := state.UpdatedAt
		resp.UpdatedAt = &updated
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) viewExpired(updatedAt time.Time) bool {
	return s.viewMaxAge > 0 && !updatedAt.IsZero() && time.Since(updatedAt) > s.viewMaxAge
}

func (s *Server) handlePopular(w http.ResponseWriter, r *http.Request) {
	if s.views.popular == nil {
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "catalog is not configured")
		return
	}
	serveView(s, w, r, s.views.popular, parseOptionalBool(r.URL.Query().Get("refresh")))
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	if s.trends == nil {
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "trend service is not configured")
		return
	}
	limit, err := parseLimit(r, s.trendingLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if limit > trend.MaxTrendingLimit {
		limit = trend.MaxTrendingLimit
	}
	w.Header().Set("X-Trending-Limit", strconv.Itoa(limit))
	serveView(s, w, r, s.views.trendingView(limit), parseOptionalBool(r.URL.Query().Get("refresh")))
}
