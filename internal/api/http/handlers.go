package apihttp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/gookit/validate"

	"cinetrack/internal/domain"
	"cinetrack/internal/retry"
	"cinetrack/internal/trend"
)

const (
	maxQueryRunes = 200
	maxBodyBytes  = 64 << 10
)

type movieBody struct {
	ID          int     `json:"id" validate:"required|min:1"`
	Title       string  `json:"title" validate:"required|maxLen:500"`
	Overview    string  `json:"overview"`
	PosterURL   string  `json:"posterUrl"`
	ReleaseDate string  `json:"releaseDate"`
	VoteAverage float64 `json:"voteAverage"`
	Popularity  float64 `json:"popularity"`
}

func (m movieBody) summary() domain.MovieSummary {
	return domain.MovieSummary{
		ID:          m.ID,
		Title:       strings.TrimSpace(m.Title),
		Overview:    m.Overview,
		PosterURL:   m.PosterURL,
		ReleaseDate: m.ReleaseDate,
		VoteAverage: m.VoteAverage,
		Popularity:  m.Popularity,
	}
}

type recordSearchRequest struct {
	Query string    `json:"query" validate:"required|maxLen:200"`
	Movie movieBody `json:"movie"`
}

func (s *Server) handleMovieSearch(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "catalog is not configured")
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing query")
		return
	}
	if utf8.RuneCountInString(query) > maxQueryRunes {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long")
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	results, err := retry.Do(ctx, s.executor, "catalog.search", func(ctx context.Context) ([]domain.MovieSummary, error) {
		return s.catalog.SearchMovies(ctx, query)
	})
	if err != nil {
		s.logger.Warn("movie search failed", slog.String("query", truncate(query, 80)), slog.String("error", err.Error()))
		s.writeDomainError(w, err, "catalog search failed")
		return
	}
	if results == nil {
		results = []domain.MovieSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"results": results,
	})
}

// handleRecordSearch queues one search event. The aggregate write happens
// after the response, so a store outage never fails the caller.
func (s *Server) handleRecordSearch(w http.ResponseWriter, r *http.Request) {
	if s.publisher == nil {
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "search recording is not configured")
		return
	}
	var req recordSearchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	req.Movie.Title = strings.TrimSpace(req.Movie.Title)
	if msg := validationError(&req); msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_request", msg)
		return
	}
	if msg := validationError(&req.Movie); msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "movie: "+msg)
		return
	}
	if _, err := trend.NormalizeTerm(req.Query); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	event := domain.SearchEvent{
		Query:      req.Query,
		Movie:      req.Movie.summary(),
		OccurredAt: time.Now().UTC(),
	}
	queued := true
	if err := s.publisher.PublishSearch(r.Context(), event); err != nil {
		queued = false
		s.logger.Warn("search event not published",
			slog.Int("movieId", event.Movie.ID),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": queued})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if s.reconciler == nil {
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "reconciler is not configured")
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	if parseOptionalBool(r.URL.Query().Get("dryRun")) {
		plans, scanned, err := s.reconciler.Plan(ctx)
		if err != nil {
			s.writeDomainError(w, err, "reconcile plan failed")
			return
		}
		if plans == nil {
			plans = []trend.MergePlan{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"dryRun":         true,
			"recordsScanned": scanned,
			"groups":         plans,
		})
		return
	}

	report, err := s.reconciler.Reconcile(ctx)
	var partial *trend.ReconciliationPartialFailure
	switch {
	case err == nil:
		s.views.markTrendingStale()
		writeJSON(w, http.StatusOK, report)
	case errors.As(err, &partial):
		s.views.markTrendingStale()
		writeJSON(w, http.StatusMultiStatus, map[string]any{
			"report": partial.Report,
			"error": map[string]any{
				"code":    "partial_failure",
				"message": err.Error(),
				"movieId": partial.MovieID,
				"step":    partial.Step,
			},
		})
	default:
		s.logger.Warn("reconcile failed", slog.String("error", err.Error()))
		s.writeDomainError(w, err, "reconcile failed")
	}
}

func (s *Server) handleSavedList(w http.ResponseWriter, r *http.Request) {
	if s.saved == nil {
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "saved movies are not configured")
		return
	}
	limit, err := parseLimit(r, 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	items, err := s.saved.List(ctx, limit)
	if err != nil {
		s.writeDomainError(w, err, "failed to list saved movies")
		return
	}
	if items == nil {
		items = []domain.SavedMovie{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (s *Server) handleSavedGet(w http.ResponseWriter, r *http.Request) {
	movieID, ok := s.savedMovieID(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	saved, err := s.saved.IsSaved(ctx, movieID)
	if err != nil {
		s.writeDomainError(w, err, "failed to check saved movie")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movieId": movieID, "saved": saved})
}

func (s *Server) handleSavedPut(w http.ResponseWriter, r *http.Request) {
	movieID, ok := s.savedMovieID(w, r)
	if !ok {
		return
	}
	var body movieBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	body.ID = movieID
	body.Title = strings.TrimSpace(body.Title)
	if msg := validationError(&body); msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_request", msg)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	created, err := s.saved.Save(ctx, body.summary())
	if err != nil {
		s.writeDomainError(w, err, "failed to save movie")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"movieId": movieID, "saved": true, "created": created})
}

func (s *Server) handleSavedDelete(w http.ResponseWriter, r *http.Request) {
	movieID, ok := s.savedMovieID(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	if err := s.saved.Remove(ctx, movieID); err != nil {
		s.writeDomainError(w, err, "failed to remove saved movie")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) savedMovieID(w http.ResponseWriter, r *http.Request) (int, bool) {
	if s.saved == nil {
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "saved movies are not configured")
		return 0, false
	}
	movieID, err := parseMovieID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return 0, false
	}
	return movieID, true
}

func decodeBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty request body")
		}
		return errors.New("invalid JSON body")
	}
	return nil
}

// validationError runs the struct's validate tags and returns the first
// failure, or "" when the value is valid.
func validationError(ptr any) string {
	v := validate.Struct(ptr)
	if v.Validate() {
		return ""
	}
	return v.Errors.One()
}
