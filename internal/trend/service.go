package trend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cinetrack/internal/domain"
	"cinetrack/internal/domain/ports"
	"cinetrack/internal/metrics"
	"cinetrack/internal/retry"
)

const (
	recordSearchRetries = 3

	// OverFetchFactor is how many rows per requested entry TopTrending reads,
	// leaving room for duplicates the reconciler has not merged yet.
	OverFetchFactor = 3

	DefaultTrendingLimit = 10
	MaxTrendingLimit     = 100
)

const tracerName = "cinetrack/internal/trend"

// Service records search events into trend aggregates and reads the ranked
// trending list.
//
// RecordSearch is a read-then-write upsert and is not atomic: concurrent
// calls for the same movie can create duplicate aggregates. Reconciler
// repairs them.
type Service struct {
	store    ports.AggregateStore
	executor *retry.Executor
	logger   *slog.Logger
	now      func() time.Time
	tracer   trace.Tracer
}

type ServiceOption func(*Service)

func WithExecutor(executor *retry.Executor) ServiceOption {
	return func(s *Service) {
		if executor != nil {
			s.executor = executor
		}
	}
}

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store ports.AggregateStore, options ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
		tracer: otel.Tracer(tracerName),
	}
	for _, option := range options {
		if option != nil {
			option(s)
		}
	}
	if s.executor == nil {
		s.executor = retry.New(retry.DefaultConfig(), retry.WithLogger(s.logger))
	}
	return s
}

// RecordSearch folds one search for movie into its aggregate, creating the
// aggregate on first search. It runs through the backoff executor with 3
// retries; callers treat failures as lost telemetry.
func (s *Service) RecordSearch(ctx context.Context, query string, movie domain.MovieSummary) error {
	term, err := NormalizeTerm(query)
	if err != nil {
		return err
	}
	if !movie.Valid() {
		return fmt.Errorf("%w: movie id must be positive", domain.ErrInvalidQuery)
	}

	ctx, span := s.tracer.Start(ctx, "trend.RecordSearch", trace.WithAttributes(
		attribute.Int("movie.id", movie.ID),
		attribute.String("search.term", term),
	))
	defer span.End()

	var result string
	err = s.executor.WithRetries(recordSearchRetries).Run(ctx, "trend.record_search", func(ctx context.Context) error {
		var opErr error
		result, opErr = s.upsert(ctx, term, movie)
		return opErr
	})
	if err != nil {
		metrics.SearchesRecordedTotal.WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	metrics.SearchesRecordedTotal.WithLabelValues(result).Inc()
	s.logger.Debug("search recorded",
		slog.Int("movieId", movie.ID),
		slog.String("term", term),
		slog.String("result", result),
	)
	return nil
}

// Apply records a search event delivered by an event transport.
func (s *Service) Apply(ctx context.Context, event domain.SearchEvent) error {
	return s.RecordSearch(ctx, event.Query, event.Movie)
}

func (s *Service) upsert(ctx context.Context, term string, movie domain.MovieSummary) (string, error) {
	now := s.now()
	existing, err := s.store.FindByMovieID(ctx, movie.ID)
	if errors.Is(err, domain.ErrNotFound) {
		if _, err := s.store.Create(ctx, domain.NewAggregate(term, movie, now)); err != nil {
			return "", err
		}
		return "created", nil
	}
	if err != nil {
		return "", err
	}

	terms := existing.SearchTerms
	if !existing.HasTerm(term) {
		terms = mergeTerms(existing.SearchTerms, []string{term})
	}
	patch := domain.AggregatePatch{
		SearchTerms:    terms,
		LastSearchTerm: term,
		Count:          existing.Count + 1,
		LastSearchedAt: now,
		Movie:          &movie,
	}
	// ErrNotFound here means a reconciler removed the record between the read
	// and the write; the retry reads the canonical record instead.
	if _, err := s.store.Update(ctx, existing.ID, patch); err != nil {
		return "", err
	}
	return "merged", nil
}

// TopTrending returns at most limit aggregates ordered by count desc, then
// most recently searched, with at most one entry per movie.
func (s *Service) TopTrending(ctx context.Context, limit int) ([]domain.TrendAggregate, error) {
	limit = clampLimit(limit)
	rows, err := retry.Do(ctx, s.executor, "trend.top", func(ctx context.Context) ([]domain.TrendAggregate, error) {
		return s.store.ListTop(ctx, limit*OverFetchFactor)
	})
	if err != nil {
		return nil, err
	}
	return DedupeByMovie(rows, limit), nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultTrendingLimit
	}
	if limit > MaxTrendingLimit {
		return MaxTrendingLimit
	}
	return limit
}

// DedupeByMovie keeps the first aggregate seen for each movie id, after
// ordering rows by count desc and lastSearchedAt desc, and truncates to limit.
// Applying it twice gives the same result.
func DedupeByMovie(rows []domain.TrendAggregate, limit int) []domain.TrendAggregate {
	ordered := append([]domain.TrendAggregate(nil), rows...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Count != ordered[j].Count {
			return ordered[i].Count > ordered[j].Count
		}
		return ordered[i].LastSearchedAt.After(ordered[j].LastSearchedAt)
	})

	seen := make(map[int]struct{}, len(ordered))
	out := make([]domain.TrendAggregate, 0, min(limit, len(ordered)))
	for _, row := range ordered {
		if len(out) >= limit {
			break
		}
		if _, ok := seen[row.MovieID]; ok {
			continue
		}
		seen[row.MovieID] = struct{}{}
		out = append(out, row)
	}
	return out
}
