package trend

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"cinetrack/internal/domain"
	"cinetrack/internal/domain/ports"
	"cinetrack/internal/repository/memory"
	"cinetrack/internal/retry"
)

var errStoreDown = errors.New("store unavailable")

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noWait(retries int) *retry.Executor {
	return retry.New(retry.Config{MaxRetries: retries}, retry.WithLogger(quietLogger()))
}

func newTestService(store ports.AggregateStore) *Service {
	return NewService(store,
		WithExecutor(noWait(3)),
		WithLogger(quietLogger()),
		WithClock(func() time.Time { return base }),
	)
}

func newTestReconciler(store ports.AggregateStore, retries int) *Reconciler {
	return NewReconciler(store,
		WithReconcileExecutor(noWait(retries)),
		WithReconcileLogger(quietLogger()),
	)
}

func movie(id int, title string) domain.MovieSummary {
	return domain.MovieSummary{ID: id, Title: title}
}

// faultyStore wraps a store and fails selected calls.
type faultyStore struct {
	ports.AggregateStore

	mu           sync.Mutex
	failFind     bool
	failDeleteID string
	missingOnUpd string
	findCalls    int
	listTopLimit int
}

func (s *faultyStore) FindByMovieID(ctx context.Context, movieID int) (domain.TrendAggregate, error) {
	s.mu.Lock()
	s.findCalls++
	fail := s.failFind
	s.mu.Unlock()
	if fail {
		return domain.TrendAggregate{}, errStoreDown
	}
	return s.AggregateStore.FindByMovieID(ctx, movieID)
}

func (s *faultyStore) Update(ctx context.Context, id string, patch domain.AggregatePatch) (domain.TrendAggregate, error) {
	s.mu.Lock()
	missing := s.missingOnUpd == id
	s.mu.Unlock()
	if missing {
		return domain.TrendAggregate{}, domain.ErrNotFound
	}
	return s.AggregateStore.Update(ctx, id, patch)
}

func (s *faultyStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	fail := s.failDeleteID == id
	s.mu.Unlock()
	if fail {
		return errStoreDown
	}
	return s.AggregateStore.Delete(ctx, id)
}

func (s *faultyStore) ListTop(ctx context.Context, limit int) ([]domain.TrendAggregate, error) {
	s.mu.Lock()
	s.listTopLimit = limit
	s.mu.Unlock()
	return s.AggregateStore.ListTop(ctx, limit)
}

func (s *faultyStore) heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFind = false
	s.failDeleteID = ""
	s.missingOnUpd = ""
}

// racingStore holds the first two lookups until both have read, so both
// callers see the same (missing) state and each creates an aggregate.
type racingStore struct {
	ports.AggregateStore

	arrived sync.WaitGroup
	lookups atomic.Int32
}

func newRacingStore(inner ports.AggregateStore) *racingStore {
	s := &racingStore{AggregateStore: inner}
	s.arrived.Add(2)
	return s
}

func (s *racingStore) FindByMovieID(ctx context.Context, movieID int) (domain.TrendAggregate, error) {
	agg, err := s.AggregateStore.FindByMovieID(ctx, movieID)
	if s.lookups.Add(1) <= 2 {
		s.arrived.Done()
		s.arrived.Wait()
	}
	return agg, err
}

var _ ports.AggregateStore = (*memory.AggregateStore)(nil)
