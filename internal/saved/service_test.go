package saved

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"cinetrack/internal/domain"
	"cinetrack/internal/domain/ports"
	"cinetrack/internal/repository/memory"
	"cinetrack/internal/retry"
)

var errFlaky = errors.New("connection reset")

// flakyStore fails the first n calls to ExistsByMovieID.
type flakyStore struct {
	ports.SavedMovieStore
	failures atomic.Int32
	calls    atomic.Int32
}

func (s *flakyStore) ExistsByMovieID(ctx context.Context, movieID int) (bool, error) {
	s.calls.Add(1)
	if s.failures.Add(-1) >= 0 {
		return false, errFlaky
	}
	return s.SavedMovieStore.ExistsByMovieID(ctx, movieID)
}

func newTestService(store ports.SavedMovieStore) *Service {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	return NewService(store,
		WithExecutor(retry.New(retry.Config{MaxRetries: 2})),
		WithClock(func() time.Time { return now }),
	)
}

func TestSaveIsIdempotent(t *testing.T) {
	store := memory.NewSavedStore()
	svc := newTestService(store)
	ctx := context.Background()
	movie := domain.MovieSummary{ID: 603, Title: "The Matrix"}

	created, err := svc.Save(ctx, movie)
	if err != nil || !created {
		t.Fatalf("first Save = %v, %v", created, err)
	}
	created, err = svc.Save(ctx, movie)
	if err != nil || created {
		t.Fatalf("second Save = %v, %v", created, err)
	}

	list, err := svc.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Title != "The Matrix" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestRemove(t *testing.T) {
	store := memory.NewSavedStore()
	svc := newTestService(store)
	ctx := context.Background()

	if _, err := svc.Save(ctx, domain.MovieSummary{ID: 1, Title: "x"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := svc.Remove(ctx, 1); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := svc.Remove(ctx, 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if errors.Is(svc.Remove(ctx, 1), domain.ErrRetryExhausted) {
		t.Fatal("not found should not be retried")
	}
}

func TestIsSavedRetriesTransientFailures(t *testing.T) {
	store := &flakyStore{SavedMovieStore: memory.NewSavedStore()}
	store.failures.Store(2)
	svc := newTestService(store)

	saved, err := svc.IsSaved(context.Background(), 42)
	if err != nil {
		t.Fatalf("IsSaved: %v", err)
	}
	if saved {
		t.Fatal("unexpected saved state")
	}
	if got := store.calls.Load(); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
}

func TestIsSavedExhausted(t *testing.T) {
	store := &flakyStore{SavedMovieStore: memory.NewSavedStore()}
	store.failures.Store(10)

	_, err := newTestService(store).IsSaved(context.Background(), 42)
	if !errors.Is(err, domain.ErrRetryExhausted) || !errors.Is(err, errFlaky) {
		t.Fatalf("expected exhausted error wrapping cause, got %v", err)
	}
}

func TestValidation(t *testing.T) {
	svc := newTestService(memory.NewSavedStore())
	ctx := context.Background()

	if _, err := svc.IsSaved(ctx, 0); !errors.Is(err, domain.ErrInvalidQuery) {
		t.Fatalf("IsSaved(0): %v", err)
	}
	if _, err := svc.Save(ctx, domain.MovieSummary{}); !errors.Is(err, domain.ErrInvalidQuery) {
		t.Fatalf("Save(empty): %v", err)
	}
	if err := svc.Remove(ctx, -1); !errors.Is(err, domain.ErrInvalidQuery) {
		t.Fatalf("Remove(-1): %v", err)
	}
}
