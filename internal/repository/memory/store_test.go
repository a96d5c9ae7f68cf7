package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"cinetrack/internal/domain"
)

func TestAggregateStoreCreateAssignsID(t *testing.T) {
	store := NewAggregateStore()
	created, err := store.Create(context.Background(), domain.TrendAggregate{MovieID: 1, Count: 1})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated id")
	}
	if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Fatalf("timestamps not set: %+v", created)
	}
}

func TestAggregateStoreFindByMovieIDPrefersHighestCount(t *testing.T) {
	store := NewAggregateStore()
	store.Seed(
		domain.TrendAggregate{ID: "a", MovieID: 7, Count: 1},
		domain.TrendAggregate{ID: "b", MovieID: 7, Count: 5},
		domain.TrendAggregate{ID: "c", MovieID: 8, Count: 9},
	)
	got, err := store.FindByMovieID(context.Background(), 7)
	if err != nil {
		t.Fatalf("FindByMovieID: %v", err)
	}
	if got.ID != "b" {
		t.Fatalf("expected b, got %s", got.ID)
	}
	if _, err := store.FindByMovieID(context.Background(), 99); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAggregateStoreUpdateAndDeleteMissing(t *testing.T) {
	store := NewAggregateStore()
	if _, err := store.Update(context.Background(), "missing", domain.AggregatePatch{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Update missing: expected ErrNotFound, got %v", err)
	}
	if err := store.Delete(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Delete missing: expected ErrNotFound, got %v", err)
	}
}

func TestAggregateStoreListTopOrdering(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewAggregateStore()
	store.Seed(
		domain.TrendAggregate{ID: "old", MovieID: 1, Count: 3, LastSearchedAt: base},
		domain.TrendAggregate{ID: "new", MovieID: 2, Count: 3, LastSearchedAt: base.Add(time.Hour)},
		domain.TrendAggregate{ID: "top", MovieID: 3, Count: 10, LastSearchedAt: base},
		domain.TrendAggregate{ID: "low", MovieID: 4, Count: 1, LastSearchedAt: base},
	)
	rows, err := store.ListTop(context.Background(), 3)
	if err != nil {
		t.Fatalf("ListTop: %v", err)
	}
	want := []string{"top", "new", "old"}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows, want %d", len(rows), len(want))
	}
	for i, id := range want {
		if rows[i].ID != id {
			t.Fatalf("rows[%d] = %s, want %s", i, rows[i].ID, id)
		}
	}
}

func TestAggregateStoreReturnsCopies(t *testing.T) {
	store := NewAggregateStore()
	store.Seed(domain.TrendAggregate{ID: "a", MovieID: 1, SearchTerms: []string{"x"}})
	got, _ := store.FindByMovieID(context.Background(), 1)
	got.SearchTerms[0] = "mutated"

	again, _ := store.FindByMovieID(context.Background(), 1)
	if again.SearchTerms[0] != "x" {
		t.Fatal("store state mutated through returned slice")
	}
}

func TestSavedStore(t *testing.T) {
	ctx := context.Background()
	store := NewSavedStore()

	if ok, _ := store.ExistsByMovieID(ctx, 5); ok {
		t.Fatal("empty store reports movie as saved")
	}
	if _, err := store.Create(ctx, domain.SavedMovie{MovieID: 5, Title: "Heat"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Create(ctx, domain.SavedMovie{MovieID: 5}); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if ok, _ := store.ExistsByMovieID(ctx, 5); !ok {
		t.Fatal("saved movie not found")
	}
	list, _ := store.List(ctx, 0)
	if len(list) != 1 || list[0].ID == "" {
		t.Fatalf("unexpected list: %+v", list)
	}
	if err := store.DeleteByMovieID(ctx, 5); err != nil {
		t.Fatalf("DeleteByMovieID: %v", err)
	}
	if err := store.DeleteByMovieID(ctx, 5); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
