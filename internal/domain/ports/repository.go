package ports

import (
	"context"

	"cinetrack/internal/domain"
)

// AggregateStore is the shared trend aggregate collection.
//
// FindByMovieID returns domain.ErrNotFound when no record exists; when
// several records exist for the same movie it returns the one with the
// highest count. ListTop orders by count desc, lastSearchedAt desc, id asc.
type AggregateStore interface {
	FindByMovieID(ctx context.Context, movieID int) (domain.TrendAggregate, error)
	Create(ctx context.Context, agg domain.TrendAggregate) (domain.TrendAggregate, error)
	Update(ctx context.Context, id string, patch domain.AggregatePatch) (domain.TrendAggregate, error)
	Delete(ctx context.Context, id string) error
	ListTop(ctx context.Context, limit int) ([]domain.TrendAggregate, error)
	ListAll(ctx context.Context, limit int) ([]domain.TrendAggregate, error)
}

type SavedMovieStore interface {
	ExistsByMovieID(ctx context.Context, movieID int) (bool, error)
	Create(ctx context.Context, movie domain.SavedMovie) (domain.SavedMovie, error)
	DeleteByMovieID(ctx context.Context, movieID int) error
	List(ctx context.Context, limit int) ([]domain.SavedMovie, error)
}
