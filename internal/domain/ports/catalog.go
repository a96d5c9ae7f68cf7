package ports

import (
	"context"

	"cinetrack/internal/domain"
)

// Catalog is the remote movie catalog. Failures are returned wrapped with
// domain.ErrTransientRemote.
type Catalog interface {
	SearchMovies(ctx context.Context, query string) ([]domain.MovieSummary, error)
	DiscoverPopular(ctx context.Context) ([]domain.MovieSummary, error)
}
