package ports

import (
	"context"

	"cinetrack/internal/domain"
)

// SearchEventPublisher hands a search event to whatever applies it to the
// aggregate store. Publishing must not block on the store write.
type SearchEventPublisher interface {
	PublishSearch(ctx context.Context, event domain.SearchEvent) error
}
