// Package events moves search events from the request path to the trend
// aggregator, over NATS or an in-process queue.
package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"cinetrack/internal/domain"
)

const DefaultSubject = "cinetrack.search.recorded"

var ErrQueueFull = errors.New("search event queue full")

// Applier consumes search events; trend.Service implements it.
type Applier interface {
	Apply(ctx context.Context, event domain.SearchEvent) error
}

func Encode(event domain.SearchEvent) ([]byte, error) {
	return json.Marshal(event)
}

func Decode(data []byte) (domain.SearchEvent, error) {
	var event domain.SearchEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return domain.SearchEvent{}, fmt.Errorf("decode search event: %w", err)
	}
	if !event.Movie.Valid() {
		return domain.SearchEvent{}, fmt.Errorf("%w: search event without movie id", domain.ErrInvalidQuery)
	}
	return event, nil
}
