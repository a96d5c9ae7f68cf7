// Package memory keeps aggregates and saved movies in process memory. It is
// used by tests and by the server when no document store is configured.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"cinetrack/internal/domain"
)

type AggregateStore struct {
	mu      sync.RWMutex
	records map[string]domain.TrendAggregate
	newID   func() string
	now     func() time.Time
}

type Option func(*AggregateStore)

func WithIDGenerator(newID func() string) Option {
	return func(s *AggregateStore) {
		if newID != nil {
			s.newID = newID
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *AggregateStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewAggregateStore(options ...Option) *AggregateStore {
	s := &AggregateStore{
		records: make(map[string]domain.TrendAggregate),
		newID:   uuid.NewString,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		if option != nil {
			option(s)
		}
	}
	return s
}

// Seed inserts records as-is, keeping their ids.
func (s *AggregateStore) Seed(records ...domain.TrendAggregate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range records {
		s.records[record.ID] = cloneAggregate(record)
	}
}

func (s *AggregateStore) FindByMovieID(_ context.Context, movieID int) (domain.TrendAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []domain.TrendAggregate
	for _, record := range s.records {
		if record.MovieID == movieID {
			matches = append(matches, record)
		}
	}
	if len(matches) == 0 {
		return domain.TrendAggregate{}, domain.ErrNotFound
	}
	domain.SortTop(matches)
	return cloneAggregate(matches[0]), nil
}

func (s *AggregateStore) Create(_ context.Context, agg domain.TrendAggregate) (domain.TrendAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if agg.ID == "" {
		agg.ID = s.newID()
	}
	if _, exists := s.records[agg.ID]; exists {
		return domain.TrendAggregate{}, fmt.Errorf("%w: aggregate %s", domain.ErrAlreadyExists, agg.ID)
	}
	now := s.now()
	if agg.CreatedAt.IsZero() {
		agg.CreatedAt = now
	}
	if agg.UpdatedAt.IsZero() {
		agg.UpdatedAt = agg.CreatedAt
	}
	s.records[agg.ID] = cloneAggregate(agg)
	return cloneAggregate(agg), nil
}

func (s *AggregateStore) Update(_ context.Context, id string, patch domain.AggregatePatch) (domain.TrendAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return domain.TrendAggregate{}, domain.ErrNotFound
	}
	updated := record.ApplyPatch(patch, s.now())
	s.records[id] = updated
	return cloneAggregate(updated), nil
}

func (s *AggregateStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *AggregateStore) ListTop(_ context.Context, limit int) ([]domain.TrendAggregate, error) {
	out := s.snapshot()
	domain.SortTop(out)
	return truncate(out, limit), nil
}

func (s *AggregateStore) ListAll(_ context.Context, limit int) ([]domain.TrendAggregate, error) {
	out := s.snapshot()
	domain.SortChronological(out)
	return truncate(out, limit), nil
}

// Len reports how many aggregates are stored.
func (s *AggregateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *AggregateStore) snapshot() []domain.TrendAggregate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TrendAggregate, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, cloneAggregate(record))
	}
	return out
}

func truncate(records []domain.TrendAggregate, limit int) []domain.TrendAggregate {
	if limit > 0 && len(records) > limit {
		return records[:limit]
	}
	return records
}

func cloneAggregate(agg domain.TrendAggregate) domain.TrendAggregate {
	agg.SearchTerms = append([]string(nil), agg.SearchTerms...)
	if agg.MergedIDs != nil {
		agg.MergedIDs = append([]string(nil), agg.MergedIDs...)
	}
	return agg
}
