// Package saved manages the user's saved-movie list.
package saved

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cinetrack/internal/domain"
	"cinetrack/internal/domain/ports"
	"cinetrack/internal/retry"
)

const defaultListLimit = 200

type Service struct {
	store    ports.SavedMovieStore
	executor *retry.Executor
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithExecutor(executor *retry.Executor) Option {
	return func(s *Service) {
		if executor != nil {
			s.executor = executor
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store ports.SavedMovieStore, options ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
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

func (s *Service) IsSaved(ctx context.Context, movieID int) (bool, error) {
	if movieID <= 0 {
		return false, fmt.Errorf("%w: movie id must be positive", domain.ErrInvalidQuery)
	}
	return retry.Do(ctx, s.executor, "saved.exists", func(ctx context.Context) (bool, error) {
		return s.store.ExistsByMovieID(ctx, movieID)
	})
}

// Save adds movie to the list. Saving a movie that is already saved is not
// an error; created reports whether a new entry was written.
func (s *Service) Save(ctx context.Context, movie domain.MovieSummary) (created bool, err error) {
	if !movie.Valid() {
		return false, fmt.Errorf("%w: movie id must be positive", domain.ErrInvalidQuery)
	}
	entry := domain.SavedFromMovie(movie, s.now())
	err = s.executor.Run(ctx, "saved.create", func(ctx context.Context) error {
		_, err := s.store.Create(ctx, entry)
		if errors.Is(err, domain.ErrAlreadyExists) {
			return retry.Permanent(err)
		}
		return err
	})
	if errors.Is(err, domain.ErrAlreadyExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.logger.Debug("movie saved", slog.Int("movieId", movie.ID))
	return true, nil
}

// Remove deletes movieID from the list, returning domain.ErrNotFound when it
// was not saved.
func (s *Service) Remove(ctx context.Context, movieID int) error {
	if movieID <= 0 {
		return fmt.Errorf("%w: movie id must be positive", domain.ErrInvalidQuery)
	}
	return s.executor.Run(ctx, "saved.delete", func(ctx context.Context) error {
		err := s.store.DeleteByMovieID(ctx, movieID)
		if errors.Is(err, domain.ErrNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
}

func (s *Service) List(ctx context.Context, limit int) ([]domain.SavedMovie, error) {
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	return retry.Do(ctx, s.executor, "saved.list", func(ctx context.Context) ([]domain.SavedMovie, error) {
		return s.store.List(ctx, limit)
	})
}
