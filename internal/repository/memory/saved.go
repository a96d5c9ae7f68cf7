package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"cinetrack/internal/domain"
)

type SavedStore struct {
	mu     sync.RWMutex
	movies map[int]domain.SavedMovie
}

func NewSavedStore() *SavedStore {
	return &SavedStore{movies: make(map[int]domain.SavedMovie)}
}

func (s *SavedStore) ExistsByMovieID(_ context.Context, movieID int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.movies[movieID]
	return ok, nil
}

func (s *SavedStore) Create(_ context.Context, movie domain.SavedMovie) (domain.SavedMovie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.movies[movie.MovieID]; ok {
		return domain.SavedMovie{}, fmt.Errorf("%w: movie %d", domain.ErrAlreadyExists, movie.MovieID)
	}
	if movie.ID == "" {
		movie.ID = uuid.NewString()
	}
	s.movies[movie.MovieID] = movie
	return movie, nil
}

func (s *SavedStore) DeleteByMovieID(_ context.Context, movieID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.movies[movieID]; !ok {
		return domain.ErrNotFound
	}
	delete(s.movies, movieID)
	return nil
}

func (s *SavedStore) List(_ context.Context, limit int) ([]domain.SavedMovie, error) {
	s.mu.RLock()
	out := make([]domain.SavedMovie, 0, len(s.movies))
	for _, movie := range s.movies {
		out = append(out, movie)
	}
	s.mu.RUnlock()

	domain.SortSaved(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
