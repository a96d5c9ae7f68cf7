package domain

import (
	"sort"
	"time"
)

type SavedMovie struct {
	ID          string    `json:"id"`
	MovieID     int       `json:"movieId"`
	Title       string    `json:"title"`
	PosterURL   string    `json:"posterUrl,omitempty"`
	ReleaseDate string    `json:"releaseDate,omitempty"`
	VoteAverage float64   `json:"voteAverage,omitempty"`
	SavedAt     time.Time `json:"savedAt"`
}

func SavedFromMovie(movie MovieSummary, now time.Time) SavedMovie {
	return SavedMovie{
		MovieID:     movie.ID,
		Title:       movie.Title,
		PosterURL:   movie.PosterURL,
		ReleaseDate: movie.ReleaseDate,
		VoteAverage: movie.VoteAverage,
		SavedAt:     now,
	}
}

// SortSaved orders saved movies newest first, ties by movie id.
func SortSaved(movies []SavedMovie) {
	sort.Slice(movies, func(i, j int) bool {
		if !movies[i].SavedAt.Equal(movies[j].SavedAt) {
			return movies[i].SavedAt.After(movies[j].SavedAt)
		}
		return movies[i].MovieID < movies[j].MovieID
	})
}
