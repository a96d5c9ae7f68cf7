package domain

import "strings"

// MovieSummary is the catalog's view of a single movie.
type MovieSummary struct {
	ID          int     `json:"id"`
	Title       string  `json:"title"`
	Overview    string  `json:"overview,omitempty"`
	PosterURL   string  `json:"posterUrl,omitempty"`
	ReleaseDate string  `json:"releaseDate,omitempty"`
	VoteAverage float64 `json:"voteAverage,omitempty"`
	Popularity  float64 `json:"popularity,omitempty"`
}

func (m MovieSummary) Year() int {
	date := strings.TrimSpace(m.ReleaseDate)
	if len(date) < 4 {
		return 0
	}
	year := 0
	for _, c := range date[:4] {
		if c < '0' || c > '9' {
			return 0
		}
		year = year*10 + int(c-'0')
	}
	return year
}

func (m MovieSummary) Valid() bool {
	return m.ID > 0
}
