package domain

import (
	"sort"
	"time"

	"github.com/goccy/go-json"
)

// TrendAggregate is the persisted rollup of every recorded search for one movie.
// Several aggregates may exist for the same MovieID until the reconciler merges them.
type TrendAggregate struct {
	ID             string    `json:"id"`
	MovieID        int       `json:"movieId"`
	SearchTerms    []string  `json:"searchTerms"`
	LastSearchTerm string    `json:"lastSearchTerm"`
	Count          int       `json:"count"`
	Title          string    `json:"title"`
	PosterURL      string    `json:"posterUrl,omitempty"`
	ReleaseDate    string    `json:"releaseDate,omitempty"`
	VoteAverage    float64   `json:"voteAverage,omitempty"`
	LastSearchedAt time.Time `json:"lastSearchedAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	CreatedAt      time.Time `json:"createdAt"`
	// MergedIDs lists duplicates whose counts are already folded into this
	// record, so a merge interrupted before their deletion is not counted twice.
	MergedIDs []string `json:"mergedIds,omitempty"`
}

// AggregatePatch holds the mutable fields written back on merge.
// A nil Movie keeps the stored metadata and a nil MergedIDs keeps the stored list.
type AggregatePatch struct {
	SearchTerms    []string
	LastSearchTerm string
	Count          int
	LastSearchedAt time.Time
	Movie          *MovieSummary
	MergedIDs      []string
}

// HasTerm reports whether term is already part of the aggregate's term set.
func (a TrendAggregate) HasTerm(term string) bool {
	for _, existing := range a.SearchTerms {
		if existing == term {
			return true
		}
	}
	return false
}

// LastTouched returns UpdatedAt, falling back to CreatedAt for records that
// were never updated.
func (a TrendAggregate) LastTouched() time.Time {
	if !a.UpdatedAt.IsZero() {
		return a.UpdatedAt
	}
	return a.CreatedAt
}

// NewAggregate builds the first aggregate for movie from a single search.
func NewAggregate(term string, movie MovieSummary, now time.Time) TrendAggregate {
	return TrendAggregate{
		MovieID:        movie.ID,
		SearchTerms:    []string{term},
		LastSearchTerm: term,
		Count:          1,
		Title:          movie.Title,
		PosterURL:      movie.PosterURL,
		ReleaseDate:    movie.ReleaseDate,
		VoteAverage:    movie.VoteAverage,
		LastSearchedAt: now,
		UpdatedAt:      now,
		CreatedAt:      now,
	}
}

// ApplyPatch returns a copy of a with patch applied at time now.
func (a TrendAggregate) ApplyPatch(patch AggregatePatch, now time.Time) TrendAggregate {
	out := a
	out.SearchTerms = append([]string(nil), patch.SearchTerms...)
	out.LastSearchTerm = patch.LastSearchTerm
	out.Count = patch.Count
	if !patch.LastSearchedAt.IsZero() {
		out.LastSearchedAt = patch.LastSearchedAt
	}
	if patch.Movie != nil {
		out.Title = patch.Movie.Title
		out.PosterURL = patch.Movie.PosterURL
		out.ReleaseDate = patch.Movie.ReleaseDate
		out.VoteAverage = patch.Movie.VoteAverage
	}
	if patch.MergedIDs != nil {
		out.MergedIDs = append([]string(nil), patch.MergedIDs...)
	}
	out.UpdatedAt = now
	return out
}

// SearchEvent is a single "user searched for movie X" occurrence.
type SearchEvent struct {
	Query      string       `json:"query"`
	Movie      MovieSummary `json:"movie"`
	OccurredAt time.Time    `json:"occurredAt"`
}

// ReconcileReport summarises one reconciliation pass.
type ReconcileReport struct {
	RecordsScanned       int           `json:"recordsScanned"`
	DuplicateGroupsFound int           `json:"duplicateGroupsFound"`
	GroupsMerged         int           `json:"groupsMerged"`
	RecordsRemoved       int           `json:"recordsRemoved"`
	Duration             time.Duration `json:"-"`
}

// DurationMillis is Duration in whole milliseconds, the unit reports are
// serialised with.
func (r ReconcileReport) DurationMillis() int64 {
	return r.Duration.Milliseconds()
}

func (r ReconcileReport) MarshalJSON() ([]byte, error) {
	type Report ReconcileReport
	return json.Marshal(struct {
		Report
		DurationMs int64 `json:"durationMs"`
	}{Report: Report(r), DurationMs: r.DurationMillis()})
}

// SortTop orders records by count desc, then most recently searched, then id.
func SortTop(records []TrendAggregate) {
	sort.Slice(records, func(i, j int) bool {
		left, right := records[i], records[j]
		if left.Count != right.Count {
			return left.Count > right.Count
		}
		if !left.LastSearchedAt.Equal(right.LastSearchedAt) {
			return left.LastSearchedAt.After(right.LastSearchedAt)
		}
		return left.ID < right.ID
	})
}

// SortChronological orders records by CreatedAt, then id.
func SortChronological(records []TrendAggregate) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
}
