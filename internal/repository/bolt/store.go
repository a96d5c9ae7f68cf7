// Package bolt is the embedded single-file store used by trendctl and by
// the server when MONGO_URI is unset.
package bolt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"cinetrack/internal/domain"
)

var (
	bucketTrends = []byte("trend_aggregates")
	bucketSaved  = []byte("saved_movies")
)

type Store struct {
	db  *bolt.DB
	now func() time.Time
}

func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketTrends, bucketSaved} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Trends returns the aggregate store view of s.
func (s *Store) Trends() *TrendStore { return &TrendStore{s} }

// Saved returns the saved-movie store view of s.
func (s *Store) Saved() *SavedStore { return &SavedStore{s} }

type TrendStore struct{ s *Store }

func (t *TrendStore) FindByMovieID(_ context.Context, movieID int) (domain.TrendAggregate, error) {
	var matches []domain.TrendAggregate
	err := t.s.eachTrend(func(agg domain.TrendAggregate) error {
		if agg.MovieID == movieID {
			matches = append(matches, agg)
		}
		return nil
	})
	if err != nil {
		return domain.TrendAggregate{}, storeErr(err)
	}
	if len(matches) == 0 {
		return domain.TrendAggregate{}, domain.ErrNotFound
	}
	domain.SortTop(matches)
	return matches[0], nil
}

func (t *TrendStore) Create(_ context.Context, agg domain.TrendAggregate) (domain.TrendAggregate, error) {
	if agg.ID == "" {
		agg.ID = uuid.NewString()
	}
	now := t.s.now()
	if agg.CreatedAt.IsZero() {
		agg.CreatedAt = now
	}
	if agg.UpdatedAt.IsZero() {
		agg.UpdatedAt = agg.CreatedAt
	}
	err := t.s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTrends)
		if b.Get([]byte(agg.ID)) != nil {
			return fmt.Errorf("%w: aggregate %s", domain.ErrAlreadyExists, agg.ID)
		}
		return putJSON(b, agg.ID, agg)
	})
	if err != nil {
		return domain.TrendAggregate{}, storeErr(err)
	}
	return agg, nil
}

func (t *TrendStore) Update(_ context.Context, id string, patch domain.AggregatePatch) (domain.TrendAggregate, error) {
	var updated domain.TrendAggregate
	err := t.s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTrends)
		raw := b.Get([]byte(id))
		if raw == nil {
			return domain.ErrNotFound
		}
		var current domain.TrendAggregate
		if err := json.Unmarshal(raw, &current); err != nil {
			return err
		}
		updated = current.ApplyPatch(patch, t.s.now())
		return putJSON(b, id, updated)
	})
	if err != nil {
		return domain.TrendAggregate{}, storeErr(err)
	}
	return updated, nil
}

func (t *TrendStore) Delete(_ context.Context, id string) error {
	return storeErr(t.s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTrends)
		if b.Get([]byte(id)) == nil {
			return domain.ErrNotFound
		}
		return b.Delete([]byte(id))
	}))
}

func (t *TrendStore) ListTop(_ context.Context, limit int) ([]domain.TrendAggregate, error) {
	all, err := t.s.allTrends()
	if err != nil {
		return nil, err
	}
	domain.SortTop(all)
	return truncate(all, limit), nil
}

func (t *TrendStore) ListAll(_ context.Context, limit int) ([]domain.TrendAggregate, error) {
	all, err := t.s.allTrends()
	if err != nil {
		return nil, err
	}
	domain.SortChronological(all)
	return truncate(all, limit), nil
}

func (s *Store) allTrends() ([]domain.TrendAggregate, error) {
	var out []domain.TrendAggregate
	err := s.eachTrend(func(agg domain.TrendAggregate) error {
		out = append(out, agg)
		return nil
	})
	return out, storeErr(err)
}

func (s *Store) eachTrend(fn func(domain.TrendAggregate) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTrends).ForEach(func(_, v []byte) error {
			var agg domain.TrendAggregate
			if err := json.Unmarshal(v, &agg); err != nil {
				return err
			}
			return fn(agg)
		})
	})
}

type SavedStore struct{ s *Store }

func savedKey(movieID int) []byte {
	return []byte(strconv.Itoa(movieID))
}

func (v *SavedStore) ExistsByMovieID(_ context.Context, movieID int) (bool, error) {
	var exists bool
	err := v.s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketSaved).Get(savedKey(movieID)) != nil
		return nil
	})
	return exists, storeErr(err)
}

func (v *SavedStore) Create(_ context.Context, movie domain.SavedMovie) (domain.SavedMovie, error) {
	if movie.ID == "" {
		movie.ID = uuid.NewString()
	}
	err := v.s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSaved)
		if b.Get(savedKey(movie.MovieID)) != nil {
			return fmt.Errorf("%w: movie %d", domain.ErrAlreadyExists, movie.MovieID)
		}
		return putJSON(b, string(savedKey(movie.MovieID)), movie)
	})
	if err != nil {
		return domain.SavedMovie{}, storeErr(err)
	}
	return movie, nil
}

func (v *SavedStore) DeleteByMovieID(_ context.Context, movieID int) error {
	return storeErr(v.s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSaved)
		if b.Get(savedKey(movieID)) == nil {
			return domain.ErrNotFound
		}
		return b.Delete(savedKey(movieID))
	}))
}

func (v *SavedStore) List(_ context.Context, limit int) ([]domain.SavedMovie, error) {
	var out []domain.SavedMovie
	err := v.s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSaved).ForEach(func(_, raw []byte) error {
			var movie domain.SavedMovie
			if err := json.Unmarshal(raw, &movie); err != nil {
				return err
			}
			out = append(out, movie)
			return nil
		})
	})
	if err != nil {
		return nil, storeErr(err)
	}
	domain.SortSaved(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// storeErr tags bbolt failures as transient. Not-found and already-exists
// outcomes pass through unchanged.
func storeErr(err error) error {
	if err == nil || errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrAlreadyExists) {
		return err
	}
	return domain.WrapTransient(err)
}

func putJSON(b *bolt.Bucket, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

func truncate(records []domain.TrendAggregate, limit int) []domain.TrendAggregate {
	if limit > 0 && len(records) > limit {
		return records[:limit]
	}
	return records
}
