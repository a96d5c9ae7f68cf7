package mongo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"cinetrack/internal/domain"
)

type savedMovieDoc struct {
	ID          string  `bson:"_id"`
	MovieID     int     `bson:"movieId"`
	Title       string  `bson:"title"`
	PosterURL   string  `bson:"posterUrl,omitempty"`
	ReleaseDate string  `bson:"releaseDate,omitempty"`
	VoteAverage float64 `bson:"voteAverage,omitempty"`
	SavedAt     int64   `bson:"savedAt"`
}

type SavedRepository struct {
	collection *mongo.Collection
}

func NewSavedRepository(client *mongo.Client, dbName string) *SavedRepository {
	return &SavedRepository{collection: client.Database(dbName).Collection("saved_movies")}
}

func (r *SavedRepository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "movieId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "savedAt", Value: -1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, models)
	return err
}

func (r *SavedRepository) ExistsByMovieID(ctx context.Context, movieID int) (bool, error) {
	n, err := r.collection.CountDocuments(ctx, bson.M{"movieId": movieID}, options.Count().SetLimit(1))
	if err != nil {
		return false, domain.WrapTransient(err)
	}
	return n > 0, nil
}

func (r *SavedRepository) Create(ctx context.Context, movie domain.SavedMovie) (domain.SavedMovie, error) {
	if movie.ID == "" {
		movie.ID = uuid.NewString()
	}
	if _, err := r.collection.InsertOne(ctx, toSavedDoc(movie)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.SavedMovie{}, fmt.Errorf("%w: movie %d", domain.ErrAlreadyExists, movie.MovieID)
		}
		return domain.SavedMovie{}, domain.WrapTransient(err)
	}
	return movie, nil
}

func (r *SavedRepository) DeleteByMovieID(ctx context.Context, movieID int) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"movieId": movieID})
	if err != nil {
		return domain.WrapTransient(err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SavedRepository) List(ctx context.Context, limit int) ([]domain.SavedMovie, error) {
	opts := options.Find().SetSort(bson.D{{Key: "savedAt", Value: -1}, {Key: "movieId", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, domain.WrapTransient(err)
	}
	defer cursor.Close(ctx)

	var docs []savedMovieDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, domain.WrapTransient(err)
	}
	out := make([]domain.SavedMovie, 0, len(docs))
	for _, doc := range docs {
		out = append(out, fromSavedDoc(doc))
	}
	return out, nil
}

func toSavedDoc(m domain.SavedMovie) savedMovieDoc {
	return savedMovieDoc{
		ID:          m.ID,
		MovieID:     m.MovieID,
		Title:       m.Title,
		PosterURL:   m.PosterURL,
		ReleaseDate: m.ReleaseDate,
		VoteAverage: m.VoteAverage,
		SavedAt:     unixMilli(m.SavedAt),
	}
}

func fromSavedDoc(doc savedMovieDoc) domain.SavedMovie {
	return domain.SavedMovie{
		ID:          doc.ID,
		MovieID:     doc.MovieID,
		Title:       doc.Title,
		PosterURL:   doc.PosterURL,
		ReleaseDate: doc.ReleaseDate,
		VoteAverage: doc.VoteAverage,
		SavedAt:     fromUnixMilli(doc.SavedAt),
	}
}
