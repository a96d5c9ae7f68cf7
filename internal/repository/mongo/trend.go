package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"cinetrack/internal/domain"
)

const trendCollection = "trend_aggregates"

type trendDoc struct {
	ID             string   `bson:"_id"`
	MovieID        int      `bson:"movieId"`
	SearchTerms    []string `bson:"searchTerms"`
	LastSearchTerm string   `bson:"lastSearchTerm"`
	Count          int      `bson:"count"`
	Title          string   `bson:"title"`
	PosterURL      string   `bson:"posterUrl,omitempty"`
	ReleaseDate    string   `bson:"releaseDate,omitempty"`
	VoteAverage    float64  `bson:"voteAverage,omitempty"`
	LastSearchedAt int64    `bson:"lastSearchedAt"`
	UpdatedAt      int64    `bson:"updatedAt"`
	CreatedAt      int64    `bson:"createdAt"`
	MergedIDs      []string `bson:"mergedIds,omitempty"`
}

// topSort is the ranking used by ListTop and FindByMovieID.
var topSort = bson.D{
	{Key: "count", Value: -1},
	{Key: "lastSearchedAt", Value: -1},
	{Key: "_id", Value: 1},
}

type TrendRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewTrendRepository(client *mongo.Client, dbName string) *TrendRepository {
	return &TrendRepository{
		collection: client.Database(dbName).Collection(trendCollection),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// EnsureIndexes creates the lookup and ranking indexes. movieId is not
// unique; duplicates stay until the reconciler merges them.
func (r *TrendRepository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "movieId", Value: 1}}},
		{Keys: bson.D{{Key: "count", Value: -1}, {Key: "lastSearchedAt", Value: -1}}},
		{Keys: bson.D{{Key: "createdAt", Value: 1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, models)
	return err
}

func (r *TrendRepository) FindByMovieID(ctx context.Context, movieID int) (domain.TrendAggregate, error) {
	var doc trendDoc
	opts := options.FindOne().SetSort(topSort)
	if err := r.collection.FindOne(ctx, bson.M{"movieId": movieID}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.TrendAggregate{}, domain.ErrNotFound
		}
		return domain.TrendAggregate{}, domain.WrapTransient(err)
	}
	return fromTrendDoc(doc), nil
}

func (r *TrendRepository) Create(ctx context.Context, agg domain.TrendAggregate) (domain.TrendAggregate, error) {
	if agg.ID == "" {
		agg.ID = uuid.NewString()
	}
	now := r.now()
	if agg.CreatedAt.IsZero() {
		agg.CreatedAt = now
	}
	if agg.UpdatedAt.IsZero() {
		agg.UpdatedAt = agg.CreatedAt
	}
	if _, err := r.collection.InsertOne(ctx, toTrendDoc(agg)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.TrendAggregate{}, domain.ErrAlreadyExists
		}
		return domain.TrendAggregate{}, domain.WrapTransient(err)
	}
	return agg, nil
}

func (r *TrendRepository) Update(ctx context.Context, id string, patch domain.AggregatePatch) (domain.TrendAggregate, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc trendDoc
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": patchFields(patch, r.now())}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.TrendAggregate{}, domain.ErrNotFound
		}
		return domain.TrendAggregate{}, domain.WrapTransient(err)
	}
	return fromTrendDoc(doc), nil
}

func (r *TrendRepository) Delete(ctx context.Context, id string) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return domain.WrapTransient(err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *TrendRepository) ListTop(ctx context.Context, limit int) ([]domain.TrendAggregate, error) {
	return r.find(ctx, options.Find().SetSort(topSort), limit)
}

func (r *TrendRepository) ListAll(ctx context.Context, limit int) ([]domain.TrendAggregate, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	return r.find(ctx, opts, limit)
}

func (r *TrendRepository) find(ctx context.Context, opts *options.FindOptions, limit int) ([]domain.TrendAggregate, error) {
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, domain.WrapTransient(err)
	}
	defer cursor.Close(ctx)

	var docs []trendDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, domain.WrapTransient(err)
	}
	out := make([]domain.TrendAggregate, 0, len(docs))
	for _, doc := range docs {
		out = append(out, fromTrendDoc(doc))
	}
	return out, nil
}

func patchFields(patch domain.AggregatePatch, now time.Time) bson.M {
	terms := patch.SearchTerms
	if terms == nil {
		terms = []string{}
	}
	set := bson.M{
		"searchTerms":    terms,
		"lastSearchTerm": patch.LastSearchTerm,
		"count":          patch.Count,
		"updatedAt":      now.UnixMilli(),
	}
	if !patch.LastSearchedAt.IsZero() {
		set["lastSearchedAt"] = patch.LastSearchedAt.UnixMilli()
	}
	if patch.Movie != nil {
		set["title"] = patch.Movie.Title
		set["posterUrl"] = patch.Movie.PosterURL
		set["releaseDate"] = patch.Movie.ReleaseDate
		set["voteAverage"] = patch.Movie.VoteAverage
	}
	if patch.MergedIDs != nil {
		set["mergedIds"] = patch.MergedIDs
	}
	return set
}

func toTrendDoc(agg domain.TrendAggregate) trendDoc {
	terms := agg.SearchTerms
	if terms == nil {
		terms = []string{}
	}
	return trendDoc{
		ID:             agg.ID,
		MovieID:        agg.MovieID,
		SearchTerms:    terms,
		LastSearchTerm: agg.LastSearchTerm,
		Count:          agg.Count,
		Title:          agg.Title,
		PosterURL:      agg.PosterURL,
		ReleaseDate:    agg.ReleaseDate,
		VoteAverage:    agg.VoteAverage,
		LastSearchedAt: unixMilli(agg.LastSearchedAt),
		UpdatedAt:      unixMilli(agg.UpdatedAt),
		CreatedAt:      unixMilli(agg.CreatedAt),
		MergedIDs:      agg.MergedIDs,
	}
}

func fromTrendDoc(doc trendDoc) domain.TrendAggregate {
	return domain.TrendAggregate{
		ID:             doc.ID,
		MovieID:        doc.MovieID,
		SearchTerms:    doc.SearchTerms,
		LastSearchTerm: doc.LastSearchTerm,
		Count:          doc.Count,
		Title:          doc.Title,
		PosterURL:      doc.PosterURL,
		ReleaseDate:    doc.ReleaseDate,
		VoteAverage:    doc.VoteAverage,
		LastSearchedAt: fromUnixMilli(doc.LastSearchedAt),
		UpdatedAt:      fromUnixMilli(doc.UpdatedAt),
		CreatedAt:      fromUnixMilli(doc.CreatedAt),
		MergedIDs:      doc.MergedIDs,
	}
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
