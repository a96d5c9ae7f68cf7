// Package tmdb is the movie catalog backed by The Movie Database API.
package tmdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coocood/freecache"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"

	"cinetrack/internal/domain"
	"cinetrack/internal/metrics"
	"cinetrack/internal/retry"
)

const (
	defaultBaseURL         = "https://api.themoviedb.org/3"
	posterBaseURL          = "https://image.tmdb.org/t/p/w342"
	defaultLanguage        = "en-US"
	redisCacheKey          = "cinetrack:tmdb:"
	defaultLocalCacheBytes = 8 << 20
	localCacheTTL          = 10 * time.Minute
	popularCacheTTL        = time.Hour
	maxBodyBytes           = 512 * 1024
)

var ErrMissingAPIKey = errors.New("tmdb api key not configured")

type Config struct {
	APIKey   string
	BaseURL  string
	Language string
	Client   *http.Client
	Redis    *redis.Client
	CacheTTL time.Duration
	// LocalCacheBytes sizes the in-process cache; 0 uses 8 MiB.
	LocalCacheBytes int
	Logger          *slog.Logger
}

type Client struct {
	apiKey   string
	baseURL  string
	language string
	http     *http.Client
	redis    *redis.Client
	local    *freecache.Cache
	cacheTTL time.Duration
	logger   *slog.Logger
	group    singleflight.Group
}

type movieResult struct {
	ID          int     `json:"id"`
	Title       string  `json:"title"`
	Overview    string  `json:"overview,omitempty"`
	PosterPath  string  `json:"poster_path,omitempty"`
	ReleaseDate string  `json:"release_date,omitempty"`
	VoteAverage float64 `json:"vote_average,omitempty"`
	Popularity  float64 `json:"popularity,omitempty"`
}

func (r movieResult) summary() domain.MovieSummary {
	poster := ""
	if r.PosterPath != "" {
		poster = posterBaseURL + r.PosterPath
	}
	return domain.MovieSummary{
		ID:          r.ID,
		Title:       r.Title,
		Overview:    r.Overview,
		PosterURL:   poster,
		ReleaseDate: r.ReleaseDate,
		VoteAverage: r.VoteAverage,
		Popularity:  r.Popularity,
	}
}

type pagedResponse struct {
	Page    int           `json:"page"`
	Results []movieResult `json:"results"`
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	language := strings.TrimSpace(cfg.Language)
	if language == "" {
		language = defaultLanguage
	}
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 7 * 24 * time.Hour
	}
	localBytes := cfg.LocalCacheBytes
	if localBytes <= 0 {
		localBytes = defaultLocalCacheBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiKey:   strings.TrimSpace(cfg.APIKey),
		baseURL:  strings.TrimRight(baseURL, "/"),
		language: language,
		http:     httpClient,
		redis:    cfg.Redis,
		local:    freecache.NewCache(localBytes),
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// SearchMovies returns catalog matches for query in TMDB relevance order.
func (c *Client) SearchMovies(ctx context.Context, query string) ([]domain.MovieSummary, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, retry.Permanent(fmt.Errorf("%w: empty query", domain.ErrInvalidQuery))
	}
	key := fmt.Sprintf("search:%s:%s", c.language, strings.ToLower(query))
	return c.cached(ctx, key, c.cacheTTL, func(ctx context.Context) ([]domain.MovieSummary, error) {
		return c.fetch(ctx, "search", "/search/movie", url.Values{
			"query":         {query},
			"include_adult": {"false"},
		})
	})
}

// DiscoverPopular returns the first page of movies ordered by popularity.
func (c *Client) DiscoverPopular(ctx context.Context) ([]domain.MovieSummary, error) {
	ttl := min(c.cacheTTL, popularCacheTTL)
	return c.cached(ctx, "popular:"+c.language, ttl, func(ctx context.Context) ([]domain.MovieSummary, error) {
		return c.fetch(ctx, "discover", "/discover/movie", url.Values{
			"sort_by":       {"popularity.desc"},
			"include_adult": {"false"},
			"page":          {"1"},
		})
	})
}

func (c *Client) cached(ctx context.Context, key string, ttl time.Duration, load func(context.Context) ([]domain.MovieSummary, error)) ([]domain.MovieSummary, error) {
	if data, err := c.local.Get([]byte(key)); err == nil {
		var movies []domain.MovieSummary
		if json.Unmarshal(data, &movies) == nil {
			metrics.CacheHitsTotal.WithLabelValues("memory").Inc()
			return movies, nil
		}
	}

	if c.redis != nil {
		data, err := c.redis.Get(ctx, redisCacheKey+key).Bytes()
		switch {
		case err == nil:
			var movies []domain.MovieSummary
			if json.Unmarshal(data, &movies) == nil {
				metrics.CacheHitsTotal.WithLabelValues("redis").Inc()
				c.storeLocal(key, data, ttl)
				return movies, nil
			}
		case !errors.Is(err, redis.Nil):
			c.logger.Debug("tmdb redis cache read failed", slog.String("error", err.Error()))
		}
	}
	metrics.CacheMissesTotal.Inc()

	value, err, _ := c.group.Do(key, func() (any, error) {
		movies, err := load(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(movies)
		if err != nil {
			return movies, nil
		}
		c.storeLocal(key, data, ttl)
		if c.redis != nil {
			if err := c.redis.Set(ctx, redisCacheKey+key, data, ttl).Err(); err != nil {
				c.logger.Debug("tmdb redis cache write failed", slog.String("error", err.Error()))
			}
		}
		return movies, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]domain.MovieSummary), nil
}

func (c *Client) storeLocal(key string, data []byte, ttl time.Duration) {
	_ = c.local.Set([]byte(key), data, int(min(ttl, localCacheTTL).Seconds()))
}

func (c *Client) fetch(ctx context.Context, operation, path string, params url.Values) ([]domain.MovieSummary, error) {
	if !c.Enabled() {
		return nil, retry.Permanent(ErrMissingAPIKey)
	}
	params.Set("api_key", c.apiKey)
	params.Set("language", c.language)

	started := time.Now()
	movies, status, err := c.do(ctx, path, params)
	metrics.CatalogRequestDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
	metrics.CatalogRequestsTotal.WithLabelValues(operation, status).Inc()
	return movies, err
}

func (c *Client) do(ctx context.Context, path string, params url.Values) ([]domain.MovieSummary, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, "error", retry.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "error", domain.WrapTransient(err)
	}
	defer resp.Body.Close()

	status := strconv.Itoa(resp.StatusCode)
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		httpErr := fmt.Errorf("tmdb HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, status, domain.WrapTransient(httpErr)
		}
		return nil, status, retry.Permanent(httpErr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, status, domain.WrapTransient(err)
	}
	var response pagedResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, status, domain.WrapTransient(fmt.Errorf("decode tmdb response: %w", err))
	}

	movies := make([]domain.MovieSummary, 0, len(response.Results))
	for _, r := range response.Results {
		if r.ID <= 0 {
			continue
		}
		movies = append(movies, r.summary())
	}
	return movies, status, nil
}
