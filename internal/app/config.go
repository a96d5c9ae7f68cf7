package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"cinetrack/internal/retry"
)

type Config struct {
	HTTPAddr          string
	RequestTimeout    time.Duration
	LogLevel          string
	LogFormat         string
	MongoURI          string
	MongoDatabase     string
	BoltPath          string
	RedisURL          string
	NATSURL           string
	NATSSubject       string
	TMDBAPIKey        string
	TMDBBaseURL       string
	TMDBLanguage      string
	TMDBCacheTTL      time.Duration
	Retry             retry.Config
	ReconcileInterval time.Duration
	ReconcileMaxScan  int
	TrendingLimit     int
	RateLimitRPS      float64
	RateLimitBurst    int
}

var defaults = map[string]any{
	"HTTP_ADDR":               ":8080",
	"REQUEST_TIMEOUT_SECONDS": 10,
	"LOG_LEVEL":               "info",
	"LOG_FORMAT":              "text",
	"MONGO_URI":               "",
	"MONGO_DB":                "cinetrack",
	"BOLT_PATH":               "data/cinetrack.db",
	"REDIS_URL":               "",
	"NATS_URL":                "",
	"NATS_SUBJECT":            "cinetrack.search.recorded",
	"TMDB_API_KEY":            "",
	"TMDB_BASE_URL":           "https://api.themoviedb.org/3",
	"TMDB_LANGUAGE":           "en-US",
	"TMDB_CACHE_TTL_DAYS":     7,
	"RETRY_MAX":               3,
	"RETRY_BASE_DELAY_MS":     500,
	"RETRY_MAX_DELAY_MS":      8000,
	"RETRY_JITTER":            false,
	"RECONCILE_INTERVAL":      "15m",
	"RECONCILE_MAX_SCAN":      5000,
	"TRENDING_LIMIT":          10,
	"RATE_LIMIT_RPS":          20.0,
	"RATE_LIMIT_BURST":        40,
}

// LoadConfig resolves settings from the environment, a .env file in the
// working directory, and the YAML file named by CONFIG_FILE, in that order
// of precedence.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path := strings.TrimSpace(v.GetString("CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	reconcileInterval, err := durationValue(v, "RECONCILE_INTERVAL")
	if err != nil {
		return Config{}, err
	}

	return Config{
		HTTPAddr:          stringValue(v, "HTTP_ADDR"),
		RequestTimeout:    time.Duration(positiveInt(v, "REQUEST_TIMEOUT_SECONDS")) * time.Second,
		LogLevel:          strings.ToLower(stringValue(v, "LOG_LEVEL")),
		LogFormat:         strings.ToLower(stringValue(v, "LOG_FORMAT")),
		MongoURI:          stringValue(v, "MONGO_URI"),
		MongoDatabase:     stringValue(v, "MONGO_DB"),
		BoltPath:          stringValue(v, "BOLT_PATH"),
		RedisURL:          stringValue(v, "REDIS_URL"),
		NATSURL:           stringValue(v, "NATS_URL"),
		NATSSubject:       stringValue(v, "NATS_SUBJECT"),
		TMDBAPIKey:        stringValue(v, "TMDB_API_KEY"),
		TMDBBaseURL:       stringValue(v, "TMDB_BASE_URL"),
		TMDBLanguage:      stringValue(v, "TMDB_LANGUAGE"),
		TMDBCacheTTL:      time.Duration(positiveInt(v, "TMDB_CACHE_TTL_DAYS")) * 24 * time.Hour,
		Retry: retry.Config{
			MaxRetries: nonNegativeInt(v, "RETRY_MAX"),
			BaseDelay:  time.Duration(positiveInt(v, "RETRY_BASE_DELAY_MS")) * time.Millisecond,
			MaxDelay:   time.Duration(positiveInt(v, "RETRY_MAX_DELAY_MS")) * time.Millisecond,
			Jitter:     v.GetBool("RETRY_JITTER"),
		},
		ReconcileInterval: reconcileInterval,
		ReconcileMaxScan:  positiveInt(v, "RECONCILE_MAX_SCAN"),
		TrendingLimit:     positiveInt(v, "TRENDING_LIMIT"),
		RateLimitRPS:      positiveFloat(v, "RATE_LIMIT_RPS"),
		RateLimitBurst:    positiveInt(v, "RATE_LIMIT_BURST"),
	}, nil
}

func stringValue(v *viper.Viper, key string) string {
	value := strings.TrimSpace(v.GetString(key))
	if value == "" {
		if fallback, ok := defaults[key].(string); ok {
			return fallback
		}
	}
	return value
}

// positiveInt falls back to the default for unparsable or non-positive values.
func positiveInt(v *viper.Viper, key string) int {
	if parsed := v.GetInt(key); parsed > 0 {
		return parsed
	}
	return defaults[key].(int)
}

func nonNegativeInt(v *viper.Viper, key string) int {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "0" {
		return 0
	}
	return positiveInt(v, key)
}

func positiveFloat(v *viper.Viper, key string) float64 {
	if parsed := v.GetFloat64(key); parsed > 0 {
		return parsed
	}
	return defaults[key].(float64)
}

// durationValue accepts Go durations ("15m") and bare seconds ("900").
// Zero disables the schedule.
func durationValue(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		raw = defaults[key].(string)
	}
	if d, err := time.ParseDuration(raw); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("%s must not be negative", key)
		}
		return d, nil
	}
	seconds := v.GetInt(key)
	if seconds < 0 || (seconds == 0 && raw != "0") {
		return 0, fmt.Errorf("%s: invalid duration %q", key, raw)
	}
	return time.Duration(seconds) * time.Second, nil
}
