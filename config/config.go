package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
)

var conf = mustLoad()

type Config struct {
	Configuration struct {
		Port     string `envconfig:"PORT" default:"3000"`
		JSONLogs bool   `envconfig:"JSON_LOGS" default:"true"`
		LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

		// Upstream music API
		UpstreamBaseURL string        `envconfig:"UPSTREAM_BASE_URL" default:"https://api.spotify.com/v1"`
		UpstreamTimeout time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"15s"`

		// Lyric hint provider
		HintsBaseURL         string  `envconfig:"HINTS_BASE_URL" default:"https://krcs.kugou.com"`
		HintsSearchBaseURL   string  `envconfig:"HINTS_SEARCH_BASE_URL" default:"http://msearchcdn.kugou.com"`
		HintMaxLines         int     `envconfig:"HINT_MAX_LINES" default:"3"`
		MinSimilarityScore   float64 `envconfig:"MIN_SIMILARITY_SCORE" default:"0.6"`
		DurationMatchDeltaMS int     `envconfig:"DURATION_MATCH_DELTA_MS" default:"10000"`

		// Per-identity token bucket
		BucketCapacity    float64       `envconfig:"BUCKET_CAPACITY" default:"8"`
		RefillRate        float64       `envconfig:"REFILL_RATE" default:"3.0"` // tokens per second
		QueuePollInterval time.Duration `envconfig:"QUEUE_POLL_INTERVAL" default:"25ms"`

		// Retry policy
		MaxRetries        int           `envconfig:"MAX_RETRIES" default:"3"`
		BaseRetryDelay    time.Duration `envconfig:"BASE_RETRY_DELAY" default:"500ms"`
		DefaultRetryAfter time.Duration `envconfig:"DEFAULT_RETRY_AFTER" default:"2s"` // 429 without a Retry-After header

		// Per-category cache TTLs
		PlaylistsTTL      time.Duration `envconfig:"TTL_PLAYLISTS" default:"15m"`
		LikedTracksTTL    time.Duration `envconfig:"TTL_LIKED_TRACKS" default:"5m"`
		SavedAlbumsTTL    time.Duration `envconfig:"TTL_SAVED_ALBUMS" default:"12h"`
		PlaylistTracksTTL time.Duration `envconfig:"TTL_PLAYLIST_TRACKS" default:"30m"`
		AlbumTracksTTL    time.Duration `envconfig:"TTL_ALBUM_TRACKS" default:"168h"` // album track lists never change
		HintsTTL          time.Duration `envconfig:"TTL_HINTS" default:"720h"`
		HintMissTTL       time.Duration `envconfig:"TTL_HINT_MISSES" default:"24h"`

		// Aggregation
		PlaylistBatchSize int `envconfig:"PLAYLIST_BATCH_SIZE" default:"5"`
		AlbumBatchSize    int `envconfig:"ALBUM_BATCH_SIZE" default:"3"`
		MaxItemsPerList   int `envconfig:"MAX_ITEMS_PER_LIST" default:"10000"`
		ProgressWindow    int `envconfig:"PROGRESS_WINDOW" default:"50"`

		// Cache store
		CacheFile            string        `envconfig:"CACHE_FILE" default:"./data/cache.db"`
		CacheSweepInterval   time.Duration `envconfig:"CACHE_SWEEP_INTERVAL" default:"10m"`
		CompressionThreshold int           `envconfig:"COMPRESSION_THRESHOLD" default:"4096"` // bytes

		// Game store
		StoreFile string        `envconfig:"STORE_FILE" default:"./data/games.db"`
		StatsFile string        `envconfig:"STATS_FILE" default:"./data/stats.db"`
		RoomTTL   time.Duration `envconfig:"ROOM_TTL" default:"6h"`

		// Inbound HTTP rate limiting
		RateLimitPerSecond        int `envconfig:"RATE_LIMIT_PER_SECOND" default:"5"`
		RateLimitBurstLimit       int `envconfig:"RATE_LIMIT_BURST_LIMIT" default:"10"`
		AdminRateLimitPerSecond   int `envconfig:"ADMIN_RATE_LIMIT_PER_SECOND" default:"2"`
		AdminRateLimitBurstLimit  int `envconfig:"ADMIN_RATE_LIMIT_BURST_LIMIT" default:"5"`

		// Management auth
		APIKey         string `envconfig:"API_KEY" default:""`
		APIKeyRequired bool   `envconfig:"API_KEY_REQUIRED" default:"false"`

		// Circuit breaker in front of the upstream API
		CircuitBreakerThreshold    int           `envconfig:"CIRCUIT_BREAKER_THRESHOLD" default:"10"`
		CircuitBreakerCooldown     time.Duration `envconfig:"CIRCUIT_BREAKER_COOLDOWN" default:"30s"`
		CircuitBreakerHalfOpenWait time.Duration `envconfig:"CIRCUIT_BREAKER_HALF_OPEN_WAIT" default:"10s"`
	}

	FeatureFlags struct {
		CacheCompression bool `envconfig:"FF_CACHE_COMPRESSION" default:"true"`
		CircuitBreaker   bool `envconfig:"FF_CIRCUIT_BREAKER" default:"true"`
		LyricHints       bool `envconfig:"FF_LYRIC_HINTS" default:"true"`
	}
}

// load loads the configuration from the environment.
func load() (Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Warnf("Error loading env config: %v", err)
	}

	cfg := Config{}
	err = envconfig.Process("", &cfg)
	return cfg, err
}

func mustLoad() Config {
	c, err := load()
	if err != nil {
		log.WithError(err).Warnf("Unable to load configuration")
	}

	return c
}

func Get() Config {
	return conf
}
