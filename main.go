package main

import (
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"songpool-api-go/broadcast"
	"songpool-api-go/cache"
	"songpool-api-go/circuitbreaker"
	"songpool-api-go/config"
	"songpool-api-go/game"
	"songpool-api-go/logcolors"
	"songpool-api-go/middleware"
	"songpool-api-go/ratelimit"
	"songpool-api-go/services/hints"
	"songpool-api-go/services/hints/kugou"
	"songpool-api-go/services/library"
	"songpool-api-go/services/notifier"
	"songpool-api-go/services/spotify"
	"songpool-api-go/stats"
	"songpool-api-go/upstream"

	"golang.org/x/time/rate"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
)

var conf = config.Get()

// Components wired once at startup and shared by the handlers
var (
	persistentCache *cache.PersistentCache
	statsStore      *stats.Store
	gameService     *game.Service
	hub             *broadcast.Hub
	spotifyClient   *spotify.Client
	catalog         *library.CachedCatalog
	hintService     *hints.Service
	breaker         *circuitbreaker.CircuitBreaker
	outLimiter      *ratelimit.Limiter

	// In-flight hint lookups keyed by song id, so concurrent requests for
	// the same song share one upstream fetch
	inFlightHints sync.Map
)

// publicPaths never require an API key: everything a player touches during a
// game stays open, only the management surface is guarded.
var publicPaths = []string{"/", "/health", "/rooms*", "/ws*", "/profile", "/playlists"}

func init() {
	if conf.Configuration.JSONLogs {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	log.SetOutput(os.Stdout)

	level, err := log.ParseLevel(conf.Configuration.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if err := godotenv.Load(); err != nil {
		log.Warn("Error loading .env file, using environment variables")
	}
}

func main() {
	var err error

	// Persistent cache, with backups living next to the database file
	backupDir := filepath.Join(filepath.Dir(conf.Configuration.CacheFile), "backups")
	persistentCache, err = cache.NewPersistentCache(
		conf.Configuration.CacheFile,
		backupDir,
		conf.FeatureFlags.CacheCompression,
		conf.Configuration.CompressionThreshold,
	)
	if err != nil {
		notifier.PublishServerStartupFailed("cache", err)
		log.Fatalf("%s Failed to open cache: %v", logcolors.LogStartup, err)
	}
	persistentCache.StartSweeper(conf.Configuration.CacheSweepInterval)

	// Stats survive restarts via their own bbolt file
	statsStore, err = stats.NewStore(conf.Configuration.StatsFile)
	if err != nil {
		notifier.PublishServerStartupFailed("stats", err)
		log.Fatalf("%s Failed to open stats store: %v", logcolors.LogStartup, err)
	}
	if err := statsStore.Load(); err != nil {
		log.Warnf("%s Could not load persisted stats: %v", logcolors.LogStats, err)
	}
	statsStore.StartAutoSave(5 * time.Minute)

	// Outbound pipeline: per-player token buckets, an optional circuit
	// breaker, and a retrying executor on top of a plain http.Client
	outLimiter = ratelimit.NewLimiter(ratelimit.Config{
		Capacity:     conf.Configuration.BucketCapacity,
		RefillRate:   conf.Configuration.RefillRate,
		PollInterval: conf.Configuration.QueuePollInterval,
	})

	if conf.FeatureFlags.CircuitBreaker {
		breaker = circuitbreaker.New(circuitbreaker.Config{
			Name:            "spotify",
			Threshold:       conf.Configuration.CircuitBreakerThreshold,
			Cooldown:        conf.Configuration.CircuitBreakerCooldown,
			HalfOpenTimeout: conf.Configuration.CircuitBreakerHalfOpenWait,
		})
	} else {
		log.Infof("%s Circuit breaker disabled by feature flag", logcolors.LogStartup)
	}

	httpClient := &http.Client{Timeout: conf.Configuration.UpstreamTimeout}
	executor := upstream.NewExecutor(outLimiter, httpClient, breaker, upstream.Config{
		MaxRetries:        conf.Configuration.MaxRetries,
		BaseDelay:         conf.Configuration.BaseRetryDelay,
		DefaultRetryAfter: conf.Configuration.DefaultRetryAfter,
	})

	spotifyClient = spotify.NewClient(executor, conf.Configuration.UpstreamBaseURL, conf.Configuration.MaxItemsPerList)
	catalog = library.NewCachedCatalog(spotifyClient, persistentCache, library.TTLConfig{
		Playlists:      conf.Configuration.PlaylistsTTL,
		LikedTracks:    conf.Configuration.LikedTracksTTL,
		SavedAlbums:    conf.Configuration.SavedAlbumsTTL,
		PlaylistTracks: conf.Configuration.PlaylistTracksTTL,
		AlbumTracks:    conf.Configuration.AlbumTracksTTL,
	})
	aggregator := library.NewAggregator(catalog, library.Config{
		PlaylistBatchSize: conf.Configuration.PlaylistBatchSize,
		AlbumBatchSize:    conf.Configuration.AlbumBatchSize,
		ProgressWindow:    conf.Configuration.ProgressWindow,
	})

	if conf.FeatureFlags.LyricHints {
		provider := kugou.NewClient(executor, conf.Configuration.HintsSearchBaseURL, conf.Configuration.HintsBaseURL)
		hintService = hints.NewService(provider, persistentCache, hints.Config{
			MaxLines: conf.Configuration.HintMaxLines,
			TTL:      conf.Configuration.HintsTTL,
			MissTTL:  conf.Configuration.HintMissTTL,
		})
	} else {
		log.Infof("%s Lyric hints disabled by feature flag", logcolors.LogStartup)
	}

	// Game state: bbolt-backed rooms plus the WebSocket hub
	gameStore, err := game.NewBoltStore(conf.Configuration.StoreFile, conf.Configuration.CompressionThreshold)
	if err != nil {
		notifier.PublishServerStartupFailed("game store", err)
		log.Fatalf("%s Failed to open game store: %v", logcolors.LogStartup, err)
	}
	hub = broadcast.NewHub()
	gameService = game.NewService(gameStore, aggregator, hub)

	restored, err := gameService.LoadRooms()
	if err != nil {
		log.Warnf("%s Could not restore rooms: %v", logcolors.LogStartup, err)
	}

	reaper := game.NewReaper(gameService, conf.Configuration.RoomTTL)
	reaper.Start(15 * time.Minute)

	if notifiers := setupNotifiers(); len(notifiers) > 0 {
		notifier.NewAlertHandler(notifier.AlertConfig{Notifiers: notifiers}).Start()
	}

	// Flush stats and close the stores on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Infof("%s Shutting down", logcolors.LogServer)
		statsStore.Close()
		persistentCache.Close()
		os.Exit(0)
	}()

	router := mux.NewRouter()
	setupRoutes(router)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-API-Key"},
	})

	limiter := middleware.NewIPRateLimiter(
		rate.Limit(conf.Configuration.RateLimitPerSecond), conf.Configuration.RateLimitBurstLimit,
		rate.Limit(conf.Configuration.AdminRateLimitPerSecond), conf.Configuration.AdminRateLimitBurstLimit,
	)

	// chain middleware: api key guard innermost, then logging, cors, rate limiting
	authedRouter := middleware.APIKeyMiddleware(conf.Configuration.APIKey, conf.Configuration.APIKeyRequired, publicPaths)(router)
	loggedRouter := middleware.LoggingMiddleware(authedRouter)
	corsHandler := c.Handler(loggedRouter)
	handler := limitMiddleware(corsHandler, limiter)

	port := conf.Configuration.Port

	notifier.PublishServerStarted(port, restored)
	log.Infof("%s Server listening on port %s (%d room(s) restored)", logcolors.LogServer, port, restored)
	log.Fatal(http.ListenAndServe(":"+port, handler))
}
