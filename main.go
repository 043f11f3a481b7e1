package main

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"seriouscast/work/client"
	"seriouscast/work/config"
	"seriouscast/work/gateway"
	"seriouscast/work/handlers"
	"seriouscast/work/lineup"
	"seriouscast/work/logger"
	"seriouscast/work/middleware"
	"seriouscast/work/playlist"
	"seriouscast/work/segment"
	"seriouscast/work/sxm"
)

var (
	Version = "v1.0.0" // default version
)

// our main app worker
func main() {

	// load our config and set up logging
	cfg := config.LoadConfig()
	logger.SetLogLevel(cfg.LogLevel)

	// missing credentials are the one fatal configuration error
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// shared backend HTTP client with cookie jar and rate limiter
	httpClient := client.New(cfg)

	// process-wide session, directory, playlist cache, segment fetcher
	session := sxm.New(cfg, httpClient)
	directory := lineup.New(session)
	playlists := playlist.New(cfg, session, directory)
	segments := segment.New(cfg, session, directory, playlists)

	// rebuild the lineup once after every successful login
	session.OnLogin(func(ctx context.Context) {
		if err := directory.Refresh(ctx); err != nil {
			logger.Warn("{main} lineup refresh after login failed: %v", err)
		}
	})

	// worker pool bounds the number of concurrent stream pumps
	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		log.Fatalf("Failed to create worker pool: %v", err)
	}
	defer workerPool.Release()

	gw := gateway.New(cfg, session, directory, playlists, segments, workerPool)

	// initial sign-in; failures are retried on demand by the first request
	if err := session.Login(context.Background()); err != nil {
		logger.Warn("{main} initial login failed, will retry on demand: %v", err)
	}

	// Setup HTTP routes
	router := mux.NewRouter()

	// Lineup views
	router.HandleFunc("/playlist", middleware.Gzip(handlers.HandleLineupM3U(gw))).Methods("GET")
	router.HandleFunc("/lineup", middleware.Gzip(handlers.HandleLineup(gw))).Methods("GET")

	// HLS playlist, key, and segment proxy
	router.HandleFunc("/hls/{channel:[0-9]+}.m3u8", middleware.Gzip(handlers.HandleHLS(gw))).Methods("GET")
	router.HandleFunc("/hls/{channel:[0-9]+}", middleware.Gzip(handlers.HandleHLS(gw))).Methods("GET")
	router.HandleFunc("/key/1", handlers.HandleKey()).Methods("GET")
	router.HandleFunc("/hls/key/1", handlers.HandleKey()).Methods("GET")
	router.HandleFunc("/segment/{channel:[0-9]+}", handlers.HandleSegment(gw)).Methods("GET")

	// Continuous audio relay
	router.HandleFunc("/channel/{channel:[0-9]+}", handlers.HandleStream(gw)).Methods("GET")
	router.HandleFunc("/channel/{channel:[0-9]+}/{rewind:[0-9]+}", handlers.HandleStream(gw)).Methods("GET")

	// Channel + now-playing metadata
	router.HandleFunc("/metadata/{channel:[0-9]+}", middleware.Gzip(handlers.HandleMetadata(gw))).Methods("GET")

	// Metrics handler
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// show info
	logger.Info("Starting SeriousCast %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Base URL: %s", cfg.BaseURL())
	logger.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("  - Backend Request Rate: %d/s", cfg.RequestsPerSecond)
	logger.Info("  - Playlist Cache Size: %d", cfg.PlaylistCacheSize)
	logger.Info("  - Playlist Idle Wait: %s", cfg.PlaylistIdleWait)
	logger.Info("  - Channels in Lineup: %d", directory.Size())
	logger.Info("  - Debug Enabled: %v", cfg.Debug)
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	// fire us up
	if err := http.ListenAndServe(cfg.ListenAddr(), router); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}

}
