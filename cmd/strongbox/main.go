package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lgulliver/strongbox/internal/auth"
	"github.com/lgulliver/strongbox/internal/common"
	"github.com/lgulliver/strongbox/internal/files"
	"github.com/lgulliver/strongbox/internal/history"
	"github.com/lgulliver/strongbox/internal/notify"
	"github.com/lgulliver/strongbox/internal/pathguard"
	"github.com/lgulliver/strongbox/internal/storage"
	"github.com/lgulliver/strongbox/internal/upload"
	"github.com/lgulliver/strongbox/pkg/config"
	"github.com/lgulliver/strongbox/pkg/utils"
	"github.com/lgulliver/strongbox/pkg/version"
	"github.com/rs/zerolog/log"
)

func main() {
	genSecret := flag.Bool("gen-secret", false, "Print a random value for API_PASSWORD and exit")
	flag.Parse()

	if *genSecret {
		secret, err := utils.GenerateAPIKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate secret: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(secret)
		return
	}

	// Load configuration
	cfg := config.LoadFromEnv()
	cfg.Logging.SetupLogging()

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().Str("version", version.Version).Msg("Starting strongbox")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, cleanup, err := buildServices(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer cleanup()

	go svc.uploads.Run(ctx)

	router := setupRouter(svc, cfg.Server.MaxBodyBytes, cfg.Server.StaticDir)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	} else {
		log.Info().Msg("Server shutdown complete")
	}
}

// buildServices wires storage, the upload manager and the optional database
// and Redis backends. The returned cleanup releases them in reverse order.
func buildServices(ctx context.Context, cfg *config.Config) (*services, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*services, func(), error) {
		cleanup()
		return nil, nil, err
	}

	guard, err := pathguard.New(cfg.Storage.StorageRoot, cfg.Storage.TempRoot)
	if err != nil {
		return fail(fmt.Errorf("failed to set up path guard: %w", err))
	}

	store, err := storage.NewLocalStorage(cfg.Storage.StorageRoot, guard)
	if err != nil {
		return fail(err)
	}

	registry, err := upload.NewRegistry(cfg.Storage.TempRoot, guard)
	if err != nil {
		return fail(err)
	}

	var historyService *history.Service
	var recorder upload.Recorder
	db, err := common.NewDatabase(&cfg.Database)
	if err != nil {
		return fail(err)
	}
	if db != nil {
		closers = append(closers, func() { db.Close() })
		if err := db.Migrate(); err != nil {
			return fail(fmt.Errorf("failed to run migrations: %w", err))
		}
		historyService = history.NewService(db)
		recorder = historyService
	}

	var hub notify.Hub = notify.NewMemoryHub()
	if cfg.Redis.Enabled {
		client, err := common.NewRedisClient(&cfg.Redis)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { client.Close() })

		redisHub, err := notify.NewRedisHub(ctx, client, cfg.Redis.Channel)
		if err != nil {
			return fail(err)
		}
		hub = redisHub
		log.Info().Str("channel", cfg.Redis.Channel).Msg("progress events fan out through redis")
	}
	closers = append(closers, func() { hub.Close() })

	authService, err := auth.NewService(&cfg.Auth)
	if err != nil {
		return fail(err)
	}

	manager := upload.NewManager(upload.Options{
		MaxChunkSize:  cfg.Storage.MaxChunkSize,
		SessionTTL:    cfg.Storage.SessionTTL,
		SweepInterval: cfg.Storage.SweepInterval,
		CompletedTTL:  cfg.Storage.CompletedTTL,
	}, registry, store, hub, recorder)

	return &services{
		auth:    authService,
		uploads: manager,
		files:   files.NewService(store, cfg.Storage.SmallUploadLimit),
		history: historyService,
		events:  hub,
	}, cleanup, nil
}
