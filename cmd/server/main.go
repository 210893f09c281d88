package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ROMARIC12/chatfull/internal/api"
	"github.com/ROMARIC12/chatfull/internal/config"
	"github.com/ROMARIC12/chatfull/internal/crypto"
	"github.com/ROMARIC12/chatfull/internal/delivery"
	"github.com/ROMARIC12/chatfull/internal/membership"
	"github.com/ROMARIC12/chatfull/internal/presence"
	"github.com/ROMARIC12/chatfull/internal/realtime"
	"github.com/ROMARIC12/chatfull/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	// Redis is optional: without it rate limits are per process and logout
	// does not revoke tokens.
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	hubCfg := realtime.DefaultConfig()
	hubCfg.PongWait = cfg.HeartbeatTimeout
	hubCfg.RateLimit = rate.Limit(cfg.WSRateLimit)
	hubCfg.RateBurst = cfg.WSRateBurst
	hub := realtime.NewHub(hubCfg, logger)

	registry := presence.NewRegistry(hub, db, logger, cfg.RefCountPresence())
	index := membership.NewIndex(db, hub, logger, cfg.StrictChannelJoin)
	media := delivery.NewMediaStore(afero.NewOsFs(), cfg.UploadDir, cfg.BaseURL, cfg.MaxUploadFiles, cfg.MaxUploadBytes)
	coord := delivery.New(db, index, hub, media, logger)
	hub.SetHandler(delivery.NewSocketHandler(registry, index, coord, logger))

	router := api.NewRouter(api.Deps{
		Config:      cfg,
		Logger:      logger,
		Store:       db,
		Redis:       redisStore,
		Tokens:      crypto.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL),
		Hub:         hub,
		Registry:    registry,
		Coordinator: coord,
		Media:       media,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("presence", cfg.PresenceMode).
			Bool("strict_join", cfg.StrictChannelJoin).
			Msg("starting chat server")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server...")

		// Graceful shutdown with 30 second timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if herr := hub.Shutdown(10 * time.Second); herr != nil {
			logger.Warn().Err(herr).Msg("websocket connections did not drain")
		}
		coord.Wait()
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("server stopped with error")
	}
	logger.Info().Msg("server stopped")
}

// openStore connects to Postgres when DATABASE_URL is set and falls back to
// a local SQLite file otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.DataStore, error) {
	if cfg.DatabaseURL == "" {
		db, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite store")
		return db, nil
	}

	logger.Info().Msg("running database migrations...")
	if err := store.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
		return nil, err
	}
	logger.Info().Msg("migrations completed")

	db, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("connected to PostgreSQL")
	return db, nil
}
