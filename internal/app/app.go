package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/auth"
	"github.com/vovakirdan/wirechat-relay/internal/config"
	"github.com/vovakirdan/wirechat-relay/internal/core"
	"github.com/vovakirdan/wirechat-relay/internal/store"
	"github.com/vovakirdan/wirechat-relay/internal/store/mongodb"
	"github.com/vovakirdan/wirechat-relay/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/wirechat-relay/internal/transport/http"
)

const storeConnectTimeout = 10 * time.Second

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	store           store.Store
	log             *zerolog.Logger
}

// JWTConfig converts the configured credential settings for the auth package.
func JWTConfig(cfg config.JWTConfig) *auth.JWTConfig {
	return &auth.JWTConfig{
		Secret:   []byte(cfg.Secret),
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
		TTL:      cfg.TTL,
	}
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	jwtConfig := JWTConfig(cfg.JWT)
	authService := auth.NewService(st, jwtConfig)
	verifier := auth.NewVerifier(jwtConfig)

	hub := core.NewHub(st, core.Options{
		SendBuffer:       cfg.SendBuffer,
		MaxContentLength: cfg.MaxContentLength,
		TypingTimeout:    cfg.TypingTimeout,
		WriteTimeout:     cfg.WriteTimeout,
	}, logger)
	server := transporthttp.NewServer(hub, authService, verifier, st, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		log:             logger,
	}, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *zerolog.Logger) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverMongo:
		ctx, cancel := context.WithTimeout(ctx, storeConnectTimeout)
		defer cancel()
		st, err := mongodb.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("database", cfg.MongoDatabase).Msg("mongodb store initialized")
		return st, nil
	case config.DriverSQLite, "":
		st, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("db_path", cfg.SQLitePath).Msg("sqlite store initialized")
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup stops typing timers and closes the store.
func (a *App) cleanup() {
	a.hub.Close()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
