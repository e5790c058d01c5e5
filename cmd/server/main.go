// Command sv-server starts the travel buddy operator backend.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mkarech/skyvault/internal/ai"
	"github.com/mkarech/skyvault/internal/config"
	"github.com/mkarech/skyvault/internal/errs"
	"github.com/mkarech/skyvault/internal/identity"
	"github.com/mkarech/skyvault/internal/limiter"
	"github.com/mkarech/skyvault/internal/migrate"
	"github.com/mkarech/skyvault/internal/server"
	"github.com/mkarech/skyvault/internal/session"
	"github.com/mkarech/skyvault/internal/travel"
	"github.com/mkarech/skyvault/internal/vault"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, bootstraps the vault session, and serves HTTP.
func main() {
	addr := flag.String("addr", "", "listen address (overrides LISTEN_ADDR)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides DATABASE_DSN)")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *dsn != "" {
		cfg.DatabaseDSN = *dsn
	}

	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.ListenAddr),
		zap.Int("nodes", len(cfg.NodeURLs)),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Persistence: Postgres when a DSN is configured, in-memory otherwise.
	var store session.Store = session.NewMemory()
	var lim limiter.Limiter = limiter.Unlimited{}
	if cfg.DatabaseDSN != "" {
		if err := migrate.Up(ctx, cfg.DatabaseDSN); err != nil {
			logger.Fatal("migrate up", zap.Error(err))
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal("pgxpool.New", zap.Error(err))
		}
		defer pool.Close()
		store = session.NewPG(pool)
		lim = limiter.NewPG(pool, cfg.MatchWindow, cfg.MatchMaxCalls)
	}

	builderKP, err := identity.FromSeedHex(cfg.BuilderSeed)
	if err != nil {
		logger.Fatal("builder key", zap.Error(err))
	}

	sessCfg := session.Config{
		AuthURL:     cfg.AuthURL,
		NodeURLs:    cfg.NodeURLs,
		ProfileName: cfg.ProfileName,
		Logger:      logger,
	}
	sess, err := session.Resume(ctx, sessCfg, builderKP, store)
	if errors.Is(err, errs.ErrNoStoredSession) || errors.Is(err, errs.ErrInvalidToken) {
		logger.Info("no resumable session, initializing", zap.String("did", builderKP.DID()))
		sess, err = session.Initialize(ctx, sessCfg, builderKP, store)
	}
	if err != nil {
		logger.Fatal("session bootstrap", zap.Error(err))
	}

	var user *vault.UserClient
	if cfg.UserSeed != "" {
		userKP, err := identity.FromSeedHex(cfg.UserSeed)
		if err != nil {
			logger.Fatal("user key", zap.Error(err))
		}
		user, err = vault.NewUser(ctx, userKP, cfg.NodeURLs, vault.UserOptions{Logger: logger})
		if err != nil {
			logger.Fatal("user client", zap.Error(err))
		}
	}

	var gen ai.Generator
	if cfg.AIKey != "" {
		gen = ai.NewClient(cfg.AIEndpoint, cfg.AIKey, cfg.AIModel, nil)
	}

	travelSvc := travel.NewService(sess.Builder, gen, store, logger)
	app := server.New(travelSvc, sess.Builder, user, lim, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	app.Routes(e)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		errCh <- e.Start(cfg.ListenAddr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("serve", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
	logger.Info("stopped")
}
