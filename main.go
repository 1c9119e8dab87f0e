// ABOUTME: Entry point for the portal session gateway service
// ABOUTME: Wires stores, login orchestration, security gateway, and sync scheduler behind the HTTP API

package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/markalston/portal-gateway/config"
	"github.com/markalston/portal-gateway/db"
	"github.com/markalston/portal-gateway/db/migrate"
	"github.com/markalston/portal-gateway/handlers"
	"github.com/markalston/portal-gateway/logger"
	"github.com/markalston/portal-gateway/repository"
	"github.com/markalston/portal-gateway/services"
	"github.com/markalston/portal-gateway/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	migrateDir := flag.String("migrate", "", "apply database migrations (up or down) and exit")
	flag.Parse()

	// Initialize structured logging
	logger.Init()

	if *migrateDir != "" {
		if err := migrate.Run(os.Getenv("DATABASE_URL"), *migrateDir); err != nil {
			slog.Error("Migration failed", "direction", *migrateDir, "error", err)
			os.Exit(1)
		}
		slog.Info("Migrations applied", "direction", *migrateDir)
		return
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("Gateway stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting portal gateway",
		"portal", cfg.PortalBaseURL,
		"api", cfg.PortalAPIURL,
		"session_store", cfg.SessionStore,
		"trusted_proxies", len(cfg.TrustedProxies),
	)

	var backends store.Backends
	if cfg.DatabaseURL != "" {
		if err := migrate.Run(cfg.DatabaseURL, "up"); err != nil {
			return err
		}
		conn, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer conn.Close()
		backends.DB = conn
		slog.Info("Database connected")
	}
	if cfg.RedisURL != "" {
		client, err := store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		backends.Redis = client
		slog.Info("Redis connected")
	}

	sessions, err := store.New(cfg, backends)
	if err != nil {
		return err
	}
	repo := repository.New(backends.DB)
	if backends.DB == nil {
		slog.Warn("DATABASE_URL not set, synced resources are kept in memory only")
	}

	locks := services.NewOwnerLocks()
	portal := services.NewPortalClient(cfg, sessions, locks)
	automation := services.NewChromeAutomation(cfg, services.DefaultPortalPage())
	login := services.NewLoginOrchestrator(automation, sessions, locks, cfg.LoginStartTimeout, cfg.LoginPhaseTimeout)
	gateway := services.NewSecurityGateway(cfg)
	scheduler := services.NewSyncScheduler(portal, sessions, repo, cfg.SyncInterval, cfg.SyncDownloadPDF)

	h := handlers.NewHandler(cfg, handlers.Deps{
		Store:     sessions,
		Login:     login,
		Gateway:   gateway,
		Portal:    portal,
		Repo:      repo,
		Scheduler: scheduler,
	})

	read, write, idle := handlers.ServerTimeouts(cfg)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      h.NewMux(handlers.Stacks(cfg, gateway)),
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}

	if cfg.SyncEnabled {
		scheduler.Start(ctx)
	} else {
		slog.Info("Sync scheduler disabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		login.RunSweeper(gctx, cfg.LoginSweepInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down")
		return shutdown(srv, scheduler, login)
	})

	return g.Wait()
}

// shutdown drains HTTP first so no new login can start while browsers close
func shutdown(srv *http.Server, scheduler *services.SyncScheduler, login *services.LoginOrchestrator) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := srv.Shutdown(ctx)
	scheduler.Stop()
	return errors.Join(err, login.Shutdown(ctx))
}
