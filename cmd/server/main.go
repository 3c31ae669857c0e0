package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/npezzotti/go-whiteboard/internal/api"
	"github.com/npezzotti/go-whiteboard/internal/auth"
	"github.com/npezzotti/go-whiteboard/internal/config"
	"github.com/npezzotti/go-whiteboard/internal/database"
	"github.com/npezzotti/go-whiteboard/internal/logger"
	"github.com/npezzotti/go-whiteboard/internal/server"
	"github.com/npezzotti/go-whiteboard/internal/stats"
	flag "github.com/spf13/pflag"
)

var (
	addr           string
	storeDriver    string
	dsn            string
	signingKey     string
	allowedOrigins []string
	debug          bool
	migrate        bool
	envFile        string
)

// overlay applies the flags given on the command line on top of cfg.
func overlay(cfg *config.Config) {
	if flag.CommandLine.Changed("addr") {
		cfg.ServerAddr = addr
	}
	if flag.CommandLine.Changed("store") {
		cfg.StoreDriver = storeDriver
	}
	if flag.CommandLine.Changed("dsn") {
		cfg.DatabaseDSN = dsn
	}
	if flag.CommandLine.Changed("signing-key") {
		cfg.SigningSecret = signingKey
	}
	if flag.CommandLine.Changed("allowed-origins") {
		cfg.AllowedOrigins = allowedOrigins
	}
	if flag.CommandLine.Changed("debug") {
		cfg.Debug = debug
	}
	if flag.CommandLine.Changed("migrate") {
		cfg.Migrate = migrate
	}
}

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&storeDriver, "store", config.StorePostgres, "store driver (postgres or sqlite)")
	flag.StringVar(&dsn, "dsn", "", "database connection string")
	flag.StringVar(&signingKey, "signing-key", "", "base64 encoded token signing key")
	flag.StringSliceVar(&allowedOrigins, "allowed-origins", nil, "comma-separated list of allowed origins for CORS")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.BoolVar(&migrate, "migrate", true, "apply schema migrations on startup")
	flag.StringVar(&envFile, "env-file", ".env", "optional env file to load")
	flag.Parse()

	log := logger.New(os.Stderr, "[whiteboard] ", false)

	cfg, err := config.Load(envFile)
	if err != nil {
		log.Error("config: %v", err)
		os.Exit(1)
	}
	overlay(cfg)
	if err := cfg.Validate(); err != nil {
		log.Error("config: %v", err)
		os.Exit(1)
	}
	log.SetDebug(cfg.Debug)

	db, err := database.Open(cfg.StoreDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Error("db open: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("db close: %v", err)
		}
	}()

	if cfg.Migrate {
		if err := db.Migrate(); err != nil {
			log.Error("db migrate: %v", err)
			os.Exit(1)
		}
	}

	// presence left behind by a previous process
	ctx, cancel := context.WithTimeout(context.Background(), cfg.StoreTimeout)
	n, err := db.MarkAllOffline(ctx)
	cancel()
	if err != nil {
		log.Error("mark participants offline: %v", err)
		os.Exit(1)
	}
	log.Info("marked %d stale participants offline", n)

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	for _, metric := range stats.Metrics {
		statsUpdater.RegisterMetric(metric)
	}
	statsUpdater.Run()

	registry := server.NewRegistry(log, db, statsUpdater, server.Options{
		StoreTimeout:    cfg.StoreTimeout,
		EventsPerSecond: cfg.EventsPerSecond,
		EventBurst:      cfg.EventBurst,
	})

	verifier := auth.NewJWTVerifier(cfg.SigningKey)
	issuer := auth.NewIssuer(cfg.SigningKey, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	srv := api.NewApp(mux, log, registry, db, verifier, issuer, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		log.Info("received signal: %s", sig)
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("server: %v", err)
		}
	}

	shutDownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		log.Error("HTTP server shutdown: %v", err)
	}

	log.Info("closing sessions...")
	if err := registry.Shutdown(shutDownCtx); err != nil {
		// sessions still running may update stats, keep the updater alive
		log.Error("registry shutdown: %v", err)
	} else {
		statsUpdater.Stop()
	}

	log.Info("shutdown complete")
}
