package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"paneldeck.org/internal/auth"
	"paneldeck.org/internal/httpapi"
	"paneldeck.org/internal/migrate"
	"paneldeck.org/internal/obs"
	"paneldeck.org/migrations"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	secret := os.Getenv("PANELDECK_AUTH_SECRET")
	if secret == "" {
		log.Fatal("PANELDECK_AUTH_SECRET is required")
	}

	// With no DSN the service runs on the in-memory store: fine for local
	// development, useless in production (tokens die with the process).
	var (
		db        *sql.DB
		store     auth.Store
		storeKind = "memory"
	)
	if dsn := os.Getenv("PANELDECK_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		mgr := migrate.NewManager(db, migrations.FS, "sql", "")
		if err := mgr.Up(ctx); err != nil {
			cancel()
			log.Fatalf("migrate: %v", err)
		}
		cancel()
		store = auth.NewPGStore(db)
		storeKind = "postgres"
	} else {
		log.Print("PANELDECK_PG_DSN not set, using in-memory store")
		store = auth.NewMemoryStore()
	}

	var opts []auth.ServiceOption
	if issuer := os.Getenv("PANELDECK_AUTH_ISSUER"); issuer != "" {
		opts = append(opts, auth.WithIssuer(issuer))
	}
	if ttl, err := time.ParseDuration(os.Getenv("PANELDECK_ACCESS_TTL")); err == nil {
		opts = append(opts, auth.WithAccessTTL(ttl))
	}
	if ttl, err := time.ParseDuration(os.Getenv("PANELDECK_REFRESH_TTL")); err == nil {
		opts = append(opts, auth.WithRefreshTTL(ttl))
	}

	svc, err := auth.NewService(store, secret, opts...)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}
	{
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := svc.EnsureBuiltins(ctx); err != nil {
			cancel()
			log.Fatalf("seed builtin roles: %v", err)
		}
		cancel()
	}

	// Per-IP throttle; set PANELDECK_RATE_LIMIT_RPS=0 to disable.
	rps := envInt("PANELDECK_RATE_LIMIT_RPS", 50)
	burst := envInt("PANELDECK_RATE_LIMIT_BURST", 100)
	var apiOpts []httpapi.Option
	if rps > 0 {
		apiOpts = append(apiOpts, httpapi.WithRateLimit(rps, burst))
	}

	api := httpapi.New(svc, httpapi.ReadyProbe{DB: db}, version, apiOpts...)

	addr := os.Getenv("PANELDECK_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	obs.Event("info", "starting", map[string]any{
		"version": version,
		"addr":    srv.Addr,
		"store":   storeKind,
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	obs.Event("info", "shutting down", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	obs.Event("info", "stopped", nil)
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
