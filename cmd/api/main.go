package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"caremesh.org/internal/audit"
	"caremesh.org/internal/auth"
	"caremesh.org/internal/cache"
	"caremesh.org/internal/config"
	"caremesh.org/internal/httpapi"
	"caremesh.org/internal/obs"
	"caremesh.org/internal/rx"
	"caremesh.org/internal/store/memory"
	"caremesh.org/internal/store/pg"
)

var version = "dev"

type coreStore interface {
	auth.Store
	rx.Store
	audit.Store
}

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("config load failed", err)
	}

	obs.Init()

	var (
		store coreStore
		db    *sql.DB
	)
	if cfg.Postgres.DSN != "" {
		pgStore, err := pg.Open(cfg.Postgres.DSN)
		if err != nil {
			fatal("postgres open failed", err)
		}
		defer pgStore.Close()
		store = pgStore
		db = pgStore.DB()
		logInfo("storage: postgres")
	} else {
		store = memory.New()
		logInfo("storage: in-memory (no CAREMESH_POSTGRES_DSN)")
	}

	recorder := audit.NewRecorder(store)

	authOpts := []auth.ServiceOption{
		auth.WithAuditRecorder(recorder),
		auth.WithSessionTTL(cfg.Session.TTL),
	}

	if table, err := store.RoleCapabilities(context.Background()); err != nil {
		fatal("role table load failed", err)
	} else if len(table) > 0 {
		authOpts = append(authOpts, auth.WithRoleTable(table))
	}

	if cfg.Cache.Enabled {
		orgCache, err := cache.NewOrganizations(store.Organizations(), cache.Config{
			NumCounters: cfg.Cache.NumCounters,
			MaxCost:     cfg.Cache.MaxCost,
			BufferItems: cfg.Cache.BufferItems,
			TTL:         cfg.Cache.TTL,
		})
		if err != nil {
			fatal("org cache init failed", err)
		}
		defer orgCache.Close()
		authOpts = append(authOpts, auth.WithOrganizationSource(orgCache))
	}

	authSvc, err := auth.NewService(store, authOpts...)
	if err != nil {
		fatal("auth service init failed", err)
	}
	rxSvc, err := rx.NewService(store, authSvc, rx.WithAuditRecorder(recorder))
	if err != nil {
		fatal("rx service init failed", err)
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sweepSessions(sweepCtx, authSvc)

	api := httpapi.New(authSvc, rxSvc, httpapi.Config{
		Version:            version,
		Ready:              httpapi.ReadyProbe{DB: db},
		RateLimitBurst:     cfg.RateLimit.Burst,
		RateLimitPerSecond: cfg.RateLimit.PerSecond,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		obs.LogEntry(map[string]any{
			"ts": time.Now().UTC().Format(time.RFC3339Nano), "level": "info",
			"msg": "listening", "addr": cfg.Server.Addr, "version": version,
		})
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("server failed", err)
		}
	case sig := <-stop:
		logInfo("shutting down: " + sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			fatal("shutdown failed", err)
		}
	}
}

// sweepSessions clears expired session rows periodically. Expiry is checked
// lazily on every authentication; this only reclaims storage.
func sweepSessions(ctx context.Context, svc *auth.Service) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := svc.PurgeExpiredSessions(ctx); err != nil {
				obs.LogEntry(map[string]any{
					"ts": time.Now().UTC().Format(time.RFC3339Nano), "level": "error",
					"msg": "session sweep failed", "error": err.Error(),
				})
			} else if n > 0 {
				obs.LogEntry(map[string]any{
					"ts": time.Now().UTC().Format(time.RFC3339Nano), "level": "info",
					"msg": "session sweep", "deleted": n,
				})
			}
		}
	}
}

func logInfo(msg string) {
	obs.LogEntry(map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"level": "info",
		"msg":   msg,
	})
}

func fatal(msg string, err error) {
	obs.LogEntry(map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"level": "fatal",
		"msg":   msg,
		"error": err.Error(),
	})
	os.Exit(1)
}
