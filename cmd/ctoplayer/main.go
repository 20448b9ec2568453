// main.go — CTO-Player server entrypoint.
//
// A streaming reverse proxy and session service for an IPTV web player:
// ingests M3U playlists and Xtream Codes catalogues per client session and
// relays streams through a guarded proxy endpoint.
//
// Port: 3125 (env: PORT).
//
// Routes:
//	POST   /api/load-m3u     — ingest playlist by URL (NDJSON progress)
//	POST   /api/load-xtream  — ingest from Xtream provider (NDJSON progress)
//	POST   /api/refresh      — re-run stored ingestion (NDJSON progress)
//	GET    /api/playlist     — current snapshot
//	DELETE /api/session      — tear down the caller's session
//	GET    /api/series/{id}  — episode listing from the Xtream provider
//	GET    /api/proxy?url=   — stream relay (+ OPTIONS preflight)
//	GET    /health, /metrics
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ctoveloz/CTO-Player/internal/api"
	"github.com/ctoveloz/CTO-Player/internal/config"
	"github.com/ctoveloz/CTO-Player/internal/logging"
	"github.com/ctoveloz/CTO-Player/internal/ratelimit"
	"github.com/ctoveloz/CTO-Player/internal/relay"
	"github.com/ctoveloz/CTO-Player/internal/session"
	"github.com/ctoveloz/CTO-Player/pkg/telemetry"
)

const version = "1.0.0"

func main() {
	cfg := config.Load()
	log := logging.NewLogger("server")

	if err := telemetry.InitSentry(cfg.SentryDSN, version); err != nil {
		log.WithError(err).Warn("sentry init failed")
	}
	defer sentry.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openSessionStore(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("session store init failed")
	}

	// One-time conversion of the pre-multi-session single-record format.
	legacyPath := filepath.Join(cfg.DataDir, "session.json")
	if sid := session.MigrateLegacy(ctx, legacyPath, store, log); sid != "" {
		log.WithField("sid", sid[:8]).Info("legacy session migrated")
	}

	sessions := session.NewManager(store, cfg.MaxSessions, cfg.MemoryIdleTTL, logging.NewLogger("session"))

	var rlStore ratelimit.Store
	if cfg.RedisURL != "" {
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("invalid REDIS_URL")
		}
		rlStore = ratelimit.NewRedisStore(goredis.NewClient(opts))
		log.Info("rate limiter using redis store")
	} else {
		mem := ratelimit.NewMemoryStore()
		go mem.SweepLoop(ctx, 2*time.Minute)
		rlStore = mem
	}
	limiter := ratelimit.New(rlStore)

	go sessions.EvictLoop(ctx, 5*time.Minute)
	go sessions.RetentionLoop(ctx, time.Hour, cfg.DurableRetention)

	srv := api.New(sessions, limiter, relay.New(logging.NewLogger("relay")), cfg.PublicDir, logging.NewLogger("api"))

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.Router(),
		// No WriteTimeout: relay and ingestion responses are long-lived
		// streams with their own upstream timeouts.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", httpSrv.Addr).Info("ctoplayer server starting")
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		telemetry.CaptureError(err, map[string]string{"operation": "listen"})
		log.WithError(err).Fatal("server error")
	}
	log.Info("server stopped")
}

// openSessionStore selects the durable session backend.
func openSessionStore(ctx context.Context, cfg config.Config) (session.Store, error) {
	if cfg.SessionBackend == "postgres" {
		db, err := sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(3)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return nil, err
		}
		return session.NewPGStore(ctx, db)
	}
	return session.NewFileStore(filepath.Join(cfg.DataDir, "sessions"))
}
