package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/decode-soumyadipta/KhananNetra-backend/internal/audit"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/bruteforce"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/catalog"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/config"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/core"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/obs"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/registry"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/session"
	"github.com/decode-soumyadipta/KhananNetra-backend/internal/store/pg"
)

var version = "0.4.1"

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("load permission catalog: %v", err)
	}

	deps := core.Deps{
		Catalog:     cat,
		TokenSecret: cfg.TokenSecret,
		SessionOpts: []session.Option{
			session.WithIssuer(cfg.TokenIssuer),
			session.WithAccessTTL(cfg.AccessTTL),
			session.WithRefreshTTL(cfg.RefreshTTL),
			session.WithMaxSessions(cfg.MaxSessionsPerUser),
			session.WithLockPolicy(cfg.MaxFailedLogins, cfg.AccountLockWindow),
		},
	}

	var pgStore *pg.Store
	if cfg.PostgresDSN != "" {
		pgStore, err = pg.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := pgStore.EnsureCatalog(ctx, cat.Definitions()); err != nil {
			log.Fatalf("ensure catalog: %v", err)
		}
		cancel()
		deps.Store = pgStore
		deps.GuardStore = pg.NewGuardStore(pgStore)
		deps.AuditSink = pg.NewAuditSink(pgStore)
	} else {
		// No DSN: in-memory state, local development only.
		deps.Store = registry.NewMemory()
		deps.GuardStore = bruteforce.NewMemory()
		deps.AuditSink = audit.NopSink{}
	}

	c, err := core.New(deps)
	if err != nil {
		log.Fatalf("assemble core: %v", err)
	}

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	go c.RunJanitor(janitorCtx, time.Hour)

	// The business HTTP layer runs as a separate service and calls into the
	// core; this process exposes only the ops surface.
	mux := http.NewServeMux()
	mux.Handle("/metrics", obs.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if pgStore != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := pgStore.DB().PingContext(ctx); err != nil {
				http.Error(w, "db unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           obs.Instrument(mux),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting khanannetra-access %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	stopJanitor()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}
