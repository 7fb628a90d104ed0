package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BunaTech-G/Dash-Fleet/internal/action"
	"github.com/BunaTech-G/Dash-Fleet/internal/auth"
	"github.com/BunaTech-G/Dash-Fleet/internal/config"
	"github.com/BunaTech-G/Dash-Fleet/internal/fleet"
	"github.com/BunaTech-G/Dash-Fleet/internal/httpapi"
	"github.com/BunaTech-G/Dash-Fleet/internal/obs"
	"github.com/BunaTech-G/Dash-Fleet/internal/store/pg"
	"github.com/BunaTech-G/Dash-Fleet/internal/stream"
	"github.com/BunaTech-G/Dash-Fleet/internal/webhook"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	var (
		authStore   auth.Store
		fleetStore  fleet.Store
		actionStore action.Store
		ready       httpapi.ReadyProbe
		pgStore     *pg.Store
	)
	if cfg.Database.DSN != "" {
		pgStore, err = pg.Open(cfg.Database.DSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		authStore = pgStore
		fleetStore = pgStore.Fleet()
		actionStore = pgStore.Actions()
		ready = pgStore
	} else {
		log.Println("no DSN configured, using in-memory stores")
		authStore = auth.NewMemoryStore()
		fleetStore = fleet.NewMemoryStore()
		actionStore = action.NewMemoryStore()
	}

	resolver := auth.NewResolver(authStore, auth.WithSessionTTL(cfg.SessionTTL()))
	registry := fleet.NewRegistry(fleetStore, fleet.WithTTL(cfg.FleetTTL()))
	queue := action.NewQueue(actionStore)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := registry.Load(ctx); err != nil {
		cancel()
		log.Fatalf("load fleet registry: %v", err)
	}
	if cfg.Bootstrap.OrgID != "" && cfg.Bootstrap.APIKey != "" {
		if err := resolver.Bootstrap(ctx, cfg.Bootstrap.OrgID, cfg.Bootstrap.OrgName, cfg.Bootstrap.APIKey); err != nil {
			cancel()
			log.Fatalf("bootstrap org: %v", err)
		}
		log.Printf("bootstrap org %q ready", cfg.Bootstrap.OrgID)
	}
	cancel()

	events := stream.New()

	api := httpapi.New(httpapi.Config{
		Resolver:         resolver,
		Registry:         registry,
		Queue:            queue,
		Stream:           events,
		Notifier:         webhook.New(cfg.Webhook.URL, cfg.WebhookMinInterval()),
		Ready:            ready,
		Version:          version,
		ExportSecret:     []byte(cfg.Export.Secret),
		ExportTokenTTL:   cfg.ExportTokenTTL(),
		ReportPerMinute:  cfg.RateLimit.ReportPerMinute,
		ActionsPerMinute: cfg.RateLimit.ActionsPerMinute,
		DefaultPerMinute: cfg.RateLimit.DefaultPerMinute,
	})

	// No WriteTimeout: /api/events holds the response open.
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Background TTL sweep so offline machines leave the fleet view even
	// when nobody is listing it.
	purgeCtx, purgeCancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-purgeCtx.Done():
				return
			case <-ticker.C:
				purged, err := registry.PurgeExpired(purgeCtx)
				if err != nil {
					log.Printf("purge expired: %v", err)
				}
				obs.EntriesPurged.Add(float64(len(purged)))
				for _, key := range purged {
					if org, machine, ok := strings.Cut(key, ":"); ok {
						events.Publish(stream.Event{
							Kind:      stream.KindMachineExpired,
							OrgID:     org,
							MachineID: machine,
						})
					}
				}
			}
		}
	}()

	log.Printf("Starting dashfleet-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	purgeCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}
