// Package main is the entry point for loglensd, the log aggregation and
// streaming daemon: it discovers log-producing agents, tails their files,
// normalizes entries, persists them, streams them to WebSocket
// subscribers, forwards them to syslog collectors, and supervises
// configured external dependencies.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/akamalov/mcp-log-server-sub000/internal/bus"
	"github.com/akamalov/mcp-log-server-sub000/internal/config"
	"github.com/akamalov/mcp-log-server-sub000/internal/dbconn"
	"github.com/akamalov/mcp-log-server-sub000/internal/discovery/customstore"
	"github.com/akamalov/mcp-log-server-sub000/internal/forwarder"
	"github.com/akamalov/mcp-log-server-sub000/internal/hub"
	"github.com/akamalov/mcp-log-server-sub000/internal/logger"
	"github.com/akamalov/mcp-log-server-sub000/internal/storage"
	"github.com/akamalov/mcp-log-server-sub000/internal/supervisor"
)

// busDrainWindow is how long shutdown waits for in-flight entries to
// reach their subscribers after the watchers stop publishing.
const busDrainWindow = 2 * time.Second

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting loglensd...")

	// 3. Top-level context, cancelled on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Event bus: in-memory by default, NATS when configured
	var b bus.Bus
	if cfg.NATS.URL != "" {
		log.Info("Connecting to NATS...", zap.String("url", cfg.NATS.URL))
		natsBus, err := bus.NewNATSBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		b = natsBus
	} else {
		log.Info("Using in-memory ingestion bus")
		b = bus.NewMemoryBus(log)
	}
	defer b.Close()

	// 5. Config database (custom agent store + log_entries storage)
	var pool *dbconn.Pool
	if cfg.Database.Driver == "postgres" {
		pool, err = dbconn.OpenPostgres(cfg.Database.DSN(), cfg.Database.MaxConns, cfg.Database.MinConns)
	} else {
		pool, err = dbconn.OpenSQLite(cfg.Database.Path)
	}
	if err != nil {
		log.Fatal("Failed to open config database", zap.Error(err))
	}
	defer pool.Close()
	if err := dbconn.EnsureSchema(pool); err != nil {
		log.Fatal("Failed to apply database schema", zap.Error(err))
	}

	// 6. Storage sink
	engine := storage.NewSQLEngine(pool)
	sink := storage.NewSink(engine, b, cfg.Storage, log)
	sink.Start()

	// 7. Subscriber hub + WebSocket listener
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	h := hub.New(b, log)
	go h.Run(hubCtx)

	mux := http.NewServeMux()
	mux.Handle("/ws", hub.NewHandler(h, log))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}
	go func() {
		log.Info("WebSocket listener starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("WebSocket listener failed", zap.Error(err))
		}
	}()

	// 8. Syslog forwarders
	forwarders := forwarder.NewManager(b, cfg.Forwarder.PersistencePath,
		cfg.Forwarder.ReconnectBaseDelay, cfg.Forwarder.ReconnectMaxDelay, log)
	if err := forwarders.Start(ctx); err != nil {
		log.Fatal("Failed to start syslog forwarders", zap.Error(err))
	}

	// 9. Service supervisor, seeded from <dataDir>/services.yaml
	sup := supervisor.New(b, cfg.Docker, cfg.Supervisor, log)
	services, err := supervisor.LoadServicesFile(filepath.Join(cfg.DataDir, "services.yaml"))
	if err != nil {
		log.Warn("Failed to load supervised services, supervision disabled", zap.Error(err))
	}
	for _, svc := range services {
		sup.AddService(ctx, svc)
	}

	// 10. Bridge control events to hub subscribers
	ctrlSub := b.SubscribeControl("ws-bridge", func(ctx context.Context, ev *bus.ControlEvent) {
		switch ev.Type {
		case "service-healthy", "service-unhealthy", "service-restarting":
			h.Broadcast(hub.ChannelHealth, hub.MsgHealthUpdate, ev)
		default:
			h.Broadcast(hub.ChannelAgentStatus, hub.MsgAgentStatus, ev)
		}
	})
	defer ctrlSub.Unsubscribe()

	// 11. Ingestion pipeline: discovery, tailers, tree watchers, validator
	watcherCtx, watcherCancel := context.WithCancel(ctx)
	store := customstore.New(pool, log)
	pl := newPipeline(cfg, b, store, log)
	pipelineDone := make(chan error, 1)
	go func() { pipelineDone <- pl.run(watcherCtx) }()

	log.Info("loglensd started")

	// 12. Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-pipelineDone:
		if err != nil {
			log.Error("Pipeline terminated", zap.Error(err))
		}
	}

	// Ordered shutdown: stop discovery and watchers first, give in-flight
	// entries a bounded drain window, flush storage once, then tear down
	// the subscriber, forwarder, and supervisor surfaces.
	watcherCancel()
	time.Sleep(busDrainWindow)
	sink.Stop()

	hubCancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	forwarders.Shutdown()
	sup.Shutdown()
	sup.Close()

	log.Info("loglensd stopped")
}
