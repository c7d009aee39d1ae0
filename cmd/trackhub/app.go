package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"trackhub/internal/auth"
	"trackhub/internal/common/config"
	"trackhub/internal/common/contextx"
	"trackhub/internal/common/log"
	"trackhub/internal/hub"
	"trackhub/internal/queue"
	"trackhub/internal/storage/postgres"
	"trackhub/internal/transport/ws"
)

const serviceName = "trackhub"

func run(ctx context.Context, cfgPath string, maxConcurrent int) error {
	logger := log.New(serviceName)
	ctx = contextx.WithRequestID(ctx, "startup-001")

	cfg, err := config.LoadFromFile(cfgPath)
	if err != nil {
		log.Error(ctx, logger, "config_load_failed", "Failed to load config file", err)
		return err
	}
	log.Info(ctx, logger, "config_loaded", "Configuration loaded successfully")

	hubOpts := []hub.Option{
		hub.WithRetention(hub.RetentionPolicy(cfg.Tracking.RetentionPolicy), cfg.Tracking.RetentionTTL),
		hub.WithObserverBuffer(cfg.Tracking.ObserverBuffer),
	}

	// Postgres session journal (optional)
	if cfg.Database.Enabled {
		pool, err := postgres.NewPool(ctx, cfg, logger)
		if err != nil {
			log.Error(ctx, logger, "db_connection_failed", "Failed to initialize Postgres pool", err)
			return err
		}
		defer pool.Close()

		hubOpts = append(hubOpts, hub.WithJournal(postgres.NewSessionRepo(pool)))
	}

	// RabbitMQ relay + ingest bridge (optional)
	var rmq *queue.Client
	if cfg.RabbitMQ.Enabled {
		rmq, err = queue.Connect(ctx, cfg, logger)
		if err != nil {
			log.Error(ctx, logger, "rabbitmq_connection_failed", "Failed to connect to RabbitMQ", err)
			return err
		}
		defer rmq.Close()

		hubOpts = append(hubOpts, hub.WithRelay(queue.NewRelay(queue.NewMQPublisher(rmq), serviceName)))
	}

	broadcastHub := hub.New(logger, hubOpts...)
	defer broadcastHub.Close(context.WithoutCancel(ctx))

	if rmq != nil {
		consumer := queue.NewIngestConsumer(rmq, broadcastHub, logger, 8)
		go consumer.Run(ctx)
	}

	jwtManager := auth.NewManager(cfg.JWT.SecretKey, 24*time.Hour)

	mux := http.NewServeMux()
	wsHandler := ws.NewHandler(logger, broadcastHub, jwtManager)
	wsHandler.RegisterRoutes(mux)
	mux.HandleFunc("/healthz", healthHandler(broadcastHub))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebSocket.Port),
		Handler:           withConcurrencyLimit(maxConcurrent, mux),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	log.Info(ctx, logger, "service_started",
		fmt.Sprintf("Broadcast hub listening on port %d", cfg.WebSocket.Port))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		// graceful HTTP shutdown on context cancel
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, logger, "http_shutdown_failed", "Failed to gracefully shut down HTTP server", err)
		}
		log.Info(ctx, logger, "shutdown_complete", "Broadcast hub stopped")
		return nil
	case err := <-errCh:
		if err != nil {
			log.Error(ctx, logger, "http_server_error", "HTTP server terminated with error", err)
			return err
		}
		return nil
	}
}

func healthHandler(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":      "ok",
			"connections": h.ConnectionCount(),
			"devices":     h.Store().Len(),
		})
	}
}

// withConcurrencyLimit wraps an http.Handler with a semaphore-based limiter.
// It controls how many HTTP requests can be in-progress at the same time.
func withConcurrencyLimit(n int, next http.Handler) http.Handler {
	if n <= 0 {
		return next
	}
	sem := make(chan struct{}, n)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case sem <- struct{}{}: // acquire
			defer func() { <-sem }() // release
			next.ServeHTTP(w, r)
		case <-r.Context().Done():
			// client canceled or server is shutting down
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		}
	})
}
