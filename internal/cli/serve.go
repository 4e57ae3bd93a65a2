package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/flowboard/hub/api/handlers"
	"github.com/flowboard/hub/internal/config"
	"github.com/flowboard/hub/internal/relay"
	"github.com/flowboard/hub/internal/ws"
)

const (
	shutdownTimeout = 10 * time.Second
	purgeInterval   = time.Hour
)

func serveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the realtime hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			return serve(ctx, a, *cfgPath)
		},
	}
}

func hubConfig(cfg *config.Config) ws.Config {
	return ws.Config{
		SendBuffer:     cfg.Hub.SendBuffer,
		WriteWait:      cfg.Hub.WriteWait,
		PongWait:       cfg.Hub.PongWait,
		MaxMessageSize: cfg.Hub.MaxMessageSize,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}
}

func serve(ctx context.Context, a *app, cfgPath string) error {
	cfg, log := a.cfg, a.log

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hub := ws.NewHub(a.sessions, a.members, cfg.Hub.RelayKey, ws.NewMetrics(reg), log)
	if cfg.Hub.RelayKey == "" {
		log.Warn("no relay key configured; backend relay connections will be refused")
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		Hub:            hub,
		WSHandler:      ws.NewHandler(hub, hubConfig(cfg), log),
		Gatherer:       reg,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         log,
	})

	if cfg.Kafka.Enabled {
		consumer, err := relay.DialConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, hub, log)
		if err != nil {
			return err
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := consumer.Run(ctx); err != nil {
				log.Error("kafka consumer failed", zap.Error(err))
			}
		}()
		defer func() {
			<-done
			consumer.Close()
		}()
	}

	if cfgPath != "" {
		go func() {
			err := config.Watch(ctx, cfgPath, log, func(next *config.Config) {
				hub.SetRelayKey(next.Hub.RelayKey)
				log.Info("relay key reloaded")
			})
			if err != nil {
				log.Warn("config watch stopped", zap.Error(err))
			}
		}()
	}

	go purgeSessions(ctx, a)

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("listen", cfg.Server.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	// Upgraded connections are not tracked by http.Server; close them first.
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// purgeSessions deletes expired session rows periodically.
func purgeSessions(ctx context.Context, a *app) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.sessions.PurgeExpired(ctx); err != nil {
				a.log.Warn("failed to purge expired sessions", zap.Error(err))
			}
		}
	}
}
