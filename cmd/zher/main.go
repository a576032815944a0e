package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/italolelis/zher/internal/cleanup"
	"github.com/italolelis/zher/internal/config"
	"github.com/italolelis/zher/internal/discovery"
	"github.com/italolelis/zher/internal/downloader"
	"github.com/italolelis/zher/internal/http/rest"
	"github.com/italolelis/zher/internal/logctx"
	"github.com/italolelis/zher/internal/netif"
	"github.com/italolelis/zher/internal/notifier"
	"github.com/italolelis/zher/internal/server"
	"github.com/italolelis/zher/internal/storage/instrumented"
	"github.com/italolelis/zher/internal/storage/jsonfile"
	"github.com/italolelis/zher/internal/telemetry"
	"github.com/italolelis/zher/internal/transfer"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("zher starting...", "log_level", cfg.LogLevel, "version", version)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("failed to create download dir: %w", err)
	}

	// =========================================================================
	// Start Record Store
	store := instrumented.NewRecordStore(jsonfile.New(cfg.RecordsPath()), tel)

	// =========================================================================
	// Start Notification
	events := notifier.NewBroadcaster()
	sink := setupNotification(cfg, events)

	// =========================================================================
	// Start Download Manager
	client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithMeterProvider(tel.MeterProvider()),
	)}

	engine := transfer.NewEngine(client, sink,
		transfer.WithUserAgent(cfg.UserAgent),
		transfer.WithProgressInterval(cfg.ProgressInterval),
		transfer.WithTelemetry(tel),
	)

	registry, err := downloader.NewRegistry(ctx, cfg.DownloadDir, engine, store, sink, tel)
	if err != nil {
		return fmt.Errorf("failed to start download manager: %w", err)
	}

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := registry.Close(closeCtx); err != nil {
			logger.Error("failed to stop running downloads", "err", err)
		}
	}()

	// =========================================================================
	// Start Discovery
	proto := discovery.Protocol{
		Product:       cfg.ProductName,
		DiscoveryPort: uint16(cfg.DiscoveryPort),
		ServicePort:   uint16(cfg.ServicePort),
	}

	discoverer := discovery.NewService(proto,
		discovery.WithTargets(netif.NewEnumerator()),
		discovery.WithTimeout(cfg.DiscoveryTimeout),
		discovery.WithPollInterval(cfg.DiscoveryPollInterval),
		discovery.WithTelemetry(tel),
	)

	// =========================================================================
	// Start File Service (controlled through the API)
	fileService := server.New(withHTTPStack(tel, server.NewFileHandler(cfg.ServedDir())), server.Options{
		ReadTimeout:     cfg.Web.ReadTimeout,
		IdleTimeout:     cfg.Web.IdleTimeout,
		ShutdownTimeout: cfg.Web.ShutdownTimeout,
		BaseContext:     ctx,
		Responder:       &proto,
		DiscoveryAddr:   fmt.Sprintf(":%d", cfg.DiscoveryPort),
	})

	defer func() {
		if err := fileService.Stop(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, server.ErrNotRunning) {
			logger.Error("failed to stop file service", "err", err)
		}
	}()

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	api := setupServer(ctx, cfg, tel, rest.NewHandler(registry, discoverer, fileService, events, rest.Options{
		ServicePort: proto.ServicePort,
		ServiceHost: cfg.ServiceHost,
		Username:    cfg.Web.Username,
		Password:    cfg.Web.Password,
	}))

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- api.ListenAndServe()
	}()

	// =========================================================================
	// Start Cleanup
	if cfg.KeepPartialFor > 0 {
		go cleanup.Run(ctx, cfg.DownloadDir, cfg.CleanupInterval, cfg.KeepPartialFor, registry.StagingInUse)
	}

	logger.Info("ready",
		"download_dir", cfg.DownloadDir,
		"served_dir", cfg.ServedDir(),
		"service_port", cfg.ServicePort,
		"discovery_port", cfg.DiscoveryPort,
	)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := api.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = api.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return ctx.Err()
	}
}

func setupNotification(cfg *config.Config, events *notifier.Broadcaster) transfer.Sink {
	sinks := notifier.Multi{notifier.LogSink{}, events}

	if cfg.WebhookURL != "" {
		webhook := &notifier.WebhookNotifier{
			WebhookURL: cfg.WebhookURL,
			Client:     &http.Client{Timeout: 10 * time.Second},
		}

		sinks = append(sinks, notifier.NewNotifierSink(webhook, 10*time.Second))
	}

	return sinks
}

// withHTTPStack applies request ids, metrics and access logs to h.
func withHTTPStack(tel *telemetry.Telemetry, h http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)
	r.Use(telemetry.HTTPLogging)
	r.Mount("/", h)

	return r
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, handler *rest.Handler) *http.Server {
	r := chi.NewRouter()
	r.Handle("/metrics", tel.Handler())
	r.Mount("/api/v1", withHTTPStack(tel, handler.Routes()))

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
