package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"launchpad/gateway/middleware"
	"launchpad/integrations/webhooks"
	"launchpad/observability/logging"
	"launchpad/observability/otel"
	"launchpad/services/reportd/collector"
	"launchpad/services/reportd/config"
	"launchpad/services/reportd/models"
	"launchpad/services/reportd/nodeclient"
	"launchpad/services/reportd/report"
	"launchpad/services/reportd/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "services/reportd/config.yaml", "path to reportd configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.Setup("reportd", cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Metrics || cfg.Telemetry.Traces {
		shutdownTelemetry, err := otel.Init(ctx, otel.Config{
			ServiceName: "reportd",
			Environment: cfg.Environment,
			Network:     cfg.Network,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     otel.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
		})
		if err != nil {
			log.Fatalf("init telemetry: %v", err)
		}
		defer func() {
			if shutdownTelemetry != nil {
				_ = shutdownTelemetry(context.Background())
			}
		}()
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatalf("database connection error: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		log.Fatalf("auto migrate error: %v", err)
	}

	location, err := time.LoadLocation(cfg.Report.Timezone)
	if err != nil {
		log.Fatalf("load timezone %s: %v", cfg.Report.Timezone, err)
	}

	node := nodeclient.NewClient(nodeclient.Config{
		URL:     cfg.Node.RPCURL,
		Timeout: cfg.Node.DialTimeout.Duration,
	})

	var alert report.AlertFunc
	var ready report.ReadyFunc
	if cfg.Webhook.Endpoint != "" {
		dispatcher, err := webhooks.NewDispatcher(cfg.Webhook.Endpoint, []byte(cfg.Webhook.Secret),
			webhooks.WithRetryPolicy(cfg.Webhook.MaxAttempts, cfg.Webhook.MinBackoff.Duration, cfg.Webhook.MaxBackoff.Duration))
		if err != nil {
			log.Fatalf("webhook dispatcher error: %v", err)
		}
		defer dispatcher.Close()
		alert = func(_ context.Context, anomaly report.Anomaly) error {
			return dispatcher.EnqueueAnomaly(webhooks.ReportAnomalyPayload{
				RunID:   anomaly.RunID,
				Kind:    anomaly.Kind,
				Subject: anomaly.Subject,
				Details: anomaly.Details,
			})
		}
		ready = func(_ context.Context, result *report.Result) error {
			return dispatcher.EnqueueReady(webhooks.ReportReadyPayload{
				RunID:       result.RunID.String(),
				WindowStart: result.Start.UTC(),
				WindowEnd:   result.End.UTC(),
				Rows:        result.Rows,
				Files:       result.Files,
				Checksum:    result.Checksum,
			})
		}
	}

	reporter, err := report.NewReporter(report.Config{
		DB:        db,
		Node:      node,
		TZ:        location,
		OutputDir: cfg.OutputDir,
		DryRun:    cfg.Report.DryRun,
		Alert:     alert,
		Ready:     ready,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("reporter init error: %v", err)
	}

	tailer, err := collector.New(collector.Config{
		DB:           db,
		WSURL:        cfg.Node.WSURL,
		DialTimeout:  cfg.Node.DialTimeout.Duration,
		ReconnectMin: cfg.Node.ReconnectMin.Duration,
		ReconnectMax: cfg.Node.ReconnectMax.Duration,
		Logger:       logger,
	})
	if err != nil {
		log.Fatalf("collector init error: %v", err)
	}
	go func() {
		if err := tailer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("collector exited", slog.Any("error", err))
			stop()
		}
	}()

	scheduler := report.NewScheduler(report.SchedulerConfig{
		Reporter:  reporter,
		Window:    cfg.Report.Window.Duration,
		RunHour:   cfg.Report.RunHour,
		RunMinute: cfg.Report.RunMinute,
		Location:  location,
		Logger:    logger,
	})
	go scheduler.Start(ctx)

	srv, err := server.New(server.Config{
		DB:       db,
		Reporter: reporter,
		Window:   cfg.Report.Window.Duration,
		Auth: middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.Secret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		},
		RateLimit: middleware.RateLimit{
			RatePerSecond: cfg.RateLimit.AdminPerSecond,
			Burst:         cfg.RateLimit.AdminBurst,
		},
		Logger: logger,
	})
	if err != nil {
		log.Fatalf("server init error: %v", err)
	}

	handler := http.Handler(srv.Handler())
	if cfg.Telemetry.Traces {
		handler = otelhttp.NewHandler(handler, "reportd")
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("reportd listening",
			slog.String("addr", cfg.ListenAddress),
			slog.String("node_rpc", cfg.Node.RPCURL))
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			logger.Warn("graceful shutdown failed", slog.Any("error", err))
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}
}
