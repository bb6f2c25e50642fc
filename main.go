package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"order-monitor/config"
	"order-monitor/controllers"
	"order-monitor/database"
	"order-monitor/dispatcher"
	apperrors "order-monitor/errors"
	"order-monitor/logger"
	"order-monitor/middleware"
	aws_pkg "order-monitor/pkg/aws"
	"order-monitor/routes"
	"order-monitor/services"
	"order-monitor/transport"
	"order-monitor/transport/kafka"
	sqstransport "order-monitor/transport/sqs"
	"order-monitor/transport/stomp"
)

const serviceName = "order-monitor"

func main() {
	app := &cli.App{
		Name:  serviceName,
		Usage: "mirror the order backend's live broadcasts into a reconciled snapshot",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "connect to the backend and serve the snapshot over HTTP",
				Action: runMonitor,
			},
			{
				Name:      "replay",
				Usage:     "feed recorded {topic, payload} lines through the pipeline and print the snapshot",
				ArgsUsage: " ",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "recorded messages, one JSON envelope per line (- for stdin)", Required: true},
					&cli.BoolFlag{Name: "pretty", Usage: "indent the snapshot"},
					&cli.BoolFlag{Name: "verbose", Usage: "log every decoded and dropped message"},
				},
				Action: replayCommand,
			},
		},
		DefaultCommand: "run",
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMonitor(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Logging (CloudWatch tee is optional) ---
	var cwWriter io.Writer
	if cfg.CloudWatchEnabled {
		cw, err := aws_pkg.NewCloudWatchLogsClient(ctx, cfg.InstanceID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "CloudWatch Logs unavailable, logging to stdout only: %v\n", err)
		} else {
			cwWriter = cw
		}
	}
	logger.InitializeWithWriter(cfg.Env, cwWriter)
	defer logger.Sync()
	log := logger.Log.With(zap.String("instance", cfg.InstanceID))

	// --- Secrets ---
	if cfg.UseSecrets {
		awsCfg, err := aws_pkg.LoadAWSConfig(ctx)
		if err != nil {
			log.Warn("Secrets Manager unavailable, using environment credentials", zap.Error(err))
		} else if err := cfg.ApplySecrets(ctx, aws_pkg.NewSecretsClient(awsCfg)); err != nil {
			log.Warn("Failed to read STOMP credentials secret", zap.Error(err))
		}
	}

	tr, err := buildTransport(ctx, cfg, log)
	if err != nil {
		return err
	}

	// --- CloudWatch metrics (non-fatal) ---
	metricsClient, err := aws_pkg.NewMetricsClient(ctx, cfg.CloudWatchNamespace, cfg.CloudWatchEnabled)
	if err != nil {
		log.Warn("CloudWatch metrics client init failed (non-fatal)", zap.Error(err))
	}

	// --- Redis snapshot mirror (optional) ---
	var mirror services.Mirror
	if cfg.RedisURL != "" {
		client, err := database.NewRedisClient(ctx, cfg.RedisURL, log)
		if err != nil {
			log.Warn("Redis unavailable, snapshot mirror disabled", zap.Error(err))
		} else {
			defer client.Close()
			mirror = database.NewSnapshotRepository(client, cfg.InstanceID, cfg.SnapshotTTL)
		}
	}

	monitor := services.NewMonitor(tr, services.MonitorOptions{
		Engine:          cfg.EngineConfig(),
		Topics:          dispatcher.Topics(cfg.TopicPrefix),
		MaxAttempts:     cfg.MaxReconnectAttempts,
		Delay:           cfg.ReconnectDelay,
		Instance:        cfg.InstanceID,
		Mirror:          mirror,
		Metrics:         metricsClient,
		MetricsInterval: cfg.MetricsInterval,
	}, log)

	// --- HTTP router ---
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.RequestLogger(log.Named("http")),
		middleware.MetricsMiddleware(metricsClient, serviceName),
		middleware.SecurityHeaders(),
		middleware.CORSMiddleware(cfg.AllowedOrigins),
		apperrors.ErrorMiddleware(),
	)
	routes.RegisterMonitorRoutes(r, controllers.NewMonitorController(monitor),
		middleware.PerMinute(ctx, cfg.ReconnectRatePerMinute))

	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		monitor.Run(ctx)
	}()

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info("Order monitor started",
			zap.String("port", cfg.Port),
			zap.String("transport", tr.Name()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	// --- Graceful shutdown ---
	<-ctx.Done()
	log.Info("Initiating graceful shutdown...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", zap.Error(err))
	}
	<-monitorDone
	log.Info("Order monitor stopped gracefully")
	return nil
}

func buildTransport(ctx context.Context, cfg *config.Config, log *zap.Logger) (transport.Transport, error) {
	switch cfg.Transport {
	case config.TransportSTOMP:
		return stomp.New(stomp.Options{
			URL:       cfg.WSURL,
			Host:      cfg.STOMPHost,
			Login:     cfg.STOMPLogin,
			Passcode:  cfg.STOMPPasscode,
			HeartBeat: cfg.HeartbeatInterval,
		}, log.Named("transport.stomp")), nil
	case config.TransportKafka:
		return kafka.New(kafka.Options{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.KafkaGroupID,
		}, log.Named("transport.kafka")), nil
	case config.TransportSQS:
		awsCfg, err := aws_pkg.LoadAWSConfig(ctx)
		if err != nil {
			return nil, err
		}
		return sqstransport.New(aws_pkg.NewSQSClient(awsCfg), sqstransport.Options{
			QueueURL:  cfg.SQSQueueURL,
			QueueName: cfg.SQSQueueName,
		}, log.Named("transport.sqs")), nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}
