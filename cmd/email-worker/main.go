// Package main is the entrypoint for the courier email worker.
//
// Container mode (default): consumes email jobs from RabbitMQ with manual
// acknowledgement and serves the status, health and metrics endpoints.
// SIGINT/SIGTERM stop the consumer, drain in-flight messages and shut the HTTP
// server down.
//
// Lambda mode (detected from the runtime environment): the same orchestrator
// handles SQS batches and reports partial batch failures. Dead letters go to
// the SQS queue named by SQS_DLQ.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"courier/internal/config"
	"courier/internal/core"
	"courier/internal/external"
	notifcore "courier/internal/notifications/core"
	"courier/internal/queue"
	"courier/internal/status"
	"courier/internal/types"
)

const httpShutdownGrace = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel).With("service", cfg.Service)
	typedLogger := &slogAdapter{logger: logger}
	lambdaMode := isLambdaEnvironment()

	logger.Info("courier email worker starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"lambda", lambdaMode,
		"store", string(cfg.Store.Backend),
		"email_provider", string(cfg.Email.Provider),
		"metrics", cfg.Metrics.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var awsCfg *aws.Config
	if needsAWS(cfg, lambdaMode) {
		loaded, err := loadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			return err
		}
		awsCfg = &loaded
	}

	store, closeStore, err := status.Open(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var registryOpts []external.RegistryOption
	if awsCfg != nil {
		registryOpts = append(registryOpts, external.WithAWSConfig(*awsCfg))
	}
	clients, err := external.NewClientRegistry(cfg, logger, registryOpts...)
	if err != nil {
		return fmt.Errorf("building clients: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	metrics, err := newNotificationMetrics(cfg, awsCfg, promRegistry, typedLogger)
	if err != nil {
		return err
	}

	if lambdaMode {
		if cfg.AWS.DlqURL == "" {
			return fmt.Errorf("SQS_DLQ is required in Lambda mode")
		}
		dlq := notifcore.NewSQSDeadLetterPublisher(sqs.NewFromConfig(*awsCfg), cfg.AWS.DlqURL, typedLogger)
		orchestrator := newOrchestrator(cfg, store, clients, dlq, metrics, typedLogger)
		handler := newSQSBatchHandler(orchestrator, cfg.Broker.Prefetch, metrics, logger)

		logger.Info("starting lambda runtime", "dlq_url", cfg.AWS.DlqURL)
		lambda.Start(handler.Handle)
		return nil
	}

	return runWorker(ctx, cfg, store, clients, metrics, promRegistry, logger)
}

// runWorker runs the AMQP consumer and the HTTP server until ctx is canceled
// or either of them fails.
func runWorker(
	ctx context.Context,
	cfg *config.Config,
	store *status.Store,
	clients *external.ClientRegistry,
	metrics notifcore.NotificationMetrics,
	promRegistry *prometheus.Registry,
	logger *slog.Logger,
) error {
	typedLogger := &slogAdapter{logger: logger}

	conn, err := queue.Dial(cfg.Broker.URL.Unmask(), cfg.Service, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Warn("failed to close broker connection", "error", err.Error())
		}
	}()

	consumeCh, err := conn.Channel()
	if err != nil {
		return err
	}
	publishCh, err := conn.Channel()
	if err != nil {
		return err
	}
	if err := queue.DeclareDurable(publishCh, cfg.Broker.DeadLetterQueue); err != nil {
		return err
	}

	dlq := queue.NewDeadLetterPublisher(queue.NewPublisher(publishCh, logger), cfg.Broker.DeadLetterQueue)
	orchestrator := newOrchestrator(cfg, store, clients, dlq, metrics, typedLogger)

	consumer := queue.NewConsumer(consumeCh, orchestrator, queue.ConsumerConfig{
		Queue:        cfg.Broker.EmailQueue,
		Tag:          cfg.Broker.ConsumerTag,
		Prefetch:     cfg.Broker.Prefetch,
		DrainTimeout: cfg.Broker.DrainTimeout,
		Metrics:      metrics,
		Logger:       logger,
	})

	srv, err := core.NewServer(cfg, store, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.HealthProbes = []core.HealthProbe{
		core.NewPingProbe("status_store", store),
		core.NewPingProbe("broker", conn),
	}
	if cfg.Metrics.Backend == "prometheus" {
		srv.Metrics = core.NewPrometheusCollector(promRegistry)
		srv.MetricsHandler = core.MetricsHandler(promRegistry)
	}
	srv.MountRoutes()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(gctx)
	})
	g.Go(func() error {
		return srv.ListenAndServe(gctx, ":"+cfg.Server.Port, httpShutdownGrace)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("courier email worker stopped")
	return nil
}

// newOrchestrator wires the delivery pipeline shared by both modes.
func newOrchestrator(
	cfg *config.Config,
	store *status.Store,
	clients *external.ClientRegistry,
	dlq notifcore.DeadLetterPublisher,
	metrics notifcore.NotificationMetrics,
	logger types.Logger,
) *notifcore.Orchestrator {
	deadLetters := notifcore.NewDeadLetterRouter(dlq, metrics, logger)

	gateway := notifcore.NewDeliveryGateway(notifcore.GatewayConfig{
		Transport:   clients.Email,
		DeadLetters: deadLetters,
		Provider:    string(clients.Provider),
		From:        types.EmailAddress{Address: cfg.Email.FromAddress, Name: cfg.Email.FromName},
		Policy: notifcore.RetryPolicy{
			MaxAttempts:   cfg.Delivery.MaxAttempts,
			BaseDelay:     cfg.Delivery.InitialDelay,
			MaxDelay:      cfg.Delivery.MaxDelay,
			BackoffFactor: notifcore.MailRetryPolicy.BackoffFactor,
		},
		Metrics: metrics,
		Logger:  logger,
	})

	return notifcore.NewOrchestrator(notifcore.OrchestratorConfig{
		Store:       store,
		Users:       clients.Users,
		Templates:   clients.Templates,
		Gateway:     gateway,
		Reporter:    clients.Reporter,
		DeadLetters: deadLetters,
		Metrics:     metrics,
		Logger:      logger,
	})
}

// newNotificationMetrics selects the backend named by METRICS_BACKEND.
func newNotificationMetrics(cfg *config.Config, awsCfg *aws.Config, reg *prometheus.Registry, logger types.Logger) (notifcore.NotificationMetrics, error) {
	switch cfg.Metrics.Backend {
	case "prometheus":
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		return notifcore.NewPrometheusMetrics(reg), nil
	case "cloudwatch":
		if awsCfg == nil {
			return nil, fmt.Errorf("METRICS_BACKEND=cloudwatch requires an AWS config")
		}
		return notifcore.NewCloudWatchNotificationMetrics(cloudwatch.NewFromConfig(*awsCfg), cfg.Metrics.Namespace, logger), nil
	default:
		return notifcore.NoopMetrics{}, nil
	}
}

// needsAWS reports whether any configured component talks to AWS.
func needsAWS(cfg *config.Config, lambdaMode bool) bool {
	return lambdaMode ||
		cfg.Email.Provider == types.ProviderSES ||
		cfg.Metrics.Backend == "cloudwatch"
}

func loadAWSConfig(ctx context.Context, awsCfg config.AWSConfig) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if awsCfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(awsCfg.Region))
	}

	loaded, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	if awsCfg.EndpointURL != "" {
		loaded.BaseEndpoint = aws.String(awsCfg.EndpointURL)
	}
	return loaded, nil
}
