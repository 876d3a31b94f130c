package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/blipguard/internal/dashboard"
	"github.com/your-org/blipguard/internal/guard"
	"github.com/your-org/blipguard/internal/mjpeg"
	"github.com/your-org/blipguard/pkg/classifier"
	"github.com/your-org/blipguard/pkg/config"
	"github.com/your-org/blipguard/pkg/cooldown"
	"github.com/your-org/blipguard/pkg/kafka"
	"github.com/your-org/blipguard/pkg/logger"
	"github.com/your-org/blipguard/pkg/notify"
	"github.com/your-org/blipguard/pkg/report"
	"github.com/your-org/blipguard/pkg/storage/framestore"
	"github.com/your-org/blipguard/pkg/storage/objectstore"
	"github.com/your-org/blipguard/pkg/tracing"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "poll every configured source until interrupted",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "dotenv files loaded before the environment is parsed",
				Value: cli.NewStringSlice(".env"),
			},
			&cli.BoolFlag{
				Name:  "once",
				Usage: "run one pass over all sources and exit; sources without a baseline are polled again right after capturing one",
			},
			&cli.BoolFlag{
				Name:  "serve",
				Usage: "serve the report sink and status endpoints",
				Value: true,
			},
		},
		Action: runGuard,
	}
}

func runGuard(c *cli.Context) error {
	ctx := c.Context

	cfg, err := config.Load(c.StringSlice("env-file")...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logr, err := logger.New(cfg.App.LogLevel, cfg.App.LogEncoding)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logr.Sync() //nolint:errcheck

	traceShutdown, err := tracing.Init(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		Attributes:  tracing.ParseResourceAttributes(cfg.Tracing.ResourceAttr),
		ServiceName: cfg.App.Name,
		Version:     cfg.App.Version,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer traceShutdown(context.Background()) //nolint:errcheck

	frames, err := newFrameStore(ctx, cfg)
	if err != nil {
		return err
	}

	cooldowns, err := cooldown.New(ctx, cooldown.Config{
		Provider: cfg.Cooldown.Provider,
		Redis: cooldown.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		},
	})
	if err != nil {
		return fmt.Errorf("init cooldown store: %w", err)
	}
	defer cooldowns.Close() //nolint:errcheck

	alarms := newProducer(cfg.Kafka, cfg.Kafka.AlarmTopic)
	defer alarms.Close(context.Background()) //nolint:errcheck

	baseURL := cfg.Classifier.BaseURL
	if strings.EqualFold(cfg.Classifier.Provider, "openai") {
		baseURL = cfg.Classifier.OpenAIURL
	}
	backend, err := classifier.NewBackend(classifier.BackendConfig{
		Provider:    cfg.Classifier.Provider,
		BaseURL:     baseURL,
		Model:       cfg.Classifier.Model,
		APIKey:      cfg.Classifier.APIKey,
		Temperature: cfg.Classifier.Temperature,
		HTTPClient:  &http.Client{Timeout: cfg.Classifier.Timeout},
	})
	if err != nil {
		return fmt.Errorf("init classifier backend: %w", err)
	}
	cls, err := classifier.New(classifier.Config{
		Backend:     backend,
		Logger:      logr.Named("classifier"),
		MaxAttempts: cfg.Classifier.MaxAttempts,
		MaxElapsed:  cfg.Classifier.MaxElapsed,
	})
	if err != nil {
		return fmt.Errorf("init classifier: %w", err)
	}

	notifier, err := notify.New(notify.Config{
		BaseURL: cfg.Notify.BaseURL,
		Channel: cfg.Notify.Channel,
		Token:   cfg.Notify.Token,
	})
	if err != nil {
		return fmt.Errorf("init notifier: %w", err)
	}

	reporter, err := report.New(report.Config{
		URL:       cfg.Report.URL,
		SecretKey: cfg.App.SecretKey,
	})
	if err != nil {
		return fmt.Errorf("init report client: %w", err)
	}

	grabber := mjpeg.NewGrabber(mjpeg.GrabberConfig{
		Extractor: mjpeg.NewExtractor(mjpeg.ExtractorConfig{
			Boundary:      cfg.Guard.Boundary,
			ChunkSize:     cfg.Guard.ChunkSize,
			MaxFrameBytes: cfg.Guard.MaxFrameBytes,
		}),
		Timeout: cfg.Guard.GrabTimeout,
		Logger:  logr.Named("mjpeg"),
	})

	sources := make([]*guard.Source, 0, len(cfg.Sources()))
	for _, src := range cfg.Sources() {
		sources = append(sources, guard.NewSource(src.ID, mjpeg.StreamURL(src.URL, cfg.Guard.PathSuffix)))
	}

	monitor, err := guard.NewMonitor(guard.Params{
		Sources:      sources,
		Grabber:      grabber,
		Classifier:   cls,
		Reporter:     reporter,
		Notifier:     notifier,
		Frames:       frames,
		Events:       alarms,
		Cooldowns:    cooldowns,
		Logger:       logr.Named("guard"),
		PollInterval: cfg.Guard.PollInterval,
		Cooldown:     cfg.Guard.Cooldown,
		TurnTimeout:  cfg.Guard.TurnTimeout,
	})
	if err != nil {
		return fmt.Errorf("init monitor: %w", err)
	}

	if c.Bool("once") {
		for id, outcome := range monitor.Once(ctx) {
			logr.Info("turn finished", zap.String("source", id), zap.String("outcome", string(outcome)))
		}
		return nil
	}

	if !c.Bool("serve") {
		return monitor.Run(ctx)
	}

	service := dashboard.NewService(dashboard.Params{
		SecretKey: cfg.App.SecretKey,
		Publisher: newProducer(cfg.Kafka, cfg.Kafka.ReportTopic),
		Monitor:   monitor,
		Logger:    logr.Named("dashboard"),
	})
	handler := dashboard.NewHTTPHandler(service, logr.Named("http"))

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logr.Info("report sink starting", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return monitor.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logr.Error("http server shutdown failed", zap.Error(err))
		}
		if err := service.Close(shutdownCtx); err != nil {
			logr.Error("dashboard shutdown failed", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	logr.Info("guard stopped")
	return err
}

func newFrameStore(ctx context.Context, cfg *config.Config) (framestore.Store, error) {
	provider := strings.ToLower(cfg.Storage.Provider)
	if provider != "minio" && provider != "s3" {
		store, err := framestore.New(framestore.Config{Provider: provider, Dir: cfg.Storage.Dir})
		if err != nil {
			return nil, fmt.Errorf("init frame store: %w", err)
		}
		return store, nil
	}

	objects, err := objectstore.New(objectstore.Config{
		Provider:  provider,
		Endpoint:  cfg.Storage.Endpoint,
		Region:    cfg.Storage.Region,
		Bucket:    cfg.Storage.Bucket,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init object store: %w", err)
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure frame bucket: %w", err)
	}

	store, err := framestore.New(framestore.Config{Provider: provider, Prefix: cfg.Storage.Prefix, Objects: objects})
	if err != nil {
		return nil, fmt.Errorf("init frame store: %w", err)
	}
	return store, nil
}

func newProducer(cfg config.KafkaConfig, topic string) *kafka.Producer {
	return kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.Brokers,
		Topic:        topic,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Compression:  kafka.CompressionFromString(cfg.CompressionCodec),
		RequiredAcks: kafkago.RequireAll,
		MaxAttempts:  cfg.Retries,
	})
}
