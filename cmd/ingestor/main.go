package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/your-org/fleetingest/internal/discovery"
	"github.com/your-org/fleetingest/internal/ingest"
	"github.com/your-org/fleetingest/internal/media"
	"github.com/your-org/fleetingest/pkg/config"
	"github.com/your-org/fleetingest/pkg/kafka"
	"github.com/your-org/fleetingest/pkg/logger"
	"github.com/your-org/fleetingest/pkg/queue/redisqueue"
	"github.com/your-org/fleetingest/pkg/storage/objectstore"
	"github.com/your-org/fleetingest/pkg/tracing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logr, err := logger.New(cfg.App.Name, cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	traceShutdown, err := tracing.Init(ctx, tracing.Config{
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRatio:    cfg.Tracing.SampleRatio,
		Attributes:     parseResourceAttributes(cfg.Tracing.ResourceAttr),
		ServiceName:    cfg.App.Name,
		ServiceVersion: cfg.App.Version,
	})
	if err != nil {
		logr.Fatal("init tracing", zap.Error(err))
	}
	defer traceShutdown(context.Background()) //nolint:errcheck

	inbound, err := redisqueue.New(redisqueue.Config{
		Addr:              cfg.Queue.RedisAddr,
		Password:          cfg.Queue.RedisPassword,
		DB:                cfg.Queue.RedisDB,
		Name:              cfg.Queue.Name,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
	})
	if err != nil {
		logr.Fatal("init inbound queue", zap.Error(err))
	}
	defer inbound.Close() //nolint:errcheck

	source, err := objectstore.New(objectstore.Config{
		Endpoint:  cfg.Storage.SourceEndpoint,
		Region:    cfg.Storage.SourceRegion,
		Bucket:    cfg.Storage.SourceBucket,
		AccessKey: cfg.Storage.SourceAccessKey,
		SecretKey: cfg.Storage.SourceSecretKey,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		logr.Fatal("init source store", zap.Error(err))
	}

	dest, err := objectstore.New(objectstore.Config{
		Endpoint:  cfg.Storage.DestEndpoint,
		Region:    cfg.Storage.DestRegion,
		Bucket:    cfg.Storage.DestBucket,
		AccessKey: cfg.Storage.DestAccessKey,
		SecretKey: cfg.Storage.DestSecretKey,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		logr.Fatal("init destination store", zap.Error(err))
	}

	records := newProducer(cfg, cfg.Kafka.RecordTopic)
	mdfNotifier := newProducer(cfg, cfg.Kafka.MDFTopic)
	selector := newProducer(cfg, cfg.Kafka.SelectorTopic)

	finder := discovery.NewFinder(source, logr)
	engine := discovery.NewEngine(source, finder, cfg.Ingest.MaxListPagesPerPartition, logr)

	orchestrator := ingest.NewOrchestrator(ingest.Params{
		Source:   source,
		Dest:     dest,
		Engine:   engine,
		Retry:    ingest.NewRetryController(inbound, logr),
		Prober:   &media.FFProbe{Path: cfg.Ingest.FFProbePath},
		Records:  records,
		MDF:      mdfNotifier,
		Selector: selector,
		Policy: ingest.Policy{
			TenantBlacklist:       cfg.Ingest.TenantBlacklist,
			RecorderBlacklist:     cfg.Ingest.RecorderBlacklist,
			TrainingWhitelist:     cfg.Ingest.TrainingWhitelist,
			RequestTrainingUpload: cfg.Ingest.RequestTrainingUpload,
			DiscardRepeatedVideo:  cfg.Ingest.DiscardRepeatedVideo,
			FrameBufferMS:         cfg.Ingest.FrameBufferMS,
		},
		Logger: logr,
	})

	handler := ingest.NewHTTPHandler(orchestrator.Stats(), logr)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logr.Info("status server starting", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Fatal("status server failed", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logr.Error("status server shutdown failed", zap.Error(err))
		}
		for _, producer := range []*kafka.Producer{records, mdfNotifier, selector} {
			if err := producer.Close(shutdownCtx); err != nil {
				logr.Error("producer shutdown failed",
					zap.String("topic", producer.Topic()), zap.Error(err))
			}
		}
	}()

	worker := ingest.NewWorker(inbound, orchestrator, cfg.Queue.PollInterval, logr)
	if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
		logr.Fatal("worker failed", zap.Error(err))
	}
	logr.Info("worker stopped")
}

func newProducer(cfg *config.Config, topic string) *kafka.Producer {
	return kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        topic,
		BatchSize:    cfg.Kafka.BatchSize,
		BatchTimeout: cfg.Kafka.BatchTimeout,
		Compression:  kafka.CompressionFromString(cfg.Kafka.CompressionCodec),
		RequiredAcks: kafkago.RequireAll,
		MaxAttempts:  cfg.Kafka.Retries,
	})
}

func parseResourceAttributes(raw string) map[string]string {
	if raw == "" {
		return map[string]string{}
	}
	attrs := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if !strings.Contains(pair, "=") {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		attrs[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return attrs
}
