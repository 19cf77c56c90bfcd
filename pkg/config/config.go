package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures the full runtime configuration for the ingestor worker.
type Config struct {
	App     AppConfig
	HTTP    HTTPConfig
	Queue   QueueConfig
	Kafka   KafkaConfig
	Storage StorageConfig
	Tracing TracingConfig
	Ingest  IngestConfig
}

type AppConfig struct {
	Name        string `env:"APP_NAME" envDefault:"fleetingest-ingestor"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	Version     string `env:"APP_VERSION" envDefault:"0.1.0"`
	LogLevel    string `env:"APP_LOG_LEVEL" envDefault:"info"`
}

type HTTPConfig struct {
	Addr         string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
}

// QueueConfig points at the inbound footage-event queue.
type QueueConfig struct {
	RedisAddr         string        `env:"QUEUE_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword     string        `env:"QUEUE_REDIS_PASSWORD" envDefault:""`
	RedisDB           int           `env:"QUEUE_REDIS_DB" envDefault:"0"`
	Name              string        `env:"QUEUE_NAME" envDefault:"footage-events"`
	VisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT" envDefault:"5m"`
	PollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"5s"`
}

type KafkaConfig struct {
	Brokers          []string      `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	RecordTopic      string        `env:"KAFKA_RECORD_TOPIC" envDefault:"fleetingest.records"`
	MDFTopic         string        `env:"KAFKA_MDF_TOPIC" envDefault:"fleetingest.mdf"`
	SelectorTopic    string        `env:"KAFKA_SELECTOR_TOPIC" envDefault:"fleetingest.selector"`
	Retries          int           `env:"KAFKA_RETRIES" envDefault:"3"`
	RetryBackoff     time.Duration `env:"KAFKA_RETRY_BACKOFF" envDefault:"500ms"`
	CompressionCodec string        `env:"KAFKA_COMPRESSION_CODEC" envDefault:"snappy"`
	BatchSize        int           `env:"KAFKA_BATCH_SIZE" envDefault:"100"`
	BatchTimeout     time.Duration `env:"KAFKA_BATCH_TIMEOUT" envDefault:"1s"`
}

// StorageConfig describes the staging store the devices upload into and the
// destination store completed artifacts are copied to.
type StorageConfig struct {
	SourceEndpoint  string `env:"STORAGE_SOURCE_ENDPOINT" envDefault:"localhost:9000"`
	SourceRegion    string `env:"STORAGE_SOURCE_REGION" envDefault:"eu-central-1"`
	SourceBucket    string `env:"STORAGE_SOURCE_BUCKET" envDefault:"device-data"`
	SourceAccessKey string `env:"STORAGE_SOURCE_ACCESS_KEY" envDefault:"minioadmin"`
	SourceSecretKey string `env:"STORAGE_SOURCE_SECRET_KEY" envDefault:"minioadmin"`
	DestEndpoint    string `env:"STORAGE_DEST_ENDPOINT" envDefault:"localhost:9000"`
	DestRegion      string `env:"STORAGE_DEST_REGION" envDefault:"eu-central-1"`
	DestBucket      string `env:"STORAGE_DEST_BUCKET" envDefault:"fleetingest-raw"`
	DestAccessKey   string `env:"STORAGE_DEST_ACCESS_KEY" envDefault:"minioadmin"`
	DestSecretKey   string `env:"STORAGE_DEST_SECRET_KEY" envDefault:"minioadmin"`
	UseSSL          bool   `env:"STORAGE_USE_SSL" envDefault:"false"`
}

type TracingConfig struct {
	Endpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	Insecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio  float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"1.0"`
	ResourceAttr string  `env:"OTEL_RESOURCE_ATTRIBUTES" envDefault:"service.namespace=fleetingest"`
}

// IngestConfig holds the ingestion policy knobs that used to live as
// module-level globals in earlier revisions of the pipeline.
type IngestConfig struct {
	TenantBlacklist          []string `env:"INGEST_TENANT_BLACKLIST" envSeparator:"," envDefault:""`
	RecorderBlacklist        []string `env:"INGEST_RECORDER_BLACKLIST" envSeparator:"," envDefault:""`
	TrainingWhitelist        []string `env:"INGEST_TRAINING_WHITELIST" envSeparator:"," envDefault:""`
	RequestTrainingUpload    bool     `env:"INGEST_REQUEST_TRAINING_UPLOAD" envDefault:"true"`
	DiscardRepeatedVideo     bool     `env:"INGEST_DISCARD_REPEATED_VIDEO" envDefault:"true"`
	FrameBufferMS            int64    `env:"INGEST_FRAME_BUFFER_MS" envDefault:"0"`
	FFProbePath              string   `env:"INGEST_FFPROBE_PATH" envDefault:"/usr/bin/ffprobe"`
	MaxListPagesPerPartition int      `env:"INGEST_MAX_LIST_PAGES_PER_PARTITION" envDefault:"5"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
