// Package config reads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	BackendMemory   = "memory"
	BackendS3       = "s3"
	BackendKafka    = "kafka"
	BackendSQS      = "sqs"
	BackendPostgres = "postgres"
)

type Config struct {
	Log       LogConfig
	HTTP      HTTPConfig
	DB        DBConfig
	Storage   StorageConfig
	Queue     QueueConfig
	Kafka     KafkaConfig
	SQS       SQSConfig
	Worker    WorkerConfig
	Outbox    OutboxConfig
	Transcode TranscodeConfig
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" env-default:"info"`
	Format string `env:"LOG_FORMAT" env-default:"json"`
}

type HTTPConfig struct {
	Addr              string        `env:"HTTP_ADDR" env-default:":8081"`
	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" env-default:"5s"`
	ShutdownTimeout   time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

type DBConfig struct {
	// Backend is postgres or memory. Memory only works with embedded workers.
	Backend string `env:"STORE_BACKEND" env-default:"postgres"`
	URL     string `env:"DATABASE_URL"`
	Migrate bool   `env:"DB_MIGRATE" env-default:"false"`
}

type StorageConfig struct {
	Backend          string `env:"STORAGE_BACKEND" env-default:"s3"`
	Endpoint         string `env:"AWS_S3_ENDPOINT"`
	AccessKeyID      string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey  string `env:"AWS_SECRET_ACCESS_KEY"`
	Bucket           string `env:"AWS_S3_BUCKET" env-default:"media"`
	Region           string `env:"AWS_S3_REGION" env-default:"us-east-1"`
	UsePathStyle     bool   `env:"AWS_S3_PATH_STYLE" env-default:"false"`
	CreateBucket     bool   `env:"AWS_S3_CREATE_BUCKET" env-default:"false"`
	DerivativePrefix string `env:"DERIVATIVE_PREFIX" env-default:"processed/"`
	SubtitlePrefix   string `env:"SUBTITLE_PREFIX" env-default:"subtitles/"`
}

type QueueConfig struct {
	Backend string `env:"QUEUE_BACKEND" env-default:"kafka"`
}

type KafkaConfig struct {
	Brokers      []string      `env:"KAFKA_BROKERS" env-default:"localhost:9092" env-separator:","`
	JobTopic     string        `env:"KAFKA_JOB_TOPIC" env-default:"transcode-jobs"`
	EventTopic   string        `env:"KAFKA_EVENT_TOPIC" env-default:"content-events"`
	GroupID      string        `env:"KAFKA_GROUP_ID" env-default:"transcode-workers"`
	MaxRetries   int           `env:"KAFKA_MAX_RETRIES" env-default:"3"`
	RetryBackoff time.Duration `env:"KAFKA_RETRY_BACKOFF" env-default:"100ms"`
}

type SQSConfig struct {
	QueueURL          string        `env:"SQS_QUEUE_URL"`
	Endpoint          string        `env:"SQS_ENDPOINT"`
	Region            string        `env:"AWS_REGION" env-default:"us-east-1"`
	WaitTime          time.Duration `env:"SQS_WAIT_TIME" env-default:"20s"`
	VisibilityTimeout time.Duration `env:"SQS_VISIBILITY_TIMEOUT" env-default:"15m"`
}

type WorkerConfig struct {
	Workers           int           `env:"WORKER_COUNT" env-default:"2"`
	MaxAttempts       int           `env:"WORKER_MAX_ATTEMPTS" env-default:"3"`
	RetryDelay        time.Duration `env:"WORKER_RETRY_DELAY" env-default:"30s"`
	HeartbeatInterval time.Duration `env:"WORKER_HEARTBEAT_INTERVAL" env-default:"30s"`
	StaleAfter        time.Duration `env:"WORKER_STALE_AFTER" env-default:"5m"`
	SweepInterval     time.Duration `env:"WORKER_SWEEP_INTERVAL" env-default:"1m"`
	// Embedded runs the worker pool inside the HTTP process.
	Embedded bool `env:"WORKER_EMBEDDED" env-default:"false"`
}

type OutboxConfig struct {
	Interval  time.Duration `env:"OUTBOX_INTERVAL" env-default:"1s"`
	BatchSize int           `env:"OUTBOX_BATCH_SIZE" env-default:"100"`
	Retention time.Duration `env:"OUTBOX_RETENTION" env-default:"168h"`
}

type TranscodeConfig struct {
	FFmpegPath       string `env:"FFMPEG_PATH" env-default:"ffmpeg"`
	FFprobePath      string `env:"FFPROBE_PATH" env-default:"ffprobe"`
	WorkDir          string `env:"TRANSCODE_WORK_DIR"`
	Preset           string `env:"TRANSCODE_PRESET" env-default:"veryfast"`
	ExtractSubtitles bool   `env:"TRANSCODE_EXTRACT_SUBTITLES" env-default:"true"`
}

// Load reads .env files when present, then the environment.
func Load(envFiles ...string) (*Config, error) {
	_ = godotenv.Load(envFiles...)

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.DB.Backend {
	case BackendPostgres:
		if c.DB.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is empty"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.DB.Backend))
	}

	switch c.Storage.Backend {
	case BackendS3:
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("AWS_S3_BUCKET is empty"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend))
	}

	switch c.Queue.Backend {
	case BackendKafka:
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is empty"))
		}
	case BackendSQS:
		if c.SQS.QueueURL == "" {
			errs = append(errs, errors.New("SQS_QUEUE_URL is empty"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown QUEUE_BACKEND %q", c.Queue.Backend))
	}

	if c.InProcessOnly() && !c.Worker.Embedded {
		errs = append(errs, errors.New("memory backends require WORKER_EMBEDDED=true"))
	}

	w := c.Worker
	if w.Workers <= 0 {
		errs = append(errs, fmt.Errorf("WORKER_COUNT must be positive, got %d", w.Workers))
	}
	if w.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("WORKER_MAX_ATTEMPTS must be positive, got %d", w.MaxAttempts))
	}
	if w.StaleAfter <= 0 || w.SweepInterval <= 0 {
		errs = append(errs, errors.New("WORKER_STALE_AFTER and WORKER_SWEEP_INTERVAL must be positive"))
	}
	// The sweeper always runs, so a worker without a heartbeat would lose
	// every transcode that outlives WORKER_STALE_AFTER.
	switch {
	case w.HeartbeatInterval <= 0:
		errs = append(errs, errors.New("WORKER_HEARTBEAT_INTERVAL must be positive"))
	case w.HeartbeatInterval >= w.StaleAfter:
		errs = append(errs, fmt.Errorf("WORKER_HEARTBEAT_INTERVAL (%v) must be shorter than WORKER_STALE_AFTER (%v)", w.HeartbeatInterval, w.StaleAfter))
	}

	return errors.Join(errs...)
}

// InProcessOnly reports whether any backend keeps its state in process memory.
func (c *Config) InProcessOnly() bool {
	return c.DB.Backend == BackendMemory || c.Storage.Backend == BackendMemory || c.Queue.Backend == BackendMemory
}
