package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/romariotrain/vod-pipeline/internal/config"
	"github.com/romariotrain/vod-pipeline/internal/media/delivery"
	"github.com/romariotrain/vod-pipeline/internal/media/kafka"
	"github.com/romariotrain/vod-pipeline/internal/media/objectstore"
	"github.com/romariotrain/vod-pipeline/internal/media/queue"
	"github.com/romariotrain/vod-pipeline/internal/media/repository"
	"github.com/romariotrain/vod-pipeline/internal/media/transcode"
	"github.com/romariotrain/vod-pipeline/internal/media/worker"
	"github.com/romariotrain/vod-pipeline/internal/retry"
	"github.com/romariotrain/vod-pipeline/internal/storage/postgres"
)

// Backends holds the infrastructure clients a binary runs on.
type Backends struct {
	DB      *sqlx.DB
	Content repository.ContentRepository
	Views   delivery.ViewRecorder
	Store   objectstore.Store
	Queue   queue.Queue

	closers []func() error
}

// OpenBackends connects to every backend named in cfg. consume controls
// whether the job queue joins the consumer side; publish-only binaries pass false.
func OpenBackends(ctx context.Context, cfg *config.Config, consume bool, logger zerolog.Logger) (_ *Backends, err error) {
	b := &Backends{}
	defer func() {
		if err != nil {
			_ = b.Close()
		}
	}()

	switch cfg.DB.Backend {
	case config.BackendPostgres:
		db, err := postgres.Connect(ctx, cfg.DB.URL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, db.Close)
		if cfg.DB.Migrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				return nil, err
			}
		}
		repo := postgres.NewContentRepo(db, postgres.NewOutboxRepo(db))
		b.DB, b.Content, b.Views = db, repo, repo
	default:
		b.Content = repository.NewMemoryRepository()
	}

	switch cfg.Storage.Backend {
	case config.BackendS3:
		s, err := objectstore.NewS3(ctx, objectstore.S3Config{
			Region:                 cfg.Storage.Region,
			Bucket:                 cfg.Storage.Bucket,
			AccessKeyID:            cfg.Storage.AccessKeyID,
			SecretAccessKey:        cfg.Storage.SecretAccessKey,
			Endpoint:               cfg.Storage.Endpoint,
			UsePathStyle:           cfg.Storage.UsePathStyle,
			CreateBucketIfNotExist: cfg.Storage.CreateBucket,
		})
		if err != nil {
			return nil, fmt.Errorf("object store: %w", err)
		}
		b.Store = s
	default:
		b.Store = objectstore.NewMemory()
	}

	q, err := openQueue(ctx, cfg, consume, logger)
	if err != nil {
		return nil, fmt.Errorf("job queue: %w", err)
	}
	b.Queue = q
	b.closers = append(b.closers, q.Close)

	return b, nil
}

func openQueue(ctx context.Context, cfg *config.Config, consume bool, logger zerolog.Logger) (queue.Queue, error) {
	switch cfg.Queue.Backend {
	case config.BackendKafka:
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.JobTopic,
			MaxRetries:   cfg.Kafka.MaxRetries,
			RetryBackoff: cfg.Kafka.RetryBackoff,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		if !consume {
			return queue.NewKafka(producer, nil, logger), nil
		}
		consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.JobTopic,
			GroupID: cfg.Kafka.GroupID,
			Logger:  logger,
		})
		if err != nil {
			_ = producer.Close()
			return nil, err
		}
		return queue.NewKafka(producer, consumer, logger), nil

	case config.BackendSQS:
		opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.SQS.Region)}
		if cfg.Storage.AccessKeyID != "" && cfg.Storage.SecretAccessKey != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.Storage.AccessKeyID, cfg.Storage.SecretAccessKey, ""),
			))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if cfg.SQS.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.SQS.Endpoint)
			}
		})
		return queue.NewSQS(client, queue.SQSConfig{
			QueueURL:          cfg.SQS.QueueURL,
			WaitTime:          cfg.SQS.WaitTime,
			VisibilityTimeout: cfg.SQS.VisibilityTimeout,
		}, logger)

	case config.BackendMemory:
		return queue.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
}

func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	b.closers = nil
	return errors.Join(errs...)
}

// StoreRetry is the backoff used for transient store errors across binaries.
func StoreRetry() retry.Policy {
	return retry.Policy{MaxRetries: 3}
}

// NewWorkers builds the processing side: the worker pool and the stale sweeper.
func NewWorkers(cfg *config.Config, b *Backends, logger zerolog.Logger) (*worker.Pool, *worker.Sweeper, error) {
	tc := transcode.NewFFmpeg(transcode.FFmpegConfig{
		FFmpegPath:      cfg.Transcode.FFmpegPath,
		FFprobePath:     cfg.Transcode.FFprobePath,
		WorkDir:         cfg.Transcode.WorkDir,
		Preset:          cfg.Transcode.Preset,
		ExtractSubtitle: cfg.Transcode.ExtractSubtitles,
		Logger:          logger,
	})
	return newWorkers(cfg, b, tc, logger)
}

func newWorkers(cfg *config.Config, b *Backends, tc transcode.Transcoder, logger zerolog.Logger) (*worker.Pool, *worker.Sweeper, error) {
	processor, err := worker.NewProcessor(b.Content, b.Store, tc, b.Queue, worker.Config{
		MaxAttempts:       cfg.Worker.MaxAttempts,
		RetryDelay:        cfg.Worker.RetryDelay,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		DerivativePrefix:  cfg.Storage.DerivativePrefix,
		SubtitlePrefix:    cfg.Storage.SubtitlePrefix,
		StoreRetry:        StoreRetry(),
		Logger:            logger,
	})
	if err != nil {
		return nil, nil, err
	}

	pool, err := worker.NewPool(b.Queue, processor, worker.PoolConfig{
		Workers: cfg.Worker.Workers,
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, err
	}

	sweeper, err := NewSweeper(cfg, b, logger)
	if err != nil {
		return nil, nil, err
	}
	return pool, sweeper, nil
}

func NewSweeper(cfg *config.Config, b *Backends, logger zerolog.Logger) (*worker.Sweeper, error) {
	return worker.NewSweeper(b.Content, b.Queue, worker.SweeperConfig{
		Interval:    cfg.Worker.SweepInterval,
		StaleAfter:  cfg.Worker.StaleAfter,
		MaxAttempts: cfg.Worker.MaxAttempts,
		Logger:      logger,
	})
}
