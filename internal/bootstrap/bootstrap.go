// Package bootstrap builds the shared runtime dependencies of the api and
// worker binaries from configuration.
package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atendelab/zapdesk/internal/config"
	"github.com/atendelab/zapdesk/internal/queue"
	"github.com/atendelab/zapdesk/pkg/logging"
)

// NewPgxPool connects to Postgres and verifies the connection.
func NewPgxPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("bootstrap: DATABASE_URL is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping database: %w", err)
	}
	return pool, nil
}

// NewQueueClient builds the task queue backend selected by QUEUE_BACKEND.
func NewQueueClient(ctx context.Context, cfg *config.Config, logger *logging.Logger) (queue.Client, error) {
	switch cfg.QueueBackend {
	case "redis":
		opts := &redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("bootstrap: ping redis: %w", err)
		}
		return queue.NewRedisClient(rdb, cfg.RedisQueueKey, cfg.QueueRetention, logger), nil

	case "sqs":
		if cfg.TaskQueueURL == "" {
			return nil, fmt.Errorf("bootstrap: TASK_QUEUE_URL is required for the sqs backend")
		}
		loadOpts := []func(*awsconfig.LoadOptions) error{
			awsconfig.WithRegion(cfg.AWSRegion),
		}
		if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
			loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, "")))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if cfg.AWSEndpointOverride != "" {
				o.BaseEndpoint = aws.String(cfg.AWSEndpointOverride)
			}
		})
		return queue.NewSQSClient(client, cfg.TaskQueueURL, logger), nil

	case "memory":
		logger.Warn("using in-memory queue, tasks do not survive restarts")
		return queue.NewMemoryClient(0), nil

	default:
		return nil, fmt.Errorf("bootstrap: unknown queue backend %q", cfg.QueueBackend)
	}
}
