package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/voxoff/pipeline/internal/config"
	"github.com/voxoff/pipeline/internal/logging"
)

// RedisOpt builds the asynq connection options from config.
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	}
}

// Connect opens a Redis client and waits for the broker to answer, retrying
// a bounded number of times so that a broker restart does not need operator
// action.
func Connect(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	attempt := 0
	ping := func() error {
		attempt++
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis not reachable",
				zap.String("addr", cfg.Addr),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.ConnectRetryDelay), uint64(cfg.ConnectAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(ping, policy); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// AsynqPublisher publishes messages as asynq tasks.
type AsynqPublisher struct {
	client    *asynq.Client
	retention map[string]time.Duration
	timeout   time.Duration
}

// NewAsynqPublisher wraps an asynq client.
func NewAsynqPublisher(client *asynq.Client) *AsynqPublisher {
	return &AsynqPublisher{
		client:    client,
		retention: make(map[string]time.Duration),
	}
}

// WithRetention keeps processed tasks of queue in the broker for d. Used on
// the first hop where no artifact exists yet to reconstruct the request.
func (p *AsynqPublisher) WithRetention(queue string, d time.Duration) *AsynqPublisher {
	p.retention[queue] = d
	return p
}

// WithTimeout sets how long a consumer may work on one task before asynq
// cancels its context. Without it asynq applies its 30 minute default, which
// stage processing can outlast.
func (p *AsynqPublisher) WithTimeout(d time.Duration) *AsynqPublisher {
	p.timeout = d
	return p
}

// Publish enqueues body on queue. Broker-level retries are disabled: a
// rejected message is archived, never redelivered.
func (p *AsynqPublisher) Publish(ctx context.Context, queue string, body []byte) error {
	task := asynq.NewTask(queue, body, p.taskOptions(queue)...)
	if _, err := p.client.EnqueueContext(ctx, task); err != nil {
		return err
	}
	return nil
}

func (p *AsynqPublisher) taskOptions(queue string) []asynq.Option {
	opts := []asynq.Option{
		asynq.Queue(queue),
		asynq.MaxRetry(0),
	}
	if d, ok := p.retention[queue]; ok && d > 0 {
		opts = append(opts, asynq.Retention(d))
	}
	if p.timeout > 0 {
		opts = append(opts, asynq.Timeout(p.timeout))
	}
	return opts
}

// Close releases the underlying client.
func (p *AsynqPublisher) Close() error {
	return p.client.Close()
}

// Consumer runs a Handler over a single queue with one processing slot.
type Consumer struct {
	queue  string
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

// ConsumerConfig holds the consumer tuning knobs.
type ConsumerConfig struct {
	LogLevel            string
	HealthCheckInterval time.Duration
	ShutdownTimeout     time.Duration
}

// NewConsumer creates a consumer bound to queue.
func NewConsumer(opt asynq.RedisConnOpt, queue string, h Handler, cfg ConsumerConfig, logger *zap.Logger) *Consumer {
	logger = logger.With(zap.String("queue", queue))

	server := asynq.NewServer(opt, asynq.Config{
		// One in-flight message per process; scale out with more processes.
		Concurrency: 1,
		Queues: map[string]int{
			queue: 1,
		},
		Logger:              logging.Asynq(logger),
		LogLevel:            logging.AsynqLevel(cfg.LogLevel),
		ShutdownTimeout:     cfg.ShutdownTimeout,
		HealthCheckInterval: cfg.HealthCheckInterval,
		HealthCheckFunc: func(err error) {
			if err != nil {
				logger.Warn("Broker health check failed", zap.Error(err))
			}
		},
	})

	c := &Consumer{
		queue:  queue,
		server: server,
		mux:    asynq.NewServeMux(),
		logger: logger,
	}
	c.mux.HandleFunc(queue, func(ctx context.Context, task *asynq.Task) error {
		return taskResult(queue, h(ctx, task.Payload()))
	})
	return c
}

// Run consumes until ctx is cancelled, then drains the in-flight message.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("start consumer on %s: %w", c.queue, err)
	}
	c.logger.Info("Consumer started")

	<-ctx.Done()
	c.logger.Info("Shutting down consumer...")
	c.server.Shutdown()
	return nil
}

// taskResult maps an outcome onto asynq's handler contract. Nack is
// expressed as SkipRetry so the task is archived immediately.
func taskResult(queue string, o Outcome) error {
	if o == Ack {
		return nil
	}
	return fmt.Errorf("message on %s rejected (%s): %w", queue, o, asynq.SkipRetry)
}
