package main

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/voxoff/pipeline/internal/bus"
	"github.com/voxoff/pipeline/internal/config"
	"github.com/voxoff/pipeline/internal/logging"
)

// commandContext lazily loads the shared configuration and logger.
type commandContext struct {
	configFlag *string
	cfg        *config.Config
	logger     *zap.Logger
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load(*c.configFlag)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	c.cfg = cfg
	c.logger = logger
	return cfg, nil
}

// connect opens the Redis client and the asynq publisher every process needs.
func (c *commandContext) connect(ctx context.Context) (*redis.Client, *bus.AsynqPublisher, error) {
	rdb, err := bus.Connect(ctx, c.cfg.Redis, c.logger)
	if err != nil {
		return nil, nil, err
	}
	publisher := bus.NewAsynqPublisher(asynq.NewClient(bus.RedisOpt(c.cfg.Redis))).
		WithRetention(c.cfg.Queues.Acquisition, c.cfg.Queues.Retention).
		WithTimeout(c.cfg.Worker.TaskTimeout)
	return rdb, publisher, nil
}

func (c *commandContext) consumerConfig() bus.ConsumerConfig {
	return bus.ConsumerConfig{
		LogLevel:            c.cfg.Server.LogLevel,
		HealthCheckInterval: c.cfg.Redis.HealthCheckInterval,
		ShutdownTimeout:     c.cfg.Worker.ShutdownTimeout,
	}
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configFlag: &configFlag}

	rootCmd := &cobra.Command{
		Use:           "voxoff",
		Short:         "Karaoke preparation pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd == cmd.Root() {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if ctx.logger != nil {
				_ = ctx.logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newWorkerCommand(ctx))
	rootCmd.AddCommand(newTrackerCommand(ctx))

	return rootCmd
}
