package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/voxoff/pipeline/internal/bus"
	"github.com/voxoff/pipeline/internal/service"
	"github.com/voxoff/pipeline/internal/tracker"
)

func newTrackerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "tracker",
		Short: "Run the status tracker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTracker(cmd.Context(), ctx)
		},
	}
}

func runTracker(cmdCtx context.Context, ctx *commandContext) error {
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, logger := ctx.cfg, ctx.logger
	rdb, err := bus.Connect(signalCtx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer rdb.Close()

	t := tracker.New(service.NewRedisJobStore(rdb), tracker.NewRedisNotifier(rdb), logger.Named("tracker"))
	consumer := bus.NewConsumer(bus.RedisOpt(cfg.Redis), cfg.Queues.StatusEvents, t.Handle, ctx.consumerConfig(), logger)
	return consumer.Run(signalCtx)
}
