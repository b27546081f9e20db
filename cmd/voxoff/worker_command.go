package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/voxoff/pipeline/internal/bus"
	"github.com/voxoff/pipeline/internal/client"
	"github.com/voxoff/pipeline/internal/config"
	"github.com/voxoff/pipeline/internal/logging"
	"github.com/voxoff/pipeline/internal/model"
	"github.com/voxoff/pipeline/internal/service"
	"github.com/voxoff/pipeline/internal/worker"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	var stageFlag string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run one stage worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := model.ParseStage(stageFlag)
			if err != nil {
				return err
			}
			return runWorker(cmd.Context(), ctx, stage)
		},
	}
	cmd.Flags().StringVar(&stageFlag, "stage", "", "Stage to run (acquisition, separation, alignment)")
	_ = cmd.MarkFlagRequired("stage")
	return cmd
}

func runWorker(cmdCtx context.Context, ctx *commandContext, stage model.Stage) error {
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := ctx.cfg
	logger := ctx.logger.With(logging.Stage(stage))

	rdb, publisher, err := ctx.connect(signalCtx)
	if err != nil {
		return err
	}
	// Connect only waits for the broker; the worker reaches it through asynq.
	_ = rdb.Close()
	defer publisher.Close()

	artifacts, err := client.NewS3ArtifactStore(signalCtx, &cfg.Storage)
	if err != nil {
		return fmt.Errorf("init artifact store: %w", err)
	}

	def, queue, err := stageDefinition(signalCtx, cfg, stage, artifacts, logger)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Worker.ScratchDir, 0o755); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	w := worker.NewStageWorker(def, artifacts, publisher, cfg.Queues.StatusEvents, cfg.Worker.ScratchDir, logger)

	consumer := bus.NewConsumer(bus.RedisOpt(cfg.Redis), queue, w.Handle, ctx.consumerConfig(), logger)
	return consumer.Run(signalCtx)
}

// stageDefinition wires the stage's processor and returns the queue it consumes.
func stageDefinition(ctx context.Context, cfg *config.Config, stage model.Stage, artifacts client.ArtifactStore, logger *zap.Logger) (worker.Definition, string, error) {
	switch stage {
	case model.StageAcquisition:
		sources := []client.LyricsSource{
			client.NewAZLyricsSource(&cfg.Lyrics),
			client.NewGeniusSource(&cfg.Lyrics),
		}
		p := worker.NewAcquisition(
			client.NewYTDLP(&cfg.Downloader, nil, logger),
			sources,
			artifacts,
			service.NewRetrier(cfg.Retry, logger),
			logger,
		)
		return worker.AcquisitionDefinition(p, cfg.Queues.Separation), cfg.Queues.Acquisition, nil

	case model.StageSeparation:
		p := worker.NewSeparation(client.NewSpleeter(&cfg.Separator, nil, logger), artifacts, logger)
		return worker.SeparationDefinition(p, cfg.Queues.Alignment), cfg.Queues.Separation, nil

	case model.StageAlignment:
		aligner := client.NewAlignerClient(&cfg.Aligner)
		if err := aligner.HealthCheck(ctx); err != nil {
			logger.Warn("Aligner service not reachable yet", zap.Error(err))
		}
		p := worker.NewAlignment(aligner, artifacts, logger)
		return worker.AlignmentDefinition(p), cfg.Queues.Alignment, nil
	}
	return worker.Definition{}, "", fmt.Errorf("%w: %q", model.ErrUnknownStage, stage)
}
