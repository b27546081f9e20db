package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/voxoff/pipeline/internal/server"
	"github.com/voxoff/pipeline/internal/service"
	ws "github.com/voxoff/pipeline/internal/websocket"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the submission and status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), ctx)
		},
	}
}

func runServe(cmdCtx context.Context, ctx *commandContext) error {
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, logger := ctx.cfg, ctx.logger
	rdb, publisher, err := ctx.connect(signalCtx)
	if err != nil {
		return err
	}
	defer rdb.Close()
	defer publisher.Close()

	store := service.NewRedisJobStore(rdb)
	submissions := service.NewSubmissionService(publisher, store, cfg.Queues, logger)

	hub := ws.NewHub(logger)
	go func() {
		if err := hub.Relay(signalCtx, rdb); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Status relay stopped", zap.Error(err))
		}
	}()

	app := server.New(server.Options{
		Submissions:       submissions,
		Redis:             rdb,
		Hub:               hub,
		Logger:            logger,
		LogLevel:          cfg.Server.LogLevel,
		SubmissionsPerMin: cfg.RateLimit.SubmissionsPerMin,
	})

	// Graceful shutdown
	go func() {
		<-signalCtx.Done()
		logger.Info("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Error("Server shutdown error", zap.Error(err))
		}
	}()

	addr := ":" + cfg.Server.Port
	logger.Info("Server starting", zap.String("addr", addr))
	return app.Listen(addr)
}
