package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/voxoff/pipeline/internal/bus"
	"github.com/voxoff/pipeline/internal/client"
	"github.com/voxoff/pipeline/internal/logging"
	"github.com/voxoff/pipeline/internal/model"
)

// handoffTimeout bounds status and forward publishes. They run detached from
// the delivery context so a cancelled or timed-out task still reports.
const handoffTimeout = 10 * time.Second

// ErrMissingInput is returned when an upstream artifact a stage needs is
// not in the artifact store.
var ErrMissingInput = errors.New("missing required input artifact")

// Processor performs a stage's heavy work. missing lists the outputs that
// are not stored yet; scratch is a private directory removed afterwards.
// A processor must upload every missing output before returning nil.
type Processor interface {
	Process(ctx context.Context, msg *model.StageMessage, missing []model.Artifact, scratch string) error
}

// Definition describes one pipeline stage.
type Definition struct {
	Stage   model.Stage
	Inputs  []model.Artifact
	Outputs []model.Artifact
	// NextQueue receives the forwarded message; empty for the last stage.
	NextQueue string
	Processor Processor
}

// StageWorker runs one Definition against deliveries from its queue.
type StageWorker struct {
	def        Definition
	artifacts  client.ArtifactStore
	publisher  bus.Publisher
	eventQueue string
	scratchDir string
	logger     *zap.Logger
}

// NewStageWorker creates a worker. Status events go to eventQueue and
// scratch directories are created under scratchDir.
func NewStageWorker(def Definition, artifacts client.ArtifactStore, publisher bus.Publisher, eventQueue, scratchDir string, logger *zap.Logger) *StageWorker {
	return &StageWorker{
		def:        def,
		artifacts:  artifacts,
		publisher:  publisher,
		eventQueue: eventQueue,
		scratchDir: scratchDir,
		logger:     logger.With(logging.Stage(def.Stage)),
	}
}

// Handle processes one delivery. It reports the outcome on the status
// queue, forwards on success and never asks the bus to redeliver.
func (w *StageWorker) Handle(ctx context.Context, body []byte) bus.Outcome {
	msg, err := model.DecodeStageMessage(body)
	if err != nil {
		w.logger.Error("Malformed message", append(logging.Job(msg.JobID, msg.SongID),
			zap.ByteString("body", body), zap.Error(err))...)
		w.report(ctx, w.logger, msg, model.EventFailed,
			fmt.Sprintf("malformed message received: %v", err))
		return bus.Nack
	}

	logger := logging.ForMessage(w.logger, w.def.Stage, msg)
	logger.Info("Processing job")

	if err := w.run(ctx, msg, logger); err != nil {
		return w.fail(ctx, logger, msg, err)
	}

	if err := w.report(ctx, logger, msg, model.EventCompleted, ""); err != nil {
		return w.fail(ctx, logger, msg, err)
	}

	if w.def.NextQueue != "" {
		if err := w.forward(ctx, msg); err != nil {
			return w.fail(ctx, logger, msg, fmt.Errorf("forward job: %w", err))
		}
		logger.Info("Job forwarded", zap.String("next_queue", w.def.NextQueue))
	}

	logger.Info("Stage completed")
	return bus.Ack
}

func (w *StageWorker) run(ctx context.Context, msg *model.StageMessage, logger *zap.Logger) error {
	missing, err := w.missingOutputs(ctx, msg.SongID)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		logger.Info("Outputs already present, skipping processing")
		return nil
	}

	for _, in := range w.def.Inputs {
		ok, err := w.artifacts.Exists(ctx, msg.SongID, in)
		if err != nil {
			return fmt.Errorf("check input %s: %w", in, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingInput, model.ArtifactKey(msg.SongID, in))
		}
	}

	scratch, err := os.MkdirTemp(w.scratchDir, string(w.def.Stage)+"-*")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logger.Warn("Failed to remove scratch dir", zap.String("dir", scratch), zap.Error(err))
		}
	}()

	return w.def.Processor.Process(ctx, msg, missing, scratch)
}

// missingOutputs returns the outputs not yet stored for the song. Artifact
// presence is keyed by song, so a new job for a processed song skips work.
func (w *StageWorker) missingOutputs(ctx context.Context, songID string) ([]model.Artifact, error) {
	var missing []model.Artifact
	for _, out := range w.def.Outputs {
		ok, err := w.artifacts.Exists(ctx, songID, out)
		if err != nil {
			return nil, fmt.Errorf("check output %s: %w", out, err)
		}
		if !ok {
			missing = append(missing, out)
		}
	}
	return missing, nil
}

func (w *StageWorker) fail(ctx context.Context, logger *zap.Logger, msg *model.StageMessage, err error) bus.Outcome {
	logger.Error("Stage failed", zap.Error(err))
	w.report(ctx, logger, msg, model.EventFailed,
		fmt.Sprintf("%s failed for job %s, song %s: %v", w.def.Stage, msg.JobID, msg.SongID, err))
	return bus.Nack
}

func (w *StageWorker) forward(ctx context.Context, msg *model.StageMessage) error {
	ctx, cancel := handoffContext(ctx)
	defer cancel()
	return bus.PublishJSON(ctx, w.publisher, w.def.NextQueue, msg)
}

// report publishes a status event. A failed publish is logged and returned.
func (w *StageWorker) report(ctx context.Context, logger *zap.Logger, msg *model.StageMessage, status model.EventStatus, errMsg string) error {
	ctx, cancel := handoffContext(ctx)
	defer cancel()
	event := model.NewStageEvent(w.def.Stage, status, msg.JobID, msg.SongID, errMsg)
	if err := bus.PublishJSON(ctx, w.publisher, w.eventQueue, event); err != nil {
		logger.Error("Failed to publish status event", zap.String("status", string(status)), zap.Error(err))
		return err
	}
	return nil
}

func handoffContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), handoffTimeout)
}
