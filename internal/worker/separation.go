package worker

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"go.uber.org/zap"

	"github.com/voxoff/pipeline/internal/client"
	"github.com/voxoff/pipeline/internal/model"
)

// Separation splits the original audio into instrumental and vocals.
type Separation struct {
	separator client.SourceSeparator
	artifacts client.ArtifactStore
	logger    *zap.Logger
}

func NewSeparation(separator client.SourceSeparator, artifacts client.ArtifactStore, logger *zap.Logger) *Separation {
	return &Separation{
		separator: separator,
		artifacts: artifacts,
		logger:    logger,
	}
}

// SeparationDefinition wires the processor into a stage that forwards to
// the alignment queue.
func SeparationDefinition(p *Separation, nextQueue string) Definition {
	return Definition{
		Stage:     model.StageSeparation,
		Inputs:    []model.Artifact{model.ArtifactOriginalAudio},
		Outputs:   []model.Artifact{model.ArtifactInstrumentalAudio, model.ArtifactVocalsAudio},
		NextQueue: nextQueue,
		Processor: p,
	}
}

func (s *Separation) Process(ctx context.Context, msg *model.StageMessage, missing []model.Artifact, scratch string) error {
	input := filepath.Join(scratch, string(model.ArtifactOriginalAudio))
	if err := s.artifacts.Download(ctx, msg.SongID, model.ArtifactOriginalAudio, input); err != nil {
		return fmt.Errorf("fetch original audio: %w", err)
	}

	stems, err := s.separator.Separate(ctx, input, filepath.Join(scratch, "stems"))
	if err != nil {
		return fmt.Errorf("separate stems: %w", err)
	}

	files := make(map[model.Artifact]string, 2)
	if slices.Contains(missing, model.ArtifactInstrumentalAudio) {
		files[model.ArtifactInstrumentalAudio] = stems.Accompaniment
	}
	if slices.Contains(missing, model.ArtifactVocalsAudio) {
		files[model.ArtifactVocalsAudio] = stems.Vocals
	}

	if err := uploadConcurrently(ctx, s.artifacts, msg.SongID, files); err != nil {
		return err
	}
	s.logger.Info("Stems uploaded", zap.String("job_id", msg.JobID), zap.String("song_id", msg.SongID), zap.Int("count", len(files)))
	return nil
}
