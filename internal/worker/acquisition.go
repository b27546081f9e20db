package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/voxoff/pipeline/internal/client"
	"github.com/voxoff/pipeline/internal/model"
	"github.com/voxoff/pipeline/internal/service"
)

// Acquisition downloads the original audio and the plain lyrics text.
type Acquisition struct {
	downloader client.AudioDownloader
	sources    []client.LyricsSource
	artifacts  client.ArtifactStore
	retrier    *service.Retrier
	logger     *zap.Logger
}

// NewAcquisition creates the processor. Lyrics sources are tried in order.
func NewAcquisition(downloader client.AudioDownloader, sources []client.LyricsSource, artifacts client.ArtifactStore, retrier *service.Retrier, logger *zap.Logger) *Acquisition {
	return &Acquisition{
		downloader: downloader,
		sources:    sources,
		artifacts:  artifacts,
		retrier:    retrier,
		logger:     logger,
	}
}

// AcquisitionDefinition wires the processor into a stage that forwards to
// the separation queue.
func AcquisitionDefinition(p *Acquisition, nextQueue string) Definition {
	return Definition{
		Stage:     model.StageAcquisition,
		Outputs:   []model.Artifact{model.ArtifactOriginalAudio, model.ArtifactLyricsText},
		NextQueue: nextQueue,
		Processor: p,
	}
}

func (a *Acquisition) Process(ctx context.Context, msg *model.StageMessage, missing []model.Artifact, scratch string) error {
	if slices.Contains(missing, model.ArtifactOriginalAudio) {
		if err := a.acquireAudio(ctx, msg, scratch); err != nil {
			return err
		}
	}

	// A job cannot progress without lyrics even when the audio succeeded.
	if slices.Contains(missing, model.ArtifactLyricsText) {
		if err := a.acquireLyrics(ctx, msg, scratch); err != nil {
			return err
		}
	}
	return nil
}

func (a *Acquisition) acquireAudio(ctx context.Context, msg *model.StageMessage, scratch string) error {
	var path string
	err := a.retrier.Do(ctx, "download audio", func(ctx context.Context) error {
		var err error
		path, err = a.downloader.Download(ctx, msg.SongID, msg.Title, msg.Artist, scratch)
		return err
	})
	if err != nil {
		return fmt.Errorf("download audio: %w", err)
	}

	return a.upload(ctx, msg.SongID, model.ArtifactOriginalAudio, path)
}

func (a *Acquisition) acquireLyrics(ctx context.Context, msg *model.StageMessage, scratch string) error {
	text, err := a.fetchLyrics(ctx, msg)
	if err != nil {
		return fmt.Errorf("acquire lyrics: %w", err)
	}

	path := filepath.Join(scratch, string(model.ArtifactLyricsText))
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write lyrics: %w", err)
	}
	return a.upload(ctx, msg.SongID, model.ArtifactLyricsText, path)
}

// fetchLyrics tries each source in turn and falls back on any failure.
func (a *Acquisition) fetchLyrics(ctx context.Context, msg *model.StageMessage) (string, error) {
	var errs error
	for _, src := range a.sources {
		var text string
		err := a.retrier.Do(ctx, src.Name(), func(ctx context.Context) error {
			var err error
			text, err = src.Fetch(ctx, msg.SongID, msg.Title, msg.Artist)
			return err
		})
		if err == nil && strings.TrimSpace(text) == "" {
			err = fmt.Errorf("empty lyrics: %w", client.ErrLyricsNotFound)
		}
		if err == nil {
			a.logger.Info("Lyrics acquired", zap.String("source", src.Name()), zap.String("job_id", msg.JobID), zap.String("song_id", msg.SongID))
			return text, nil
		}
		if errors.Is(err, context.Canceled) {
			return "", err
		}

		a.logger.Warn("Lyrics source failed, trying next",
			zap.String("source", src.Name()),
			zap.String("job_id", msg.JobID),
			zap.String("song_id", msg.SongID),
			zap.Error(err))
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", src.Name(), err))
	}
	if errs == nil {
		return "", client.ErrLyricsNotFound
	}
	return "", errs
}

func (a *Acquisition) upload(ctx context.Context, songID string, name model.Artifact, path string) error {
	err := a.retrier.Do(ctx, "upload "+string(name), func(ctx context.Context) error {
		return a.artifacts.Upload(ctx, songID, name, path)
	})
	if err != nil {
		return &UploadError{Artifacts: []model.Artifact{name}, Err: err}
	}
	return nil
}
