package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/voxoff/pipeline/internal/client"
	"github.com/voxoff/pipeline/internal/model"
)

// lineLead moves every line window earlier so the text shows before it is sung.
const lineLead = 0.3

// ErrEmptyLyrics is returned when the stored lyrics contain no words.
var ErrEmptyLyrics = errors.New("lyrics contain no words")

// Alignment time-aligns the lyrics text against the vocal track.
type Alignment struct {
	aligner   client.ForcedAligner
	artifacts client.ArtifactStore
	logger    *zap.Logger
}

func NewAlignment(aligner client.ForcedAligner, artifacts client.ArtifactStore, logger *zap.Logger) *Alignment {
	return &Alignment{
		aligner:   aligner,
		artifacts: artifacts,
		logger:    logger,
	}
}

// AlignmentDefinition wires the processor into the terminal stage.
func AlignmentDefinition(p *Alignment) Definition {
	return Definition{
		Stage:     model.StageAlignment,
		Inputs:    []model.Artifact{model.ArtifactVocalsAudio, model.ArtifactLyricsText},
		Outputs:   []model.Artifact{model.ArtifactLyricsAligned},
		Processor: p,
	}
}

func (a *Alignment) Process(ctx context.Context, msg *model.StageMessage, _ []model.Artifact, scratch string) error {
	lyricsPath := filepath.Join(scratch, string(model.ArtifactLyricsText))
	vocalsPath := filepath.Join(scratch, string(model.ArtifactVocalsAudio))
	if err := a.artifacts.Download(ctx, msg.SongID, model.ArtifactLyricsText, lyricsPath); err != nil {
		return fmt.Errorf("fetch lyrics: %w", err)
	}
	if err := a.artifacts.Download(ctx, msg.SongID, model.ArtifactVocalsAudio, vocalsPath); err != nil {
		return fmt.Errorf("fetch vocals: %w", err)
	}

	raw, err := os.ReadFile(lyricsPath)
	if err != nil {
		return fmt.Errorf("read lyrics: %w", err)
	}
	lines := strings.Split(string(raw), "\n")
	words := strings.Fields(string(raw))
	if len(words) == 0 {
		return ErrEmptyLyrics
	}

	aligned, err := a.aligner.Align(ctx, vocalsPath, strings.Join(words, " "))
	if err != nil {
		return fmt.Errorf("align lyrics: %w", err)
	}

	result := BuildLines(lines, aligned)
	a.logger.Info("Lyrics aligned",
		zap.String("job_id", msg.JobID),
		zap.String("song_id", msg.SongID),
		zap.Int("words", len(aligned)),
		zap.Int("lines", len(result)))

	body, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode aligned lyrics: %w", err)
	}
	outPath := filepath.Join(scratch, string(model.ArtifactLyricsAligned))
	if err := os.WriteFile(outPath, body, 0o644); err != nil {
		return fmt.Errorf("write aligned lyrics: %w", err)
	}

	if err := a.artifacts.Upload(ctx, msg.SongID, model.ArtifactLyricsAligned, outPath); err != nil {
		return &UploadError{Artifacts: []model.Artifact{model.ArtifactLyricsAligned}, Err: err}
	}
	return nil
}

// BuildLines regroups aligned words by the original lyrics lines. Words are
// consumed in order; a line with no aligned words left is dropped. Both ends
// of every window are shifted back by lineLead and clamped at zero.
func BuildLines(lines []string, aligned []model.AlignedWord) []model.AlignedLine {
	result := make([]model.AlignedLine, 0, len(lines))
	idx := 0
	for _, line := range lines {
		words := strings.Fields(line)
		if len(words) == 0 {
			continue
		}

		var used []string
		var start, end float64
		for _, w := range words {
			if idx >= len(aligned) {
				break
			}
			if len(used) == 0 {
				start = aligned[idx].Start
			}
			end = aligned[idx].End
			used = append(used, w)
			idx++
		}
		if len(used) == 0 {
			continue
		}

		result = append(result, model.AlignedLine{
			Line:  strings.Join(used, " "),
			Start: max(0, start-lineLead),
			End:   max(0, end-lineLead),
		})
	}
	return result
}
