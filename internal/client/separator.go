package client

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voxoff/pipeline/internal/config"
)

// Stems are the two tracks produced by source separation.
type Stems struct {
	Vocals        string
	Accompaniment string
}

// SourceSeparator splits a mixed track into vocals and accompaniment.
type SourceSeparator interface {
	Separate(ctx context.Context, inputPath, outDir string) (*Stems, error)
}

// Spleeter separates stems with the spleeter CLI.
type Spleeter struct {
	binary  string
	model   string
	timeout time.Duration
	exec    Executor
	logger  *zap.Logger
}

// NewSpleeter creates a spleeter separator. A nil executor runs the real binary.
func NewSpleeter(cfg *config.SeparatorConfig, exec Executor, logger *zap.Logger) *Spleeter {
	if exec == nil {
		exec = CommandExecutor{}
	}
	return &Spleeter{
		binary:  cfg.Binary,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		exec:    exec,
		logger:  logger.Named("spleeter"),
	}
}

// Separate runs the two-stem model. Spleeter writes its output under a
// directory named after the input file.
func (s *Spleeter) Separate(ctx context.Context, inputPath, outDir string) (*Stems, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	args := []string{"separate", "-p", s.model, "-o", outDir, inputPath}

	var tail []string
	err := s.exec.Run(ctx, s.binary, args, func(line string) {
		s.logger.Debug(line)
		tail = appendTail(tail, line, 5)
	})
	if err != nil {
		return nil, fmt.Errorf("separate %s: %w%s", filepath.Base(inputPath), err, formatTail(tail))
	}

	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	stems := &Stems{
		Vocals:        filepath.Join(outDir, base, "vocals.wav"),
		Accompaniment: filepath.Join(outDir, base, "accompaniment.wav"),
	}
	for _, p := range []string{stems.Vocals, stems.Accompaniment} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("separate %s: missing stem: %w", filepath.Base(inputPath), err)
		}
	}
	return stems, nil
}
