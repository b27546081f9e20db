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

// AudioDownloader fetches the original audio for a song.
type AudioDownloader interface {
	Download(ctx context.Context, songID, title, artist, dir string) (string, error)
}

// YTDLP downloads audio through the yt-dlp CLI using a search query.
type YTDLP struct {
	binary  string
	timeout time.Duration
	exec    Executor
	logger  *zap.Logger
}

// NewYTDLP creates a yt-dlp downloader. A nil executor runs the real binary.
func NewYTDLP(cfg *config.DownloaderConfig, exec Executor, logger *zap.Logger) *YTDLP {
	if exec == nil {
		exec = CommandExecutor{}
	}
	return &YTDLP{
		binary:  cfg.Binary,
		timeout: cfg.Timeout,
		exec:    exec,
		logger:  logger.Named("yt-dlp"),
	}
}

// Download searches for "title artist" and extracts the best audio stream as
// WAV into dir. It returns the path of the produced file.
func (y *YTDLP) Download(ctx context.Context, songID, title, artist, dir string) (string, error) {
	if y.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, y.timeout)
		defer cancel()
	}

	query := strings.TrimSpace(title + " " + artist)
	args := []string{
		"--no-playlist",
		"--no-progress",
		"-f", "bestaudio/best",
		"-x",
		"--audio-format", "wav",
		"--audio-quality", "192K",
		"-o", filepath.Join(dir, songID+".%(ext)s"),
		"ytsearch:" + query,
	}

	var tail []string
	err := y.exec.Run(ctx, y.binary, args, func(line string) {
		y.logger.Debug(line, zap.String("song_id", songID))
		tail = appendTail(tail, line, 5)
	})
	if err != nil {
		return "", fmt.Errorf("download %q: %w%s", query, err, formatTail(tail))
	}

	out := filepath.Join(dir, songID+".wav")
	if _, err := os.Stat(out); err != nil {
		return "", fmt.Errorf("download %q: no audio produced: %w", query, err)
	}
	return out, nil
}

func appendTail(tail []string, line string, max int) []string {
	tail = append(tail, line)
	if len(tail) > max {
		tail = tail[len(tail)-max:]
	}
	return tail
}

func formatTail(tail []string) string {
	if len(tail) == 0 {
		return ""
	}
	return ": " + strings.Join(tail, " | ")
}
