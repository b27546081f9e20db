package worker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/voxoff/pipeline/internal/client"
	"github.com/voxoff/pipeline/internal/model"
)

// UploadError names every artifact whose upload failed.
type UploadError struct {
	Artifacts []model.Artifact
	Err       error
}

func (e *UploadError) Error() string {
	names := make([]string, len(e.Artifacts))
	for i, a := range e.Artifacts {
		names[i] = string(a)
	}
	return fmt.Sprintf("failed to upload %s: %v", strings.Join(names, ", "), e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// uploadConcurrently uploads every file at once and waits for all of them.
// All failures are collected, not just the first.
func uploadConcurrently(ctx context.Context, store client.ArtifactStore, songID string, files map[model.Artifact]string) error {
	var (
		mu     sync.Mutex
		failed []model.Artifact
	)
	p := pool.New().WithErrors().WithContext(ctx)
	for name, path := range files {
		name, path := name, path
		p.Go(func(ctx context.Context) error {
			if err := store.Upload(ctx, songID, name, path); err != nil {
				mu.Lock()
				failed = append(failed, name)
				mu.Unlock()
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	err := p.Wait()

	if len(failed) == 0 {
		return nil
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })
	return &UploadError{Artifacts: failed, Err: err}
}
