// Package testsupport holds in-memory stand-ins for the message bus and the
// artifact store, plus a miniredis-backed Redis client.
package testsupport

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/voxoff/pipeline/internal/client"
	"github.com/voxoff/pipeline/internal/model"
)

// Redis starts a miniredis server for the test and returns a client to it.
func Redis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// Bus records published messages per queue.
type Bus struct {
	mu       sync.Mutex
	messages map[string][][]byte
	// FailQueues makes Publish fail for the named queues.
	FailQueues map[string]error
}

func NewBus() *Bus {
	return &Bus{
		messages:   make(map[string][][]byte),
		FailQueues: make(map[string]error),
	}
}

func (b *Bus) Publish(_ context.Context, queue string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err, ok := b.FailQueues[queue]; ok {
		return err
	}
	b.messages[queue] = append(b.messages[queue], append([]byte(nil), body...))
	return nil
}

// Messages returns the raw bodies published to queue.
func (b *Bus) Messages(queue string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.messages[queue]...)
}

// Drain returns the bodies published to queue and forgets them, so the
// caller can act as the queue's consumer.
func (b *Bus) Drain(queue string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.messages[queue]
	delete(b.messages, queue)
	return msgs
}

// Events decodes every body on queue as a status event.
func (b *Bus) Events(t *testing.T, queue string) []model.StatusEvent {
	t.Helper()
	var events []model.StatusEvent
	for _, body := range b.Messages(queue) {
		var e model.StatusEvent
		if err := json.Unmarshal(body, &e); err != nil {
			t.Fatalf("decode status event: %v", err)
		}
		events = append(events, e)
	}
	return events
}

// StageMessages decodes every body on queue as a stage message.
func (b *Bus) StageMessages(t *testing.T, queue string) []model.StageMessage {
	t.Helper()
	var msgs []model.StageMessage
	for _, body := range b.Messages(queue) {
		var m model.StageMessage
		if err := json.Unmarshal(body, &m); err != nil {
			t.Fatalf("decode stage message: %v", err)
		}
		msgs = append(msgs, m)
	}
	return msgs
}

// Artifacts is an in-memory artifact store.
type Artifacts struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads []string

	// ExistsErr makes every Exists call fail.
	ExistsErr error
	// UploadErr makes uploads of the named artifacts fail.
	UploadErr map[model.Artifact]error
}

func NewArtifacts() *Artifacts {
	return &Artifacts{
		objects:   make(map[string][]byte),
		UploadErr: make(map[model.Artifact]error),
	}
}

// Put seeds an artifact.
func (a *Artifacts) Put(songID string, name model.Artifact, data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[model.ArtifactKey(songID, name)] = data
}

// Get returns a stored artifact.
func (a *Artifacts) Get(songID string, name model.Artifact) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.objects[model.ArtifactKey(songID, name)]
	return data, ok
}

// Uploads lists the keys written through Upload, in order.
func (a *Artifacts) Uploads() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.uploads...)
}

func (a *Artifacts) Exists(_ context.Context, songID string, name model.Artifact) (bool, error) {
	if a.ExistsErr != nil {
		return false, a.ExistsErr
	}
	_, ok := a.Get(songID, name)
	return ok, nil
}

func (a *Artifacts) Upload(_ context.Context, songID string, name model.Artifact, localPath string) error {
	a.mu.Lock()
	uploadErr := a.UploadErr[name]
	a.mu.Unlock()
	if uploadErr != nil {
		return uploadErr
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	key := model.ArtifactKey(songID, name)
	a.objects[key] = data
	a.uploads = append(a.uploads, key)
	return nil
}

func (a *Artifacts) Download(_ context.Context, songID string, name model.Artifact, localPath string) error {
	data, ok := a.Get(songID, name)
	if !ok {
		return fmt.Errorf("%s: %w", model.ArtifactKey(songID, name), client.ErrNotFound)
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(localPath, data, 0o644)
}
