package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voxoff/pipeline/internal/bus"
	"github.com/voxoff/pipeline/internal/client"
	"github.com/voxoff/pipeline/internal/config"
	"github.com/voxoff/pipeline/internal/model"
	"github.com/voxoff/pipeline/internal/service"
	"github.com/voxoff/pipeline/internal/testsupport"
)

const (
	eventQueue      = "event-notifications"
	separationQueue = "split-jobs"
	alignmentQueue  = "lyrics-jobs"
)

type fakeDownloader struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeDownloader) Download(_ context.Context, songID, _, _, dir string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	path := filepath.Join(dir, songID+".wav")
	return path, os.WriteFile(path, []byte("original"), 0o644)
}

type fakeLyrics struct {
	name  string
	text  string
	err   error
	calls int
}

func (f *fakeLyrics) Name() string { return f.name }

func (f *fakeLyrics) Fetch(context.Context, string, string, string) (string, error) {
	f.calls++
	return f.text, f.err
}

type fakeSeparator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSeparator) Separate(_ context.Context, _, outDir string) (*client.Stems, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	stems := &client.Stems{
		Vocals:        filepath.Join(outDir, "vocals.wav"),
		Accompaniment: filepath.Join(outDir, "accompaniment.wav"),
	}
	if err := os.WriteFile(stems.Vocals, []byte("vocals"), 0o644); err != nil {
		return nil, err
	}
	return stems, os.WriteFile(stems.Accompaniment, []byte("instrumental"), 0o644)
}

type fakeAligner struct {
	transcript string
	words      []model.AlignedWord
	err        error
}

func (f *fakeAligner) Align(_ context.Context, _, transcript string) ([]model.AlignedWord, error) {
	f.transcript = transcript
	return f.words, f.err
}

func (f *fakeAligner) HealthCheck(context.Context) error { return nil }

func noRetry() *service.Retrier {
	return service.NewRetrier(config.RetryConfig{
		Attempts:        1,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	}, zap.NewNop())
}

func newWorker(t *testing.T, def Definition, artifacts client.ArtifactStore, b bus.Publisher) *StageWorker {
	t.Helper()
	return NewStageWorker(def, artifacts, b, eventQueue, t.TempDir(), zap.NewNop())
}

func messageBody(t *testing.T, jobID, songID string) []byte {
	t.Helper()
	body, err := json.Marshal(model.StageMessage{JobID: jobID, SongID: songID, Title: "Hello", Artist: "Adele"})
	require.NoError(t, err)
	return body
}

func newAcquisitionWorker(t *testing.T, dl *fakeDownloader, sources []client.LyricsSource, artifacts *testsupport.Artifacts, b *testsupport.Bus) *StageWorker {
	p := NewAcquisition(dl, sources, artifacts, noRetry(), zap.NewNop())
	return newWorker(t, AcquisitionDefinition(p, separationQueue), artifacts, b)
}

func TestAcquisitionProducesBothArtifacts(t *testing.T) {
	artifacts := testsupport.NewArtifacts()
	b := testsupport.NewBus()
	dl := &fakeDownloader{}
	az := &fakeLyrics{name: "azlyrics", text: "line one\nline two"}
	w := newAcquisitionWorker(t, dl, []client.LyricsSource{az}, artifacts, b)

	outcome := w.Handle(context.Background(), messageBody(t, "j1", "s1"))
	require.Equal(t, bus.Ack, outcome)

	original, ok := artifacts.Get("s1", model.ArtifactOriginalAudio)
	require.True(t, ok)
	assert.Equal(t, "original", string(original))
	lyrics, ok := artifacts.Get("s1", model.ArtifactLyricsText)
	require.True(t, ok)
	assert.Equal(t, "line one\nline two", string(lyrics))

	events := b.Events(t, eventQueue)
	require.Len(t, events, 1)
	assert.Equal(t, model.SourceAcquisition, events[0].Source)
	assert.Equal(t, model.EventCompleted, events[0].Status)
	assert.Equal(t, "j1", events[0].JobID)

	forwarded := b.StageMessages(t, separationQueue)
	require.Len(t, forwarded, 1)
	assert.Equal(t, model.StageMessage{JobID: "j1", SongID: "s1", Title: "Hello", Artist: "Adele"}, forwarded[0])
}

func TestAcquisitionIsIdempotent(t *testing.T) {
	artifacts := testsupport.NewArtifacts()
	artifacts.Put("s1", model.ArtifactOriginalAudio, []byte("original"))
	artifacts.Put("s1", model.ArtifactLyricsText, []byte("lyrics"))
	b := testsupport.NewBus()
	dl := &fakeDownloader{}
	az := &fakeLyrics{name: "azlyrics", text: "unused"}
	w := newAcquisitionWorker(t, dl, []client.LyricsSource{az}, artifacts, b)

	for i := 0; i < 2; i++ {
		assert.Equal(t, bus.Ack, w.Handle(context.Background(), messageBody(t, "j1", "s1")))
	}

	assert.Zero(t, dl.calls, "download must not run when the audio exists")
	assert.Zero(t, az.calls)
	assert.Empty(t, artifacts.Uploads())

	events := b.Events(t, eventQueue)
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, model.EventCompleted, e.Status)
	}
	assert.Len(t, b.StageMessages(t, separationQueue), 2)
}

func TestAcquisitionOnlyFetchesMissingLyrics(t *testing.T) {
	artifacts := testsupport.NewArtifacts()
	artifacts.Put("s1", model.ArtifactOriginalAudio, []byte("original"))
	dl := &fakeDownloader{}
	az := &fakeLyrics{name: "azlyrics", text: "words"}
	w := newAcquisitionWorker(t, dl, []client.LyricsSource{az}, artifacts, testsupport.NewBus())

	require.Equal(t, bus.Ack, w.Handle(context.Background(), messageBody(t, "j1", "s1")))
	assert.Zero(t, dl.calls)
	assert.Equal(t, []string{"songs/s1/lyrics.txt"}, artifacts.Uploads())
}

func TestAcquisitionFallsBackToSecondLyricsSource(t *testing.T) {
	artifacts := testsupport.NewArtifacts()
	az := &fakeLyrics{name: "azlyrics", err: fmt.Errorf("azlyrics: %w", client.ErrLyricsNotFound)}
	genius := &fakeLyrics{name: "genius", text: "from genius"}
	w := newAcquisitionWorker(t, &fakeDownloader{}, []client.LyricsSource{az, genius}, artifacts, testsupport.NewBus())

	require.Equal(t, bus.Ack, w.Handle(context.Background(), messageBody(t, "j1", "s1")))
	assert.Equal(t, 1, az.calls)
	assert.Equal(t, 1, genius.calls)
	lyrics, _ := artifacts.Get("s1", model.ArtifactLyricsText)
	assert.Equal(t, "from genius", string(lyrics))
}

func TestAcquisitionFailsWhenLyricsUnavailable(t *testing.T) {
	artifacts := testsupport.NewArtifacts()
	b := testsupport.NewBus()
	az := &fakeLyrics{name: "azlyrics", err: client.ErrLyricsNotFound}
	genius := &fakeLyrics{name: "genius", text: "   "}
	w := newAcquisitionWorker(t, &fakeDownloader{}, []client.LyricsSource{az, genius}, artifacts, b)

	require.Equal(t, bus.Nack, w.Handle(context.Background(), messageBody(t, "j1", "s1")))

	// the audio made it, but the job must not progress
	_, ok := artifacts.Get("s1", model.ArtifactOriginalAudio)
	assert.True(t, ok)
	assert.Empty(t, b.Messages(separationQueue))

	events := b.Events(t, eventQueue)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventFailed, events[0].Status)
	assert.Contains(t, events[0].ErrorMessage, "lyrics")
}

func TestAcquisitionDownloadFailure(t *testing.T) {
	b := testsupport.NewBus()
	dl := &fakeDownloader{err: errors.New("yt-dlp: exit status 1")}
	w := newAcquisitionWorker(t, dl, nil, testsupport.NewArtifacts(), b)

	require.Equal(t, bus.Nack, w.Handle(context.Background(), messageBody(t, "j1", "s1")))
	events := b.Events(t, eventQueue)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventFailed, events[0].Status)
	assert.Contains(t, events[0].ErrorMessage, "exit status 1")
	assert.Empty(t, b.Messages(separationQueue))
}

func TestMalformedMessage(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantJobID string
	}{
		{name: "not json", body: "{not json", wantJobID: ""},
		{name: "missing fields", body: `{"job_id":"j1"}`, wantJobID: "j1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testsupport.NewBus()
			dl := &fakeDownloader{}
			w := newAcquisitionWorker(t, dl, nil, testsupport.NewArtifacts(), b)

			require.Equal(t, bus.Nack, w.Handle(context.Background(), []byte(tt.body)))
			assert.Zero(t, dl.calls)

			events := b.Events(t, eventQueue)
			require.Len(t, events, 1)
			assert.Equal(t, model.EventFailed, events[0].Status)
			assert.Equal(t, tt.wantJobID, events[0].JobID)
			assert.Contains(t, events[0].ErrorMessage, "malformed message")
			assert.Empty(t, b.Messages(separationQueue))
		})
	}
}

func TestExistenceCheckErrorIsStageFailure(t *testing.T) {
	artifacts := testsupport.NewArtifacts()
	artifacts.ExistsErr = errors.New("storage unreachable")
	b := testsupport.NewBus()
	dl := &fakeDownloader{}
	w := newAcquisitionWorker(t, dl, nil, artifacts, b)

	require.Equal(t, bus.Nack, w.Handle(context.Background(), messageBody(t, "j1", "s1")))
	assert.Zero(t, dl.calls)
	events := b.Events(t, eventQueue)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventFailed, events[0].Status)
}

func TestForwardFailureReportsFailed(t *testing.T) {
	artifacts := testsupport.NewArtifacts()
	artifacts.Put("s1", model.ArtifactOriginalAudio, []byte("x"))
	artifacts.Put("s1", model.ArtifactLyricsText, []byte("x"))
	b := testsupport.NewBus()
	b.FailQueues[separationQueue] = errors.New("broker down")
	w := newAcquisitionWorker(t, &fakeDownloader{}, nil, artifacts, b)

	require.Equal(t, bus.Nack, w.Handle(context.Background(), messageBody(t, "j1", "s1")))
	events := b.Events(t, eventQueue)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventCompleted, events[0].Status)
	assert.Equal(t, model.EventFailed, events[1].Status)
	assert.Contains(t, events[1].ErrorMessage, "forward job")
}

func newSeparationWorker(t *testing.T, sep *fakeSeparator, artifacts *testsupport.Artifacts, b *testsupport.Bus) *StageWorker {
	return newWorker(t, SeparationDefinition(NewSeparation(sep, artifacts, zap.NewNop()), alignmentQueue), artifacts, b)
}

func TestSeparationSharedSongSkipsSecondJob(t *testing.T) {
	artifacts := testsupport.NewArtifacts()
	artifacts.Put("s3", model.ArtifactOriginalAudio, []byte("original"))
	b := testsupport.NewBus()
	sep := &fakeSeparator{}
	w := newSeparationWorker(t, sep, artifacts, b)

	require.Equal(t, bus.Ack, w.Handle(context.Background(), messageBody(t, "j3", "s3")))
	require.Equal(t, bus.Ack, w.Handle(context.Background(), messageBody(t, "j4", "s3")))

	assert.Equal(t, 1, sep.calls, "second job must reuse the stored stems")
	vocals, _ := artifacts.Get("s3", model.ArtifactVocalsAudio)
	instrumental, _ := artifacts.Get("s3", model.ArtifactInstrumentalAudio)
	assert.Equal(t, "vocals", string(vocals))
	assert.Equal(t, "instrumental", string(instrumental))

	events := b.Events(t, eventQueue)
	require.Len(t, events, 2)
	assert.Equal(t, "j3", events[0].JobID)
	assert.Equal(t, "j4", events[1].JobID)
	assert.Equal(t, model.EventCompleted, events[1].Status)

	forwarded := b.StageMessages(t, alignmentQueue)
	require.Len(t, forwarded, 2)
	assert.Equal(t, "j4", forwarded[1].JobID)
}

func TestSeparationConcurrentDuplicateSubmissions(t *testing.T) {
	artifacts := testsupport.NewArtifacts()
	artifacts.Put("s3", model.ArtifactOriginalAudio, []byte("original"))
	b := testsupport.NewBus()
	sep := &fakeSeparator{}
	w := newSeparationWorker(t, sep, artifacts, b)

	jobs := []string{"j3", "j4"}
	outcomes := make([]bus.Outcome, len(jobs))
	var wg sync.WaitGroup
	for i, jobID := range jobs {
		wg.Add(1)
		go func(i int, jobID string) {
			defer wg.Done()
			outcomes[i] = w.Handle(context.Background(), messageBody(t, jobID, "s3"))
		}(i, jobID)
	}
	wg.Wait()

	assert.Equal(t, []bus.Outcome{bus.Ack, bus.Ack}, outcomes)
	sep.mu.Lock()
	calls := sep.calls
	sep.mu.Unlock()
	assert.GreaterOrEqual(t, calls, 1)
	assert.LessOrEqual(t, calls, 2)

	vocals, _ := artifacts.Get("s3", model.ArtifactVocalsAudio)
	instrumental, _ := artifacts.Get("s3", model.ArtifactInstrumentalAudio)
	assert.Equal(t, "vocals", string(vocals))
	assert.Equal(t, "instrumental", string(instrumental))

	events := b.Events(t, eventQueue)
	require.Len(t, events, 2)
	var completed []string
	for _, e := range events {
		assert.Equal(t, model.EventCompleted, e.Status)
		completed = append(completed, e.JobID)
	}
	assert.ElementsMatch(t, jobs, completed)
	assert.Len(t, b.StageMessages(t, alignmentQueue), 2)
}

func TestSeparationMissingInput(t *testing.T) {
	b := testsupport.NewBus()
	sep := &fakeSeparator{}
	w := newSeparationWorker(t, sep, testsupport.NewArtifacts(), b)

	require.Equal(t, bus.Nack, w.Handle(context.Background(), messageBody(t, "j1", "s1")))
	assert.Zero(t, sep.calls)
	events := b.Events(t, eventQueue)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventFailed, events[0].Status)
	assert.Contains(t, events[0].ErrorMessage, ErrMissingInput.Error())
	assert.Empty(t, b.Messages(alignmentQueue))
}

func TestSeparationFailureDoesNotForward(t *testing.T) {
	artifacts := testsupport.NewArtifacts()
	artifacts.Put("s1", model.ArtifactOriginalAudio, []byte("original"))
	b := testsupport.NewBus()
	w := newSeparationWorker(t, &fakeSeparator{err: errors.New("spleeter crashed")}, artifacts, b)

	require.Equal(t, bus.Nack, w.Handle(context.Background(), messageBody(t, "j1", "s1")))
	assert.Empty(t, b.Messages(alignmentQueue))
	events := b.Events(t, eventQueue)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventFailed, events[0].Status)
}

func TestSeparationReportsEveryFailedUpload(t *testing.T) {
	artifacts := testsupport.NewArtifacts()
	artifacts.Put("s1", model.ArtifactOriginalAudio, []byte("original"))
	artifacts.UploadErr[model.ArtifactVocalsAudio] = errors.New("timeout")
	artifacts.UploadErr[model.ArtifactInstrumentalAudio] = errors.New("denied")
	b := testsupport.NewBus()
	w := newSeparationWorker(t, &fakeSeparator{}, artifacts, b)

	require.Equal(t, bus.Nack, w.Handle(context.Background(), messageBody(t, "j1", "s1")))
	events := b.Events(t, eventQueue)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].ErrorMessage, "instrumental.wav")
	assert.Contains(t, events[0].ErrorMessage, "vocals.wav")
	assert.Empty(t, b.Messages(alignmentQueue))
}

func TestUploadConcurrentlyCollectsAllFailures(t *testing.T) {
	artifacts := testsupport.NewArtifacts()
	timeout := errors.New("timeout")
	artifacts.UploadErr[model.ArtifactVocalsAudio] = timeout
	artifacts.UploadErr[model.ArtifactInstrumentalAudio] = errors.New("denied")

	dir := t.TempDir()
	files := map[model.Artifact]string{
		model.ArtifactVocalsAudio:       filepath.Join(dir, "v.wav"),
		model.ArtifactInstrumentalAudio: filepath.Join(dir, "i.wav"),
	}
	err := uploadConcurrently(context.Background(), artifacts, "s1", files)
	require.Error(t, err)

	var uploadErr *UploadError
	require.True(t, errors.As(err, &uploadErr))
	assert.Equal(t, []model.Artifact{model.ArtifactInstrumentalAudio, model.ArtifactVocalsAudio}, uploadErr.Artifacts)
	assert.ErrorIs(t, err, timeout)
}

func TestUploadConcurrentlySucceeds(t *testing.T) {
	artifacts := testsupport.NewArtifacts()
	dir := t.TempDir()
	v := filepath.Join(dir, "v.wav")
	require.NoError(t, os.WriteFile(v, []byte("v"), 0o644))

	err := uploadConcurrently(context.Background(), artifacts, "s1", map[model.Artifact]string{model.ArtifactVocalsAudio: v})
	require.NoError(t, err)
	assert.Equal(t, []string{"songs/s1/vocals.wav"}, artifacts.Uploads())
}

// slowArtifacts delays uploads and fails them if ctx is done by then.
type slowArtifacts struct {
	*testsupport.Artifacts
}

func (a slowArtifacts) Upload(ctx context.Context, songID string, name model.Artifact, localPath string) error {
	if a.UploadErr[name] == nil {
		time.Sleep(20 * time.Millisecond)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return a.Artifacts.Upload(ctx, songID, name, localPath)
}

func TestUploadConcurrentlyFailureDoesNotCancelSiblings(t *testing.T) {
	artifacts := testsupport.NewArtifacts()
	artifacts.UploadErr[model.ArtifactVocalsAudio] = errors.New("denied")

	dir := t.TempDir()
	i := filepath.Join(dir, "i.wav")
	require.NoError(t, os.WriteFile(i, []byte("i"), 0o644))
	files := map[model.Artifact]string{
		model.ArtifactVocalsAudio:       filepath.Join(dir, "v.wav"),
		model.ArtifactInstrumentalAudio: i,
	}
	err := uploadConcurrently(context.Background(), slowArtifacts{artifacts}, "s1", files)

	var uploadErr *UploadError
	require.True(t, errors.As(err, &uploadErr))
	assert.Equal(t, []model.Artifact{model.ArtifactVocalsAudio}, uploadErr.Artifacts)
	assert.Equal(t, []string{"songs/s1/instrumental.wav"}, artifacts.Uploads())
}

func TestAlignmentWritesAlignedLyrics(t *testing.T) {
	artifacts := testsupport.NewArtifacts()
	artifacts.Put("s1", model.ArtifactVocalsAudio, []byte("vocals"))
	artifacts.Put("s1", model.ArtifactLyricsText, []byte("Hello there\n\nGeneral Kenobi"))
	b := testsupport.NewBus()
	aligner := &fakeAligner{words: []model.AlignedWord{
		{Word: "hello", Start: 0.1, End: 0.4},
		{Word: "there", Start: 0.5, End: 0.9},
		{Word: "general", Start: 2.0, End: 2.4},
		{Word: "kenobi", Start: 2.5, End: 3.1},
	}}
	w := newWorker(t, AlignmentDefinition(NewAlignment(aligner, artifacts, zap.NewNop())), artifacts, b)

	require.Equal(t, bus.Ack, w.Handle(context.Background(), messageBody(t, "j2", "s1")))
	assert.Equal(t, "Hello there General Kenobi", aligner.transcript)

	body, ok := artifacts.Get("s1", model.ArtifactLyricsAligned)
	require.True(t, ok)
	var lines []model.AlignedLine
	require.NoError(t, json.Unmarshal(body, &lines))
	require.Len(t, lines, 2)
	assert.Equal(t, "Hello there", lines[0].Line)
	assert.InDelta(t, 0.0, lines[0].Start, 1e-9)
	assert.InDelta(t, 0.6, lines[0].End, 1e-9)
	assert.InDelta(t, 1.7, lines[1].Start, 1e-9)
	assert.InDelta(t, 2.8, lines[1].End, 1e-9)

	events := b.Events(t, eventQueue)
	require.Len(t, events, 1)
	assert.Equal(t, model.SourceAlignment, events[0].Source)
	assert.Equal(t, model.EventCompleted, events[0].Status)
	assert.Empty(t, b.Messages(alignmentQueue))
	assert.Empty(t, b.Messages(separationQueue))
}

func TestAlignmentRejectsEmptyLyrics(t *testing.T) {
	artifacts := testsupport.NewArtifacts()
	artifacts.Put("s1", model.ArtifactVocalsAudio, []byte("vocals"))
	artifacts.Put("s1", model.ArtifactLyricsText, []byte("\n  \n"))
	b := testsupport.NewBus()
	aligner := &fakeAligner{}
	w := newWorker(t, AlignmentDefinition(NewAlignment(aligner, artifacts, zap.NewNop())), artifacts, b)

	require.Equal(t, bus.Nack, w.Handle(context.Background(), messageBody(t, "j2", "s1")))
	assert.Empty(t, aligner.transcript)
	events := b.Events(t, eventQueue)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].ErrorMessage, ErrEmptyLyrics.Error())
}

func TestBuildLines(t *testing.T) {
	lines := []string{"one two", "", "three", "four five"}
	aligned := []model.AlignedWord{
		{Word: "one", Start: 0.2, End: 0.5},
		{Word: "two", Start: 0.6, End: 1.0},
		{Word: "three", Start: 1.5, End: 2.0},
	}

	got := BuildLines(lines, aligned)
	require.Len(t, got, 2, "a line with no aligned words left is dropped")
	assert.Equal(t, "one two", got[0].Line)
	assert.Equal(t, 0.0, got[0].Start, "clamped at zero")
	assert.InDelta(t, 0.7, got[0].End, 1e-9)
	assert.Equal(t, "three", got[1].Line)
	assert.InDelta(t, 1.2, got[1].Start, 1e-9)
	assert.InDelta(t, 1.7, got[1].End, 1e-9)
}

func TestBuildLinesTruncatesPartialLine(t *testing.T) {
	got := BuildLines([]string{"a b c"}, []model.AlignedWord{{Word: "a", Start: 1, End: 1.5}, {Word: "b", Start: 1.6, End: 2}})
	require.Len(t, got, 1)
	assert.Equal(t, "a b", got[0].Line)
}

// doneRefusingBus rejects publishes on a done context, as the asynq client does.
type doneRefusingBus struct {
	*testsupport.Bus
}

func (b doneRefusingBus) Publish(ctx context.Context, queue string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.Bus.Publish(ctx, queue, body)
}

type processorFunc func(ctx context.Context, msg *model.StageMessage, missing []model.Artifact, scratch string) error

func (f processorFunc) Process(ctx context.Context, msg *model.StageMessage, missing []model.Artifact, scratch string) error {
	return f(ctx, msg, missing, scratch)
}

func separationDefinition(p Processor) Definition {
	return Definition{
		Stage:     model.StageSeparation,
		Outputs:   []model.Artifact{model.ArtifactVocalsAudio},
		NextQueue: alignmentQueue,
		Processor: p,
	}
}

func TestCancelledDeliveryStillReportsFailed(t *testing.T) {
	b := testsupport.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	def := separationDefinition(processorFunc(func(ctx context.Context, _ *model.StageMessage, _ []model.Artifact, _ string) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}))
	w := newWorker(t, def, testsupport.NewArtifacts(), doneRefusingBus{b})

	require.Equal(t, bus.Nack, w.Handle(ctx, messageBody(t, "j1", "s1")))
	events := b.Events(t, eventQueue)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventFailed, events[0].Status)
	assert.Contains(t, events[0].ErrorMessage, context.Canceled.Error())
	assert.Empty(t, b.Messages(alignmentQueue))
}

func TestTimedOutDeliveryStillReportsFailed(t *testing.T) {
	b := testsupport.NewBus()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	def := separationDefinition(processorFunc(func(ctx context.Context, _ *model.StageMessage, _ []model.Artifact, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	w := newWorker(t, def, testsupport.NewArtifacts(), doneRefusingBus{b})

	require.Equal(t, bus.Nack, w.Handle(ctx, messageBody(t, "j1", "s1")))
	events := b.Events(t, eventQueue)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventFailed, events[0].Status)
	assert.Contains(t, events[0].ErrorMessage, context.DeadlineExceeded.Error())
}

func TestCompletedWorkForwardsAfterCancel(t *testing.T) {
	b := testsupport.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	def := separationDefinition(processorFunc(func(context.Context, *model.StageMessage, []model.Artifact, string) error {
		cancel()
		return nil
	}))
	w := newWorker(t, def, testsupport.NewArtifacts(), doneRefusingBus{b})

	require.Equal(t, bus.Ack, w.Handle(ctx, messageBody(t, "j1", "s1")))
	events := b.Events(t, eventQueue)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventCompleted, events[0].Status)
	require.Len(t, b.StageMessages(t, alignmentQueue), 1)
}
