package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/romariotrain/vod-pipeline/internal/media/models"
	"github.com/romariotrain/vod-pipeline/internal/media/objectstore"
	"github.com/romariotrain/vod-pipeline/internal/media/repository"
	"github.com/romariotrain/vod-pipeline/internal/media/transcode"
)

var errEncoder = errors.New("encoder crashed")

type fakeTranscoder struct {
	dir       string
	payload   []byte
	duration  float64
	subtitles bool
	failFirst int
	// gate, when set, blocks each call until it is closed or ctx is done.
	gate <-chan struct{}

	mu    sync.Mutex
	calls int
}

func (f *fakeTranscoder) Transcode(ctx context.Context, src io.Reader, progress transcode.ProgressFunc) (*transcode.Result, error) {
	if _, err := io.Copy(io.Discard, src); err != nil {
		return nil, err
	}
	if progress != nil {
		progress(50)
	}

	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if n <= f.failFirst {
		return nil, errEncoder
	}

	dir, err := os.MkdirTemp(f.dir, "job-*")
	if err != nil {
		return nil, err
	}
	video := filepath.Join(dir, "out.mp4")
	if err := os.WriteFile(video, f.payload, 0o600); err != nil {
		return nil, err
	}
	artifacts := []transcode.Artifact{{Kind: transcode.Video, Path: video, Size: int64(len(f.payload)), ContentType: "video/mp4"}}
	if f.subtitles {
		vtt := filepath.Join(dir, "out.vtt")
		body := []byte("WEBVTT\n")
		if err := os.WriteFile(vtt, body, 0o600); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, transcode.Artifact{Kind: transcode.Subtitles, Path: vtt, Size: int64(len(body)), ContentType: "text/vtt"})
	}
	return transcode.NewResult(dir, f.duration, artifacts...), nil
}

func (f *fakeTranscoder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// slowStore blocks derivative writes until release is closed.
type slowStore struct {
	*objectstore.Memory
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newSlowStore(m *objectstore.Memory) *slowStore {
	return &slowStore{Memory: m, started: make(chan struct{}), release: make(chan struct{})}
}

func (s *slowStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if strings.HasPrefix(key, DefaultDerivativePrefix) {
		s.once.Do(func() { close(s.started) })
		select {
		case <-s.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.Memory.Put(ctx, key, r, size, contentType)
}

type fakeDelivery struct {
	job models.TranscodeJob

	mu        sync.Mutex
	acks      int
	nacks     int
	nackDelay time.Duration
}

func (d *fakeDelivery) Job() models.TranscodeJob { return d.job }

func (d *fakeDelivery) Ack(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acks++
	return nil
}

func (d *fakeDelivery) Nack(_ context.Context, after time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nacks++
	d.nackDelay = after
	return nil
}

func (d *fakeDelivery) counts() (acks, nacks int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acks, d.nacks
}

type recordingPublisher struct {
	mu   sync.Mutex
	jobs []models.TranscodeJob
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, job models.TranscodeJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.jobs = append(p.jobs, job)
	return nil
}

func (p *recordingPublisher) Jobs() []models.TranscodeJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.TranscodeJob(nil), p.jobs...)
}

type harness struct {
	repo       *repository.MemoryRepository
	store      *objectstore.Memory
	transcoder *fakeTranscoder
	publisher  *recordingPublisher
	processor  *Processor
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		repo:  repository.NewMemoryRepository(),
		store: objectstore.NewMemory(),
		transcoder: &fakeTranscoder{
			dir:      t.TempDir(),
			payload:  []byte("transcoded-movie-bytes"),
			duration: 5400,
		},
		publisher: &recordingPublisher{},
	}
	if cfg.StoreRetry.RetryBackoff == 0 {
		cfg.StoreRetry.RetryBackoff = time.Millisecond
	}
	p, err := NewProcessor(h.repo, h.store, h.transcoder, h.publisher, cfg)
	require.NoError(t, err)
	h.processor = p
	return h
}

// seed stores a raw blob and a DRAFT item referencing it.
func (h *harness) seed(t *testing.T) *models.ContentItem {
	t.Helper()
	ctx := context.Background()
	raw := []byte("raw-upload-bytes")
	key := "uploads/" + uuid.NewString() + ".raw"
	require.NoError(t, h.store.Put(ctx, key, bytes.NewReader(raw), int64(len(raw)), "application/octet-stream"))

	now := time.Now().UTC()
	item := &models.ContentItem{
		ID:          uuid.New(),
		Kind:        models.Movie,
		Status:      models.DraftStatus,
		RawAssetRef: key,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, h.repo.Create(ctx, item))
	return item
}

func (h *harness) get(t *testing.T, id uuid.UUID) *models.ContentItem {
	t.Helper()
	item, err := h.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return item
}
