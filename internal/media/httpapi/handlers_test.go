package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romariotrain/vod-pipeline/internal/media/delivery"
	"github.com/romariotrain/vod-pipeline/internal/media/models"
	"github.com/romariotrain/vod-pipeline/internal/media/objectstore"
	"github.com/romariotrain/vod-pipeline/internal/media/queue"
	"github.com/romariotrain/vod-pipeline/internal/media/repository"
	"github.com/romariotrain/vod-pipeline/internal/media/service"
	"github.com/romariotrain/vod-pipeline/internal/media/transcode"
	"github.com/romariotrain/vod-pipeline/internal/media/worker"
)

// copyTranscoder emits the raw input unchanged as the derivative.
type copyTranscoder struct{ dir string }

func (c copyTranscoder) Transcode(_ context.Context, src io.Reader, _ transcode.ProgressFunc) (*transcode.Result, error) {
	dir, err := os.MkdirTemp(c.dir, "job-*")
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "out.mp4")
	b, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return nil, err
	}
	return transcode.NewResult(dir, 42, transcode.Artifact{
		Kind: transcode.Video, Path: path, Size: int64(len(b)), ContentType: "video/mp4",
	}), nil
}

type env struct {
	repo      *repository.MemoryRepository
	store     *objectstore.Memory
	queue     *queue.Memory
	processor *worker.Processor
	server    *httptest.Server
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		repo:  repository.NewMemoryRepository(),
		store: objectstore.NewMemory(),
		queue: queue.NewMemory(),
	}
	t.Cleanup(func() { _ = e.queue.Close() })

	logger := zerolog.Nop()
	svc := service.New(e.repo, e.store, e.queue, service.Config{Logger: logger})
	stream := delivery.New(e.repo, e.store, delivery.Config{Logger: logger})

	p, err := worker.NewProcessor(e.repo, e.store, copyTranscoder{dir: t.TempDir()}, e.queue, worker.Config{
		MaxAttempts: 3,
		Logger:      logger,
	})
	require.NoError(t, err)
	e.processor = p

	e.server = httptest.NewServer(NewRouter(New(svc, stream, logger)))
	t.Cleanup(e.server.Close)
	return e
}

func (e *env) putRaw(t *testing.T, key string, body []byte) {
	t.Helper()
	require.NoError(t, e.store.Put(context.Background(), key, bytes.NewReader(body), int64(len(body)), "application/octet-stream"))
}

// drain processes every queued job synchronously.
func (e *env) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for e.queue.Stats().Pending > 0 {
		d, err := e.queue.Consume(ctx)
		require.NoError(t, err)
		_ = e.processor.Handle(ctx, d)
	}
}

func (e *env) do(t *testing.T, method, path string, body io.Reader, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, body)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *env) ingest(t *testing.T, ref string) ContentResponse {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/content", strings.NewReader(`{"raw_asset_ref":"`+ref+`","kind":"movie"}`), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var c ContentResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&c))
	return c
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIngestToStream(t *testing.T) {
	e := newEnv(t)
	raw := bytes.Repeat([]byte("abcdefghij"), 100)
	e.putRaw(t, "movie.raw", raw)

	created := e.ingest(t, "movie.raw")
	assert.Equal(t, "DRAFT", created.Status)
	assert.Equal(t, 1, e.queue.Stats().Pending)

	// Not streamable until the worker has run.
	resp := e.do(t, http.MethodGet, "/content/"+created.ID.String()+"/stream", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	e.drain(t)

	resp = e.do(t, http.MethodGet, "/content/"+created.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got ContentResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "READY", got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, worker.DerivativeKey(worker.DefaultDerivativePrefix, created.ID), got.DerivativeAssetRef)
	assert.Equal(t, int64(len(raw)), got.SizeBytes)

	resp = e.do(t, http.MethodGet, "/content/"+created.ID.String()+"/stream", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, raw, body)
	assert.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))

	resp = e.do(t, http.MethodGet, "/content/"+created.ID.String()+"/stream", nil, http.Header{"Range": {"bytes=0-9"}})
	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, raw[:10], body)
	assert.Equal(t, "bytes 0-9/1000", resp.Header.Get("Content-Range"))
	assert.Equal(t, "10", resp.Header.Get("Content-Length"))
}

func TestStream_RangeErrors(t *testing.T) {
	e := newEnv(t)
	e.putRaw(t, "clip.raw", bytes.Repeat([]byte{1}, 1000))
	c := e.ingest(t, "clip.raw")
	e.drain(t)
	path := "/content/" + c.ID.String() + "/stream"

	resp := e.do(t, http.MethodGet, path, nil, http.Header{"Range": {"bytes=1000-1050"}})
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode)
	assert.Equal(t, "bytes */1000", resp.Header.Get("Content-Range"))

	resp = e.do(t, http.MethodGet, path, nil, http.Header{"Range": {"bytes=999-1200"}})
	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "bytes 999-999/1000", resp.Header.Get("Content-Range"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Len(t, body, 1)

	// Malformed headers fall back to the full object.
	resp = e.do(t, http.MethodGet, path, nil, http.Header{"Range": {"lines=1-2"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIngest_Errors(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/content", strings.NewReader(`{`), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/content", strings.NewReader(`{"raw_asset_ref":""}`), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/content", strings.NewReader(`{"raw_asset_ref":"missing.raw"}`), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Zero(t, e.queue.Stats().Published)
}

func TestGetContent_Errors(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodGet, "/content/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/content/"+uuid.NewString(), nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProgressEndpoint(t *testing.T) {
	e := newEnv(t)
	e.putRaw(t, "a.raw", []byte("payload"))
	c := e.ingest(t, "a.raw")
	path := "/content/" + c.ID.String() + "/progress"

	readProgress := func() ProgressResponse {
		t.Helper()
		resp := e.do(t, http.MethodGet, path, nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var got ProgressResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		return got
	}

	assert.Equal(t, ProgressResponse{ContentID: c.ID, Status: "DRAFT"}, readProgress())

	ctx := context.Background()
	item, err := e.repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	attempts := 1
	_, err = e.repo.CompareAndSwap(ctx, c.ID, item.Token(), models.Update{Status: models.ProcessingStatus, Attempts: &attempts})
	require.NoError(t, err)
	require.NoError(t, e.repo.SetProgress(ctx, c.ID, 42))
	assert.Equal(t, ProgressResponse{ContentID: c.ID, Status: "PROCESSING", Progress: 42}, readProgress())

	resp := e.do(t, http.MethodGet, "/content/"+uuid.NewString()+"/progress", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = e.do(t, http.MethodGet, "/content/nope/progress", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRetryEndpoint(t *testing.T) {
	e := newEnv(t)
	e.putRaw(t, "a.raw", []byte("payload"))
	c := e.ingest(t, "a.raw")

	// DRAFT is not retryable.
	resp := e.do(t, http.MethodPost, "/content/"+c.ID.String()+"/retry", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	item, err := e.repo.GetByID(context.Background(), c.ID)
	require.NoError(t, err)
	attempts, msg := 3, "transcode attempt 2: boom"
	item, err = e.repo.CompareAndSwap(context.Background(), c.ID, item.Token(), models.Update{Status: models.ProcessingStatus, Attempts: &attempts})
	require.NoError(t, err)
	_, err = e.repo.CompareAndSwap(context.Background(), c.ID, item.Token(), models.Update{Status: models.FailedStatus, LastError: &msg})
	require.NoError(t, err)
	e.queue.Drain()

	resp = e.do(t, http.MethodPost, "/content/"+c.ID.String()+"/retry", nil, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var armed ContentResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&armed))
	assert.Equal(t, "FAILED", armed.Status)
	assert.Zero(t, armed.Attempts)
	assert.Empty(t, armed.LastError)

	e.drain(t)
	got, err := e.repo.GetByID(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReadyStatus, got.Status)
	assert.Equal(t, 1, got.Attempts)

	resp = e.do(t, http.MethodPost, "/content/"+uuid.NewString()+"/retry", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubtitles_NotAvailable(t *testing.T) {
	e := newEnv(t)
	e.putRaw(t, "a.raw", []byte("payload"))
	c := e.ingest(t, "a.raw")

	resp := e.do(t, http.MethodGet, "/content/"+c.ID.String()+"/subtitles", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	e.drain(t)
	resp = e.do(t, http.MethodGet, "/content/"+c.ID.String()+"/subtitles", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
