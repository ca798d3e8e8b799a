package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romariotrain/vod-pipeline/internal/media/models"
	"github.com/romariotrain/vod-pipeline/internal/media/queue"
)

func TestNewPool_Validation(t *testing.T) {
	q := queue.NewMemory()
	defer q.Close()
	h := newHarness(t, Config{})

	_, err := NewPool(nil, h.processor, PoolConfig{Workers: 1})
	require.Error(t, err)
	_, err = NewPool(q, nil, PoolConfig{Workers: 1})
	require.Error(t, err)
	_, err = NewPool(q, h.processor, PoolConfig{})
	require.Error(t, err)
}

func runPool(t *testing.T, q *queue.Memory, h *harness, workers int) (stop func()) {
	t.Helper()
	pool, err := NewPool(q, h.processor, PoolConfig{Workers: workers})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	return func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("pool did not stop")
		}
	}
}

func TestPool_DuplicateJobsProduceOneDerivative(t *testing.T) {
	q := queue.NewMemory()
	defer q.Close()
	h := newHarness(t, Config{})
	h.processor.publisher = q
	item := h.seed(t)

	job := models.NewTranscodeJob(item.ID, 0, time.Now())
	for range 5 {
		require.NoError(t, q.Publish(context.Background(), job))
	}

	stop := runPool(t, q, h, 4)
	require.Eventually(t, func() bool {
		return q.Stats().Acked == 5
	}, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, models.ReadyStatus, h.get(t, item.ID).Status)
	assert.Equal(t, 1, h.transcoder.Calls())
	assert.Equal(t, 1, h.store.Puts(DerivativeKey(DefaultDerivativePrefix, item.ID)))
}

func TestPool_RetriesThroughQueue(t *testing.T) {
	q := queue.NewMemory()
	defer q.Close()
	h := newHarness(t, Config{MaxAttempts: 3, RetryDelay: 10 * time.Millisecond})
	h.processor.publisher = q
	h.transcoder.failFirst = 1
	item := h.seed(t)

	require.NoError(t, q.Publish(context.Background(), models.NewTranscodeJob(item.ID, 0, time.Now())))

	stop := runPool(t, q, h, 2)
	require.Eventually(t, func() bool {
		return h.get(t, item.ID).Status == models.ReadyStatus
	}, 2*time.Second, 5*time.Millisecond)
	stop()

	got := h.get(t, item.ID)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, 2, h.transcoder.Calls())
}

func TestPool_StopsWhenQueueClosed(t *testing.T) {
	q := queue.NewMemory()
	h := newHarness(t, Config{})
	pool, err := NewPool(q, h.processor, PoolConfig{Workers: 2})
	require.NoError(t, err)

	require.NoError(t, q.Close())
	assert.NoError(t, pool.Run(context.Background()))
}
