package objectstore_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romariotrain/vod-pipeline/internal/media/models"
	"github.com/romariotrain/vod-pipeline/internal/media/objectstore"
)

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestMemoryStore(t *testing.T) {
	store := objectstore.NewMemory()
	ctx := context.Background()
	key := "processed/abc.mp4"
	data := "0123456789"

	t.Run("Put", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, key, strings.NewReader(data), int64(len(data)), "video/mp4"))
		assert.Equal(t, "video/mp4", store.ContentType(key))
		assert.Equal(t, 1, store.Puts(key))
	})

	t.Run("PutSizeMismatch", func(t *testing.T) {
		err := store.Put(ctx, "other", strings.NewReader(data), 3, "")
		require.Error(t, err)
	})

	t.Run("Size", func(t *testing.T) {
		n, err := store.Size(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(10), n)
	})

	t.Run("Get", func(t *testing.T) {
		rc, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, data, readAll(t, rc))
	})

	t.Run("GetRange", func(t *testing.T) {
		tests := []struct {
			name       string
			start, end int64
			want       string
		}{
			{name: "head", start: 0, end: 3, want: "0123"},
			{name: "middle", start: 4, end: 6, want: "456"},
			{name: "open end", start: 7, end: -1, want: "789"},
			{name: "clipped", start: 8, end: 100, want: "89"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rc, err := store.GetRange(ctx, key, tt.start, tt.end)
				require.NoError(t, err)
				assert.Equal(t, tt.want, readAll(t, rc))
			})
		}
	})

	t.Run("GetRangeUnsatisfiable", func(t *testing.T) {
		_, err := store.GetRange(ctx, key, 10, 12)
		require.ErrorIs(t, err, models.ErrRangeNotSatisfiable)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := store.Size(ctx, "nope")
		require.ErrorIs(t, err, models.ErrObjectNotFound)
		_, err = store.Get(ctx, "nope")
		require.ErrorIs(t, err, models.ErrObjectNotFound)
	})
}
