package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/romariotrain/vod-pipeline/internal/media/models"
)

type memObject struct {
	data        []byte
	contentType string
}

// Memory is an in-process Store. Stored objects are immutable; Put replaces the slice.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memObject
	puts    map[string]int
}

func NewMemory() *Memory {
	return &Memory{
		objects: make(map[string]memObject),
		puts:    make(map[string]int),
	}
}

func (m *Memory) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if key == "" {
		return models.ErrInvalidArgument
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("memory put %q: %w", key, err)
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("memory put %q: size mismatch: got %d want %d", key, len(data), size)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{data: data, contentType: contentType}
	m.puts[key]++
	return nil
}

func (m *Memory) get(key string) (memObject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return memObject{}, fmt.Errorf("%w: %s", models.ErrObjectNotFound, key)
	}
	return obj, nil
}

func (m *Memory) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return m.GetRange(ctx, key, 0, -1)
}

func (m *Memory) GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	obj, err := m.get(key)
	if err != nil {
		return nil, err
	}
	total := int64(len(obj.data))
	if start < 0 || (total > 0 && start >= total) || (total == 0 && start > 0) {
		return nil, fmt.Errorf("%w: start %d, size %d", models.ErrRangeNotSatisfiable, start, total)
	}
	if end < 0 || end >= total {
		end = total - 1
	}
	return io.NopCloser(bytes.NewReader(obj.data[start : end+1])), nil
}

func (m *Memory) Size(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	obj, err := m.get(key)
	if err != nil {
		return 0, err
	}
	return int64(len(obj.data)), nil
}

// ContentType returns the stored content type of key.
func (m *Memory) ContentType(key string) string {
	obj, err := m.get(key)
	if err != nil {
		return ""
	}
	return obj.contentType
}

// Puts returns how many times key has been written.
func (m *Memory) Puts(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts[key]
}
