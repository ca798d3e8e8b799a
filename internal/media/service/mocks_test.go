package service

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/romariotrain/vod-pipeline/internal/media/models"
)

type StoreMock struct {
	mock.Mock
}

func (m *StoreMock) Create(ctx context.Context, c *models.ContentItem) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *StoreMock) GetByID(ctx context.Context, id uuid.UUID) (*models.ContentItem, error) {
	args := m.Called(ctx, id)
	if v := args.Get(0); v != nil {
		return v.(*models.ContentItem), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *StoreMock) CompareAndSwap(ctx context.Context, id uuid.UUID, expected models.Expected, upd models.Update) (*models.ContentItem, error) {
	args := m.Called(ctx, id, expected, upd)
	if v := args.Get(0); v != nil {
		return v.(*models.ContentItem), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *StoreMock) ListStale(ctx context.Context, status models.Status, cutoff time.Time, limit int) ([]*models.ContentItem, error) {
	args := m.Called(ctx, status, cutoff, limit)
	if v := args.Get(0); v != nil {
		return v.([]*models.ContentItem), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *StoreMock) Stats(ctx context.Context) (map[models.Status]int, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.(map[models.Status]int), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *StoreMock) SetProgress(ctx context.Context, id uuid.UUID, percent int) error {
	args := m.Called(ctx, id, percent)
	return args.Error(0)
}

type BlobMock struct {
	mock.Mock
}

func (m *BlobMock) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	args := m.Called(ctx, key, r, size, contentType)
	return args.Error(0)
}

func (m *BlobMock) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	if v := args.Get(0); v != nil {
		return v.(io.ReadCloser), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *BlobMock) GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error) {
	args := m.Called(ctx, key, start, end)
	if v := args.Get(0); v != nil {
		return v.(io.ReadCloser), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *BlobMock) Size(ctx context.Context, key string) (int64, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(int64), args.Error(1)
}

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, job models.TranscodeJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}
