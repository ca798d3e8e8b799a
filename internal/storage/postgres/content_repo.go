package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/romariotrain/vod-pipeline/internal/media/domain"
	"github.com/romariotrain/vod-pipeline/internal/media/models"
)

const contentColumns = `id, kind, status, raw_asset_ref, derivative_asset_ref, subtitle_asset_ref,
	duration_seconds, size_bytes, attempts, last_error, progress, created_at, updated_at`

const uniqueViolation = "23505"

// ContentRepo is the Postgres content status store. Every status change is
// written to the outbox in the same transaction.
type ContentRepo struct {
	db     *sqlx.DB
	outbox *OutboxRepo
	clock  func() time.Time
}

func NewContentRepo(db *sqlx.DB, outbox *OutboxRepo) *ContentRepo {
	return &ContentRepo{db: db, outbox: outbox, clock: time.Now}
}

// Create inserts c. Timestamps are truncated to the column precision so the
// caller's UpdatedAt stays a valid token.
func (r *ContentRepo) Create(ctx context.Context, c *models.ContentItem) error {
	if c == nil || c.ID == uuid.Nil {
		return models.ErrInvalidArgument
	}
	c.CreatedAt = c.CreatedAt.UTC().Truncate(time.Microsecond)
	c.UpdatedAt = c.UpdatedAt.UTC().Truncate(time.Microsecond)
	if err := domain.CheckInvariants(c); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidArgument, err)
	}

	const q = `
		INSERT INTO content_items (` + contentColumns + `)
		VALUES (:id, :kind, :status, :raw_asset_ref, :derivative_asset_ref, :subtitle_asset_ref,
			:duration_seconds, :size_bytes, :attempts, :last_error, :progress, :created_at, :updated_at)
	`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", classify(err))
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, q, c); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return models.ErrConflict
		}
		return fmt.Errorf("content create: %w", classify(err))
	}

	event := models.NewContentStatusChanged(c.ID, "", c.Status, c.Attempts, c.CreatedAt)
	if err := r.outbox.Add(ctx, tx, event); err != nil {
		return fmt.Errorf("add outbox: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", classify(err))
	}
	return nil
}

func (r *ContentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ContentItem, error) {
	if id == uuid.Nil {
		return nil, models.ErrInvalidArgument
	}
	const q = `SELECT ` + contentColumns + ` FROM content_items WHERE id = $1`

	var c models.ContentItem
	if err := r.db.GetContext(ctx, &c, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("content get by id: %w", classify(err))
	}
	return &c, nil
}

// CompareAndSwap applies upd only if the row still has the expected status and
// updated_at. The new updated_at is strictly greater than the old one.
func (r *ContentRepo) CompareAndSwap(ctx context.Context, id uuid.UUID, expected models.Expected, upd models.Update) (*models.ContentItem, error) {
	if err := domain.ValidateTransition(expected.Status, upd.Status); err != nil {
		return nil, err
	}

	const q = `
		UPDATE content_items SET
			status               = $4,
			derivative_asset_ref = COALESCE($5, derivative_asset_ref),
			subtitle_asset_ref   = COALESCE($6, subtitle_asset_ref),
			duration_seconds     = COALESCE($7, duration_seconds),
			size_bytes           = COALESCE($8, size_bytes),
			attempts             = COALESCE($9, attempts),
			last_error           = COALESCE($10, last_error),
			progress             = COALESCE($12, progress),
			updated_at           = GREATEST($11::timestamptz, updated_at + interval '1 microsecond')
		WHERE id = $1 AND status = $2 AND updated_at = $3
		RETURNING ` + contentColumns

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", classify(err))
	}
	defer tx.Rollback()

	var c models.ContentItem
	err = tx.GetContext(ctx, &c, q,
		id, expected.Status, expected.UpdatedAt,
		upd.Status, upd.DerivativeAssetRef, upd.SubtitleAssetRef, upd.DurationSeconds,
		upd.SizeBytes, upd.Attempts, upd.LastError, r.clock().UTC(), upd.Progress,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.missOrConflict(ctx, tx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("content compare and swap: %w", classify(err))
	}

	if err := domain.CheckInvariants(&c); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidTransition, err)
	}

	if expected.Status != c.Status {
		event := models.NewContentStatusChanged(id, expected.Status, c.Status, c.Attempts, c.UpdatedAt)
		if err := r.outbox.Add(ctx, tx, event); err != nil {
			return nil, fmt.Errorf("add outbox: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", classify(err))
	}
	return &c, nil
}

func (r *ContentRepo) missOrConflict(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	var exists bool
	if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM content_items WHERE id = $1)`, id); err != nil {
		return fmt.Errorf("content exists: %w", classify(err))
	}
	if !exists {
		return models.ErrNotFound
	}
	return models.ErrConflict
}

func (r *ContentRepo) ListStale(ctx context.Context, status models.Status, cutoff time.Time, limit int) ([]*models.ContentItem, error) {
	const q = `
		SELECT ` + contentColumns + `
		FROM content_items
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`
	if limit <= 0 {
		limit = 100
	}

	var items []*models.ContentItem
	if err := r.db.SelectContext(ctx, &items, q, status, cutoff, limit); err != nil {
		return nil, fmt.Errorf("content list stale: %w", classify(err))
	}
	return items, nil
}

func (r *ContentRepo) Stats(ctx context.Context) (map[models.Status]int, error) {
	const q = `SELECT status, COUNT(*) AS n FROM content_items GROUP BY status`

	var rows []struct {
		Status models.Status `db:"status"`
		N      int           `db:"n"`
	}
	if err := r.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("content stats: %w", classify(err))
	}

	stats := make(map[models.Status]int, len(rows))
	for _, row := range rows {
		stats[row.Status] = row.N
	}
	return stats, nil
}

// RecordView bumps the playback counter. It leaves updated_at alone so it
// never interferes with a concurrent compare-and-swap.
func (r *ContentRepo) RecordView(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `UPDATE content_items SET views = views + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("record view: %w", classify(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SetProgress stores transcode progress of a PROCESSING item. Like RecordView it
// leaves updated_at alone, so progress writes never invalidate a lease token.
func (r *ContentRepo) SetProgress(ctx context.Context, id uuid.UUID, percent int) error {
	if percent < 0 || percent > 100 {
		return models.ErrInvalidArgument
	}
	const q = `UPDATE content_items SET progress = $2 WHERE id = $1 AND status = $3`

	res, err := r.db.ExecContext(ctx, q, id, percent, models.ProcessingStatus)
	if err != nil {
		return fmt.Errorf("set progress: %w", classify(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrConflict
	}
	return nil
}

// classify marks connection-level failures as models.ErrStorageUnavailable so
// callers retry them.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exceptions, 57P is operator intervention, 40001 serialization failure.
		if strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P") || pgErr.Code == "40001" {
			return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
		}
		return err
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	return err
}
