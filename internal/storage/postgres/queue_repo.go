package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/conectazap/conectazap/internal/storage/model"
)

type queueRepo struct {
	db *DB
}

func NewQueueRepository(db *DB) *queueRepo {
	return &queueRepo{db: db}
}

const queueColumns = `
	id, instance_id, recipient, kind, payload, status, attempts, max_attempts,
	next_attempt_at, COALESCE(last_error, ''), created_at, updated_at
`

func (r *queueRepo) Create(ctx context.Context, item model.QueueItem) (model.QueueItem, error) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Status == "" {
		item.Status = model.QueueItemPending
	}
	now := time.Now()
	item.CreatedAt = now
	item.UpdatedAt = now

	query := `
		INSERT INTO queue_items (id, instance_id, recipient, kind, payload, status, attempts, max_attempts, next_attempt_at, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		item.ID, item.InstanceID, item.To, item.Kind, item.Payload, string(item.Status),
		item.Attempts, item.MaxAttempts, item.NextAttemptAt, nullIfEmpty(item.LastError),
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return model.QueueItem{}, err
	}

	return item, nil
}

func scanQueueItem(row pgx.Row) (model.QueueItem, error) {
	var item model.QueueItem
	err := row.Scan(
		&item.ID, &item.InstanceID, &item.To, &item.Kind, &item.Payload, &item.Status,
		&item.Attempts, &item.MaxAttempts, &item.NextAttemptAt, &item.LastError,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return model.QueueItem{}, ErrNotFound
	}
	if err != nil {
		return model.QueueItem{}, err
	}
	return item, nil
}

func (r *queueRepo) GetByID(ctx context.Context, id string) (model.QueueItem, error) {
	return scanQueueItem(r.db.Pool.QueryRow(ctx, `SELECT `+queueColumns+` FROM queue_items WHERE id = $1`, id))
}

func (r *queueRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]model.QueueItem, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM queue_items
		WHERE status IN ('pending', 'retrying')
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
		ORDER BY next_attempt_at ASC
		LIMIT $2
	`
	return r.list(ctx, query, now, limit)
}

func (r *queueRepo) ListByInstance(ctx context.Context, instanceID string) ([]model.QueueItem, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM queue_items
		WHERE instance_id = $1
		ORDER BY created_at DESC
		LIMIT 200
	`
	return r.list(ctx, query, instanceID)
}

func (r *queueRepo) list(ctx context.Context, query string, args ...any) ([]model.QueueItem, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *queueRepo) Update(ctx context.Context, item model.QueueItem) error {
	item.UpdatedAt = time.Now()

	query := `
		UPDATE queue_items
		SET status = $1, attempts = $2, max_attempts = $3, next_attempt_at = $4, last_error = $5, updated_at = $6
		WHERE id = $7
	`

	tag, err := r.db.Pool.Exec(ctx, query,
		string(item.Status), item.Attempts, item.MaxAttempts,
		item.NextAttemptAt, nullIfEmpty(item.LastError), item.UpdatedAt, item.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *queueRepo) DeleteByInstanceID(ctx context.Context, instanceID string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM queue_items WHERE instance_id = $1`, instanceID)
	return err
}
