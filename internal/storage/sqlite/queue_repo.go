package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Conn.ExecContext(ctx, query,
		item.ID, item.InstanceID, item.To, item.Kind, item.Payload, string(item.Status),
		item.Attempts, item.MaxAttempts, formatTimePtr(item.NextAttemptAt),
		nullIfEmpty(item.LastError), item.CreatedAt.Format(time.RFC3339), item.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return model.QueueItem{}, err
	}

	return item, nil
}

func (r *queueRepo) scanItem(row interface {
	Scan(dest ...any) error
}) (model.QueueItem, error) {
	var item model.QueueItem
	var nextAttemptAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&item.ID, &item.InstanceID, &item.To, &item.Kind, &item.Payload, &item.Status,
		&item.Attempts, &item.MaxAttempts, &nextAttemptAt, &item.LastError, &createdAt, &updatedAt,
	)
	if err != nil {
		return model.QueueItem{}, err
	}

	if nextAttemptAt.Valid {
		item.NextAttemptAt = parseTimePtr(nextAttemptAt.String)
	}
	item.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	item.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return item, nil
}

func (r *queueRepo) GetByID(ctx context.Context, id string) (model.QueueItem, error) {
	row := r.db.Conn.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM queue_items WHERE id = ?`, id)
	item, err := r.scanItem(row)
	if err != nil {
		return model.QueueItem{}, mapError(err)
	}
	return item, nil
}

// ListDue retorna itens pendentes/em retry cuja próxima tentativa já venceu,
// mais antigos primeiro.
func (r *queueRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]model.QueueItem, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM queue_items
		WHERE status IN ('pending', 'retrying')
		  AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY next_attempt_at ASC
		LIMIT ?
	`

	rows, err := r.db.Conn.QueryContext(ctx, query, now.Format(time.RFC3339), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.QueueItem
	for rows.Next() {
		item, err := r.scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *queueRepo) ListByInstance(ctx context.Context, instanceID string) ([]model.QueueItem, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM queue_items
		WHERE instance_id = ?
		ORDER BY created_at DESC
		LIMIT 200
	`

	rows, err := r.db.Conn.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.QueueItem
	for rows.Next() {
		item, err := r.scanItem(rows)
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
		SET status = ?, attempts = ?, max_attempts = ?, next_attempt_at = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.Conn.ExecContext(ctx, query,
		string(item.Status), item.Attempts, item.MaxAttempts,
		formatTimePtr(item.NextAttemptAt), nullIfEmpty(item.LastError),
		item.UpdatedAt.Format(time.RFC3339), item.ID,
	)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return mapError(sql.ErrNoRows)
	}
	return nil
}

func (r *queueRepo) DeleteByInstanceID(ctx context.Context, instanceID string) error {
	_, err := r.db.Conn.ExecContext(ctx, `DELETE FROM queue_items WHERE instance_id = ?`, instanceID)
	return err
}
