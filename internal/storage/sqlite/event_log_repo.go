package sqlite

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/conectazap/conectazap/internal/storage/model"
)

type eventLogRepo struct {
	db *DB
}

func NewEventLogRepository(db *DB) *eventLogRepo {
	return &eventLogRepo{db: db}
}

func (r *eventLogRepo) Create(ctx context.Context, eventLog model.EventLog) (model.EventLog, error) {
	if eventLog.ID == "" {
		eventLog.ID = uuid.New().String()
	}
	eventLog.CreatedAt = time.Now()

	query := `
		INSERT INTO event_logs (id, instance_id, type, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.db.Conn.ExecContext(ctx, query,
		eventLog.ID, eventLog.InstanceID, eventLog.Type,
		nullIfEmpty(eventLog.Payload), eventLog.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return model.EventLog{}, err
	}

	return eventLog, nil
}

func (r *eventLogRepo) ListByInstance(ctx context.Context, instanceID string) ([]model.EventLog, error) {
	query := `
		SELECT id, instance_id, type, COALESCE(payload, ''), created_at
		FROM event_logs
		WHERE instance_id = ?
		ORDER BY created_at DESC
		LIMIT 100
	`

	rows, err := r.db.Conn.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var eventLogs []model.EventLog
	for rows.Next() {
		var eventLog model.EventLog
		var createdAt string

		if err := rows.Scan(
			&eventLog.ID, &eventLog.InstanceID, &eventLog.Type, &eventLog.Payload, &createdAt,
		); err != nil {
			return nil, err
		}

		eventLog.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		eventLogs = append(eventLogs, eventLog)
	}

	return eventLogs, rows.Err()
}

func (r *eventLogRepo) DeleteByInstanceID(ctx context.Context, instanceID string) error {
	_, err := r.db.Conn.ExecContext(ctx, `DELETE FROM event_logs WHERE instance_id = ?`, instanceID)
	return err
}
