package postgres

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
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		eventLog.ID, eventLog.InstanceID, eventLog.Type,
		nullIfEmpty(eventLog.Payload), eventLog.CreatedAt,
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
		WHERE instance_id = $1
		ORDER BY created_at DESC
		LIMIT 100
	`

	rows, err := r.db.Pool.Query(ctx, query, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var eventLogs []model.EventLog
	for rows.Next() {
		var eventLog model.EventLog
		if err := rows.Scan(
			&eventLog.ID, &eventLog.InstanceID, &eventLog.Type, &eventLog.Payload, &eventLog.CreatedAt,
		); err != nil {
			return nil, err
		}
		eventLogs = append(eventLogs, eventLog)
	}

	return eventLogs, rows.Err()
}

func (r *eventLogRepo) DeleteByInstanceID(ctx context.Context, instanceID string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM event_logs WHERE instance_id = $1`, instanceID)
	return err
}
