package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/conectazap/conectazap/internal/storage/model"
)

type heartbeatRepo struct {
	db *DB
}

func NewHeartbeatRepository(db *DB) *heartbeatRepo {
	return &heartbeatRepo{db: db}
}

const heartbeatColumns = `
	instance_id, status, COALESCE(phone_number, ''), uptime_seconds,
	heartbeat_count, sent, received, memory_bytes, ready_to_send, received_at
`

func (r *heartbeatRepo) Upsert(ctx context.Context, hb model.Heartbeat) error {
	if hb.ReceivedAt.IsZero() {
		hb.ReceivedAt = time.Now()
	}

	query := `
		INSERT INTO heartbeats (instance_id, status, phone_number, uptime_seconds, heartbeat_count, sent, received, memory_bytes, ready_to_send, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (instance_id) DO UPDATE SET
			status = $2, phone_number = $3, uptime_seconds = $4, heartbeat_count = $5,
			sent = $6, received = $7, memory_bytes = $8, ready_to_send = $9, received_at = $10
	`

	_, err := r.db.Pool.Exec(ctx, query,
		hb.InstanceID, hb.Status, nullIfEmpty(hb.PhoneNumber),
		hb.UptimeSeconds, hb.HeartbeatCount, hb.Sent, hb.Received,
		hb.MemoryBytes, hb.ReadyToSend, hb.ReceivedAt,
	)
	return err
}

func scanHeartbeat(row pgx.Row) (model.Heartbeat, error) {
	var hb model.Heartbeat
	err := row.Scan(
		&hb.InstanceID, &hb.Status, &hb.PhoneNumber, &hb.UptimeSeconds,
		&hb.HeartbeatCount, &hb.Sent, &hb.Received, &hb.MemoryBytes,
		&hb.ReadyToSend, &hb.ReceivedAt,
	)
	if err == pgx.ErrNoRows {
		return model.Heartbeat{}, ErrNotFound
	}
	if err != nil {
		return model.Heartbeat{}, err
	}
	return hb, nil
}

func (r *heartbeatRepo) Get(ctx context.Context, instanceID string) (model.Heartbeat, error) {
	return scanHeartbeat(r.db.Pool.QueryRow(ctx, `SELECT `+heartbeatColumns+` FROM heartbeats WHERE instance_id = $1`, instanceID))
}

func (r *heartbeatRepo) List(ctx context.Context) ([]model.Heartbeat, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+heartbeatColumns+` FROM heartbeats ORDER BY received_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var heartbeats []model.Heartbeat
	for rows.Next() {
		hb, err := scanHeartbeat(rows)
		if err != nil {
			return nil, err
		}
		heartbeats = append(heartbeats, hb)
	}
	return heartbeats, rows.Err()
}

func (r *heartbeatRepo) Delete(ctx context.Context, instanceID string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM heartbeats WHERE instance_id = $1`, instanceID)
	return err
}
