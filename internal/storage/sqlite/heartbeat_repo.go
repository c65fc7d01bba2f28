package sqlite

import (
	"context"
	"time"

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

// Upsert substitui o batimento anterior: só o último importa.
func (r *heartbeatRepo) Upsert(ctx context.Context, hb model.Heartbeat) error {
	if hb.ReceivedAt.IsZero() {
		hb.ReceivedAt = time.Now()
	}

	query := `
		INSERT OR REPLACE INTO heartbeats (instance_id, status, phone_number, uptime_seconds, heartbeat_count, sent, received, memory_bytes, ready_to_send, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Conn.ExecContext(ctx, query,
		hb.InstanceID, hb.Status, nullIfEmpty(hb.PhoneNumber),
		hb.UptimeSeconds, hb.HeartbeatCount, hb.Sent, hb.Received,
		hb.MemoryBytes, hb.ReadyToSend, hb.ReceivedAt.Format(time.RFC3339),
	)
	return err
}

func (r *heartbeatRepo) scanHeartbeat(row interface {
	Scan(dest ...any) error
}) (model.Heartbeat, error) {
	var hb model.Heartbeat
	var receivedAt string

	err := row.Scan(
		&hb.InstanceID, &hb.Status, &hb.PhoneNumber, &hb.UptimeSeconds,
		&hb.HeartbeatCount, &hb.Sent, &hb.Received, &hb.MemoryBytes,
		&hb.ReadyToSend, &receivedAt,
	)
	if err != nil {
		return model.Heartbeat{}, err
	}

	hb.ReceivedAt, _ = time.Parse(time.RFC3339, receivedAt)
	return hb, nil
}

func (r *heartbeatRepo) Get(ctx context.Context, instanceID string) (model.Heartbeat, error) {
	row := r.db.Conn.QueryRowContext(ctx, `SELECT `+heartbeatColumns+` FROM heartbeats WHERE instance_id = ?`, instanceID)
	hb, err := r.scanHeartbeat(row)
	if err != nil {
		return model.Heartbeat{}, mapError(err)
	}
	return hb, nil
}

func (r *heartbeatRepo) List(ctx context.Context) ([]model.Heartbeat, error) {
	rows, err := r.db.Conn.QueryContext(ctx, `SELECT `+heartbeatColumns+` FROM heartbeats ORDER BY received_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var heartbeats []model.Heartbeat
	for rows.Next() {
		hb, err := r.scanHeartbeat(rows)
		if err != nil {
			return nil, err
		}
		heartbeats = append(heartbeats, hb)
	}
	return heartbeats, rows.Err()
}

func (r *heartbeatRepo) Delete(ctx context.Context, instanceID string) error {
	_, err := r.db.Conn.ExecContext(ctx, `DELETE FROM heartbeats WHERE instance_id = ?`, instanceID)
	return err
}
