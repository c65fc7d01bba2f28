package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/conectazap/conectazap/internal/storage/model"
)

type alertRepo struct {
	db *DB
}

func NewAlertRepository(db *DB) *alertRepo {
	return &alertRepo{db: db}
}

const alertColumns = `
	id, COALESCE(instance_id, ''), type, severity, title, COALESCE(message, ''),
	COALESCE(metadata, ''), resolved, auto_resolved, acknowledged_at, resolved_at, created_at
`

func (r *alertRepo) Create(ctx context.Context, alert model.Alert) (model.Alert, error) {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.Severity == "" {
		alert.Severity = model.SeverityWarn
	}
	alert.CreatedAt = time.Now()

	query := `
		INSERT INTO alerts (id, instance_id, type, severity, title, message, metadata, resolved, auto_resolved, acknowledged_at, resolved_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		alert.ID, nullIfEmpty(alert.InstanceID), alert.Type, string(alert.Severity),
		alert.Title, nullIfEmpty(alert.Message), nullIfEmpty(alert.Metadata),
		alert.Resolved, alert.AutoResolved, alert.AcknowledgedAt, alert.ResolvedAt,
		alert.CreatedAt,
	)
	if err != nil {
		return model.Alert{}, err
	}

	return alert, nil
}

func scanAlert(row pgx.Row) (model.Alert, error) {
	var alert model.Alert
	err := row.Scan(
		&alert.ID, &alert.InstanceID, &alert.Type, &alert.Severity, &alert.Title,
		&alert.Message, &alert.Metadata, &alert.Resolved, &alert.AutoResolved,
		&alert.AcknowledgedAt, &alert.ResolvedAt, &alert.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return model.Alert{}, ErrNotFound
	}
	if err != nil {
		return model.Alert{}, err
	}
	return alert, nil
}

func (r *alertRepo) GetByID(ctx context.Context, id string) (model.Alert, error) {
	return scanAlert(r.db.Pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id))
}

func (r *alertRepo) List(ctx context.Context, onlyUnresolved bool) ([]model.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts`
	if onlyUnresolved {
		query += ` WHERE resolved = FALSE`
	}
	query += ` ORDER BY created_at DESC LIMIT 200`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

func (r *alertRepo) FindUnresolved(ctx context.Context, instanceID, alertType string) (model.Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE COALESCE(instance_id, '') = $1 AND type = $2 AND resolved = FALSE
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanAlert(r.db.Pool.QueryRow(ctx, query, instanceID, alertType))
}

func (r *alertRepo) Update(ctx context.Context, alert model.Alert) error {
	query := `
		UPDATE alerts
		SET resolved = $1, auto_resolved = $2, acknowledged_at = $3, resolved_at = $4
		WHERE id = $5
	`

	tag, err := r.db.Pool.Exec(ctx, query,
		alert.Resolved, alert.AutoResolved, alert.AcknowledgedAt, alert.ResolvedAt, alert.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
