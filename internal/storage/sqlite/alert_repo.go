package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Conn.ExecContext(ctx, query,
		alert.ID, nullIfEmpty(alert.InstanceID), alert.Type, string(alert.Severity),
		alert.Title, nullIfEmpty(alert.Message), nullIfEmpty(alert.Metadata),
		alert.Resolved, alert.AutoResolved,
		formatTimePtr(alert.AcknowledgedAt), formatTimePtr(alert.ResolvedAt),
		alert.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return model.Alert{}, err
	}

	return alert, nil
}

func (r *alertRepo) scanAlert(row interface {
	Scan(dest ...any) error
}) (model.Alert, error) {
	var alert model.Alert
	var acknowledgedAt, resolvedAt sql.NullString
	var createdAt string

	err := row.Scan(
		&alert.ID, &alert.InstanceID, &alert.Type, &alert.Severity, &alert.Title,
		&alert.Message, &alert.Metadata, &alert.Resolved, &alert.AutoResolved,
		&acknowledgedAt, &resolvedAt, &createdAt,
	)
	if err != nil {
		return model.Alert{}, err
	}

	if acknowledgedAt.Valid {
		alert.AcknowledgedAt = parseTimePtr(acknowledgedAt.String)
	}
	if resolvedAt.Valid {
		alert.ResolvedAt = parseTimePtr(resolvedAt.String)
	}
	alert.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return alert, nil
}

func (r *alertRepo) GetByID(ctx context.Context, id string) (model.Alert, error) {
	row := r.db.Conn.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	alert, err := r.scanAlert(row)
	if err != nil {
		return model.Alert{}, mapError(err)
	}
	return alert, nil
}

func (r *alertRepo) List(ctx context.Context, onlyUnresolved bool) ([]model.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts`
	if onlyUnresolved {
		query += ` WHERE resolved = 0`
	}
	query += ` ORDER BY created_at DESC LIMIT 200`

	rows, err := r.db.Conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		alert, err := r.scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// FindUnresolved busca um alerta aberto do mesmo tipo para a mesma instância,
// usado pela deduplicação do AlertManager.
func (r *alertRepo) FindUnresolved(ctx context.Context, instanceID, alertType string) (model.Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE COALESCE(instance_id, '') = ? AND type = ? AND resolved = 0
		ORDER BY created_at DESC
		LIMIT 1
	`

	row := r.db.Conn.QueryRowContext(ctx, query, instanceID, alertType)
	alert, err := r.scanAlert(row)
	if err != nil {
		return model.Alert{}, mapError(err)
	}
	return alert, nil
}

func (r *alertRepo) Update(ctx context.Context, alert model.Alert) error {
	query := `
		UPDATE alerts
		SET resolved = ?, auto_resolved = ?, acknowledged_at = ?, resolved_at = ?
		WHERE id = ?
	`

	result, err := r.db.Conn.ExecContext(ctx, query,
		alert.Resolved, alert.AutoResolved,
		formatTimePtr(alert.AcknowledgedAt), formatTimePtr(alert.ResolvedAt),
		alert.ID,
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
