package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/conectazap/conectazap/internal/storage/model"
)

type instanceRepo struct {
	db *DB
}

func NewInstanceRepository(db *DB) *instanceRepo {
	return &instanceRepo{db: db}
}

const instanceColumns = `
	id, name, owner_user_id, status, COALESCE(phone_number, ''),
	COALESCE(backend_url, ''), COALESCE(backend_token, ''),
	COALESCE(instance_token_hash, ''), auto_reply, COALESCE(auto_reply_text, ''),
	last_seen_at, created_at, updated_at
`

func (r *instanceRepo) Create(ctx context.Context, inst model.Instance) (model.Instance, error) {
	if inst.ID == "" {
		inst.ID = uuid.New().String()
	}
	if inst.Status == "" {
		inst.Status = model.InstanceStatusInactive
	}
	now := time.Now()
	inst.CreatedAt = now
	inst.UpdatedAt = now

	query := `
		INSERT INTO instances (id, name, owner_user_id, status, phone_number, backend_url, backend_token, instance_token_hash, auto_reply, auto_reply_text, last_seen_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Conn.ExecContext(ctx, query,
		inst.ID, inst.Name, inst.OwnerUserID, string(inst.Status),
		nullIfEmpty(inst.PhoneNumber), nullIfEmpty(inst.BackendURL), nullIfEmpty(inst.BackendToken),
		nullIfEmpty(inst.TokenHash), inst.AutoReply, nullIfEmpty(inst.AutoReplyText),
		formatTimePtr(inst.LastSeenAt), inst.CreatedAt.Format(time.RFC3339), inst.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return model.Instance{}, err
	}

	return inst, nil
}

func (r *instanceRepo) scanInstance(row interface {
	Scan(dest ...any) error
}) (model.Instance, error) {
	var inst model.Instance
	var createdAt, updatedAt string
	var lastSeenAt sql.NullString

	err := row.Scan(
		&inst.ID, &inst.Name, &inst.OwnerUserID, &inst.Status, &inst.PhoneNumber,
		&inst.BackendURL, &inst.BackendToken, &inst.TokenHash, &inst.AutoReply,
		&inst.AutoReplyText, &lastSeenAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return model.Instance{}, err
	}

	inst.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	inst.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if lastSeenAt.Valid {
		inst.LastSeenAt = parseTimePtr(lastSeenAt.String)
	}
	return inst, nil
}

func (r *instanceRepo) GetByID(ctx context.Context, id string) (model.Instance, error) {
	row := r.db.Conn.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM instances WHERE id = ?`, id)
	inst, err := r.scanInstance(row)
	if err != nil {
		return model.Instance{}, mapError(err)
	}
	return inst, nil
}

func (r *instanceRepo) GetByTokenHash(ctx context.Context, tokenHash string) (model.Instance, error) {
	row := r.db.Conn.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM instances WHERE instance_token_hash = ?`, tokenHash)
	inst, err := r.scanInstance(row)
	if err != nil {
		return model.Instance{}, mapError(err)
	}
	return inst, nil
}

func (r *instanceRepo) List(ctx context.Context) ([]model.Instance, error) {
	return r.list(ctx, `SELECT `+instanceColumns+` FROM instances ORDER BY created_at DESC`)
}

func (r *instanceRepo) ListByOwner(ctx context.Context, ownerUserID string) ([]model.Instance, error) {
	return r.list(ctx, `SELECT `+instanceColumns+` FROM instances WHERE owner_user_id = ? ORDER BY created_at DESC`, ownerUserID)
}

func (r *instanceRepo) list(ctx context.Context, query string, args ...any) ([]model.Instance, error) {
	rows, err := r.db.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []model.Instance
	for rows.Next() {
		inst, err := r.scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func (r *instanceRepo) Update(ctx context.Context, inst model.Instance) (model.Instance, error) {
	inst.UpdatedAt = time.Now()

	query := `
		UPDATE instances
		SET name = ?, owner_user_id = ?, status = ?, phone_number = ?, backend_url = ?, backend_token = ?, instance_token_hash = ?, auto_reply = ?, auto_reply_text = ?, last_seen_at = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.Conn.ExecContext(ctx, query,
		inst.Name, inst.OwnerUserID, string(inst.Status),
		nullIfEmpty(inst.PhoneNumber), nullIfEmpty(inst.BackendURL), nullIfEmpty(inst.BackendToken),
		nullIfEmpty(inst.TokenHash), inst.AutoReply, nullIfEmpty(inst.AutoReplyText),
		formatTimePtr(inst.LastSeenAt), inst.UpdatedAt.Format(time.RFC3339), inst.ID,
	)
	if err != nil {
		return model.Instance{}, err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return model.Instance{}, mapError(sql.ErrNoRows)
	}

	return inst, nil
}

// UpdateBackend grava o endpoint vencedor descoberto pelo proxy, para que a
// próxima chamada parta direto dele.
func (r *instanceRepo) UpdateBackend(ctx context.Context, id, backendURL, backendToken string) error {
	result, err := r.db.Conn.ExecContext(ctx, `
		UPDATE instances
		SET backend_url = ?, backend_token = ?, updated_at = ?
		WHERE id = ?
	`, nullIfEmpty(backendURL), nullIfEmpty(backendToken), time.Now().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return mapError(sql.ErrNoRows)
	}
	return nil
}

func (r *instanceRepo) UpdateStatus(ctx context.Context, id string, status model.InstanceStatus) error {
	result, err := r.db.Conn.ExecContext(ctx, `
		UPDATE instances
		SET status = ?, updated_at = ?
		WHERE id = ?
	`, string(status), time.Now().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return mapError(sql.ErrNoRows)
	}
	return nil
}

func (r *instanceRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.Conn.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return mapError(sql.ErrNoRows)
	}
	return nil
}

func nullIfEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func parseTimePtr(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
