package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		inst.ID, inst.Name, inst.OwnerUserID, string(inst.Status),
		nullIfEmpty(inst.PhoneNumber), nullIfEmpty(inst.BackendURL), nullIfEmpty(inst.BackendToken),
		nullIfEmpty(inst.TokenHash), inst.AutoReply, nullIfEmpty(inst.AutoReplyText),
		inst.LastSeenAt, inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		return model.Instance{}, err
	}

	return inst, nil
}

func scanInstance(row pgx.Row) (model.Instance, error) {
	var inst model.Instance
	err := row.Scan(
		&inst.ID, &inst.Name, &inst.OwnerUserID, &inst.Status, &inst.PhoneNumber,
		&inst.BackendURL, &inst.BackendToken, &inst.TokenHash, &inst.AutoReply,
		&inst.AutoReplyText, &inst.LastSeenAt, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return model.Instance{}, ErrNotFound
	}
	if err != nil {
		return model.Instance{}, err
	}
	return inst, nil
}

func (r *instanceRepo) GetByID(ctx context.Context, id string) (model.Instance, error) {
	return scanInstance(r.db.Pool.QueryRow(ctx, `SELECT `+instanceColumns+` FROM instances WHERE id = $1`, id))
}

func (r *instanceRepo) GetByTokenHash(ctx context.Context, tokenHash string) (model.Instance, error) {
	return scanInstance(r.db.Pool.QueryRow(ctx, `SELECT `+instanceColumns+` FROM instances WHERE instance_token_hash = $1`, tokenHash))
}

func (r *instanceRepo) List(ctx context.Context) ([]model.Instance, error) {
	return r.list(ctx, `SELECT `+instanceColumns+` FROM instances ORDER BY created_at DESC`)
}

func (r *instanceRepo) ListByOwner(ctx context.Context, ownerUserID string) ([]model.Instance, error) {
	return r.list(ctx, `SELECT `+instanceColumns+` FROM instances WHERE owner_user_id = $1 ORDER BY created_at DESC`, ownerUserID)
}

func (r *instanceRepo) list(ctx context.Context, query string, args ...any) ([]model.Instance, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []model.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
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
		SET name = $1, owner_user_id = $2, status = $3, phone_number = $4, backend_url = $5, backend_token = $6, instance_token_hash = $7, auto_reply = $8, auto_reply_text = $9, last_seen_at = $10, updated_at = $11
		WHERE id = $12
	`

	tag, err := r.db.Pool.Exec(ctx, query,
		inst.Name, inst.OwnerUserID, string(inst.Status),
		nullIfEmpty(inst.PhoneNumber), nullIfEmpty(inst.BackendURL), nullIfEmpty(inst.BackendToken),
		nullIfEmpty(inst.TokenHash), inst.AutoReply, nullIfEmpty(inst.AutoReplyText),
		inst.LastSeenAt, inst.UpdatedAt, inst.ID,
	)
	if err != nil {
		return model.Instance{}, err
	}
	if tag.RowsAffected() == 0 {
		return model.Instance{}, ErrNotFound
	}

	return inst, nil
}

func (r *instanceRepo) UpdateBackend(ctx context.Context, id, backendURL, backendToken string) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE instances
		SET backend_url = $1, backend_token = $2, updated_at = NOW()
		WHERE id = $3
	`, nullIfEmpty(backendURL), nullIfEmpty(backendToken), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *instanceRepo) UpdateStatus(ctx context.Context, id string, status model.InstanceStatus) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE instances
		SET status = $1, updated_at = NOW()
		WHERE id = $2
	`, string(status), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *instanceRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM instances WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func nullIfEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
