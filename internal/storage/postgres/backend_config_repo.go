package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/conectazap/conectazap/internal/storage/model"
)

type backendConfigRepo struct {
	db *DB
}

func NewBackendConfigRepository(db *DB) *backendConfigRepo {
	return &backendConfigRepo{db: db}
}

func (r *backendConfigRepo) Get(ctx context.Context) (model.BackendConfig, error) {
	query := `
		SELECT id, url, COALESCE(token, ''), updated_at
		FROM backend_config
		ORDER BY updated_at ASC
		LIMIT 1
	`

	var config model.BackendConfig
	err := r.db.Pool.QueryRow(ctx, query).Scan(
		&config.ID, &config.URL, &config.Token, &config.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return model.BackendConfig{ID: "default", UpdatedAt: time.Now()}, nil
	}
	if err != nil {
		return model.BackendConfig{}, err
	}
	return config, nil
}

func (r *backendConfigRepo) Update(ctx context.Context, config model.BackendConfig) (model.BackendConfig, error) {
	config.UpdatedAt = time.Now()
	if config.ID == "" {
		config.ID = "default"
	}

	query := `
		INSERT INTO backend_config (id, url, token, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET url = $2, token = $3, updated_at = $4
	`

	_, err := r.db.Pool.Exec(ctx, query,
		config.ID, config.URL, nullIfEmpty(config.Token), config.UpdatedAt,
	)
	if err != nil {
		return model.BackendConfig{}, err
	}

	return config, nil
}
