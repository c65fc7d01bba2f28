package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/conectazap/conectazap/internal/storage/model"
)

type backendConfigRepo struct {
	db *DB
}

func NewBackendConfigRepository(db *DB) *backendConfigRepo {
	return &backendConfigRepo{db: db}
}

// Get retorna a configuração global de backend. Sem registro, devolve o
// padrão vazio em vez de erro: o proxy trata URL vazia como "sem global".
func (r *backendConfigRepo) Get(ctx context.Context) (model.BackendConfig, error) {
	query := `
		SELECT id, url, COALESCE(token, ''), updated_at
		FROM backend_config
		ORDER BY updated_at ASC
		LIMIT 1
	`

	var config model.BackendConfig
	var updatedAt string

	err := r.db.Conn.QueryRowContext(ctx, query).Scan(
		&config.ID, &config.URL, &config.Token, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return model.BackendConfig{ID: "default", UpdatedAt: time.Now()}, nil
	}
	if err != nil {
		return model.BackendConfig{}, err
	}

	config.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return config, nil
}

func (r *backendConfigRepo) Update(ctx context.Context, config model.BackendConfig) (model.BackendConfig, error) {
	config.UpdatedAt = time.Now()
	if config.ID == "" {
		config.ID = "default"
	}

	query := `
		INSERT OR REPLACE INTO backend_config (id, url, token, updated_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := r.db.Conn.ExecContext(ctx, query,
		config.ID, config.URL, nullIfEmpty(config.Token), config.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return model.BackendConfig{}, err
	}

	return config, nil
}
