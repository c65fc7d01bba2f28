package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/conectazap/conectazap/internal/storage/model"
)

type breakerRepo struct {
	db *DB
}

func NewBreakerRepository(db *DB) *breakerRepo {
	return &breakerRepo{db: db}
}

const breakerColumns = `
	instance_id, circuit, state, failure_count, success_count, threshold,
	reset_timeout, last_failure_at, last_success_at, opened_at, updated_at
`

func (r *breakerRepo) Save(ctx context.Context, state model.BreakerState) error {
	state.UpdatedAt = time.Now()

	query := `
		INSERT INTO breakers (instance_id, circuit, state, failure_count, success_count, threshold, reset_timeout, last_failure_at, last_success_at, opened_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (instance_id, circuit) DO UPDATE SET
			state = $3, failure_count = $4, success_count = $5, threshold = $6,
			reset_timeout = $7, last_failure_at = $8, last_success_at = $9,
			opened_at = $10, updated_at = $11
	`

	_, err := r.db.Pool.Exec(ctx, query,
		state.InstanceID, state.Circuit, string(state.State),
		state.FailureCount, state.SuccessCount, state.Threshold, state.ResetTimeout,
		state.LastFailureAt, state.LastSuccessAt, state.OpenedAt, state.UpdatedAt,
	)
	return err
}

func scanBreaker(row pgx.Row) (model.BreakerState, error) {
	var state model.BreakerState
	err := row.Scan(
		&state.InstanceID, &state.Circuit, &state.State,
		&state.FailureCount, &state.SuccessCount, &state.Threshold, &state.ResetTimeout,
		&state.LastFailureAt, &state.LastSuccessAt, &state.OpenedAt, &state.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return model.BreakerState{}, ErrNotFound
	}
	if err != nil {
		return model.BreakerState{}, err
	}
	return state, nil
}

func (r *breakerRepo) Get(ctx context.Context, instanceID, circuit string) (model.BreakerState, error) {
	return scanBreaker(r.db.Pool.QueryRow(ctx,
		`SELECT `+breakerColumns+` FROM breakers WHERE instance_id = $1 AND circuit = $2`,
		instanceID, circuit,
	))
}

func (r *breakerRepo) List(ctx context.Context) ([]model.BreakerState, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+breakerColumns+` FROM breakers ORDER BY instance_id, circuit`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []model.BreakerState
	for rows.Next() {
		state, err := scanBreaker(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

func (r *breakerRepo) Delete(ctx context.Context, instanceID, circuit string) error {
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM breakers WHERE instance_id = $1 AND circuit = $2`,
		instanceID, circuit,
	)
	return err
}
