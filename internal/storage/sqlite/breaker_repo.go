package sqlite

import (
	"context"
	"database/sql"
	"time"

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
		INSERT OR REPLACE INTO breakers (instance_id, circuit, state, failure_count, success_count, threshold, reset_timeout, last_failure_at, last_success_at, opened_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Conn.ExecContext(ctx, query,
		state.InstanceID, state.Circuit, string(state.State),
		state.FailureCount, state.SuccessCount, state.Threshold, state.ResetTimeout,
		formatTimePtr(state.LastFailureAt), formatTimePtr(state.LastSuccessAt),
		formatTimePtr(state.OpenedAt), state.UpdatedAt.Format(time.RFC3339),
	)
	return err
}

func (r *breakerRepo) scanBreaker(row interface {
	Scan(dest ...any) error
}) (model.BreakerState, error) {
	var state model.BreakerState
	var lastFailureAt, lastSuccessAt, openedAt sql.NullString
	var updatedAt string

	err := row.Scan(
		&state.InstanceID, &state.Circuit, &state.State,
		&state.FailureCount, &state.SuccessCount, &state.Threshold, &state.ResetTimeout,
		&lastFailureAt, &lastSuccessAt, &openedAt, &updatedAt,
	)
	if err != nil {
		return model.BreakerState{}, err
	}

	if lastFailureAt.Valid {
		state.LastFailureAt = parseTimePtr(lastFailureAt.String)
	}
	if lastSuccessAt.Valid {
		state.LastSuccessAt = parseTimePtr(lastSuccessAt.String)
	}
	if openedAt.Valid {
		state.OpenedAt = parseTimePtr(openedAt.String)
	}
	state.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return state, nil
}

func (r *breakerRepo) Get(ctx context.Context, instanceID, circuit string) (model.BreakerState, error) {
	row := r.db.Conn.QueryRowContext(ctx,
		`SELECT `+breakerColumns+` FROM breakers WHERE instance_id = ? AND circuit = ?`,
		instanceID, circuit,
	)
	state, err := r.scanBreaker(row)
	if err != nil {
		return model.BreakerState{}, mapError(err)
	}
	return state, nil
}

func (r *breakerRepo) List(ctx context.Context) ([]model.BreakerState, error) {
	rows, err := r.db.Conn.QueryContext(ctx, `SELECT `+breakerColumns+` FROM breakers ORDER BY instance_id, circuit`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []model.BreakerState
	for rows.Next() {
		state, err := r.scanBreaker(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

func (r *breakerRepo) Delete(ctx context.Context, instanceID, circuit string) error {
	_, err := r.db.Conn.ExecContext(ctx,
		`DELETE FROM breakers WHERE instance_id = ? AND circuit = ?`,
		instanceID, circuit,
	)
	return err
}
