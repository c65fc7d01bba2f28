package storage

import (
	"context"
	"errors"
	"time"

	"github.com/conectazap/conectazap/internal/storage/model"
)

var ErrNotFound = errors.New("not found")

type InstanceRepository interface {
	Create(ctx context.Context, instance model.Instance) (model.Instance, error)
	GetByID(ctx context.Context, id string) (model.Instance, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (model.Instance, error)
	List(ctx context.Context) ([]model.Instance, error)
	ListByOwner(ctx context.Context, ownerUserID string) ([]model.Instance, error)
	Update(ctx context.Context, instance model.Instance) (model.Instance, error)
	UpdateBackend(ctx context.Context, id, backendURL, backendToken string) error
	UpdateStatus(ctx context.Context, id string, status model.InstanceStatus) error
	Delete(ctx context.Context, id string) error
}

// BackendConfigRepository guarda a configuração global de backend (registro único).
type BackendConfigRepository interface {
	Get(ctx context.Context) (model.BackendConfig, error)
	Update(ctx context.Context, config model.BackendConfig) (model.BackendConfig, error)
}

type BreakerRepository interface {
	Save(ctx context.Context, state model.BreakerState) error
	Get(ctx context.Context, instanceID, circuit string) (model.BreakerState, error)
	List(ctx context.Context) ([]model.BreakerState, error)
	Delete(ctx context.Context, instanceID, circuit string) error
}

type QueueRepository interface {
	Create(ctx context.Context, item model.QueueItem) (model.QueueItem, error)
	GetByID(ctx context.Context, id string) (model.QueueItem, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]model.QueueItem, error)
	ListByInstance(ctx context.Context, instanceID string) ([]model.QueueItem, error)
	Update(ctx context.Context, item model.QueueItem) error
	DeleteByInstanceID(ctx context.Context, instanceID string) error
}

type AlertRepository interface {
	Create(ctx context.Context, alert model.Alert) (model.Alert, error)
	GetByID(ctx context.Context, id string) (model.Alert, error)
	List(ctx context.Context, onlyUnresolved bool) ([]model.Alert, error)
	FindUnresolved(ctx context.Context, instanceID, alertType string) (model.Alert, error)
	Update(ctx context.Context, alert model.Alert) error
}

type HeartbeatRepository interface {
	Upsert(ctx context.Context, hb model.Heartbeat) error
	Get(ctx context.Context, instanceID string) (model.Heartbeat, error)
	List(ctx context.Context) ([]model.Heartbeat, error)
	Delete(ctx context.Context, instanceID string) error
}

type EventLogRepository interface {
	Create(ctx context.Context, eventLog model.EventLog) (model.EventLog, error)
	ListByInstance(ctx context.Context, instanceID string) ([]model.EventLog, error)
	DeleteByInstanceID(ctx context.Context, instanceID string) error
}

type UserRepository interface {
	Create(ctx context.Context, user model.User) (model.User, error)
	GetByID(ctx context.Context, id string) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	List(ctx context.Context) ([]model.User, error)
	Delete(ctx context.Context, id string) error
}
