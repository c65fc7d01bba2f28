package stability

import (
	"context"
	"sync"
	"time"

	"github.com/conectazap/conectazap/internal/storage"
	"github.com/conectazap/conectazap/internal/storage/model"
)

type fakeAlertRepo struct {
	mu     sync.Mutex
	alerts map[string]model.Alert
}

func newFakeAlertRepo() *fakeAlertRepo {
	return &fakeAlertRepo{alerts: make(map[string]model.Alert)}
}

func (r *fakeAlertRepo) Create(ctx context.Context, alert model.Alert) (model.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts[alert.ID] = alert
	return alert, nil
}

func (r *fakeAlertRepo) GetByID(ctx context.Context, id string) (model.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	alert, ok := r.alerts[id]
	if !ok {
		return model.Alert{}, storage.ErrNotFound
	}
	return alert, nil
}

func (r *fakeAlertRepo) List(ctx context.Context, onlyUnresolved bool) ([]model.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Alert
	for _, a := range r.alerts {
		if onlyUnresolved && a.Resolved {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *fakeAlertRepo) FindUnresolved(ctx context.Context, instanceID, alertType string) (model.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.alerts {
		if a.InstanceID == instanceID && a.Type == alertType && !a.Resolved {
			return a, nil
		}
	}
	return model.Alert{}, storage.ErrNotFound
}

func (r *fakeAlertRepo) Update(ctx context.Context, alert model.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.alerts[alert.ID]; !ok {
		return storage.ErrNotFound
	}
	r.alerts[alert.ID] = alert
	return nil
}

func (r *fakeAlertRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

type fakeQueueRepo struct {
	mu    sync.Mutex
	items map[string]model.QueueItem
}

func newFakeQueueRepo() *fakeQueueRepo {
	return &fakeQueueRepo{items: make(map[string]model.QueueItem)}
}

func (r *fakeQueueRepo) Create(ctx context.Context, item model.QueueItem) (model.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item.CreatedAt = time.Now()
	item.UpdatedAt = item.CreatedAt
	r.items[item.ID] = item
	return item, nil
}

func (r *fakeQueueRepo) GetByID(ctx context.Context, id string) (model.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return model.QueueItem{}, storage.ErrNotFound
	}
	return item, nil
}

func (r *fakeQueueRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]model.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.QueueItem
	for _, item := range r.items {
		if item.Status != model.QueueItemPending && item.Status != model.QueueItemRetrying {
			continue
		}
		if item.NextAttemptAt != nil && item.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, item)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeQueueRepo) ListByInstance(ctx context.Context, instanceID string) ([]model.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.QueueItem
	for _, item := range r.items {
		if item.InstanceID == instanceID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *fakeQueueRepo) Update(ctx context.Context, item model.QueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[item.ID]; !ok {
		return storage.ErrNotFound
	}
	item.UpdatedAt = time.Now()
	r.items[item.ID] = item
	return nil
}

func (r *fakeQueueRepo) DeleteByInstanceID(ctx context.Context, instanceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, item := range r.items {
		if item.InstanceID == instanceID {
			delete(r.items, id)
		}
	}
	return nil
}

type fakeInstanceRepo struct {
	mu        sync.Mutex
	instances map[string]model.Instance
}

func newFakeInstanceRepo(instances ...model.Instance) *fakeInstanceRepo {
	r := &fakeInstanceRepo{instances: make(map[string]model.Instance)}
	for _, inst := range instances {
		r.instances[inst.ID] = inst
	}
	return r
}

func (r *fakeInstanceRepo) Create(ctx context.Context, inst model.Instance) (model.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[inst.ID] = inst
	return inst, nil
}

func (r *fakeInstanceRepo) GetByID(ctx context.Context, id string) (model.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok {
		return model.Instance{}, storage.ErrNotFound
	}
	return inst, nil
}

func (r *fakeInstanceRepo) GetByTokenHash(ctx context.Context, tokenHash string) (model.Instance, error) {
	return model.Instance{}, storage.ErrNotFound
}

func (r *fakeInstanceRepo) List(ctx context.Context) ([]model.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Instance
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	return out, nil
}

func (r *fakeInstanceRepo) ListByOwner(ctx context.Context, ownerUserID string) ([]model.Instance, error) {
	return nil, nil
}

func (r *fakeInstanceRepo) Update(ctx context.Context, inst model.Instance) (model.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[inst.ID]; !ok {
		return model.Instance{}, storage.ErrNotFound
	}
	r.instances[inst.ID] = inst
	return inst, nil
}

func (r *fakeInstanceRepo) UpdateBackend(ctx context.Context, id, backendURL, backendToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok {
		return storage.ErrNotFound
	}
	inst.BackendURL = backendURL
	inst.BackendToken = backendToken
	r.instances[id] = inst
	return nil
}

func (r *fakeInstanceRepo) UpdateStatus(ctx context.Context, id string, status model.InstanceStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok {
		return storage.ErrNotFound
	}
	inst.Status = status
	r.instances[id] = inst
	return nil
}

func (r *fakeInstanceRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, id)
	return nil
}

type fakeHeartbeatRepo struct {
	mu  sync.Mutex
	hbs map[string]model.Heartbeat
}

func newFakeHeartbeatRepo() *fakeHeartbeatRepo {
	return &fakeHeartbeatRepo{hbs: make(map[string]model.Heartbeat)}
}

func (r *fakeHeartbeatRepo) Upsert(ctx context.Context, hb model.Heartbeat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hbs[hb.InstanceID] = hb
	return nil
}

func (r *fakeHeartbeatRepo) Get(ctx context.Context, instanceID string) (model.Heartbeat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hb, ok := r.hbs[instanceID]
	if !ok {
		return model.Heartbeat{}, storage.ErrNotFound
	}
	return hb, nil
}

func (r *fakeHeartbeatRepo) List(ctx context.Context) ([]model.Heartbeat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Heartbeat
	for _, hb := range r.hbs {
		out = append(out, hb)
	}
	return out, nil
}

func (r *fakeHeartbeatRepo) Delete(ctx context.Context, instanceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hbs, instanceID)
	return nil
}

type fakeBreakerRepo struct {
	mu     sync.Mutex
	states map[string]model.BreakerState
}

func newFakeBreakerRepo() *fakeBreakerRepo {
	return &fakeBreakerRepo{states: make(map[string]model.BreakerState)}
}

func (r *fakeBreakerRepo) Save(ctx context.Context, state model.BreakerState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[state.InstanceID+"/"+state.Circuit] = state
	return nil
}

func (r *fakeBreakerRepo) Get(ctx context.Context, instanceID, circuit string) (model.BreakerState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[instanceID+"/"+circuit]
	if !ok {
		return model.BreakerState{}, storage.ErrNotFound
	}
	return st, nil
}

func (r *fakeBreakerRepo) List(ctx context.Context) ([]model.BreakerState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.BreakerState
	for _, st := range r.states {
		out = append(out, st)
	}
	return out, nil
}

func (r *fakeBreakerRepo) Delete(ctx context.Context, instanceID, circuit string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, instanceID+"/"+circuit)
	return nil
}
