package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/conectazap/conectazap/internal/gateway"
	"github.com/conectazap/conectazap/internal/pkg/backoff"
	"github.com/conectazap/conectazap/internal/proxy"
	instanceSvc "github.com/conectazap/conectazap/internal/service/instance"
	"github.com/conectazap/conectazap/internal/stability"
	"github.com/conectazap/conectazap/internal/storage"
	"github.com/conectazap/conectazap/internal/storage/model"
)

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

func (r *fakeInstanceRepo) GetByTokenHash(ctx context.Context, hash string) (model.Instance, error) {
	return model.Instance{}, storage.ErrNotFound
}

func (r *fakeInstanceRepo) List(ctx context.Context) ([]model.Instance, error) { return nil, nil }
func (r *fakeInstanceRepo) ListByOwner(ctx context.Context, o string) ([]model.Instance, error) {
	return nil, nil
}

func (r *fakeInstanceRepo) Update(ctx context.Context, inst model.Instance) (model.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[inst.ID] = inst
	return inst, nil
}

func (r *fakeInstanceRepo) UpdateBackend(ctx context.Context, id, backendURL, backendToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst := r.instances[id]
	inst.BackendURL = backendURL
	inst.BackendToken = backendToken
	r.instances[id] = inst
	return nil
}

func (r *fakeInstanceRepo) UpdateStatus(ctx context.Context, id string, status model.InstanceStatus) error {
	return nil
}

func (r *fakeInstanceRepo) Delete(ctx context.Context, id string) error { return nil }

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
	return nil, nil
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
	r.items[item.ID] = item
	return nil
}

func (r *fakeQueueRepo) DeleteByInstanceID(ctx context.Context, instanceID string) error { return nil }

type fakeEventRepo struct{}

func (r *fakeEventRepo) Create(ctx context.Context, ev model.EventLog) (model.EventLog, error) {
	return ev, nil
}
func (r *fakeEventRepo) ListByInstance(ctx context.Context, id string) ([]model.EventLog, error) {
	return nil, nil
}
func (r *fakeEventRepo) DeleteByInstanceID(ctx context.Context, id string) error { return nil }

type sendTestEnv struct {
	router   *gin.Engine
	queue    *fakeQueueRepo
	breakers *stability.Registry
}

func newSendTestEnv(t *testing.T, backendURL string, threshold int) *sendTestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	instRepo := newFakeInstanceRepo(model.Instance{
		ID: "inst-1", OwnerUserID: "user-1",
		BackendURL: backendURL, BackendToken: "tok",
	})
	queueRepo := newFakeQueueRepo()
	eventRepo := &fakeEventRepo{}

	resolver := proxy.NewResolver(proxy.ResolverOptions{AllowLocal: true, FallbackPorts: []string{"1"}})
	px := proxy.New(instRepo, eventRepo, resolver, gateway.NewClient(0), nil, zap.NewNop())

	breakers := stability.NewRegistry(stability.RegistryOptions{
		Threshold: threshold,
		Timeout:   time.Hour,
		Logger:    zap.NewNop(),
	})
	retrier := stability.NewRetrier(stability.RetrierOptions{
		Queue:    queueRepo,
		Breakers: breakers,
		Sender:   px,
		Policy:   backoff.Default(),
		Logger:   zap.NewNop(),
	})

	service := instanceSvc.NewService(instRepo, queueRepo, eventRepo, nil, nil)
	h := NewInstanceHandler(service, px, eventRepo, breakers, retrier, zap.NewNop())

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", "user-1")
		c.Set("userRole", "operator")
		c.Set("authType", "user_jwt")
	})
	h.Register(r.Group("/api"))

	return &sendTestEnv{router: r, queue: queueRepo, breakers: breakers}
}

func postSend(t *testing.T, r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestSendFailureEnqueuesAndCountsOnBreaker(t *testing.T) {
	// Servidor morto: sobe e derruba para garantir conexão recusada.
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	env := newSendTestEnv(t, dead.URL, 2)

	w := postSend(t, env.router, "/api/instances/inst-1/send", `{"to":"5511999990000","text":"oi"}`)

	// Falha retryável não se perde: entra na fila e responde 202.
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, corpo = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"queued":true`) {
		t.Errorf("corpo sem queued: %s", w.Body.String())
	}

	items, _ := env.queue.ListByInstance(context.Background(), "inst-1")
	if len(items) != 1 {
		t.Fatalf("fila com %d itens, esperado 1", len(items))
	}
	if items[0].Status != model.QueueItemPending || items[0].Kind != "text" {
		t.Errorf("item = %+v", items[0])
	}

	st := env.breakers.State("inst-1", stability.SendCircuit)
	if st.FailureCount != 1 || st.State != model.BreakerClosed {
		t.Errorf("breaker = %+v", st)
	}

	// Segunda falha atinge o limiar e abre o circuito.
	postSend(t, env.router, "/api/instances/inst-1/send", `{"to":"5511999990000","text":"oi de novo"}`)
	st = env.breakers.State("inst-1", stability.SendCircuit)
	if st.State != model.BreakerOpen {
		t.Errorf("breaker deveria abrir no limiar: %+v", st)
	}
}

func TestSendOpenBreakerQueuesWithoutNetwork(t *testing.T) {
	var hits atomic.Int32
	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true}`))
	}))
	defer live.Close()

	env := newSendTestEnv(t, live.URL, 1)
	env.breakers.RecordFailure(context.Background(), "inst-1", stability.SendCircuit)

	w := postSend(t, env.router, "/api/instances/inst-1/send-buttons", `{"to":"5511999990000","text":"escolha","buttons":[{"id":"1","label":"sim"}]}`)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, corpo = %s", w.Code, w.Body.String())
	}
	if n := hits.Load(); n != 0 {
		t.Errorf("circuito aberto não pode tocar a rede, backend recebeu %d chamadas", n)
	}

	items, _ := env.queue.ListByInstance(context.Background(), "inst-1")
	if len(items) != 1 || items[0].Kind != "buttons" {
		t.Fatalf("fila = %+v", items)
	}
}

func TestSendSuccessRecordsOnBreaker(t *testing.T) {
	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"messageId":"abc"}`))
	}))
	defer live.Close()

	env := newSendTestEnv(t, live.URL, 2)
	env.breakers.RecordFailure(context.Background(), "inst-1", stability.SendCircuit)

	w := postSend(t, env.router, "/api/instances/inst-1/send", `{"to":"5511999990000","text":"oi"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, corpo = %s", w.Code, w.Body.String())
	}

	items, _ := env.queue.ListByInstance(context.Background(), "inst-1")
	if len(items) != 0 {
		t.Errorf("sucesso não enfileira, fila = %+v", items)
	}

	// Sucesso zera o contador de falhas acumulado.
	st := env.breakers.State("inst-1", stability.SendCircuit)
	if st.FailureCount != 0 || st.State != model.BreakerClosed {
		t.Errorf("breaker = %+v", st)
	}
}

func TestSendApplicationErrorNotEnqueued(t *testing.T) {
	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":false,"error":"número inválido"}`))
	}))
	defer live.Close()

	env := newSendTestEnv(t, live.URL, 5)

	w := postSend(t, env.router, "/api/instances/inst-1/send", `{"to":"abc","text":"oi"}`)

	// Erro de aplicação (200 com success:false) conta no breaker mas não é
	// retryável: repetir não mudaria o resultado.
	if w.Code == http.StatusAccepted {
		t.Fatal("erro de aplicação não pode virar item de fila")
	}

	items, _ := env.queue.ListByInstance(context.Background(), "inst-1")
	if len(items) != 0 {
		t.Errorf("fila = %+v", items)
	}

	st := env.breakers.State("inst-1", stability.SendCircuit)
	if st.FailureCount != 1 {
		t.Errorf("breaker = %+v", st)
	}
}

func TestStatusDoesNotTouchSendBreaker(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	env := newSendTestEnv(t, dead.URL, 2)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/instances/inst-1/status", nil)
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", w.Code)
	}

	st := env.breakers.State("inst-1", stability.SendCircuit)
	if st.FailureCount != 0 {
		t.Errorf("operação não-envio mexeu no breaker de envio: %+v", st)
	}

	items, _ := env.queue.ListByInstance(context.Background(), "inst-1")
	if len(items) != 0 {
		t.Errorf("operação não-envio foi enfileirada: %+v", items)
	}
}
