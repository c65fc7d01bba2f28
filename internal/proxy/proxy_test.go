package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/conectazap/conectazap/internal/gateway"
	"github.com/conectazap/conectazap/internal/storage"
	"github.com/conectazap/conectazap/internal/storage/model"
)

type memInstances struct {
	mu        sync.Mutex
	instances map[string]model.Instance
}

func newMemInstances(instances ...model.Instance) *memInstances {
	r := &memInstances{instances: make(map[string]model.Instance)}
	for _, inst := range instances {
		r.instances[inst.ID] = inst
	}
	return r
}

func (r *memInstances) Create(ctx context.Context, inst model.Instance) (model.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[inst.ID] = inst
	return inst, nil
}

func (r *memInstances) GetByID(ctx context.Context, id string) (model.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok {
		return model.Instance{}, storage.ErrNotFound
	}
	return inst, nil
}

func (r *memInstances) GetByTokenHash(ctx context.Context, hash string) (model.Instance, error) {
	return model.Instance{}, storage.ErrNotFound
}

func (r *memInstances) List(ctx context.Context) ([]model.Instance, error)        { return nil, nil }
func (r *memInstances) ListByOwner(ctx context.Context, o string) ([]model.Instance, error) {
	return nil, nil
}

func (r *memInstances) Update(ctx context.Context, inst model.Instance) (model.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[inst.ID] = inst
	return inst, nil
}

func (r *memInstances) UpdateBackend(ctx context.Context, id, backendURL, backendToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst := r.instances[id]
	inst.BackendURL = backendURL
	inst.BackendToken = backendToken
	r.instances[id] = inst
	return nil
}

func (r *memInstances) UpdateStatus(ctx context.Context, id string, status model.InstanceStatus) error {
	return nil
}

func (r *memInstances) Delete(ctx context.Context, id string) error { return nil }

type memEvents struct {
	mu     sync.Mutex
	events []model.EventLog
}

func (r *memEvents) Create(ctx context.Context, ev model.EventLog) (model.EventLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return ev, nil
}

func (r *memEvents) ListByInstance(ctx context.Context, id string) ([]model.EventLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.EventLog
	for _, ev := range r.events {
		if ev.InstanceID == id {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r *memEvents) DeleteByInstanceID(ctx context.Context, id string) error { return nil }

func (r *memEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type countingAlerter struct {
	mu    sync.Mutex
	types []string
}

func (a *countingAlerter) Raise(ctx context.Context, instanceID, alertType string, severity model.AlertSeverity, title, message string, metadata map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.types = append(a.types, alertType)
}

func newTestProxy(t *testing.T, instances *memInstances, resolver *Resolver, alerts Alerter) (*Proxy, *memEvents) {
	t.Helper()
	events := &memEvents{}
	return New(instances, events, resolver, gateway.NewClient(0), alerts, zap.NewNop()), events
}

func localResolver(opts ResolverOptions) *Resolver {
	opts.AllowLocal = true
	return NewResolver(opts)
}

func TestInvokeSuccess(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-inst" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"status":"connected"}`))
	}))
	defer backend.Close()

	instances := newMemInstances(model.Instance{
		ID: "inst-1", OwnerUserID: "user-1",
		BackendURL: backend.URL, BackendToken: "tok-inst",
	})
	p, events := newTestProxy(t, instances, localResolver(ResolverOptions{}), nil)

	res := p.Invoke(context.Background(), "user-1", false, "inst-1", "/status", http.MethodGet, nil)
	if !res.OK || res.Status != http.StatusOK {
		t.Fatalf("Invoke = %+v, esperado sucesso", res)
	}

	// Candidato primário vencedor não gera autocorreção.
	for _, evType := range events.types() {
		if evType == "backend_autocorrigido" {
			t.Error("override vencedor não deveria disparar autocorreção")
		}
	}
}

func TestInvokeOwnership(t *testing.T) {
	instances := newMemInstances(model.Instance{ID: "inst-1", OwnerUserID: "user-1"})
	p, _ := newTestProxy(t, instances, localResolver(ResolverOptions{}), nil)

	res := p.Invoke(context.Background(), "user-2", false, "inst-1", "/status", http.MethodGet, nil)
	if res.Status != http.StatusForbidden {
		t.Errorf("dono errado deveria receber 403, veio %d", res.Status)
	}

	// Admin ignora posse, mas sem backend configurado falha com status 0.
	res = p.Invoke(context.Background(), "user-2", true, "inst-1", "/status", http.MethodGet, nil)
	if res.Status == http.StatusForbidden {
		t.Error("admin não deveria ser barrado por posse")
	}
}

func TestInvokeRejectsUnknownPath(t *testing.T) {
	instances := newMemInstances(model.Instance{ID: "inst-1", OwnerUserID: "user-1"})
	p, _ := newTestProxy(t, instances, localResolver(ResolverOptions{}), nil)

	res := p.Invoke(context.Background(), "user-1", false, "inst-1", "/admin/drop", http.MethodPost, nil)
	if res.Status != http.StatusBadRequest {
		t.Errorf("rota fora da lista fechada deveria dar 400, veio %d", res.Status)
	}
}

func TestInvokeSendBodySuccessFalse(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":false,"error":"instância não conectada"}`))
	}))
	defer backend.Close()

	instances := newMemInstances(model.Instance{
		ID: "inst-1", OwnerUserID: "user-1",
		BackendURL: backend.URL, BackendToken: "tok",
	})
	p, _ := newTestProxy(t, instances, localResolver(ResolverOptions{}), nil)

	res := p.Invoke(context.Background(), "user-1", false, "inst-1", "/send", http.MethodPost,
		map[string]any{"to": "5511999990000", "text": "oi"})

	// HTTP 200 com success:false no corpo NÃO é entrega confirmada.
	if res.OK {
		t.Fatal("success:false no corpo deveria derrubar OK")
	}
	if res.Err != "instância não conectada" {
		t.Errorf("Err = %q", res.Err)
	}
}

func TestInvokeTokenFallbackPersists(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-global" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true}`))
	}))
	defer backend.Close()

	instances := newMemInstances(model.Instance{
		ID: "inst-1", OwnerUserID: "user-1",
		BackendURL: backend.URL, BackendToken: "tok-velho",
	})
	resolver := localResolver(ResolverOptions{
		Global: &staticGlobal{cfg: model.BackendConfig{Token: "tok-global"}},
	})
	p, _ := newTestProxy(t, instances, resolver, nil)

	res := p.Invoke(context.Background(), "user-1", false, "inst-1", "/status", http.MethodGet, nil)
	if !res.OK {
		t.Fatalf("fallback de token deveria ter vencido: %+v", res)
	}

	// O token comprovado é persistido para a próxima chamada partir dele.
	inst, _ := instances.GetByID(context.Background(), "inst-1")
	if inst.BackendToken != "tok-global" {
		t.Errorf("token persistido = %q, esperado tok-global", inst.BackendToken)
	}
}

func TestInvokeAlternatePortPersists(t *testing.T) {
	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true}`))
	}))
	defer live.Close()

	liveURL, _ := url.Parse(live.URL)

	// Porta morta: sobe e derruba um servidor só para reservar um endereço
	// que recusa conexão.
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL, _ := url.Parse(dead.URL)
	dead.Close()

	instances := newMemInstances(model.Instance{
		ID: "inst-1", OwnerUserID: "user-1",
		BackendURL: dead.URL, BackendToken: "tok",
	})
	resolver := localResolver(ResolverOptions{
		FallbackPorts: []string{deadURL.Port(), liveURL.Port()},
	})
	p, _ := newTestProxy(t, instances, resolver, nil)

	res := p.Invoke(context.Background(), "user-1", false, "inst-1", "/status", http.MethodGet, nil)
	if !res.OK {
		t.Fatalf("porta alternativa deveria ter vencido: %+v", res)
	}

	inst, _ := instances.GetByID(context.Background(), "inst-1")
	if inst.BackendURL != live.URL {
		t.Errorf("URL persistida = %q, esperado %q", inst.BackendURL, live.URL)
	}
}

func TestInvokeAllUnreachable(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	instances := newMemInstances(model.Instance{
		ID: "inst-1", OwnerUserID: "user-1",
		BackendURL: dead.URL, BackendToken: "tok",
	})
	alerts := &countingAlerter{}
	p, events := newTestProxy(t, instances, localResolver(ResolverOptions{}), alerts)

	res := p.Invoke(context.Background(), "user-1", false, "inst-1", "/status", http.MethodGet, nil)
	if res.OK || res.Status != 0 {
		t.Fatalf("backend morto deveria dar status 0: %+v", res)
	}

	found := false
	for _, at := range alerts.types {
		if at == "backend_unreachable" {
			found = true
		}
	}
	if !found {
		t.Error("esgotar candidatos deveria emitir alerta backend_unreachable")
	}

	evs, _ := events.ListByInstance(context.Background(), "inst-1")
	if len(evs) == 0 {
		t.Error("falha deveria gerar evento de diagnóstico")
	}
}

func TestInvokeAuthExhausted(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer backend.Close()

	instances := newMemInstances(model.Instance{
		ID: "inst-1", OwnerUserID: "user-1",
		BackendURL: backend.URL, BackendToken: "tok",
	})
	alerts := &countingAlerter{}
	p, _ := newTestProxy(t, instances, localResolver(ResolverOptions{}), alerts)

	res := p.Invoke(context.Background(), "user-1", false, "inst-1", "/status", http.MethodGet, nil)
	if res.Status != http.StatusUnauthorized {
		t.Fatalf("todas as credenciais recusadas deveria devolver 401, veio %d", res.Status)
	}

	found := false
	for _, at := range alerts.types {
		if at == "backend_unauthorized" {
			found = true
		}
	}
	if !found {
		t.Error("esgotamento de credenciais deveria emitir alerta backend_unauthorized")
	}
}
