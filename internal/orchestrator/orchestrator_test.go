package orchestrator

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/conectazap/conectazap/internal/pkg/backoff"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *time.Time) {
	t.Helper()
	clock := time.Now()
	o := New(Options{
		InstanceID:    "inst-teste",
		DataDir:       t.TempDir(),
		Stabilization: 10 * time.Second,
		// Atraso enorme para nenhum timer de reconexão disparar durante o teste.
		Policy:    backoff.Policy{Delays: []time.Duration{time.Hour}, MaxAttempts: 0},
		Snapshots: NewMemoryStore(),
		Log:       zap.NewNop(),
		Now:       func() time.Time { return clock },
	})
	t.Cleanup(func() {
		o.mu.Lock()
		o.stopReconnectLocked()
		o.mu.Unlock()
	})
	return o, &clock
}

func TestReadyToSendStabilization(t *testing.T) {
	o, clock := newTestOrchestrator(t)

	o.apply(Event{Type: EventConnected, Phone: "5511999990000"})

	if o.State() != StateConnected {
		t.Fatalf("State = %q", o.State())
	}
	if o.Phone() != "5511999990000" {
		t.Errorf("Phone = %q", o.Phone())
	}
	// Logo após conectar, a janela de estabilização ainda segura envios.
	if o.ReadyToSend() {
		t.Error("ReadyToSend antes da janela de estabilização")
	}

	*clock = clock.Add(11 * time.Second)
	if !o.ReadyToSend() {
		t.Error("ReadyToSend deveria liberar após a janela")
	}
}

func TestReadyToSendRequiresConnected(t *testing.T) {
	o, clock := newTestOrchestrator(t)

	o.apply(Event{Type: EventConnected})
	*clock = clock.Add(time.Minute)
	o.apply(Event{Type: EventDisconnected, Reason: "queda de rede"})

	if o.ReadyToSend() {
		t.Error("desconectado nunca está pronto para enviar")
	}
}

func TestConnectedResetsAttemptsAndQR(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	o.apply(Event{Type: EventQRCode, QRCode: "payload-qr"})
	if o.QR() != "payload-qr" {
		t.Fatalf("QR = %q", o.QR())
	}

	o.apply(Event{Type: EventDisconnected, Reason: "queda"})
	o.mu.Lock()
	attempts := o.attempts
	timer := o.reconnectTimer
	o.mu.Unlock()
	if attempts != 1 {
		t.Errorf("attempts após queda = %d", attempts)
	}
	if timer == nil {
		t.Fatal("queda deveria agendar reconexão")
	}

	o.apply(Event{Type: EventConnected, Phone: "5511999990000"})
	o.mu.Lock()
	attempts = o.attempts
	timer = o.reconnectTimer
	o.mu.Unlock()
	if attempts != 0 {
		t.Errorf("conexão deveria zerar o contador, attempts = %d", attempts)
	}
	if timer != nil {
		t.Error("conexão deveria cancelar a reconexão agendada")
	}
	if o.QR() != "" {
		t.Error("conexão deveria limpar o QR pendente")
	}
}

func TestReplacedNeverReconnects(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	o.apply(Event{Type: EventConnected})
	o.apply(Event{Type: EventReplaced, Reason: "stream replaced"})

	if o.State() != StateReplaced {
		t.Fatalf("State = %q", o.State())
	}

	// Quedas posteriores não agendam nada: replaced é terminal.
	o.apply(Event{Type: EventDisconnected, Reason: "queda"})
	o.mu.Lock()
	timer := o.reconnectTimer
	o.mu.Unlock()
	if timer != nil {
		t.Error("replaced não pode agendar reconexão")
	}
	if o.State() != StateReplaced {
		t.Errorf("State = %q", o.State())
	}
}

func TestSnapshotPersistedOnTransition(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	o.apply(Event{Type: EventConnected, Phone: "5511999990000"})

	snap, ok, err := o.snapshots.Load()
	if err != nil || !ok {
		t.Fatalf("Load = %v, %v", ok, err)
	}
	if snap.Status != string(StateConnected) || snap.Phone != "5511999990000" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestLoggedOutRestartsBackoffFree(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	o.apply(Event{Type: EventConnected, Phone: "5511999990000"})
	o.apply(Event{Type: EventDisconnected, Reason: "queda"})

	o.mu.Lock()
	o.attempts = 3
	// Segura o Connect assíncrono do pós-logout: o teste só observa o estado.
	o.shutting = true
	o.mu.Unlock()

	o.apply(Event{Type: EventLoggedOut, Code: 401, Reason: "logged out"})

	if o.State() != StateDisconnected {
		t.Fatalf("State = %q", o.State())
	}

	o.mu.Lock()
	attempts := o.attempts
	timer := o.reconnectTimer
	phone := o.phone
	o.mu.Unlock()

	// Sessão inválida reinicia o fluxo do zero: sem backoff acumulado, sem
	// telefone antigo e sem timer de reconexão pendente.
	if attempts != 0 {
		t.Errorf("attempts = %d, esperado 0", attempts)
	}
	if timer != nil {
		t.Error("logout deveria cancelar o backoff pendente")
	}
	if phone != "" {
		t.Errorf("phone = %q, esperado vazio", phone)
	}

	snap, ok, err := o.snapshots.Load()
	if err != nil || !ok {
		t.Fatalf("Load = %v, %v", ok, err)
	}
	if snap.Phone != "" {
		t.Errorf("snapshot manteve telefone: %q", snap.Phone)
	}
}

func TestFailureSchedulesReconnect(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	o.apply(Event{Type: EventFailure, Reason: "obter canal QR: contexto cancelado"})

	if o.State() != StateError {
		t.Fatalf("State = %q", o.State())
	}

	o.mu.Lock()
	attempts := o.attempts
	timer := o.reconnectTimer
	o.mu.Unlock()
	if attempts != 1 {
		t.Errorf("attempts = %d", attempts)
	}
	if timer == nil {
		t.Error("falha de conexão deveria agendar nova tentativa")
	}
}
