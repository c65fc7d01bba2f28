package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"           // driver PostgreSQL para o store do WhatsMeow
	_ "github.com/mattn/go-sqlite3" // driver SQLite para o store do WhatsMeow
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"

	"github.com/conectazap/conectazap/internal/pkg/backoff"
)

type noopLogger struct{}

func (n *noopLogger) Debugf(msg string, args ...interface{}) {}
func (n *noopLogger) Infof(msg string, args ...interface{})  {}
func (n *noopLogger) Warnf(msg string, args ...interface{})  {}
func (n *noopLogger) Errorf(msg string, args ...interface{}) {}
func (n *noopLogger) Sub(module string) waLog.Logger         { return n }

var (
	ErrNotConnected = errors.New("orchestrator: instância não conectada")
	ErrStabilizing  = errors.New("orchestrator: conexão em estabilização, aguarde")
	ErrReplaced     = errors.New("orchestrator: sessão assumida por outro dispositivo, reconexão manual necessária")
	ErrBusy         = errors.New("orchestrator: conexão já em andamento")
	ErrShuttingDown = errors.New("orchestrator: encerrando")
)

// Options configura o orquestrador de uma instância.
type Options struct {
	InstanceID    string
	DataDir       string
	StorageDriver string
	PGConnString  string
	// Stabilization é a janela após conectar durante a qual envios são
	// recusados com ErrStabilizing.
	Stabilization time.Duration
	Policy        backoff.Policy
	Snapshots     Store
	Log           *zap.Logger
	Now           func() time.Time
}

// Orchestrator é dono de exatamente um cliente WhatsMeow e da máquina de
// estados da conexão. Todos os eventos do cliente passam por um canal único
// processado por uma goroutine só, então a máquina nunca vê eventos
// concorrentes.
type Orchestrator struct {
	mu sync.Mutex

	instanceID    string
	dataDir       string
	storageDriver string
	pgConnString  string

	client    *whatsmeow.Client
	container *sqlstore.Container
	qrCancel  context.CancelFunc

	state       State
	qrCode      string
	phone       string
	connecting  bool
	shutting    bool
	attempts    int
	connectedAt time.Time
	startedAt   time.Time

	reconnectTimer *time.Timer

	sent     atomic.Uint64
	received atomic.Uint64

	stabilization time.Duration
	policy        backoff.Policy
	snapshots     Store
	log           *zap.Logger
	now           func() time.Time

	events chan Event
	done   chan struct{}
}

func New(opts Options) *Orchestrator {
	if opts.Stabilization <= 0 {
		opts.Stabilization = 10 * time.Second
	}
	if opts.Policy.Delays == nil {
		opts.Policy = backoff.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DataDir == "" {
		opts.DataDir = "/app/data/sessions"
		opts.Log.Warn("dataDir não definido, usando diretório padrão do container", zap.String("dir", opts.DataDir))
	}
	if opts.StorageDriver != "postgres" {
		os.MkdirAll(opts.DataDir, 0755)
	}

	return &Orchestrator{
		instanceID:    opts.InstanceID,
		dataDir:       opts.DataDir,
		storageDriver: opts.StorageDriver,
		pgConnString:  opts.PGConnString,
		state:         StateDisconnected,
		stabilization: opts.Stabilization,
		policy:        opts.Policy,
		snapshots:     opts.Snapshots,
		log:           opts.Log,
		now:           opts.Now,
		events:        make(chan Event, 64),
		done:          make(chan struct{}),
	}
}

// Start inicia o loop de eventos e tenta restaurar a sessão persistida. A
// restauração roda em background: o processo sobe mesmo sem sessão válida.
func (o *Orchestrator) Start(ctx context.Context) {
	o.startedAt = o.now()

	if o.snapshots != nil {
		if snap, ok, err := o.snapshots.Load(); err != nil {
			o.log.Warn("erro ao carregar snapshot local", zap.Error(err))
		} else if ok {
			o.mu.Lock()
			o.phone = snap.Phone
			o.mu.Unlock()
			o.sent.Store(snap.Sent)
			o.received.Store(snap.Received)
			o.log.Info("snapshot local restaurado",
				zap.String("status", snap.Status),
				zap.Uint64("sent", snap.Sent),
			)
		}
	}

	go o.run()

	go func() {
		if err := o.Connect(context.Background()); err != nil {
			o.log.Info("sem sessão restaurável na inicialização, aguardando QR ou connect",
				zap.Error(err),
			)
		}
	}()
}

// run consome o canal de eventos. Um pânico em qualquer handler é capturado
// e logado: o processo do gateway nunca morre por causa de um evento.
func (o *Orchestrator) run() {
	for evt := range o.events {
		o.safeApply(evt)
	}
	close(o.done)
}

func (o *Orchestrator) safeApply(evt Event) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("pânico ao processar evento de conexão",
				zap.String("event", string(evt.Type)),
				zap.Any("panic", r),
			)
		}
	}()
	o.apply(evt)
}

func (o *Orchestrator) apply(evt Event) {
	o.mu.Lock()
	prev := o.state
	next := Transition(prev, evt)
	o.state = next
	o.mu.Unlock()

	if next != prev {
		o.log.Info("transição de estado",
			zap.String("de", string(prev)),
			zap.String("para", string(next)),
			zap.String("evento", string(evt.Type)),
		)
	}

	switch evt.Type {
	case EventQRCode:
		o.mu.Lock()
		o.qrCode = evt.QRCode
		o.mu.Unlock()

	case EventPairSuccess, EventConnected:
		o.mu.Lock()
		o.qrCode = ""
		o.attempts = 0
		o.connectedAt = o.now()
		if evt.Phone != "" {
			o.phone = evt.Phone
		}
		o.stopReconnectLocked()
		o.mu.Unlock()
		o.persistSnapshot()
		o.SendPresenceSoon()

	case EventReplaced:
		o.log.Error("sessão assumida por outro dispositivo, não será reconectada",
			zap.String("instance_id", o.instanceID),
		)
		o.mu.Lock()
		o.stopReconnectLocked()
		o.mu.Unlock()
		o.persistSnapshot()

	case EventLoggedOut:
		o.log.Warn("sessão invalidada pelo servidor, purgando estado local",
			zap.String("reason", evt.Reason),
		)
		o.purgeSession()
		o.mu.Lock()
		o.attempts = 0
		o.phone = ""
		// Cancela qualquer backoff pendente: o novo ciclo começa do zero.
		o.stopReconnectLocked()
		o.mu.Unlock()
		o.persistSnapshot()
		// Reinicia o fluxo imediatamente: um novo QR será emitido.
		go func() {
			if err := o.Connect(context.Background()); err != nil && !errors.Is(err, ErrBusy) {
				o.log.Warn("reconexão pós-logout falhou", zap.Error(err))
			}
		}()

	case EventDisconnected, EventFailure:
		o.persistSnapshot()
		o.scheduleReconnect(evt)
	}
}

// scheduleReconnect agenda a próxima tentativa via timer, nunca bloqueando a
// goroutine de eventos. O atraso segue a tabela de backoff e satura no topo.
func (o *Orchestrator) scheduleReconnect(evt Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.shutting || o.state == StateReplaced {
		return
	}
	if o.reconnectTimer != nil {
		return
	}

	o.attempts++
	delay := o.policy.Delay(o.attempts)
	o.log.Info("reconexão agendada",
		zap.Int("attempt", o.attempts),
		zap.Duration("delay", delay),
		zap.String("reason", evt.Reason),
	)

	o.reconnectTimer = time.AfterFunc(delay, func() {
		o.mu.Lock()
		o.reconnectTimer = nil
		o.mu.Unlock()
		if err := o.Connect(context.Background()); err != nil && !errors.Is(err, ErrBusy) {
			o.log.Warn("tentativa de reconexão falhou", zap.Error(err))
		}
	})
}

func (o *Orchestrator) stopReconnectLocked() {
	if o.reconnectTimer != nil {
		o.reconnectTimer.Stop()
		o.reconnectTimer = nil
	}
}

// Connect cria (ou restaura) o cliente e conecta. É no-op com ErrBusy quando
// já há conexão em andamento, e ErrShuttingDown durante o encerramento.
func (o *Orchestrator) Connect(ctx context.Context) error {
	o.mu.Lock()
	if o.shutting {
		o.mu.Unlock()
		return ErrShuttingDown
	}
	if o.state == StateReplaced {
		o.mu.Unlock()
		return ErrReplaced
	}
	if o.connecting {
		o.mu.Unlock()
		return ErrBusy
	}
	if o.client != nil && o.client.IsConnected() {
		o.mu.Unlock()
		return nil
	}
	o.connecting = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.connecting = false
		o.mu.Unlock()
	}()

	deviceStore, container, err := o.openDevice(ctx)
	if err != nil {
		o.pushEvent(Event{Type: EventFailure, Reason: err.Error()})
		return err
	}

	client := whatsmeow.NewClient(deviceStore, &noopLogger{})
	client.EnableAutoReconnect = false // reconexão é responsabilidade da máquina de estados
	client.AddEventHandler(o.handleWhatsmeow)

	needsPairing := deviceStore.ID == nil || deviceStore.ID.IsEmpty()

	var qrChan <-chan whatsmeow.QRChannelItem
	var qrCancel context.CancelFunc
	if needsPairing {
		qrCtx, cancel := context.WithCancel(context.Background())
		qrChan, err = client.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			// Mantém a cadeia de reconexão viva mesmo falhando aqui.
			o.pushEvent(Event{Type: EventFailure, Reason: err.Error()})
			return fmt.Errorf("orchestrator: obter canal QR: %w", err)
		}
		qrCancel = cancel
	}

	if err := client.Connect(); err != nil {
		if qrCancel != nil {
			qrCancel()
		}
		o.pushEvent(Event{Type: EventFailure, Reason: err.Error()})
		return fmt.Errorf("orchestrator: conectar: %w", err)
	}

	o.mu.Lock()
	if o.qrCancel != nil {
		o.qrCancel()
	}
	o.client = client
	o.container = container
	o.qrCancel = qrCancel
	o.mu.Unlock()

	if qrChan != nil {
		go o.monitorQR(qrChan)
	}

	o.log.Info("cliente conectado ao stream",
		zap.String("instance_id", o.instanceID),
		zap.Bool("pairing", needsPairing),
	)
	return nil
}

func (o *Orchestrator) openDevice(ctx context.Context) (*store.Device, *sqlstore.Container, error) {
	clientLog := &noopLogger{}

	if o.storageDriver == "postgres" && o.pgConnString != "" {
		container, err := sqlstore.New(ctx, "postgres", o.pgConnString, clientLog)
		if err != nil {
			return nil, nil, fmt.Errorf("orchestrator: criar store PostgreSQL: %w", err)
		}
		deviceStore, err := container.GetFirstDevice(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("orchestrator: obter device: %w", err)
		}
		return deviceStore, container, nil
	}

	dbPath := filepath.Join(o.dataDir, o.instanceID+".db")
	sqlitePath := fmt.Sprintf("file:%s?_foreign_keys=on", dbPath)
	container, err := sqlstore.New(ctx, "sqlite3", sqlitePath, clientLog)
	if err != nil {
		return nil, nil, fmt.Errorf("orchestrator: criar store: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("orchestrator: obter device: %w", err)
	}
	return deviceStore, container, nil
}

func (o *Orchestrator) monitorQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			if item.Code != "" {
				o.log.Info("QR code recebido", zap.Duration("timeout", item.Timeout))
				o.pushEvent(Event{Type: EventQRCode, QRCode: item.Code})
			}
		case "success":
			phone := ""
			o.mu.Lock()
			client := o.client
			o.mu.Unlock()
			if client != nil && client.Store != nil && client.Store.ID != nil {
				phone = client.Store.ID.User
			}
			o.log.Info("pareamento concluído com sucesso", zap.String("phone", phone))
			o.pushEvent(Event{Type: EventPairSuccess, Phone: phone})
		}
	}
}

// handleWhatsmeow traduz eventos do cliente para eventos da máquina. Roda na
// goroutine do WhatsMeow, por isso apenas empurra no canal.
func (o *Orchestrator) handleWhatsmeow(evt any) {
	switch v := evt.(type) {
	case *events.Connected:
		phone := ""
		o.mu.Lock()
		client := o.client
		o.mu.Unlock()
		if client != nil && client.Store != nil && client.Store.ID != nil {
			phone = client.Store.ID.User
		}
		o.pushEvent(Event{Type: EventConnected, Phone: phone})

	case *events.PairSuccess:
		o.pushEvent(Event{Type: EventPairSuccess, Phone: v.ID.User})

	case *events.StreamReplaced:
		o.pushEvent(Event{Type: EventReplaced, Reason: "stream replaced"})

	case *events.LoggedOut:
		code := int(v.Reason)
		reason := v.Reason.String()
		switch Classify(code, reason) {
		case ClassReplaced:
			o.pushEvent(Event{Type: EventReplaced, Code: code, Reason: reason})
		default:
			o.pushEvent(Event{Type: EventLoggedOut, Code: code, Reason: reason})
		}

	case *events.Disconnected:
		o.pushEvent(Event{Type: EventDisconnected, Reason: "stream fechado"})

	case *events.StreamError:
		o.pushEvent(Event{Type: EventFailure, Reason: fmt.Sprintf("stream error %s", v.Code)})

	case *events.ConnectFailure:
		code := int(v.Reason)
		reason := v.Reason.String()
		switch Classify(code, reason) {
		case ClassReplaced:
			o.pushEvent(Event{Type: EventReplaced, Code: code, Reason: reason})
		case ClassSessionInvalid:
			o.pushEvent(Event{Type: EventLoggedOut, Code: code, Reason: reason})
		default:
			o.pushEvent(Event{Type: EventFailure, Code: code, Reason: reason})
		}

	case *events.TemporaryBan:
		o.pushEvent(Event{Type: EventFailure, Reason: fmt.Sprintf("ban temporário: %s", v.Code.String())})

	case *events.Message:
		o.received.Add(1)
	}
}

func (o *Orchestrator) pushEvent(evt Event) {
	select {
	case o.events <- evt:
	default:
		o.log.Warn("canal de eventos cheio, evento descartado",
			zap.String("event", string(evt.Type)),
		)
	}
}

// purgeSession descarta o cliente e o estado persistido da sessão. Usado
// quando o servidor invalida a sessão: o próximo connect parte do zero.
func (o *Orchestrator) purgeSession() {
	o.mu.Lock()
	client := o.client
	qrCancel := o.qrCancel
	o.client = nil
	o.container = nil
	o.qrCancel = nil
	o.qrCode = ""
	o.mu.Unlock()

	if qrCancel != nil {
		qrCancel()
	}
	if client != nil {
		client.Disconnect()
	}

	if o.storageDriver == "postgres" && o.pgConnString != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		container, err := sqlstore.New(ctx, "postgres", o.pgConnString, &noopLogger{})
		if err != nil {
			o.log.Warn("erro ao abrir store PostgreSQL para purge", zap.Error(err))
			return
		}
		device, err := container.GetFirstDevice(ctx)
		if err == nil && device != nil && device.ID != nil && !device.ID.IsEmpty() {
			if err := device.Delete(ctx); err != nil {
				o.log.Warn("erro ao deletar device PostgreSQL", zap.Error(err))
			}
		}
		return
	}

	dbPath := filepath.Join(o.dataDir, o.instanceID+".db")
	if _, err := os.Stat(dbPath); err == nil {
		if err := os.Remove(dbPath); err != nil {
			o.log.Warn("erro ao deletar arquivo de sessão",
				zap.String("db_path", dbPath),
				zap.Error(err),
			)
		} else {
			o.log.Info("arquivo de sessão deletado", zap.String("db_path", dbPath))
		}
	}
}

// Disconnect é o desligamento explícito pelo operador: faz logout, purga a
// sessão e limpa o telefone. Não agenda reconexão.
func (o *Orchestrator) Disconnect(ctx context.Context) error {
	o.mu.Lock()
	client := o.client
	o.stopReconnectLocked()
	o.mu.Unlock()

	if client != nil {
		logoutCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := client.Logout(logoutCtx); err != nil {
			o.log.Warn("logout falhou, forçando disconnect", zap.Error(err))
			client.Disconnect()
		} else {
			o.log.Info("logout concluído", zap.String("instance_id", o.instanceID))
		}
	}

	o.purgeSession()

	o.mu.Lock()
	o.phone = ""
	o.attempts = 0
	if o.state != StateReplaced {
		o.state = StateDisconnected
	}
	o.mu.Unlock()

	o.persistSnapshot()
	return nil
}

// QR retorna o código de pareamento vigente, vazio quando não há.
func (o *Orchestrator) QR() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.qrCode
}

// RefreshQR força um novo ciclo de pareamento descartando a sessão atual.
func (o *Orchestrator) RefreshQR(ctx context.Context) error {
	o.mu.Lock()
	if o.state == StateConnected {
		o.mu.Unlock()
		return errors.New("orchestrator: instância já conectada, não é possível gerar QR code")
	}
	o.mu.Unlock()

	o.purgeSession()
	return o.Connect(ctx)
}

// State retorna o estado corrente da máquina.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Phone retorna o número pareado, vazio até a primeira conexão.
func (o *Orchestrator) Phone() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phone
}

// ReadyToSend indica que a conexão passou da janela de estabilização.
func (o *Orchestrator) ReadyToSend() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state == StateConnected && o.now().Sub(o.connectedAt) >= o.stabilization
}

// Uptime do processo do gateway, não da conexão.
func (o *Orchestrator) Uptime() time.Duration {
	return o.now().Sub(o.startedAt)
}

// Counters retorna os totais de mensagens enviadas e recebidas.
func (o *Orchestrator) Counters() (sent, received uint64) {
	return o.sent.Load(), o.received.Load()
}

func (o *Orchestrator) persistSnapshot() {
	if o.snapshots == nil {
		return
	}

	o.mu.Lock()
	snap := Snapshot{
		Status:    string(o.state),
		Phone:     o.phone,
		UpdatedAt: o.now(),
	}
	o.mu.Unlock()
	snap.Sent = o.sent.Load()
	snap.Received = o.received.Load()

	if err := o.snapshots.Save(snap); err != nil {
		o.log.Warn("erro ao persistir snapshot local", zap.Error(err))
	}
}

// Shutdown encerra ordenadamente: para timers, desconecta sem logout (a
// sessão continua válida para o próximo boot) e grava o snapshot final.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.Lock()
	o.shutting = true
	o.stopReconnectLocked()
	client := o.client
	qrCancel := o.qrCancel
	o.mu.Unlock()

	if qrCancel != nil {
		qrCancel()
	}
	if client != nil {
		client.Disconnect()
	}

	o.persistSnapshot()

	close(o.events)
	select {
	case <-o.done:
	case <-ctx.Done():
	}
	o.log.Info("orquestrador encerrado", zap.String("instance_id", o.instanceID))
}

// SendPresenceSoon tenta marcar presença disponível após conectar, com as
// mesmas tentativas espaçadas que o pareamento usa para aguardar o PushName.
func (o *Orchestrator) SendPresenceSoon() {
	o.mu.Lock()
	client := o.client
	o.mu.Unlock()
	if client == nil {
		return
	}

	go func() {
		for attempt := 1; attempt <= 5; attempt++ {
			time.Sleep(time.Duration(attempt*2) * time.Second)
			if !client.IsLoggedIn() {
				return
			}
			if err := client.SendPresence(context.Background(), types.PresenceAvailable); err == nil {
				o.log.Info("presence enviado com sucesso", zap.String("instance_id", o.instanceID))
				return
			}
		}
	}()
}
