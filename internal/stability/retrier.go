package stability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conectazap/conectazap/internal/pkg/backoff"
	"github.com/conectazap/conectazap/internal/proxy"
	"github.com/conectazap/conectazap/internal/storage"
	"github.com/conectazap/conectazap/internal/storage/model"
)

// SendCircuit é o nome do circuito que protege os reenvios da fila.
const SendCircuit = "send"

// Sender é a fatia do proxy resiliente usada pela varredura.
type Sender interface {
	Invoke(ctx context.Context, callerID string, isAdmin bool, instanceID, path, method string, body any) proxy.Result
}

// SweepLock serializa a varredura entre nós quando há Redis (lock distribuído).
type SweepLock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Retrier mantém a fila durável de mensagens de saída e a varredura de retry.
// Itens que esgotam as tentativas ficam em failed e só voltam por ação
// explícita do operador.
type Retrier struct {
	queue    storage.QueueRepository
	breakers *Registry
	sender   Sender
	alerts   *AlertManager
	policy   backoff.Policy
	interval time.Duration
	lock     SweepLock
	log      *zap.Logger
	now      func() time.Time
}

type RetrierOptions struct {
	Queue    storage.QueueRepository
	Breakers *Registry
	Sender   Sender
	Alerts   *AlertManager
	Policy   backoff.Policy
	Interval time.Duration
	Lock     SweepLock
	Logger   *zap.Logger
}

func NewRetrier(opts RetrierOptions) *Retrier {
	interval := opts.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	policy := opts.Policy
	if policy.MaxAttempts == 0 {
		policy = backoff.Default()
	}
	return &Retrier{
		queue:    opts.Queue,
		breakers: opts.Breakers,
		sender:   opts.Sender,
		alerts:   opts.Alerts,
		policy:   policy,
		interval: interval,
		lock:     opts.Lock,
		log:      opts.Logger,
		now:      time.Now,
	}
}

var ErrInvalidItem = fmt.Errorf("item de fila inválido")

// Enqueue adiciona uma mensagem que falhou de forma retryável. Erros de
// validação imediatos (destino vazio) não entram na fila.
func (r *Retrier) Enqueue(ctx context.Context, instanceID, to, kind, payload, lastError string) (model.QueueItem, error) {
	if instanceID == "" || to == "" || payload == "" {
		return model.QueueItem{}, ErrInvalidItem
	}
	if kind == "" {
		kind = "text"
	}

	now := r.now()
	item := model.QueueItem{
		ID:            uuid.NewString(),
		InstanceID:    instanceID,
		To:            to,
		Kind:          kind,
		Payload:       payload,
		Status:        model.QueueItemPending,
		MaxAttempts:   r.policy.MaxAttempts,
		NextAttemptAt: &now,
		LastError:     lastError,
	}

	created, err := r.queue.Create(ctx, item)
	if err != nil {
		return model.QueueItem{}, fmt.Errorf("retrier: enfileirar: %w", err)
	}

	r.log.Info("retrier: mensagem enfileirada",
		zap.String("item_id", created.ID),
		zap.String("instance_id", instanceID),
		zap.String("kind", kind),
	)
	return created, nil
}

// Sweep seleciona itens elegíveis (pending/retrying com next_attempt_at
// vencido), respeita o circuit breaker e tenta o reenvio pelo proxy.
func (r *Retrier) Sweep(ctx context.Context) {
	now := r.now()
	items, err := r.queue.ListDue(ctx, now, 50)
	if err != nil {
		r.log.Error("retrier: erro ao listar itens da fila", zap.Error(err))
		return
	}

	for _, item := range items {
		if item.Status != model.QueueItemPending && item.Status != model.QueueItemRetrying {
			continue
		}
		// Itens esgotados nunca voltam pela varredura, só por ação do operador.
		if item.Attempts >= item.MaxAttempts {
			continue
		}
		if r.breakers != nil && !r.breakers.AllowRequest(ctx, item.InstanceID, SendCircuit) {
			r.log.Debug("retrier: circuito aberto, pulando item",
				zap.String("item_id", item.ID),
				zap.String("instance_id", item.InstanceID),
			)
			continue
		}

		r.attempt(ctx, item)
	}
}

func (r *Retrier) attempt(ctx context.Context, item model.QueueItem) {
	var body map[string]any
	if err := json.Unmarshal([]byte(item.Payload), &body); err != nil {
		body = map[string]any{"to": item.To, "message": item.Payload}
	}

	res := r.sender.Invoke(ctx, "", true, item.InstanceID, sendPathForKind(item.Kind), "POST", body)

	now := r.now()
	if res.OK {
		if r.breakers != nil {
			r.breakers.RecordSuccess(ctx, item.InstanceID, SendCircuit)
		}
		item.Status = model.QueueItemSent
		item.NextAttemptAt = nil
		item.LastError = ""
		if err := r.queue.Update(ctx, item); err != nil {
			r.log.Error("retrier: erro ao marcar item enviado", zap.String("item_id", item.ID), zap.Error(err))
		}
		r.log.Info("retrier: item reenviado com sucesso", zap.String("item_id", item.ID))
		return
	}

	if r.breakers != nil {
		r.breakers.RecordFailure(ctx, item.InstanceID, SendCircuit)
	}

	item.Attempts++
	item.LastError = res.Err

	if r.policy.Exhausted(item.Attempts) || item.Attempts >= item.MaxAttempts {
		item.Status = model.QueueItemFailed
		item.NextAttemptAt = nil
		if r.alerts != nil {
			r.alerts.Raise(ctx, item.InstanceID, "queue_item_failed", model.SeverityError,
				"Mensagem esgotou as tentativas",
				fmt.Sprintf("Item %s falhou %d vezes: %s", item.ID, item.Attempts, res.Err),
				map[string]any{"itemId": item.ID, "attempts": item.Attempts})
		}
		r.log.Warn("retrier: item esgotou tentativas",
			zap.String("item_id", item.ID),
			zap.Int("attempts", item.Attempts),
		)
	} else {
		next := r.policy.Next(now, item.Attempts)
		item.Status = model.QueueItemRetrying
		item.NextAttemptAt = &next
		r.log.Info("retrier: reagendando item",
			zap.String("item_id", item.ID),
			zap.Int("attempt", item.Attempts),
			zap.Time("next_attempt", next),
		)
	}

	if err := r.queue.Update(ctx, item); err != nil {
		r.log.Error("retrier: erro ao atualizar item", zap.String("item_id", item.ID), zap.Error(err))
	}
}

// Retry é a ação do operador sobre um item failed: zera as tentativas e torna
// o item elegível imediatamente.
func (r *Retrier) Retry(ctx context.Context, itemID string) (model.QueueItem, error) {
	item, err := r.queue.GetByID(ctx, itemID)
	if err != nil {
		return model.QueueItem{}, err
	}
	if item.Status != model.QueueItemFailed {
		return model.QueueItem{}, fmt.Errorf("retrier: apenas itens failed podem ser reprocessados")
	}

	now := r.now()
	item.Status = model.QueueItemPending
	item.Attempts = 0
	item.NextAttemptAt = &now
	item.LastError = ""
	if err := r.queue.Update(ctx, item); err != nil {
		return model.QueueItem{}, fmt.Errorf("retrier: reativar item: %w", err)
	}
	return item, nil
}

// Run executa a varredura em intervalo fixo. Com lock distribuído presente,
// apenas um nó varre por vez.
func (r *Retrier) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepLocked(ctx)
		}
	}
}

func (r *Retrier) sweepLocked(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("retrier: panic na varredura recuperado", zap.Any("panic", rec))
		}
	}()

	if r.lock != nil {
		ok, err := r.lock.Acquire(ctx)
		if err != nil {
			r.log.Warn("retrier: erro ao adquirir lock, varrendo mesmo assim", zap.Error(err))
		} else if !ok {
			return
		} else {
			defer r.lock.Release(ctx)
		}
	}

	r.Sweep(ctx)
}

func sendPathForKind(kind string) string {
	switch kind {
	case "buttons":
		return "/send-buttons"
	case "list":
		return "/send-list"
	case "media":
		return "/send-media"
	default:
		return "/send"
	}
}
