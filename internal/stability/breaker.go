package stability

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/conectazap/conectazap/internal/storage"
	"github.com/conectazap/conectazap/internal/storage/model"
)

// Registry mantém um circuit breaker por par (instância, circuito).
// Transições:
//
//	closed    --falha×N≥threshold--> open (openedAt = agora)
//	open      --resetTimeout decorrido--> half_open (na checagem de AllowRequest)
//	half_open --sucesso--> closed (contador de falhas zerado)
//	half_open --falha--> open (openedAt re-carimbado)
//
// Em closed, falhas isoladas abaixo do limiar NÃO são limpas por um único
// sucesso parcial: apenas um sucesso registrado ou um Reset zera o contador
// (sensibilidade de balde furado).
type Registry struct {
	mu        sync.Mutex
	breakers  map[breakerKey]*model.BreakerState
	repo      storage.BreakerRepository
	threshold int
	timeout   time.Duration
	alerts    *AlertManager
	log       *zap.Logger
	now       func() time.Time
}

type breakerKey struct {
	instanceID string
	circuit    string
}

type RegistryOptions struct {
	Repo      storage.BreakerRepository
	Threshold int
	Timeout   time.Duration
	Alerts    *AlertManager
	Logger    *zap.Logger
}

func NewRegistry(opts RegistryOptions) *Registry {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = 5
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Registry{
		breakers:  make(map[breakerKey]*model.BreakerState),
		repo:      opts.Repo,
		threshold: threshold,
		timeout:   timeout,
		alerts:    opts.Alerts,
		log:       opts.Logger,
		now:       time.Now,
	}
}

// Restore recarrega os snapshots persistidos (chamado na inicialização).
func (r *Registry) Restore(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}
	states, err := r.repo.List(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range states {
		st := states[i]
		r.breakers[breakerKey{st.InstanceID, st.Circuit}] = &st
	}
	return nil
}

func (r *Registry) get(instanceID, circuit string) *model.BreakerState {
	key := breakerKey{instanceID, circuit}
	st, ok := r.breakers[key]
	if !ok {
		st = &model.BreakerState{
			InstanceID:   instanceID,
			Circuit:      circuit,
			State:        model.BreakerClosed,
			Threshold:    r.threshold,
			ResetTimeout: int(r.timeout.Seconds()),
		}
		r.breakers[key] = st
	}
	return st
}

// AllowRequest indica se a operação deve sequer ser tentada. Aberto com
// timeout vencido transita para half_open aqui mesmo (sem timer de fundo) e
// libera exatamente a requisição de sondagem.
func (r *Registry) AllowRequest(ctx context.Context, instanceID, circuit string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.get(instanceID, circuit)
	if st.State != model.BreakerOpen {
		return true
	}

	if st.OpenedAt != nil && r.now().Sub(*st.OpenedAt) >= time.Duration(st.ResetTimeout)*time.Second {
		st.State = model.BreakerHalfOpen
		r.persist(ctx, st)
		if r.log != nil {
			r.log.Info("breaker: half-open, liberando sondagem",
				zap.String("instance_id", instanceID),
				zap.String("circuit", circuit),
			)
		}
		return true
	}

	return false
}

// RecordSuccess fecha o circuito e zera o contador de falhas. Sucesso com o
// circuito aberto (sem sondagem autorizada) não muda o estado.
func (r *Registry) RecordSuccess(ctx context.Context, instanceID, circuit string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.get(instanceID, circuit)
	if st.State == model.BreakerOpen {
		return
	}

	now := r.now()
	recovered := st.State == model.BreakerHalfOpen

	st.State = model.BreakerClosed
	st.FailureCount = 0
	st.SuccessCount++
	st.LastSuccessAt = &now
	st.OpenedAt = nil
	r.persist(ctx, st)

	if recovered && r.log != nil {
		r.log.Info("breaker: circuito recuperado",
			zap.String("instance_id", instanceID),
			zap.String("circuit", circuit),
		)
	}
}

// RecordFailure contabiliza uma falha; abre no limiar e reabre em falha de
// sondagem half-open (openedAt re-carimbado com o horário da sondagem).
func (r *Registry) RecordFailure(ctx context.Context, instanceID, circuit string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.get(instanceID, circuit)
	now := r.now()
	st.FailureCount++
	st.SuccessCount = 0
	st.LastFailureAt = &now

	opened := false
	switch st.State {
	case model.BreakerHalfOpen:
		st.State = model.BreakerOpen
		st.OpenedAt = &now
		opened = true
	case model.BreakerClosed:
		if st.FailureCount >= st.Threshold {
			st.State = model.BreakerOpen
			st.OpenedAt = &now
			opened = true
		}
	}
	r.persist(ctx, st)

	if opened {
		if r.log != nil {
			r.log.Warn("breaker: circuito aberto",
				zap.String("instance_id", instanceID),
				zap.String("circuit", circuit),
				zap.Int("failures", st.FailureCount),
			)
		}
		if r.alerts != nil {
			r.alerts.Raise(ctx, instanceID, "breaker_opened", model.SeverityWarn,
				"Circuit breaker aberto",
				"O circuito "+circuit+" abriu após falhas consecutivas.",
				map[string]any{"circuit": circuit, "failures": st.FailureCount})
		}
	}
}

// Reset é a ação do operador: sempre resulta em closed com contadores zerados,
// independentemente do estado anterior.
func (r *Registry) Reset(ctx context.Context, instanceID, circuit string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.get(instanceID, circuit)
	st.State = model.BreakerClosed
	st.FailureCount = 0
	st.SuccessCount = 0
	st.OpenedAt = nil
	r.persist(ctx, st)
}

// State devolve uma cópia do snapshot atual do breaker.
func (r *Registry) State(instanceID, circuit string) model.BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.get(instanceID, circuit)
}

// List devolve cópias de todos os breakers conhecidos.
func (r *Registry) List() []model.BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.BreakerState, 0, len(r.breakers))
	for _, st := range r.breakers {
		out = append(out, *st)
	}
	return out
}

// persist grava o snapshot em transição através da interface estreita de
// storage. Chamado com o mutex em posse.
func (r *Registry) persist(ctx context.Context, st *model.BreakerState) {
	st.UpdatedAt = r.now()
	if r.repo == nil {
		return
	}
	if err := r.repo.Save(ctx, *st); err != nil && r.log != nil {
		r.log.Warn("breaker: erro ao persistir snapshot",
			zap.String("instance_id", st.InstanceID),
			zap.String("circuit", st.Circuit),
			zap.Error(err),
		)
	}
}
