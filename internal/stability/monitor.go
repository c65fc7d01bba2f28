package stability

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/conectazap/conectazap/internal/storage"
	"github.com/conectazap/conectazap/internal/storage/model"
)

// Monitor recebe heartbeats (modelo push) dos processos gateway e deriva
// staleness. Não reconecta nada: reconexão é responsabilidade exclusiva do
// orquestrador; aqui só alimentamos a observabilidade.
type Monitor struct {
	heartbeats storage.HeartbeatRepository
	instances  storage.InstanceRepository
	alerts     *AlertManager
	interval   time.Duration
	log        *zap.Logger
	now        func() time.Time
}

func NewMonitor(heartbeats storage.HeartbeatRepository, instances storage.InstanceRepository, alerts *AlertManager, expectedInterval time.Duration, log *zap.Logger) *Monitor {
	if expectedInterval <= 0 {
		expectedInterval = 30 * time.Second
	}
	return &Monitor{
		heartbeats: heartbeats,
		instances:  instances,
		alerts:     alerts,
		interval:   expectedInterval,
		log:        log,
		now:        time.Now,
	}
}

// Record registra um heartbeat recebido e atualiza o last-seen e o status da
// instância correspondente.
func (m *Monitor) Record(ctx context.Context, hb model.Heartbeat) error {
	hb.ReceivedAt = m.now()
	if err := m.heartbeats.Upsert(ctx, hb); err != nil {
		return fmt.Errorf("monitor: gravar heartbeat: %w", err)
	}

	inst, err := m.instances.GetByID(ctx, hb.InstanceID)
	if err != nil {
		return fmt.Errorf("monitor: instância do heartbeat: %w", err)
	}

	inst.LastSeenAt = &hb.ReceivedAt
	if status := model.InstanceStatus(hb.Status); validStatus(status) {
		inst.Status = status
	}
	if hb.PhoneNumber != "" {
		inst.PhoneNumber = hb.PhoneNumber
	}
	if _, err := m.instances.Update(ctx, inst); err != nil {
		return fmt.Errorf("monitor: atualizar instância: %w", err)
	}

	m.log.Debug("heartbeat recebido",
		zap.String("instance_id", hb.InstanceID),
		zap.String("status", hb.Status),
		zap.Int64("uptime", hb.UptimeSeconds),
		zap.Bool("ready_to_send", hb.ReadyToSend),
	)
	return nil
}

// IsStale indica se a instância ficou sem heartbeat por mais de 2× o
// intervalo esperado — não-saudável mesmo que o último status fosse connected.
func (m *Monitor) IsStale(hb model.Heartbeat) bool {
	return m.now().Sub(hb.ReceivedAt) > 2*m.interval
}

// Sweep varre os heartbeats conhecidos e alerta instâncias stale.
func (m *Monitor) Sweep(ctx context.Context) {
	hbs, err := m.heartbeats.List(ctx)
	if err != nil {
		m.log.Error("monitor: erro ao listar heartbeats", zap.Error(err))
		return
	}

	for _, hb := range hbs {
		if !m.IsStale(hb) {
			continue
		}

		m.log.Warn("monitor: instância sem heartbeat",
			zap.String("instance_id", hb.InstanceID),
			zap.Time("last_heartbeat", hb.ReceivedAt),
		)

		if m.alerts != nil {
			m.alerts.Raise(ctx, hb.InstanceID, "heartbeat_stale", model.SeverityWarn,
				"Instância sem heartbeat",
				fmt.Sprintf("Sem heartbeat desde %s (esperado a cada %s).",
					hb.ReceivedAt.Format(time.RFC3339), m.interval),
				map[string]any{"lastHeartbeat": hb.ReceivedAt})
		}
	}
}

// Run executa a varredura de staleness em intervalo fixo até o contexto encerrar.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

func validStatus(s model.InstanceStatus) bool {
	switch s {
	case model.InstanceStatusInactive, model.InstanceStatusAwaitingBackend,
		model.InstanceStatusQRPending, model.InstanceStatusConnected,
		model.InstanceStatusDisconnected, model.InstanceStatusReplaced,
		model.InstanceStatusError:
		return true
	}
	return false
}
