package stability

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conectazap/conectazap/internal/storage"
	"github.com/conectazap/conectazap/internal/storage/model"
)

// AlertManager cria, reconhece e resolve alertas de operador. Alertas são
// imutáveis depois de resolvidos: a mesma condição re-disparada gera um
// alerta novo, nunca reabre o antigo.
type AlertManager struct {
	repo storage.AlertRepository
	log  *zap.Logger
	now  func() time.Time
}

func NewAlertManager(repo storage.AlertRepository, log *zap.Logger) *AlertManager {
	return &AlertManager{repo: repo, log: log, now: time.Now}
}

// Raise cria um alerta para a condição, deduplicando contra alertas ainda não
// resolvidos do mesmo (instância, tipo).
func (m *AlertManager) Raise(ctx context.Context, instanceID, alertType string, severity model.AlertSeverity, title, message string, metadata map[string]any) {
	if existing, err := m.repo.FindUnresolved(ctx, instanceID, alertType); err == nil && existing.ID != "" {
		m.log.Debug("alertas: condição já alertada, não duplicando",
			zap.String("instance_id", instanceID),
			zap.String("type", alertType),
		)
		return
	}

	meta := ""
	if metadata != nil {
		if b, err := json.Marshal(metadata); err == nil {
			meta = string(b)
		}
	}

	alert := model.Alert{
		ID:         uuid.NewString(),
		InstanceID: instanceID,
		Type:       alertType,
		Severity:   severity,
		Title:      title,
		Message:    message,
		Metadata:   meta,
		CreatedAt:  m.now(),
	}

	if _, err := m.repo.Create(ctx, alert); err != nil {
		m.log.Error("alertas: erro ao criar alerta",
			zap.String("type", alertType),
			zap.Error(err),
		)
		return
	}

	m.log.Warn("alerta emitido",
		zap.String("instance_id", instanceID),
		zap.String("type", alertType),
		zap.String("severity", string(severity)),
		zap.String("title", title),
	)
}

// Acknowledge marca o alerta como reconhecido. Idempotente; reconhecimento é
// consultivo, não bloqueia a resolução.
func (m *AlertManager) Acknowledge(ctx context.Context, alertID string) error {
	alert, err := m.repo.GetByID(ctx, alertID)
	if err != nil {
		return err
	}
	if alert.AcknowledgedAt != nil {
		return nil
	}
	now := m.now()
	alert.AcknowledgedAt = &now
	return m.repo.Update(ctx, alert)
}

// Resolve encerra o alerta em definitivo. Idempotente.
func (m *AlertManager) Resolve(ctx context.Context, alertID string, auto bool) error {
	alert, err := m.repo.GetByID(ctx, alertID)
	if err != nil {
		return err
	}
	if alert.Resolved {
		return nil
	}
	now := m.now()
	alert.Resolved = true
	alert.AutoResolved = auto
	alert.ResolvedAt = &now
	return m.repo.Update(ctx, alert)
}

func (m *AlertManager) List(ctx context.Context, onlyUnresolved bool) ([]model.Alert, error) {
	return m.repo.List(ctx, onlyUnresolved)
}
