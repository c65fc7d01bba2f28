package model

import "time"

type InstanceStatus string

const (
	InstanceStatusInactive        InstanceStatus = "inactive"
	InstanceStatusAwaitingBackend InstanceStatus = "awaiting_backend"
	InstanceStatusQRPending       InstanceStatus = "qr_pending"
	InstanceStatusConnected       InstanceStatus = "connected"
	InstanceStatusDisconnected    InstanceStatus = "disconnected"
	InstanceStatusReplaced        InstanceStatus = "replaced"
	InstanceStatusError           InstanceStatus = "error"
)

// Instance representa uma sessão do gateway de mensagens pertencente a um tenant.
// PhoneNumber só é conhecido após a conexão e é limpo apenas em logout
// explícito, nunca em falha transitória.
type Instance struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	OwnerUserID    string         `json:"ownerUserId"`
	Status         InstanceStatus `json:"status"`
	PhoneNumber    string         `json:"phoneNumber,omitempty"`
	BackendURL     string         `json:"backendUrl,omitempty"`
	BackendToken   string         `json:"-"`
	TokenHash      string         `json:"-"`
	AutoReply      bool           `json:"autoReply"`
	AutoReplyText  string         `json:"autoReplyText,omitempty"`
	LastSeenAt     *time.Time     `json:"lastSeenAt,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// BackendConfig é a configuração global (tenant-wide) de backend.
// Registro único: somente Get/Update.
type BackendConfig struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Token     string    `json:"-"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type BreakerStatus string

const (
	BreakerClosed   BreakerStatus = "closed"
	BreakerOpen     BreakerStatus = "open"
	BreakerHalfOpen BreakerStatus = "half_open"
)

// BreakerState é o snapshot persistido de um circuit breaker (instância, circuito).
type BreakerState struct {
	InstanceID    string        `json:"instanceId"`
	Circuit       string        `json:"circuit"`
	State         BreakerStatus `json:"state"`
	FailureCount  int           `json:"failureCount"`
	SuccessCount  int           `json:"successCount"`
	Threshold     int           `json:"threshold"`
	ResetTimeout  int           `json:"resetTimeoutSeconds"`
	LastFailureAt *time.Time    `json:"lastFailureAt,omitempty"`
	LastSuccessAt *time.Time    `json:"lastSuccessAt,omitempty"`
	OpenedAt      *time.Time    `json:"openedAt,omitempty"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

type QueueItemStatus string

const (
	QueueItemPending  QueueItemStatus = "pending"
	QueueItemRetrying QueueItemStatus = "retrying"
	QueueItemSent     QueueItemStatus = "sent"
	QueueItemFailed   QueueItemStatus = "failed"
)

// QueueItem é uma mensagem de saída aguardando entrega pela varredura de retry.
type QueueItem struct {
	ID            string          `json:"id"`
	InstanceID    string          `json:"instanceId"`
	To            string          `json:"to"`
	Kind          string          `json:"kind"`
	Payload       string          `json:"payload"`
	Status        QueueItemStatus `json:"status"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"maxAttempts"`
	NextAttemptAt *time.Time      `json:"nextAttemptAt,omitempty"`
	LastError     string          `json:"lastError,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

type AlertSeverity string

const (
	SeverityDebug    AlertSeverity = "debug"
	SeverityInfo     AlertSeverity = "info"
	SeverityWarn     AlertSeverity = "warn"
	SeverityError    AlertSeverity = "error"
	SeverityCritical AlertSeverity = "critical"
)

// Alert é uma notificação voltada ao operador. Imutável depois de resolvido;
// uma nova ocorrência da mesma condição gera um alerta novo.
type Alert struct {
	ID             string        `json:"id"`
	InstanceID     string        `json:"instanceId,omitempty"`
	Type           string        `json:"type"`
	Severity       AlertSeverity `json:"severity"`
	Title          string        `json:"title"`
	Message        string        `json:"message"`
	Metadata       string        `json:"metadata,omitempty"`
	Resolved       bool          `json:"resolved"`
	AutoResolved   bool          `json:"autoResolved"`
	AcknowledgedAt *time.Time    `json:"acknowledgedAt,omitempty"`
	ResolvedAt     *time.Time    `json:"resolvedAt,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// Heartbeat é o último batimento recebido de um processo gateway.
type Heartbeat struct {
	InstanceID     string    `json:"instanceId"`
	Status         string    `json:"status"`
	PhoneNumber    string    `json:"phoneNumber,omitempty"`
	UptimeSeconds  int64     `json:"uptimeSeconds"`
	HeartbeatCount int64     `json:"heartbeatCount"`
	Sent           int64     `json:"sent"`
	Received       int64     `json:"received"`
	MemoryBytes    int64     `json:"memoryBytes"`
	ReadyToSend    bool      `json:"readyToSend"`
	ReceivedAt     time.Time `json:"receivedAt"`
}

// EventLog guarda eventos de diagnóstico emitidos pelo proxy resiliente.
type EventLog struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instanceId"`
	Type       string    `json:"type"`
	Payload    string    `json:"payload"`
	CreatedAt  time.Time `json:"createdAt"`
}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}
