package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// HeartbeatPayload é o corpo enviado à plataforma a cada batida.
type HeartbeatPayload struct {
	InstanceID     string `json:"instanceId"`
	Status         string `json:"status"`
	PhoneNumber    string `json:"phoneNumber,omitempty"`
	UptimeSeconds  int64  `json:"uptimeSeconds"`
	HeartbeatCount uint64 `json:"heartbeatCount"`
	Sent           uint64 `json:"sent"`
	Received       uint64 `json:"received"`
	MemoryBytes    uint64 `json:"memoryBytes"`
	ReadyToSend    bool   `json:"readyToSend"`
}

// HeartbeatPusher envia batidas em intervalo fixo à plataforma,
// independente do estado da conexão: a plataforma precisa saber que o
// processo está vivo mesmo desconectado do WhatsApp.
type HeartbeatPusher struct {
	orch        *Orchestrator
	platformURL string
	token       string
	interval    time.Duration
	httpClient  *http.Client
	count       atomic.Uint64
	log         *zap.Logger
}

func NewHeartbeatPusher(orch *Orchestrator, platformURL, token string, interval time.Duration, log *zap.Logger) *HeartbeatPusher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HeartbeatPusher{
		orch:        orch,
		platformURL: platformURL,
		token:       token,
		interval:    interval,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		log:         log,
	}
}

// Run envia batidas até o contexto ser cancelado e então uma batida final
// para o encerramento gracioso ser visível na plataforma.
func (h *HeartbeatPusher) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.push(ctx)

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			h.push(shutdownCtx)
			cancel()
			h.log.Info("heartbeat final enviado")
			return
		case <-ticker.C:
			h.push(ctx)
		}
	}
}

func (h *HeartbeatPusher) push(ctx context.Context) {
	sent, received := h.orch.Counters()
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	payload := HeartbeatPayload{
		InstanceID:     h.orch.instanceID,
		Status:         string(h.orch.State()),
		PhoneNumber:    h.orch.Phone(),
		UptimeSeconds:  int64(h.orch.Uptime().Seconds()),
		HeartbeatCount: h.count.Add(1),
		Sent:           sent,
		Received:       received,
		MemoryBytes:    mem.Alloc,
		ReadyToSend:    h.orch.ReadyToSend(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("heartbeat: erro ao serializar payload", zap.Error(err))
		return
	}

	url := h.platformURL + "/api/heartbeat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		h.log.Error("heartbeat: erro ao montar request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Instance-Token", h.token)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		h.log.Warn("heartbeat: plataforma inacessível", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		h.log.Warn("heartbeat: plataforma recusou",
			zap.Int("status", resp.StatusCode),
		)
		return
	}

	h.log.Debug("heartbeat enviado",
		zap.String("status", payload.Status),
		zap.Uint64("count", payload.HeartbeatCount),
	)
}

// Count retorna o total de batidas enviadas desde o boot.
func (h *HeartbeatPusher) Count() uint64 { return h.count.Load() }
