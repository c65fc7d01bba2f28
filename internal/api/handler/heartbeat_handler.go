package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/conectazap/conectazap/internal/pkg/response"
	"github.com/conectazap/conectazap/internal/stability"
	"github.com/conectazap/conectazap/internal/storage/model"
)

// HeartbeatHandler recebe os batimentos periódicos dos gateways. A rota é
// autenticada só pelo token de instância: gateways não carregam JWT.
type HeartbeatHandler struct {
	monitor *stability.Monitor
	log     *zap.Logger
}

func NewHeartbeatHandler(monitor *stability.Monitor, log *zap.Logger) *HeartbeatHandler {
	return &HeartbeatHandler{monitor: monitor, log: log}
}

func (h *HeartbeatHandler) Register(r *gin.RouterGroup) {
	r.POST("/heartbeat", h.receive)
}

type heartbeatRequest struct {
	Status         string `json:"status" binding:"required"`
	PhoneNumber    string `json:"phoneNumber"`
	UptimeSeconds  int64  `json:"uptimeSeconds"`
	HeartbeatCount int64  `json:"heartbeatCount"`
	Sent           int64  `json:"sent"`
	Received       int64  `json:"received"`
	MemoryBytes    int64  `json:"memoryBytes"`
	ReadyToSend    bool   `json:"readyToSend"`
}

func (h *HeartbeatHandler) receive(c *gin.Context) {
	if c.GetString("authType") != "instance_token" {
		response.ErrorWithMessage(c, http.StatusForbidden, "endpoint disponível apenas com token de instância")
		return
	}
	instanceID := c.GetString("instanceID")

	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, err)
		return
	}

	hb := model.Heartbeat{
		InstanceID:     instanceID,
		Status:         req.Status,
		PhoneNumber:    req.PhoneNumber,
		UptimeSeconds:  req.UptimeSeconds,
		HeartbeatCount: req.HeartbeatCount,
		Sent:           req.Sent,
		Received:       req.Received,
		MemoryBytes:    req.MemoryBytes,
		ReadyToSend:    req.ReadyToSend,
	}

	if err := h.monitor.Record(c.Request.Context(), hb); err != nil {
		h.log.Warn("heartbeat rejeitado", zap.String("instance_id", instanceID), zap.Error(err))
		response.Error(c, http.StatusInternalServerError, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"received": true})
}
