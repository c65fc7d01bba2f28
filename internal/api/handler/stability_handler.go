package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/conectazap/conectazap/internal/pkg/response"
	instanceSvc "github.com/conectazap/conectazap/internal/service/instance"
	"github.com/conectazap/conectazap/internal/stability"
	"github.com/conectazap/conectazap/internal/storage"
)

// StabilityHandler expõe alertas, circuit breakers e a fila de reenvio para
// operação e diagnóstico.
type StabilityHandler struct {
	alerts    *stability.AlertManager
	breakers  *stability.Registry
	retrier   *stability.Retrier
	queue     storage.QueueRepository
	instances *instanceSvc.Service
	log       *zap.Logger
}

func NewStabilityHandler(alerts *stability.AlertManager, breakers *stability.Registry, retrier *stability.Retrier, queue storage.QueueRepository, instances *instanceSvc.Service, log *zap.Logger) *StabilityHandler {
	return &StabilityHandler{
		alerts:    alerts,
		breakers:  breakers,
		retrier:   retrier,
		queue:     queue,
		instances: instances,
		log:       log,
	}
}

func (h *StabilityHandler) Register(r *gin.RouterGroup) {
	r.GET("/alerts", h.listAlerts)
	r.POST("/alerts/:id/ack", h.ackAlert)
	r.POST("/alerts/:id/resolve", h.resolveAlert)

	r.GET("/breakers", h.listBreakers)
	r.POST("/breakers/reset", h.resetBreaker)

	r.GET("/instances/:id/queue", h.listQueue)
	r.POST("/queue/:id/retry", h.retryQueueItem)
}

func (h *StabilityHandler) listAlerts(c *gin.Context) {
	onlyUnresolved := c.Query("all") == ""

	alerts, err := h.alerts.List(c.Request.Context(), onlyUnresolved)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err)
		return
	}
	response.Success(c, http.StatusOK, alerts)
}

func (h *StabilityHandler) ackAlert(c *gin.Context) {
	if err := h.alerts.Acknowledge(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			response.Error(c, http.StatusNotFound, err)
			return
		}
		response.Error(c, http.StatusInternalServerError, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"acknowledged": true})
}

func (h *StabilityHandler) resolveAlert(c *gin.Context) {
	if err := h.alerts.Resolve(c.Request.Context(), c.Param("id"), false); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			response.Error(c, http.StatusNotFound, err)
			return
		}
		response.Error(c, http.StatusInternalServerError, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"resolved": true})
}

func (h *StabilityHandler) listBreakers(c *gin.Context) {
	response.Success(c, http.StatusOK, h.breakers.List())
}

type resetBreakerRequest struct {
	InstanceID string `json:"instanceId" binding:"required"`
	Circuit    string `json:"circuit" binding:"required"`
}

func (h *StabilityHandler) resetBreaker(c *gin.Context) {
	var req resetBreakerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, err)
		return
	}

	h.breakers.Reset(c.Request.Context(), req.InstanceID, req.Circuit)
	h.log.Info("breaker resetado manualmente",
		zap.String("instance_id", req.InstanceID),
		zap.String("circuit", req.Circuit),
	)
	response.Success(c, http.StatusOK, h.breakers.State(req.InstanceID, req.Circuit))
}

func (h *StabilityHandler) listQueue(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.instances.GetByUser(c.Request.Context(), id, c.GetString("userID"), c.GetString("userRole")); err != nil {
		response.Error(c, http.StatusNotFound, err)
		return
	}

	items, err := h.queue.ListByInstance(c.Request.Context(), id)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err)
		return
	}
	response.Success(c, http.StatusOK, items)
}

// retryQueueItem recoloca um item falhado na fila, zerando as tentativas.
func (h *StabilityHandler) retryQueueItem(c *gin.Context) {
	item, err := h.retrier.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			response.Error(c, http.StatusNotFound, err)
			return
		}
		response.Error(c, http.StatusBadRequest, err)
		return
	}
	response.Success(c, http.StatusOK, item)
}
