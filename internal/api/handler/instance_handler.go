package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/conectazap/conectazap/internal/pkg/backoff"
	"github.com/conectazap/conectazap/internal/pkg/response"
	"github.com/conectazap/conectazap/internal/proxy"
	instanceSvc "github.com/conectazap/conectazap/internal/service/instance"
	"github.com/conectazap/conectazap/internal/stability"
	"github.com/conectazap/conectazap/internal/storage"
)

// InstanceHandler expõe o CRUD de instâncias e as operações proxiadas para o
// gateway de cada instância (conectar, QR, envio). Envios alimentam o circuit
// breaker da instância e caem na fila durável quando a falha é retryável.
type InstanceHandler struct {
	service  *instanceSvc.Service
	proxy    *proxy.Proxy
	events   storage.EventLogRepository
	breakers *stability.Registry
	retrier  *stability.Retrier
	log      *zap.Logger
}

func NewInstanceHandler(service *instanceSvc.Service, px *proxy.Proxy, events storage.EventLogRepository, breakers *stability.Registry, retrier *stability.Retrier, log *zap.Logger) *InstanceHandler {
	return &InstanceHandler{service: service, proxy: px, events: events, breakers: breakers, retrier: retrier, log: log}
}

func (h *InstanceHandler) Register(r *gin.RouterGroup) {
	r.GET("/instances", h.list)
	r.POST("/instances", h.create)
	r.GET("/instances/:id", h.get)
	r.PUT("/instances/:id", h.update)
	r.DELETE("/instances/:id", h.delete)
	r.POST("/instances/:id/token/rotate", h.rotateToken)
	r.GET("/instances/:id/events", h.listEvents)

	// Operações encaminhadas ao gateway via proxy resiliente.
	r.GET("/instances/:id/status", h.invoke("/status", http.MethodGet))
	r.GET("/instances/:id/qrcode", h.invoke("/qrcode", http.MethodGet))
	r.POST("/instances/:id/qrcode", h.invoke("/qrcode", http.MethodPost))
	r.POST("/instances/:id/connect", h.invoke("/connect", http.MethodPost))
	r.POST("/instances/:id/disconnect", h.invoke("/disconnect", http.MethodPost))
	r.POST("/instances/:id/send", h.invoke("/send", http.MethodPost))
	r.POST("/instances/:id/send-buttons", h.invoke("/send-buttons", http.MethodPost))
	r.POST("/instances/:id/send-list", h.invoke("/send-list", http.MethodPost))
	r.POST("/instances/:id/send-media", h.invoke("/send-media", http.MethodPost))
}

type createInstanceRequest struct {
	Name         string `json:"name" binding:"required,min=2"`
	BackendURL   string `json:"backendUrl"`
	BackendToken string `json:"backendToken"`
}

func (h *InstanceHandler) create(c *gin.Context) {
	if c.GetString("authType") == "instance_token" {
		response.ErrorWithMessage(c, http.StatusForbidden, "token de instância não pode criar instâncias")
		return
	}
	var req createInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, err)
		return
	}

	out, err := h.service.Create(c.Request.Context(), instanceSvc.CreateInput{
		Name:         req.Name,
		OwnerUserID:  c.GetString("userID"),
		BackendURL:   req.BackendURL,
		BackendToken: req.BackendToken,
	})
	if err != nil {
		response.Error(c, http.StatusBadRequest, err)
		return
	}

	// O token em claro só aparece nesta resposta.
	response.Success(c, http.StatusCreated, gin.H{
		"instance": out.Instance,
		"token":    out.PlainToken,
	})
}

func (h *InstanceHandler) list(c *gin.Context) {
	if c.GetString("authType") == "instance_token" {
		response.ErrorWithMessage(c, http.StatusForbidden, "token de instância não pode listar instâncias")
		return
	}

	instances, err := h.service.ListByUser(c.Request.Context(), c.GetString("userID"), c.GetString("userRole"))
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err)
		return
	}
	response.Success(c, http.StatusOK, instances)
}

func (h *InstanceHandler) get(c *gin.Context) {
	id := c.Param("id")
	if c.GetString("authType") == "instance_token" {
		if c.GetString("instanceID") != id {
			response.ErrorWithMessage(c, http.StatusForbidden, "token inválido para esta instância")
			return
		}
		inst, err := h.service.Get(c.Request.Context(), id)
		if err != nil {
			response.Error(c, http.StatusNotFound, err)
			return
		}
		response.Success(c, http.StatusOK, inst)
		return
	}

	inst, err := h.service.GetByUser(c.Request.Context(), id, c.GetString("userID"), c.GetString("userRole"))
	if err != nil {
		response.Error(c, http.StatusNotFound, err)
		return
	}
	response.Success(c, http.StatusOK, inst)
}

// Campos omitidos ficam como estão; string vazia explícita limpa o campo.
type updateInstanceRequest struct {
	Name          string  `json:"name"`
	BackendURL    *string `json:"backendUrl"`
	BackendToken  *string `json:"backendToken"`
	AutoReply     *bool   `json:"autoReply"`
	AutoReplyText *string `json:"autoReplyText"`
}

func (h *InstanceHandler) update(c *gin.Context) {
	id := c.Param("id")
	if c.GetString("authType") == "instance_token" {
		response.ErrorWithMessage(c, http.StatusForbidden, "endpoint disponível apenas com token de usuário")
		return
	}

	var req updateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, err)
		return
	}

	inst, err := h.service.Update(c.Request.Context(), id, c.GetString("userID"), c.GetString("userRole"), instanceSvc.UpdateInput{
		Name:          req.Name,
		BackendURL:    req.BackendURL,
		BackendToken:  req.BackendToken,
		AutoReply:     req.AutoReply,
		AutoReplyText: req.AutoReplyText,
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			response.Error(c, http.StatusNotFound, err)
			return
		}
		response.Error(c, http.StatusBadRequest, err)
		return
	}
	response.Success(c, http.StatusOK, inst)
}

func (h *InstanceHandler) delete(c *gin.Context) {
	id := c.Param("id")
	if c.GetString("authType") == "instance_token" {
		response.ErrorWithMessage(c, http.StatusForbidden, "endpoint disponível apenas com token de usuário")
		return
	}

	if err := h.service.Delete(c.Request.Context(), id, c.GetString("userID"), c.GetString("userRole")); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			response.Error(c, http.StatusNotFound, err)
			return
		}
		response.Error(c, http.StatusInternalServerError, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "instância removida"})
}

func (h *InstanceHandler) rotateToken(c *gin.Context) {
	id := c.Param("id")
	if c.GetString("authType") == "instance_token" {
		response.ErrorWithMessage(c, http.StatusForbidden, "endpoint disponível apenas com token de usuário")
		return
	}

	plain, err := h.service.RotateToken(c.Request.Context(), id, c.GetString("userID"), c.GetString("userRole"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			response.Error(c, http.StatusNotFound, err)
			return
		}
		response.Error(c, http.StatusInternalServerError, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"token": plain})
}

func (h *InstanceHandler) listEvents(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.authorize(c, id); err != nil {
		return
	}

	events, err := h.events.ListByInstance(c.Request.Context(), id)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err)
		return
	}
	response.Success(c, http.StatusOK, events)
}

// invoke encaminha a operação para o gateway da instância. O corpo da
// requisição, quando houver, segue como está: o gateway valida o payload.
// Envios adicionalmente registram o resultado no breaker e, quando a falha é
// retryável, entram na fila durável para a varredura entregar depois.
func (h *InstanceHandler) invoke(path, method string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		callerID, err := h.authorize(c, id)
		if err != nil {
			return
		}

		var raw map[string]any
		if method == http.MethodPost && c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&raw); err != nil {
				response.Error(c, http.StatusBadRequest, err)
				return
			}
		}

		sendClass := strings.HasPrefix(path, "/send")

		// Circuito aberto: o envio nem toca a rede, vai direto para a fila e
		// a varredura entrega quando a sondagem liberar.
		if sendClass && h.breakers != nil && !h.breakers.AllowRequest(c.Request.Context(), id, stability.SendCircuit) {
			h.queueSend(c, id, path, raw, "circuito aberto")
			return
		}

		var body any
		if raw != nil {
			body = raw
		}

		isAdmin := c.GetString("userRole") == "admin"
		res := h.proxy.Invoke(c.Request.Context(), callerID, isAdmin, id, path, method, body)

		if sendClass && h.breakers != nil {
			if res.OK {
				h.breakers.RecordSuccess(c.Request.Context(), id, stability.SendCircuit)
			} else {
				h.breakers.RecordFailure(c.Request.Context(), id, stability.SendCircuit)
			}
		}
		if sendClass && !res.OK && backoff.RetryableStatus(res.Status, nil) {
			h.queueSend(c, id, path, raw, res.Err)
			return
		}

		writeProxyResult(c, res)
	}
}

// queueSend enfileira o envio que não pôde ser entregue agora e responde 202:
// a mensagem foi aceita e a varredura de retry assume a entrega.
func (h *InstanceHandler) queueSend(c *gin.Context, instanceID, path string, body map[string]any, reason string) {
	if h.retrier == nil || body == nil {
		response.ErrorWithMessage(c, http.StatusBadGateway, "backend não está respondendo")
		return
	}

	to, _ := body["to"].(string)
	payload, _ := json.Marshal(body)

	item, err := h.retrier.Enqueue(c.Request.Context(), instanceID, to, kindForSendPath(path), string(payload), reason)
	if err != nil {
		response.ErrorWithMessage(c, http.StatusBadGateway, "backend não está respondendo e a mensagem não pôde ser enfileirada")
		return
	}

	response.Success(c, http.StatusAccepted, gin.H{
		"queued": true,
		"itemId": item.ID,
		"reason": reason,
	})
}

func kindForSendPath(path string) string {
	switch path {
	case "/send-buttons":
		return "buttons"
	case "/send-list":
		return "list"
	case "/send-media":
		return "media"
	default:
		return "text"
	}
}

// authorize resolve o chamador e garante acesso à instância. Em caso de erro
// a resposta já foi escrita.
func (h *InstanceHandler) authorize(c *gin.Context, instanceID string) (string, error) {
	if c.GetString("authType") == "instance_token" {
		if c.GetString("instanceID") != instanceID {
			response.ErrorWithMessage(c, http.StatusForbidden, "token inválido para esta instância")
			return "", errors.New("forbidden")
		}
		return instanceID, nil
	}

	userID := c.GetString("userID")
	if _, err := h.service.GetByUser(c.Request.Context(), instanceID, userID, c.GetString("userRole")); err != nil {
		response.Error(c, http.StatusNotFound, err)
		return "", err
	}
	return userID, nil
}

// writeProxyResult traduz o resultado do proxy para a resposta HTTP da
// plataforma. Status 0 vira 502: o backend está inalcançável, não a API.
func writeProxyResult(c *gin.Context, res proxy.Result) {
	status := res.Status
	if status == 0 {
		status = http.StatusBadGateway
	}
	if res.OK {
		response.Success(c, status, res.Data)
		return
	}
	if res.Err != "" {
		response.ErrorWithMessage(c, status, res.Err)
		return
	}
	response.ErrorWithMessage(c, status, "backend indisponível")
}
