package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/conectazap/conectazap/internal/pkg/response"
	"github.com/conectazap/conectazap/internal/storage"
	"github.com/conectazap/conectazap/internal/storage/model"
)

// ConfigHandler administra o backend global: o endpoint usado quando a
// instância não tem override próprio.
type ConfigHandler struct {
	repo storage.BackendConfigRepository
}

func NewConfigHandler(repo storage.BackendConfigRepository) *ConfigHandler {
	return &ConfigHandler{repo: repo}
}

func (h *ConfigHandler) Register(r *gin.RouterGroup) {
	r.GET("/config/backend", h.get)
	r.PUT("/config/backend", h.update)
}

func (h *ConfigHandler) get(c *gin.Context) {
	cfg, err := h.repo.Get(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"url":       cfg.URL,
		"hasToken":  cfg.Token != "",
		"updatedAt": cfg.UpdatedAt,
	})
}

type updateBackendConfigRequest struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

func (h *ConfigHandler) update(c *gin.Context) {
	var req updateBackendConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, err)
		return
	}

	url := strings.TrimSpace(req.URL)
	if url != "" && !strings.HasPrefix(url, "http") {
		response.ErrorWithMessage(c, http.StatusBadRequest, "url de backend inválida")
		return
	}

	cfg, err := h.repo.Update(c.Request.Context(), model.BackendConfig{
		URL:   url,
		Token: strings.TrimSpace(req.Token),
	})
	if err != nil {
		response.Error(c, http.StatusInternalServerError, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"url":       cfg.URL,
		"hasToken":  cfg.Token != "",
		"updatedAt": cfg.UpdatedAt,
	})
}
