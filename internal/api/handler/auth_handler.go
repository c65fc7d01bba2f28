package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/conectazap/conectazap/internal/pkg/response"
	authSvc "github.com/conectazap/conectazap/internal/service/auth"
)

type AuthHandler struct {
	service *authSvc.Service
	log     *zap.Logger
}

func NewAuthHandler(service *authSvc.Service, log *zap.Logger) *AuthHandler {
	return &AuthHandler{service: service, log: log}
}

func (h *AuthHandler) Register(r *gin.RouterGroup) {
	r.POST("/auth/login", h.login)
}

// RegisterAdmin registra as rotas que exigem administrador.
func (h *AuthHandler) RegisterAdmin(r *gin.RouterGroup) {
	r.POST("/auth/register", h.register)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, err)
		return
	}

	out, err := h.service.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, authSvc.ErrInvalidCredentials) {
			response.ErrorWithMessage(c, http.StatusUnauthorized, "credenciais inválidas")
			return
		}
		h.log.Error("login falhou", zap.String("email", req.Email), zap.Error(err))
		response.ErrorWithMessage(c, http.StatusInternalServerError, "erro interno")
		return
	}

	response.Success(c, http.StatusOK, out)
}

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role"`
}

func (h *AuthHandler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, err)
		return
	}

	user, err := h.service.Register(c.Request.Context(), authSvc.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		response.Error(c, http.StatusBadRequest, err)
		return
	}

	response.Success(c, http.StatusCreated, user)
}
