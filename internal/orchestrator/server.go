package orchestrator

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/conectazap/conectazap/internal/pkg/ratelimiter"
)

// ServerOptions configura a superfície HTTP do gateway.
type ServerOptions struct {
	Token            string
	Limiter          ratelimiter.Limiter
	RateLimit        int
	RateLimitWindow  time.Duration
	HeartbeatCounter func() uint64
	Log              *zap.Logger
}

// Server expõe a instância por HTTP: saúde, status, QR e envios. Todas as
// rotas também respondem sob /api/instance/:id para compatibilidade com
// plataformas que roteiam pelo ID.
type Server struct {
	orch   *Orchestrator
	opts   ServerOptions
	engine *gin.Engine
}

func NewServer(orch *Orchestrator, opts ServerOptions) *Server {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 60
	}
	if opts.RateLimitWindow <= 0 {
		opts.RateLimitWindow = time.Minute
	}

	s := &Server{orch: orch, opts: opts}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
	}))
	engine.Use(s.ipRateLimit())

	s.register(engine.Group(""))

	scoped := engine.Group("/api/instance/:id")
	scoped.Use(s.checkInstanceID())
	s.register(scoped)

	s.engine = engine
	return s
}

func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) register(g *gin.RouterGroup) {
	g.GET("/health", s.health)
	g.GET("/status", s.auth(), s.status)
	g.GET("/qrcode", s.auth(), s.qrcode)
	g.POST("/qrcode", s.auth(), s.refreshQRCode)
	g.POST("/connect", s.auth(), s.connect)
	g.POST("/disconnect", s.auth(), s.disconnect)
	g.POST("/send", s.auth(), s.send(KindText))
	g.POST("/send-buttons", s.auth(), s.send(KindButtons))
	g.POST("/send-list", s.auth(), s.send(KindList))
	g.POST("/send-media", s.auth(), s.send(KindMedia))
}

func (s *Server) checkInstanceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Param("id") != s.orch.instanceID {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"success": false,
				"error":   "instância não encontrada neste gateway",
			})
			return
		}
		c.Next()
	}
}

func (s *Server) bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if t := c.GetHeader("X-Instance-Token"); t != "" {
		return t
	}
	return c.Query("token")
}

func (s *Server) authorized(c *gin.Context) bool {
	return s.opts.Token != "" && s.bearerToken(c) == s.opts.Token
}

func (s *Server) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.authorized(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "token inválido",
			})
			return
		}
		c.Next()
	}
}

func (s *Server) ipRateLimit() gin.HandlerFunc {
	if s.opts.Limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		key := fmt.Sprintf("ratelimit:gw:%s", c.ClientIP())
		res, err := s.opts.Limiter.Allow(c.Request.Context(), key, s.opts.RateLimit, s.opts.RateLimitWindow)
		if err != nil {
			if s.opts.Log != nil {
				s.opts.Log.Warn("rate limit: erro ao consultar limiter", zap.Error(err))
			}
			c.Next()
			return
		}
		if !res.Allowed {
			c.Header("Retry-After", fmt.Sprintf("%d", int(res.RetryAfter.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"code":    "RATE_LIMITED",
				"error":   "muitas requisições. tente novamente mais tarde",
			})
			return
		}
		c.Next()
	}
}

// health responde sempre 200 enquanto o processo vive. Sem token o corpo é
// mínimo; com o token da instância inclui o estado completo.
func (s *Server) health(c *gin.Context) {
	if !s.authorized(c) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	c.JSON(http.StatusOK, s.richStatus())
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.richStatus())
}

func (s *Server) richStatus() gin.H {
	sent, received := s.orch.Counters()
	var heartbeats uint64
	if s.opts.HeartbeatCounter != nil {
		heartbeats = s.opts.HeartbeatCounter()
	}
	return gin.H{
		"success":        true,
		"instanceId":     s.orch.instanceID,
		"status":         string(s.orch.State()),
		"phoneNumber":    s.orch.Phone(),
		"readyToSend":    s.orch.ReadyToSend(),
		"uptimeSeconds":  int64(s.orch.Uptime().Seconds()),
		"sent":           sent,
		"received":       received,
		"heartbeatCount": heartbeats,
	}
}

func (s *Server) qrcode(c *gin.Context) {
	if s.orch.State() == StateConnected {
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error":   "instância já conectada, não é possível gerar QR code",
		})
		return
	}

	code := s.orch.QR()
	if code == "" {
		if err := s.orch.Connect(c.Request.Context()); err != nil && !errors.Is(err, ErrBusy) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"success": false,
				"error":   err.Error(),
			})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"success": false,
			"error":   "QR code ainda não disponível, aguarde alguns segundos",
		})
		return
	}

	if c.Query("format") == "png" || strings.Contains(c.GetHeader("Accept"), "image/png") {
		png, err := qrcode.Encode(code, qrcode.Medium, 256)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   "erro ao renderizar QR code",
			})
			return
		}
		c.Data(http.StatusOK, "image/png", png)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"qrcode":  code,
	})
}

func (s *Server) refreshQRCode(c *gin.Context) {
	if err := s.orch.RefreshQR(c.Request.Context()); err != nil && !errors.Is(err, ErrBusy) {
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "novo ciclo de pareamento iniciado",
	})
}

func (s *Server) connect(c *gin.Context) {
	err := s.orch.Connect(c.Request.Context())
	switch {
	case err == nil, errors.Is(err, ErrBusy):
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"status":  string(s.orch.State()),
		})
	case errors.Is(err, ErrReplaced):
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error":   err.Error(),
		})
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   err.Error(),
		})
	}
}

func (s *Server) disconnect(c *gin.Context) {
	if err := s.orch.Disconnect(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"status":  string(s.orch.State()),
	})
}

func (s *Server) send(kind MessageKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "corpo da requisição inválido",
			})
			return
		}
		req.Kind = kind

		id, err := s.orch.Send(c.Request.Context(), req)
		if err != nil {
			status := http.StatusBadGateway
			switch {
			case errors.Is(err, ErrInvalidRecipient), errors.Is(err, ErrInvalidPayload):
				status = http.StatusBadRequest
			case errors.Is(err, ErrNotConnected):
				status = http.StatusConflict
			case errors.Is(err, ErrStabilizing):
				status = http.StatusServiceUnavailable
			}
			c.JSON(status, gin.H{
				"success": false,
				"error":   err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":   true,
			"messageId": id,
		})
	}
}
