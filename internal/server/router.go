package server

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/conectazap/conectazap/internal/api/handler"
	"github.com/conectazap/conectazap/internal/api/middleware"
	"github.com/conectazap/conectazap/internal/storage"
)

type Options struct {
	Env              string
	AuthSecret       string
	InstanceRepo     storage.InstanceRepository
	UserRepo         storage.UserRepository
	HealthHandler    *handler.HealthHandler
	AuthHandler      *handler.AuthHandler
	InstanceHandler  *handler.InstanceHandler
	HeartbeatHandler *handler.HeartbeatHandler
	StabilityHandler *handler.StabilityHandler
	ConfigHandler    *handler.ConfigHandler
	RateLimit        middleware.RateLimitOption
	IPRateLimit      middleware.IPRateLimitOption
}

func NewRouter(opts Options) *gin.Engine {
	if opts.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization", "X-Instance-Token", middleware.HeaderRequestID},
		MaxAge:       12 * time.Hour,
	}))

	api := router.Group("/api")
	if opts.IPRateLimit.Enabled {
		api.Use(middleware.IPRateLimit(opts.IPRateLimit))
	}

	opts.HealthHandler.Register(api)
	opts.AuthHandler.Register(api)

	protected := api.Group("")
	if opts.RateLimit.Enabled {
		protected.Use(middleware.RateLimit(opts.RateLimit))
	}
	protected.Use(middleware.AuthWithOptions(middleware.AuthOption{
		JWTSecret:    opts.AuthSecret,
		InstanceRepo: opts.InstanceRepo,
	}))

	opts.InstanceHandler.Register(protected)
	opts.HeartbeatHandler.Register(protected)
	opts.StabilityHandler.Register(protected)

	// Rotas administrativas: configuração global de backend e cadastro de
	// operadores.
	admin := protected.Group("")
	admin.Use(middleware.RequireAdmin(opts.UserRepo))
	opts.ConfigHandler.Register(admin)
	opts.AuthHandler.RegisterAdmin(admin)

	return router
}
