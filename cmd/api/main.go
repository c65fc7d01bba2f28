package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/conectazap/conectazap/internal/api/handler"
	"github.com/conectazap/conectazap/internal/api/middleware"
	"github.com/conectazap/conectazap/internal/app"
	"github.com/conectazap/conectazap/internal/config"
	"github.com/conectazap/conectazap/internal/gateway"
	"github.com/conectazap/conectazap/internal/logger"
	"github.com/conectazap/conectazap/internal/pkg/backoff"
	"github.com/conectazap/conectazap/internal/proxy"
	"github.com/conectazap/conectazap/internal/server"
	"github.com/conectazap/conectazap/internal/service/auth"
	"github.com/conectazap/conectazap/internal/service/instance"
	"github.com/conectazap/conectazap/internal/stability"
	"github.com/conectazap/conectazap/internal/storage"
	storage_redis "github.com/conectazap/conectazap/internal/storage/redis"
)

func main() {
	cfg := config.Load()

	logr, err := logger.New(cfg.App.Env, cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logr.Sync()

	logr.Info("iniciando plataforma",
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("db_driver", cfg.Storage.Driver),
	)

	repos, err := storage.NewRepositories(cfg, logr)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	alertManager := stability.NewAlertManager(repos.Alert, logr)

	resolver := proxy.NewResolver(proxy.ResolverOptions{
		Global:        repos.BackendConfig,
		NativeURL:     cfg.Proxy.NativeURL,
		NativeToken:   cfg.Proxy.NativeToken,
		FallbackPorts: cfg.Proxy.FallbackPortList(),
		AllowLocal:    cfg.Proxy.AllowLocal,
		Logger:        logr,
	})

	gatewayClient := gateway.NewClient(gateway.DefaultTimeout)
	px := proxy.New(repos.Instance, repos.EventLog, resolver, gatewayClient, alertManager, logr)

	breakers := stability.NewRegistry(stability.RegistryOptions{
		Repo:      repos.Breaker,
		Threshold: cfg.Breaker.Threshold,
		Timeout:   cfg.Breaker.Timeout(),
		Alerts:    alertManager,
		Logger:    logr,
	})
	if err := breakers.Restore(context.Background()); err != nil {
		logr.Warn("não foi possível restaurar breakers", zap.Error(err))
	}

	monitor := stability.NewMonitor(repos.Heartbeat, repos.Instance, alertManager, cfg.Monitor.Interval(), logr)

	var sweepLock stability.SweepLock
	if repos.RedisClient != nil {
		sweepLock = storage_redis.NewLock(repos.RedisClient, "retrier:sweep", cfg.Retrier.SweepInterval())
	}
	retryPolicy := backoff.Default()
	if cfg.Retrier.MaxAttempts > 0 {
		retryPolicy.MaxAttempts = cfg.Retrier.MaxAttempts
	}
	retrier := stability.NewRetrier(stability.RetrierOptions{
		Queue:    repos.Queue,
		Breakers: breakers,
		Sender:   px,
		Alerts:   alertManager,
		Policy:   retryPolicy,
		Interval: cfg.Retrier.SweepInterval(),
		Lock:     sweepLock,
		Logger:   logr,
	})

	instanceService := instance.NewService(repos.Instance, repos.Queue, repos.EventLog, repos.Heartbeat, repos.Breaker)
	authService := auth.NewService(repos.User, cfg.JWT.Secret, cfg.JWT.ExpHours)

	router := server.NewRouter(server.Options{
		Env:              cfg.App.Env,
		AuthSecret:       cfg.JWT.Secret,
		InstanceRepo:     repos.Instance,
		UserRepo:         repos.User,
		HealthHandler:    handler.NewHealthHandler(),
		AuthHandler:      handler.NewAuthHandler(authService, logr),
		InstanceHandler:  handler.NewInstanceHandler(instanceService, px, repos.EventLog, breakers, retrier, logr),
		HeartbeatHandler: handler.NewHeartbeatHandler(monitor, logr),
		StabilityHandler: handler.NewStabilityHandler(alertManager, breakers, retrier, repos.Queue, instanceService, logr),
		ConfigHandler:    handler.NewConfigHandler(repos.BackendConfig),
		RateLimit: middleware.RateLimitOption{
			Enabled:  cfg.RateLimit.Enabled,
			Requests: cfg.RateLimit.Requests,
			Window:   time.Duration(cfg.RateLimit.WindowSeconds) * time.Second,
			Prefix:   cfg.RateLimit.Prefix,
			Limiter:  repos.RateLimiter,
			Logger:   logr,
		},
		IPRateLimit: middleware.IPRateLimitOption{
			Enabled:        cfg.IPRateLimit.Enabled,
			Requests:       cfg.IPRateLimit.Requests,
			WindowSeconds:  cfg.IPRateLimit.WindowSeconds,
			SkipPrivateIPs: cfg.IPRateLimit.SkipPrivateIPs,
			Limiter:        repos.RateLimiter,
			Logger:         logr,
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go monitor.Run(ctx)
	go retrier.Run(ctx)

	application := app.New(cfg, logr, router)

	errCh := make(chan error, 1)
	go func() {
		if err := application.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logr.Info("sinal de encerramento recebido")
	case err := <-errCh:
		logr.Error("servidor finalizado com erro", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if repos.RedisClient != nil {
		if err := repos.RedisClient.Close(); err != nil {
			logr.Warn("erro ao fechar conexão Redis", zap.Error(err))
		}
	}

	if err := application.Shutdown(shutdownCtx); err != nil {
		logr.Error("erro ao encerrar servidor", zap.Error(err))
	} else {
		logr.Info("servidor encerrado com sucesso")
	}
}
