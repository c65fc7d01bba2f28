package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/conectazap/conectazap/internal/config"
	"github.com/conectazap/conectazap/internal/logger"
	"github.com/conectazap/conectazap/internal/orchestrator"
	"github.com/conectazap/conectazap/internal/pkg/backoff"
	limiter_memory "github.com/conectazap/conectazap/internal/pkg/ratelimiter/memory"
)

func main() {
	cfg := config.LoadGateway()

	logr, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logr.Sync()

	logr.Info("iniciando gateway",
		zap.String("instance_id", cfg.InstanceID),
		zap.String("port", cfg.Port),
		zap.String("db_driver", cfg.StorageDriver),
	)

	snapshots := orchestrator.NewFileStore(cfg.DataDir, cfg.InstanceID, cfg.SessionKeyEnc)

	orch := orchestrator.New(orchestrator.Options{
		InstanceID:    cfg.InstanceID,
		DataDir:       cfg.DataDir,
		StorageDriver: cfg.StorageDriver,
		PGConnString:  cfg.PGConnString,
		Stabilization: cfg.Stabilization(),
		Policy:        backoff.Default(),
		Snapshots:     snapshots,
		Log:           logr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch.Start(ctx)

	pusher := orchestrator.NewHeartbeatPusher(orch, cfg.PlatformURL, cfg.InstanceToken, cfg.HeartbeatInterval(), logr)
	go pusher.Run(ctx)

	srv := orchestrator.NewServer(orch, orchestrator.ServerOptions{
		Token:            cfg.InstanceToken,
		Limiter:          limiter_memory.NewLimiter(),
		RateLimit:        cfg.RateLimitRequests,
		RateLimitWindow:  cfg.RateLimitWindow(),
		HeartbeatCounter: pusher.Count,
		Log:              logr,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Engine(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("gateway HTTP ouvindo", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logr.Info("sinal de encerramento recebido")
	case err := <-errCh:
		logr.Error("servidor finalizado com erro", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logr.Warn("erro ao encerrar HTTP", zap.Error(err))
	}

	// Desconecta sem logout: a sessão continua válida para o próximo boot.
	orch.Shutdown(shutdownCtx)
	logr.Info("gateway encerrado")
}
