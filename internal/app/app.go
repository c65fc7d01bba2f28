package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/conectazap/conectazap/internal/config"
)

// App embrulha o servidor HTTP da plataforma com ciclo de vida explícito.
type App struct {
	server *http.Server
	log    *zap.Logger
}

func New(cfg config.Config, log *zap.Logger, handler http.Handler) *App {
	return &App{
		server: &http.Server{
			Addr:         ":" + cfg.App.Port,
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		log: log,
	}
}

func (a *App) Run(ctx context.Context) error {
	a.log.Info("servidor HTTP ouvindo", zap.String("addr", a.server.Addr))
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}
