// Package provisioner — HTTP-процесс: регистрация, вход и операции с подпиской.
package provisioner

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/magabrotheeeer/vpn-provisioner/internal/app/core"
	"github.com/magabrotheeeer/vpn-provisioner/internal/config"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/jwt"
	"github.com/magabrotheeeer/vpn-provisioner/internal/services/auth"
	"github.com/magabrotheeeer/vpn-provisioner/internal/services/scheduler"
)

const shutdownTimeout = 15 * time.Second

type App struct {
	server  *http.Server
	sweeper *scheduler.Sweeper
	logger  *slog.Logger
	core    *core.Core
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	c, err := core.New(ctx, cfg, logger, reg, core.WithMigrations())
	if err != nil {
		return nil, err
	}

	authService := auth.NewService(
		c.Storage,
		c.Engine,
		jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL),
		logger,
	)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg.HTTPServer, Deps{
		Auth:     authService,
		Engine:   c.Engine,
		DB:       c.Storage,
		Recorder: c.Metrics,
		Metrics:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	app := &App{
		server: srv,
		logger: logger,
		core:   c,
	}
	// аренда в памяти защищает переходы только внутри этого процесса
	if cfg.SweepInProcess() {
		logger.Info("lease backend is memory, running the sweep in process")
		app.sweeper = scheduler.NewSweeper(c.Storage, c.Engine, c.Metrics, cfg.Sweep, logger)
	}
	return app, nil
}

// Run обслуживает HTTP до отмены ctx, затем дожидается текущих запросов
// и, если сверка работает в процессе, текущего прохода сверки.
func (a *App) Run(ctx context.Context) error {
	defer a.core.Close()

	if a.sweeper != nil {
		sweepCtx, stopSweep := context.WithCancel(ctx)
		sweepDone := make(chan struct{})
		go func() {
			defer close(sweepDone)
			a.sweeper.Run(sweepCtx)
		}()
		defer func() {
			stopSweep()
			<-sweepDone
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		return a.server.Shutdown(timeoutCtx)
	}
}
