// Package scheduler — процесс периодической сверки подписок.
package scheduler

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
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-provisioner/internal/services/scheduler"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	sweeper *scheduler.Sweeper
	metrics *http.Server
	logger  *slog.Logger
	core    *core.Core
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.ValidateStandaloneSweep(); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())

	c, err := core.New(ctx, cfg, logger, reg)
	if err != nil {
		return nil, err
	}

	app := &App{
		sweeper: scheduler.NewSweeper(c.Storage, c.Engine, c.Metrics, cfg.Sweep, logger),
		logger:  logger,
		core:    c,
	}
	if cfg.Sweep.MetricsAddress != "" {
		router := chi.NewRouter()
		router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		app.metrics = &http.Server{
			Addr:              cfg.Sweep.MetricsAddress,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return app, nil
}

// Run выполняет сверку до отмены ctx. Текущий проход дорабатывает
// начатые записи, новые не берутся.
func (a *App) Run(ctx context.Context) error {
	defer a.core.Close()

	if a.metrics != nil {
		go func() {
			a.logger.Info("metrics server starting on", slog.String("address", a.metrics.Addr))
			if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", sl.Err(err))
			}
		}()
	}

	a.logger.Info("scheduler started")
	a.sweeper.Run(ctx)
	a.logger.Info("scheduler stopped")

	if a.metrics != nil {
		timeoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return a.metrics.Shutdown(timeoutCtx)
	}
	return nil
}
