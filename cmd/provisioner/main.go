// Package main содержит точку входа для HTTP-сервиса выдачи ключей.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/magabrotheeeer/vpn-provisioner/internal/app/provisioner"
	"github.com/magabrotheeeer/vpn-provisioner/internal/config"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/logger"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
)

func main() {
	cfg := config.MustLoad()
	log := logger.Setup(cfg.Env)

	log.Info("starting provisioner", slog.String("env", cfg.Env))
	log.Debug("debug messages are enabled")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := provisioner.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize provisioner app", sl.Err(err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		log.Error("provisioner app stopped with error", sl.Err(err))
		os.Exit(1)
	}

	log.Info("provisioner app stopped gracefully")
}
