package provisioner

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/magabrotheeeer/vpn-provisioner/internal/config"
	"github.com/magabrotheeeer/vpn-provisioner/internal/http/handlers/auth/login"
	"github.com/magabrotheeeer/vpn-provisioner/internal/http/handlers/auth/register"
	"github.com/magabrotheeeer/vpn-provisioner/internal/http/handlers/health"
	"github.com/magabrotheeeer/vpn-provisioner/internal/http/handlers/subscription/current"
	"github.com/magabrotheeeer/vpn-provisioner/internal/http/handlers/subscription/upgrade"
	"github.com/magabrotheeeer/vpn-provisioner/internal/http/middlewarectx"
	"github.com/magabrotheeeer/vpn-provisioner/internal/services/auth"
	"github.com/magabrotheeeer/vpn-provisioner/internal/services/lifecycle"
)

// Deps — сервисы, которые обслуживают маршруты.
type Deps struct {
	Auth     *auth.Service
	Engine   *lifecycle.Engine
	DB       health.Pinger
	Recorder middlewarectx.HTTPRecorder
	Metrics  http.Handler
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg config.HTTPServer, d Deps) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
		middlewarectx.MetricsMiddleware(d.Recorder),
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middlewarectx.RateLimitMiddleware(logger, cfg.RateLimit, cfg.RateBurst))

		// Открытые конечные точки
		r.Post("/register", register.New(logger, d.Auth).ServeHTTP)
		r.Post("/login", login.New(logger, d.Auth).ServeHTTP)

		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(d.Auth, logger))
			r.Get("/subscription", current.New(logger, d.Engine).ServeHTTP)
			r.Post("/subscription/upgrade", upgrade.New(logger, d.Engine).ServeHTTP)
		})
	})

	r.Get("/health", health.New(logger, d.DB).ServeHTTP)
	r.Handle("/metrics", d.Metrics)
}
