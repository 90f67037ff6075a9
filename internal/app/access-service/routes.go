package accessservice

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/telegram-paid-access/internal/http/handlers/access/forceremove"
	"github.com/magabrotheeeer/telegram-paid-access/internal/http/handlers/access/grant"
	auditlist "github.com/magabrotheeeer/telegram-paid-access/internal/http/handlers/auditlog/list"
	channeladd "github.com/magabrotheeeer/telegram-paid-access/internal/http/handlers/channel/add"
	channellist "github.com/magabrotheeeer/telegram-paid-access/internal/http/handlers/channel/list"
	"github.com/magabrotheeeer/telegram-paid-access/internal/http/handlers/health"
	"github.com/magabrotheeeer/telegram-paid-access/internal/http/handlers/telegram/webhook"
	"github.com/magabrotheeeer/telegram-paid-access/internal/http/middlewarectx"
	"github.com/magabrotheeeer/telegram-paid-access/internal/lib/jwt"
	accesssvc "github.com/magabrotheeeer/telegram-paid-access/internal/services/access"
	auditsvc "github.com/magabrotheeeer/telegram-paid-access/internal/services/audit"
	channelsvc "github.com/magabrotheeeer/telegram-paid-access/internal/services/channel"
	correlatorsvc "github.com/magabrotheeeer/telegram-paid-access/internal/services/correlator"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, jwtMaker jwt.Maker,
	accessService *accesssvc.Service, channelService *channelsvc.Service,
	auditRecorder *auditsvc.Recorder, correlatorService *correlatorsvc.Service,
	readiness health.Checker, webhookSecret string) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		// Группа с JWT аутентификацией для операторов и администраторов
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(jwtMaker, logger))
			r.Use(middlewarectx.RateLimitMiddleware(logger))

			r.Group(func(r chi.Router) {
				r.Use(middlewarectx.RequireRoleMiddleware(logger, "operator", "admin"))
				r.Post("/access/grant", grant.New(logger, accessService).ServeHTTP)
				r.Get("/channels", channellist.New(logger, channelService).ServeHTTP)
				r.Get("/audit", auditlist.New(logger, auditRecorder).ServeHTTP)
			})

			r.Group(func(r chi.Router) {
				r.Use(middlewarectx.RequireRoleMiddleware(logger, "admin"))
				r.Post("/access/force-remove", forceremove.New(logger, accessService).ServeHTTP)
				r.Post("/channels", channeladd.New(logger, channelService).ServeHTTP)
			})
		})

		// Webhook endpoint (аутентификация секретом Bot API)
		r.Post("/telegram/webhook", webhook.New(logger, correlatorService, webhookSecret).ServeHTTP)

		r.Get("/health", health.New(logger, readiness).ServeHTTP)
	})

	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
