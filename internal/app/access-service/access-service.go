// Package accessservice собирает и запускает сервис платного доступа:
// HTTP API, вебхук Telegram и планировщик истечений.
package accessservice

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/telegram-paid-access/internal/cache"
	"github.com/magabrotheeeer/telegram-paid-access/internal/config"
	"github.com/magabrotheeeer/telegram-paid-access/internal/lib/jwt"
	"github.com/magabrotheeeer/telegram-paid-access/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/telegram-paid-access/internal/migrations"
	accesssvc "github.com/magabrotheeeer/telegram-paid-access/internal/services/access"
	auditsvc "github.com/magabrotheeeer/telegram-paid-access/internal/services/audit"
	channelsvc "github.com/magabrotheeeer/telegram-paid-access/internal/services/channel"
	correlatorsvc "github.com/magabrotheeeer/telegram-paid-access/internal/services/correlator"
	schedulersvc "github.com/magabrotheeeer/telegram-paid-access/internal/services/scheduler"
	"github.com/magabrotheeeer/telegram-paid-access/internal/storage/repository"
	"github.com/magabrotheeeer/telegram-paid-access/internal/telegram"
)

// App держит собранный сервис и его внешние подключения.
type App struct {
	server    *http.Server
	logger    *slog.Logger
	db        *repository.Storage
	amqpConn  *amqp.Connection
	scheduler *schedulersvc.Service
}

// New собирает приложение: хранилище, кэш, клиента Bot API, сервисы и
// маршруты HTTP.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err = migrations.Run(db.DB, "./migrations"); err != nil {
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		return nil, err
	}

	tgClient, err := telegram.New(ctx, cfg.Telegram.BotToken, cfg.Telegram.RequestTimeout)
	if err != nil {
		return nil, err
	}

	var amqpConn *amqp.Connection
	var publisher auditsvc.Publisher
	if cfg.RabbitMQ.URL != "" {
		amqpConn, err = rabbitmq.Connect(cfg.RabbitMQ.URL, 5, 2*time.Second)
		if err != nil {
			return nil, err
		}
		ch, chErr := rabbitmq.SetupChannel(amqpConn, cfg.RabbitMQ.AuditExchange, rabbitmq.GetAuditQueues())
		if chErr != nil {
			return nil, chErr
		}
		publisher = rabbitmq.NewPublisher(ch)
	}

	auditRecorder := auditsvc.New(logger, db, publisher, cfg.RabbitMQ.AuditExchange)
	accessSvc := accesssvc.New(logger, db, tgClient, auditRecorder,
		cfg.Telegram.InviteTTL, cfg.Telegram.InviteMemberLimit)
	channelSvc := channelsvc.New(logger, db, tgClient, cacheRedis, auditRecorder)
	correlatorSvc := correlatorsvc.New(logger, db, tgClient, accessSvc, auditRecorder, cacheRedis)
	schedulerSvc := schedulersvc.New(logger, db, tgClient, auditRecorder, cfg.Telegram.SchedulerInterval)

	jwtMaker := jwt.NewJWTMaker(cfg.JWTToken.JWTSecretKey, cfg.JWTToken.TokenTTL)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, jwtMaker, accessSvc, channelSvc,
		auditRecorder, correlatorSvc, db, cfg.Telegram.WebhookSecret)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server:    srv,
		logger:    logger,
		db:        db,
		amqpConn:  amqpConn,
		scheduler: schedulerSvc,
	}, nil
}

// Run запускает HTTP-сервер и планировщик истечений и блокируется до
// отмены контекста или фатальной ошибки сервера.
func (a *App) Run(ctx context.Context) error {
	go a.scheduler.Run(ctx)

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
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		_ = a.db.DB.Close()
		if a.amqpConn != nil {
			_ = a.amqpConn.Close()
		}
		return err
	}
}
