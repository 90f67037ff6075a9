// Package add реализует HTTP-обработчик регистрации канала.
package add

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/telegram-paid-access/internal/http/response"
	"github.com/magabrotheeeer/telegram-paid-access/internal/lib/sl"
	"github.com/magabrotheeeer/telegram-paid-access/internal/models"
	"github.com/magabrotheeeer/telegram-paid-access/internal/services/channel"
)

// Service описывает интерфейс бизнес-логики реестра каналов.
type Service interface {
	Add(ctx context.Context, req models.DummyChannelRequest) (*models.Channel, error)
}

// Handler управляет HTTP-запросами на регистрацию каналов.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Зарегистрировать канал
// @Description Подключает канал к сервису. Проверяет, что бот — администратор канала; идентификатор без префикса -100 нормализуется автоматически.
// @Tags Channels
// @Accept  json
// @Produce  json
// @Param request body models.DummyChannelRequest true "Данные канала"
// @Success 200 {object} response.Response "Зарегистрированный канал"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON или идентификатор"
// @Failure 404 {object} response.ErrorResponse "Чат не найден"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации или бот не администратор"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /channels [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.channel.add"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req models.DummyChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	registered, err := h.service.Add(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, channel.ErrBotNotAdmin):
			log.Error("bot is not an administrator", slog.String("chat_id", req.ChatID))
			w.WriteHeader(http.StatusUnprocessableEntity)
			render.JSON(w, r, response.Error("bot is not an administrator of the channel"))
		case errors.Is(err, channel.ErrChatNotFound):
			log.Error("chat not found", slog.String("chat_id", req.ChatID))
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("chat not found"))
		default:
			log.Error("failed to add channel", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not add channel"))
		}
		return
	}

	log.Info("channel registered", slog.Int64("chat_id", registered.ChatID))
	render.JSON(w, r, response.OKWithData(registered))
}
