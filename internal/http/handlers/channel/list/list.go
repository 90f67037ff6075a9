// Package list реализует HTTP-обработчик списка подключённых каналов.
package list

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/telegram-paid-access/internal/http/response"
	"github.com/magabrotheeeer/telegram-paid-access/internal/lib/sl"
	"github.com/magabrotheeeer/telegram-paid-access/internal/models"
)

// Service описывает интерфейс бизнес-логики реестра каналов.
type Service interface {
	List(ctx context.Context) ([]*models.Channel, error)
}

// Handler управляет HTTP-запросами на получение списка каналов.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Список каналов
// @Description Возвращает все подключённые каналы и их настройки.
// @Tags Channels
// @Produce  json
// @Success 200 {object} response.Response "Список каналов"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /channels [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.channel.list"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	channels, err := h.service.List(r.Context())
	if err != nil {
		log.Error("failed to list channels", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not list channels"))
		return
	}

	log.Info("channels listed", slog.Int("count", len(channels)))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"channels": channels,
	}))
}
