// Package grant реализует HTTP-обработчик выдачи доступа после оплаты.
//
// Handler принимает JSON-запрос с внешним идентификатором покупателя,
// списком каналов и длительностью периода, вызывает бизнес-логику выдачи
// и возвращает персональные инвайт-ссылки по каждому каналу.
package grant

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/telegram-paid-access/internal/http/response"
	"github.com/magabrotheeeer/telegram-paid-access/internal/lib/sl"
	"github.com/magabrotheeeer/telegram-paid-access/internal/models"
	"github.com/magabrotheeeer/telegram-paid-access/internal/services/access"
)

// Service описывает интерфейс бизнес-логики выдачи доступа.
type Service interface {
	Grant(ctx context.Context, req models.DummyGrantRequest) (*access.GrantResult, error)
}

// Handler управляет HTTP-запросами на выдачу доступа.
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
// @Summary Выдать доступ к каналам
// @Description Фиксирует оплаченный доступ и выпускает персональные инвайт-ссылки. Сбой по отдельному каналу попадает в ответ меткой ошибки.
// @Tags Access
// @Accept  json
// @Produce  json
// @Param request body models.DummyGrantRequest true "Данные выдачи доступа"
// @Success 200 {object} response.Response "Результат по каждому каналу"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /access/grant [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.access.grant"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req models.DummyGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	log.Info("request body decoded", slog.String("ext_user_id", req.ExternalUserID))

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	result, err := h.service.Grant(r.Context(), req)
	if err != nil {
		log.Error("failed to grant access", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not grant access"))
		return
	}

	log.Info("access granted", slog.Int64("user_id", result.User.ID))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"ext_user_id": result.User.ExternalID,
		"period_end":  result.PeriodEnd,
		"chats":       result.Chats,
	}))
}
