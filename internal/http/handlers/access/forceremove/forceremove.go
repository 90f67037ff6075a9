// Package forceremove реализует HTTP-обработчик принудительного отзыва доступа.
package forceremove

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
	"github.com/magabrotheeeer/telegram-paid-access/internal/storage/repository"
)

// Service описывает интерфейс бизнес-логики отзыва доступа.
type Service interface {
	ForceRemove(ctx context.Context, req models.DummyForceRemoveRequest) (*models.ForceRemoveResult, error)
}

// Handler управляет HTTP-запросами на принудительный отзыв доступа.
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
// @Summary Принудительно отозвать доступ
// @Description Удаляет пользователя из канала и закрывает его членство. В режиме dry-run только сообщает, что было бы сделано.
// @Tags Access
// @Accept  json
// @Produce  json
// @Param request body models.DummyForceRemoveRequest true "Данные отзыва доступа"
// @Success 200 {object} response.Response "Итог отзыва"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 404 {object} response.ErrorResponse "Пользователь не найден"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /access/force-remove [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.access.forceremove"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req models.DummyForceRemoveRequest
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

	result, err := h.service.ForceRemove(r.Context(), req)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			log.Error("user not found", slog.String("ext_user_id", req.ExternalUserID))
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("user not found"))
			return
		}
		log.Error("failed to force remove", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not remove access"))
		return
	}

	log.Info("force remove processed",
		slog.Bool("dry_run", result.DryRun), slog.Bool("removed", result.Removed))
	render.JSON(w, r, response.OKWithData(result))
}
