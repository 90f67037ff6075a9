// Package list реализует HTTP-обработчик чтения журнала аудита.
package list

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/telegram-paid-access/internal/http/response"
	"github.com/magabrotheeeer/telegram-paid-access/internal/lib/sl"
	"github.com/magabrotheeeer/telegram-paid-access/internal/models"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Service описывает интерфейс чтения журнала аудита.
type Service interface {
	ListRecent(ctx context.Context, limit int) ([]*models.AuditEntry, error)
}

// Handler управляет HTTP-запросами на чтение журнала аудита.
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
// @Summary Журнал аудита
// @Description Возвращает последние записи журнала, новые первыми.
// @Tags Audit
// @Produce  json
// @Param limit query int false "Максимум записей (по умолчанию 50, не более 500)"
// @Success 200 {object} response.Response "Записи журнала"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Security BearerAuth
// @Router /audit [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auditlog.list"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			log.Error("invalid limit parameter", slog.String("limit", raw))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error("invalid limit parameter"))
			return
		}
		limit = min(parsed, maxLimit)
	}

	entries, err := h.service.ListRecent(r.Context(), limit)
	if err != nil {
		log.Error("failed to list audit entries", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not list audit entries"))
		return
	}

	log.Info("audit entries listed", slog.Int("count", len(entries)))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"entries": entries,
	}))
}
