// Package webhook реализует HTTP-обработчик вебхука Telegram Bot API.
//
// Обновления аутентифицируются секретом в заголовке
// X-Telegram-Bot-Api-Secret-Token. После успешной аутентификации ответ
// всегда 200 OK, иначе Telegram бесконечно повторяет доставку.
package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mymmrac/telego"

	"github.com/magabrotheeeer/telegram-paid-access/internal/lib/sl"
)

// Service описывает интерфейс обработки обновлений Bot API.
type Service interface {
	HandleUpdate(ctx context.Context, update telego.Update)
}

// Handler управляет HTTP-запросами вебхука.
type Handler struct {
	log           *slog.Logger
	service       Service
	webhookSecret string
}

// New создает новый Handler с переданными логгером, сервисом и секретом.
func New(log *slog.Logger, service Service, secret string) *Handler {
	return &Handler{
		log:           log,
		service:       service,
		webhookSecret: secret,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.telegram.webhook"
	log := h.log.With(slog.String("op", op))

	if h.webhookSecret != "" &&
		r.Header.Get("X-Telegram-Bot-Api-Secret-Token") != h.webhookSecret {
		log.Error("invalid or missing webhook secret")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var update telego.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		// Повтор доставки некорректного тела бессмыслен, поэтому всё равно 200
		log.Error("failed to decode update", sl.Err(err))
		w.WriteHeader(http.StatusOK)
		return
	}

	h.service.HandleUpdate(r.Context(), update)
	w.WriteHeader(http.StatusOK)
}
