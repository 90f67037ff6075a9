package webhook

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
)

type recordingService struct {
	updates []telego.Update
}

func (s *recordingService) HandleUpdate(_ context.Context, update telego.Update) {
	s.updates = append(s.updates, update)
}

func TestWebhookHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	tests := []struct {
		name           string
		secretHeader   string
		body           string
		expectedStatus int
		expectProcess  bool
	}{
		{
			name:           "корректное обновление",
			secretHeader:   "hook-secret",
			body:           `{"update_id":42,"message":{"message_id":1,"chat":{"id":100},"text":"/start"}}`,
			expectedStatus: http.StatusOK,
			expectProcess:  true,
		},
		{
			name:           "неверный секрет",
			secretHeader:   "wrong",
			body:           `{"update_id":42}`,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "секрет отсутствует",
			secretHeader:   "",
			body:           `{"update_id":42}`,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "некорректное тело всё равно 200",
			secretHeader:   "hook-secret",
			body:           "not a json",
			expectedStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &recordingService{}
			handler := New(logger, service, "hook-secret")

			req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", bytes.NewBufferString(tt.body))
			if tt.secretHeader != "" {
				req.Header.Set("X-Telegram-Bot-Api-Secret-Token", tt.secretHeader)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectProcess {
				assert.Len(t, service.updates, 1)
				assert.Equal(t, 42, service.updates[0].UpdateID)
			} else {
				assert.Empty(t, service.updates)
			}
		})
	}
}
