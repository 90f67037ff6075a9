package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeChecker struct {
	err error
}

func (f *fakeChecker) CheckDatabaseReady(context.Context) error { return f.err }

func TestHealthHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	tests := []struct {
		name           string
		checkErr       error
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "хранилище готово",
			checkErr:       nil,
			expectedStatus: http.StatusOK,
			expectedBody:   `"status":"ok"`,
		},
		{
			name:           "хранилище недоступно",
			checkErr:       errors.New("connection refused"),
			expectedStatus: http.StatusServiceUnavailable,
			expectedBody:   `"error":"database is not ready"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := New(logger, &fakeChecker{err: tt.checkErr})

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.expectedBody)
		})
	}
}
