package middlewarectx_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/telegram-paid-access/internal/http/middlewarectx"
	"github.com/magabrotheeeer/telegram-paid-access/internal/lib/jwt"
)

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestJWTMiddleware(t *testing.T) {
	maker := jwt.NewJWTMaker("test-secret", time.Hour)
	logger := newNoopLogger()

	validToken, err := maker.GenerateToken("operator1", "operator")
	require.NoError(t, err)

	foreignToken, err := jwt.NewJWTMaker("other-secret", time.Hour).GenerateToken("operator1", "operator")
	require.NoError(t, err)

	expiredToken, err := jwt.NewJWTMaker("test-secret", -time.Hour).GenerateToken("operator1", "operator")
	require.NoError(t, err)

	tests := []struct {
		name           string
		authHeader     string
		wantStatusCode int
		wantNextCalled bool
	}{
		{
			name:           "валидный токен",
			authHeader:     "Bearer " + validToken,
			wantStatusCode: http.StatusOK,
			wantNextCalled: true,
		},
		{
			name:           "заголовок отсутствует",
			authHeader:     "",
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "заголовок без префикса Bearer",
			authHeader:     validToken,
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "токен подписан другим ключом",
			authHeader:     "Bearer " + foreignToken,
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "просроченный токен",
			authHeader:     "Bearer " + expiredToken,
			wantStatusCode: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nextCalled := false
			nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				nextCalled = true
				assert.Equal(t, "operator1", r.Context().Value(middlewarectx.User))
				assert.Equal(t, "operator", r.Context().Value(middlewarectx.Role))
				w.WriteHeader(http.StatusOK)
			})

			handler := middlewarectx.JWTMiddleware(maker, logger)(nextHandler)

			req := httptest.NewRequest(http.MethodGet, "/channels", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatusCode, rec.Code)
			assert.Equal(t, tt.wantNextCalled, nextCalled)
		})
	}
}

func TestRequireRoleMiddleware(t *testing.T) {
	maker := jwt.NewJWTMaker("test-secret", time.Hour)
	logger := newNoopLogger()

	adminToken, err := maker.GenerateToken("admin1", "admin")
	require.NoError(t, err)
	operatorToken, err := maker.GenerateToken("operator1", "operator")
	require.NoError(t, err)

	nextCalled := false
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusOK)
	})

	chain := middlewarectx.JWTMiddleware(maker, logger)(
		middlewarectx.RequireRoleMiddleware(logger, "admin")(nextHandler))

	t.Run("роль admin пропускается", func(t *testing.T) {
		nextCalled = false
		req := httptest.NewRequest(http.MethodPost, "/channels", nil)
		req.Header.Set("Authorization", "Bearer "+adminToken)
		rec := httptest.NewRecorder()

		chain.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, nextCalled)
	})

	t.Run("роль operator получает 403", func(t *testing.T) {
		nextCalled = false
		req := httptest.NewRequest(http.MethodPost, "/channels", nil)
		req.Header.Set("Authorization", "Bearer "+operatorToken)
		rec := httptest.NewRecorder()

		chain.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.False(t, nextCalled)
	})

	t.Run("без токена 401", func(t *testing.T) {
		nextCalled = false
		req := httptest.NewRequest(http.MethodPost, "/channels", nil)
		rec := httptest.NewRecorder()

		chain.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.False(t, nextCalled)
	})
}
