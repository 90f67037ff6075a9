package telegram

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/mymmrac/telego/telegoapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name          string
		err           error
		wantKind      Kind
		wantRetryable bool
	}{
		{
			name:          "превышен лимит запросов",
			err:           &telegoapi.Error{ErrorCode: 429, Description: "Too Many Requests: retry after 5"},
			wantKind:      KindRateLimited,
			wantRetryable: true,
		},
		{
			name:          "боту не хватает прав",
			err:           &telegoapi.Error{ErrorCode: 403, Description: "Forbidden: bot is not a member of the channel chat"},
			wantKind:      KindForbidden,
			wantRetryable: false,
		},
		{
			name:          "чат не найден",
			err:           &telegoapi.Error{ErrorCode: 400, Description: "Bad Request: chat not found"},
			wantKind:      KindNotFound,
			wantRetryable: false,
		},
		{
			name:          "пользователь не найден",
			err:           &telegoapi.Error{ErrorCode: 400, Description: "Bad Request: user not found"},
			wantKind:      KindNotFound,
			wantRetryable: false,
		},
		{
			name:          "прочий отказ API",
			err:           &telegoapi.Error{ErrorCode: 400, Description: "Bad Request: USER_ID_INVALID"},
			wantKind:      KindRejected,
			wantRetryable: false,
		},
		{
			name:          "таймаут вызова",
			err:           context.DeadlineExceeded,
			wantKind:      KindNetwork,
			wantRetryable: true,
		},
		{
			name:          "транспортный сбой",
			err:           errors.New("dial tcp: connection refused"),
			wantKind:      KindNetwork,
			wantRetryable: true,
		},
		{
			name:          "обёрнутая ошибка API",
			err:           fmt.Errorf("call failed: %w", &telegoapi.Error{ErrorCode: 403, Description: "Forbidden"}),
			wantKind:      KindForbidden,
			wantRetryable: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			classified := Classify(tc.err)
			require.Error(t, classified)

			assert.Equal(t, tc.wantKind, KindOf(classified))
			assert.Equal(t, tc.wantRetryable, IsRetryable(classified))
			assert.ErrorIs(t, classified, tc.err, "original error must stay in the chain")
		})
	}
}

func TestClassify_Nil(t *testing.T) {
	assert.NoError(t, Classify(nil))
}

func TestClassify_AlreadyClassified(t *testing.T) {
	original := Classify(&telegoapi.Error{ErrorCode: 429, Description: "Too Many Requests"})
	again := Classify(fmt.Errorf("retry: %w", original))

	assert.Equal(t, KindRateLimited, KindOf(again))
}
