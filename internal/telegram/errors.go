// Package telegram содержит клиента Bot API и классификацию его ошибок.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mymmrac/telego/telegoapi"
)

// Kind — класс ошибки Bot API, определяющий реакцию вызывающего кода.
type Kind string

const (
	// KindNetwork — транспортный сбой или таймаут, вызов можно повторить.
	KindNetwork Kind = "network"
	// KindRateLimited — превышен лимит запросов (429), вызов можно повторить позже.
	KindRateLimited Kind = "rate_limited"
	// KindForbidden — боту не хватает прав (403), повтор бесполезен.
	KindForbidden Kind = "forbidden"
	// KindNotFound — чат или пользователь не найден, повтор бесполезен.
	KindNotFound Kind = "not_found"
	// KindRejected — API отклонил запрос по иной причине.
	KindRejected Kind = "rejected"
)

// Error — классифицированная ошибка вызова Bot API.
type Error struct {
	Kind        Kind
	Code        int
	Description string
	err         error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("telegram: %s (%d): %s", e.Kind, e.Code, e.Description)
	}
	return fmt.Sprintf("telegram: %s: %s", e.Kind, e.Description)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Classify оборачивает ошибку Bot API в *Error с определённым классом.
// nil остаётся nil, уже классифицированная ошибка возвращается как есть.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return err
	}

	var apiErr *telegoapi.Error
	if errors.As(err, &apiErr) {
		kind := KindRejected
		switch {
		case apiErr.ErrorCode == 429:
			kind = KindRateLimited
		case apiErr.ErrorCode == 403:
			kind = KindForbidden
		case apiErr.ErrorCode == 404,
			apiErr.ErrorCode == 400 && strings.Contains(strings.ToLower(apiErr.Description), "not found"):
			kind = KindNotFound
		}
		return &Error{Kind: kind, Code: apiErr.ErrorCode, Description: apiErr.Description, err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Kind: KindNetwork, Description: err.Error(), err: err}
	}

	return &Error{Kind: KindNetwork, Description: err.Error(), err: err}
}

// KindOf возвращает класс ошибки или KindNetwork для неклассифицированных.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindNetwork
}

// IsRetryable сообщает, имеет ли смысл повторить вызов на следующем проходе.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindRateLimited:
		return true
	default:
		return false
	}
}
