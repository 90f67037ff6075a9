// Package audit записывает события доступа в журнал и публикует их в брокер.
package audit

import (
	"context"
	"log/slog"

	"github.com/magabrotheeeer/telegram-paid-access/internal/lib/sl"
	"github.com/magabrotheeeer/telegram-paid-access/internal/models"
)

// Store — запись и чтение журнала в БД.
type Store interface {
	CreateAuditEntry(ctx context.Context, entry models.AuditEntry) error
	ListRecentAuditEntries(ctx context.Context, limit int) ([]*models.AuditEntry, error)
}

// Publisher — публикация события в обменник брокера.
type Publisher interface {
	Publish(exchange, routingKey string, message any) error
}

// Recorder пишет события в журнал аудита. Запись выполняется по принципу
// best effort: сбой журнала логируется, но не прерывает основную операцию.
type Recorder struct {
	log       *slog.Logger
	store     Store
	publisher Publisher
	exchange  string
}

// New создает Recorder. publisher может быть nil — тогда события
// пишутся только в БД.
func New(log *slog.Logger, store Store, publisher Publisher, exchange string) *Recorder {
	return &Recorder{
		log:       log,
		store:     store,
		publisher: publisher,
		exchange:  exchange,
	}
}

// Record сохраняет запись журнала и публикует её в брокер.
func (r *Recorder) Record(ctx context.Context, entry models.AuditEntry) {
	const op = "services.audit.Record"
	log := r.log.With(slog.String("op", op), slog.String("action", entry.Action))

	if err := r.store.CreateAuditEntry(ctx, entry); err != nil {
		log.Error("failed to save audit entry", sl.Err(err))
	}

	if r.publisher == nil {
		return
	}

	if err := r.publisher.Publish(r.exchange, entry.Action, entry); err != nil {
		log.Warn("failed to publish audit entry", sl.Err(err))
	}
}

// ListRecent возвращает последние записи журнала, новые первыми.
func (r *Recorder) ListRecent(ctx context.Context, limit int) ([]*models.AuditEntry, error) {
	return r.store.ListRecentAuditEntries(ctx, limit)
}
