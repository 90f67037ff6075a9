// Package scheduler закрывает истёкшие членства и удаляет их владельцев
// из каналов.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/telegram-paid-access/internal/lib/sl"
	"github.com/magabrotheeeer/telegram-paid-access/internal/metrics"
	"github.com/magabrotheeeer/telegram-paid-access/internal/models"
	"github.com/magabrotheeeer/telegram-paid-access/internal/telegram"
)

// При первом запуске отметка прошлого прохода неизвестна — считаем,
// что он был час назад.
const bootstrapLookback = time.Hour

// Store — операции хранилища, нужные планировщику.
type Store interface {
	FindLapsedMemberships(ctx context.Context, cutoff time.Time) ([]*models.Membership, error)
	MarkMembershipExpired(ctx context.Context, membershipID int64) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	FindLatestUsedInvite(ctx context.Context, userID, chatID int64) (*models.Invite, error)
	GetSchedulerWatermark(ctx context.Context) (*time.Time, error)
	UpsertSchedulerWatermark(ctx context.Context, lastRun time.Time) error
}

// Auditor — запись события в журнал аудита.
type Auditor interface {
	Record(ctx context.Context, entry models.AuditEntry)
}

// Service периодически сверяет книгу членств с каналами. Каждый проход
// заново сканирует все просроченные активные членства, поэтому сбой или
// перезапуск посреди прохода ничего не теряет: недообработанные записи
// попадут в следующий проход.
type Service struct {
	log      *slog.Logger
	store    Store
	tg       telegram.API
	audit    Auditor
	interval time.Duration
}

// New создает планировщик истечений.
func New(log *slog.Logger, store Store, tg telegram.API, auditor Auditor, interval time.Duration) *Service {
	return &Service{log: log, store: store, tg: tg, audit: auditor, interval: interval}
}

// Run выполняет проходы с заданным интервалом до отмены контекста.
func (s *Service) Run(ctx context.Context) {
	const op = "services.scheduler.Run"
	log := s.log.With(slog.String("op", op))
	log.Info("expiry scheduler started", slog.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.RunPass(ctx); err != nil {
			log.Error("scheduler pass failed", sl.Err(err))
		}
		select {
		case <-ctx.Done():
			log.Info("expiry scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunPass выполняет один проход: закрывает все активные членства с
// истёкшим сроком. Членство помечается истёкшим после успешного
// удаления владельца из канала; если его аккаунт неизвестен, членство
// закрывается без удаления. Неудачный бан оставляет запись активной
// до следующего прохода.
func (s *Service) RunPass(ctx context.Context) error {
	const op = "services.scheduler.RunPass"

	passID := uuid.New().String()
	now := time.Now()
	log := s.log.With(slog.String("op", op), slog.String("pass_id", passID))

	watermark, err := s.store.GetSchedulerWatermark(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if watermark == nil {
		bootstrap := now.Add(-bootstrapLookback)
		watermark = &bootstrap
	}
	log.Info("scheduler pass started", slog.Time("previous_run", *watermark))

	lapsed, err := s.store.FindLapsedMemberships(ctx, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var expired, failed int
	for _, membership := range lapsed {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		default:
		}
		if s.processLapsed(ctx, log, membership) {
			expired++
		} else {
			failed++
		}
	}

	if err = s.store.UpsertSchedulerWatermark(ctx, now); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	metrics.SchedulerPasses.Inc()
	s.audit.Record(ctx, models.AuditEntry{
		Action: models.ActionSchedulerRun,
		Meta: map[string]any{
			"pass_id": passID,
			"lapsed":  len(lapsed),
			"expired": expired,
			"failed":  failed,
		},
	})
	log.Info("scheduler pass finished",
		slog.Int("lapsed", len(lapsed)), slog.Int("expired", expired), slog.Int("failed", failed))
	return nil
}

// processLapsed закрывает одно просроченное членство. Возвращает true,
// когда запись помечена истёкшей.
func (s *Service) processLapsed(ctx context.Context, log *slog.Logger, membership *models.Membership) bool {
	log = log.With(slog.Int64("membership_id", membership.ID),
		slog.Int64("user_id", membership.UserID), slog.Int64("chat_id", membership.ChatID))

	telegramID, err := s.resolveTelegramID(ctx, membership)
	if err != nil {
		log.Error("failed to resolve telegram account", sl.Err(err))
		return false
	}

	banned := false
	if telegramID != nil {
		if banErr := s.tg.BanMember(ctx, membership.ChatID, *telegramID); banErr != nil {
			metrics.SchedulerBanFailures.Inc()
			log.Error("failed to ban expired member",
				slog.String("kind", string(telegram.KindOf(banErr))),
				slog.Bool("retryable", telegram.IsRetryable(banErr)),
				sl.Err(banErr))
			s.audit.Record(ctx, models.AuditEntry{
				Action:         models.ActionBanFailed,
				UserID:         &membership.UserID,
				TelegramUserID: telegramID,
				ChatID:         &membership.ChatID,
				Meta: map[string]any{
					"error":     banErr.Error(),
					"kind":      string(telegram.KindOf(banErr)),
					"retryable": telegram.IsRetryable(banErr),
				},
			})
			return false
		}
		banned = true
	}

	if err = s.store.MarkMembershipExpired(ctx, membership.ID); err != nil {
		log.Error("failed to mark membership expired", sl.Err(err))
		return false
	}

	metrics.SchedulerExpired.Inc()
	s.audit.Record(ctx, models.AuditEntry{
		Action:         models.ActionMembershipExpired,
		UserID:         &membership.UserID,
		TelegramUserID: telegramID,
		ChatID:         &membership.ChatID,
		Meta: map[string]any{
			"banned":     banned,
			"period_end": membership.CurrentPeriodEnd,
		},
	})
	log.Info("membership expired", slog.Bool("banned", banned))
	return true
}

// resolveTelegramID определяет аккаунт владельца членства: привязанный
// напрямую или зафиксированный последней использованной ссылкой канала.
func (s *Service) resolveTelegramID(ctx context.Context, membership *models.Membership) (*int64, error) {
	user, err := s.store.GetUserByID(ctx, membership.UserID)
	if err != nil {
		return nil, err
	}
	if user.TelegramUserID != nil {
		return user.TelegramUserID, nil
	}
	inv, err := s.store.FindLatestUsedInvite(ctx, membership.UserID, membership.ChatID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, nil
	}
	return inv.UsedByTelegramID, nil
}
