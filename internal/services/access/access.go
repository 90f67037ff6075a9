// Package access реализует выдачу и принудительный отзыв доступа к каналам.
package access

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/telegram-paid-access/internal/lib/period"
	"github.com/magabrotheeeer/telegram-paid-access/internal/lib/sl"
	"github.com/magabrotheeeer/telegram-paid-access/internal/metrics"
	"github.com/magabrotheeeer/telegram-paid-access/internal/models"
	"github.com/magabrotheeeer/telegram-paid-access/internal/telegram"
)

// Инструкции, отправляемые пользователю вместе со ссылкой.
const (
	instructionInviteLink  = "Перейдите по ссылке, чтобы вступить в канал."
	instructionJoinRequest = "Перейдите по ссылке и отправьте заявку — бот одобрит её автоматически."
)

// Store — операции хранилища, нужные сервису доступа.
type Store interface {
	UpsertUser(ctx context.Context, externalID string) (*models.User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error)
	GetChannel(ctx context.Context, chatID int64) (*models.Channel, error)
	UpsertMembership(ctx context.Context, userID, chatID int64, status string, periodEnd time.Time) (*models.Membership, error)
	GetActiveMembership(ctx context.Context, userID, chatID int64) (*models.Membership, error)
	MarkMembershipExpired(ctx context.Context, membershipID int64) error
	CreateInvite(ctx context.Context, inv models.Invite) (int64, error)
	FindUnusedInvite(ctx context.Context, userID, chatID int64) (*models.Invite, error)
	FindLatestUsedInvite(ctx context.Context, userID, chatID int64) (*models.Invite, error)
	MarkInviteRevoked(ctx context.Context, link string, chatID int64) error
}

// Auditor — запись события в журнал аудита.
type Auditor interface {
	Record(ctx context.Context, entry models.AuditEntry)
}

// GrantResult — итог выдачи доступа по одному запросу.
type GrantResult struct {
	User      *models.User
	PeriodEnd time.Time
	Chats     []models.GrantChatResult
}

// Service выдает доступ после оплаты и принудительно отзывает его.
type Service struct {
	log               *slog.Logger
	store             Store
	tg                telegram.API
	audit             Auditor
	inviteTTL         time.Duration
	inviteMemberLimit int
}

// New создает сервис доступа. inviteTTL и inviteMemberLimit — значения по
// умолчанию, канал может переопределить их собственными настройками.
func New(log *slog.Logger, store Store, tg telegram.API, auditor Auditor,
	inviteTTL time.Duration, inviteMemberLimit int) *Service {
	return &Service{
		log:               log,
		store:             store,
		tg:                tg,
		audit:             auditor,
		inviteTTL:         inviteTTL,
		inviteMemberLimit: inviteMemberLimit,
	}
}

// Grant фиксирует оплаченный доступ: создает или продлевает членство в
// каждом запрошенном канале и выпускает персональные инвайт-ссылки.
// Сбой по одному каналу не прерывает обработку остальных — он попадает
// в результат этого канала отдельной меткой.
func (s *Service) Grant(ctx context.Context, req models.DummyGrantRequest) (*GrantResult, error) {
	const op = "services.access.Grant"
	log := s.log.With(slog.String("op", op), slog.String("ext_user_id", req.ExternalUserID))

	user, err := s.store.UpsertUser(ctx, req.ExternalUserID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now()
	periodEnd, err := period.End(now, req.PeriodDays)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	results := make([]models.GrantChatResult, 0, len(req.ChatIDs))
	for _, chatID := range req.ChatIDs {
		results = append(results, s.grantChat(ctx, log, user, chatID, periodEnd, now))
	}

	var reference *string
	if req.Reference != "" {
		reference = &req.Reference
	}
	s.audit.Record(ctx, models.AuditEntry{
		Action:    models.ActionAccessGranted,
		UserID:    &user.ID,
		Reference: reference,
		Meta: map[string]any{
			"chat_ids":    req.ChatIDs,
			"period_days": req.PeriodDays,
			"period_end":  periodEnd,
		},
	})

	return &GrantResult{User: user, PeriodEnd: periodEnd, Chats: results}, nil
}

func (s *Service) grantChat(ctx context.Context, log *slog.Logger, user *models.User,
	chatID int64, periodEnd, now time.Time) models.GrantChatResult {
	result := models.GrantChatResult{ChatID: chatID}

	channel, err := s.store.GetChannel(ctx, chatID)
	if err != nil {
		log.Warn("channel is not registered", slog.Int64("chat_id", chatID), sl.Err(err))
		result.ErrorTag = models.ErrTagChannelNotFound
		return result
	}

	if _, err = s.store.UpsertMembership(ctx, user.ID, chatID, models.MembershipStatusActive, periodEnd); err != nil {
		log.Error("failed to upsert membership", slog.Int64("chat_id", chatID), sl.Err(err))
		result.ErrorTag = models.ErrTagMembershipWriteFailed
		return result
	}

	// Пользователь мог быть забанен предыдущим истечением — снимаем бан,
	// иначе новая ссылка его не впустит.
	if user.TelegramUserID != nil {
		if err = s.tg.UnbanMember(ctx, chatID, *user.TelegramUserID); err != nil {
			log.Warn("failed to unban user before invite", slog.Int64("chat_id", chatID), sl.Err(err))
		}
	}

	link, instruction, errTag := s.issueInvite(ctx, log, user, channel, now)
	result.Link = link
	result.Instruction = instruction
	result.ErrorTag = errTag
	return result
}

// issueInvite выпускает свежую персональную ссылку. Предыдущая
// неиспользованная ссылка пары отзывается, чтобы не оставлять два
// действующих кандидата для привязки вступившего.
// IssueInvite выдаёт свежий инвайт для уже известного пользователя,
// например при повторном визите по диплинку. Прежний неиспользованный
// инвайт отзывается.
func (s *Service) IssueInvite(ctx context.Context, user *models.User, channel *models.Channel) (string, string, error) {
	const op = "services.access.IssueInvite"
	log := s.log.With(slog.String("op", op), slog.String("ext_user_id", user.ExternalID))

	link, instruction, errTag := s.issueInvite(ctx, log, user, channel, time.Now().UTC())
	if errTag != "" {
		return "", "", fmt.Errorf("%s: %s", op, errTag)
	}
	return link, instruction, nil
}

func (s *Service) issueInvite(ctx context.Context, log *slog.Logger, user *models.User,
	channel *models.Channel, now time.Time) (link, instruction, errTag string) {
	chatID := channel.ChatID

	if prev, err := s.store.FindUnusedInvite(ctx, user.ID, chatID); err != nil {
		log.Warn("failed to look up previous invite", slog.Int64("chat_id", chatID), sl.Err(err))
	} else if prev != nil {
		if err = s.tg.RevokeInviteLink(ctx, chatID, prev.Link); err != nil {
			log.Warn("failed to revoke previous invite", slog.Int64("chat_id", chatID), sl.Err(err))
		}
		if err = s.store.MarkInviteRevoked(ctx, prev.Link, chatID); err != nil {
			log.Warn("failed to mark invite revoked", slog.Int64("chat_id", chatID), sl.Err(err))
		} else {
			s.audit.Record(ctx, models.AuditEntry{
				Action: models.ActionInviteRevoked,
				UserID: &user.ID,
				ChatID: &chatID,
				Meta:   map[string]any{"link": prev.Link},
			})
		}
	}

	ttl := s.inviteTTL
	if channel.InviteTTLSeconds != nil {
		ttl = time.Duration(*channel.InviteTTLSeconds) * time.Second
	}
	memberLimit := s.inviteMemberLimit
	if channel.InviteMemberLimit != nil {
		memberLimit = *channel.InviteMemberLimit
	}
	expireAt := now.Add(ttl)
	joinRequest := channel.JoinPolicy == models.JoinPolicyJoinRequest

	link, err := s.tg.CreateInviteLink(ctx, chatID, expireAt, memberLimit, joinRequest)
	if err != nil {
		log.Error("failed to create invite link", slog.Int64("chat_id", chatID), sl.Err(err))
		s.audit.Record(ctx, models.AuditEntry{
			Action: models.ActionInviteCreateFailed,
			UserID: &user.ID,
			ChatID: &chatID,
			Meta:   map[string]any{"error": err.Error()},
		})
		return "", "", models.ErrTagInviteCreationFailed
	}

	if _, err = s.store.CreateInvite(ctx, models.Invite{
		UserID:      user.ID,
		ChatID:      chatID,
		Link:        link,
		ExpireAt:    expireAt,
		MemberLimit: memberLimit,
	}); err != nil {
		log.Error("failed to save invite", slog.Int64("chat_id", chatID), sl.Err(err))
		return "", "", models.ErrTagInviteCreationFailed
	}

	metrics.InvitesCreated.Inc()
	s.audit.Record(ctx, models.AuditEntry{
		Action: models.ActionInviteCreated,
		UserID: &user.ID,
		ChatID: &chatID,
		Meta:   map[string]any{"link": link, "expire_at": expireAt},
	})

	instruction = instructionInviteLink
	if joinRequest {
		instruction = instructionJoinRequest
	}
	return link, instruction, ""
}

// ForceRemove отзывает доступ вручную. В режиме dry-run только сообщает,
// что было бы сделано, и не выполняет ни одного вызова Bot API.
// Членство помечается истёкшим лишь после успешного бана; если аккаунт
// пользователя неизвестен, членство закрывается без бана.
func (s *Service) ForceRemove(ctx context.Context, req models.DummyForceRemoveRequest) (*models.ForceRemoveResult, error) {
	const op = "services.access.ForceRemove"
	log := s.log.With(slog.String("op", op),
		slog.String("ext_user_id", req.ExternalUserID), slog.Int64("chat_id", req.ChatID))

	user, err := s.store.GetUserByExternalID(ctx, req.ExternalUserID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	membership, err := s.store.GetActiveMembership(ctx, user.ID, req.ChatID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	telegramID, err := s.resolveTelegramID(ctx, user, req.ChatID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	result := &models.ForceRemoveResult{DryRun: req.DryRun}

	if req.DryRun {
		result.WouldBan = telegramID != nil
		result.WouldExpire = membership != nil
		return result, nil
	}

	if telegramID != nil {
		if banErr := s.tg.BanMember(ctx, req.ChatID, *telegramID); banErr != nil {
			log.Error("failed to ban user", sl.Err(banErr))
			result.BanError = banErr.Error()
			s.audit.Record(ctx, models.AuditEntry{
				Action:         models.ActionBanFailed,
				UserID:         &user.ID,
				TelegramUserID: telegramID,
				ChatID:         &req.ChatID,
				Meta:           map[string]any{"error": banErr.Error(), "reason": req.Reason},
			})
			return result, nil
		}
		result.Removed = true
	}

	if membership != nil {
		if err = s.store.MarkMembershipExpired(ctx, membership.ID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result.ExpiredMembership = true
	}

	s.audit.Record(ctx, models.AuditEntry{
		Action:         models.ActionForceRemove,
		UserID:         &user.ID,
		TelegramUserID: telegramID,
		ChatID:         &req.ChatID,
		Meta: map[string]any{
			"reason":             req.Reason,
			"removed":            result.Removed,
			"expired_membership": result.ExpiredMembership,
		},
	})

	return result, nil
}

// resolveTelegramID определяет аккаунт пользователя: привязанный напрямую
// или зафиксированный последней использованной ссылкой этого канала.
func (s *Service) resolveTelegramID(ctx context.Context, user *models.User, chatID int64) (*int64, error) {
	if user.TelegramUserID != nil {
		return user.TelegramUserID, nil
	}
	inv, err := s.store.FindLatestUsedInvite(ctx, user.ID, chatID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, nil
	}
	return inv.UsedByTelegramID, nil
}
