// Package correlator обрабатывает обновления Bot API: заявки на
// вступление, смены статусов участников и deep-link команды /start.
package correlator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/mymmrac/telego"

	"github.com/magabrotheeeer/telegram-paid-access/internal/cache"
	"github.com/magabrotheeeer/telegram-paid-access/internal/lib/sl"
	"github.com/magabrotheeeer/telegram-paid-access/internal/metrics"
	"github.com/magabrotheeeer/telegram-paid-access/internal/models"
	"github.com/magabrotheeeer/telegram-paid-access/internal/telegram"
)

// Payload deep-link ограничен Telegram 64 символами безопасного алфавита.
var startPayloadRe = regexp.MustCompile(`^[A-Za-z0-9_\-:.]+$`)

const maxStartPayloadLen = 64

const dedupTTL = 24 * time.Hour

// Тексты ответов бота в личном чате.
const (
	startPromptText  = "Отправьте /start с кодом из письма об оплате, чтобы привязать аккаунт."
	startInvalidText = "Код в ссылке не распознан. Проверьте ссылку из письма об оплате."
	startUnknownText = "Аккаунт с таким кодом не найден. Напишите в поддержку."
	emptyStateText   = "У вас нет активных подписок."
)

// Store — операции хранилища, нужные корреляции событий.
type Store interface {
	UpsertUser(ctx context.Context, externalID string) (*models.User, error)
	GetUserByTelegramID(ctx context.Context, telegramUserID int64) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	LinkTelegramAccount(ctx context.Context, externalID string, telegramUserID int64, telegramUsername *string) (*models.User, error)
	GetActiveMembership(ctx context.Context, userID, chatID int64) (*models.Membership, error)
	ListActiveMemberships(ctx context.Context, userID int64) ([]*models.Membership, error)
	GetChannel(ctx context.Context, chatID int64) (*models.Channel, error)
	GetInviteByLink(ctx context.Context, link string, chatID int64) (*models.Invite, error)
	FindAttributionCandidate(ctx context.Context, chatID int64, now time.Time) (*models.Invite, error)
	FindUnusedInvite(ctx context.Context, userID, chatID int64) (*models.Invite, error)
	MarkInviteUsed(ctx context.Context, link string, chatID, telegramUserID int64) error
	MarkUserInvitesUsed(ctx context.Context, userID, chatID, telegramUserID int64) (int64, error)
}

// Issuer выдаёт свежую инвайт-ссылку или инструкцию по вступлению,
// когда пользователь возвращается по диплинку без действующего инвайта.
type Issuer interface {
	IssueInvite(ctx context.Context, user *models.User, channel *models.Channel) (link, instruction string, err error)
}

// Auditor — запись события в журнал аудита.
type Auditor interface {
	Record(ctx context.Context, entry models.AuditEntry)
}

// Deduper — рекомендательная дедупликация обновлений по update_id.
type Deduper interface {
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Service сопоставляет события Telegram с учётными записями и ведёт
// книгу членств. Обработка идемпотентна: повторная доставка обновления
// не меняет итогового состояния.
type Service struct {
	log    *slog.Logger
	store  Store
	tg     telegram.API
	issuer Issuer
	audit  Auditor
	dedup  Deduper
}

// New создает сервис корреляции. dedup может быть nil — тогда защита от
// повторной доставки опирается только на идемпотентность операций.
func New(log *slog.Logger, store Store, tg telegram.API, issuer Issuer, auditor Auditor, dedup Deduper) *Service {
	return &Service{log: log, store: store, tg: tg, issuer: issuer, audit: auditor, dedup: dedup}
}

// HandleUpdate обрабатывает одно обновление Bot API. Ошибки обработки
// логируются, но не возвращаются: вебхук в любом случае отвечает 200,
// иначе Telegram будет бесконечно повторять доставку.
func (s *Service) HandleUpdate(ctx context.Context, update telego.Update) {
	const op = "services.correlator.HandleUpdate"
	log := s.log.With(slog.String("op", op), slog.Int("update_id", update.UpdateID))

	if s.dedup != nil {
		first, err := s.dedup.MarkOnce(ctx, cache.UpdateKey(update.UpdateID), dedupTTL)
		if err != nil {
			log.Warn("dedup check failed, processing anyway", sl.Err(err))
		} else if !first {
			log.Debug("duplicate update skipped")
			return
		}
	}

	switch {
	case update.ChatJoinRequest != nil:
		metrics.WebhookUpdates.WithLabelValues("chat_join_request").Inc()
		s.handleJoinRequest(ctx, log, update.ChatJoinRequest)
	case update.ChatMember != nil:
		metrics.WebhookUpdates.WithLabelValues("chat_member").Inc()
		s.handleMemberUpdated(ctx, log, update.ChatMember)
	case update.MyChatMember != nil:
		metrics.WebhookUpdates.WithLabelValues("my_chat_member").Inc()
		s.handleBotStatusChanged(ctx, log, update.MyChatMember)
	case update.Message != nil && isStartCommand(update.Message.Text):
		metrics.WebhookUpdates.WithLabelValues("start_command").Inc()
		s.handleStart(ctx, log, update.Message)
	default:
		metrics.WebhookUpdates.WithLabelValues("other").Inc()
	}
}

// handleJoinRequest решает судьбу заявки на вступление: одобряет её
// только для привязанного аккаунта с активным членством в канале.
// isStartCommand отличает /start и /start <код> от других команд,
// начинающихся с того же префикса.
func isStartCommand(text string) bool {
	return text == "/start" || strings.HasPrefix(text, "/start ")
}

func (s *Service) handleJoinRequest(ctx context.Context, log *slog.Logger, req *telego.ChatJoinRequest) {
	chatID := req.Chat.ID
	telegramID := req.From.ID
	log = log.With(slog.Int64("chat_id", chatID), slog.Int64("telegram_user_id", telegramID))

	user, err := s.store.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		log.Error("failed to look up user", sl.Err(err))
		return
	}
	if user == nil {
		s.declineJoin(ctx, log, chatID, telegramID, nil, models.DeclineReasonUserNotFound)
		return
	}

	membership, err := s.store.GetActiveMembership(ctx, user.ID, chatID)
	if err != nil {
		log.Error("failed to look up membership", sl.Err(err))
		return
	}
	if membership == nil {
		s.declineJoin(ctx, log, chatID, telegramID, &user.ID, models.DeclineReasonNoActiveMembership)
		return
	}

	if err = s.tg.ApproveJoinRequest(ctx, chatID, telegramID); err != nil {
		log.Error("failed to approve join request", sl.Err(err))
		return
	}
	metrics.JoinRequests.WithLabelValues("approved").Inc()

	if req.InviteLink != nil {
		if err = s.store.MarkInviteUsed(ctx, req.InviteLink.InviteLink, chatID, telegramID); err != nil {
			log.Warn("failed to mark invite used", sl.Err(err))
		}
	}

	s.audit.Record(ctx, models.AuditEntry{
		Action:         models.ActionJoinApproved,
		UserID:         &user.ID,
		TelegramUserID: &telegramID,
		ChatID:         &chatID,
	})
	log.Info("join request approved")
}

func (s *Service) declineJoin(ctx context.Context, log *slog.Logger, chatID, telegramID int64, userID *int64, reason string) {
	if err := s.tg.DeclineJoinRequest(ctx, chatID, telegramID); err != nil {
		log.Error("failed to decline join request", sl.Err(err))
		return
	}
	metrics.JoinRequests.WithLabelValues("declined").Inc()

	s.audit.Record(ctx, models.AuditEntry{
		Action:         models.ActionJoinDeclined,
		UserID:         userID,
		TelegramUserID: &telegramID,
		ChatID:         &chatID,
		Meta:           map[string]any{"reason": reason},
	})
	log.Info("join request declined", slog.String("reason", reason))
}

func isMemberStatus(status string) bool {
	switch status {
	case "member", "administrator", "creator":
		return true
	default:
		return false
	}
}

// handleMemberUpdated фиксирует вступления и выходы участников.
// Вступление привязывает аккаунт к владельцу ссылки: напрямую, если
// событие содержит ссылку, иначе по самой свежей действующей ссылке
// канала. Выход участника книгу членств не меняет — закрывает членство
// только планировщик или принудительный отзыв.
func (s *Service) handleMemberUpdated(ctx context.Context, log *slog.Logger, upd *telego.ChatMemberUpdated) {
	chatID := upd.Chat.ID
	member := upd.NewChatMember.MemberUser()
	oldStatus := upd.OldChatMember.MemberStatus()
	newStatus := upd.NewChatMember.MemberStatus()
	log = log.With(slog.Int64("chat_id", chatID), slog.Int64("telegram_user_id", member.ID),
		slog.String("old_status", oldStatus), slog.String("new_status", newStatus))

	switch {
	case isMemberStatus(newStatus) && !isMemberStatus(oldStatus):
		s.handleMemberJoined(ctx, log, upd, chatID, member)
	case !isMemberStatus(newStatus) && isMemberStatus(oldStatus):
		s.audit.Record(ctx, models.AuditEntry{
			Action:         models.ActionMemberLeft,
			TelegramUserID: &member.ID,
			ChatID:         &chatID,
			Meta:           map[string]any{"new_status": newStatus},
		})
		log.Info("member left")
	}
}

func (s *Service) handleMemberJoined(ctx context.Context, log *slog.Logger,
	upd *telego.ChatMemberUpdated, chatID int64, member telego.User) {
	var username *string
	if member.Username != "" {
		username = &member.Username
	}

	user, err := s.store.GetUserByTelegramID(ctx, member.ID)
	if err != nil {
		log.Error("failed to look up user", sl.Err(err))
		return
	}

	var attributed *models.Invite
	attribution := "none"

	switch {
	case upd.InviteLink != nil:
		link := upd.InviteLink.InviteLink
		if err := s.store.MarkInviteUsed(ctx, link, chatID, member.ID); err != nil {
			log.Warn("failed to mark invite used", sl.Err(err))
		}
		inv, lookErr := s.store.GetInviteByLink(ctx, link, chatID)
		if lookErr != nil {
			log.Warn("failed to look up invite by link", sl.Err(lookErr))
		} else if inv != nil {
			attributed = inv
			attribution = "direct"
		}
	case user != nil:
		// Привязанный аккаунт закрывает только собственный инвайт:
		// чужие ссылки остаются кандидатами для непривязанных вступлений
		inv, lookErr := s.store.FindUnusedInvite(ctx, user.ID, chatID)
		if lookErr != nil {
			log.Warn("failed to look up own invite", sl.Err(lookErr))
		} else if inv != nil {
			if err := s.store.MarkInviteUsed(ctx, inv.Link, chatID, member.ID); err != nil {
				log.Warn("failed to mark invite used", sl.Err(err))
			}
			attributed = inv
			attribution = "direct"
		}
	default:
		inv, lookErr := s.store.FindAttributionCandidate(ctx, chatID, time.Now())
		if lookErr != nil {
			log.Warn("failed to find attribution candidate", sl.Err(lookErr))
		} else if inv != nil {
			if err := s.store.MarkInviteUsed(ctx, inv.Link, chatID, member.ID); err != nil {
				log.Warn("failed to mark invite used", sl.Err(err))
			}
			attributed = inv
			attribution = "heuristic"
		}
	}

	if attributed != nil {
		s.linkInviteOwner(ctx, log, attributed, member.ID, username)
	}

	s.audit.Record(ctx, models.AuditEntry{
		Action:         models.ActionMemberJoined,
		TelegramUserID: &member.ID,
		ChatID:         &chatID,
		Meta:           map[string]any{"attribution": attribution},
	})
	log.Info("member joined", slog.String("attribution", attribution))
}

// linkInviteOwner привязывает вступивший аккаунт к владельцу ссылки,
// если у того ещё нет привязанного аккаунта.
func (s *Service) linkInviteOwner(ctx context.Context, log *slog.Logger,
	inv *models.Invite, telegramID int64, username *string) {
	owner, err := s.store.GetUserByID(ctx, inv.UserID)
	if err != nil {
		log.Warn("failed to load invite owner", sl.Err(err))
		return
	}
	if owner.TelegramUserID != nil {
		return
	}
	if _, err = s.store.LinkTelegramAccount(ctx, owner.ExternalID, telegramID, username); err != nil {
		log.Warn("failed to link telegram account", sl.Err(err))
		return
	}
	log.Info("telegram account linked by invite", slog.Int64("user_id", owner.ID))
}

// handleBotStatusChanged фиксирует смену статуса самого бота в чате.
func (s *Service) handleBotStatusChanged(ctx context.Context, log *slog.Logger, upd *telego.ChatMemberUpdated) {
	chatID := upd.Chat.ID
	oldStatus := upd.OldChatMember.MemberStatus()
	newStatus := upd.NewChatMember.MemberStatus()

	s.audit.Record(ctx, models.AuditEntry{
		Action: models.ActionBotStatusChanged,
		ChatID: &chatID,
		Meta:   map[string]any{"old_status": oldStatus, "new_status": newStatus},
	})
	log.Info("bot status changed", slog.Int64("chat_id", chatID),
		slog.String("old_status", oldStatus), slog.String("new_status", newStatus))
}

// handleStart обрабатывает /start в личном чате. Код в payload
// привязывает аккаунт Telegram к учётной записи, после чего бот одним
// сообщением присылает состояние всех подписок.
func (s *Service) handleStart(ctx context.Context, log *slog.Logger, msg *telego.Message) {
	if msg.From == nil {
		return
	}
	telegramID := msg.From.ID
	log = log.With(slog.Int64("telegram_user_id", telegramID))

	payload := strings.TrimSpace(strings.TrimPrefix(msg.Text, "/start"))
	if payload == "" {
		s.replyStatus(ctx, log, msg.Chat.ID, telegramID)
		return
	}

	if len(payload) > maxStartPayloadLen || !startPayloadRe.MatchString(payload) {
		s.audit.Record(ctx, models.AuditEntry{
			Action:         models.ActionStartRejected,
			TelegramUserID: &telegramID,
			Meta:           map[string]any{"reason": "invalid_payload"},
		})
		s.reply(ctx, log, msg.Chat.ID, startInvalidText)
		log.Info("start payload rejected")
		return
	}

	var username *string
	if msg.From.Username != "" {
		username = &msg.From.Username
	}

	// Первый переход по диплинку создаёт пользователя
	if _, err := s.store.UpsertUser(ctx, payload); err != nil {
		log.Error("failed to upsert user by start payload", sl.Err(err))
		s.reply(ctx, log, msg.Chat.ID, startUnknownText)
		return
	}

	user, err := s.store.LinkTelegramAccount(ctx, payload, telegramID, username)
	if err != nil {
		s.audit.Record(ctx, models.AuditEntry{
			Action:         models.ActionStartRejected,
			TelegramUserID: &telegramID,
			Meta:           map[string]any{"reason": "link_failed"},
		})
		s.reply(ctx, log, msg.Chat.ID, startUnknownText)
		log.Error("failed to link telegram account", sl.Err(err))
		return
	}

	s.audit.Record(ctx, models.AuditEntry{
		Action:         models.ActionStartLinked,
		UserID:         &user.ID,
		TelegramUserID: &telegramID,
	})
	log.Info("telegram account linked by start command", slog.Int64("user_id", user.ID))

	text, err := s.composeStatus(ctx, log, user, telegramID)
	if err != nil {
		log.Error("failed to compose status message", sl.Err(err))
		return
	}
	s.reply(ctx, log, msg.Chat.ID, "Аккаунт привязан.\n\n"+text)
}

// replyStatus отвечает на /start без payload.
func (s *Service) replyStatus(ctx context.Context, log *slog.Logger, chatID, telegramID int64) {
	user, err := s.store.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		log.Error("failed to look up user", sl.Err(err))
		return
	}
	if user == nil {
		s.reply(ctx, log, chatID, startPromptText)
		return
	}
	text, err := s.composeStatus(ctx, log, user, telegramID)
	if err != nil {
		log.Error("failed to compose status message", sl.Err(err))
		return
	}
	s.reply(ctx, log, chatID, text)
}

// composeStatus собирает единое сообщение о всех активных подписках.
// Для каналов, где пользователь уже состоит, оставшиеся ссылки помечаются
// использованными: вступление произошло до привязки аккаунта.
func (s *Service) composeStatus(ctx context.Context, log *slog.Logger, user *models.User, telegramID int64) (string, error) {
	memberships, err := s.store.ListActiveMemberships(ctx, user.ID)
	if err != nil {
		return "", err
	}
	if len(memberships) == 0 {
		return emptyStateText, nil
	}

	var b strings.Builder
	b.WriteString("Ваши подписки:\n")
	for _, m := range memberships {
		var channel *models.Channel
		if ch, chErr := s.store.GetChannel(ctx, m.ChatID); chErr == nil {
			channel = ch
		}
		title := fmt.Sprintf("канал %d", m.ChatID)
		if channel != nil && channel.Title != "" {
			title = channel.Title
		}

		status, stErr := s.tg.GetChatMemberStatus(ctx, m.ChatID, telegramID)
		if stErr == nil && isMemberStatus(status) {
			if _, bfErr := s.store.MarkUserInvitesUsed(ctx, user.ID, m.ChatID, telegramID); bfErr != nil {
				log.Warn("failed to backfill invites", sl.Err(bfErr))
			}
			fmt.Fprintf(&b, "— %s: вы уже в канале, доступ до %s\n",
				title, m.CurrentPeriodEnd.Format("02.01.2006"))
			continue
		}

		line := fmt.Sprintf("— %s: доступ до %s", title, m.CurrentPeriodEnd.Format("02.01.2006"))
		if inv, invErr := s.store.FindUnusedInvite(ctx, user.ID, m.ChatID); invErr == nil &&
			inv != nil && inv.ExpireAt.After(time.Now()) {
			line += ", ссылка для входа: " + inv.Link
		} else if s.issuer != nil && channel != nil {
			// Исключённого пользователя надо разбанить, иначе ссылка не сработает
			if stErr == nil && status == "kicked" {
				if ubErr := s.tg.UnbanMember(ctx, m.ChatID, telegramID); ubErr != nil {
					log.Warn("failed to unban returning user", sl.Err(ubErr))
				}
			}
			link, instruction, issueErr := s.issuer.IssueInvite(ctx, user, channel)
			switch {
			case issueErr != nil:
				log.Warn("failed to issue invite", slog.Int64("chat_id", m.ChatID), sl.Err(issueErr))
			case link != "":
				line += ", ссылка для входа: " + link
			case instruction != "":
				line += ". " + instruction
			}
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (s *Service) reply(ctx context.Context, log *slog.Logger, chatID int64, text string) {
	if err := s.tg.SendMessage(ctx, chatID, text); err != nil {
		log.Warn("failed to send reply", sl.Err(err))
	}
}
