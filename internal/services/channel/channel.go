// Package channel управляет реестром подключённых каналов.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/magabrotheeeer/telegram-paid-access/internal/cache"
	"github.com/magabrotheeeer/telegram-paid-access/internal/lib/sl"
	"github.com/magabrotheeeer/telegram-paid-access/internal/models"
	"github.com/magabrotheeeer/telegram-paid-access/internal/telegram"
)

// ErrBotNotAdmin возвращается, когда бот не администратор канала.
var ErrBotNotAdmin = errors.New("bot is not an administrator of the channel")

// ErrChatNotFound возвращается, когда чат недоступен боту ни по исходному
// идентификатору, ни после нормализации.
var ErrChatNotFound = errors.New("chat not found")

// Store — операции хранилища над реестром каналов.
type Store interface {
	UpsertChannel(ctx context.Context, ch models.Channel) (*models.Channel, error)
	GetChannel(ctx context.Context, chatID int64) (*models.Channel, error)
	ListChannels(ctx context.Context) ([]*models.Channel, error)
}

// Auditor — запись события в журнал аудита.
type Auditor interface {
	Record(ctx context.Context, entry models.AuditEntry)
}

const channelCacheTTL = 5 * time.Minute

// Service регистрирует каналы и отдает их настройки с кэшированием.
type Service struct {
	log   *slog.Logger
	store Store
	tg    telegram.API
	cache *cache.Cache
	audit Auditor
}

// New создает сервис реестра каналов. cache может быть nil.
func New(log *slog.Logger, store Store, tg telegram.API, c *cache.Cache, auditor Auditor) *Service {
	return &Service{log: log, store: store, tg: tg, cache: c, audit: auditor}
}

// Add регистрирует канал. Идентификатор принимается строкой: каналы из
// клиентских ссылок часто приходят без префикса -100, поэтому при
// недоступности чата по исходному значению выполняется повторная попытка
// с нормализованным идентификатором. Перед сохранением проверяется, что
// бот — администратор канала.
func (s *Service) Add(ctx context.Context, req models.DummyChannelRequest) (*models.Channel, error) {
	const op = "services.channel.Add"
	log := s.log.With(slog.String("op", op), slog.String("chat_id", req.ChatID))

	chatID, err := strconv.ParseInt(strings.TrimSpace(req.ChatID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid chat id %q: %w", op, req.ChatID, err)
	}

	title, chatID, err := s.resolveChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if req.Title != "" {
		title = req.Title
	}

	status, err := s.tg.GetChatMemberStatus(ctx, chatID, s.tg.BotID())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if status != "administrator" && status != "creator" {
		log.Warn("bot lacks admin rights", slog.String("status", status))
		return nil, fmt.Errorf("%s: %w", op, ErrBotNotAdmin)
	}

	joinPolicy := req.JoinPolicy
	if joinPolicy == "" {
		joinPolicy = models.JoinPolicyInviteLink
	}

	channel, err := s.store.UpsertChannel(ctx, models.Channel{
		ChatID:            chatID,
		Title:             title,
		JoinPolicy:        joinPolicy,
		InviteTTLSeconds:  req.InviteTTLSeconds,
		InviteMemberLimit: req.InviteMemberLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if s.cache != nil {
		if err = s.cache.Invalidate(ctx, cache.ChannelKey(chatID)); err != nil {
			log.Warn("failed to invalidate channel cache", sl.Err(err))
		}
	}

	s.audit.Record(ctx, models.AuditEntry{
		Action: models.ActionBotStatusChanged,
		ChatID: &channel.ChatID,
		Meta:   map[string]any{"event": "channel_registered", "join_policy": channel.JoinPolicy},
	})

	return channel, nil
}

// resolveChat проверяет доступность чата и возвращает его название и
// действующий идентификатор. Для положительных идентификаторов после
// отказа "not found" пробуется вариант с префиксом -100.
func (s *Service) resolveChat(ctx context.Context, chatID int64) (string, int64, error) {
	title, err := s.tg.GetChatTitle(ctx, chatID)
	if err == nil {
		return title, chatID, nil
	}
	if telegram.KindOf(err) != telegram.KindNotFound || chatID <= 0 {
		return "", 0, err
	}

	normalized, convErr := strconv.ParseInt("-100"+strconv.FormatInt(chatID, 10), 10, 64)
	if convErr != nil {
		return "", 0, err
	}
	title, retryErr := s.tg.GetChatTitle(ctx, normalized)
	if retryErr != nil {
		return "", 0, fmt.Errorf("%w: %s", ErrChatNotFound, retryErr)
	}
	return title, normalized, nil
}

// Get возвращает настройки канала, по возможности из кэша.
func (s *Service) Get(ctx context.Context, chatID int64) (*models.Channel, error) {
	const op = "services.channel.Get"

	if s.cache != nil {
		var cached models.Channel
		found, err := s.cache.Get(ctx, cache.ChannelKey(chatID), &cached)
		if err != nil {
			s.log.Warn("failed to read channel cache", slog.String("op", op), sl.Err(err))
		} else if found {
			return &cached, nil
		}
	}

	channel, err := s.store.GetChannel(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if s.cache != nil {
		if err = s.cache.Set(ctx, cache.ChannelKey(chatID), channel, channelCacheTTL); err != nil {
			s.log.Warn("failed to write channel cache", slog.String("op", op), sl.Err(err))
		}
	}
	return channel, nil
}

// List возвращает все подключённые каналы.
func (s *Service) List(ctx context.Context) ([]*models.Channel, error) {
	const op = "services.channel.List"

	channels, err := s.store.ListChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return channels, nil
}
