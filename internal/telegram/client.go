package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// API — операции Bot API, используемые сервисами. Выделен в интерфейс,
// чтобы в тестах подставлять заглушки вместо живого бота.
type API interface {
	GetChatTitle(ctx context.Context, chatID int64) (string, error)
	GetChatMemberStatus(ctx context.Context, chatID, userID int64) (string, error)
	CreateInviteLink(ctx context.Context, chatID int64, expireAt time.Time, memberLimit int, joinRequest bool) (string, error)
	RevokeInviteLink(ctx context.Context, chatID int64, link string) error
	ApproveJoinRequest(ctx context.Context, chatID, userID int64) error
	DeclineJoinRequest(ctx context.Context, chatID, userID int64) error
	BanMember(ctx context.Context, chatID, userID int64) error
	UnbanMember(ctx context.Context, chatID, userID int64) error
	SendMessage(ctx context.Context, chatID int64, text string) error
	BotID() int64
}

// Client оборачивает telego.Bot: ограничивает время каждого вызова и
// приводит ошибки к классифицированному виду.
type Client struct {
	bot     *telego.Bot
	botID   int64
	timeout time.Duration
}

// New создает клиента и проверяет токен вызовом getMe.
func New(ctx context.Context, token string, timeout time.Duration) (*Client, error) {
	const op = "telegram.New"

	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	me, err := bot.GetMe(callCtx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, Classify(err))
	}

	return &Client{bot: bot, botID: me.ID, timeout: timeout}, nil
}

// BotID возвращает идентификатор аккаунта бота.
func (c *Client) BotID() int64 {
	return c.botID
}

func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// GetChatTitle возвращает название чата по его идентификатору.
func (c *Client) GetChatTitle(ctx context.Context, chatID int64) (string, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	chat, err := c.bot.GetChat(ctx, &telego.GetChatParams{ChatID: tu.ID(chatID)})
	if err != nil {
		return "", Classify(err)
	}
	return chat.Title, nil
}

// GetChatMemberStatus возвращает статус участника чата:
// creator, administrator, member, restricted, left или kicked.
func (c *Client) GetChatMemberStatus(ctx context.Context, chatID, userID int64) (string, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	member, err := c.bot.GetChatMember(ctx, &telego.GetChatMemberParams{
		ChatID: tu.ID(chatID),
		UserID: userID,
	})
	if err != nil {
		return "", Classify(err)
	}
	return member.MemberStatus(), nil
}

// CreateInviteLink выпускает одноразовую инвайт-ссылку. При joinRequest
// ссылка создает заявку на вступление вместо прямого входа, и лимит
// участников для неё не задаётся: Bot API запрещает такое сочетание.
func (c *Client) CreateInviteLink(ctx context.Context, chatID int64, expireAt time.Time, memberLimit int, joinRequest bool) (string, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	params := &telego.CreateChatInviteLinkParams{
		ChatID:     tu.ID(chatID),
		ExpireDate: expireAt.Unix(),
	}
	if joinRequest {
		params.CreatesJoinRequest = true
	} else {
		params.MemberLimit = memberLimit
	}

	link, err := c.bot.CreateChatInviteLink(ctx, params)
	if err != nil {
		return "", Classify(err)
	}
	return link.InviteLink, nil
}

// RevokeInviteLink отзывает ранее выпущенную ссылку.
func (c *Client) RevokeInviteLink(ctx context.Context, chatID int64, link string) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	_, err := c.bot.RevokeChatInviteLink(ctx, &telego.RevokeChatInviteLinkParams{
		ChatID:     tu.ID(chatID),
		InviteLink: link,
	})
	return Classify(err)
}

// ApproveJoinRequest одобряет заявку на вступление.
func (c *Client) ApproveJoinRequest(ctx context.Context, chatID, userID int64) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	err := c.bot.ApproveChatJoinRequest(ctx, &telego.ApproveChatJoinRequestParams{
		ChatID: tu.ID(chatID),
		UserID: userID,
	})
	return Classify(err)
}

// DeclineJoinRequest отклоняет заявку на вступление.
func (c *Client) DeclineJoinRequest(ctx context.Context, chatID, userID int64) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	err := c.bot.DeclineChatJoinRequest(ctx, &telego.DeclineChatJoinRequestParams{
		ChatID: tu.ID(chatID),
		UserID: userID,
	})
	return Classify(err)
}

// BanMember удаляет участника из чата.
func (c *Client) BanMember(ctx context.Context, chatID, userID int64) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	err := c.bot.BanChatMember(ctx, &telego.BanChatMemberParams{
		ChatID: tu.ID(chatID),
		UserID: userID,
	})
	return Classify(err)
}

// UnbanMember снимает бан, чтобы пользователь мог вернуться по новой
// ссылке. OnlyIfBanned делает вызов безопасным для не забаненных.
func (c *Client) UnbanMember(ctx context.Context, chatID, userID int64) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	err := c.bot.UnbanChatMember(ctx, &telego.UnbanChatMemberParams{
		ChatID:       tu.ID(chatID),
		UserID:       userID,
		OnlyIfBanned: true,
	})
	return Classify(err)
}

// SendMessage отправляет текстовое сообщение в личный чат.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	_, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text))
	return Classify(err)
}
