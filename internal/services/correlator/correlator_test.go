package correlator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/telegram-paid-access/internal/models"
	"github.com/magabrotheeeer/telegram-paid-access/internal/storage/repository"
)

type fakeStore struct {
	users       map[int64]*models.User
	usersByExt  map[string]*models.User
	memberships []*models.Membership
	channels    map[int64]*models.Channel
	invites     []*models.Invite
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:      make(map[int64]*models.User),
		usersByExt: make(map[string]*models.User),
		channels:   make(map[int64]*models.Channel),
	}
}

func (f *fakeStore) addUser(id int64, externalID string, telegramID *int64) *models.User {
	u := &models.User{ID: id, ExternalID: externalID, TelegramUserID: telegramID}
	f.users[id] = u
	f.usersByExt[externalID] = u
	return u
}

func (f *fakeStore) addInvite(id, userID, chatID int64, link string, expireAt, createdAt time.Time) *models.Invite {
	inv := &models.Invite{ID: id, UserID: userID, ChatID: chatID, Link: link,
		ExpireAt: expireAt, MemberLimit: 1, CreatedAt: createdAt}
	f.invites = append(f.invites, inv)
	return inv
}

func (f *fakeStore) UpsertUser(_ context.Context, externalID string) (*models.User, error) {
	if u, ok := f.usersByExt[externalID]; ok {
		return u, nil
	}
	id := int64(len(f.users) + 1)
	return f.addUser(id, externalID, nil), nil
}

func (f *fakeStore) GetUserByTelegramID(_ context.Context, telegramID int64) (*models.User, error) {
	for _, u := range f.users {
		if u.TelegramUserID != nil && *u.TelegramUserID == telegramID {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, repository.ErrUserNotFound
}

func (f *fakeStore) LinkTelegramAccount(_ context.Context, externalID string, telegramID int64, username *string) (*models.User, error) {
	u, ok := f.usersByExt[externalID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	u.TelegramUserID = &telegramID
	if username != nil {
		u.TelegramUsername = username
	}
	return u, nil
}

func (f *fakeStore) GetActiveMembership(_ context.Context, userID, chatID int64) (*models.Membership, error) {
	for _, m := range f.memberships {
		if m.UserID == userID && m.ChatID == chatID && m.Status == models.MembershipStatusActive {
			return m, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListActiveMemberships(_ context.Context, userID int64) ([]*models.Membership, error) {
	var result []*models.Membership
	for _, m := range f.memberships {
		if m.UserID == userID && m.Status == models.MembershipStatusActive {
			result = append(result, m)
		}
	}
	return result, nil
}

func (f *fakeStore) GetChannel(_ context.Context, chatID int64) (*models.Channel, error) {
	if ch, ok := f.channels[chatID]; ok {
		return ch, nil
	}
	return nil, repository.ErrChannelNotFound
}

func (f *fakeStore) GetInviteByLink(_ context.Context, link string, chatID int64) (*models.Invite, error) {
	for _, inv := range f.invites {
		if inv.Link == link && inv.ChatID == chatID {
			return inv, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FindAttributionCandidate(_ context.Context, chatID int64, now time.Time) (*models.Invite, error) {
	var best *models.Invite
	for _, inv := range f.invites {
		if inv.ChatID != chatID || inv.Used || inv.Revoked || !inv.ExpireAt.After(now) {
			continue
		}
		if best == nil || inv.CreatedAt.After(best.CreatedAt) {
			best = inv
		}
	}
	return best, nil
}

func (f *fakeStore) FindUnusedInvite(_ context.Context, userID, chatID int64) (*models.Invite, error) {
	for i := len(f.invites) - 1; i >= 0; i-- {
		inv := f.invites[i]
		if inv.UserID == userID && inv.ChatID == chatID && !inv.Used && !inv.Revoked {
			return inv, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) MarkInviteUsed(_ context.Context, link string, chatID, telegramID int64) error {
	for _, inv := range f.invites {
		if inv.Link == link && inv.ChatID == chatID {
			inv.Used = true
			if inv.UsedByTelegramID == nil {
				inv.UsedByTelegramID = &telegramID
			}
		}
	}
	return nil
}

func (f *fakeStore) MarkUserInvitesUsed(_ context.Context, userID, chatID, telegramID int64) (int64, error) {
	var count int64
	for _, inv := range f.invites {
		if inv.UserID == userID && inv.ChatID == chatID && !inv.Used {
			inv.Used = true
			inv.UsedByTelegramID = &telegramID
			count++
		}
	}
	return count, nil
}

type fakeTelegram struct {
	approved []int64
	declined []int64
	messages []string
}

func (f *fakeTelegram) GetChatTitle(context.Context, int64) (string, error) { return "", nil }

func (f *fakeTelegram) GetChatMemberStatus(context.Context, int64, int64) (string, error) {
	return "left", nil
}

func (f *fakeTelegram) CreateInviteLink(context.Context, int64, time.Time, int, bool) (string, error) {
	return "", nil
}

func (f *fakeTelegram) RevokeInviteLink(context.Context, int64, string) error { return nil }

func (f *fakeTelegram) ApproveJoinRequest(_ context.Context, _ int64, userID int64) error {
	f.approved = append(f.approved, userID)
	return nil
}

func (f *fakeTelegram) DeclineJoinRequest(_ context.Context, _ int64, userID int64) error {
	f.declined = append(f.declined, userID)
	return nil
}

func (f *fakeTelegram) BanMember(context.Context, int64, int64) error { return nil }

func (f *fakeTelegram) UnbanMember(context.Context, int64, int64) error { return nil }

func (f *fakeTelegram) SendMessage(_ context.Context, _ int64, text string) error {
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeTelegram) BotID() int64 { return 1 }

type fakeAuditor struct {
	entries []models.AuditEntry
}

func (f *fakeAuditor) Record(_ context.Context, entry models.AuditEntry) {
	f.entries = append(f.entries, entry)
}

func (f *fakeAuditor) find(action string) *models.AuditEntry {
	for i := range f.entries {
		if f.entries[i].Action == action {
			return &f.entries[i]
		}
	}
	return nil
}

type fakeDeduper struct {
	seen map[string]bool
}

func (f *fakeDeduper) MarkOnce(_ context.Context, key string, _ time.Duration) (bool, error) {
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

type fakeIssuer struct {
	link        string
	instruction string
	calls       int
}

func (f *fakeIssuer) IssueInvite(context.Context, *models.User, *models.Channel) (string, string, error) {
	f.calls++
	return f.link, f.instruction, nil
}

func newTestService(store *fakeStore, tg *fakeTelegram, auditor *fakeAuditor) *Service {
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	return New(log, store, tg, &fakeIssuer{}, auditor, nil)
}

func joinRequestUpdate(chatID, telegramID int64, link string) telego.Update {
	req := &telego.ChatJoinRequest{
		Chat: telego.Chat{ID: chatID},
		From: telego.User{ID: telegramID},
	}
	if link != "" {
		req.InviteLink = &telego.ChatInviteLink{InviteLink: link}
	}
	return telego.Update{UpdateID: 1, ChatJoinRequest: req}
}

func memberUpdate(chatID, telegramID int64, oldStatus, newStatus, link string) telego.Update {
	user := telego.User{ID: telegramID}
	upd := &telego.ChatMemberUpdated{
		Chat:          telego.Chat{ID: chatID},
		OldChatMember: memberWithStatus(oldStatus, user),
		NewChatMember: memberWithStatus(newStatus, user),
	}
	if link != "" {
		upd.InviteLink = &telego.ChatInviteLink{InviteLink: link}
	}
	return telego.Update{UpdateID: 2, ChatMember: upd}
}

func memberWithStatus(status string, user telego.User) telego.ChatMember {
	switch status {
	case "member":
		return &telego.ChatMemberMember{Status: status, User: user}
	case "kicked":
		return &telego.ChatMemberBanned{Status: status, User: user}
	default:
		return &telego.ChatMemberLeft{Status: status, User: user}
	}
}

func startUpdate(telegramID int64, text string) telego.Update {
	return telego.Update{
		UpdateID: 3,
		Message: &telego.Message{
			Chat: telego.Chat{ID: telegramID},
			From: &telego.User{ID: telegramID},
			Text: text,
		},
	}
}

func TestService_HandleJoinRequest(t *testing.T) {
	chatID := int64(-100500)

	t.Run("непривязанный аккаунт отклоняется", func(t *testing.T) {
		store := newFakeStore()
		tg := &fakeTelegram{}
		auditor := &fakeAuditor{}
		svc := newTestService(store, tg, auditor)

		svc.HandleUpdate(context.Background(), joinRequestUpdate(chatID, 777001, ""))

		assert.Equal(t, []int64{777001}, tg.declined)
		assert.Empty(t, tg.approved)

		entry := auditor.find(models.ActionJoinDeclined)
		require.NotNil(t, entry)
		assert.Equal(t, models.DeclineReasonUserNotFound, entry.Meta["reason"])
	})

	t.Run("без активного членства отклоняется", func(t *testing.T) {
		store := newFakeStore()
		telegramID := int64(777001)
		store.addUser(1, "ext-1", &telegramID)
		tg := &fakeTelegram{}
		auditor := &fakeAuditor{}
		svc := newTestService(store, tg, auditor)

		svc.HandleUpdate(context.Background(), joinRequestUpdate(chatID, telegramID, ""))

		assert.Equal(t, []int64{telegramID}, tg.declined)

		entry := auditor.find(models.ActionJoinDeclined)
		require.NotNil(t, entry)
		assert.Equal(t, models.DeclineReasonNoActiveMembership, entry.Meta["reason"])
	})

	t.Run("активное членство одобряется", func(t *testing.T) {
		store := newFakeStore()
		telegramID := int64(777001)
		store.addUser(1, "ext-1", &telegramID)
		store.memberships = append(store.memberships, &models.Membership{
			ID: 1, UserID: 1, ChatID: chatID,
			Status: models.MembershipStatusActive, CurrentPeriodEnd: time.Now().Add(time.Hour),
		})
		store.addInvite(1, 1, chatID, "https://t.me/+abc", time.Now().Add(time.Hour), time.Now())
		tg := &fakeTelegram{}
		auditor := &fakeAuditor{}
		svc := newTestService(store, tg, auditor)

		svc.HandleUpdate(context.Background(), joinRequestUpdate(chatID, telegramID, "https://t.me/+abc"))

		assert.Equal(t, []int64{telegramID}, tg.approved)
		assert.Empty(t, tg.declined)
		assert.NotNil(t, auditor.find(models.ActionJoinApproved))
		assert.True(t, store.invites[0].Used, "the invite from the request is marked used")
	})
}

func TestService_HandleMemberJoined_DirectAttribution(t *testing.T) {
	chatID := int64(-100500)
	store := newFakeStore()
	store.addUser(1, "ext-1", nil)
	store.addInvite(1, 1, chatID, "https://t.me/+abc", time.Now().Add(time.Hour), time.Now())
	tg := &fakeTelegram{}
	auditor := &fakeAuditor{}
	svc := newTestService(store, tg, auditor)

	svc.HandleUpdate(context.Background(), memberUpdate(chatID, 777001, "left", "member", "https://t.me/+abc"))

	inv := store.invites[0]
	assert.True(t, inv.Used)
	require.NotNil(t, inv.UsedByTelegramID)
	assert.Equal(t, int64(777001), *inv.UsedByTelegramID)

	owner := store.users[1]
	require.NotNil(t, owner.TelegramUserID, "joining links the account to the invite owner")
	assert.Equal(t, int64(777001), *owner.TelegramUserID)

	entry := auditor.find(models.ActionMemberJoined)
	require.NotNil(t, entry)
	assert.Equal(t, "direct", entry.Meta["attribution"])
}

func TestService_HandleMemberJoined_HeuristicAttribution(t *testing.T) {
	chatID := int64(-100500)
	store := newFakeStore()
	store.addUser(1, "ext-early", nil)
	store.addUser(2, "ext-late", nil)

	expireAt := time.Date(2024, 6, 1, 10, 15, 0, 0, time.UTC)
	store.addInvite(1, 1, chatID, "https://t.me/+early", expireAt,
		time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	store.addInvite(2, 2, chatID, "https://t.me/+late", expireAt,
		time.Date(2024, 6, 1, 10, 0, 5, 0, time.UTC))

	tg := &fakeTelegram{}
	auditor := &fakeAuditor{}
	svc := newTestService(store, tg, auditor)

	svc.HandleUpdate(context.Background(), memberUpdate(chatID, 777001, "left", "member", ""))

	late := store.invites[1]
	assert.True(t, late.Used, "the most recent live invite is attributed")
	assert.False(t, store.invites[0].Used)

	require.NotNil(t, store.users[2].TelegramUserID)
	assert.Equal(t, int64(777001), *store.users[2].TelegramUserID)
	assert.Nil(t, store.users[1].TelegramUserID)

	entry := auditor.find(models.ActionMemberJoined)
	require.NotNil(t, entry)
	assert.Equal(t, "heuristic", entry.Meta["attribution"])
}

func TestService_HandleMemberJoined_LinkedAccount(t *testing.T) {
	chatID := int64(-100500)

	t.Run("привязанный участник закрывает только собственный инвайт", func(t *testing.T) {
		store := newFakeStore()
		linkedID := int64(777001)
		store.addUser(1, "ext-linked", &linkedID)
		store.addUser(2, "ext-other", nil)
		store.addInvite(1, 1, chatID, "https://t.me/+own", time.Now().Add(time.Hour), time.Now())
		store.addInvite(2, 2, chatID, "https://t.me/+strangers", time.Now().Add(time.Hour),
			time.Now().Add(time.Minute))
		tg := &fakeTelegram{}
		auditor := &fakeAuditor{}
		svc := newTestService(store, tg, auditor)

		svc.HandleUpdate(context.Background(), memberUpdate(chatID, linkedID, "left", "member", ""))

		own := store.invites[0]
		assert.True(t, own.Used)
		require.NotNil(t, own.UsedByTelegramID)
		assert.Equal(t, linkedID, *own.UsedByTelegramID)
		assert.False(t, store.invites[1].Used, "someone else's invite stays live")

		entry := auditor.find(models.ActionMemberJoined)
		require.NotNil(t, entry)
		assert.Equal(t, "direct", entry.Meta["attribution"])
	})

	t.Run("привязанный участник без инвайта не забирает чужой", func(t *testing.T) {
		store := newFakeStore()
		linkedID := int64(777001)
		store.addUser(1, "ext-linked", &linkedID)
		store.addUser(2, "ext-holder", nil)
		store.addInvite(1, 2, chatID, "https://t.me/+strangers", time.Now().Add(time.Hour), time.Now())
		tg := &fakeTelegram{}
		auditor := &fakeAuditor{}
		svc := newTestService(store, tg, auditor)

		svc.HandleUpdate(context.Background(), memberUpdate(chatID, linkedID, "left", "member", ""))

		assert.False(t, store.invites[0].Used, "the holder's invite is not consumed")
		assert.Nil(t, store.invites[0].UsedByTelegramID)
		assert.Nil(t, store.users[2].TelegramUserID, "the holder stays unlinked")

		entry := auditor.find(models.ActionMemberJoined)
		require.NotNil(t, entry)
		assert.Equal(t, "none", entry.Meta["attribution"])
	})
}

func TestService_HandleMemberLeft_KeepsLedger(t *testing.T) {
	chatID := int64(-100500)
	store := newFakeStore()
	telegramID := int64(777001)
	store.addUser(1, "ext-1", &telegramID)
	store.memberships = append(store.memberships, &models.Membership{
		ID: 1, UserID: 1, ChatID: chatID,
		Status: models.MembershipStatusActive, CurrentPeriodEnd: time.Now().Add(time.Hour),
	})
	tg := &fakeTelegram{}
	auditor := &fakeAuditor{}
	svc := newTestService(store, tg, auditor)

	svc.HandleUpdate(context.Background(), memberUpdate(chatID, telegramID, "member", "left", ""))

	assert.Equal(t, models.MembershipStatusActive, store.memberships[0].Status,
		"leaving the channel must not touch the membership ledger")
	assert.NotNil(t, auditor.find(models.ActionMemberLeft))
}

func TestService_HandleStart(t *testing.T) {
	t.Run("корректный payload привязывает аккаунт", func(t *testing.T) {
		store := newFakeStore()
		store.addUser(1, "ext-1", nil)
		tg := &fakeTelegram{}
		auditor := &fakeAuditor{}
		svc := newTestService(store, tg, auditor)

		svc.HandleUpdate(context.Background(), startUpdate(777001, "/start ext-1"))

		require.NotNil(t, store.users[1].TelegramUserID)
		assert.Equal(t, int64(777001), *store.users[1].TelegramUserID)
		assert.NotNil(t, auditor.find(models.ActionStartLinked))
		require.Len(t, tg.messages, 1)
		assert.Contains(t, tg.messages[0], emptyStateText)
	})

	t.Run("payload с недопустимыми символами отклоняется", func(t *testing.T) {
		store := newFakeStore()
		store.addUser(1, "ext-1", nil)
		tg := &fakeTelegram{}
		auditor := &fakeAuditor{}
		svc := newTestService(store, tg, auditor)

		svc.HandleUpdate(context.Background(), startUpdate(777001, "/start ext 1; drop"))

		assert.Nil(t, store.users[1].TelegramUserID)
		entry := auditor.find(models.ActionStartRejected)
		require.NotNil(t, entry)
		assert.Equal(t, "invalid_payload", entry.Meta["reason"])
		assert.Equal(t, []string{startInvalidText}, tg.messages)
	})

	t.Run("новый payload создаёт пользователя и привязывает аккаунт", func(t *testing.T) {
		store := newFakeStore()
		tg := &fakeTelegram{}
		auditor := &fakeAuditor{}
		svc := newTestService(store, tg, auditor)

		svc.HandleUpdate(context.Background(), startUpdate(777001, "/start fresh-code"))

		created, ok := store.usersByExt["fresh-code"]
		require.True(t, ok)
		require.NotNil(t, created.TelegramUserID)
		assert.Equal(t, int64(777001), *created.TelegramUserID)
		require.NotNil(t, auditor.find(models.ActionStartLinked))
		require.Len(t, tg.messages, 1)
		assert.Contains(t, tg.messages[0], emptyStateText)
	})

	t.Run("привязка присылает состояние подписок одним сообщением", func(t *testing.T) {
		store := newFakeStore()
		store.addUser(1, "ext-1", nil)
		store.channels[-100500] = &models.Channel{ChatID: -100500, Title: "Paid Channel"}
		store.memberships = append(store.memberships, &models.Membership{
			ID: 1, UserID: 1, ChatID: -100500,
			Status:           models.MembershipStatusActive,
			CurrentPeriodEnd: time.Date(2024, 1, 30, 23, 59, 59, 0, time.UTC),
		})
		store.addInvite(1, 1, -100500, "https://t.me/+abc", time.Now().Add(time.Hour), time.Now())
		tg := &fakeTelegram{}
		svc := newTestService(store, tg, &fakeAuditor{})

		svc.HandleUpdate(context.Background(), startUpdate(777001, "/start ext-1"))

		require.Len(t, tg.messages, 1)
		assert.Contains(t, tg.messages[0], "Paid Channel")
		assert.Contains(t, tg.messages[0], "30.01.2024")
		assert.Contains(t, tg.messages[0], "https://t.me/+abc")
	})

	t.Run("без действующего инвайта выдаётся свежая ссылка", func(t *testing.T) {
		store := newFakeStore()
		store.addUser(1, "ext-1", nil)
		store.channels[-100500] = &models.Channel{ChatID: -100500, Title: "Paid Channel"}
		store.memberships = append(store.memberships, &models.Membership{
			ID: 1, UserID: 1, ChatID: -100500,
			Status:           models.MembershipStatusActive,
			CurrentPeriodEnd: time.Date(2024, 1, 30, 23, 59, 59, 0, time.UTC),
		})
		tg := &fakeTelegram{}
		issuer := &fakeIssuer{link: "https://t.me/+fresh"}
		log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
		svc := New(log, store, tg, issuer, &fakeAuditor{}, nil)

		svc.HandleUpdate(context.Background(), startUpdate(777001, "/start ext-1"))

		assert.Equal(t, 1, issuer.calls)
		require.Len(t, tg.messages, 1)
		assert.Contains(t, tg.messages[0], "https://t.me/+fresh")
	})

	t.Run("команда с тем же префиксом не считается /start", func(t *testing.T) {
		store := newFakeStore()
		tg := &fakeTelegram{}
		auditor := &fakeAuditor{}
		svc := newTestService(store, tg, auditor)

		svc.HandleUpdate(context.Background(), startUpdate(777001, "/startfoo"))

		assert.Empty(t, store.usersByExt, "no user is created for a foreign command")
		assert.Empty(t, tg.messages)
		assert.Nil(t, auditor.find(models.ActionStartRejected))
	})
}

func TestService_HandleUpdate_Dedup(t *testing.T) {
	store := newFakeStore()
	tg := &fakeTelegram{}
	auditor := &fakeAuditor{}
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	svc := New(log, store, tg, &fakeIssuer{}, auditor, &fakeDeduper{})

	update := joinRequestUpdate(-100500, 777001, "")
	svc.HandleUpdate(context.Background(), update)
	svc.HandleUpdate(context.Background(), update)

	assert.Len(t, tg.declined, 1, "the duplicate delivery is skipped")
}
