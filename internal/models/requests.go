package models

// Машиночитаемые теги ошибок выдачи доступа по отдельному каналу.
const (
	ErrTagChannelNotFound       = "CHANNEL_NOT_FOUND"
	ErrTagInviteCreationFailed  = "INVITE_LINK_CREATION_FAILED"
	ErrTagMembershipWriteFailed = "MEMBERSHIP_WRITE_FAILED"
)

// DummyGrantRequest используется для приёма запроса на выдачу доступа
// из JSON, прежде чем передать его в бизнес-логику.
type DummyGrantRequest struct {
	ExternalUserID string  `json:"external_user_id" validate:"required"`      // Внешний идентификатор покупателя
	ChatIDs        []int64 `json:"chat_ids" validate:"required,min=1"`        // Каналы, к которым выдаётся доступ
	PeriodDays     int     `json:"period_days" validate:"required,gt=0"`      // Срок доступа в днях (>0)
	Reference      string  `json:"reference,omitempty" validate:"omitempty"`  // Ссылка на платёж или заказ
}

// GrantChatResult — результат выдачи доступа по одному каналу.
// Заполнено либо Link/Instruction, либо ErrorTag.
type GrantChatResult struct {
	ChatID      int64  `json:"chat_id"`
	Link        string `json:"link,omitempty"`        // Инвайт-ссылка (политика invite_link)
	Instruction string `json:"instruction,omitempty"` // Текстовая инструкция (политика join_request)
	ErrorTag    string `json:"error,omitempty"`       // Один из ErrTag* выше
}

// DummyForceRemoveRequest — запрос оператора на принудительное удаление
// пользователя из канала.
type DummyForceRemoveRequest struct {
	ExternalUserID string `json:"external_user_id" validate:"required"`
	ChatID         int64  `json:"chat_id" validate:"required"`
	Reason         string `json:"reason" validate:"required"`
	DryRun         bool   `json:"dry_run"`
}

// ForceRemoveResult описывает точный исход принудительного удаления:
// бан и пометка членства истёкшим выполняются независимо, частичный
// успех — нормальный результат, а не ошибка.
type ForceRemoveResult struct {
	DryRun            bool   `json:"dry_run"`
	Removed           bool   `json:"removed"`            // Бан выполнен
	ExpiredMembership bool   `json:"expired_membership"` // Запись членства помечена истёкшей
	WouldBan          bool   `json:"would_ban,omitempty"`
	WouldExpire       bool   `json:"would_expire,omitempty"`
	BanError          string `json:"ban_error,omitempty"`
}

// DummyChannelRequest — запрос на регистрацию или обновление канала.
// ChatID принимается строкой: оператор может указать идентификатор
// без префикса -100, тогда выполняется повторная попытка с префиксом.
type DummyChannelRequest struct {
	ChatID            string `json:"chat_id" validate:"required"`
	Title             string `json:"title,omitempty"`
	JoinPolicy        string `json:"join_policy,omitempty" validate:"omitempty,oneof=invite_link join_request"`
	InviteTTLSeconds  *int   `json:"invite_ttl_seconds,omitempty" validate:"omitempty,gt=0"`
	InviteMemberLimit *int   `json:"invite_member_limit,omitempty" validate:"omitempty,gt=0"`
}
