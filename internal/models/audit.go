package models

import "time"

// Теги действий для журнала аудита.
const (
	ActionAccessGranted      = "ACCESS_GRANTED"
	ActionJoinApproved       = "JOIN_APPROVED"
	ActionJoinDeclined       = "JOIN_DECLINED"
	ActionMemberJoined       = "MEMBER_JOINED"
	ActionMemberLeft         = "MEMBER_LEFT"
	ActionBotStatusChanged   = "BOT_STATUS_CHANGED"
	ActionInviteCreated      = "INVITE_CREATED"
	ActionInviteCreateFailed = "INVITE_CREATE_FAILED"
	ActionInviteRevoked      = "INVITE_REVOKED"
	ActionMembershipExpired  = "MEMBERSHIP_EXPIRED"
	ActionBanFailed          = "BAN_FAILED"
	ActionForceRemove        = "FORCE_REMOVE"
	ActionSchedulerRun       = "SCHEDULER_RUN"
	ActionStartLinked        = "START_LINKED"
	ActionStartRejected      = "START_REJECTED"
)

// Причины отклонения заявки на вступление.
const (
	DeclineReasonUserNotFound       = "user_not_found"
	DeclineReasonNoActiveMembership = "no_active_membership"
)

// AuditEntry — неизменяемая запись журнала о переходе состояния.
// Журнал только дописывается и не участвует в принятии решений.
type AuditEntry struct {
	ID             int64          // Внутренний идентификатор
	Action         string         // Тег действия
	UserID         *int64         // Пользователь, если известен
	TelegramUserID *int64         // Аккаунт Telegram, если известен
	ChatID         *int64         // Канал, если применимо
	Reference      *string        // Внешняя ссылка (например, номер платежа)
	Meta           map[string]any // Произвольные детали события
	CreatedAt      time.Time      // Момент записи
}
