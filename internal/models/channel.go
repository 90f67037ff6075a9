package models

import "time"

// Политика вступления в канал.
const (
	// JoinPolicyInviteLink — доступ по одноразовой инвайт-ссылке.
	JoinPolicyInviteLink = "invite_link"
	// JoinPolicyJoinRequest — доступ через заявку на вступление с одобрением ботом.
	JoinPolicyJoinRequest = "join_request"
)

// Channel описывает настройки одного платного канала.
type Channel struct {
	ChatID            int64     // Идентификатор чата в Telegram (уникальный)
	Title             string    // Отображаемое название
	JoinPolicy        string    // Политика вступления: invite_link или join_request
	InviteTTLSeconds  *int      // Переопределение TTL инвайт-ссылки, nil — глобальное значение
	InviteMemberLimit *int      // Переопределение лимита использований, nil — глобальное значение
	CreatedAt         time.Time // Дата создания записи
	UpdatedAt         time.Time // Дата последнего обновления
}
