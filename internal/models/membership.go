package models

import "time"

// Статусы членства.
const (
	// MembershipStatusActive — оплаченный период ещё не закончился.
	MembershipStatusActive = "active"
	// MembershipStatusCancelled — членство отменено явно.
	MembershipStatusCancelled = "cancelled"
	// MembershipStatusExpired — срок истёк и пользователь удалён из канала.
	MembershipStatusExpired = "expired"
)

// Membership — единственная запись о членстве для пары (пользователь, канал).
// Продление перезаписывает статус и дату окончания на месте, история не ведётся.
type Membership struct {
	ID               int64     // Внутренний идентификатор
	UserID           int64     // Ссылка на пользователя
	ChatID           int64     // Идентификатор чата
	Status           string    // active, cancelled или expired
	CurrentPeriodEnd time.Time // Момент окончания оплаченного периода
	CreatedAt        time.Time // Дата создания записи
	UpdatedAt        time.Time // Дата последнего обновления
}
