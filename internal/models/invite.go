package models

import "time"

// Invite — выпущенная инвайт-ссылка. Для пары (пользователь, канал) может
// существовать несколько ссылок, выпущенных в разное время; к входящему
// событию вступления пригодна только неиспользованная, неотозванная
// и непросроченная ссылка.
type Invite struct {
	ID               int64     // Внутренний идентификатор
	UserID           int64     // Владелец ссылки
	ChatID           int64     // Канал, в который ведёт ссылка
	Link             string    // Сама инвайт-ссылка
	ExpireAt         time.Time // Момент истечения ссылки
	MemberLimit      int       // Лимит использований
	Used             bool      // Ссылка была использована для вступления
	Revoked          bool      // Ссылка отозвана
	UsedByTelegramID *int64    // Кто вступил по ссылке, nil пока не использована
	CreatedAt        time.Time // Дата выпуска
}
