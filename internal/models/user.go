// Package models содержит доменные структуры сервиса платного доступа:
// пользователей, каналы, членства, инвайт-ссылки и записи аудита,
// а также вспомогательные типы для приёма данных из JSON-запросов.
package models

import "time"

// User представляет покупателя доступа. Внешний идентификатор назначается
// платёжной системой и является ключом для связывания; Telegram-аккаунт
// становится известен позже, после первого контакта с ботом.
type User struct {
	ID               int64      // Внутренний идентификатор
	ExternalID       string     // Внешний идентификатор из платёжной системы (уникальный)
	TelegramUserID   *int64     // Идентификатор аккаунта Telegram, nil пока не привязан
	TelegramUsername *string    // Username в Telegram, nil пока не известен
	CreatedAt        time.Time  // Дата создания записи
	UpdatedAt        time.Time  // Дата последнего обновления
}
