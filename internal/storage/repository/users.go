package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/telegram-paid-access/internal/models"
)

func scanUser(row *sql.Row) (*models.User, error) {
	u := &models.User{}
	var telegramUserID sql.NullInt64
	var telegramUsername sql.NullString
	if err := row.Scan(&u.ID, &u.ExternalID, &telegramUserID, &telegramUsername,
		&u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if telegramUserID.Valid {
		u.TelegramUserID = &telegramUserID.Int64
	}
	if telegramUsername.Valid {
		u.TelegramUsername = &telegramUsername.String
	}
	return u, nil
}

// UpsertUser создает пользователя по внешнему идентификатору или обновляет
// отметку времени существующего. Повторные вызовы с тем же идентификатором
// безопасны и возвращают одну и ту же запись.
func (s *Storage) UpsertUser(ctx context.Context, externalID string) (*models.User, error) {
	const op = "storage.UpsertUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO users (ext_user_id)
			  VALUES ($1)
			  ON CONFLICT (ext_user_id) DO UPDATE SET updated_at = now()
			  RETURNING id, ext_user_id, telegram_user_id, telegram_username, created_at, updated_at`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, externalID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// LinkTelegramAccount привязывает аккаунт Telegram к пользователю по внешнему
// идентификатору. Повторная привязка той же пары — no-op, возвращает запись.
func (s *Storage) LinkTelegramAccount(ctx context.Context, externalID string, telegramUserID int64, telegramUsername *string) (*models.User, error) {
	const op = "storage.LinkTelegramAccount"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET telegram_user_id = $2,
			      telegram_username = COALESCE($3, telegram_username),
			      updated_at = now()
			  WHERE ext_user_id = $1
			  RETURNING id, ext_user_id, telegram_user_id, telegram_username, created_at, updated_at`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, externalID, telegramUserID, telegramUsername))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// GetUserByExternalID возвращает пользователя по внешнему идентификатору.
func (s *Storage) GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	const op = "storage.GetUserByExternalID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, ext_user_id, telegram_user_id, telegram_username, created_at, updated_at
			  FROM users
			  WHERE ext_user_id = $1`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// GetUserByTelegramID возвращает пользователя по идентификатору аккаунта
// Telegram. Возвращает (nil, nil), если привязки нет: для коррелятора
// событий это нормальный исход, а не ошибка.
func (s *Storage) GetUserByTelegramID(ctx context.Context, telegramUserID int64) (*models.User, error) {
	const op = "storage.GetUserByTelegramID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, ext_user_id, telegram_user_id, telegram_username, created_at, updated_at
			  FROM users
			  WHERE telegram_user_id = $1`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, telegramUserID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// GetUserByID возвращает пользователя по внутреннему идентификатору.
func (s *Storage) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	const op = "storage.GetUserByID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, ext_user_id, telegram_user_id, telegram_username, created_at, updated_at
			  FROM users
			  WHERE id = $1`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}
