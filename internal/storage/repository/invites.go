package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/telegram-paid-access/internal/models"
)

func scanInvite(scan func(dest ...any) error) (*models.Invite, error) {
	inv := &models.Invite{}
	var usedBy sql.NullInt64
	if err := scan(&inv.ID, &inv.UserID, &inv.ChatID, &inv.Link, &inv.ExpireAt,
		&inv.MemberLimit, &inv.Used, &inv.Revoked, &usedBy, &inv.CreatedAt); err != nil {
		return nil, err
	}
	if usedBy.Valid {
		inv.UsedByTelegramID = &usedBy.Int64
	}
	return inv, nil
}

const inviteColumns = `id, user_id, chat_id, link, expire_at, member_limit, used, revoked, used_by_telegram_id, created_at`

// CreateInvite сохраняет выпущенную инвайт-ссылку и возвращает её ID.
func (s *Storage) CreateInvite(ctx context.Context, inv models.Invite) (int64, error) {
	const op = "storage.CreateInvite"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var newID int64
	query := `INSERT INTO invites (user_id, chat_id, link, expire_at, member_limit)
			  VALUES ($1, $2, $3, $4, $5)
			  RETURNING id`
	if err := s.DB.QueryRowContext(ctx, query,
		inv.UserID, inv.ChatID, inv.Link, inv.ExpireAt, inv.MemberLimit).Scan(&newID); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// FindUnusedInvite возвращает последнюю неиспользованную и неотозванную
// ссылку пары (пользователь, канал) или (nil, nil).
func (s *Storage) FindUnusedInvite(ctx context.Context, userID, chatID int64) (*models.Invite, error) {
	const op = "storage.FindUnusedInvite"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + inviteColumns + `
			  FROM invites
			  WHERE user_id = $1 AND chat_id = $2 AND NOT used AND NOT revoked
			  ORDER BY created_at DESC
			  LIMIT 1`
	inv, err := scanInvite(s.DB.QueryRowContext(ctx, query, userID, chatID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return inv, nil
}

// FindAttributionCandidate возвращает самую свежую неиспользованную,
// неотозванную и непросроченную ссылку канала — кандидата для эвристической
// привязки вступившего аккаунта. Отсутствие кандидата — нормальный исход.
func (s *Storage) FindAttributionCandidate(ctx context.Context, chatID int64, now time.Time) (*models.Invite, error) {
	const op = "storage.FindAttributionCandidate"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + inviteColumns + `
			  FROM invites
			  WHERE chat_id = $1 AND NOT used AND NOT revoked AND expire_at > $2
			  ORDER BY created_at DESC
			  LIMIT 1`
	inv, err := scanInvite(s.DB.QueryRowContext(ctx, query, chatID, now).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return inv, nil
}

// GetInviteByLink возвращает ссылку по её тексту или (nil, nil): событие
// вступления может прийти по ссылке, выпущенной не этим сервисом.
func (s *Storage) GetInviteByLink(ctx context.Context, link string, chatID int64) (*models.Invite, error) {
	const op = "storage.GetInviteByLink"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + inviteColumns + `
			  FROM invites
			  WHERE link = $1 AND chat_id = $2
			  ORDER BY created_at DESC
			  LIMIT 1`
	inv, err := scanInvite(s.DB.QueryRowContext(ctx, query, link, chatID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return inv, nil
}

// FindLatestUsedInvite возвращает последнюю использованную ссылку пары
// (пользователь, канал) с известным аккаунтом вступившего или (nil, nil).
// Запасной путь разрешения аккаунта для планировщика.
func (s *Storage) FindLatestUsedInvite(ctx context.Context, userID, chatID int64) (*models.Invite, error) {
	const op = "storage.FindLatestUsedInvite"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + inviteColumns + `
			  FROM invites
			  WHERE user_id = $1 AND chat_id = $2 AND used AND used_by_telegram_id IS NOT NULL
			  ORDER BY created_at DESC
			  LIMIT 1`
	inv, err := scanInvite(s.DB.QueryRowContext(ctx, query, userID, chatID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return inv, nil
}

// MarkInviteUsed идемпотентно помечает ссылку использованной. Аккаунт
// вступившего фиксируется только первым вызовом.
func (s *Storage) MarkInviteUsed(ctx context.Context, link string, chatID, telegramUserID int64) error {
	const op = "storage.MarkInviteUsed"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE invites
			  SET used = TRUE,
			      used_by_telegram_id = COALESCE(used_by_telegram_id, $3)
			  WHERE link = $1 AND chat_id = $2`
	_, err := s.DB.ExecContext(ctx, query, link, chatID, telegramUserID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// MarkUserInvitesUsed помечает использованными все оставшиеся ссылки пары
// (пользователь, канал). Применяется, когда пользователь уже состоит в
// канале: вступление произошло до привязки аккаунта.
func (s *Storage) MarkUserInvitesUsed(ctx context.Context, userID, chatID, telegramUserID int64) (int64, error) {
	const op = "storage.MarkUserInvitesUsed"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE invites
			  SET used = TRUE,
			      used_by_telegram_id = COALESCE(used_by_telegram_id, $3)
			  WHERE user_id = $1 AND chat_id = $2 AND NOT used`
	res, err := s.DB.ExecContext(ctx, query, userID, chatID, telegramUserID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

// MarkInviteRevoked помечает ссылку отозванной.
func (s *Storage) MarkInviteRevoked(ctx context.Context, link string, chatID int64) error {
	const op = "storage.MarkInviteRevoked"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE invites
			  SET revoked = TRUE
			  WHERE link = $1 AND chat_id = $2`
	_, err := s.DB.ExecContext(ctx, query, link, chatID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
