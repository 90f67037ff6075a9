package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/telegram-paid-access/internal/models"
)

func scanChannel(scan func(dest ...any) error) (*models.Channel, error) {
	ch := &models.Channel{}
	var ttl, limit sql.NullInt64
	if err := scan(&ch.ChatID, &ch.Title, &ch.JoinPolicy, &ttl, &limit,
		&ch.CreatedAt, &ch.UpdatedAt); err != nil {
		return nil, err
	}
	if ttl.Valid {
		v := int(ttl.Int64)
		ch.InviteTTLSeconds = &v
	}
	if limit.Valid {
		v := int(limit.Int64)
		ch.InviteMemberLimit = &v
	}
	return ch, nil
}

// UpsertChannel создает канал или обновляет его настройки на месте.
func (s *Storage) UpsertChannel(ctx context.Context, ch models.Channel) (*models.Channel, error) {
	const op = "storage.UpsertChannel"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO channels (chat_id, title, join_policy, invite_ttl_seconds, invite_member_limit)
			  VALUES ($1, $2, $3, $4, $5)
			  ON CONFLICT (chat_id) DO UPDATE
			  SET title = EXCLUDED.title,
			      join_policy = EXCLUDED.join_policy,
			      invite_ttl_seconds = EXCLUDED.invite_ttl_seconds,
			      invite_member_limit = EXCLUDED.invite_member_limit,
			      updated_at = now()
			  RETURNING chat_id, title, join_policy, invite_ttl_seconds, invite_member_limit, created_at, updated_at`
	row := s.DB.QueryRowContext(ctx, query,
		ch.ChatID, ch.Title, ch.JoinPolicy, ch.InviteTTLSeconds, ch.InviteMemberLimit)
	result, err := scanChannel(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// GetChannel возвращает настройки канала по идентификатору чата.
func (s *Storage) GetChannel(ctx context.Context, chatID int64) (*models.Channel, error) {
	const op = "storage.GetChannel"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT chat_id, title, join_policy, invite_ttl_seconds, invite_member_limit, created_at, updated_at
			  FROM channels
			  WHERE chat_id = $1`
	row := s.DB.QueryRowContext(ctx, query, chatID)
	result, err := scanChannel(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, ErrChannelNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// ListChannels возвращает все зарегистрированные каналы.
func (s *Storage) ListChannels(ctx context.Context) ([]*models.Channel, error) {
	const op = "storage.ListChannels"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT chat_id, title, join_policy, invite_ttl_seconds, invite_member_limit, created_at, updated_at
			  FROM channels
			  ORDER BY created_at`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Channel
	for rows.Next() {
		ch, err := scanChannel(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, ch)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
