package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/magabrotheeeer/telegram-paid-access/internal/models"
)

// CreateAuditEntry дописывает запись в журнал аудита.
func (s *Storage) CreateAuditEntry(ctx context.Context, entry models.AuditEntry) error {
	const op = "storage.CreateAuditEntry"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var meta []byte
	if entry.Meta != nil {
		var err error
		meta, err = json.Marshal(entry.Meta)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	query := `INSERT INTO audit_entries (action, user_id, telegram_user_id, chat_id, reference, meta)
			  VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.DB.ExecContext(ctx, query,
		entry.Action, entry.UserID, entry.TelegramUserID, entry.ChatID, entry.Reference, meta)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListRecentAuditEntries возвращает последние записи журнала, новые первыми.
func (s *Storage) ListRecentAuditEntries(ctx context.Context, limit int) ([]*models.AuditEntry, error) {
	const op = "storage.ListRecentAuditEntries"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, action, user_id, telegram_user_id, chat_id, reference, meta, created_at
			  FROM audit_entries
			  ORDER BY created_at DESC, id DESC
			  LIMIT $1`
	rows, err := s.DB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.AuditEntry
	for rows.Next() {
		e := &models.AuditEntry{}
		var userID, telegramUserID, chatID sql.NullInt64
		var reference sql.NullString
		var meta []byte
		if err = rows.Scan(&e.ID, &e.Action, &userID, &telegramUserID, &chatID,
			&reference, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if userID.Valid {
			e.UserID = &userID.Int64
		}
		if telegramUserID.Valid {
			e.TelegramUserID = &telegramUserID.Int64
		}
		if chatID.Valid {
			e.ChatID = &chatID.Int64
		}
		if reference.Valid {
			e.Reference = &reference.String
		}
		if len(meta) > 0 {
			if err = json.Unmarshal(meta, &e.Meta); err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
		}
		result = append(result, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
