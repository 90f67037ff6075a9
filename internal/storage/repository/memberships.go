package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/telegram-paid-access/internal/models"
)

func scanMembership(scan func(dest ...any) error) (*models.Membership, error) {
	m := &models.Membership{}
	if err := scan(&m.ID, &m.UserID, &m.ChatID, &m.Status, &m.CurrentPeriodEnd,
		&m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return m, nil
}

// UpsertMembership создает запись членства или перезаписывает статус и дату
// окончания существующей. Для пары (user_id, chat_id) существует не более
// одной записи; при гонке одновременных выдач побеждает последняя запись.
func (s *Storage) UpsertMembership(ctx context.Context, userID, chatID int64, status string, periodEnd time.Time) (*models.Membership, error) {
	const op = "storage.UpsertMembership"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO memberships (user_id, chat_id, status, current_period_end)
			  VALUES ($1, $2, $3, $4)
			  ON CONFLICT (user_id, chat_id) DO UPDATE
			  SET status = EXCLUDED.status,
			      current_period_end = EXCLUDED.current_period_end,
			      updated_at = now()
			  RETURNING id, user_id, chat_id, status, current_period_end, created_at, updated_at`
	row := s.DB.QueryRowContext(ctx, query, userID, chatID, status, periodEnd)
	m, err := scanMembership(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return m, nil
}

// GetActiveMembership возвращает активное членство для пары (пользователь,
// канал) или (nil, nil), если его нет. Используется как шлюз одобрения
// заявок на вступление.
func (s *Storage) GetActiveMembership(ctx context.Context, userID, chatID int64) (*models.Membership, error) {
	const op = "storage.GetActiveMembership"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_id, chat_id, status, current_period_end, created_at, updated_at
			  FROM memberships
			  WHERE user_id = $1 AND chat_id = $2 AND status = 'active'`
	row := s.DB.QueryRowContext(ctx, query, userID, chatID)
	m, err := scanMembership(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return m, nil
}

// ListActiveMemberships возвращает все активные членства пользователя.
func (s *Storage) ListActiveMemberships(ctx context.Context, userID int64) ([]*models.Membership, error) {
	const op = "storage.ListActiveMemberships"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_id, chat_id, status, current_period_end, created_at, updated_at
			  FROM memberships
			  WHERE user_id = $1 AND status = 'active'
			  ORDER BY chat_id`
	rows, err := s.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Membership
	for rows.Next() {
		m, err := scanMembership(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// FindLapsedMemberships возвращает активные членства, чей оплаченный период
// закончился к моменту cutoff. Запрос идёт по индексу (status, current_period_end).
func (s *Storage) FindLapsedMemberships(ctx context.Context, cutoff time.Time) ([]*models.Membership, error) {
	const op = "storage.FindLapsedMemberships"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_id, chat_id, status, current_period_end, created_at, updated_at
			  FROM memberships
			  WHERE status = 'active' AND current_period_end <= $1
			  ORDER BY current_period_end`
	rows, err := s.DB.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Membership
	for rows.Next() {
		m, err := scanMembership(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// MarkMembershipExpired помечает запись истёкшей. Повторная пометка уже
// истёкшей записи — no-op.
func (s *Storage) MarkMembershipExpired(ctx context.Context, id int64) error {
	const op = "storage.MarkMembershipExpired"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE memberships
			  SET status = 'expired', updated_at = now()
			  WHERE id = $1`
	_, err := s.DB.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
