package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Единственная запись отметки планировщика.
const schedulerStateID = "membership_expiry_worker"

// GetSchedulerWatermark возвращает момент последнего завершённого прохода
// планировщика или nil, если проходов ещё не было.
func (s *Storage) GetSchedulerWatermark(ctx context.Context) (*time.Time, error) {
	const op = "storage.GetSchedulerWatermark"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var lastRun time.Time
	query := `SELECT last_run_at FROM scheduler_state WHERE id = $1`
	err := s.DB.QueryRowContext(ctx, query, schedulerStateID).Scan(&lastRun)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &lastRun, nil
}

// UpsertSchedulerWatermark записывает момент завершённого прохода.
// Отметка монотонно не убывает: более старое значение не перезаписывает новое.
func (s *Storage) UpsertSchedulerWatermark(ctx context.Context, lastRun time.Time) error {
	const op = "storage.UpsertSchedulerWatermark"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO scheduler_state (id, last_run_at)
			  VALUES ($1, $2)
			  ON CONFLICT (id) DO UPDATE
			  SET last_run_at = GREATEST(scheduler_state.last_run_at, EXCLUDED.last_run_at)`
	_, err := s.DB.ExecContext(ctx, query, schedulerStateID, lastRun)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
