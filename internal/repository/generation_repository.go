package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/LincolnGameplays/emprataai/internal/models"
)

type GenerationRepository struct {
	db *sql.DB
}

func NewGenerationRepository(db *sql.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

func (r *GenerationRepository) Log(ctx context.Context, entry models.GenerationLog) error {
	const query = `
INSERT INTO generation_logs (attempt_id, account_id, provider, vibe, angle, light, outcome, charged)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, entry.AttemptID, entry.AccountID, entry.Provider, entry.Style.Vibe, entry.Style.Angle, entry.Style.Light, entry.Outcome, entry.Charged); err != nil {
		return fmt.Errorf("insert generation log: %w", err)
	}
	return nil
}

// CountForDay counts successful generations of the account on the UTC day of day.
func (r *GenerationRepository) CountForDay(ctx context.Context, accountID int64, day time.Time) (int, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	const query = `
SELECT COUNT(*) FROM generation_logs
WHERE account_id = ? AND outcome = ? AND created_at >= ? AND created_at < ?`
	row := r.db.QueryRowContext(ctx, query, accountID, models.OutcomeSucceeded, start, end)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count daily generations: %w", err)
	}
	return count, nil
}
