package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const (
	MinContestMinutes     = 10
	MaxContestMinutes     = 180
	DefaultContestMinutes = 60
)

// SettingsService owns the process-wide contest settings. The duration is
// read once at session creation; changing it affects only sessions started
// afterwards.
type SettingsService struct {
	db *sql.DB
}

func NewSettingsService(db *sql.DB) *SettingsService {
	return &SettingsService{db: db}
}

func (s *SettingsService) ContestDurationMinutes(ctx context.Context) (int, error) {
	var minutes int
	err := s.db.QueryRowContext(ctx, `
		SELECT duration_minutes FROM contest_settings WHERE id = 1
	`).Scan(&minutes)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultContestMinutes, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query contest settings: %w", err)
	}
	return minutes, nil
}

func (s *SettingsService) UpdateContestDuration(ctx context.Context, minutes int) error {
	if minutes < MinContestMinutes || minutes > MaxContestMinutes {
		return fmt.Errorf("%w: must be between %d and %d minutes", ErrInvalidDuration, MinContestMinutes, MaxContestMinutes)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contest_settings (id, duration_minutes)
		VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET duration_minutes = EXCLUDED.duration_minutes, updated_at = now()
	`, minutes)
	if err != nil {
		return fmt.Errorf("update contest settings: %w", err)
	}
	return nil
}
