package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/david/deal-pulse/internal/models"
)

func (s *Store) CreateAnnouncement(ctx context.Context, a *models.Announcement) error {
	if a.StartDate.IsZero() {
		a.StartDate = time.Now().UTC()
	}
	if a.Type == "" {
		a.Type = "general"
	}
	if a.Level == "" {
		a.Level = models.LevelInfo
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO announcements (type, level, title, message, is_active, start_date, end_date)
		VALUES ($1, $2, $3, $4, TRUE, $5, $6)
		RETURNING id, is_active, created_at
	`, a.Type, string(a.Level), a.Title, a.Message, a.StartDate, a.EndDate).Scan(&a.ID, &a.IsActive, &a.CreatedAt)
}

// ActiveAnnouncements returns live announcements the user has not dismissed.
func (s *Store) ActiveAnnouncements(ctx context.Context, userID uuid.UUID) ([]models.Announcement, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.type, a.level, a.title, a.message, a.is_active, a.start_date, a.end_date, a.created_at
		FROM announcements a
		WHERE a.is_active = TRUE
		  AND a.start_date <= NOW()
		  AND (a.end_date IS NULL OR a.end_date > NOW())
		  AND NOT EXISTS (
			SELECT 1 FROM announcement_dismissals d
			WHERE d.announcement_id = a.id AND d.user_id = $1
		  )
		ORDER BY a.start_date DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	out := []models.Announcement{}
	for rows.Next() {
		var a models.Announcement
		var level string
		if err := rows.Scan(&a.ID, &a.Type, &level, &a.Title, &a.Message, &a.IsActive, &a.StartDate, &a.EndDate, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		a.Level = models.NotificationLevel(level)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) DismissAnnouncement(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO announcement_dismissals (announcement_id, user_id)
		SELECT id, $2 FROM announcements WHERE id = $1
		ON CONFLICT (announcement_id, user_id) DO NOTHING
	`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM announcements WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}
