package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/david/deal-pulse/internal/models"
)

const scanRunCols = `id, user_id, status, total_deals, skipped_records, zombie_count,
	notifications_created, notifications_deduplicated, notifications_failed,
	revenue_at_risk::float8, error, started_at, completed_at`

func scanScanRun(scan func(dest ...interface{}) error) (models.ScanRun, error) {
	var r models.ScanRun
	err := scan(
		&r.ID, &r.UserID, &r.Status, &r.TotalDeals, &r.SkippedRecords, &r.ZombieCount,
		&r.NotificationsCreated, &r.NotificationsDeduplicated, &r.NotificationsFailed,
		&r.RevenueAtRisk, &r.Error, &r.StartedAt, &r.CompletedAt,
	)
	return r, err
}

func (s *Store) StartScanRun(ctx context.Context, userID uuid.UUID, startedAt time.Time) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO scan_runs (user_id, status, started_at)
		VALUES ($1, 'running', $2)
		RETURNING id
	`, userID, startedAt).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert scan run: %w", err)
	}
	return id, nil
}

func (s *Store) FinishScanRun(ctx context.Context, run models.ScanRun) error {
	completed := time.Now().UTC()
	if run.CompletedAt != nil {
		completed = *run.CompletedAt
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE scan_runs SET
			status = $2,
			total_deals = $3,
			skipped_records = $4,
			zombie_count = $5,
			notifications_created = $6,
			notifications_deduplicated = $7,
			notifications_failed = $8,
			revenue_at_risk = $9,
			error = $10,
			completed_at = $11
		WHERE id = $1
	`, run.ID, run.Status, run.TotalDeals, run.SkippedRecords, run.ZombieCount,
		run.NotificationsCreated, run.NotificationsDeduplicated, run.NotificationsFailed,
		run.RevenueAtRisk, run.Error, completed)
	if err != nil {
		return fmt.Errorf("update scan run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PreviousZombieCount reports the zombie count of the user's latest finished
// scan that saw deals. ok is false when there is none.
func (s *Store) PreviousZombieCount(ctx context.Context, userID uuid.UUID) (int, bool, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT zombie_count FROM scan_runs
		WHERE user_id = $1 AND status IN ('completed', 'partial')
		ORDER BY started_at DESC
		LIMIT 1
	`, userID).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return count, true, nil
}

func (s *Store) ListScanRuns(ctx context.Context, userID uuid.UUID, limit int) ([]models.ScanRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM scan_runs
		WHERE user_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, scanRunCols), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	runs := []models.ScanRun{}
	for rows.Next() {
		r, err := scanScanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RecentScanRuns lists the latest runs across all users.
func (s *Store) RecentScanRuns(ctx context.Context, limit int) ([]models.ScanRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM scan_runs ORDER BY started_at DESC LIMIT $1
	`, scanRunCols), limit)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	runs := []models.ScanRun{}
	for rows.Next() {
		r, err := scanScanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Store) GetScanRun(ctx context.Context, userID, id uuid.UUID) (*models.ScanRun, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM scan_runs WHERE id = $1 AND user_id = $2`, scanRunCols), id, userID)
	r, err := scanScanRun(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
