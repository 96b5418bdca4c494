package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/david/deal-pulse/internal/models"
	"github.com/david/deal-pulse/internal/notify"
)

var ErrNotFound = errors.New("not found")

const defaultCooldown = 72 * time.Hour

type Store struct {
	pool     *pgxpool.Pool
	cooldown time.Duration
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, cooldown: defaultCooldown}
}

// WithCooldown sets how long a read or dismissed alert suppresses a repeat.
func (s *Store) WithCooldown(d time.Duration) *Store {
	if d > 0 {
		s.cooldown = d
	}
	return s
}

// Pool exposes the underlying pool for services that share it.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

type NotificationFilter string

const (
	FilterAll    NotificationFilter = "all"
	FilterUnread NotificationFilter = "unread"
)

type NotificationListParams struct {
	UserID uuid.UUID
	Filter NotificationFilter
	Type   models.NotificationType
	Limit  int
}

const notificationCols = `id, user_id, type, level, title, message, metadata, fingerprint,
	is_read, is_dismissed, action_url, action_label, created_at, read_at, dismissed_at`

func scanNotification(scan func(dest ...interface{}) error) (models.Notification, error) {
	var n models.Notification
	var typ, level string
	var metaRaw []byte

	err := scan(
		&n.ID, &n.UserID, &typ, &level, &n.Title, &n.Message, &metaRaw, &n.Fingerprint,
		&n.IsRead, &n.IsDismissed, &n.ActionURL, &n.ActionLabel, &n.CreatedAt, &n.ReadAt, &n.DismissedAt,
	)
	if err != nil {
		return n, err
	}
	n.Type = models.NotificationType(typ)
	n.Level = models.NotificationLevel(level)
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &n.Metadata); err != nil {
			return n, fmt.Errorf("decoding metadata of notification %s: %w", n.ID, err)
		}
	}
	return n, nil
}

// createNotificationSQL inserts a notification unless one with the same
// fingerprint was read or dismissed within the cooldown. An open one with
// the same fingerprint is refreshed in place through the partial unique
// index. No returned row means the write was suppressed.
const createNotificationSQL = `
	INSERT INTO notifications (user_id, type, level, title, message, metadata, fingerprint, action_url, action_label)
	SELECT $1::uuid, $2::text, $3::text, $4::text, $5::text, $6::jsonb, $7::text, $8::text, $9::text
	WHERE $7::text IS NULL OR NOT EXISTS (
		SELECT 1 FROM notifications
		WHERE user_id = $1
		  AND fingerprint = $7::text
		  AND (is_read = TRUE OR is_dismissed = TRUE)
		  AND COALESCE(dismissed_at, read_at, created_at) > NOW() - make_interval(secs => $10::float8)
	)
	ON CONFLICT (user_id, fingerprint) WHERE fingerprint IS NOT NULL AND is_read = FALSE AND is_dismissed = FALSE
	DO UPDATE SET
		level = EXCLUDED.level,
		title = EXCLUDED.title,
		message = EXCLUDED.message,
		metadata = EXCLUDED.metadata,
		action_url = EXCLUDED.action_url,
		action_label = EXCLUDED.action_label,
		updated_at = NOW()
	RETURNING id, created_at, (xmax = 0) AS inserted`

func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) (models.Delivery, error) {
	meta := n.Metadata
	if meta == nil {
		meta = map[string]interface{}{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return models.Delivery{}, fmt.Errorf("encoding metadata: %w", err)
	}

	var inserted bool
	err = s.pool.QueryRow(ctx, createNotificationSQL,
		n.UserID, string(n.Type), string(n.Level), n.Title, n.Message, metaJSON,
		n.Fingerprint, n.ActionURL, n.ActionLabel, s.cooldown.Seconds(),
	).Scan(&n.ID, &n.CreatedAt, &inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Delivery{Outcome: models.DeliverySuppressed}, nil
	}
	if err != nil {
		return models.Delivery{}, fmt.Errorf("%w: %w", notify.ErrWriteFailed, err)
	}

	if inserted {
		return models.Delivery{ID: n.ID, Outcome: models.DeliveryCreated}, nil
	}
	return models.Delivery{ID: n.ID, Outcome: models.DeliveryRefreshed}, nil
}

// buildNotificationQuery returns the list query for params; dismissed rows
// never appear.
func buildNotificationQuery(params NotificationListParams) (string, []interface{}) {
	where := "WHERE user_id = $1 AND is_dismissed = FALSE"
	args := []interface{}{params.UserID}
	argIdx := 2

	if params.Filter == FilterUnread {
		where += " AND is_read = FALSE"
	}
	if params.Type != "" {
		where += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, string(params.Type))
		argIdx++
	}

	limit := params.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	sql := fmt.Sprintf("SELECT %s FROM notifications %s ORDER BY created_at DESC LIMIT $%d", notificationCols, where, argIdx)
	args = append(args, limit)
	return sql, args
}

func (s *Store) ListNotifications(ctx context.Context, params NotificationListParams) ([]models.Notification, error) {
	sql, args := buildNotificationQuery(params)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	out := []models.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}
	return out, nil
}

func (s *Store) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE user_id = $1 AND is_read = FALSE AND is_dismissed = FALSE
	`, userID).Scan(&count)
	return count, err
}

// MarkRead marks one of the user's notifications read. Another user's id
// reports ErrNotFound.
func (s *Store) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications
		SET is_read = TRUE, read_at = COALESCE(read_at, NOW()), updated_at = NOW()
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications
		SET is_read = TRUE, read_at = NOW(), updated_at = NOW()
		WHERE user_id = $1 AND is_read = FALSE AND is_dismissed = FALSE
	`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) Dismiss(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications
		SET is_dismissed = TRUE, dismissed_at = COALESCE(dismissed_at, NOW()), updated_at = NOW()
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UserIDsByEmail maps lowercased emails to registered user ids. Unknown
// emails are absent from the result.
func (s *Store) UserIDsByEmail(ctx context.Context, emails []string) (map[string]uuid.UUID, error) {
	out := make(map[string]uuid.UUID, len(emails))
	if len(emails) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT LOWER(email), id FROM users WHERE LOWER(email) = ANY($1)`, emails)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var email string
		var id uuid.UUID
		if err := rows.Scan(&email, &id); err != nil {
			return nil, err
		}
		out[email] = id
	}
	return out, rows.Err()
}

// ListUserIDs returns every registered user, oldest first.
func (s *Store) ListUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
