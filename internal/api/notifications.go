package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/david/deal-pulse/internal/auth"
	"github.com/david/deal-pulse/internal/db"
	"github.com/david/deal-pulse/internal/models"
	"github.com/david/deal-pulse/internal/notify"
)

func parseNotificationFilter(raw string) (db.NotificationFilter, error) {
	switch db.NotificationFilter(strings.ToLower(strings.TrimSpace(raw))) {
	case "", db.FilterAll:
		return db.FilterAll, nil
	case db.FilterUnread:
		return db.FilterUnread, nil
	}
	return "", fmt.Errorf("filter must be all or unread")
}

func (s *Server) handleListNotifications(c echo.Context) error {
	uid, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return jsonError(c, http.StatusUnauthorized, "Unauthorized")
	}
	filter, err := parseNotificationFilter(c.QueryParam("filter"))
	if err != nil {
		return jsonError(c, http.StatusBadRequest, err.Error())
	}
	params := db.NotificationListParams{
		UserID: uid,
		Filter: filter,
		Limit:  parseLimit(c.QueryParam("limit"), 50),
	}
	if raw := c.QueryParam("type"); raw != "" {
		params.Type = models.NotificationType(raw)
		if !params.Type.Valid() {
			return jsonError(c, http.StatusBadRequest, "Unknown notification type")
		}
	}

	list, err := s.Store.ListNotifications(c.Request().Context(), params)
	if err != nil {
		s.logger.Error("list notifications failed", zap.Error(err))
		return jsonError(c, http.StatusInternalServerError, "Failed to fetch notifications")
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleCountNotifications(c echo.Context) error {
	uid, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return jsonError(c, http.StatusUnauthorized, "Unauthorized")
	}
	n, err := s.Store.CountUnread(c.Request().Context(), uid)
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, "Failed to count notifications")
	}
	return c.JSON(http.StatusOK, map[string]int{"unread": n})
}

func (s *Server) handleMarkRead(c echo.Context) error {
	return s.updateNotification(c, s.Store.MarkRead, "read")
}

func (s *Server) handleDismiss(c echo.Context) error {
	return s.updateNotification(c, s.Store.Dismiss, "dismissed")
}

func (s *Server) updateNotification(c echo.Context, update func(ctx context.Context, userID, id uuid.UUID) error, status string) error {
	uid, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return jsonError(c, http.StatusUnauthorized, "Unauthorized")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return jsonError(c, http.StatusBadRequest, "Invalid notification ID")
	}

	err = update(c.Request().Context(), uid, id)
	if errors.Is(err, db.ErrNotFound) {
		return jsonError(c, http.StatusNotFound, "Not found")
	}
	if err != nil {
		s.logger.Error("notification update failed", zap.String("status", status), zap.Error(err))
		return jsonError(c, http.StatusInternalServerError, "Failed to update notification")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": status})
}

func (s *Server) handleMarkAllRead(c echo.Context) error {
	uid, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return jsonError(c, http.StatusUnauthorized, "Unauthorized")
	}
	n, err := s.Store.MarkAllRead(c.Request().Context(), uid)
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, "Failed to update notifications")
	}
	return c.JSON(http.StatusOK, map[string]int64{"updated": n})
}

func (s *Server) handleActiveAnnouncements(c echo.Context) error {
	uid, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return jsonError(c, http.StatusUnauthorized, "Unauthorized")
	}
	list, err := s.Store.ActiveAnnouncements(c.Request().Context(), uid)
	if err != nil {
		s.logger.Error("active announcements failed", zap.Error(err))
		return jsonError(c, http.StatusInternalServerError, "Failed to fetch announcements")
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleDismissAnnouncement(c echo.Context) error {
	return s.updateNotification(c, s.Store.DismissAnnouncement, "dismissed")
}

type adminNotifyRequest struct {
	UserIDs     []uuid.UUID            `json:"user_ids"`
	AllUsers    bool                   `json:"all_users"`
	Type        string                 `json:"type"`
	Level       string                 `json:"level"`
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	DealID      string                 `json:"deal_id"`
	DealName    string                 `json:"deal_name"`
	IsPositive  bool                   `json:"is_positive"`
	ActionURL   string                 `json:"action_url"`
	ActionLabel string                 `json:"action_label"`
	Fingerprint string                 `json:"fingerprint"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// params renders the request with the matching typed renderer. Alert types
// the scan produces itself cannot be sent by hand.
func (r adminNotifyRequest) params() (notify.Params, error) {
	switch models.NotificationType(r.Type) {
	case models.NotificationSystem, "":
		return notify.RenderSystem(notify.System{
			Title:       r.Title,
			Message:     r.Message,
			Level:       models.NotificationLevel(r.Level),
			ActionURL:   r.ActionURL,
			ActionLabel: r.ActionLabel,
		}), nil
	case models.NotificationActionRequired:
		return notify.RenderActionRequired(notify.ActionRequired{
			Title:       r.Title,
			Message:     r.Message,
			ActionURL:   r.ActionURL,
			ActionLabel: r.ActionLabel,
			Metadata:    r.Metadata,
			Fingerprint: r.Fingerprint,
		}), nil
	case models.NotificationDealMilestone:
		if r.DealID == "" {
			return notify.Params{}, fmt.Errorf("deal_id is required for deal_milestone")
		}
		return notify.RenderMilestone(notify.Milestone{
			DealID:     r.DealID,
			DealName:   r.DealName,
			Text:       r.Message,
			IsPositive: r.IsPositive,
		}), nil
	}
	return notify.Params{}, fmt.Errorf("type %q cannot be sent manually", r.Type)
}

func (s *Server) handleAdminNotify(c echo.Context) error {
	var req adminNotifyRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "Invalid request")
	}
	if !req.AllUsers && len(req.UserIDs) == 0 {
		return jsonError(c, http.StatusBadRequest, "user_ids or all_users is required")
	}
	p, err := req.params()
	if err != nil {
		return jsonError(c, http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	recipients := req.UserIDs
	if req.AllUsers {
		recipients, err = s.Store.ListUserIDs(ctx)
		if err != nil {
			return jsonError(c, http.StatusInternalServerError, "Failed to list users")
		}
	}

	sent, err := s.Emitter.Bulk(ctx, recipients, p)
	if errors.Is(err, notify.ErrInvalidParams) {
		return jsonError(c, http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return jsonError(c, http.StatusServiceUnavailable, "Send interrupted")
	}
	return c.JSON(http.StatusOK, map[string]int{"recipients": len(recipients), "sent": sent})
}

type announcementRequest struct {
	Type      string     `json:"type"`
	Level     string     `json:"level"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
}

func (r announcementRequest) announcement() (*models.Announcement, error) {
	a := &models.Announcement{
		Type:    strings.TrimSpace(r.Type),
		Level:   models.NotificationLevel(r.Level),
		Title:   notify.PlainText(r.Title),
		Message: notify.SanitizeHTML(r.Message),
		EndDate: r.EndDate,
	}
	if a.Level == "" {
		a.Level = models.LevelInfo
	}
	if !a.Level.Valid() {
		return nil, fmt.Errorf("unknown level %q", r.Level)
	}
	if a.Title == "" || a.Message == "" {
		return nil, fmt.Errorf("title and message are required")
	}
	if r.StartDate != nil {
		a.StartDate = r.StartDate.UTC()
	}
	if a.EndDate != nil {
		start := a.StartDate
		if start.IsZero() {
			start = time.Now().UTC()
		}
		if !a.EndDate.After(start) {
			return nil, fmt.Errorf("end_date must be after start_date")
		}
	}
	return a, nil
}

func (s *Server) handleCreateAnnouncement(c echo.Context) error {
	var req announcementRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "Invalid request")
	}
	a, err := req.announcement()
	if err != nil {
		return jsonError(c, http.StatusBadRequest, err.Error())
	}
	if err := s.Store.CreateAnnouncement(c.Request().Context(), a); err != nil {
		s.logger.Error("create announcement failed", zap.Error(err))
		return jsonError(c, http.StatusInternalServerError, "Failed to create announcement")
	}
	return c.JSON(http.StatusCreated, a)
}
