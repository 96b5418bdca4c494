package models

import (
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationZombieDeal     NotificationType = "zombie_deal"
	NotificationDealMilestone  NotificationType = "deal_milestone"
	NotificationPipelineHealth NotificationType = "pipeline_health"
	NotificationSystem         NotificationType = "system"
	NotificationActionRequired NotificationType = "action_required"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationZombieDeal, NotificationDealMilestone, NotificationPipelineHealth,
		NotificationSystem, NotificationActionRequired:
		return true
	}
	return false
}

type NotificationLevel string

const (
	LevelInfo     NotificationLevel = "info"
	LevelWarning  NotificationLevel = "warning"
	LevelCritical NotificationLevel = "critical"
	LevelSuccess  NotificationLevel = "success"
)

func (l NotificationLevel) Valid() bool {
	switch l {
	case LevelInfo, LevelWarning, LevelCritical, LevelSuccess:
		return true
	}
	return false
}

// Notification is a durable message addressed to one user. Dismissed
// notifications stay in storage but drop out of list and count queries.
type Notification struct {
	ID          uuid.UUID              `json:"id"`
	UserID      uuid.UUID              `json:"user_id"`
	Type        NotificationType       `json:"type"`
	Level       NotificationLevel      `json:"level"`
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Fingerprint *string                `json:"-"`
	IsRead      bool                   `json:"is_read"`
	IsDismissed bool                   `json:"is_dismissed"`
	ActionURL   *string                `json:"action_url,omitempty"`
	ActionLabel *string                `json:"action_label,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	ReadAt      *time.Time             `json:"read_at,omitempty"`
	DismissedAt *time.Time             `json:"dismissed_at,omitempty"`
}

// DeliveryOutcome describes what a create call did with a notification.
type DeliveryOutcome string

const (
	DeliveryCreated    DeliveryOutcome = "created"
	DeliveryRefreshed  DeliveryOutcome = "refreshed"
	DeliverySuppressed DeliveryOutcome = "suppressed"
)

type Delivery struct {
	ID      uuid.UUID       `json:"id"`
	Outcome DeliveryOutcome `json:"outcome"`
}
