package models

import (
	"time"

	"github.com/google/uuid"
)

type Announcement struct {
	ID        uuid.UUID         `json:"id"`
	Type      string            `json:"type"`
	Level     NotificationLevel `json:"level"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	IsActive  bool              `json:"is_active"`
	StartDate time.Time         `json:"start_date"`
	EndDate   *time.Time        `json:"end_date"`
	CreatedAt time.Time         `json:"created_at"`
}
