package models

import (
	"time"

	"github.com/google/uuid"
)

type ScanRun struct {
	ID                        uuid.UUID  `json:"id"`
	UserID                    uuid.UUID  `json:"user_id"`
	Status                    string     `json:"status"`
	TotalDeals                int        `json:"total_deals"`
	SkippedRecords            int        `json:"skipped_records"`
	ZombieCount               int        `json:"zombie_count"`
	NotificationsCreated      int        `json:"notifications_created"`
	NotificationsDeduplicated int        `json:"notifications_deduplicated"`
	NotificationsFailed       int        `json:"notifications_failed"`
	RevenueAtRisk             float64    `json:"revenue_at_risk"`
	Error                     *string    `json:"error,omitempty"`
	StartedAt                 time.Time  `json:"started_at"`
	CompletedAt               *time.Time `json:"completed_at,omitempty"`
}
