package models

import "time"

type DealStatus string

const (
	DealHealthy DealStatus = "healthy"
	DealAtRisk  DealStatus = "at-risk"
	DealZombie  DealStatus = "zombie"
)

// DealSignals are explanatory flags shown next to a score. They do not feed
// into the score itself.
type DealSignals struct {
	NoRecentActivity bool `json:"no_recent_activity"`
	MissingNextSteps bool `json:"missing_next_steps"`
	StuckInStage     bool `json:"stuck_in_stage"`
	LowEngagement    bool `json:"low_engagement"`
	OwnershipGap     bool `json:"ownership_gap"`
}

// Deal is the CRM-agnostic view of one opportunity at scan time. It is rebuilt
// on every scan and never persisted.
type Deal struct {
	ID                    string      `json:"id"`
	Name                  string      `json:"name"`
	Amount                float64     `json:"amount"`
	Stage                 string      `json:"stage"`
	Pipeline              string      `json:"pipeline,omitempty"`
	OwnerID               *string     `json:"owner_id"`
	OwnerName             string      `json:"owner_name"`
	CreateDate            time.Time   `json:"create_date"`
	LastActivityDate      time.Time   `json:"last_activity_date"`
	CloseDate             *time.Time  `json:"close_date"`
	DealAgeDays           int         `json:"deal_age_days"`
	DaysSinceLastActivity int         `json:"days_since_last_activity"`
	HealthScore           int         `json:"health_score"`
	Status                DealStatus  `json:"status"`
	Signals               DealSignals `json:"signals"`
}

// HasOwner reports whether the CRM assigned an owner to the deal.
func (d Deal) HasOwner() bool {
	return d.OwnerID != nil && *d.OwnerID != ""
}

type PipelineMetrics struct {
	TotalDeals           int     `json:"total_deals"`
	TotalValue           float64 `json:"total_value"`
	HealthyDeals         int     `json:"healthy_deals"`
	HealthyValue         float64 `json:"healthy_value"`
	AtRiskDeals          int     `json:"at_risk_deals"`
	AtRiskValue          float64 `json:"at_risk_value"`
	ZombieDeals          int     `json:"zombie_deals"`
	ZombieValue          float64 `json:"zombie_value"`
	AvgDealAge           int     `json:"avg_deal_age"`
	AvgHealthScore       int     `json:"avg_health_score"`
	DealsClosedThisMonth int     `json:"deals_closed_this_month"`
	RevenueAtRisk        float64 `json:"revenue_at_risk"`
}

type OwnerRollup struct {
	OwnerID        string  `json:"owner_id"`
	OwnerName      string  `json:"owner_name"`
	TotalDeals     int     `json:"total_deals"`
	TotalValue     float64 `json:"total_value"`
	HealthyDeals   int     `json:"healthy_deals"`
	AtRiskDeals    int     `json:"at_risk_deals"`
	ZombieDeals    int     `json:"zombie_deals"`
	RevenueAtRisk  float64 `json:"revenue_at_risk"`
	AvgHealthScore int     `json:"avg_health_score"`
}
