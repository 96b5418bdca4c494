package notify

import (
	"fmt"
	"math"
	"strconv"

	"github.com/david/deal-pulse/internal/models"
)

// Params is the common shape every typed alert is rendered into before it is
// written.
type Params struct {
	Type        models.NotificationType
	Level       models.NotificationLevel
	Title       string
	Message     string
	Metadata    map[string]interface{}
	ActionURL   string
	ActionLabel string
	Fingerprint string
}

type Milestone struct {
	DealID     string
	DealName   string
	Text       string
	IsPositive bool
}

type PipelineHealth struct {
	Metric    string
	Current   float64
	Previous  *float64
	Threshold *float64
}

type ActionRequired struct {
	Title       string
	Message     string
	ActionURL   string
	ActionLabel string
	Metadata    map[string]interface{}
	Fingerprint string
}

type System struct {
	Title       string
	Message     string
	Level       models.NotificationLevel
	ActionURL   string
	ActionLabel string
}

func RenderZombieAlert(deal models.Deal, criticalBelow int) Params {
	level := models.LevelWarning
	if deal.HealthScore < criticalBelow {
		level = models.LevelCritical
	}
	name := PlainText(deal.Name)

	return Params{
		Type:  models.NotificationZombieDeal,
		Level: level,
		Title: "Zombie Deal Alert: " + name,
		Message: fmt.Sprintf(
			"\"%s\" has been inactive for %d days (%d days old) with a health score of %d%%. This deal is at risk and needs immediate attention.",
			name, deal.DaysSinceLastActivity, deal.DealAgeDays, deal.HealthScore,
		),
		Metadata: map[string]interface{}{
			"deal_id":             deal.ID,
			"deal_name":           name,
			"deal_amount":         deal.Amount,
			"days_since_activity": deal.DaysSinceLastActivity,
			"deal_age":            deal.DealAgeDays,
			"health_score":        deal.HealthScore,
		},
		ActionURL:   "/deals/" + deal.ID,
		ActionLabel: "Review Deal",
		Fingerprint: Fingerprint(deal.ID, models.NotificationZombieDeal),
	}
}

func RenderMilestone(m Milestone) Params {
	level := models.LevelInfo
	if m.IsPositive {
		level = models.LevelSuccess
	}
	name := PlainText(m.DealName)
	text := PlainText(m.Text)

	return Params{
		Type:    models.NotificationDealMilestone,
		Level:   level,
		Title:   "Deal Update: " + name,
		Message: text,
		Metadata: map[string]interface{}{
			"deal_id":   m.DealID,
			"deal_name": name,
			"milestone": text,
		},
		ActionURL:   "/deals/" + m.DealID,
		ActionLabel: "View Deal",
	}
}

// RenderPipelineHealth escalates to warning above the threshold. The change
// against Previous is only worded when Previous is non-zero.
func RenderPipelineHealth(p PipelineHealth) Params {
	level := models.LevelInfo
	msg := fmt.Sprintf("Your %s is currently %s", p.Metric, formatNumber(p.Current))

	if p.Threshold != nil && p.Current > *p.Threshold {
		level = models.LevelWarning
		msg += fmt.Sprintf(", which is above the threshold of %s", formatNumber(*p.Threshold))
	}

	if p.Previous != nil && *p.Previous != 0 {
		prev := *p.Previous
		change := (p.Current - prev) / math.Abs(prev) * 100
		switch {
		case change > 0:
			msg += fmt.Sprintf(". This has increased by %.1f%% from %s", change, formatNumber(prev))
		case change < 0:
			msg += fmt.Sprintf(". This has decreased by %.1f%% from %s", -change, formatNumber(prev))
		default:
			msg += fmt.Sprintf(". This is unchanged from %s", formatNumber(prev))
		}
	}

	meta := map[string]interface{}{
		"metric":        p.Metric,
		"current_value": p.Current,
	}
	if p.Previous != nil {
		meta["previous_value"] = *p.Previous
	}
	if p.Threshold != nil {
		meta["threshold"] = *p.Threshold
	}

	return Params{
		Type:        models.NotificationPipelineHealth,
		Level:       level,
		Title:       "Pipeline Alert: " + p.Metric,
		Message:     msg,
		Metadata:    meta,
		ActionURL:   "/dashboard",
		ActionLabel: "View Dashboard",
		Fingerprint: Fingerprint("pipeline:"+p.Metric, models.NotificationPipelineHealth),
	}
}

func RenderActionRequired(a ActionRequired) Params {
	return Params{
		Type:        models.NotificationActionRequired,
		Level:       models.LevelWarning,
		Title:       PlainText(a.Title),
		Message:     PlainText(a.Message),
		Metadata:    a.Metadata,
		ActionURL:   a.ActionURL,
		ActionLabel: a.ActionLabel,
		Fingerprint: a.Fingerprint,
	}
}

func RenderSystem(s System) Params {
	level := s.Level
	if level == "" {
		level = models.LevelInfo
	}
	return Params{
		Type:        models.NotificationSystem,
		Level:       level,
		Title:       PlainText(s.Title),
		Message:     PlainText(s.Message),
		ActionURL:   s.ActionURL,
		ActionLabel: s.ActionLabel,
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
