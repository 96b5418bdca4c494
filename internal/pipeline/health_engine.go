package pipeline

import (
	"github.com/david/deal-pulse/internal/config"
	"github.com/david/deal-pulse/internal/models"
)

type HealthResult struct {
	Score   int
	Status  models.DealStatus
	Signals models.DealSignals
}

// Scorer computes deal health from age and recency. Tiers are validated once
// in NewScorer so scoring itself cannot fail.
type Scorer struct {
	cfg config.ScoringConfig
}

func NewScorer(cfg config.ScoringConfig) (*Scorer, error) {
	if err := validateScoring(cfg); err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg}, nil
}

// DefaultScorer uses the embedded thresholds (7/14/30 days idle, 60/90 days old).
func DefaultScorer() *Scorer {
	s, err := NewScorer(config.Default().Scoring)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Scorer) Config() config.ScoringConfig { return s.cfg }

func (s *Scorer) Score(dealAgeDays, daysSinceLastActivity int, hasOwner bool) HealthResult {
	if dealAgeDays < 0 {
		dealAgeDays = 0
	}
	if daysSinceLastActivity < 0 {
		daysSinceLastActivity = 0
	}

	score := 100 - s.recencyPenalty(daysSinceLastActivity) - s.stagnationPenalty(dealAgeDays, daysSinceLastActivity)
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	sig := s.cfg.Signals
	return HealthResult{
		Score:  score,
		Status: s.StatusFor(score),
		Signals: models.DealSignals{
			NoRecentActivity: daysSinceLastActivity > sig.NoRecentActivityDays,
			// Next-step data is not available from the CRM fields we read.
			MissingNextSteps: false,
			StuckInStage:     dealAgeDays > sig.StuckInStageDays,
			LowEngagement:    daysSinceLastActivity > sig.LowEngagementDays,
			OwnershipGap:     !hasOwner,
		},
	}
}

func (s *Scorer) StatusFor(score int) models.DealStatus {
	switch {
	case score >= s.cfg.HealthyMin:
		return models.DealHealthy
	case score >= s.cfg.AtRiskMin:
		return models.DealAtRisk
	default:
		return models.DealZombie
	}
}

func (s *Scorer) recencyPenalty(inactive int) int {
	for _, tier := range s.cfg.RecencyTiers {
		if inactive > tier.InactiveDays {
			return tier.Penalty
		}
	}
	return 0
}

func (s *Scorer) stagnationPenalty(age, inactive int) int {
	for _, tier := range s.cfg.StagnationTiers {
		if age > tier.AgeDays && inactive > tier.InactiveDays {
			return tier.Penalty
		}
	}
	return 0
}

// validateScoring rejects tier sets where a longer gap could score better
// than a shorter one, and status bands that overlap.
func validateScoring(cfg config.ScoringConfig) error {
	if len(cfg.RecencyTiers) == 0 {
		return invalidConfig("at least one recency tier is required")
	}
	for i, tier := range cfg.RecencyTiers {
		if tier.InactiveDays < 0 || tier.Penalty < 0 {
			return invalidConfig("recency tier %d has negative days or penalty", i)
		}
		if i == 0 {
			continue
		}
		prev := cfg.RecencyTiers[i-1]
		if tier.InactiveDays >= prev.InactiveDays {
			return invalidConfig("recency tiers must be ordered by descending inactive_days (tier %d: %d >= %d)", i, tier.InactiveDays, prev.InactiveDays)
		}
		if tier.Penalty > prev.Penalty {
			return invalidConfig("recency tier %d penalty %d exceeds the more severe tier's %d", i, tier.Penalty, prev.Penalty)
		}
	}

	for i, tier := range cfg.StagnationTiers {
		if tier.AgeDays < 0 || tier.InactiveDays < 0 || tier.Penalty < 0 {
			return invalidConfig("stagnation tier %d has negative values", i)
		}
		if i == 0 {
			continue
		}
		prev := cfg.StagnationTiers[i-1]
		if tier.AgeDays >= prev.AgeDays {
			return invalidConfig("stagnation tiers must be ordered by descending age_days (tier %d)", i)
		}
		if tier.InactiveDays > prev.InactiveDays {
			return invalidConfig("stagnation tier %d requires more idle days than the more severe tier", i)
		}
		if tier.Penalty > prev.Penalty {
			return invalidConfig("stagnation tier %d penalty %d exceeds the more severe tier's %d", i, tier.Penalty, prev.Penalty)
		}
	}

	if cfg.HealthyMin <= 0 || cfg.HealthyMin > 100 || cfg.AtRiskMin <= 0 || cfg.AtRiskMin > 100 {
		return invalidConfig("status bounds must be within (0, 100]")
	}
	if cfg.AtRiskMin >= cfg.HealthyMin {
		return invalidConfig("at_risk_min %d must be below healthy_min %d", cfg.AtRiskMin, cfg.HealthyMin)
	}

	sig := cfg.Signals
	if sig.NoRecentActivityDays < 0 || sig.LowEngagementDays < 0 || sig.StuckInStageDays < 0 {
		return invalidConfig("signal thresholds must not be negative")
	}
	return nil
}
