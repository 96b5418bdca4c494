package pipeline

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/david/deal-pulse/internal/models"
)

// Aggregate reduces deals into portfolio metrics as of now. An empty slice
// yields all zeros.
func Aggregate(deals []models.Deal, now time.Time) models.PipelineMetrics {
	var m models.PipelineMetrics
	if len(deals) == 0 {
		return m
	}

	now = now.UTC()
	var ageSum, scoreSum int
	for _, d := range deals {
		m.TotalDeals++
		m.TotalValue += d.Amount
		ageSum += d.DealAgeDays
		scoreSum += d.HealthScore

		switch d.Status {
		case models.DealHealthy:
			m.HealthyDeals++
			m.HealthyValue += d.Amount
		case models.DealAtRisk:
			m.AtRiskDeals++
			m.AtRiskValue += d.Amount
		case models.DealZombie:
			m.ZombieDeals++
			m.ZombieValue += d.Amount
		}

		if closedInMonth(d, now) {
			m.DealsClosedThisMonth++
		}
	}

	m.RevenueAtRisk = m.AtRiskValue + m.ZombieValue
	m.AvgDealAge = roundedMean(ageSum, m.TotalDeals)
	m.AvgHealthScore = roundedMean(scoreSum, m.TotalDeals)
	return m
}

// RollupByOwner groups deals per owner, ordered by revenue at risk and then
// by name. Deals without an owner share the "Unassigned" bucket.
func RollupByOwner(deals []models.Deal) []models.OwnerRollup {
	byOwner := make(map[string]*models.OwnerRollup)
	scoreSums := make(map[string]int)

	for _, d := range deals {
		key := ""
		name := unassignedOwner
		if d.HasOwner() {
			key = *d.OwnerID
			name = d.OwnerName
		}
		r, ok := byOwner[key]
		if !ok {
			r = &models.OwnerRollup{OwnerID: key, OwnerName: name}
			byOwner[key] = r
		}
		r.TotalDeals++
		r.TotalValue += d.Amount
		scoreSums[key] += d.HealthScore
		switch d.Status {
		case models.DealHealthy:
			r.HealthyDeals++
		case models.DealAtRisk:
			r.AtRiskDeals++
			r.RevenueAtRisk += d.Amount
		case models.DealZombie:
			r.ZombieDeals++
			r.RevenueAtRisk += d.Amount
		}
	}

	rollups := make([]models.OwnerRollup, 0, len(byOwner))
	for key, r := range byOwner {
		r.AvgHealthScore = roundedMean(scoreSums[key], r.TotalDeals)
		rollups = append(rollups, *r)
	}
	sort.Slice(rollups, func(i, j int) bool {
		if rollups[i].RevenueAtRisk != rollups[j].RevenueAtRisk {
			return rollups[i].RevenueAtRisk > rollups[j].RevenueAtRisk
		}
		return rollups[i].OwnerName < rollups[j].OwnerName
	})
	return rollups
}

func FilterByStatus(deals []models.Deal, status models.DealStatus) []models.Deal {
	out := make([]models.Deal, 0)
	for _, d := range deals {
		if d.Status == status {
			out = append(out, d)
		}
	}
	return out
}

// IsClosedWon matches both the HubSpot stage id ("closedwon") and display
// labels such as "Closed Won".
func IsClosedWon(stage string) bool {
	s := strings.ToLower(stage)
	s = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
	return s == "closedwon"
}

func closedInMonth(d models.Deal, now time.Time) bool {
	if d.CloseDate == nil || !IsClosedWon(d.Stage) {
		return false
	}
	c := d.CloseDate.UTC()
	return c.Year() == now.Year() && c.Month() == now.Month()
}

func roundedMean(sum, n int) int {
	if n == 0 {
		return 0
	}
	return int(math.Round(float64(sum) / float64(n)))
}
