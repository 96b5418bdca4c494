package pipeline

import (
	"errors"
	"strings"
	"time"

	"github.com/david/deal-pulse/internal/models"
)

const unassignedOwner = "Unassigned"

// Mapper turns raw CRM deals into canonical deals scored by its Scorer.
type Mapper struct {
	scorer *Scorer
}

func NewMapper(scorer *Scorer) *Mapper {
	if scorer == nil {
		scorer = DefaultScorer()
	}
	return &Mapper{scorer: scorer}
}

// Map builds a canonical deal as of now. It fails with ErrMalformedRecord when
// the id or creation date is missing or unreadable.
func (m *Mapper) Map(raw RawDeal, owners OwnerDirectory, now time.Time) (models.Deal, error) {
	now = now.UTC()
	id := strings.TrimSpace(raw.ID)
	if id == "" {
		return models.Deal{}, &MalformedRecordError{Field: "id", Reason: "is missing"}
	}
	if strings.TrimSpace(raw.CreateDate) == "" {
		return models.Deal{}, &MalformedRecordError{RecordID: id, Field: "create_date", Reason: "is missing"}
	}
	created, err := parseTimestamp(raw.CreateDate)
	if err != nil {
		return models.Deal{}, &MalformedRecordError{RecordID: id, Field: "create_date", Reason: err.Error()}
	}

	lastActivity := resolveLastActivity(raw, created)

	deal := models.Deal{
		ID:                    id,
		Name:                  strings.TrimSpace(raw.Name),
		Amount:                parseAmount(raw.Amount),
		Stage:                 strings.TrimSpace(raw.Stage),
		Pipeline:              strings.TrimSpace(raw.Pipeline),
		OwnerName:             unassignedOwner,
		CreateDate:            created,
		LastActivityDate:      lastActivity,
		DealAgeDays:           daysBetween(created, now),
		DaysSinceLastActivity: daysBetween(lastActivity, now),
	}
	if deal.Name == "" {
		deal.Name = "Deal " + id
	}

	if ownerID := strings.TrimSpace(raw.OwnerID); ownerID != "" {
		deal.OwnerID = &ownerID
		if name, ok := owners.Name(ownerID); ok {
			deal.OwnerName = name
		}
	}

	if raw.CloseDate != "" {
		if t, err := parseTimestamp(raw.CloseDate); err == nil {
			deal.CloseDate = &t
		}
	}

	health := m.scorer.Score(deal.DealAgeDays, deal.DaysSinceLastActivity, deal.HasOwner())
	deal.HealthScore = health.Score
	deal.Status = health.Status
	deal.Signals = health.Signals

	return deal, nil
}

// MapBatch maps every record it can. Malformed records and repeated ids are
// reported as skips, never as a batch failure.
func (m *Mapper) MapBatch(raws []RawDeal, owners OwnerDirectory, now time.Time) ([]models.Deal, []SkippedRecord) {
	deals := make([]models.Deal, 0, len(raws))
	var skipped []SkippedRecord
	seen := make(map[string]struct{}, len(raws))

	for _, raw := range raws {
		deal, err := m.Map(raw, owners, now)
		if err != nil {
			var mre *MalformedRecordError
			reason := err.Error()
			if errors.As(err, &mre) {
				reason = mre.Field + " " + mre.Reason
			}
			skipped = append(skipped, SkippedRecord{DealID: strings.TrimSpace(raw.ID), Reason: reason})
			continue
		}
		if _, dup := seen[deal.ID]; dup {
			skipped = append(skipped, SkippedRecord{DealID: deal.ID, Reason: "duplicate id"})
			continue
		}
		seen[deal.ID] = struct{}{}
		deals = append(deals, deal)
	}
	return deals, skipped
}

// resolveLastActivity prefers the last-modified stamp, then the notes stamp,
// then the creation date. Activity before creation is treated as creation.
func resolveLastActivity(raw RawDeal, created time.Time) time.Time {
	for _, candidate := range []string{raw.LastModifiedDate, raw.NotesLastUpdated} {
		if strings.TrimSpace(candidate) == "" {
			continue
		}
		t, err := parseTimestamp(candidate)
		if err != nil {
			continue
		}
		if t.Before(created) {
			return created
		}
		return t
	}
	return created
}
