package notify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/david/deal-pulse/internal/models"
)

func f64(v float64) *float64 { return &v }

func TestRenderZombieAlert(t *testing.T) {
	deal := models.Deal{
		ID:                    "5001",
		Name:                  "Acme <b>Corp</b>",
		Amount:                125000,
		DealAgeDays:           132,
		DaysSinceLastActivity: 65,
		HealthScore:           30,
	}

	p := RenderZombieAlert(deal, 30)
	assert.Equal(t, models.NotificationZombieDeal, p.Type)
	assert.Equal(t, models.LevelWarning, p.Level)
	assert.Equal(t, "Zombie Deal Alert: Acme Corp", p.Title)
	assert.Equal(t,
		`"Acme Corp" has been inactive for 65 days (132 days old) with a health score of 30%. This deal is at risk and needs immediate attention.`,
		p.Message)
	assert.Equal(t, "/deals/5001", p.ActionURL)
	assert.Equal(t, Fingerprint("5001", models.NotificationZombieDeal), p.Fingerprint)
	assert.Equal(t, 125000.0, p.Metadata["deal_amount"])

	deal.HealthScore = 29
	assert.Equal(t, models.LevelCritical, RenderZombieAlert(deal, 30).Level)
}

func TestRenderPipelineHealth(t *testing.T) {
	cases := []struct {
		name    string
		in      PipelineHealth
		level   models.NotificationLevel
		message string
	}{
		{
			name:    "no history",
			in:      PipelineHealth{Metric: "zombie deals", Current: 4},
			level:   models.LevelInfo,
			message: "Your zombie deals is currently 4",
		},
		{
			name:    "above threshold and increased",
			in:      PipelineHealth{Metric: "zombie deals", Current: 3, Previous: f64(1), Threshold: f64(2)},
			level:   models.LevelWarning,
			message: "Your zombie deals is currently 3, which is above the threshold of 2. This has increased by 200.0% from 1",
		},
		{
			name:    "decreased",
			in:      PipelineHealth{Metric: "zombie deals", Current: 3, Previous: f64(4)},
			level:   models.LevelInfo,
			message: "Your zombie deals is currently 3. This has decreased by 25.0% from 4",
		},
		{
			name:    "unchanged",
			in:      PipelineHealth{Metric: "zombie deals", Current: 5, Previous: f64(5), Threshold: f64(5)},
			level:   models.LevelInfo,
			message: "Your zombie deals is currently 5. This is unchanged from 5",
		},
		{
			name:    "previous zero omits delta",
			in:      PipelineHealth{Metric: "zombieCount", Current: 10, Previous: f64(0)},
			level:   models.LevelInfo,
			message: "Your zombieCount is currently 10",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := RenderPipelineHealth(tc.in)
			assert.Equal(t, tc.level, p.Level)
			assert.Equal(t, tc.message, p.Message)
			assert.NotContains(t, p.Message, "NaN")
			assert.NotContains(t, p.Message, "Inf")
		})
	}
}

func TestRenderPipelineHealthFingerprintPerMetric(t *testing.T) {
	a := RenderPipelineHealth(PipelineHealth{Metric: "zombie deals", Current: 1})
	b := RenderPipelineHealth(PipelineHealth{Metric: "zombie deals", Current: 9})
	c := RenderPipelineHealth(PipelineHealth{Metric: "revenue at risk", Current: 1})
	assert.Equal(t, a.Fingerprint, b.Fingerprint)
	assert.NotEqual(t, a.Fingerprint, c.Fingerprint)
}

func TestRenderMilestone(t *testing.T) {
	p := RenderMilestone(Milestone{DealID: "7", DealName: "Velocity", Text: "Moved to <i>contract sent</i>", IsPositive: true})
	assert.Equal(t, models.LevelSuccess, p.Level)
	assert.Equal(t, "Deal Update: Velocity", p.Title)
	assert.Equal(t, "Moved to contract sent", p.Message)
	assert.Empty(t, p.Fingerprint)

	assert.Equal(t, models.LevelInfo, RenderMilestone(Milestone{DealID: "7", DealName: "x", Text: "y"}).Level)
}

func TestRenderSystemAndActionRequired(t *testing.T) {
	s := RenderSystem(System{Title: "Maintenance", Message: "Back at 5pm"})
	assert.Equal(t, models.LevelInfo, s.Level)
	assert.Equal(t, models.NotificationSystem, s.Type)

	a := RenderActionRequired(ActionRequired{Title: "Reconnect CRM", Message: "Token expired", Fingerprint: "crm-token"})
	assert.Equal(t, models.LevelWarning, a.Level)
	assert.Equal(t, "crm-token", a.Fingerprint)
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint("5001", models.NotificationZombieDeal)
	assert.Len(t, fp, 32)
	assert.Equal(t, fp, Fingerprint("5001", models.NotificationZombieDeal))
	assert.NotEqual(t, fp, Fingerprint("5002", models.NotificationZombieDeal))
	assert.NotEqual(t, fp, Fingerprint("5001", models.NotificationDealMilestone))
}

func TestPlainText(t *testing.T) {
	cases := map[string]string{
		"Acme Corp":                     "Acme Corp",
		"  Acme \n\t Corp ":             "Acme Corp",
		"Tom &amp; Jerry":               "Tom & Jerry",
		"<p>Big <strong>deal</strong>": "Big deal",
		"":                              "",
	}
	for in, want := range cases {
		assert.Equal(t, want, PlainText(in), "input %q", in)
	}
}

func TestSanitizeHTML(t *testing.T) {
	out := SanitizeHTML(`<p>Release <a href="https://example.com/notes">notes</a></p><script>alert(1)</script>`)
	assert.Contains(t, out, `<a href="https://example.com/notes"`)
	assert.False(t, strings.Contains(out, "script"))
}
