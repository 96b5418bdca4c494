package crm

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/david/deal-pulse/internal/pipeline"
)

// Fixture is a static CRM export used for development and dry runs. Date
// fields may be relative, e.g. "-65d" for 65 days before the fetch.
type Fixture struct {
	Deals  []pipeline.RawDeal `yaml:"deals"`
	Owners []pipeline.Owner   `yaml:"owners"`
}

type FixtureSource struct {
	fixture  Fixture
	pageSize int
	Now      func() time.Time
}

func NewFixtureSource(f Fixture, pageSize int) *FixtureSource {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &FixtureSource{fixture: f, pageSize: pageSize, Now: time.Now}
}

func LoadFixture(path string, pageSize int) (*FixtureSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing fixture %s: %w", path, err)
	}
	return NewFixtureSource(f, pageSize), nil
}

// FetchDealsPage pages by offset; the cursor is the index of the next deal.
func (s *FixtureSource) FetchDealsPage(ctx context.Context, cursor string) (pipeline.DealPage, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.DealPage{}, err
	}
	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return pipeline.DealPage{}, fmt.Errorf("invalid cursor %q", cursor)
		}
		start = n
	}
	if start > len(s.fixture.Deals) {
		start = len(s.fixture.Deals)
	}
	end := start + s.pageSize
	if end > len(s.fixture.Deals) {
		end = len(s.fixture.Deals)
	}

	now := s.Now().UTC()
	page := pipeline.DealPage{Deals: make([]pipeline.RawDeal, 0, end-start)}
	for _, d := range s.fixture.Deals[start:end] {
		d.CreateDate = resolveRelative(d.CreateDate, now)
		d.CloseDate = resolveRelative(d.CloseDate, now)
		d.LastModifiedDate = resolveRelative(d.LastModifiedDate, now)
		d.NotesLastUpdated = resolveRelative(d.NotesLastUpdated, now)
		page.Deals = append(page.Deals, d)
	}
	if end < len(s.fixture.Deals) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (s *FixtureSource) FetchOwners(ctx context.Context) ([]pipeline.Owner, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]pipeline.Owner(nil), s.fixture.Owners...), nil
}

var relativeDay = regexp.MustCompile(`^([+-])(\d+)d$`)

func resolveRelative(v string, now time.Time) string {
	m := relativeDay.FindStringSubmatch(v)
	if m == nil {
		return v
	}
	n, _ := strconv.Atoi(m[2])
	if m[1] == "-" {
		n = -n
	}
	return now.AddDate(0, 0, n).Format(time.RFC3339)
}
