package pipeline

import (
	"context"
	"strings"
)

// RawDeal is a deal as the CRM reports it. Every field is optional and
// stringly typed; the mapper decides what is usable.
type RawDeal struct {
	ID               string `json:"id" yaml:"id"`
	Name             string `json:"name" yaml:"name"`
	Amount           string `json:"amount" yaml:"amount"`
	Stage            string `json:"stage" yaml:"stage"`
	Pipeline         string `json:"pipeline" yaml:"pipeline"`
	OwnerID          string `json:"owner_id" yaml:"owner_id"`
	CreateDate       string `json:"create_date" yaml:"create_date"`
	CloseDate        string `json:"close_date" yaml:"close_date"`
	LastModifiedDate string `json:"last_modified_date" yaml:"last_modified_date"`
	NotesLastUpdated string `json:"notes_last_updated" yaml:"notes_last_updated"`
}

type Owner struct {
	ID        string `json:"id" yaml:"id"`
	FirstName string `json:"first_name" yaml:"first_name"`
	LastName  string `json:"last_name" yaml:"last_name"`
	Email     string `json:"email" yaml:"email"`
}

// DealPage is one page of a cursor-paginated deal listing. An empty
// NextCursor means the listing is exhausted.
type DealPage struct {
	Deals      []RawDeal
	NextCursor string
}

// DealSource is the read side of a CRM connection.
type DealSource interface {
	FetchDealsPage(ctx context.Context, cursor string) (DealPage, error)
	FetchOwners(ctx context.Context) ([]Owner, error)
}

// SkippedRecord is a raw deal the mapper refused, kept so scans can report
// what they dropped.
type SkippedRecord struct {
	DealID string `json:"deal_id"`
	Reason string `json:"reason"`
}

// OwnerDirectory resolves CRM owner ids to display names and emails. It is
// built once per scan and only read afterwards.
type OwnerDirectory struct {
	names  map[string]string
	emails map[string]string
}

func BuildOwnerDirectory(owners []Owner) OwnerDirectory {
	dir := OwnerDirectory{
		names:  make(map[string]string, len(owners)),
		emails: make(map[string]string, len(owners)),
	}
	for _, o := range owners {
		if o.ID == "" {
			continue
		}
		name := strings.TrimSpace(strings.TrimSpace(o.FirstName) + " " + strings.TrimSpace(o.LastName))
		if name == "" {
			name = strings.TrimSpace(o.Email)
		}
		if name == "" {
			name = o.ID
		}
		dir.names[o.ID] = name
		if email := strings.ToLower(strings.TrimSpace(o.Email)); email != "" {
			dir.emails[o.ID] = email
		}
	}
	return dir
}

func (d OwnerDirectory) Name(ownerID string) (string, bool) {
	name, ok := d.names[ownerID]
	return name, ok
}

func (d OwnerDirectory) Email(ownerID string) (string, bool) {
	email, ok := d.emails[ownerID]
	return email, ok
}

func (d OwnerDirectory) Len() int { return len(d.names) }
