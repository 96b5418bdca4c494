package pipeline

import (
	"errors"
	"fmt"

	"github.com/david/deal-pulse/internal/notify"
)

var (
	ErrMalformedRecord      = errors.New("malformed CRM record")
	ErrUpstreamUnavailable  = errors.New("upstream unavailable")
	ErrNotificationWrite    = notify.ErrWriteFailed
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrCancelled            = errors.New("scan cancelled")
	ErrTokenUnavailable     = errors.New("no valid CRM token")
)

// MalformedRecordError names the record and field that made a raw deal
// unusable.
type MalformedRecordError struct {
	RecordID string
	Field    string
	Reason   string
}

func (e *MalformedRecordError) Error() string {
	id := e.RecordID
	if id == "" {
		id = "<no id>"
	}
	return fmt.Sprintf("malformed record %s: %s %s", id, e.Field, e.Reason)
}

func (e *MalformedRecordError) Is(target error) bool {
	return target == ErrMalformedRecord
}

// UpstreamError is returned when a scan cannot read from the CRM. Dependency
// is one of "deals", "owners" or "token".
type UpstreamError struct {
	Dependency string
	Err        error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s unavailable: %v", e.Dependency, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}

func invalidConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}
