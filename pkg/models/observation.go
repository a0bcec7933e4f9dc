package models

import (
	"strings"
	"time"
)

// TimestampField names one of the time fields an observation may carry.
type TimestampField string

const (
	TimestampStatusChanged TimestampField = "status_changed_at"
	TimestampLastModified  TimestampField = "last_modified_at"
	TimestampImported      TimestampField = "imported_at"
)

// TimestampPrecedence is the order in which timestamps are consulted for recency.
var TimestampPrecedence = []TimestampField{
	TimestampStatusChanged,
	TimestampLastModified,
	TimestampImported,
}

var timeLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006/01/02",
	"01/02/2006",
	"01/02/2006 15:04",
	"01/02/2006 15:04:05",
}

// ParseTimestamp parses raw with the known export layouts. Blank or
// unrecognised values report ok=false.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// RawObservation is one row from one snapshot export. It is never modified after it is read.
type RawObservation struct {
	ID          string         `json:"id" db:"id"`
	BusinessKey string         `json:"business_key" db:"business_key"`
	EntityType  string         `json:"entity_type" db:"entity_type"`
	Status      string         `json:"status" db:"status"`
	Attributes  map[string]any `json:"attributes"`
	// Timestamps holds the raw, unparsed values keyed by field.
	Timestamps map[TimestampField]string `json:"timestamps,omitempty"`
	SourceID   string                    `json:"source_id" db:"source_id"`
}

// Timestamp parses the named timestamp field.
func (o RawObservation) Timestamp(field TimestampField) (time.Time, bool) {
	raw, ok := o.Timestamps[field]
	if !ok {
		return time.Time{}, false
	}
	return ParseTimestamp(raw)
}

// BestTimestamp returns the first parseable timestamp in precedence order.
func (o RawObservation) BestTimestamp() (time.Time, TimestampField, bool) {
	for _, field := range TimestampPrecedence {
		if ts, ok := o.Timestamp(field); ok {
			return ts, field, true
		}
	}
	return time.Time{}, "", false
}

// UnparseableTimestamps lists timestamp fields that are present but cannot be parsed.
func (o RawObservation) UnparseableTimestamps() []TimestampField {
	var bad []TimestampField
	for _, field := range TimestampPrecedence {
		raw, ok := o.Timestamps[field]
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		if _, ok := ParseTimestamp(raw); !ok {
			bad = append(bad, field)
		}
	}
	return bad
}

// Batch is a set of observations read from one snapshot export.
type Batch struct {
	ID            string           `json:"id"`
	SnapshotDate  time.Time        `json:"snapshot_date"`
	Observations  []RawObservation `json:"observations"`
	Relationships []Relationship   `json:"relationships,omitempty"`
}
