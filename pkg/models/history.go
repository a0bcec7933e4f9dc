package models

import "time"

// HistoryEntry records one accepted transition of an entity's canonical state.
type HistoryEntry struct {
	ID             string         `json:"id" db:"id"`
	Key            string         `json:"key" db:"business_key"`
	Revision       int64          `json:"revision" db:"revision"`
	PreviousHash   string         `json:"previous_hash,omitempty" db:"previous_hash"`
	NewHash        string         `json:"new_hash" db:"new_hash"`
	PreviousStatus string         `json:"previous_status,omitempty" db:"previous_status"`
	NewStatus      string         `json:"new_status" db:"new_status"`
	Attributes     map[string]any `json:"attributes"`
	ObservationID  string         `json:"observation_id" db:"observation_id"`
	SourceID       string         `json:"source_id" db:"source_id"`
	RunID          string         `json:"run_id" db:"run_id"`
	EffectiveAt    time.Time      `json:"effective_at" db:"effective_at"`
	RecordedAt     time.Time      `json:"recorded_at" db:"recorded_at"`
}
