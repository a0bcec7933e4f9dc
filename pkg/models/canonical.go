package models

import "time"

// CanonicalState is the resolved current truth for one entity. A new revision
// replaces the previous one; an existing revision is never edited.
type CanonicalState struct {
	Key            string         `json:"key" db:"business_key"`
	EntityType     string         `json:"entity_type" db:"entity_type"`
	Attributes     map[string]any `json:"attributes"`
	ContentHash    string         `json:"content_hash" db:"content_hash"`
	Status         string         `json:"status" db:"status"`
	ObservationID  string         `json:"observation_id" db:"observation_id"`
	SourceID       string         `json:"source_id" db:"source_id"`
	Revision       int64          `json:"revision" db:"revision"`
	LastSyncedFrom string         `json:"last_synced_from" db:"last_synced_from"`
	EffectiveAt    time.Time      `json:"effective_at" db:"effective_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}
