package models

import "time"

// SyncCheckpoint is the last revision of a key durably applied to a destination.
type SyncCheckpoint struct {
	Destination string    `json:"destination" db:"destination"`
	Key         string    `json:"key" db:"business_key"`
	Revision    int64     `json:"revision" db:"revision"`
	ContentHash string    `json:"content_hash" db:"content_hash"`
	RunID       string    `json:"run_id" db:"run_id"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
