package models

// ErrorCategory classifies every problem the engine records.
type ErrorCategory string

const (
	CategoryIngestionQuality    ErrorCategory = "ingestion-quality"
	CategoryResolutionAmbiguity ErrorCategory = "resolution-ambiguity"
	CategoryConflict            ErrorCategory = "conflict"
	CategoryTransient           ErrorCategory = "transient-infrastructure"
	CategoryFatalConfiguration  ErrorCategory = "fatal-configuration"
)

// ErrorCategories lists every category in report order.
var ErrorCategories = []ErrorCategory{
	CategoryIngestionQuality,
	CategoryResolutionAmbiguity,
	CategoryConflict,
	CategoryTransient,
	CategoryFatalConfiguration,
}

// Issue is a recorded, non-fatal problem tied to one entity or observation.
type Issue struct {
	Category      ErrorCategory `json:"category"`
	Key           string        `json:"key,omitempty"`
	ObservationID string        `json:"observation_id,omitempty"`
	Message       string        `json:"message"`
}
