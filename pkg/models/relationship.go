package models

// Relationship is a typed, directed edge between two business keys.
type Relationship struct {
	Type     string `json:"type" db:"relationship_type" yaml:"type"`
	FromKey  string `json:"from_key" db:"from_key" yaml:"from_key"`
	FromType string `json:"from_type" db:"from_type" yaml:"from_type"`
	ToKey    string `json:"to_key" db:"to_key" yaml:"to_key"`
	ToType   string `json:"to_type" db:"to_type" yaml:"to_type"`
	SourceID string `json:"source_id,omitempty" db:"source_id" yaml:"source_id"`
}

// IsValid reports whether both endpoints and the type are present.
func (r Relationship) IsValid() bool {
	return r.Type != "" && r.FromKey != "" && r.ToKey != ""
}
