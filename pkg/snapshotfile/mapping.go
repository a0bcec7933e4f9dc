package snapshotfile

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Kind says what the rows of a file describe.
type Kind string

const (
	KindObservations  Kind = "observations"
	KindRelationships Kind = "relationships"
)

// ErrInvalidMapping is wrapped by every mapping problem.
var ErrInvalidMapping = errors.New("invalid field mapping")

// Columns names the header of each abstract field.
type Columns struct {
	BusinessKey string                           `yaml:"business_key"`
	EntityType  string                           `yaml:"entity_type"`
	Status      string                           `yaml:"status"`
	SourceID    string                           `yaml:"source_id"`
	Timestamps  map[models.TimestampField]string `yaml:"timestamps"`

	Type     string `yaml:"type"`
	FromKey  string `yaml:"from_key"`
	FromType string `yaml:"from_type"`
	ToKey    string `yaml:"to_key"`
	ToType   string `yaml:"to_type"`
}

// Mapping is the field-name table for one export format.
type Mapping struct {
	Kind Kind `yaml:"kind"`
	// Sheet selects the xlsx sheet; the first sheet is used when empty.
	Sheet string `yaml:"sheet"`
	// EntityType is used for rows without an entity type column.
	EntityType string `yaml:"entity_type"`
	// RelationshipType is used for rows without a type column.
	RelationshipType string  `yaml:"relationship_type"`
	Columns          Columns `yaml:"columns"`
	// Attributes maps header to attribute name. When empty every column not
	// used above becomes an attribute named after its header.
	Attributes map[string]string `yaml:"attributes"`
	// Numeric lists attributes stored as numbers when they parse as one.
	Numeric []string `yaml:"numeric"`
}

// LoadMapping reads and validates a YAML mapping file.
func LoadMapping(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping %s: %w", path, err)
	}
	return ParseMapping(data)
}

func ParseMapping(data []byte) (*Mapping, error) {
	var m Mapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMapping, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Mapping) Validate() error {
	if m.Kind == "" {
		m.Kind = KindObservations
	}
	switch m.Kind {
	case KindObservations:
		if m.Columns.BusinessKey == "" {
			return fmt.Errorf("%w: columns.business_key is required", ErrInvalidMapping)
		}
		for field := range m.Columns.Timestamps {
			if !knownTimestamp(field) {
				return fmt.Errorf("%w: unknown timestamp field %q", ErrInvalidMapping, field)
			}
		}
	case KindRelationships:
		if m.Columns.FromKey == "" || m.Columns.ToKey == "" {
			return fmt.Errorf("%w: columns.from_key and columns.to_key are required", ErrInvalidMapping)
		}
		if m.Columns.Type == "" && m.RelationshipType == "" {
			return fmt.Errorf("%w: columns.type or relationship_type is required", ErrInvalidMapping)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMapping, m.Kind)
	}
	return nil
}

func knownTimestamp(field models.TimestampField) bool {
	for _, f := range models.TimestampPrecedence {
		if f == field {
			return true
		}
	}
	return false
}
