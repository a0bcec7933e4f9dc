package models

// DuplicateGroup is an advisory cluster of entities that look like the same object.
type DuplicateGroup struct {
	EntityType string   `json:"entity_type"`
	Keys       []string `json:"keys"`
	Score      float64  `json:"score"`
	Reasons    []string `json:"reasons"`
}

// CapacityViolation flags an entity with more relationships of one type than allowed.
type CapacityViolation struct {
	Key              string `json:"key"`
	EntityType       string `json:"entity_type"`
	RelationshipType string `json:"relationship_type"`
	DropCount        int    `json:"drop_count"`
	Limit            int    `json:"limit"`
}
