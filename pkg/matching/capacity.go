package matching

import (
	"github.com/Ramsey-B/clover/pkg/models"
)

// CapacityViolations reports every entity whose distinct outgoing edges of the
// configured relationship type exceed the limit. DropCount is the full count.
func (s *Similarity) CapacityViolations(entityTypes map[string]string) []models.CapacityViolation {
	relType := s.cfg.CapacityRelationship
	if relType == "" || s.cfg.CapacityLimit <= 0 {
		return nil
	}

	var out []models.CapacityViolation
	for _, key := range s.graph.Sources() {
		count := s.graph.OutDegree(key, relType)
		if count <= s.cfg.CapacityLimit {
			continue
		}
		out = append(out, models.CapacityViolation{
			Key:              key,
			EntityType:       entityTypes[key],
			RelationshipType: relType,
			DropCount:        count,
			Limit:            s.cfg.CapacityLimit,
		})
	}
	return out
}
