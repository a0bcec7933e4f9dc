package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/clover/internal/tracing"
	"github.com/Ramsey-B/clover/pkg/models"
)

// entityLabel is carried by every projected node so edges can match either
// endpoint without knowing its type.
const entityLabel = "Canonical"

// Projector upserts canonical entities as nodes and relationships as edges.
type Projector struct {
	client *Client
	logger ectologger.Logger
}

func NewProjector(client *Client, logger ectologger.Logger) *Projector {
	return &Projector{client: client, logger: logger}
}

// Project writes one committed batch. Relationships are projected when at
// least one endpoint is in states; the other endpoint is created as a bare
// node if it has not been projected yet.
func (p *Projector) Project(ctx context.Context, states []models.CanonicalState, rels []models.Relationship) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.Project")
	defer span.End()

	if len(states) == 0 {
		return nil
	}

	nodes := nodeBatches(states)
	edges := edgeBatches(states, rels)

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"entities":      len(states),
		"relationships": countEdges(edges),
	})

	_, err := p.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, label := range sortedLabels(nodes) {
			cypher := fmt.Sprintf(`
				UNWIND $batch AS props
				MERGE (e:%s {key: props.key})
				SET e = props, e:%s
			`, entityLabel, label)
			if _, err := tx.Run(ctx, cypher, map[string]any{"batch": nodes[label]}); err != nil {
				return nil, err
			}
		}
		for _, relType := range sortedLabels(edges) {
			cypher := fmt.Sprintf(`
				UNWIND $batch AS rel
				MERGE (from:%[1]s {key: rel.from})
				MERGE (to:%[1]s {key: rel.to})
				MERGE (from)-[r:%[2]s]->(to)
				SET r.source_id = rel.source_id
			`, entityLabel, relType)
			if _, err := tx.Run(ctx, cypher, map[string]any{"batch": edges[relType]}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		log.WithError(err).Error("Failed to project batch into graph")
		return fmt.Errorf("failed to project batch into graph: %w", err)
	}

	log.Debug("Projected batch into graph")
	return nil
}

// nodeBatches groups node properties by sanitized entity type label.
func nodeBatches(states []models.CanonicalState) map[string][]map[string]any {
	out := make(map[string][]map[string]any)
	for _, s := range states {
		props := make(map[string]any, len(s.Attributes)+7)
		for k, v := range s.Attributes {
			if v == nil {
				continue
			}
			props[k] = v
		}
		props["key"] = s.Key
		props["entity_type"] = s.EntityType
		props["status"] = s.Status
		props["revision"] = s.Revision
		props["content_hash"] = s.ContentHash
		props["source_id"] = s.SourceID
		if !s.EffectiveAt.IsZero() {
			props["effective_at"] = s.EffectiveAt.UTC().Format(time.RFC3339)
		}

		label := sanitizeLabel(s.EntityType)
		out[label] = append(out[label], props)
	}
	return out
}

// edgeBatches groups relationships touching states by sanitized relationship type.
func edgeBatches(states []models.CanonicalState, rels []models.Relationship) map[string][]map[string]any {
	touched := make(map[string]bool, len(states))
	for _, k := range ectolinq.Map(states, func(s models.CanonicalState) string { return s.Key }) {
		touched[k] = true
	}

	out := make(map[string][]map[string]any)
	for _, r := range rels {
		if !r.IsValid() || (!touched[r.FromKey] && !touched[r.ToKey]) {
			continue
		}
		relType := strings.ToUpper(sanitizeLabel(r.Type))
		out[relType] = append(out[relType], map[string]any{
			"from":      r.FromKey,
			"to":        r.ToKey,
			"source_id": r.SourceID,
		})
	}
	return out
}

func countEdges(edges map[string][]map[string]any) int {
	n := 0
	for _, batch := range edges {
		n += len(batch)
	}
	return n
}

func sortedLabels(m map[string][]map[string]any) []string {
	labels := make([]string, 0, len(m))
	for l := range m {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// sanitizeLabel keeps letters, digits and underscores so the label can be
// interpolated into Cypher.
func sanitizeLabel(label string) string {
	var b strings.Builder
	for _, c := range label {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			b.WriteRune(c)
		}
	}
	if b.Len() == 0 {
		return "Entity"
	}
	return b.String()
}
