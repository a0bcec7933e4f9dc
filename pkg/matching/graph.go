package matching

import (
	"sort"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Graph is the per-run adjacency of relationships, indexed in both directions.
// It is built once and only read afterwards.
type Graph struct {
	out map[string]map[string]map[string]struct{} // from -> type -> to
	in  map[string]map[string]map[string]struct{} // to -> type -> from
	// endpoints holds each key's typed neighbour set, e.g. "out|serves|D1".
	endpoints map[string]map[string]struct{}
}

func NewGraph(relationships []models.Relationship) *Graph {
	g := &Graph{
		out:       make(map[string]map[string]map[string]struct{}),
		in:        make(map[string]map[string]map[string]struct{}),
		endpoints: make(map[string]map[string]struct{}),
	}
	for _, rel := range relationships {
		if !rel.IsValid() {
			continue
		}
		addEdge(g.out, rel.FromKey, rel.Type, rel.ToKey)
		addEdge(g.in, rel.ToKey, rel.Type, rel.FromKey)
		addEndpoint(g.endpoints, rel.FromKey, "out|"+rel.Type+"|"+rel.ToKey)
		addEndpoint(g.endpoints, rel.ToKey, "in|"+rel.Type+"|"+rel.FromKey)
	}
	return g
}

func addEdge(idx map[string]map[string]map[string]struct{}, key, relType, other string) {
	byType, ok := idx[key]
	if !ok {
		byType = make(map[string]map[string]struct{})
		idx[key] = byType
	}
	targets, ok := byType[relType]
	if !ok {
		targets = make(map[string]struct{})
		byType[relType] = targets
	}
	targets[other] = struct{}{}
}

func addEndpoint(idx map[string]map[string]struct{}, key, endpoint string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[endpoint] = struct{}{}
}

// Endpoints returns the typed neighbour set of key. Callers must not modify it.
func (g *Graph) Endpoints(key string) map[string]struct{} {
	return g.endpoints[key]
}

// OutDegree counts distinct targets of relType leaving key.
func (g *Graph) OutDegree(key, relType string) int {
	return len(g.out[key][relType])
}

// Outgoing lists the distinct targets of relType leaving key, sorted.
func (g *Graph) Outgoing(key, relType string) []string {
	return sortedKeys(g.out[key][relType])
}

// Incoming lists the distinct sources of relType arriving at key, sorted.
func (g *Graph) Incoming(key, relType string) []string {
	return sortedKeys(g.in[key][relType])
}

// Sources lists every key with at least one outgoing edge, sorted.
func (g *Graph) Sources() []string {
	keys := make([]string, 0, len(g.out))
	for k := range g.out {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
