package matching

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/internal/logging"
	"github.com/Ramsey-B/clover/pkg/models"
)

func links(from string, lo, hi int) []models.Relationship {
	var rels []models.Relationship
	for i := lo; i <= hi; i++ {
		rels = append(rels, models.Relationship{Type: "link", FromKey: from, ToKey: fmt.Sprintf("T%d", i)})
	}
	return rels
}

// A~B and B~C score 7/9 but A~C only 0.6.
func chainFixture() (Config, []models.Relationship, []Node) {
	cfg := DefaultConfig()
	cfg.Secondary = nil
	cfg.GraphWeight = 1.0

	var rels []models.Relationship
	rels = append(rels, links("A", 1, 8)...)
	rels = append(rels, links("B", 2, 9)...)
	rels = append(rels, links("C", 3, 10)...)

	nodes := []Node{
		{Key: "C", EntityType: "pole"},
		{Key: "A", EntityType: "pole"},
		{Key: "B", EntityType: "pole"},
	}
	return cfg, rels, nodes
}

func TestCluster_GreedySingleMembership(t *testing.T) {
	cfg, rels, nodes := chainFixture()
	groups := NewSimilarity(cfg, NewGraph(rels)).Cluster(nodes)

	require.Len(t, groups, 1)
	assert.Equal(t, []string{"A", "B"}, groups[0].Keys)
	assert.InDelta(t, 7.0/9.0, groups[0].Score, 1e-6)
	assert.Equal(t, []string{"Share 7 connections"}, groups[0].Reasons)
}

func TestCluster_ConnectedComponents(t *testing.T) {
	cfg, rels, nodes := chainFixture()
	cfg.Mode = ClusterConnected
	groups := NewSimilarity(cfg, NewGraph(rels)).Cluster(nodes)

	require.Len(t, groups, 1)
	assert.Equal(t, []string{"A", "B", "C"}, groups[0].Keys)
}

func TestCluster_TypesAreSeparate(t *testing.T) {
	sim := NewSimilarity(DefaultConfig(), nil)
	groups := sim.Cluster([]Node{
		{Key: "P1", EntityType: "pole", Attributes: map[string]any{"code": "7"}},
		{Key: "D1", EntityType: "drop", Attributes: map[string]any{"code": "7"}},
		{Key: "P2", EntityType: "pole", Attributes: map[string]any{"code": "7"}},
		{Key: "D2", EntityType: "drop", Attributes: map[string]any{"code": "8"}},
	})

	require.Len(t, groups, 1)
	assert.Equal(t, "pole", groups[0].EntityType)
	assert.Equal(t, []string{"P1", "P2"}, groups[0].Keys)
}

func TestCluster_DeterministicAndExclusive(t *testing.T) {
	var nodes []Node
	var rels []models.Relationship
	for i := 0; i < 40; i++ {
		key := fmt.Sprintf("P%02d", i)
		nodes = append(nodes, Node{
			Key:        key,
			EntityType: "pole",
			Attributes: map[string]any{"code": fmt.Sprint(i % 7), "project": fmt.Sprint(i % 3)},
		})
		rels = append(rels, models.Relationship{Type: "serves", FromKey: key, ToKey: fmt.Sprintf("D%d", i%5)})
	}

	for _, mode := range []ClusterMode{ClusterGreedy, ClusterConnected} {
		t.Run(string(mode), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Mode = mode
			sim := NewSimilarity(cfg, NewGraph(rels))
			want := sim.Cluster(nodes)

			rng := rand.New(rand.NewSource(11))
			for i := 0; i < 10; i++ {
				shuffled := append([]Node(nil), nodes...)
				rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
				assert.Equal(t, want, sim.Cluster(shuffled))
			}

			seen := map[string]bool{}
			for _, g := range want {
				assert.GreaterOrEqual(t, len(g.Keys), 2)
				for _, k := range g.Keys {
					assert.False(t, seen[k], "%s in more than one group", k)
					seen[k] = true
				}
			}
		})
	}
}

func TestCapacityViolations(t *testing.T) {
	rels := serves("P200", "D1", "D2", "D3", "D4", "D5", "D6", "D7", "D8", "D9", "D10", "D11", "D12", "D13", "D14", "D15")
	rels = append(rels, serves("P100", "D1", "D2", "D3", "D4", "D5", "D6", "D7", "D8", "D9", "D10", "D11", "D12")...)
	rels = append(rels, serves("P200", "D15")...)

	sim := NewSimilarity(DefaultConfig(), NewGraph(rels))
	got := sim.CapacityViolations(map[string]string{"P200": "pole"})

	require.Len(t, got, 1)
	assert.Equal(t, models.CapacityViolation{
		Key:              "P200",
		EntityType:       "pole",
		RelationshipType: "serves",
		DropCount:        15,
		Limit:            12,
	}, got[0])
}

func TestEngine_Analyze(t *testing.T) {
	engine, err := NewEngine(DefaultConfig(), logging.Nop())
	require.NoError(t, err)

	analysis := engine.Analyze(context.Background(), []Node{
		{Key: "P1", EntityType: "pole", Attributes: map[string]any{"code": "1"}},
		{Key: "P2", EntityType: "pole", Attributes: map[string]any{"code": "1"}},
		{Key: "P3", EntityType: "pole", Attributes: map[string]any{"code": "2"}},
	}, nil)

	require.Len(t, analysis.Groups, 1)
	assert.Empty(t, analysis.Violations)
	assert.Equal(t, map[string]int{"P1": 0, "P2": 0}, analysis.Members())
}
