// Package matching finds likely duplicate entities from attribute and relationship
// similarity and flags entities over their relationship capacity.
package matching

import (
	"fmt"
	"math"
	"strings"

	"github.com/Ramsey-B/clover/pkg/normalizers"
)

// KeyAttribute as a defining attribute compares business keys directly.
const KeyAttribute = "key"

// ClusterMode selects the grouping algorithm.
type ClusterMode string

const (
	ClusterGreedy    ClusterMode = "greedy"
	ClusterConnected ClusterMode = "connected"
)

// AttributeRule scores one secondary attribute.
type AttributeRule struct {
	Name       string     `yaml:"name" mapstructure:"name"`
	Weight     float64    `yaml:"weight" mapstructure:"weight"`
	Comparator Comparator `yaml:"comparator" mapstructure:"comparator"`
	// MinSimilarity is the comparator score that counts as a match. Defaults to 1 for exact, 0.9 otherwise.
	MinSimilarity float64  `yaml:"min_similarity" mapstructure:"min_similarity"`
	Normalizers   []string `yaml:"normalizers" mapstructure:"normalizers"`
}

type Config struct {
	Threshold float64
	// DefiningAttributes maps entity type to the attribute that identifies it.
	// Types not listed fall back to DefaultDefiningAttribute.
	DefiningAttributes       map[string]string
	DefaultDefiningAttribute string
	DefiningWeight           float64
	Secondary                []AttributeRule
	GraphWeight              float64
	Mode                     ClusterMode

	CapacityRelationship string
	CapacityLimit        int
}

func DefaultConfig() Config {
	return Config{
		Threshold:                0.7,
		DefiningAttributes:       map[string]string{},
		DefaultDefiningAttribute: "code",
		DefiningWeight:           1.0,
		Secondary: []AttributeRule{
			{Name: "project", Weight: 0.3, Comparator: CompareExact, Normalizers: []string{"trim", "lowercase"}},
			{Name: "contractor", Weight: 0.25, Comparator: CompareExact, Normalizers: []string{"nname"}},
			{Name: "name", Weight: 0.2, Comparator: CompareJaroWinkler, MinSimilarity: 0.92, Normalizers: []string{"nname"}},
		},
		GraphWeight:          0.5,
		Mode:                 ClusterGreedy,
		CapacityRelationship: "serves",
		CapacityLimit:        12,
	}
}

// Validate rejects configurations that cannot produce meaningful scores.
func (c Config) Validate() error {
	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("similarity threshold must be in (0,1], got %v", c.Threshold)
	}
	if c.Mode != ClusterGreedy && c.Mode != ClusterConnected {
		return fmt.Errorf("unknown cluster mode %q", c.Mode)
	}
	for _, rule := range c.Secondary {
		if rule.Name == "" || rule.Weight < 0 {
			return fmt.Errorf("invalid secondary attribute rule %+v", rule)
		}
		if err := normalizers.Validate(rule.Normalizers...); err != nil {
			return err
		}
	}
	if c.CapacityLimit < 0 {
		return fmt.Errorf("capacity limit must not be negative, got %d", c.CapacityLimit)
	}
	return nil
}

func (c Config) definingAttribute(entityType string) string {
	for _, t := range []string{entityType, strings.ToLower(entityType)} {
		if attr, ok := c.DefiningAttributes[t]; ok && attr != "" {
			return strings.ToLower(attr)
		}
	}
	if c.DefaultDefiningAttribute == "" {
		return KeyAttribute
	}
	return strings.ToLower(c.DefaultDefiningAttribute)
}

// Node is one entity as seen by the matcher.
type Node struct {
	Key        string
	EntityType string
	Attributes map[string]any
}

// prepared caches the normalized comparison values of a node.
type prepared struct {
	Node
	defining  string
	secondary []string
}

// PairScore is the similarity of two entities with the reasons that produced it.
type PairScore struct {
	Score   float64
	Reasons []string
}

// Similarity scores entity pairs under one configuration.
type Similarity struct {
	cfg    Config
	graph  *Graph
	scorer *Scorer
}

func NewSimilarity(cfg Config, graph *Graph) *Similarity {
	if graph == nil {
		graph = NewGraph(nil)
	}
	return &Similarity{cfg: cfg, graph: graph, scorer: NewScorer()}
}

func (s *Similarity) prepare(n Node) prepared {
	attrs := normalizers.Attributes(n.Attributes)
	p := prepared{Node: n, secondary: make([]string, len(s.cfg.Secondary))}

	if def := s.cfg.definingAttribute(n.EntityType); def == KeyAttribute {
		p.defining = n.Key
	} else {
		p.defining = stringValue(attrs[def])
	}
	for i, rule := range s.cfg.Secondary {
		p.secondary[i] = normalizers.ApplyChain(stringValue(attrs[strings.ToLower(rule.Name)]), rule.Normalizers...)
	}
	return p
}

// Score compares two entities. It is symmetric, and entities of different types score 0.
func (s *Similarity) Score(a, b Node) PairScore {
	return s.score(s.prepare(a), s.prepare(b))
}

func (s *Similarity) score(a, b prepared) PairScore {
	if a.EntityType != b.EntityType {
		return PairScore{}
	}

	var total float64
	var reasons []string

	if a.Key == b.Key {
		reasons = append(reasons, "Exact key match")
	}

	if a.defining != "" && a.defining == b.defining {
		total += s.cfg.DefiningWeight
		if def := s.cfg.definingAttribute(a.EntityType); def != KeyAttribute {
			reasons = append(reasons, "Same "+def)
		} else if a.Key != b.Key {
			reasons = append(reasons, "Same key")
		}
	}

	for i, rule := range s.cfg.Secondary {
		sim := s.scorer.Compare(rule.Comparator, a.secondary[i], b.secondary[i])
		if sim >= minSimilarity(rule) {
			total += rule.Weight
			reasons = append(reasons, "Same "+strings.ToLower(rule.Name))
		}
	}

	if jaccard, shared := s.scorer.Jaccard(s.graph.Endpoints(a.Key), s.graph.Endpoints(b.Key)); shared > 0 {
		total += s.cfg.GraphWeight * jaccard
		reasons = append(reasons, fmt.Sprintf("Share %d connections", shared))
	}

	return PairScore{Score: round(math.Min(total, 1.0)), Reasons: reasons}
}

func minSimilarity(rule AttributeRule) float64 {
	if rule.MinSimilarity > 0 {
		return rule.MinSimilarity
	}
	if rule.Comparator == CompareExact || rule.Comparator == "" {
		return 1.0
	}
	return 0.9
}

// round to 6 places so float noise never decides a threshold or a comparison
func round(f float64) float64 {
	return math.Round(f*1e6) / 1e6
}

func stringValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
