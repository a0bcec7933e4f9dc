package matching

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/internal/tracing"
	"github.com/Ramsey-B/clover/pkg/models"
)

// Analysis is the advisory output of one duplicate and capacity pass.
type Analysis struct {
	Groups     []models.DuplicateGroup    `json:"duplicate_groups"`
	Violations []models.CapacityViolation `json:"capacity_violations"`
}

// Members indexes every key that belongs to a duplicate group.
func (a *Analysis) Members() map[string]int {
	members := make(map[string]int)
	if a == nil {
		return members
	}
	for i, g := range a.Groups {
		for _, k := range g.Keys {
			members[k] = i
		}
	}
	return members
}

// Engine runs clustering and capacity checks over one run's entities.
type Engine struct {
	cfg    Config
	logger ectologger.Logger
}

func NewEngine(cfg Config, logger ectologger.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, logger: logger}, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Analyze builds the run's adjacency once and scores every candidate pair against it.
func (e *Engine) Analyze(ctx context.Context, nodes []Node, relationships []models.Relationship) *Analysis {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.Analyze")
	defer span.End()

	start := time.Now()
	sim := NewSimilarity(e.cfg, NewGraph(relationships))

	types := make(map[string]string, len(nodes))
	for _, n := range nodes {
		types[n.Key] = n.EntityType
	}

	analysis := &Analysis{
		Groups:     sim.Cluster(nodes),
		Violations: sim.CapacityViolations(types),
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"entities":            len(nodes),
		"relationships":       len(relationships),
		"duplicate_groups":    len(analysis.Groups),
		"capacity_violations": len(analysis.Violations),
		"mode":                string(e.cfg.Mode),
		"duration_ms":         time.Since(start).Milliseconds(),
	}).Info("Completed duplicate analysis")

	return analysis
}
