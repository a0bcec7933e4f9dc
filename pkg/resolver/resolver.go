// Package resolver picks the observation that represents an entity's current truth.
package resolver

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
)

// ErrNoObservations is returned for an entity with nothing to resolve.
var ErrNoObservations = errors.New("entity has no observations")

// Rule names the rule that decided the winner.
type Rule string

const (
	RuleSingle         Rule = "single_observation"
	RuleStatusPriority Rule = "status_priority"
	RuleRecency        Rule = "recency"
	RuleTieBreak       Rule = "source_tie_break"
)

type Config struct {
	// StatusPriority ranks statuses from highest to lowest. Matching ignores case
	// and surrounding space; statuses not listed rank below every listed one.
	StatusPriority []string
}

// Resolution is the outcome for one entity.
type Resolution struct {
	Key    string                `json:"key"`
	Winner models.RawObservation `json:"winner"`
	// Ordered lists every observation, winner first.
	Ordered []models.RawObservation `json:"ordered"`
	Rule    Rule                    `json:"rule"`
	Issues  []models.Issue          `json:"issues,omitempty"`
}

// EffectiveAt is the winner's best timestamp, or the zero time when it has none.
func (r *Resolution) EffectiveAt() time.Time {
	ts, _, _ := r.Winner.BestTimestamp()
	return ts
}

type Resolver struct {
	rank map[string]int
}

func New(cfg Config) *Resolver {
	rank := make(map[string]int, len(cfg.StatusPriority))
	for i, status := range cfg.StatusPriority {
		key := normalizeStatus(status)
		if _, dup := rank[key]; dup {
			continue
		}
		rank[key] = len(cfg.StatusPriority) - i
	}
	return &Resolver{rank: rank}
}

type candidate struct {
	obs  models.RawObservation
	rank int
	ts   time.Time
	hasT bool
}

// Resolve never depends on the input order of observations.
func (r *Resolver) Resolve(entity models.LogicalEntity) (*Resolution, error) {
	if len(entity.Observations) == 0 {
		return nil, fmt.Errorf("resolve %s: %w", entity.Key, ErrNoObservations)
	}

	res := &Resolution{Key: entity.Key}
	cands := make([]candidate, len(entity.Observations))
	for i, obs := range entity.Observations {
		ts, _, ok := obs.BestTimestamp()
		cands[i] = candidate{obs: obs, rank: r.rank[normalizeStatus(obs.Status)], ts: ts, hasT: ok}

		for _, field := range obs.UnparseableTimestamps() {
			res.Issues = append(res.Issues, models.Issue{
				Category:      models.CategoryIngestionQuality,
				Key:           entity.Key,
				ObservationID: obs.ID,
				Message:       fmt.Sprintf("unparseable %s %q treated as oldest", field, obs.Timestamps[field]),
			})
		}
	}

	sort.SliceStable(cands, func(i, j int) bool { return r.better(cands[i], cands[j]) })

	res.Ordered = make([]models.RawObservation, len(cands))
	for i, c := range cands {
		res.Ordered[i] = c.obs
	}
	res.Winner = cands[0].obs
	res.Rule = r.decidingRule(cands)

	if len(cands) > 1 && res.Rule == RuleTieBreak {
		res.Issues = append(res.Issues, models.Issue{
			Category:      models.CategoryResolutionAmbiguity,
			Key:           entity.Key,
			ObservationID: res.Winner.ID,
			Message:       fmt.Sprintf("%d observations tied on status and time; chose source %s", countTied(cands), res.Winner.SourceID),
		})
	}

	return res, nil
}

// better reports whether a should be ranked ahead of b.
func (r *Resolver) better(a, b candidate) bool {
	if a.rank != b.rank {
		return a.rank > b.rank
	}
	if a.hasT != b.hasT {
		return a.hasT
	}
	if !a.ts.Equal(b.ts) {
		return a.ts.After(b.ts)
	}
	if a.obs.SourceID != b.obs.SourceID {
		return a.obs.SourceID > b.obs.SourceID
	}
	return a.obs.ID > b.obs.ID
}

func (r *Resolver) decidingRule(sorted []candidate) Rule {
	if len(sorted) == 1 {
		return RuleSingle
	}
	first, second := sorted[0], sorted[1]
	switch {
	case first.rank != second.rank:
		return RuleStatusPriority
	case first.hasT != second.hasT || !first.ts.Equal(second.ts):
		return RuleRecency
	default:
		return RuleTieBreak
	}
}

func countTied(sorted []candidate) int {
	n := 1
	for _, c := range sorted[1:] {
		if c.rank != sorted[0].rank || c.hasT != sorted[0].hasT || !c.ts.Equal(sorted[0].ts) {
			break
		}
		n++
	}
	return n
}

func normalizeStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
