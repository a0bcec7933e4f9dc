// Package ingest groups raw snapshot observations into logical entities by business key.
package ingest

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/internal/tracing"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
)

// InvalidReason explains why an observation was excluded.
type InvalidReason string

const (
	ReasonEmptyKey            InvalidReason = "empty_key"
	ReasonKeyPattern          InvalidReason = "key_pattern_mismatch"
	ReasonInvalidRelationship InvalidReason = "invalid_relationship"
)

// maxIssues caps the per-observation detail kept; counts are always exact.
const maxIssues = 1000

// Config controls key normalization and validity.
type Config struct {
	// KeyNormalizers is the chain applied to raw business keys.
	KeyNormalizers []string
	// KeyPattern, when set, must match the normalized key.
	KeyPattern string
}

func DefaultConfig() Config {
	return Config{KeyNormalizers: []string{"trim", "uppercase"}}
}

// Issue records one excluded observation or relationship.
type Issue struct {
	Reason        InvalidReason `json:"reason"`
	ObservationID string        `json:"observation_id,omitempty"`
	SourceID      string        `json:"source_id,omitempty"`
	RawKey        string        `json:"raw_key"`
}

// Stats counts what happened to every observation seen.
type Stats struct {
	Batches      int                   `json:"batches"`
	Observations int                   `json:"observations"`
	Accepted     int                   `json:"accepted"`
	Invalid      map[InvalidReason]int `json:"invalid"`
	Issues       []Issue               `json:"issues,omitempty"`
}

// InvalidTotal sums every invalid reason.
func (s Stats) InvalidTotal() int {
	total := 0
	for _, n := range s.Invalid {
		total += n
	}
	return total
}

// InvalidKeys counts rejected observations; relationship rejections are left out.
func (s Stats) InvalidKeys() int {
	return s.InvalidTotal() - s.Invalid[ReasonInvalidRelationship]
}

// Snapshot is the immutable result of folding batches.
type Snapshot struct {
	Entities      map[string]models.LogicalEntity
	Keys          []string
	Relationships []models.Relationship
	Stats         Stats
}

// Ingestor folds batches into logical entities. Add may be called any number of
// times; Result returns a snapshot that later Adds do not affect.
type Ingestor struct {
	cfg     Config
	pattern *regexp.Regexp
	logger  ectologger.Logger

	mu            sync.Mutex
	entities      map[string]*models.LogicalEntity
	relationships []models.Relationship
	stats         Stats
}

func NewIngestor(cfg Config, logger ectologger.Logger) (*Ingestor, error) {
	if len(cfg.KeyNormalizers) == 0 {
		cfg.KeyNormalizers = DefaultConfig().KeyNormalizers
	}
	if err := normalizers.Validate(cfg.KeyNormalizers...); err != nil {
		return nil, err
	}

	var pattern *regexp.Regexp
	if cfg.KeyPattern != "" {
		p, err := regexp.Compile(cfg.KeyPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid key pattern %q: %w", cfg.KeyPattern, err)
		}
		pattern = p
	}

	return &Ingestor{
		cfg:      cfg,
		pattern:  pattern,
		logger:   logger,
		entities: make(map[string]*models.LogicalEntity),
		stats:    Stats{Invalid: make(map[InvalidReason]int)},
	}, nil
}

// NormalizeKey applies the key chain and validity predicate.
func (i *Ingestor) NormalizeKey(raw string) (string, InvalidReason, bool) {
	key := normalizers.ApplyChain(raw, i.cfg.KeyNormalizers...)
	if key == "" {
		return "", ReasonEmptyKey, false
	}
	if i.pattern != nil && !i.pattern.MatchString(key) {
		return key, ReasonKeyPattern, false
	}
	return key, "", true
}

// Add folds one batch in.
func (i *Ingestor) Add(ctx context.Context, batch models.Batch) {
	ctx, span := tracing.StartSpan(ctx, "ingest.Ingestor.Add")
	defer span.End()

	i.mu.Lock()
	defer i.mu.Unlock()

	i.stats.Batches++
	before := i.stats.InvalidTotal()

	for idx, obs := range batch.Observations {
		i.stats.Observations++
		if obs.SourceID == "" {
			obs.SourceID = batch.ID
		}
		if obs.ID == "" {
			obs.ID = batch.ID + ":" + strconv.Itoa(idx)
		}

		rawKey := obs.BusinessKey
		key, reason, ok := i.NormalizeKey(rawKey)
		if !ok {
			i.reject(Issue{Reason: reason, ObservationID: obs.ID, SourceID: obs.SourceID, RawKey: rawKey})
			continue
		}

		obs.BusinessKey = key
		entity, exists := i.entities[key]
		if !exists {
			entity = &models.LogicalEntity{Key: key}
			i.entities[key] = entity
		}
		entity.Observations = append(entity.Observations, obs)
		i.stats.Accepted++
	}

	for _, rel := range batch.Relationships {
		from, _, fromOK := i.NormalizeKey(rel.FromKey)
		to, _, toOK := i.NormalizeKey(rel.ToKey)
		if !fromOK || !toOK || rel.Type == "" {
			i.reject(Issue{Reason: ReasonInvalidRelationship, SourceID: rel.SourceID, RawKey: rel.FromKey + "->" + rel.ToKey})
			continue
		}
		rel.FromKey, rel.ToKey = from, to
		if rel.SourceID == "" {
			rel.SourceID = batch.ID
		}
		i.relationships = append(i.relationships, rel)
	}

	i.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_id":     batch.ID,
		"observations": len(batch.Observations),
		"invalid":      i.stats.InvalidTotal() - before,
		"entities":     len(i.entities),
	}).Debug("Ingested batch")
}

func (i *Ingestor) reject(issue Issue) {
	i.stats.Invalid[issue.Reason]++
	if len(i.stats.Issues) < maxIssues {
		i.stats.Issues = append(i.stats.Issues, issue)
	}
}

// Result returns a deep-enough copy of the current state with observations ordered.
func (i *Ingestor) Result() *Snapshot {
	i.mu.Lock()
	defer i.mu.Unlock()

	snap := &Snapshot{
		Entities:      make(map[string]models.LogicalEntity, len(i.entities)),
		Keys:          make([]string, 0, len(i.entities)),
		Relationships: append([]models.Relationship(nil), i.relationships...),
		Stats:         copyStats(i.stats),
	}

	for key, entity := range i.entities {
		snap.Entities[key] = Group(key, entity.Observations)
		snap.Keys = append(snap.Keys, key)
	}
	sort.Strings(snap.Keys)

	sort.SliceStable(snap.Relationships, func(a, b int) bool {
		ra, rb := snap.Relationships[a], snap.Relationships[b]
		if ra.FromKey != rb.FromKey {
			return ra.FromKey < rb.FromKey
		}
		if ra.Type != rb.Type {
			return ra.Type < rb.Type
		}
		return ra.ToKey < rb.ToKey
	})

	return snap
}

// Group builds the logical entity for already-normalized observations of key.
// obs is copied, not modified.
func Group(key string, obs []models.RawObservation) models.LogicalEntity {
	sorted := append([]models.RawObservation(nil), obs...)
	models.SortObservations(sorted)
	return models.LogicalEntity{
		Key:          key,
		EntityType:   discoverType(sorted),
		Observations: sorted,
	}
}

// the newest observation carrying a type wins; obs is sorted oldest first
func discoverType(obs []models.RawObservation) string {
	for idx := len(obs) - 1; idx >= 0; idx-- {
		if obs[idx].EntityType != "" {
			return obs[idx].EntityType
		}
	}
	return ""
}

func copyStats(s Stats) Stats {
	out := Stats{
		Batches:      s.Batches,
		Observations: s.Observations,
		Accepted:     s.Accepted,
		Invalid:      make(map[InvalidReason]int, len(s.Invalid)),
		Issues:       append([]Issue(nil), s.Issues...),
	}
	for k, v := range s.Invalid {
		out.Invalid[k] = v
	}
	return out
}
