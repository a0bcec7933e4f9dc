// Package changes decides whether a resolved entity differs from what was last recorded.
package changes

import (
	"sort"

	"github.com/Ramsey-B/clover/pkg/fingerprint"
	"github.com/Ramsey-B/clover/pkg/models"
)

type Kind string

const (
	KindNew       Kind = "new"
	KindChanged   Kind = "changed"
	KindUnchanged Kind = "unchanged"
)

type Config struct {
	// ExcludeFields are attribute paths left out of the content hash.
	ExcludeFields []string
	// DisappearedPolicy labels keys that vanish from the source.
	DisappearedPolicy models.DisappearedPolicy
}

type Change struct {
	Key          string `json:"key"`
	Kind         Kind   `json:"kind"`
	PreviousHash string `json:"previous_hash,omitempty"`
	NewHash      string `json:"new_hash"`
}

// Changed is true for new and changed entities.
func (c Change) Changed() bool {
	return c.Kind != KindUnchanged
}

// Disappeared is a key recorded previously that the current snapshot no longer contains.
type Disappeared struct {
	Key    string                   `json:"key"`
	Policy models.DisappearedPolicy `json:"policy"`
}

type Detector struct {
	exclude map[string]bool
	policy  models.DisappearedPolicy
}

func NewDetector(cfg Config) *Detector {
	exclude := make(map[string]bool, len(cfg.ExcludeFields))
	for _, f := range cfg.ExcludeFields {
		exclude[f] = true
	}
	policy := cfg.DisappearedPolicy
	if policy == "" {
		policy = models.DisappearedReport
	}
	return &Detector{exclude: exclude, policy: policy}
}

// Hash is the content hash of attrs under this detector's exclusions.
func (d *Detector) Hash(attrs map[string]any) string {
	return fingerprint.GenerateWithExclusions(attrs, d.exclude)
}

// Detect compares attrs with the previously recorded hash. An empty previous
// hash means the key has never been recorded.
func (d *Detector) Detect(key string, attrs map[string]any, previousHash string) Change {
	change := Change{Key: key, PreviousHash: previousHash, NewHash: d.Hash(attrs)}
	switch {
	case previousHash == "":
		change.Kind = KindNew
	case fingerprint.HasChanged(previousHash, change.NewHash):
		change.Kind = KindChanged
	default:
		change.Kind = KindUnchanged
	}
	return change
}

// Disappeared returns the previously recorded keys absent from seen, sorted.
func (d *Detector) Disappeared(previous []string, seen map[string]struct{}) []Disappeared {
	var out []Disappeared
	for _, key := range previous {
		if _, ok := seen[key]; ok {
			continue
		}
		out = append(out, Disappeared{Key: key, Policy: d.policy})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
