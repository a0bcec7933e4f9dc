package reconcile

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/Ramsey-B/clover/pkg/changes"
	"github.com/Ramsey-B/clover/pkg/ingest"
	"github.com/Ramsey-B/clover/pkg/models"
)

const maxReportIssues = 500

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeHalted    Outcome = "halted"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// UnresolvedPage names the work a halted run could not commit.
type UnresolvedPage struct {
	// Cursor re-fetches the page when passed to Source.FetchPage.
	Cursor string   `json:"cursor"`
	Keys   []string `json:"keys"`
	Error  string   `json:"error"`
}

// Breakdown counts eligible entities by a few reporting dimensions.
type Breakdown struct {
	Status  map[string]int `json:"status"`
	Project map[string]int `json:"project"`
	Agent   map[string]int `json:"agent"`
}

// Sample shows what one eligible entity would change.
type Sample struct {
	Key        string `json:"key"`
	FromStatus string `json:"from_status,omitempty"`
	ToStatus   string `json:"to_status"`
	Diff       string `json:"diff"`
}

// Report is the structured result of one run. Dry-run and sync runs share it.
type Report struct {
	RunID       string         `json:"run_id"`
	Mode        models.RunMode `json:"mode"`
	Destination string         `json:"destination"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Duration    time.Duration  `json:"duration"`
	Outcome     Outcome        `json:"outcome"`

	Pages      int `json:"pages"`
	Considered int `json:"considered"`
	// New, Changed and Unchanged classify every resolved entity against the
	// destination, whatever its partition.
	New       int `json:"new"`
	Changed   int `json:"changed"`
	Unchanged int `json:"unchanged"`

	AlreadySynced int `json:"already_synced"`
	Conflicting   int `json:"conflicting"`
	Excluded      int `json:"excluded"`
	Eligible      int `json:"eligible"`
	Applied       int `json:"applied"`
	// Transitions is the number of history entries written, or that would be written.
	Transitions         int `json:"transitions"`
	Skipped             int `json:"skipped"`
	Failed              int `json:"failed"`
	CheckpointsRepaired int `json:"checkpoints_repaired"`

	InvalidKeys          int                          `json:"invalid_keys"`
	InvalidRelationships int                          `json:"invalid_relationships"`
	Invalid              map[ingest.InvalidReason]int `json:"invalid"`

	// Errors always carries every category, zero or not.
	Errors map[models.ErrorCategory]int `json:"errors"`

	Breakdown    Breakdown `json:"breakdown"`
	EligibleKeys []string  `json:"eligible_keys"`
	AppliedKeys  []string  `json:"applied_keys"`
	ConflictKeys []string  `json:"conflict_keys"`

	DuplicateGroups    []models.DuplicateGroup    `json:"duplicate_groups"`
	CapacityViolations []models.CapacityViolation `json:"capacity_violations"`
	Disappeared        []changes.Disappeared      `json:"disappeared"`

	Samples    []Sample        `json:"samples,omitempty"`
	Issues     []models.Issue  `json:"issues,omitempty"`
	Unresolved *UnresolvedPage `json:"unresolved,omitempty"`
}

func newReport(runID string, cfg Config, started time.Time) *Report {
	r := &Report{
		RunID:       runID,
		Mode:        cfg.Mode,
		Destination: cfg.Destination,
		StartedAt:   started,
		Invalid:     map[ingest.InvalidReason]int{},
		Errors:      make(map[models.ErrorCategory]int, len(models.ErrorCategories)),
		Breakdown: Breakdown{
			Status:  map[string]int{},
			Project: map[string]int{},
			Agent:   map[string]int{},
		},
		EligibleKeys:       []string{},
		AppliedKeys:        []string{},
		ConflictKeys:       []string{},
		DuplicateGroups:    []models.DuplicateGroup{},
		CapacityViolations: []models.CapacityViolation{},
		Disappeared:        []changes.Disappeared{},
	}
	for _, c := range models.ErrorCategories {
		r.Errors[c] = 0
	}
	return r
}

// Succeeded reports whether every page was applied or skipped by policy.
func (r *Report) Succeeded() bool {
	return r.Outcome == OutcomeCompleted
}

func (r *Report) addIssue(issue models.Issue) {
	r.Errors[issue.Category]++
	if len(r.Issues) < maxReportIssues {
		r.Issues = append(r.Issues, issue)
	}
}

func (r *Report) addIngestStats(stats ingest.Stats) {
	for reason, n := range stats.Invalid {
		r.Invalid[reason] += n
	}
	r.InvalidKeys = stats.InvalidKeys()
	r.InvalidRelationships = stats.Invalid[ingest.ReasonInvalidRelationship]
	r.Errors[models.CategoryIngestionQuality] += stats.InvalidTotal()
	for _, is := range stats.Issues {
		if len(r.Issues) >= maxReportIssues {
			break
		}
		r.Issues = append(r.Issues, models.Issue{
			Category:      models.CategoryIngestionQuality,
			ObservationID: is.ObservationID,
			Message:       fmt.Sprintf("%s: %q from %s", is.Reason, is.RawKey, is.SourceID),
		})
	}
}

func (r *Report) finish(outcome Outcome, at time.Time) {
	r.Outcome = outcome
	r.FinishedAt = at
	r.Duration = at.Sub(r.StartedAt)
	sort.Strings(r.EligibleKeys)
	sort.Strings(r.AppliedKeys)
	sort.Strings(r.ConflictKeys)
}

func (r *Report) countChange(kind changes.Kind) {
	switch kind {
	case changes.KindNew:
		r.New++
	case changes.KindChanged:
		r.Changed++
	case changes.KindUnchanged:
		r.Unchanged++
	}
}

func (r *Report) countEligible(p *plan, cfg Config) {
	r.Eligible++
	r.Transitions += len(p.entries)
	r.EligibleKeys = append(r.EligibleKeys, p.key)

	r.Breakdown.Status[label(p.next.Status)]++
	r.Breakdown.Project[label(attrString(p.next.Attributes, cfg.ProjectAttribute))]++
	r.Breakdown.Agent[label(attrString(p.next.Attributes, cfg.AgentAttribute))]++

	if len(r.Samples) < cfg.SampleDiffs {
		r.Samples = append(r.Samples, sampleOf(p))
	}
}

func label(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func attrString(attrs map[string]any, name string) string {
	if name == "" {
		return ""
	}
	v, ok := attrs[name]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func sampleOf(p *plan) Sample {
	s := Sample{Key: p.key, ToStatus: p.next.Status}
	var before map[string]any
	if p.previous != nil {
		s.FromStatus = p.previous.Status
		before = p.previous.Attributes
	}
	s.Diff = attributeDiff(before, p.next.Attributes)
	return s
}

// attributeDiff renders a unified diff between two attribute maps as indented JSON.
func attributeDiff(before, after map[string]any) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(prettyJSON(before)),
		B:        difflib.SplitLines(prettyJSON(after)),
		FromFile: "destination",
		ToFile:   "resolved",
		Context:  1,
	})
	if err != nil {
		return err.Error()
	}
	return diff
}

func prettyJSON(m map[string]any) string {
	if m == nil {
		return ""
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", m)
	}
	return string(b) + "\n"
}
