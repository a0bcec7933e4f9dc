package reconcile

import (
	"fmt"
	"strings"
	"time"

	"github.com/Ramsey-B/clover/pkg/changes"
	"github.com/Ramsey-B/clover/pkg/journal"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
	"github.com/Ramsey-B/clover/pkg/resolver"
)

// Decision is where the partition step placed an entity.
type Decision string

const (
	DecisionAlreadySynced Decision = "already_synced"
	DecisionConflict      Decision = "conflict"
	DecisionExcluded      Decision = "excluded"
	DecisionEligible      Decision = "eligible"
)

// plan is the outcome of resolving one entity against the destination.
type plan struct {
	key        string
	entityType string
	decision   Decision
	reason     string
	resolution *resolver.Resolution
	previous   *models.CanonicalState
	// change is the winner's state classified against the destination row.
	change  *changes.Change
	next    models.CanonicalState
	entries []models.HistoryEntry
	// repair is set when the destination already holds the resolved state but
	// the checkpoint lags behind it.
	repair *models.SyncCheckpoint
	issues []models.Issue
}

func (p *plan) write() Write {
	w := Write{State: p.next, Entries: p.entries}
	if p.previous != nil {
		w.ExpectedRevision = p.previous.Revision
	}
	return w
}

func (p *plan) checkpoint(destination, runID string, now time.Time) models.SyncCheckpoint {
	return models.SyncCheckpoint{
		Destination: destination,
		Key:         p.key,
		Revision:    p.next.Revision,
		ContentHash: p.next.ContentHash,
		RunID:       runID,
		UpdatedAt:   now,
	}
}

type planInput struct {
	entity     models.LogicalEntity
	previous   *models.CanonicalState
	checkpoint *models.SyncCheckpoint
	duplicate  bool
}

// planEntity resolves one entity and decides what the run should do with it.
// It is pure apart from reading the clock, so pages can be planned concurrently.
func (e *Executor) planEntity(in planInput, runID string, now time.Time) *plan {
	p := &plan{key: in.entity.Key, entityType: in.entity.EntityType, previous: in.previous}

	res, err := e.resolver.Resolve(in.entity)
	if err != nil {
		p.decision = DecisionExcluded
		p.reason = err.Error()
		p.issues = append(p.issues, models.Issue{
			Category: models.CategoryResolutionAmbiguity,
			Key:      in.entity.Key,
			Message:  err.Error(),
		})
		return p
	}
	p.resolution = res
	p.issues = append(p.issues, res.Issues...)

	winner := e.stateFrom(in.entity, res.Winner)
	change := e.detect(&winner, in.previous)
	p.change = &change

	cur := in.previous
	for _, obs := range e.replay(in.entity, res, in.previous) {
		next := e.stateFrom(in.entity, obs)
		if !e.detect(&next, cur).Changed() {
			continue
		}
		state, entry := journal.Transition(cur, next, runID, now)
		p.entries = append(p.entries, entry)
		cur = &state
	}

	if len(p.entries) == 0 {
		// cur is the unchanged destination row.
		p.next = *cur
		if e.cfg.Mode != models.RunModeFullResync {
			p.decision = DecisionAlreadySynced
			if stale(in.checkpoint, cur) {
				cp := p.checkpoint(e.cfg.Destination, runID, now)
				p.repair = &cp
			}
			return p
		}
		// Full resync rewrites the document at its current revision.
		p.next = winner
		p.next.Revision = cur.Revision
		p.next.UpdatedAt = now
	} else {
		p.next = *cur
		if e.cfg.Mode != models.RunModeFullResync && covered(in.checkpoint, p.next) {
			p.decision = DecisionAlreadySynced
			p.entries = nil
			return p
		}
	}

	if reason, conflict := e.conflict(in); conflict {
		p.decision = DecisionConflict
		p.reason = reason
		p.entries = nil
		p.issues = append(p.issues, models.Issue{
			Category:      models.CategoryConflict,
			Key:           in.entity.Key,
			ObservationID: res.Winner.ID,
			Message:       reason,
		})
		return p
	}

	p.decision = DecisionEligible
	return p
}

// replay lists the observations whose states the history should record, oldest
// first and ending with the winner. Observations at or before the destination's
// effective time are already reflected there; observations after the winner lost
// to it on status and never became canonical.
func (e *Executor) replay(entity models.LogicalEntity, res *resolver.Resolution, previous *models.CanonicalState) []models.RawObservation {
	winnerAt, _, winnerHasTime := res.Winner.BestTimestamp()

	obs := append([]models.RawObservation(nil), entity.Observations...)
	models.SortObservations(obs)

	out := make([]models.RawObservation, 0, len(obs))
	for _, o := range obs {
		if o.ID == res.Winner.ID && o.SourceID == res.Winner.SourceID {
			continue
		}
		at, _, ok := o.BestTimestamp()
		if previous != nil && (!ok || !at.After(previous.EffectiveAt)) {
			continue
		}
		if ok && winnerHasTime && at.After(winnerAt) {
			continue
		}
		if ok && !winnerHasTime {
			continue
		}
		out = append(out, o)
	}
	return append(out, res.Winner)
}

// detect fills next's content hash and classifies it against prev.
func (e *Executor) detect(next *models.CanonicalState, prev *models.CanonicalState) changes.Change {
	var prevHash string
	if prev != nil {
		prevHash = prev.ContentHash
	}
	change := e.detector.Detect(next.Key, next.Attributes, prevHash)
	next.ContentHash = change.NewHash
	return change
}

// stateFrom builds the canonical state one observation would produce, without
// its content hash. Status is folded into the attributes so a status change is
// a content change.
func (e *Executor) stateFrom(entity models.LogicalEntity, obs models.RawObservation) models.CanonicalState {
	attrs := normalizers.Attributes(obs.Attributes)
	if attrs == nil {
		attrs = map[string]any{}
	}
	status := strings.TrimSpace(obs.Status)
	if status != "" {
		attrs["status"] = status
	}
	at, _, _ := obs.BestTimestamp()

	return models.CanonicalState{
		Key:            entity.Key,
		EntityType:     entity.EntityType,
		Attributes:     attrs,
		Status:         status,
		ObservationID:  obs.ID,
		SourceID:       obs.SourceID,
		LastSyncedFrom: e.cfg.SourceTag,
		EffectiveAt:    at,
	}
}

func (e *Executor) conflict(in planInput) (string, bool) {
	if e.cfg.OverrideConflicts {
		return "", false
	}
	if in.previous != nil && in.previous.LastSyncedFrom != e.cfg.SourceTag {
		from := in.previous.LastSyncedFrom
		if from == "" {
			from = "an untagged writer"
		}
		return fmt.Sprintf("destination value was written by %s", from), true
	}
	if in.duplicate && e.cfg.SkipDuplicateCandidates {
		return "entity is a duplicate candidate", true
	}
	return "", false
}

// covered reports whether the checkpoint already records next or something newer.
func covered(cp *models.SyncCheckpoint, next models.CanonicalState) bool {
	return cp != nil && cp.Revision >= next.Revision && cp.ContentHash == next.ContentHash
}

func stale(cp *models.SyncCheckpoint, current *models.CanonicalState) bool {
	return cp == nil || cp.Revision < current.Revision || (cp.Revision == current.Revision && cp.ContentHash != current.ContentHash)
}
