// Package journal builds and reads the append-only per-entity history of canonical state.
package journal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/internal/tracing"
	"github.com/Ramsey-B/clover/pkg/models"
)

// ErrNoState is returned when an entity had no recorded state at the requested time.
var ErrNoState = errors.New("no recorded state at the requested time")

// Basis selects which timestamp an as-of query is evaluated against.
type Basis string

const (
	// BasisRecorded answers "what did the engine hold at t".
	BasisRecorded Basis = "recorded"
	// BasisEffective answers "what was true in the field at t".
	BasisEffective Basis = "effective"
)

// Transition builds the next canonical state and its history entry. The revision
// is one past prev's, or 1 when prev is nil.
func Transition(prev *models.CanonicalState, next models.CanonicalState, runID string, now time.Time) (models.CanonicalState, models.HistoryEntry) {
	entry := models.HistoryEntry{
		ID:            uuid.New().String(),
		Key:           next.Key,
		Revision:      1,
		NewHash:       next.ContentHash,
		NewStatus:     next.Status,
		Attributes:    next.Attributes,
		ObservationID: next.ObservationID,
		SourceID:      next.SourceID,
		RunID:         runID,
		EffectiveAt:   next.EffectiveAt,
		RecordedAt:    now,
	}
	if prev != nil {
		entry.Revision = prev.Revision + 1
		entry.PreviousHash = prev.ContentHash
		entry.PreviousStatus = prev.Status
	}

	next.Revision = entry.Revision
	next.UpdatedAt = now
	return next, entry
}

// Verify checks that entries for one key form the sequence 1..n with each entry
// chaining from the previous hash.
func Verify(entries []models.HistoryEntry) error {
	for i, e := range entries {
		want := int64(i + 1)
		if e.Revision != want {
			return fmt.Errorf("history for %s: revision %d at position %d, want %d", e.Key, e.Revision, i, want)
		}
		if i > 0 && e.PreviousHash != entries[i-1].NewHash {
			return fmt.Errorf("history for %s: revision %d does not chain from revision %d", e.Key, e.Revision, entries[i-1].Revision)
		}
		if i > 0 && e.Key != entries[0].Key {
			return fmt.Errorf("history mixes keys %s and %s", entries[0].Key, e.Key)
		}
	}
	return nil
}

// StateAt returns the entry in force at t. entries must be in revision order.
func StateAt(entries []models.HistoryEntry, t time.Time, basis Basis) (models.HistoryEntry, error) {
	var found *models.HistoryEntry
	for i := range entries {
		e := &entries[i]
		at := e.RecordedAt
		if basis == BasisEffective {
			at = e.EffectiveAt
		}
		if at.After(t) {
			continue
		}
		if found == nil || e.Revision > found.Revision {
			found = e
		}
	}
	if found == nil {
		return models.HistoryEntry{}, ErrNoState
	}
	return *found, nil
}

// Reader loads the history of one key in revision order.
type Reader interface {
	History(ctx context.Context, key string) ([]models.HistoryEntry, error)
}

// Journal answers history queries over a Reader.
type Journal struct {
	reader Reader
	logger ectologger.Logger
}

func New(reader Reader, logger ectologger.Logger) *Journal {
	return &Journal{reader: reader, logger: logger}
}

func (j *Journal) History(ctx context.Context, key string) ([]models.HistoryEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "journal.Journal.History")
	defer span.End()

	entries, err := j.reader.History(ctx, key)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(a, b int) bool { return entries[a].Revision < entries[b].Revision })

	if err := Verify(entries); err != nil {
		j.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"key": key}).Warn("History sequence is not contiguous")
	}
	return entries, nil
}

func (j *Journal) AsOf(ctx context.Context, key string, t time.Time, basis Basis) (models.HistoryEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "journal.Journal.AsOf")
	defer span.End()

	entries, err := j.History(ctx, key)
	if err != nil {
		return models.HistoryEntry{}, err
	}
	return StateAt(entries, t, basis)
}
