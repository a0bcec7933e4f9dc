// Package events announces committed canonical changes.
package events

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/internal/tracing"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/reconcile"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, messages ...kafka.Message) error
}

// Emitter turns committed writes into canonical.applied events.
type Emitter struct {
	producer Publisher
	logger   ectologger.Logger
	now      func() time.Time
}

var _ reconcile.Publisher = (*Emitter)(nil)

// NewEmitter creates a new event emitter
func NewEmitter(producer Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
		now:      time.Now,
	}
}

// PublishApplied emits one event per write, keyed by business key.
func (e *Emitter) PublishApplied(ctx context.Context, destination string, writes []reconcile.Write) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.PublishApplied")
	defer span.End()

	now := e.now()
	messages := make([]kafka.Message, 0, len(writes))
	for _, w := range writes {
		event := appliedEvent(destination, w, now)
		messages = append(messages, kafka.Message{
			Key:   w.State.Key,
			Value: event,
			Headers: map[string]string{
				"event_type":     string(event.EventType),
				"entity_type":    w.State.EntityType,
				"destination":    destination,
				"schema_version": SchemaVersion,
			},
		})
	}

	if err := e.producer.Publish(ctx, messages...); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit canonical.applied events")
		return err
	}
	return nil
}

func appliedEvent(destination string, w reconcile.Write, now time.Time) *CanonicalAppliedEvent {
	transitions := make([]Transition, len(w.Entries))
	for i, entry := range w.Entries {
		transitions[i] = Transition{
			Revision:    entry.Revision,
			FromStatus:  entry.PreviousStatus,
			ToStatus:    entry.NewStatus,
			EffectiveAt: entry.EffectiveAt,
		}
	}

	return &CanonicalAppliedEvent{
		BaseEvent:        NewBaseEvent(EventTypeCanonicalApplied, destination, now),
		Key:              w.State.Key,
		EntityType:       w.State.EntityType,
		Status:           w.State.Status,
		ContentHash:      w.State.ContentHash,
		Revision:         w.State.Revision,
		PreviousRevision: w.ExpectedRevision,
		Attributes:       w.State.Attributes,
		Transitions:      transitions,
		EffectiveAt:      w.State.EffectiveAt,
	}
}
