package reconcile

import (
	"context"

	"github.com/Ramsey-B/clover/pkg/ingest"
	"github.com/Ramsey-B/clover/pkg/models"
)

// Page is one slice of the source in stable key order.
type Page struct {
	Entities []models.LogicalEntity
	// Next is the cursor to pass for the following page.
	Next string
	Done bool
}

// Source yields grouped entities by keyset cursor. An empty cursor starts at the beginning.
type Source interface {
	FetchPage(ctx context.Context, cursor string, limit int) (*Page, error)
	Relationships(ctx context.Context) ([]models.Relationship, error)
	Stats(ctx context.Context) (ingest.Stats, error)
}

// Write is one entity's destination change: its new canonical document and the
// history entries that lead to it. Entries is empty when the document is
// rewritten without a state transition.
type Write struct {
	State   models.CanonicalState
	Entries []models.HistoryEntry
	// ExpectedRevision is the revision the destination must hold before the write; 0 means no row.
	ExpectedRevision int64
}

// Destination holds canonical state and history.
type Destination interface {
	Current(ctx context.Context, keys []string) (map[string]models.CanonicalState, error)
	Keys(ctx context.Context) ([]string, error)
	// Apply commits every write, canonical documents and history together, or none.
	// A write whose ExpectedRevision does not match the stored revision fails the batch
	// with ErrRevisionMismatch.
	Apply(ctx context.Context, writes []Write) error
}

// CheckpointStore persists per-key sync progress.
type CheckpointStore interface {
	Checkpoints(ctx context.Context, destination string, keys []string) (map[string]models.SyncCheckpoint, error)
	// Advance stores each checkpoint unless a newer revision is already recorded.
	Advance(ctx context.Context, checkpoints []models.SyncCheckpoint) error
}

// Publisher announces committed writes.
type Publisher interface {
	PublishApplied(ctx context.Context, destination string, writes []Write) error
}

// Projector mirrors committed state into a secondary view.
type Projector interface {
	Project(ctx context.Context, states []models.CanonicalState, relationships []models.Relationship) error
}
