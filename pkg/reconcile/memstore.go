package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Ramsey-B/clover/pkg/ingest"
	"github.com/Ramsey-B/clover/pkg/models"
)

// MemorySource serves an ingested snapshot in key order. It backs file-driven
// runs and tests.
type MemorySource struct {
	snapshot *ingest.Snapshot
}

func NewMemorySource(snapshot *ingest.Snapshot) *MemorySource {
	return &MemorySource{snapshot: snapshot}
}

func (s *MemorySource) FetchPage(_ context.Context, cursor string, limit int) (*Page, error) {
	keys := s.snapshot.Keys
	start := sort.Search(len(keys), func(i int) bool { return keys[i] > cursor })
	end := min(start+limit, len(keys))

	page := &Page{Next: cursor, Done: end >= len(keys)}
	for _, k := range keys[start:end] {
		page.Entities = append(page.Entities, s.snapshot.Entities[k])
	}
	if end > start {
		page.Next = keys[end-1]
	}
	return page, nil
}

func (s *MemorySource) Relationships(context.Context) ([]models.Relationship, error) {
	return s.snapshot.Relationships, nil
}

func (s *MemorySource) Stats(context.Context) (ingest.Stats, error) {
	return s.snapshot.Stats, nil
}

// MemoryDestination keeps canonical state and history in maps with the same
// all-or-nothing batch semantics as the Postgres store.
type MemoryDestination struct {
	mu      sync.Mutex
	states  map[string]models.CanonicalState
	history map[string][]models.HistoryEntry
	writes  int
	// ApplyHook runs before every Apply; an error fails that Apply without writing.
	ApplyHook func(writes []Write) error
}

func NewMemoryDestination() *MemoryDestination {
	return &MemoryDestination{
		states:  map[string]models.CanonicalState{},
		history: map[string][]models.HistoryEntry{},
	}
}

// Seed stores a canonical row directly, as another writer would.
func (d *MemoryDestination) Seed(state models.CanonicalState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states[state.Key] = state
}

func (d *MemoryDestination) Current(_ context.Context, keys []string) (map[string]models.CanonicalState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]models.CanonicalState, len(keys))
	for _, k := range keys {
		if s, ok := d.states[k]; ok {
			out[k] = s
		}
	}
	return out, nil
}

func (d *MemoryDestination) Keys(context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	keys := make([]string, 0, len(d.states))
	for k := range d.states {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (d *MemoryDestination) Apply(_ context.Context, writes []Write) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ApplyHook != nil {
		if err := d.ApplyHook(writes); err != nil {
			return err
		}
	}

	for _, w := range writes {
		var stored int64
		if s, ok := d.states[w.State.Key]; ok {
			stored = s.Revision
		}
		if stored != w.ExpectedRevision {
			return fmt.Errorf("%s at revision %d, expected %d: %w", w.State.Key, stored, w.ExpectedRevision, ErrRevisionMismatch)
		}
		want := w.ExpectedRevision
		for _, e := range w.Entries {
			want++
			if e.Revision != want {
				return fmt.Errorf("%s history revision %d, expected %d: %w", w.State.Key, e.Revision, want, ErrRevisionMismatch)
			}
		}
		if w.State.Revision != want {
			return fmt.Errorf("%s state revision %d, expected %d: %w", w.State.Key, w.State.Revision, want, ErrRevisionMismatch)
		}
	}

	for _, w := range writes {
		d.states[w.State.Key] = w.State
		d.history[w.State.Key] = append(d.history[w.State.Key], w.Entries...)
		d.writes++
	}
	return nil
}

// History returns a copy of a key's entries in revision order.
func (d *MemoryDestination) History(_ context.Context, key string) ([]models.HistoryEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.HistoryEntry(nil), d.history[key]...), nil
}

// Writes counts canonical documents written since creation.
func (d *MemoryDestination) Writes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}

// MemoryCheckpoints is a compare-and-set checkpoint store.
type MemoryCheckpoints struct {
	mu          sync.Mutex
	checkpoints map[string]models.SyncCheckpoint
	// AdvanceHook runs before every Advance; an error fails that Advance.
	AdvanceHook func(checkpoints []models.SyncCheckpoint) error
}

func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{checkpoints: map[string]models.SyncCheckpoint{}}
}

func checkpointKey(destination, key string) string {
	return destination + "\x00" + key
}

func (c *MemoryCheckpoints) Checkpoints(_ context.Context, destination string, keys []string) (map[string]models.SyncCheckpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]models.SyncCheckpoint, len(keys))
	for _, k := range keys {
		if cp, ok := c.checkpoints[checkpointKey(destination, k)]; ok {
			out[k] = cp
		}
	}
	return out, nil
}

func (c *MemoryCheckpoints) Advance(_ context.Context, checkpoints []models.SyncCheckpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.AdvanceHook != nil {
		if err := c.AdvanceHook(checkpoints); err != nil {
			return err
		}
	}
	for _, cp := range checkpoints {
		k := checkpointKey(cp.Destination, cp.Key)
		if existing, ok := c.checkpoints[k]; ok && existing.Revision > cp.Revision {
			continue
		}
		c.checkpoints[k] = cp
	}
	return nil
}

// Get returns one checkpoint.
func (c *MemoryCheckpoints) Get(destination, key string) (models.SyncCheckpoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp, ok := c.checkpoints[checkpointKey(destination, key)]
	return cp, ok
}
