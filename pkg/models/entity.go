package models

import (
	"sort"
	"time"
)

// LogicalEntity is every observation of one real-world object across snapshots.
type LogicalEntity struct {
	Key          string           `json:"key"`
	EntityType   string           `json:"entity_type"`
	Observations []RawObservation `json:"observations"`
}

// SortObservations orders observations oldest first by best timestamp. Observations
// with no usable timestamp sort before all others. Ties fall back to source then ID.
func SortObservations(obs []RawObservation) {
	type keyed struct {
		ts  time.Time
		has bool
	}
	keys := make(map[string]keyed, len(obs))
	key := func(o RawObservation) keyed {
		id := o.SourceID + "\x00" + o.ID
		if k, ok := keys[id]; ok {
			return k
		}
		ts, _, has := o.BestTimestamp()
		k := keyed{ts: ts, has: has}
		keys[id] = k
		return k
	}

	sort.SliceStable(obs, func(i, j int) bool {
		a, b := key(obs[i]), key(obs[j])
		if a.has != b.has {
			return !a.has
		}
		if !a.ts.Equal(b.ts) {
			return a.ts.Before(b.ts)
		}
		if obs[i].SourceID != obs[j].SourceID {
			return obs[i].SourceID < obs[j].SourceID
		}
		return obs[i].ID < obs[j].ID
	})
}
