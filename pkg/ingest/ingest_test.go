package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/internal/logging"
	"github.com/Ramsey-B/clover/pkg/models"
)

func obs(id, key, status, imported string) models.RawObservation {
	return models.RawObservation{
		ID:          id,
		BusinessKey: key,
		EntityType:  "pole",
		Status:      status,
		Timestamps:  map[models.TimestampField]string{models.TimestampImported: imported},
	}
}

func TestIngestor_GroupsByNormalizedKey(t *testing.T) {
	ing, err := NewIngestor(DefaultConfig(), logging.Nop())
	require.NoError(t, err)

	ing.Add(context.Background(), models.Batch{ID: "b2", Observations: []models.RawObservation{
		obs("2", " p100", "Approved", "2024-02-01"),
	}})
	ing.Add(context.Background(), models.Batch{ID: "b1", Observations: []models.RawObservation{
		obs("1", "P100 ", "Requested", "2024-01-01"),
		obs("3", "P200", "Requested", "2024-01-01"),
	}})

	snap := ing.Result()
	assert.Equal(t, []string{"P100", "P200"}, snap.Keys)

	p100 := snap.Entities["P100"]
	require.Len(t, p100.Observations, 2)
	assert.Equal(t, "1", p100.Observations[0].ID)
	assert.Equal(t, "b1", p100.Observations[0].SourceID)
	assert.Equal(t, "2", p100.Observations[1].ID)
	assert.Equal(t, "pole", p100.EntityType)
	assert.Equal(t, 2, snap.Stats.Batches)
	assert.Equal(t, 3, snap.Stats.Accepted)
}

func TestIngestor_CountsInvalidKeys(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KeyPattern = `^P\d+$`
	ing, err := NewIngestor(cfg, logging.Nop())
	require.NoError(t, err)

	ing.Add(context.Background(), models.Batch{ID: "b1", Observations: []models.RawObservation{
		obs("1", "", "Requested", ""),
		obs("2", "   ", "Requested", ""),
		obs("3", "X-1", "Requested", ""),
		obs("4", "P1", "Requested", ""),
	}})

	snap := ing.Result()
	assert.Equal(t, 4, snap.Stats.Observations)
	assert.Equal(t, 1, snap.Stats.Accepted)
	assert.Equal(t, 2, snap.Stats.Invalid[ReasonEmptyKey])
	assert.Equal(t, 1, snap.Stats.Invalid[ReasonKeyPattern])
	assert.Equal(t, 3, snap.Stats.InvalidTotal())
	assert.Equal(t, 3, snap.Stats.InvalidKeys())
	assert.Len(t, snap.Stats.Issues, 3)
}

func TestIngestor_ResultIsSnapshot(t *testing.T) {
	ing, err := NewIngestor(DefaultConfig(), logging.Nop())
	require.NoError(t, err)

	ing.Add(context.Background(), models.Batch{ID: "b1", Observations: []models.RawObservation{obs("1", "P1", "A", "")}})
	first := ing.Result()
	ing.Add(context.Background(), models.Batch{ID: "b2", Observations: []models.RawObservation{obs("2", "P1", "B", "")}})

	assert.Len(t, first.Entities["P1"].Observations, 1)
	assert.Len(t, ing.Result().Entities["P1"].Observations, 2)
}

func TestIngestor_Relationships(t *testing.T) {
	ing, err := NewIngestor(DefaultConfig(), logging.Nop())
	require.NoError(t, err)

	ing.Add(context.Background(), models.Batch{ID: "b1", Relationships: []models.Relationship{
		{Type: "serves", FromKey: "p1", ToKey: "d1"},
		{Type: "serves", FromKey: "", ToKey: "d2"},
	}})

	snap := ing.Result()
	require.Len(t, snap.Relationships, 1)
	assert.Equal(t, "P1", snap.Relationships[0].FromKey)
	assert.Equal(t, "D1", snap.Relationships[0].ToKey)
	assert.Equal(t, "b1", snap.Relationships[0].SourceID)
	assert.Equal(t, 1, snap.Stats.Invalid[ReasonInvalidRelationship])
}

func TestNewIngestor_RejectsBadConfig(t *testing.T) {
	_, err := NewIngestor(Config{KeyNormalizers: []string{"nope"}}, logging.Nop())
	assert.Error(t, err)

	_, err = NewIngestor(Config{KeyPattern: "("}, logging.Nop())
	assert.Error(t, err)
}
