package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

func TestSanitizeLabel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "pole", want: "pole"},
		{in: "service-address", want: "serviceaddress"},
		{in: "Pole Attachment_2", want: "PoleAttachment_2"},
		{in: "`) DETACH DELETE n //", want: "DETACHDELETEn"},
		{in: "", want: "Entity"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeLabel(tt.in))
		})
	}
}

func TestNodeBatches(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	states := []models.CanonicalState{
		{Key: "P1", EntityType: "pole", Status: "Installed", Revision: 2, EffectiveAt: at,
			Attributes: map[string]any{"region": "North", "owner": nil, "key": "shadowed"}},
		{Key: "A1", EntityType: "address", Status: "Active", Revision: 1},
	}

	batches := nodeBatches(states)
	require.Len(t, batches["pole"], 1)
	require.Len(t, batches["address"], 1)

	pole := batches["pole"][0]
	assert.Equal(t, "P1", pole["key"])
	assert.Equal(t, "North", pole["region"])
	assert.Equal(t, int64(2), pole["revision"])
	assert.Equal(t, "2024-01-02T03:04:05Z", pole["effective_at"])
	assert.NotContains(t, pole, "owner")

	assert.NotContains(t, batches["address"][0], "effective_at")
}

func TestEdgeBatches(t *testing.T) {
	states := []models.CanonicalState{{Key: "P1"}}
	rels := []models.Relationship{
		{Type: "serves", FromKey: "P1", ToKey: "A1", SourceID: "b1"},
		{Type: "serves", FromKey: "P2", ToKey: "A2"},
		{Type: "attached-to", FromKey: "X9", ToKey: "P1"},
		{Type: "", FromKey: "P1", ToKey: "A3"},
	}

	edges := edgeBatches(states, rels)
	assert.Equal(t, map[string][]map[string]any{
		"SERVES":     {{"from": "P1", "to": "A1", "source_id": "b1"}},
		"ATTACHEDTO": {{"from": "X9", "to": "P1", "source_id": ""}},
	}, edges)
	assert.Equal(t, 2, countEdges(edges))
	assert.Equal(t, []string{"ATTACHEDTO", "SERVES"}, sortedLabels(edges))
}
