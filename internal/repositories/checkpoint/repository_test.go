package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/clover/pkg/models"
)

func TestNewestPerKey(t *testing.T) {
	in := []models.SyncCheckpoint{
		{Destination: "prod", Key: "P1", Revision: 2},
		{Destination: "prod", Key: "P2", Revision: 1},
		{Destination: "prod", Key: "P1", Revision: 5},
		{Destination: "prod", Key: "P1", Revision: 3},
		{Destination: "qa", Key: "P1", Revision: 1},
	}

	out := newestPerKey(in)
	assert.Equal(t, []models.SyncCheckpoint{
		{Destination: "prod", Key: "P1", Revision: 5},
		{Destination: "prod", Key: "P2", Revision: 1},
		{Destination: "qa", Key: "P1", Revision: 1},
	}, out)
}
