package channel

import (
	"strconv"
	"testing"

	"TreasurySentinel/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanout_HoldsUntilFirstSubscriber(t *testing.T) {
	f := newFanout()
	for i := 0; i < pendingLimit+2; i++ {
		f.publish(model.AgentMessage{ID: strconv.Itoa(i)})
	}

	s, err := f.subscribe()
	require.NoError(t, err)
	assert.Len(t, s, pendingLimit)
	assert.Equal(t, "2", (<-s).ID, "oldest held messages dropped")

	f.close()
	for range s {
	}
}

func TestFanout_CloseDropsHeld(t *testing.T) {
	f := newFanout()
	f.publish(model.AgentMessage{ID: "1"})
	f.close()
	f.close()

	_, err := f.subscribe()
	assert.ErrorIs(t, err, ErrDisconnected)
}
