package bus

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// draining is pre-set so requeue does not spawn a drain goroutine against a
// bus that has no live client behind it.
func stalledBus(t *testing.T) *RedisBus {
	t.Helper()
	return &RedisBus{log: zaptest.NewLogger(t), draining: true}
}

func TestRequeueKeepsUntriedRemainderInOrder(t *testing.T) {
	b := stalledBus(t)
	b.pending = []outbound{{channel: "rooms", payload: []byte("late")}}

	b.requeue([]outbound{
		{channel: "rooms", payload: []byte("first")},
		{channel: "rooms", payload: []byte("second")},
		{channel: "presence", payload: []byte("third")},
	})

	require.Len(t, b.pending, 4)
	assert.Equal(t, "first", string(b.pending[0].payload))
	assert.Equal(t, "second", string(b.pending[1].payload))
	assert.Equal(t, "third", string(b.pending[2].payload))
	assert.Equal(t, "late", string(b.pending[3].payload))
}

func TestRequeueDropsOldestPastCap(t *testing.T) {
	b := stalledBus(t)
	for i := 0; i < maxPendingPublishes; i++ {
		b.pending = append(b.pending, outbound{channel: "rooms", payload: []byte(fmt.Sprintf("p%d", i))})
	}

	b.requeue([]outbound{
		{channel: "rooms", payload: []byte("retry-a")},
		{channel: "rooms", payload: []byte("retry-b")},
	})

	require.Len(t, b.pending, maxPendingPublishes)
	// The requeued batch sits oldest, so it is what the cap trims first.
	assert.Equal(t, "p0", string(b.pending[0].payload))
	assert.Equal(t, fmt.Sprintf("p%d", maxPendingPublishes-1), string(b.pending[maxPendingPublishes-1].payload))
}
