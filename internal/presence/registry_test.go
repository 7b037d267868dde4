package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nmxmxh/chatty-gateway/internal/bus"
)

func newTestRegistry(t *testing.T, processID string, b bus.Bus) *Registry {
	t.Helper()
	r := NewRegistry(processID, b, zaptest.NewLogger(t))
	require.NoError(t, r.Start())
	return r
}

func onlineUsers(r *Registry) []UserID {
	entries := r.ListOnline()
	users := make([]UserID, 0, len(entries))
	for _, e := range entries {
		users = append(users, e.UserID)
	}
	return users
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestRegisterUniqueness(t *testing.T) {
	b := bus.NewMemoryBus(zaptest.NewLogger(t))
	defer b.Close()
	r := newTestRegistry(t, "p1", b)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "alice", "conn-1"))
	require.NoError(t, r.Register(ctx, "alice", "conn-1")) // idempotent
	require.NoError(t, r.Register(ctx, "bob", "conn-2"))

	assert.Equal(t, []UserID{"alice", "bob"}, onlineUsers(r))
}

func TestRegisterLastWriteWins(t *testing.T) {
	// A user opening the app in a second tab keeps only the most recently
	// registered connection resolvable. Deliberate policy, easy to regress.
	b := bus.NewMemoryBus(zaptest.NewLogger(t))
	defer b.Close()
	r := newTestRegistry(t, "p1", b)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "alice", "tab-1"))
	require.NoError(t, r.Register(ctx, "alice", "tab-2"))

	e, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "tab-2", e.ConnID)
	assert.Len(t, r.ListOnline(), 1)
}

func TestUnregisterNeverRegistered(t *testing.T) {
	b := bus.NewMemoryBus(zaptest.NewLogger(t))
	defer b.Close()
	r := newTestRegistry(t, "p1", b)

	// Disconnect-before-register and double-disconnect must be no-ops.
	r.UnregisterConnection(context.Background(), "ghost-conn")
	r.UnregisterConnection(context.Background(), "ghost-conn")
	assert.Empty(t, r.ListOnline())
}

func TestUnregisterRemovesMatchingEntries(t *testing.T) {
	b := bus.NewMemoryBus(zaptest.NewLogger(t))
	defer b.Close()
	r := newTestRegistry(t, "p1", b)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "alice", "conn-1"))
	require.NoError(t, r.Register(ctx, "bob", "conn-2"))

	r.UnregisterConnection(ctx, "conn-1")
	_, ok := r.Lookup("alice")
	assert.False(t, ok)
	assert.Equal(t, []UserID{"bob"}, onlineUsers(r))
}

func TestCrossInstanceReplication(t *testing.T) {
	// alice joins on p1, bob on p2; both instances see both users, and a
	// disconnect on p2 is observed on p1.
	log := zaptest.NewLogger(t)
	b := bus.NewMemoryBus(log)
	defer b.Close()
	p1 := newTestRegistry(t, "p1", b)
	p2 := newTestRegistry(t, "p2", b)
	ctx := context.Background()

	require.NoError(t, p1.Register(ctx, "alice", "conn-a"))
	require.NoError(t, p2.Register(ctx, "bob", "conn-b"))

	waitFor(t, func() bool { return len(p1.ListOnline()) == 2 && len(p2.ListOnline()) == 2 })
	assert.ElementsMatch(t, []UserID{"alice", "bob"}, onlineUsers(p1))
	assert.ElementsMatch(t, []UserID{"alice", "bob"}, onlineUsers(p2))

	// Lookup on p1 resolves bob's entry on p2.
	e, ok := p1.Lookup("bob")
	require.True(t, ok)
	assert.Equal(t, "conn-b", e.ConnID)
	assert.Equal(t, "p2", e.ProcessID)

	p2.UnregisterConnection(ctx, "conn-b")
	waitFor(t, func() bool { return len(p1.ListOnline()) == 1 })
	assert.Equal(t, []UserID{"alice"}, onlineUsers(p1))
}

func TestCrossInstanceLastWriteWins(t *testing.T) {
	log := zaptest.NewLogger(t)
	b := bus.NewMemoryBus(log)
	defer b.Close()
	p1 := newTestRegistry(t, "p1", b)
	p2 := newTestRegistry(t, "p2", b)
	ctx := context.Background()

	require.NoError(t, p1.Register(ctx, "alice", "conn-old"))
	waitFor(t, func() bool { _, ok := p2.Lookup("alice"); return ok })

	require.NoError(t, p2.Register(ctx, "alice", "conn-new"))
	waitFor(t, func() bool {
		e, ok := p1.Lookup("alice")
		return ok && e.ConnID == "conn-new"
	})

	// The stale connection on p1 going away must not knock the newer entry out.
	p1.UnregisterConnection(ctx, "conn-old")
	e, ok := p1.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "conn-new", e.ConnID)
}

func TestOnUpdateFires(t *testing.T) {
	b := bus.NewMemoryBus(zaptest.NewLogger(t))
	defer b.Close()
	r := newTestRegistry(t, "p1", b)

	updates := make(chan []Entry, 8)
	r.OnUpdate(func(entries []Entry) { updates <- entries })

	require.NoError(t, r.Register(context.Background(), "alice", "conn-1"))
	select {
	case entries := <-updates:
		require.Len(t, entries, 1)
		assert.Equal(t, UserID("alice"), entries[0].UserID)
	case <-time.After(time.Second):
		t.Fatal("no update callback")
	}
}
