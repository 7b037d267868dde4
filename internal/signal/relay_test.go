package signal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nmxmxh/chatty-gateway/internal/bus"
	"github.com/nmxmxh/chatty-gateway/internal/presence"
	"github.com/nmxmxh/chatty-gateway/internal/room"
	"github.com/nmxmxh/chatty-gateway/pkg/json"
)

type delivery struct {
	ConnID  string
	Event   string
	Payload string
}

type captureSender struct {
	mu    sync.Mutex
	local map[string]bool
	got   []delivery
}

func newCaptureSender(conns ...string) *captureSender {
	local := make(map[string]bool, len(conns))
	for _, c := range conns {
		local[c] = true
	}
	return &captureSender{local: local}
}

func (s *captureSender) SendToConn(connID, event string, payload json.RawMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.local[connID] {
		return false
	}
	s.got = append(s.got, delivery{ConnID: connID, Event: event, Payload: string(payload)})
	return true
}

func (s *captureSender) deliveries() []delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery{}, s.got...)
}

type fixture struct {
	registry *presence.Registry
	relay    *Relay
	sender   *captureSender
}

func newFixture(t *testing.T, conns ...string) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	b := bus.NewMemoryBus(log)
	t.Cleanup(func() { b.Close() })

	registry := presence.NewRegistry("p1", b, log)
	require.NoError(t, registry.Start())
	sender := newCaptureSender(conns...)
	router := room.NewRouter("p1", b, sender, log)
	require.NoError(t, router.Start())

	return &fixture{
		registry: registry,
		relay:    NewRelay(registry, router, log),
		sender:   sender,
	}
}

func TestInviteDeliversToCallee(t *testing.T) {
	f := newFixture(t, "conn-bob")
	ctx := context.Background()
	require.NoError(t, f.registry.Register(ctx, "bob", "conn-bob"))

	err := f.relay.Invite(ctx, Invite{
		To:     "bob",
		From:   "alice",
		Meta:   CallerMeta{Name: "Alice", Picture: "alice.png"},
		Signal: json.RawMessage(`{"sdp":"offer"}`),
	})
	require.NoError(t, err)

	got := f.sender.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, "conn-bob", got[0].ConnID)
	assert.Equal(t, "call user", got[0].Event)

	var payload invitePayload
	require.NoError(t, json.Unmarshal([]byte(got[0].Payload), &payload))
	assert.Equal(t, presence.UserID("alice"), payload.From)
	assert.Equal(t, "Alice", payload.Name)
	assert.JSONEq(t, `{"sdp":"offer"}`, string(payload.Signal))
}

func TestInviteToOfflineUserIsDropped(t *testing.T) {
	f := newFixture(t, "conn-alice")

	err := f.relay.Invite(context.Background(), Invite{
		To:     "nobody",
		From:   "alice",
		Signal: json.RawMessage(`{"sdp":"offer"}`),
	})
	require.NoError(t, err)
	assert.Empty(t, f.sender.deliveries())
}

func TestAnswerAddressesRawConnection(t *testing.T) {
	// The answer step addresses a connection ID directly; no presence entry
	// needs to exist, and an answer with no prior invite is still relayed.
	f := newFixture(t, "conn-alice")

	f.relay.Answer(context.Background(), "conn-alice", json.RawMessage(`{"sdp":"answer"}`))

	got := f.sender.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, "call accepted", got[0].Event)
	assert.JSONEq(t, `{"sdp":"answer"}`, got[0].Payload)
}

func TestEndCallHasNoPayload(t *testing.T) {
	f := newFixture(t, "conn-alice")

	f.relay.End(context.Background(), "conn-alice")

	got := f.sender.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, "end call", got[0].Event)
	assert.Empty(t, got[0].Payload)
}

func TestInviteAcrossInstances(t *testing.T) {
	// alice on p1 calls bob on p2: the invite resolves bob's remote presence
	// entry and rides the bus to his instance.
	log := zaptest.NewLogger(t)
	b := bus.NewMemoryBus(log)
	defer b.Close()

	reg1 := presence.NewRegistry("p1", b, log)
	require.NoError(t, reg1.Start())
	sender1 := newCaptureSender("conn-alice")
	router1 := room.NewRouter("p1", b, sender1, log)
	require.NoError(t, router1.Start())
	relay1 := NewRelay(reg1, router1, log)

	reg2 := presence.NewRegistry("p2", b, log)
	require.NoError(t, reg2.Start())
	sender2 := newCaptureSender("conn-bob")
	router2 := room.NewRouter("p2", b, sender2, log)
	require.NoError(t, router2.Start())

	ctx := context.Background()
	require.NoError(t, reg1.Register(ctx, "alice", "conn-alice"))
	require.NoError(t, reg2.Register(ctx, "bob", "conn-bob"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := reg1.Lookup("bob"); ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	require.NoError(t, relay1.Invite(ctx, Invite{
		To:     "bob",
		From:   "alice",
		Signal: json.RawMessage(`{"sdp":"offer"}`),
	}))

	for time.Now().Before(deadline) {
		if len(sender2.deliveries()) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	got := sender2.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, "conn-bob", got[0].ConnID)
	assert.Equal(t, "call user", got[0].Event)
}
