// Package presence tracks which users currently hold a live connection and
// where. The registry is the single source of truth for "who is online": a
// local map replicated across gateway instances by publishing per-instance
// snapshots on the cross-instance bus.
//
// Replication is snapshot-driven with no instance liveness tracking: an
// instance that dies without publishing an empty snapshot leaves its entries
// in surviving registries until that user reconnects elsewhere and overwrites
// them.
package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nmxmxh/chatty-gateway/internal/bus"
	"github.com/nmxmxh/chatty-gateway/pkg/json"
	"github.com/nmxmxh/chatty-gateway/pkg/metrics"
)

// Channel is the bus channel carrying presence snapshots.
const Channel = "chatty:presence"

// UserID is the canonical application-level user identity. Compared with
// strict equality everywhere; never a connection ID.
type UserID string

// Entry says user UserID is reachable through connection ConnID on instance
// ProcessID. At most one Entry per UserID exists at any instant; a user with
// several simultaneous connections collapses to the most recently registered
// one (last write wins).
type Entry struct {
	UserID    UserID    `json:"userId"`
	ConnID    string    `json:"socketId"`
	ProcessID string    `json:"processId"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// snapshot is the replication unit: every entry owned by one instance.
type snapshot struct {
	ProcessID string  `json:"processId"`
	Entries   []Entry `json:"entries"`
}

// Registry is the bus-synchronized presence map. All mutation goes through
// Register/UnregisterConnection; message-handling code only reads.
type Registry struct {
	processID string
	bus       bus.Bus
	log       *zap.Logger

	mu      sync.RWMutex
	entries map[UserID]Entry
	order   []UserID // insertion order, backs ListOnline

	updateMu sync.RWMutex
	onUpdate []func([]Entry)
}

func NewRegistry(processID string, b bus.Bus, log *zap.Logger) *Registry {
	return &Registry{
		processID: processID,
		bus:       b,
		log:       log.With(zap.String("module", "presence")),
		entries:   make(map[UserID]Entry),
	}
}

// Start subscribes the registry to presence snapshots from other instances.
func (r *Registry) Start() error {
	return r.bus.Subscribe(Channel, r.applyRemote)
}

// OnUpdate registers a callback invoked with the merged online list after
// every change, local or remote. The gateway uses it to push
// "get-online-users" to its connected clients.
func (r *Registry) OnUpdate(fn func([]Entry)) {
	r.updateMu.Lock()
	defer r.updateMu.Unlock()
	r.onUpdate = append(r.onUpdate, fn)
}

// Register records user as reachable via connID on this instance. Idempotent;
// overwrites any prior entry for the same user, even one owned by another
// instance (last write wins).
func (r *Registry) Register(ctx context.Context, user UserID, connID string) error {
	r.mu.Lock()
	r.entries[user] = Entry{
		UserID:    user,
		ConnID:    connID,
		ProcessID: r.processID,
		UpdatedAt: time.Now(),
	}
	r.ensureOrderLocked(user)
	local := r.localSnapshotLocked()
	r.mu.Unlock()

	r.publish(ctx, local)
	r.notify()
	return nil
}

// UnregisterConnection removes every entry held by connID. Safe to call for a
// connection that was never registered or was already removed; a
// disconnect-before-register race must never error.
func (r *Registry) UnregisterConnection(ctx context.Context, connID string) {
	r.mu.Lock()
	removed := false
	for user, e := range r.entries {
		if e.ConnID == connID && e.ProcessID == r.processID {
			delete(r.entries, user)
			r.removeOrderLocked(user)
			removed = true
		}
	}
	var local snapshot
	if removed {
		local = r.localSnapshotLocked()
	}
	r.mu.Unlock()

	if !removed {
		return
	}
	r.publish(ctx, local)
	r.notify()
}

// Lookup resolves a user to their current presence entry. Reflects
// bus-synchronized state: the entry may point at a connection on another
// instance.
func (r *Registry) Lookup(user UserID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[user]
	return e, ok
}

// ListOnline returns a snapshot of online entries in registration order.
func (r *Registry) ListOnline() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.order))
	for _, user := range r.order {
		if e, ok := r.entries[user]; ok {
			out = append(out, e)
		}
	}
	return out
}

// applyRemote merges a snapshot published by another instance: that
// instance's ownership is replaced wholesale, keeping a newer entry for the
// same user if one exists elsewhere.
func (r *Registry) applyRemote(ctx context.Context, payload []byte) {
	var s snapshot
	if err := json.Unmarshal(payload, &s); err != nil {
		r.log.Warn("malformed presence snapshot", zap.Error(err))
		return
	}
	if s.ProcessID == r.processID {
		return // our own publish looped back
	}

	r.mu.Lock()
	for user, e := range r.entries {
		if e.ProcessID == s.ProcessID {
			delete(r.entries, user)
			r.removeOrderLocked(user)
		}
	}
	for _, e := range s.Entries {
		if existing, ok := r.entries[e.UserID]; ok && existing.UpdatedAt.After(e.UpdatedAt) {
			continue
		}
		r.entries[e.UserID] = e
		r.ensureOrderLocked(e.UserID)
	}
	r.mu.Unlock()

	r.notify()
}

func (r *Registry) localSnapshotLocked() snapshot {
	s := snapshot{ProcessID: r.processID}
	for _, user := range r.order {
		if e, ok := r.entries[user]; ok && e.ProcessID == r.processID {
			s.Entries = append(s.Entries, e)
		}
	}
	return s
}

func (r *Registry) publish(ctx context.Context, s snapshot) {
	payload, err := json.Marshal(s)
	if err != nil {
		r.log.Error("failed to marshal presence snapshot", zap.Error(err))
		return
	}
	if err := r.bus.Publish(ctx, Channel, payload); err != nil {
		r.log.Warn("failed to publish presence snapshot", zap.Error(err))
	}
}

func (r *Registry) notify() {
	online := r.ListOnline()
	metrics.OnlineUsers.Set(float64(len(online)))

	r.updateMu.RLock()
	callbacks := append([]func([]Entry){}, r.onUpdate...)
	r.updateMu.RUnlock()
	for _, fn := range callbacks {
		fn(online)
	}
}

func (r *Registry) ensureOrderLocked(user UserID) {
	for _, u := range r.order {
		if u == user {
			return
		}
	}
	r.order = append(r.order, user)
}

func (r *Registry) removeOrderLocked(user UserID) {
	for i, u := range r.order {
		if u == user {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
