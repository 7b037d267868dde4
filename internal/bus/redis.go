package bus

import (
	"context"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/nmxmxh/chatty-gateway/pkg/metrics"
	"github.com/nmxmxh/chatty-gateway/pkg/redis"
)

// maxPendingPublishes bounds the retry queue while Redis is unreachable.
// Presence snapshots are idempotent overwrites, so dropping the oldest
// entries under sustained outage loses nothing a later publish won't restore.
const maxPendingPublishes = 1024

type outbound struct {
	channel string
	payload []byte
}

// RedisBus is the production Bus: Redis pub/sub shared by all gateway
// instances. Publishes that fail while Redis is down are queued and retried
// with exponential backoff; local delivery on the publishing instance never
// goes through the bus, so same-process fan-out keeps working during an
// outage.
type RedisBus struct {
	client *redis.Client
	log    *zap.Logger

	mu       sync.Mutex
	pending  []outbound
	draining bool

	subMu sync.Mutex
	subs  []interface{ Close() error }

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRedisBus(client *redis.Client, log *zap.Logger) *RedisBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisBus{
		client: client,
		log:    log.With(zap.String("module", "bus")),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Publish sends payload on channel. On failure the payload is queued and a
// backoff drain loop is started; Publish itself never blocks on the outage.
func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		b.log.Warn("bus publish failed, queueing for retry",
			zap.String("channel", channel), zap.Error(err))
		b.enqueue(outbound{channel: channel, payload: payload})
		return nil
	}
	metrics.BusPublishes.Inc()
	return nil
}

func (b *RedisBus) enqueue(out outbound) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) >= maxPendingPublishes {
		b.pending = b.pending[1:]
		metrics.BusPublishFailures.Inc()
	}
	b.pending = append(b.pending, out)
	if !b.draining {
		b.draining = true
		b.wg.Add(1)
		go b.drainPending()
	}
}

// requeue puts a failed flush batch back at the front of the retry queue,
// ahead of anything queued while the flush ran, so publish order survives a
// partial redelivery. Overflow past the cap drops from the oldest end.
func (b *RedisBus) requeue(items []outbound) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(append(make([]outbound, 0, len(items)+len(b.pending)), items...), b.pending...)
	if over := len(b.pending) - maxPendingPublishes; over > 0 {
		b.pending = b.pending[over:]
		metrics.BusPublishFailures.Add(float64(over))
	}
	if !b.draining {
		b.draining = true
		b.wg.Add(1)
		go b.drainPending()
	}
}

// drainPending waits for Redis to recover, then flushes the queue in order.
func (b *RedisBus) drainPending() {
	defer b.wg.Done()

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // retry until shutdown
	err := backoff.Retry(func() error {
		return b.client.IsAvailable(b.ctx)
	}, backoff.WithContext(bo, b.ctx))
	if err != nil {
		// Shutdown before recovery; queued publishes are lost.
		b.mu.Lock()
		metrics.BusPublishFailures.Add(float64(len(b.pending)))
		b.pending = nil
		b.draining = false
		b.mu.Unlock()
		return
	}

	b.mu.Lock()
	queued := b.pending
	b.pending = nil
	b.draining = false
	b.mu.Unlock()

	for i, out := range queued {
		if err := b.client.Publish(b.ctx, out.channel, out.payload).Err(); err != nil {
			b.log.Warn("bus redelivery failed, requeueing remainder",
				zap.String("channel", out.channel),
				zap.Int("remaining", len(queued)-i),
				zap.Error(err))
			b.requeue(queued[i:])
			return
		}
		metrics.BusPublishes.Inc()
	}
	b.log.Info("bus recovered, queued publishes flushed", zap.Int("count", len(queued)))
}

// Subscribe starts a pub/sub reader for channel. go-redis reconnects the
// subscription itself after transient failures.
func (b *RedisBus) Subscribe(channel string, handler Handler) error {
	pubsub := b.client.Subscribe(b.ctx, channel)
	b.subMu.Lock()
	b.subs = append(b.subs, pubsub)
	b.subMu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ch := pubsub.Channel()
		for {
			select {
			case <-b.ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.safeCall(channel, handler, []byte(msg.Payload))
			}
		}
	}()
	return nil
}

func (b *RedisBus) safeCall(channel string, h Handler, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("bus handler panicked", zap.String("channel", channel), zap.Any("panic", r))
		}
	}()
	h(b.ctx, payload)
}

func (b *RedisBus) Close() error {
	b.cancel()
	b.subMu.Lock()
	for _, sub := range b.subs {
		sub.Close()
	}
	b.subMu.Unlock()
	b.wg.Wait()
	return nil
}
