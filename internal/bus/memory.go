package bus

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

const defaultChannelBuffer = 64

type channelWorker struct {
	ch chan []byte
}

// MemoryBus is an in-process Bus. It backs single-instance deployments and
// tests; two registries subscribed to the same MemoryBus behave like two
// gateway instances sharing one broadcast domain.
type MemoryBus struct {
	log      *zap.Logger
	mu       sync.RWMutex
	handlers map[string][]Handler
	channels map[string]*channelWorker
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewMemoryBus(log *zap.Logger) *MemoryBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryBus{
		log:      log,
		handlers: make(map[string][]Handler),
		channels: make(map[string]*channelWorker),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Subscribe registers a handler and starts the channel worker if needed.
func (b *MemoryBus) Subscribe(channel string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channel] = append(b.handlers[channel], handler)
	if _, exists := b.channels[channel]; !exists {
		w := &channelWorker{ch: make(chan []byte, defaultChannelBuffer)}
		b.channels[channel] = w
		b.wg.Add(1)
		go b.runChannelWorker(channel, w.ch)
	}
	return nil
}

// Publish delivers payload to the channel worker without blocking the caller.
func (b *MemoryBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	w, exists := b.channels[channel]
	b.mu.RUnlock()
	if !exists {
		return nil
	}
	// Copy: the caller may reuse the slice after Publish returns.
	buf := make([]byte, len(payload))
	copy(buf, payload)
	select {
	case w.ch <- buf:
		return nil
	default:
		b.log.Warn("memory bus buffer full, dropping event", zap.String("channel", channel))
		return errors.New("bus buffer full")
	}
}

func (b *MemoryBus) runChannelWorker(channel string, ch chan []byte) {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case payload := <-ch:
			b.mu.RLock()
			handlers := append([]Handler{}, b.handlers[channel]...)
			b.mu.RUnlock()
			for _, h := range handlers {
				b.safeCall(channel, h, payload)
			}
		}
	}
}

func (b *MemoryBus) safeCall(channel string, h Handler, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("bus handler panicked", zap.String("channel", channel), zap.Any("panic", r))
		}
	}()
	h(b.ctx, payload)
}

func (b *MemoryBus) Close() error {
	b.cancel()
	b.wg.Wait()
	return nil
}
