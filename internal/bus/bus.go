// Package bus implements the cross-instance publish/subscribe channel shared
// by every gateway process. An event published on one instance is observed by
// subscribers on all instances, including the publisher's own. Delivery order
// between events published from different instances is not guaranteed; only
// presence snapshots and room fan-out (both idempotent or addressed) ride on
// the bus today, so anyone adding ordered message types must revisit this.
package bus

import "context"

// Handler processes one message delivered on a bus channel.
type Handler func(ctx context.Context, payload []byte)

// Bus is the cross-instance broadcast domain.
type Bus interface {
	// Publish sends payload to every subscriber of channel on every
	// instance. It must not block event handling on unrelated connections.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe registers a handler for a channel. Handlers for one channel
	// are invoked sequentially in delivery order.
	Subscribe(channel string, handler Handler) error
	Close() error
}
