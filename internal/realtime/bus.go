package realtime

import "context"

// Bus publishes message snapshots and forwards received ones to a callback.
type Bus interface {
	Publish(ctx context.Context, ev MessageEvent) error
	StartForwarder(ctx context.Context, onEvent func(MessageEvent)) error
	Close() error
}

// LocalBus is the single-process Bus: Publish hands events straight to the
// forwarder callbacks.
type LocalBus struct {
	hub *Hub
}

// NewLocalBus creates a Bus that delivers to hub
func NewLocalBus(hub *Hub) *LocalBus {
	return &LocalBus{hub: hub}
}

func (b *LocalBus) Publish(_ context.Context, ev MessageEvent) error {
	b.hub.Broadcast(ev)
	return nil
}

// StartForwarder is a no-op: Publish already delivers to the hub.
func (b *LocalBus) StartForwarder(context.Context, func(MessageEvent)) error { return nil }

func (b *LocalBus) Close() error { return nil }
