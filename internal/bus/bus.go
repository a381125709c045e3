package bus

import (
	"context"
	"sync"
)

// defaultQueueSize bounds the inbound/outbound channel buffers. Adapters
// block on PublishIncoming once full, which back-pressures polling/webhook
// ingress rather than dropping events.
const defaultQueueSize = 256

// Bus is the in-process message bus connecting platform adapters to the
// handler manager (inbound) and back (outbound), plus a side-channel event
// broadcaster for cross-cutting notifications (cache invalidation, agent
// lifecycle events).
//
// Adapted from vanducng-goclaw's internal/bus.MessageBus. Per-chat inbound
// ordering (spec §5) falls out of using a single incoming channel drained by
// one goroutine in internal/handlers.Manager.Run, which hands each event to
// a worker chosen by its chat ID, so one chat's events are always handled
// in order by the same worker — the Bus itself does no reordering or fan-out.
type Bus struct {
	incoming chan IncomingEvent
	outgoing chan OutgoingAction

	subMu sync.RWMutex
	subs  map[string]EventHandler
}

// New creates a Bus with default queue sizes.
func New() *Bus {
	return &Bus{
		incoming: make(chan IncomingEvent, defaultQueueSize),
		outgoing: make(chan OutgoingAction, defaultQueueSize),
		subs:     make(map[string]EventHandler),
	}
}

// PublishIncoming enqueues an event from a platform adapter. Blocks if the
// queue is full (back-pressure).
func (b *Bus) PublishIncoming(evt IncomingEvent) {
	b.incoming <- evt
}

// ConsumeIncoming dequeues the next event, or returns ok=false if ctx is done.
func (b *Bus) ConsumeIncoming(ctx context.Context) (IncomingEvent, bool) {
	select {
	case evt := <-b.incoming:
		return evt, true
	case <-ctx.Done():
		return IncomingEvent{}, false
	}
}

// PublishOutgoing enqueues an action for delivery by the owning channel.
func (b *Bus) PublishOutgoing(action OutgoingAction) {
	b.outgoing <- action
}

// SubscribeOutgoing dequeues the next outbound action, or returns ok=false if ctx is done.
func (b *Bus) SubscribeOutgoing(ctx context.Context) (OutgoingAction, bool) {
	select {
	case action := <-b.outgoing:
		return action, true
	case <-ctx.Done():
		return OutgoingAction{}, false
	}
}

// Subscribe registers a handler for broadcast events under id, replacing any
// existing handler with that id.
func (b *Bus) Subscribe(id string, handler EventHandler) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.subs[id] = handler
}

// Unsubscribe removes a handler.
func (b *Bus) Unsubscribe(id string) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	delete(b.subs, id)
}

// Broadcast delivers an event to every subscriber synchronously.
// Handlers must not block; long work should be dispatched to a goroutine.
func (b *Bus) Broadcast(event Event) {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	for _, h := range b.subs {
		h(event)
	}
}
