// Package handlers implements the Handler Manager (spec §4.8): an ordered
// predicate/action list dispatched per event, permission checks against
// bot_owners and per-chat admin status, and the layered chat-settings
// resolution memoized in the cache. Command implementations (spec §6's
// command-surface table) live alongside the dispatch machinery in this
// package; the Message Pipeline (spec §4.9) that handles free-form,
// non-command messages is a separate consumer registered as one more
// non-terminal Handler.
//
// Grounded on vanducng-goclaw's internal/channels BaseChannel policy checks
// for the permission-predicate shape, generalized from DM/Group policy to
// the full layered settings resolution spec'd in §4.8, and on the gateway's
// handler-registry pattern in cmd/gateway_cron.go (named functions looked up
// and invoked, here keyed by dispatch order rather than by name).
package handlers

import (
	"context"
	"log/slog"

	"github.com/polychat-dev/polychat/internal/bus"
)

// Outbound is the opaque outbound interface handlers send replies through.
// This is spec §9 design note 6's resolution of the cyclic reference
// between the handler manager and the platform adapter: handlers depend
// only on this narrow Send surface, never on internal/channels directly.
type Outbound interface {
	Send(ctx context.Context, action bus.OutgoingAction) error
}

// Predicate reports whether a handler should run for evt.
type Predicate func(ctx context.Context, evt bus.IncomingEvent) bool

// Action performs a handler's effect. A non-nil error is logged and never
// propagated — background dispatch must never abort on a single handler's
// failure (spec §7).
type Action func(ctx context.Context, evt bus.IncomingEvent) error

// Handler is one predicate/action pair in the manager's ordered list.
// Terminal handlers stop further evaluation once they match; most command
// handlers are terminal, passive listeners (e.g. the spam gate, the media
// pipeline hook) are not.
type Handler struct {
	Name      string
	Predicate Predicate
	Action    Action
	Terminal  bool
}

// Manager evaluates registered handlers, in registration order, for every
// inbound event.
type Manager struct {
	handlers []Handler
}

// NewManager returns an empty Manager; RegisterBuiltins and pipeline/media
// hooks populate it before Run starts.
func NewManager() *Manager {
	return &Manager{}
}

// Register appends h to the ordered handler list.
func (m *Manager) Register(h Handler) {
	m.handlers = append(m.handlers, h)
}

// Dispatch evaluates every handler against evt in order, running the action
// of each match, stopping at the first Terminal match.
func (m *Manager) Dispatch(ctx context.Context, evt bus.IncomingEvent) {
	for _, h := range m.handlers {
		if !h.Predicate(ctx, evt) {
			continue
		}
		if err := h.Action(ctx, evt); err != nil {
			slog.Error("handlers: action failed", "handler", h.Name, "channel", evt.Channel, "error", err)
		}
		if h.Terminal {
			return
		}
	}
}

// Run consumes events from router until it closes or ctx is done. Spec §5
// requires inbound events for a given chat to reach handlers in source
// order while cross-chat work parallelizes freely; Run achieves this with a
// fixed set of per-chat-hashed worker queues rather than one goroutine per
// event, so a slow handler on chat A never delays chat B but never
// reorders chat A's own events either.
func (m *Manager) Run(ctx context.Context, router bus.Router, workers int) {
	if workers <= 0 {
		workers = 1
	}

	queues := make([]chan bus.IncomingEvent, workers)
	done := make(chan struct{})
	for i := range queues {
		queues[i] = make(chan bus.IncomingEvent, 64)
		go func(q chan bus.IncomingEvent) {
			for evt := range q {
				m.Dispatch(ctx, evt)
			}
			done <- struct{}{}
		}(queues[i])
	}

	for {
		evt, ok := router.ConsumeIncoming(ctx)
		if !ok {
			break
		}
		idx := chatWorkerIndex(evt.Chat.ID, workers)
		queues[idx] <- evt
	}

	for _, q := range queues {
		close(q)
	}
	for range queues {
		<-done
	}
}

func chatWorkerIndex(chatID int64, workers int) int {
	h := uint64(chatID)
	return int(h % uint64(workers))
}
