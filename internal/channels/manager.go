package channels

import (
	"context"
	"log/slog"
	"sync"

	"github.com/polychat-dev/polychat/internal/bus"
)

// Manager owns the set of registered platform adapters and the single
// outbound dispatch loop that drains bus.Router and routes each action to
// its named channel. Adapted from vanducng-goclaw's internal/channels.Manager,
// generalized from its OutboundMessage type to bus.OutgoingAction.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
	router   bus.Router

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(router bus.Router) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		router:   router,
	}
}

// Register adds an adapter under its own Name().
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// StartAll starts every registered adapter's ingress and the outbound
// dispatch loop. The dispatch loop always runs, even with zero channels
// registered, so adapters can be added later.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	dispatchCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.dispatchOutbound(dispatchCtx)
	}()

	channels := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		channels = append(channels, ch)
	}
	m.mu.Unlock()

	for _, ch := range channels {
		if err := ch.Start(ctx); err != nil {
			slog.Error("channel start failed", "channel", ch.Name(), "error", err)
		}
	}
	return nil
}

// StopAll stops the dispatch loop and every adapter's ingress.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	channels := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		channels = append(channels, ch)
	}
	m.mu.Unlock()

	for _, ch := range channels {
		if err := ch.Stop(ctx); err != nil {
			slog.Error("channel stop failed", "channel", ch.Name(), "error", err)
		}
	}
	m.wg.Wait()
	return nil
}

// Get returns a registered channel by name.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// dispatchOutbound drains the bus's outgoing queue and routes each action to
// its named channel, logging (never propagating) per-action failures — spec
// §7's background-worker rule applies to egress the same as ingress.
func (m *Manager) dispatchOutbound(ctx context.Context) {
	for {
		action, ok := m.router.SubscribeOutgoing(ctx)
		if !ok {
			return
		}

		m.mu.RLock()
		ch, exists := m.channels[action.Channel]
		m.mu.RUnlock()

		if !exists {
			slog.Warn("outgoing action for unknown channel", "channel", action.Channel, "kind", action.Kind)
			continue
		}
		if err := ch.Send(ctx, action); err != nil {
			slog.Error("send action failed", "channel", action.Channel, "kind", action.Kind, "chat_id", action.ChatID, "error", err)
		}
	}
}
