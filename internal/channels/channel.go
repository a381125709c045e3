// Package channels provides the platform adapter abstraction (spec §4.7):
// normalizing a platform's native updates into bus.IncomingEvent and exposing
// outbound primitives as bus.OutgoingAction handlers, plus a Manager that
// owns the outbound dispatch loop shared by every adapter.
//
// Adapted from vanducng-goclaw's internal/channels/channel.go: the same
// Channel interface and BaseChannel/allowlist/policy shape, generalized from
// its free-form string IDs to the richer bus.IncomingEvent/OutgoingAction
// types and from a single DM/Group policy pair to the per-chat-kind policy
// resolution spec'd in §4.8 (handlers, not the adapter, resolve chat
// settings — the adapter only applies the coarse allowlist gate spec'd here).
package channels

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/polychat-dev/polychat/internal/bus"
)

// Policy controls how inbound events from unrecognized senders/chats are handled.
type Policy string

const (
	PolicyOpen      Policy = "open"      // accept everyone
	PolicyAllowlist Policy = "allowlist" // only configured IDs
	PolicyDisabled  Policy = "disabled"  // reject all
)

// Channel is the interface every platform adapter implements (spec §4.7).
type Channel interface {
	// Name returns the channel identifier used to route bus.OutgoingAction.Channel.
	Name() string
	// Start begins ingress (long-polling or webhook registration depending on
	// configuration) and returns once set up; ingress itself runs in the
	// background until ctx is done or Stop is called.
	Start(ctx context.Context) error
	// Stop gracefully halts ingress.
	Stop(ctx context.Context) error
	// Send applies one outbound action. Called by Manager's dispatch loop,
	// already gated by the caller's rate limiter.
	Send(ctx context.Context, action bus.OutgoingAction) error
	// IsRunning reports whether ingress is currently active.
	IsRunning() bool
}

// BaseChannel holds the allowlist/policy state and IncomingEvent publishing
// shared by every adapter. Concrete adapters embed it.
type BaseChannel struct {
	name        string
	router      bus.Router
	allowList   []string
	dmPolicy    Policy
	groupPolicy Policy
	running     atomic.Bool
}

// NewBaseChannel constructs a BaseChannel. Empty policies default to PolicyOpen.
func NewBaseChannel(name string, router bus.Router, allowList []string, dmPolicy, groupPolicy Policy) *BaseChannel {
	if dmPolicy == "" {
		dmPolicy = PolicyOpen
	}
	if groupPolicy == "" {
		groupPolicy = PolicyOpen
	}
	return &BaseChannel{
		name:        name,
		router:      router,
		allowList:   allowList,
		dmPolicy:    dmPolicy,
		groupPolicy: groupPolicy,
	}
}

func (c *BaseChannel) Name() string      { return c.name }
func (c *BaseChannel) IsRunning() bool    { return c.running.Load() }
func (c *BaseChannel) SetRunning(v bool)  { c.running.Store(v) }
func (c *BaseChannel) Router() bus.Router { return c.router }

// IsAllowed reports whether senderID (platform user id, or "id|username")
// passes the allowlist. An empty allowlist allows everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}
	id, user := splitSenderID(senderID)
	for _, allowed := range c.allowList {
		allowed = strings.TrimPrefix(allowed, "@")
		aid, auser := splitSenderID(allowed)
		if senderID == allowed || id == allowed || id == aid ||
			(user != "" && user == allowed) ||
			(auser != "" && (senderID == auser || user == auser)) {
			return true
		}
	}
	return false
}

func splitSenderID(s string) (id, user string) {
	if idx := strings.IndexByte(s, '|'); idx > 0 {
		return s[:idx], s[idx+1:]
	}
	return s, ""
}

// CheckPolicy reports whether an inbound event from senderID in a chat of
// the given kind should be accepted at the adapter layer. isGroup selects
// which of dmPolicy/groupPolicy applies.
func (c *BaseChannel) CheckPolicy(isGroup bool, senderID string) bool {
	policy := c.dmPolicy
	if isGroup {
		policy = c.groupPolicy
	}
	switch policy {
	case PolicyDisabled:
		return false
	case PolicyAllowlist:
		return c.IsAllowed(senderID)
	default:
		return true
	}
}

// PublishIncoming enforces the allowlist/policy gate and, if it passes,
// forwards evt to the bus.
func (c *BaseChannel) PublishIncoming(evt bus.IncomingEvent) {
	isGroup := evt.Chat.Kind != bus.ChatPrivate
	senderID := evt.User.Username
	if senderID == "" {
		senderID = formatID(evt.User.ID)
	} else {
		senderID = formatID(evt.User.ID) + "|" + senderID
	}
	if !c.CheckPolicy(isGroup, senderID) {
		return
	}
	c.router.PublishIncoming(evt)
}

func formatID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
