package handlers

import (
	"context"
	"strconv"

	"github.com/polychat-dev/polychat/internal/bus"
)

// AccessLevel gates a command per spec §6's command-surface table.
type AccessLevel string

const (
	AccessAny       AccessLevel = "any"
	AccessChatAdmin AccessLevel = "chat-admin"
	AccessAdmin     AccessLevel = "admin"
	AccessOwner     AccessLevel = "owner"
)

// ChatAdminChecker resolves whether a user currently holds admin rights in a
// given chat. Platform adapters implement this against their native
// "get chat member" call; results are cached by the caller, not here.
type ChatAdminChecker interface {
	IsChatAdmin(ctx context.Context, channel string, chatID int64, userID int64) (bool, error)
}

// Authorizer answers permission predicates against the global bot_owners
// list (spec §6's `bot.bot_owners`) and per-chat admin status. The source
// spec has only one global privilege tier, so AccessAdmin and AccessOwner
// both resolve against bot_owners — see DESIGN.md for the Open Question
// this decision closes.
type Authorizer struct {
	owners map[string]bool // normalized id-or-@username, see IsOwner
	admins ChatAdminChecker
}

// NewAuthorizer builds an Authorizer from the configured owners list
// (numeric user IDs and/or "@username" entries) and an optional chat-admin
// checker; a nil checker makes AccessChatAdmin fall back to owner-only.
func NewAuthorizer(owners []string, admins ChatAdminChecker) *Authorizer {
	set := make(map[string]bool, len(owners))
	for _, o := range owners {
		set[o] = true
	}
	return &Authorizer{owners: set, admins: admins}
}

// IsOwner reports whether user appears in the configured bot_owners list,
// matched by numeric ID or @username.
func (a *Authorizer) IsOwner(user bus.UserRef) bool {
	if a.owners[strconv.FormatInt(user.ID, 10)] {
		return true
	}
	if user.Username != "" && a.owners["@"+user.Username] {
		return true
	}
	return false
}

// Allows evaluates level for user acting in chat on channel.
func (a *Authorizer) Allows(ctx context.Context, level AccessLevel, channel string, chat bus.ChatRef, user bus.UserRef) (bool, error) {
	switch level {
	case AccessAny:
		return true, nil
	case AccessOwner, AccessAdmin:
		return a.IsOwner(user), nil
	case AccessChatAdmin:
		if a.IsOwner(user) {
			return true, nil
		}
		if a.admins == nil {
			return false, nil
		}
		return a.admins.IsChatAdmin(ctx, channel, chat.ID, user.ID)
	default:
		return false, nil
	}
}
