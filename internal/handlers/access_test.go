package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polychat-dev/polychat/internal/bus"
)

type fakeChatAdminChecker struct {
	admins map[int64]bool
}

func (c *fakeChatAdminChecker) IsChatAdmin(_ context.Context, _ string, _ int64, userID int64) (bool, error) {
	return c.admins[userID], nil
}

func TestAuthorizer_IsOwner_MatchesByIDOrUsername(t *testing.T) {
	a := NewAuthorizer([]string{"42", "@carol"}, nil)
	assert.True(t, a.IsOwner(bus.UserRef{ID: 42}))
	assert.True(t, a.IsOwner(bus.UserRef{ID: 999, Username: "carol"}))
	assert.False(t, a.IsOwner(bus.UserRef{ID: 1, Username: "dave"}))
}

func TestAuthorizer_Allows_AnyAlwaysPasses(t *testing.T) {
	a := NewAuthorizer(nil, nil)
	ok, err := a.Allows(context.Background(), AccessAny, "telegram", bus.ChatRef{}, bus.UserRef{ID: 1})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAuthorizer_Allows_AdminAndOwnerRequireBotOwners(t *testing.T) {
	a := NewAuthorizer([]string{"42"}, nil)
	ok, _ := a.Allows(context.Background(), AccessAdmin, "telegram", bus.ChatRef{}, bus.UserRef{ID: 1})
	assert.False(t, ok)
	ok, _ = a.Allows(context.Background(), AccessOwner, "telegram", bus.ChatRef{}, bus.UserRef{ID: 42})
	assert.True(t, ok)
}

func TestAuthorizer_Allows_ChatAdminFallsBackToCheckerThenDenies(t *testing.T) {
	checker := &fakeChatAdminChecker{admins: map[int64]bool{7: true}}
	a := NewAuthorizer(nil, checker)

	ok, err := a.Allows(context.Background(), AccessChatAdmin, "telegram", bus.ChatRef{ID: 1}, bus.UserRef{ID: 7})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.Allows(context.Background(), AccessChatAdmin, "telegram", bus.ChatRef{ID: 1}, bus.UserRef{ID: 8})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAuthorizer_Allows_ChatAdminWithoutCheckerFallsBackToOwnerOnly(t *testing.T) {
	a := NewAuthorizer([]string{"9"}, nil)
	ok, err := a.Allows(context.Background(), AccessChatAdmin, "telegram", bus.ChatRef{ID: 1}, bus.UserRef{ID: 9})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.Allows(context.Background(), AccessChatAdmin, "telegram", bus.ChatRef{ID: 1}, bus.UserRef{ID: 10})
	require.NoError(t, err)
	assert.False(t, ok)
}
