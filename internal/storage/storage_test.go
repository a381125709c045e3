package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polychat-dev/polychat/internal/errs"
)

func newTestSource(t *testing.T, name string, readOnly bool) *Source {
	t.Helper()
	src, err := OpenSource(SourceConfig{
		Name:    name,
		Dialect: DialectSQLite,
		DSN:     "file:" + name + "?mode=memory&cache=shared",
	})
	require.NoError(t, err)
	src.ReadOnly = readOnly
	t.Cleanup(func() { _ = src.Close() })

	require.NoError(t, NewRunner(src, Migrations).Up(context.Background()))
	return src
}

func TestRouter_RoutingPrecedence(t *testing.T) {
	primary := newTestSource(t, "primary", false)
	secondary := newTestSource(t, "secondary", false)

	router := NewRouter(map[string]*Source{"primary": primary, "secondary": secondary}, RouterConfig{
		DefaultSource: "primary",
		ChatMapping:   map[int64]string{42: "secondary"},
	})

	ctx := context.Background()

	// 3. default, no hint/mapping.
	require.NoError(t, router.UpsertChat(ctx, "", Chat{ChatID: 1, Kind: ChatPrivate}))
	_, err := primary.DB.Query(`SELECT chat_id FROM chats WHERE chat_id = 1`)
	require.NoError(t, err)

	// 2. chat mapping wins over default.
	require.NoError(t, router.UpsertChat(ctx, "", Chat{ChatID: 42, Kind: ChatGroup}))
	c, err := router.GetChat(ctx, "secondary", 42)
	require.NoError(t, err)
	assert.Equal(t, ChatGroup, c.Kind)

	// 1. explicit hint wins over mapping.
	require.NoError(t, router.UpsertChat(ctx, "primary", Chat{ChatID: 42, Kind: ChatForum}))
	c, err = router.GetChat(ctx, "primary", 42)
	require.NoError(t, err)
	assert.Equal(t, ChatForum, c.Kind)
}

func TestRouter_ReadOnlySourceRejectsWrites(t *testing.T) {
	ro := newTestSource(t, "readonly1", true)
	router := NewRouter(map[string]*Source{"ro": ro}, RouterConfig{DefaultSource: "ro"})

	err := router.UpsertChat(context.Background(), "ro", Chat{ChatID: 1, Kind: ChatPrivate})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrReadOnlySource)
}

func TestMarkSpamMessage_SatisfiesP1Invariant(t *testing.T) {
	src := newTestSource(t, "p1", false)
	router := NewRouter(map[string]*Source{"s": src}, RouterConfig{DefaultSource: "s"})
	ctx := context.Background()

	require.NoError(t, router.UpsertChat(ctx, "", Chat{ChatID: 1, Kind: ChatGroup}))
	require.NoError(t, router.SaveMessage(ctx, "", Message{
		ChatID: 1, MessageID: "m1", Date: time.Now(), UserID: 9, Text: "buy now", Category: CategoryUser,
	}))

	require.NoError(t, router.MarkSpamMessage(ctx, "", SpamMessage{
		ChatID: 1, UserID: 9, MessageID: "m1", Text: "buy now", Reason: ReasonAuto, Score: 0.95,
	}))

	msg, err := router.GetMessage(ctx, "", 1, "m1")
	require.NoError(t, err)
	assert.Equal(t, CategoryUserSpam, msg.Category)

	spam, err := router.CrossChatSpamMessages(ctx)
	require.NoError(t, err)
	require.Len(t, spam, 1)
	assert.Equal(t, "m1", spam[0].MessageID)
	assert.Equal(t, int64(1), spam[0].ChatID)
}

func TestBayesAdapter_SatisfiesP2Invariant(t *testing.T) {
	src := newTestSource(t, "p2", false)
	router := NewRouter(map[string]*Source{"s": src}, RouterConfig{DefaultSource: "s"})
	adapter := NewBayesAdapter(router, "")
	ctx := context.Background()

	require.NoError(t, adapter.IncrementTokens(ctx, 1, true, map[string]int{"buy": 2, "now": 1}, 1))
	require.NoError(t, adapter.IncrementTokens(ctx, 1, true, map[string]int{"buy": 1}, 1))

	_, _, spamTokens, _, err := adapter.ClassTotals(ctx, 1)
	require.NoError(t, err)

	counts, err := adapter.TokenCounts(ctx, 1, []string{"buy", "now"})
	require.NoError(t, err)
	var sum int64
	for _, tc := range counts {
		sum += tc[0]
	}
	assert.Equal(t, spamTokens, sum)

	// Unlearn beyond what was learned floors at zero, never going negative.
	require.NoError(t, adapter.IncrementTokens(ctx, 1, true, map[string]int{"buy": -10}, -1))
	counts, err = adapter.TokenCounts(ctx, 1, []string{"buy"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts["buy"][0])
}

func TestDelayedTask_InsertIsIdempotent(t *testing.T) {
	src := newTestSource(t, "tasks1", false)
	router := NewRouter(map[string]*Source{"s": src}, RouterConfig{DefaultSource: "s"})
	ctx := context.Background()

	task := DelayedTask{ID: "reminder-1", FireAt: time.Now(), Function: "send_reminder"}
	require.NoError(t, router.InsertDelayedTask(ctx, "", task))
	require.NoError(t, router.InsertDelayedTask(ctx, "", task)) // duplicate insert, no-op

	due, err := router.DueDelayedTasks(ctx, "", time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, router.CompleteDelayedTask(ctx, "", task.ID))
	due, err = router.DueDelayedTasks(ctx, "", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestEligibleMediaGroups_RespectsDelay(t *testing.T) {
	src := newTestSource(t, "media1", false)
	router := NewRouter(map[string]*Source{"s": src}, RouterConfig{DefaultSource: "s"})
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, router.UpsertMediaAttachment(ctx, "", MediaAttachment{
		FileUniqueID: "f1", MediaGroupID: "g1", Status: MediaNew, UpdatedAt: now,
	}))

	groups, err := router.EligibleMediaGroups(ctx, "", 5*time.Second, now)
	require.NoError(t, err)
	assert.Empty(t, groups, "group updated just now should not be eligible yet")

	groups, err = router.EligibleMediaGroups(ctx, "", 5*time.Second, now.Add(10*time.Second))
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "g1", groups[0])
}

func TestMigrations_DownReversesUp(t *testing.T) {
	src := newTestSource(t, "migrate1", false)
	runner := NewRunner(src, Migrations)
	ctx := context.Background()

	v, err := runner.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(Migrations), v)

	require.NoError(t, runner.Down(ctx, 0))
	v, err = runner.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, v)
}
