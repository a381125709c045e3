package handlers

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polychat-dev/polychat/internal/bus"
	"github.com/polychat-dev/polychat/internal/cache"
	"github.com/polychat-dev/polychat/internal/llm"
	"github.com/polychat-dev/polychat/internal/scheduler"
	"github.com/polychat-dev/polychat/internal/spam"
	"github.com/polychat-dev/polychat/internal/storage"
)

// fakeCommandStore is an in-memory CommandStore covering everything the
// built-in commands touch.
type fakeCommandStore struct {
	settings map[int64]map[string]string
	messages map[string]storage.Message // keyed "chatID:messageID"
	media    map[string]storage.MediaAttachment
	spamMsgs []storage.SpamMessage
	spammers map[string]bool // "chatID:userID"
}

func newFakeCommandStore() *fakeCommandStore {
	return &fakeCommandStore{
		settings: make(map[int64]map[string]string),
		messages: make(map[string]storage.Message),
		media:    make(map[string]storage.MediaAttachment),
		spammers: make(map[string]bool),
	}
}

func msgKey(chatID int64, messageID string) string { return fmtKey(chatID, messageID) }
func fmtKey(chatID int64, s string) string         { return s + "@" + strconv.FormatInt(chatID, 10) }

func (s *fakeCommandStore) GetChatSetting(_ context.Context, _ string, chatID int64, key string) (string, bool, error) {
	m, ok := s.settings[chatID]
	if !ok {
		return "", false, nil
	}
	v, ok := m[key]
	return v, ok, nil
}

func (s *fakeCommandStore) SetChatSetting(_ context.Context, _ string, chatID int64, key, value string) error {
	if s.settings[chatID] == nil {
		s.settings[chatID] = make(map[string]string)
	}
	s.settings[chatID][key] = value
	return nil
}

func (s *fakeCommandStore) UnsetChatSetting(_ context.Context, _ string, chatID int64, key string) error {
	delete(s.settings[chatID], key)
	return nil
}

func (s *fakeCommandStore) AllChatSettings(_ context.Context, _ string, chatID int64) (map[string]string, error) {
	out := make(map[string]string)
	for k, v := range s.settings[chatID] {
		out[k] = v
	}
	return out, nil
}

func (s *fakeCommandStore) GetMessage(_ context.Context, _ string, chatID int64, messageID string) (*storage.Message, error) {
	m, ok := s.messages[msgKey(chatID, messageID)]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *fakeCommandStore) RecentMessages(context.Context, string, int64, int64, int) ([]storage.Message, error) {
	return nil, nil
}

func (s *fakeCommandStore) GetMediaAttachment(_ context.Context, _ string, fileUniqueID string) (*storage.MediaAttachment, error) {
	m, ok := s.media[fileUniqueID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *fakeCommandStore) MarkSpamMessage(_ context.Context, _ string, sm storage.SpamMessage) error {
	s.spamMsgs = append(s.spamMsgs, sm)
	return nil
}

func (s *fakeCommandStore) MarkSpammer(_ context.Context, _ string, chatID, userID int64, spammer bool) error {
	s.spammers[fmtKey(chatID, strconv.FormatInt(userID, 10))] = spammer
	return nil
}

func (s *fakeCommandStore) CrossChatSpamMessages(context.Context) ([]storage.SpamMessage, error) {
	return s.spamMsgs, nil
}

func (s *fakeCommandStore) SaveMessage(_ context.Context, _ string, m storage.Message) error {
	s.messages[msgKey(m.ChatID, m.MessageID)] = m
	return nil
}

// fakeBayesStore backs a real spam.Filter for the learn/score command tests.
type fakeBayesStore struct {
	tokens map[string][2]int64 // token -> [spam,ham]
	spamMsgs, hamMsgs int64
}

func newFakeBayesStore() *fakeBayesStore {
	return &fakeBayesStore{tokens: make(map[string][2]int64)}
}

func (b *fakeBayesStore) IncrementTokens(_ context.Context, _ int64, isSpam bool, counts map[string]int, messageDelta int) error {
	for tok, n := range counts {
		cur := b.tokens[tok]
		if isSpam {
			cur[0] += int64(n)
		} else {
			cur[1] += int64(n)
		}
		b.tokens[tok] = cur
	}
	if isSpam {
		b.spamMsgs += int64(messageDelta)
	} else {
		b.hamMsgs += int64(messageDelta)
	}
	return nil
}

func (b *fakeBayesStore) TokenCounts(_ context.Context, _ int64, tokens []string) (map[string][2]int64, error) {
	out := make(map[string][2]int64, len(tokens))
	for _, t := range tokens {
		out[t] = b.tokens[t]
	}
	return out, nil
}

func (b *fakeBayesStore) ClassTotals(context.Context, int64) (int64, int64, int64, int64, error) {
	var spamTok, hamTok int64
	for _, c := range b.tokens {
		spamTok += c[0]
		hamTok += c[1]
	}
	return b.spamMsgs, b.hamMsgs, spamTok, hamTok, nil
}

func (b *fakeBayesStore) VocabularySize(context.Context, int64) (int64, error) {
	return int64(len(b.tokens)), nil
}

type fakeCacheBackingStore struct{}

func (fakeCacheBackingStore) SaveCacheEntry(context.Context, string, string, []byte) error { return nil }
func (fakeCacheBackingStore) LoadCacheEntry(context.Context, string, string) ([]byte, bool, error) {
	return nil, false, nil
}
func (fakeCacheBackingStore) DeleteCacheEntry(context.Context, string, string) error { return nil }
func (fakeCacheBackingStore) ClearCacheNamespace(context.Context, string) error      { return nil }

type recordingOutbound struct {
	actions []bus.OutgoingAction
}

func (o *recordingOutbound) Send(_ context.Context, action bus.OutgoingAction) error {
	o.actions = append(o.actions, action)
	return nil
}

func (o *recordingOutbound) lastText() string {
	if len(o.actions) == 0 {
		return ""
	}
	return o.actions[len(o.actions)-1].Text
}

type fakeToolRegistry struct {
	weatherText string
}

func (t *fakeToolRegistry) Weather(context.Context, string, string) (string, error) {
	return t.weatherText, nil
}
func (t *fakeToolRegistry) Search(context.Context, string) (string, error)   { return "results", nil }
func (t *fakeToolRegistry) Draw(context.Context, string) (bus.MediaAttachment, error) {
	return bus.MediaAttachment{URL: "file://x.png"}, nil
}
func (t *fakeToolRegistry) Analyze(context.Context, storage.MediaAttachment, string) (string, error) {
	return "a photo of a cat", nil
}
func (t *fakeToolRegistry) Summarize(context.Context, []llm.Message) (string, error) {
	return "summary", nil
}

func newTestServices(t *testing.T, store *fakeCommandStore, outbound *recordingOutbound) *Services {
	t.Helper()
	c := cache.New(fakeCacheBackingStore{}, 0)
	resolver := NewResolver(store, c, DefaultSettings(), "primary")
	sched := scheduler.New(&schedulerStoreAdapter{}, scheduler.Config{})
	filter := spam.New(newFakeBayesStore(), spam.Config{})
	auth := NewAuthorizer([]string{"100"}, nil)

	return &Services{
		Store:      store,
		DataSource: "primary",
		Settings:   resolver,
		Spam:       filter,
		Scheduler:  sched,
		Outbound:   outbound,
		Auth:       auth,
		Tools:      &fakeToolRegistry{weatherText: "sunny, 20C"},
		SelfUsername: func(string) string { return "mybot" },
	}
}

// schedulerStoreAdapter is a throwaway scheduler.Store for command tests
// that only exercise /remind's Schedule call, not the tick loop.
type schedulerStoreAdapter struct {
	tasks []scheduler.DelayedTask
}

func (a *schedulerStoreAdapter) DueDelayedTasks(context.Context, string, time.Time) ([]scheduler.DelayedTask, error) {
	return nil, nil
}
func (a *schedulerStoreAdapter) CompleteDelayedTask(context.Context, string, string) error { return nil }
func (a *schedulerStoreAdapter) InsertDelayedTask(_ context.Context, _ string, t scheduler.DelayedTask) error {
	a.tasks = append(a.tasks, t)
	return nil
}

func ownerEvent(text string) bus.IncomingEvent {
	return bus.IncomingEvent{
		Channel: "telegram",
		Kind:    bus.EventMessageCreated,
		Chat:    bus.ChatRef{ID: 1, Kind: bus.ChatPrivate},
		User:    bus.UserRef{ID: 100, Username: "owner"},
		Message: &bus.MessageRef{ID: "m1", Text: text},
	}
}

func groupEvent(text, botUsername string) bus.IncomingEvent {
	e := ownerEvent(text)
	e.Chat.Kind = bus.ChatGroup
	e.User = bus.UserRef{ID: 200, Username: "someone"}
	if botUsername != "" {
		e.Message.Text = text + "@" + botUsername
	}
	return e
}

func TestDispatchCommand_UnknownCommandUnderDeletePolicy(t *testing.T) {
	store := newFakeCommandStore()
	store.settings[1] = map[string]string{string(SettingUnknownCommandAction): "delete"}
	outbound := &recordingOutbound{}
	s := newTestServices(t, store, outbound)

	err := dispatchCommand(context.Background(), s, commandTable(), ownerEvent("/bogus"))
	require.NoError(t, err)
	require.Len(t, outbound.actions, 1)
	assert.Equal(t, bus.ActionDeleteMessage, outbound.actions[0].Kind)
}

func TestDispatchCommand_UnknownCommandUnderIgnorePolicy(t *testing.T) {
	store := newFakeCommandStore()
	outbound := &recordingOutbound{}
	s := newTestServices(t, store, outbound)

	err := dispatchCommand(context.Background(), s, commandTable(), ownerEvent("/bogus"))
	require.NoError(t, err)
	assert.Empty(t, outbound.actions)
}

func TestDispatchCommand_AdminGatedCommandRejectsNonOwner(t *testing.T) {
	store := newFakeCommandStore()
	outbound := &recordingOutbound{}
	s := newTestServices(t, store, outbound)

	evt := ownerEvent("/models")
	evt.User = bus.UserRef{ID: 999, Username: "stranger"}
	err := dispatchCommand(context.Background(), s, commandTable(), evt)
	require.NoError(t, err)
	require.Len(t, outbound.actions, 1)
	assert.Contains(t, outbound.actions[0].Text, "permission")
}

func TestDispatchCommand_GroupRequiresBotUsernameDisambiguation(t *testing.T) {
	store := newFakeCommandStore()
	outbound := &recordingOutbound{}
	s := newTestServices(t, store, outbound)

	err := dispatchCommand(context.Background(), s, commandTable(), groupEvent("/help", ""))
	require.NoError(t, err)
	assert.Empty(t, outbound.actions, "command without @botusername in a group must be ignored")

	err = dispatchCommand(context.Background(), s, commandTable(), groupEvent("/help", "mybot"))
	require.NoError(t, err)
	assert.Len(t, outbound.actions, 1)
}

func TestCmdSetAndUnset_RoundTripThroughResolver(t *testing.T) {
	store := newFakeCommandStore()
	outbound := &recordingOutbound{}
	s := newTestServices(t, store, outbound)
	ctx := context.Background()

	err := dispatchCommand(ctx, s, commandTable(), ownerEvent("/set language fr"))
	require.NoError(t, err)
	v, err := s.Settings.Resolve(ctx, 1, bus.ChatPrivate, SettingLanguage)
	require.NoError(t, err)
	assert.Equal(t, "fr", v)

	err = dispatchCommand(ctx, s, commandTable(), ownerEvent("/unset language"))
	require.NoError(t, err)
	v, err = s.Settings.Resolve(ctx, 1, bus.ChatPrivate, SettingLanguage)
	require.NoError(t, err)
	assert.Equal(t, "en", v)
}

func TestCmdSet_RejectsUnrecognizedKey(t *testing.T) {
	store := newFakeCommandStore()
	outbound := &recordingOutbound{}
	s := newTestServices(t, store, outbound)

	err := dispatchCommand(context.Background(), s, commandTable(), ownerEvent("/set bogus-key x"))
	require.NoError(t, err)
	require.Len(t, outbound.actions, 1)
	assert.Contains(t, outbound.actions[0].Text, "Unknown setting")
}

func TestCmdWeather_UsesConfiguredTool(t *testing.T) {
	store := newFakeCommandStore()
	outbound := &recordingOutbound{}
	s := newTestServices(t, store, outbound)

	err := dispatchCommand(context.Background(), s, commandTable(), ownerEvent("/weather Berlin DE"))
	require.NoError(t, err)
	assert.Equal(t, "sunny, 20C", outbound.lastText())
}

func TestCmdRemind_SchedulesDelayedTask(t *testing.T) {
	store := newFakeCommandStore()
	outbound := &recordingOutbound{}
	s := newTestServices(t, store, outbound)

	err := dispatchCommand(context.Background(), s, commandTable(), ownerEvent("/remind 10m take a break"))
	require.NoError(t, err)
	assert.Contains(t, outbound.lastText(), "remind you at")
}

func TestCmdSpam_MarksSpammerAndDeletesMessage(t *testing.T) {
	store := newFakeCommandStore()
	store.messages[msgKey(1, "target")] = storage.Message{ChatID: 1, MessageID: "target", UserID: 200, Text: "buy now!!!"}
	outbound := &recordingOutbound{}
	s := newTestServices(t, store, outbound)

	evt := ownerEvent("/spam")
	evt.Message.ReplyID = "target"

	err := dispatchCommand(context.Background(), s, commandTable(), evt)
	require.NoError(t, err)
	assert.True(t, store.spammers[fmtKey(1, "200")])
	require.Len(t, store.spamMsgs, 1)
	assert.Equal(t, storage.ReasonAdmin, store.spamMsgs[0].Reason)

	var sawDelete bool
	for _, a := range outbound.actions {
		if a.Kind == bus.ActionDeleteMessage {
			sawDelete = true
		}
	}
	assert.True(t, sawDelete)
}

func TestCmdLearnSpamThenGetSpamScore(t *testing.T) {
	store := newFakeCommandStore()
	store.messages[msgKey(1, "spammy")] = storage.Message{ChatID: 1, MessageID: "spammy", UserID: 200, Text: "win free money now"}
	outbound := &recordingOutbound{}
	s := newTestServices(t, store, outbound)
	ctx := context.Background()

	evt := ownerEvent("/learn_spam")
	evt.Message.ReplyID = "spammy"
	require.NoError(t, dispatchCommand(ctx, s, commandTable(), evt))

	evt2 := ownerEvent("/get_spam_score")
	evt2.Message.ReplyID = "spammy"
	require.NoError(t, dispatchCommand(ctx, s, commandTable(), evt2))
	assert.Contains(t, outbound.lastText(), "Spam score:")
}

func TestCmdUnban_AcceptsNumericArg(t *testing.T) {
	store := newFakeCommandStore()
	outbound := &recordingOutbound{}
	s := newTestServices(t, store, outbound)

	err := dispatchCommand(context.Background(), s, commandTable(), ownerEvent("/unban 200"))
	require.NoError(t, err)
	assert.False(t, store.spammers[fmtKey(1, "200")])
}

func TestCmdModels_ReportsNoBindings(t *testing.T) {
	store := newFakeCommandStore()
	outbound := &recordingOutbound{}
	s := newTestServices(t, store, outbound)
	s.LLM = llm.NewDispatcher(nil, llm.DispatcherConfig{})

	err := dispatchCommand(context.Background(), s, commandTable(), ownerEvent("/models"))
	require.NoError(t, err)
	assert.Contains(t, outbound.lastText(), "No LLM providers configured")
}

func TestReminderHandler_FiresOutboundSend(t *testing.T) {
	store := newFakeCommandStore()
	outbound := &recordingOutbound{}
	s := newTestServices(t, store, outbound)

	handler := ReminderHandler(s)
	kwargs := []byte(`{"channel":"telegram","chat_id":1,"text":"wake up"}`)
	require.NoError(t, handler(context.Background(), kwargs))
	assert.Equal(t, "wake up", outbound.lastText())
}
