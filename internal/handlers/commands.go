package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/polychat-dev/polychat/internal/bus"
	"github.com/polychat-dev/polychat/internal/llm"
	"github.com/polychat-dev/polychat/internal/scheduler"
	"github.com/polychat-dev/polychat/internal/spam"
	"github.com/polychat-dev/polychat/internal/storage"
)

// Tools is the narrow surface the tool-backed commands need from
// internal/tools. Kept as an interface here (rather than importing that
// package directly) so internal/tools can depend on internal/handlers'
// vocabulary without a cycle — concrete implementations are wired in from
// cmd/gateway.
type Tools interface {
	Weather(ctx context.Context, city, countryCode string) (string, error)
	Search(ctx context.Context, query string) (string, error)
	Draw(ctx context.Context, prompt string) (bus.MediaAttachment, error)
	Analyze(ctx context.Context, attachment storage.MediaAttachment, prompt string) (string, error)
	Summarize(ctx context.Context, messages []llm.Message) (string, error)
}

// CommandStore is the persistence surface the built-in commands need;
// internal/storage.Router satisfies it directly.
type CommandStore interface {
	SettingsStore
	GetMessage(ctx context.Context, dataSource string, chatID int64, messageID string) (*storage.Message, error)
	RecentMessages(ctx context.Context, dataSource string, chatID, threadID int64, limit int) ([]storage.Message, error)
	GetMediaAttachment(ctx context.Context, dataSource, fileUniqueID string) (*storage.MediaAttachment, error)
	MarkSpamMessage(ctx context.Context, dataSource string, sm storage.SpamMessage) error
	MarkSpammer(ctx context.Context, dataSource string, chatID, userID int64, spammer bool) error
	CrossChatSpamMessages(ctx context.Context) ([]storage.SpamMessage, error)
	SaveMessage(ctx context.Context, dataSource string, m storage.Message) error
	SetChatSetting(ctx context.Context, dataSource string, chatID int64, key, value string) error
	UnsetChatSetting(ctx context.Context, dataSource string, chatID int64, key string) error
	AllChatSettings(ctx context.Context, dataSource string, chatID int64) (map[string]string, error)
}

// Services bundles every dependency the built-in command set needs. One
// Services is constructed per process and shared by RegisterBuiltins.
type Services struct {
	Store      CommandStore
	DataSource string
	Settings   *Resolver
	Spam       *spam.Filter
	LLM        *llm.Dispatcher
	Scheduler  *scheduler.Scheduler
	Outbound   Outbound
	Auth       *Authorizer
	Tools      Tools
	SelfUsername func(channel string) string
}

// reply sends text back to the chat the command was issued in and persists
// it as a bot-command-reply message linked to the triggering command via
// reply_id (spec §3's Message.category enumeration; scenario 1 in §8).
func (s *Services) reply(ctx context.Context, evt bus.IncomingEvent, text string) error {
	replyTo := ""
	if evt.Message != nil {
		replyTo = evt.Message.ID
	}
	if err := s.Outbound.Send(ctx, bus.OutgoingAction{
		Channel:   evt.Channel,
		Kind:      bus.ActionSendText,
		ChatID:    evt.Chat.ID,
		TopicID:   evt.Chat.TopicID,
		Text:      text,
		ParseMode: "MarkdownV2",
		ReplyToID: replyTo,
	}); err != nil {
		return err
	}
	return s.persistCommandReply(ctx, evt, text)
}

func (s *Services) replyMedia(ctx context.Context, evt bus.IncomingEvent, media bus.MediaAttachment) error {
	if err := s.Outbound.Send(ctx, bus.OutgoingAction{
		Channel: evt.Channel,
		Kind:    bus.ActionSendMedia,
		ChatID:  evt.Chat.ID,
		TopicID: evt.Chat.TopicID,
		Media:   []bus.MediaAttachment{media},
	}); err != nil {
		return err
	}
	return s.persistCommandReply(ctx, evt, media.Caption)
}

func (s *Services) persistCommandReply(ctx context.Context, evt bus.IncomingEvent, text string) error {
	replyTo := ""
	threadID := int64(0)
	if evt.Message != nil {
		replyTo = evt.Message.ID
		threadID = evt.Message.ThreadID
	}
	return s.Store.SaveMessage(ctx, s.DataSource, storage.Message{
		ChatID:    evt.Chat.ID,
		MessageID: "reply:" + replyTo,
		Date:      evt.ReceivedAt,
		ThreadID:  threadID,
		ReplyID:   replyTo,
		Text:      text,
		Type:      storage.MessageText,
		Category:  storage.CategoryBotCommandReply,
	})
}

// repliedMessage resolves the message evt.Message replies to, if any —
// the target for every "(reply)"-gated command in §6's table.
func (s *Services) repliedMessage(ctx context.Context, evt bus.IncomingEvent) (*storage.Message, error) {
	if evt.Message == nil || evt.Message.ReplyID == "" {
		return nil, nil
	}
	return s.Store.GetMessage(ctx, s.DataSource, evt.Chat.ID, evt.Message.ReplyID)
}

// commandTable is the full §6 command surface: name -> (access level, action).
type commandSpec struct {
	Access AccessLevel
	Run    func(ctx context.Context, s *Services, evt bus.IncomingEvent, args string) error
}

func commandTable() map[string]commandSpec {
	return map[string]commandSpec{
		"start":           {AccessAny, cmdStart},
		"help":            {AccessAny, cmdHelp},
		"configure":       {AccessChatAdmin, cmdConfigure},
		"settings":        {AccessChatAdmin, cmdSettings},
		"set":             {AccessChatAdmin, cmdSet},
		"unset":           {AccessChatAdmin, cmdUnset},
		"weather":         {AccessAny, cmdWeather},
		"search":          {AccessAny, cmdSearch},
		"draw":            {AccessAny, cmdDraw},
		"analyze":         {AccessAny, cmdAnalyze},
		"summary":         {AccessAny, cmdSummary},
		"remind":          {AccessAny, cmdRemind},
		"spam":            {AccessAdmin, cmdSpam},
		"learn_spam":      {AccessAdmin, cmdLearnSpam},
		"learn_ham":       {AccessAdmin, cmdLearnHam},
		"get_spam_score":  {AccessAdmin, cmdGetSpamScore},
		"unban":           {AccessAdmin, cmdUnban},
		"pretrain_bayes":  {AccessAdmin, cmdPretrainBayes},
		"models":          {AccessOwner, cmdModels},
	}
}

// RegisterBuiltins wires every §6 command, plus the unknown-command
// delete-or-ignore handler, as one terminal Handler. It must be registered
// before the free-form Message Pipeline handler so commands are never
// also treated as a conversational turn.
func RegisterBuiltins(mgr *Manager, s *Services) {
	table := commandTable()

	mgr.Register(Handler{
		Name:     "commands",
		Terminal: true,
		Predicate: func(_ context.Context, evt bus.IncomingEvent) bool {
			if evt.Kind != bus.EventMessageCreated || evt.Message == nil {
				return false
			}
			_, ok := ParseCommand(evt.Message.Text)
			return ok
		},
		Action: func(ctx context.Context, evt bus.IncomingEvent) error {
			return dispatchCommand(ctx, s, table, evt)
		},
	})
}

func dispatchCommand(ctx context.Context, s *Services, table map[string]commandSpec, evt bus.IncomingEvent) error {
	parsed, ok := ParseCommand(evt.Message.Text)
	if !ok {
		return nil
	}

	isGroup := evt.Chat.Kind == bus.ChatGroup || evt.Chat.Kind == bus.ChatForum
	selfUsername := ""
	if s.SelfUsername != nil {
		selfUsername = s.SelfUsername(evt.Channel)
	}
	if !parsed.Disambiguated(isGroup, selfUsername) {
		return nil
	}

	spec, known := table[parsed.Name]
	if !known {
		return handleUnknownCommand(ctx, s, evt)
	}

	allowed, err := s.Auth.Allows(ctx, spec.Access, evt.Channel, evt.Chat, evt.User)
	if err != nil {
		return fmt.Errorf("handlers: permission check for /%s: %w", parsed.Name, err)
	}
	if !allowed {
		return s.reply(ctx, evt, "You don't have permission to use this command.")
	}

	return spec.Run(ctx, s, evt, parsed.Args)
}

// handleUnknownCommand applies the configured chat setting for unrecognized
// commands: delete the message, or ignore it silently (spec §4.8).
func handleUnknownCommand(ctx context.Context, s *Services, evt bus.IncomingEvent) error {
	action, err := s.Settings.Resolve(ctx, evt.Chat.ID, evt.Chat.Kind, SettingUnknownCommandAction)
	if err != nil {
		return err
	}
	if action != "delete" || evt.Message == nil {
		return nil
	}
	return s.Outbound.Send(ctx, bus.OutgoingAction{
		Channel:   evt.Channel,
		Kind:      bus.ActionDeleteMessage,
		ChatID:    evt.Chat.ID,
		MessageID: evt.Message.ID,
	})
}

func cmdStart(ctx context.Context, s *Services, evt bus.IncomingEvent, _ string) error {
	return s.reply(ctx, evt, "Hi! Send me a message, mention me in a group, or use /help to see what I can do.")
}

func cmdHelp(ctx context.Context, s *Services, evt bus.IncomingEvent, _ string) error {
	text := "Available commands:\n" +
		"/help — this message\n" +
		"/settings [debug] — show resolved chat settings\n" +
		"/set <key> <value>, /unset <key> — change a chat setting (admin)\n" +
		"/weather <city> [country-code]\n" +
		"/search <query>\n" +
		"/draw [prompt]\n" +
		"/analyze [prompt] — reply to an image\n" +
		"/summary [n] [chat] [topic]\n" +
		"/remind <when> [text]\n" +
		"\nJust talk to me normally otherwise."
	return s.reply(ctx, evt, text)
}

func cmdConfigure(ctx context.Context, s *Services, evt bus.IncomingEvent, _ string) error {
	var sb strings.Builder
	sb.WriteString("Configurable settings (use /set <key> <value>):\n")
	for _, key := range []SettingKey{
		SettingDetectSpam, SettingSpamScoreThreshold, SettingSpamAction,
		SettingRandomAnswerProbability, SettingRequireMention,
		SettingUnknownCommandAction, SettingContextTokenBudget, SettingLanguage,
	} {
		v, err := s.Settings.Resolve(ctx, evt.Chat.ID, evt.Chat.Kind, key)
		if err != nil {
			return err
		}
		sb.WriteString(fmt.Sprintf("  %s = %s\n", key, v))
	}
	return s.reply(ctx, evt, sb.String())
}

func cmdSettings(ctx context.Context, s *Services, evt bus.IncomingEvent, args string) error {
	debug := strings.TrimSpace(args) == "debug"
	stored, err := s.Store.AllChatSettings(ctx, s.DataSource, evt.Chat.ID)
	if err != nil {
		return err
	}

	var sb strings.Builder
	sb.WriteString("Resolved settings:\n")
	for key := range settingKinds {
		v, err := s.Settings.Resolve(ctx, evt.Chat.ID, evt.Chat.Kind, key)
		if err != nil {
			return err
		}
		if debug {
			_, overridden := stored[string(key)]
			source := "default"
			if overridden {
				source = "stored"
			}
			sb.WriteString(fmt.Sprintf("  %s = %s (%s)\n", key, v, source))
		} else {
			sb.WriteString(fmt.Sprintf("  %s = %s\n", key, v))
		}
	}
	return s.reply(ctx, evt, sb.String())
}

func cmdSet(ctx context.Context, s *Services, evt bus.IncomingEvent, args string) error {
	fields := Fields(args, 2)
	if len(fields) != 2 || fields[0] == "" {
		return s.reply(ctx, evt, "Usage: /set <key> <value>")
	}
	key, value := fields[0], fields[1]
	if !IsRecognizedSetting(key) {
		return s.reply(ctx, evt, fmt.Sprintf("Unknown setting %q.", key))
	}
	if err := s.Store.SetChatSetting(ctx, s.DataSource, evt.Chat.ID, key, value); err != nil {
		return err
	}
	s.Settings.Invalidate(ctx, evt.Chat.ID, SettingKey(key))
	return s.reply(ctx, evt, fmt.Sprintf("%s set to %s.", key, value))
}

func cmdUnset(ctx context.Context, s *Services, evt bus.IncomingEvent, args string) error {
	key := strings.TrimSpace(args)
	if key == "" || !IsRecognizedSetting(key) {
		return s.reply(ctx, evt, "Usage: /unset <key>")
	}
	if err := s.Store.UnsetChatSetting(ctx, s.DataSource, evt.Chat.ID, key); err != nil {
		return err
	}
	s.Settings.Invalidate(ctx, evt.Chat.ID, SettingKey(key))
	return s.reply(ctx, evt, fmt.Sprintf("%s reset to default.", key))
}

func cmdWeather(ctx context.Context, s *Services, evt bus.IncomingEvent, args string) error {
	fields := Fields(args, 2)
	if len(fields) == 0 || fields[0] == "" {
		return s.reply(ctx, evt, "Usage: /weather <city> [country-code]")
	}
	cc := ""
	if len(fields) == 2 {
		cc = fields[1]
	}
	if s.Tools == nil {
		return s.reply(ctx, evt, "Weather lookup is not configured.")
	}
	text, err := s.Tools.Weather(ctx, fields[0], cc)
	if err != nil {
		return s.reply(ctx, evt, fmt.Sprintf("Couldn't fetch weather: %v", err))
	}
	return s.reply(ctx, evt, text)
}

func cmdSearch(ctx context.Context, s *Services, evt bus.IncomingEvent, args string) error {
	if strings.TrimSpace(args) == "" {
		return s.reply(ctx, evt, "Usage: /search <query>")
	}
	if s.Tools == nil {
		return s.reply(ctx, evt, "Search is not configured.")
	}
	text, err := s.Tools.Search(ctx, args)
	if err != nil {
		return s.reply(ctx, evt, fmt.Sprintf("Search failed: %v", err))
	}
	return s.reply(ctx, evt, text)
}

func cmdDraw(ctx context.Context, s *Services, evt bus.IncomingEvent, args string) error {
	if s.Tools == nil {
		return s.reply(ctx, evt, "Image generation is not configured.")
	}
	media, err := s.Tools.Draw(ctx, args)
	if err != nil {
		return s.reply(ctx, evt, fmt.Sprintf("Couldn't draw that: %v", err))
	}
	return s.replyMedia(ctx, evt, media)
}

func cmdAnalyze(ctx context.Context, s *Services, evt bus.IncomingEvent, args string) error {
	replied, err := s.repliedMessage(ctx, evt)
	if err != nil {
		return err
	}
	if replied == nil || replied.MediaID == "" {
		return s.reply(ctx, evt, "Reply to an image with /analyze.")
	}
	attachment, err := s.Store.GetMediaAttachment(ctx, s.DataSource, replied.MediaID)
	if err != nil {
		return err
	}
	if attachment == nil {
		return s.reply(ctx, evt, "That image isn't available anymore.")
	}
	if s.Tools == nil {
		return s.reply(ctx, evt, "Image analysis is not configured.")
	}
	text, err := s.Tools.Analyze(ctx, *attachment, args)
	if err != nil {
		return s.reply(ctx, evt, fmt.Sprintf("Couldn't analyze that image: %v", err))
	}
	return s.reply(ctx, evt, text)
}

func cmdSummary(ctx context.Context, s *Services, evt bus.IncomingEvent, args string) error {
	n := 50
	fields := Fields(args, 0)
	if len(fields) > 0 && fields[0] != "" {
		if v, err := strconv.Atoi(fields[0]); err == nil && v > 0 {
			n = v
		}
	}
	chatID := evt.Chat.ID
	topicID := evt.Chat.TopicID

	recent, err := s.Store.RecentMessages(ctx, s.DataSource, chatID, topicID, n)
	if err != nil {
		return err
	}
	if len(recent) == 0 {
		return s.reply(ctx, evt, "Nothing to summarize yet.")
	}

	messages := make([]llm.Message, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		m := recent[i]
		role := llm.RoleUser
		if m.Category == storage.CategoryBot || m.Category == storage.CategoryBotCommandReply {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Text: m.Text})
	}

	if s.Tools == nil {
		return s.reply(ctx, evt, "Summarization is not configured.")
	}
	summary, err := s.Tools.Summarize(ctx, messages)
	if err != nil {
		return s.reply(ctx, evt, fmt.Sprintf("Couldn't summarize: %v", err))
	}
	return s.reply(ctx, evt, summary)
}

// reminderKwargs is the Scheduler.DelayedTask.Kwargs payload for the
// "reminder" handler registered by RegisterReminderHandler.
type reminderKwargs struct {
	Channel string `json:"channel"`
	ChatID  int64  `json:"chat_id"`
	TopicID int64  `json:"topic_id"`
	Text    string `json:"text"`
}

func cmdRemind(ctx context.Context, s *Services, evt bus.IncomingEvent, args string) error {
	fields := Fields(args, 2)
	if len(fields) == 0 || fields[0] == "" {
		return s.reply(ctx, evt, "Usage: /remind <when> [text]")
	}
	when, err := parseWhen(fields[0])
	if err != nil {
		return s.reply(ctx, evt, fmt.Sprintf("Couldn't parse %q: %v", fields[0], err))
	}
	text := ""
	if len(fields) == 2 {
		text = fields[1]
	}

	kwargs, err := json.Marshal(reminderKwargs{Channel: evt.Channel, ChatID: evt.Chat.ID, TopicID: evt.Chat.TopicID, Text: text})
	if err != nil {
		return err
	}

	task := scheduler.DelayedTask{
		ID:       fmt.Sprintf("remind-%s-%d-%s", evt.Channel, evt.Chat.ID, uuid.NewString()[:8]),
		FireAt:   when,
		Function: "reminder",
		Kwargs:   kwargs,
	}
	if err := s.Scheduler.Schedule(ctx, task); err != nil {
		return err
	}
	return s.reply(ctx, evt, fmt.Sprintf("Okay, I'll remind you at %s.", when.Format(time.RFC3339)))
}

// parseWhen accepts either a relative duration ("10m", "2h30m") or an
// absolute RFC3339 timestamp.
func parseWhen(raw string) (time.Time, error) {
	if d, err := time.ParseDuration(raw); err == nil {
		return time.Now().Add(d), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("expected a duration like \"10m\" or an RFC3339 timestamp")
}

// ReminderHandler builds the scheduler.Handler that fires a chat message
// when a /remind-scheduled DelayedTask comes due.
func ReminderHandler(s *Services) scheduler.Handler {
	return func(ctx context.Context, kwargs []byte) error {
		var k reminderKwargs
		if err := json.Unmarshal(kwargs, &k); err != nil {
			return fmt.Errorf("handlers: malformed reminder kwargs: %w", err)
		}
		text := k.Text
		if text == "" {
			text = "Reminder!"
		}
		return s.Outbound.Send(ctx, bus.OutgoingAction{
			Channel: k.Channel,
			Kind:    bus.ActionSendText,
			ChatID:  k.ChatID,
			TopicID: k.TopicID,
			Text:    text,
		})
	}
}

// RegisterReminderHandler wires the scheduler's "reminder" function name to
// s.Outbound, so /remind-scheduled DelayedTasks fire a chat message when
// they come due.
func RegisterReminderHandler(s *Services) {
	s.Scheduler.RegisterHandler("reminder", ReminderHandler(s))
}

func cmdSpam(ctx context.Context, s *Services, evt bus.IncomingEvent, _ string) error {
	replied, err := s.repliedMessage(ctx, evt)
	if err != nil {
		return err
	}
	if replied == nil {
		return s.reply(ctx, evt, "Reply to a message with /spam to label it.")
	}

	if err := s.Store.MarkSpamMessage(ctx, s.DataSource, storage.SpamMessage{
		ChatID: evt.Chat.ID, UserID: replied.UserID, MessageID: replied.MessageID,
		Text: replied.Text, Reason: storage.ReasonAdmin, Score: 1,
	}); err != nil {
		return err
	}
	if err := s.Store.MarkSpammer(ctx, s.DataSource, evt.Chat.ID, replied.UserID, true); err != nil {
		return err
	}
	if s.Spam != nil {
		if err := s.Spam.Learn(ctx, evt.Chat.ID, replied.Text, true); err != nil {
			return err
		}
	}

	// No dedicated ban primitive exists on the outbound bus; deleting the
	// offending message plus the persisted spammer flag is this system's
	// substitute for the source's user-ban action.
	if err := s.Outbound.Send(ctx, bus.OutgoingAction{
		Channel: evt.Channel, Kind: bus.ActionDeleteMessage,
		ChatID: evt.Chat.ID, MessageID: replied.MessageID,
	}); err != nil {
		return err
	}
	return s.reply(ctx, evt, "Labeled as spam and flagged the sender.")
}

func cmdLearnSpam(ctx context.Context, s *Services, evt bus.IncomingEvent, _ string) error {
	return learnFromReply(ctx, s, evt, true)
}

func cmdLearnHam(ctx context.Context, s *Services, evt bus.IncomingEvent, _ string) error {
	return learnFromReply(ctx, s, evt, false)
}

func learnFromReply(ctx context.Context, s *Services, evt bus.IncomingEvent, isSpam bool) error {
	replied, err := s.repliedMessage(ctx, evt)
	if err != nil {
		return err
	}
	if replied == nil {
		return s.reply(ctx, evt, "Reply to a message to train the filter on it.")
	}
	if s.Spam == nil {
		return s.reply(ctx, evt, "Spam filtering is not configured.")
	}
	if err := s.Spam.Learn(ctx, evt.Chat.ID, replied.Text, isSpam); err != nil {
		return err
	}
	reason := storage.ReasonAdmin
	if isSpam {
		if err := s.Store.MarkSpamMessage(ctx, s.DataSource, storage.SpamMessage{
			ChatID: evt.Chat.ID, UserID: replied.UserID, MessageID: replied.MessageID,
			Text: replied.Text, Reason: reason, Score: 1,
		}); err != nil {
			return err
		}
	}
	return s.reply(ctx, evt, "Learned.")
}

func cmdGetSpamScore(ctx context.Context, s *Services, evt bus.IncomingEvent, _ string) error {
	replied, err := s.repliedMessage(ctx, evt)
	if err != nil {
		return err
	}
	if replied == nil {
		return s.reply(ctx, evt, "Reply to a message with /get_spam_score to score it.")
	}
	if s.Spam == nil {
		return s.reply(ctx, evt, "Spam filtering is not configured.")
	}
	score, err := s.Spam.Score(ctx, evt.Chat.ID, replied.Text)
	if err != nil {
		return err
	}
	return s.reply(ctx, evt, fmt.Sprintf("Spam score: %.3f", score))
}

func cmdUnban(ctx context.Context, s *Services, evt bus.IncomingEvent, args string) error {
	var targetID int64
	arg := strings.TrimSpace(args)
	switch {
	case arg != "":
		id, err := strconv.ParseInt(strings.TrimPrefix(arg, "@"), 10, 64)
		if err != nil {
			return s.reply(ctx, evt, "Usage: /unban <numeric-user-id> (or reply to one of their messages)")
		}
		targetID = id
	default:
		replied, err := s.repliedMessage(ctx, evt)
		if err != nil {
			return err
		}
		if replied == nil {
			return s.reply(ctx, evt, "Usage: /unban <numeric-user-id> (or reply to one of their messages)")
		}
		targetID = replied.UserID
	}

	if err := s.Store.MarkSpammer(ctx, s.DataSource, evt.Chat.ID, targetID, false); err != nil {
		return err
	}
	return s.reply(ctx, evt, "User unbanned.")
}

func cmdPretrainBayes(ctx context.Context, s *Services, evt bus.IncomingEvent, args string) error {
	if s.Spam == nil {
		return s.reply(ctx, evt, "Spam filtering is not configured.")
	}
	var filterChatID int64
	if arg := strings.TrimSpace(args); arg != "" {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return s.reply(ctx, evt, "Usage: /pretrain_bayes [chat-id]")
		}
		filterChatID = id
	}

	records, err := s.Store.CrossChatSpamMessages(ctx)
	if err != nil {
		return err
	}

	learned := 0
	for _, rec := range records {
		if filterChatID != 0 && rec.ChatID != filterChatID {
			continue
		}
		if err := s.Spam.Learn(ctx, rec.ChatID, rec.Text, true); err != nil {
			return err
		}
		learned++
	}
	return s.reply(ctx, evt, fmt.Sprintf("Pretrained on %d labeled spam messages.", learned))
}

func cmdModels(ctx context.Context, s *Services, evt bus.IncomingEvent, _ string) error {
	if s.LLM == nil {
		return s.reply(ctx, evt, "No LLM providers configured.")
	}
	bindings := s.LLM.Bindings()
	if len(bindings) == 0 {
		return s.reply(ctx, evt, "No LLM providers configured.")
	}
	var sb strings.Builder
	sb.WriteString("Configured models:\n")
	for _, b := range bindings {
		fallback := ""
		if b.HasFallback {
			fallback = " (+fallback)"
		}
		sb.WriteString(fmt.Sprintf("  %s -> %s%s\n", b.ModelID, b.ProviderName, fallback))
	}
	return s.reply(ctx, evt, sb.String())
}
