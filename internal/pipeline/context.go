package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/polychat-dev/polychat/internal/bus"
	"github.com/polychat-dev/polychat/internal/cache"
	"github.com/polychat-dev/polychat/internal/handlers"
	"github.com/polychat-dev/polychat/internal/llm"
	"github.com/polychat-dev/polychat/internal/storage"
)

// SummaryCache is the narrow slice of internal/cache.Cache the pipeline
// needs for the summarization-memoization contract of spec §4.3 ("a hit
// returns the prior summary verbatim").
type SummaryCache interface {
	Get(namespace, key string) (json.RawMessage, bool)
	Set(ctx context.Context, namespace, key string, value interface{}, ttl time.Duration, persistence cache.Persistence) error
}

const summaryNamespace = "summary_cache"

// estimateTokens is a coarse token-count proxy (~4 characters/token);
// no tokenizer library is present anywhere in the retrieval pack, so the
// context-token-budget trim uses this heuristic rather than an exact count.
func estimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && text != "" {
		return 1
	}
	return n
}

// assembleContext implements spec §4.9 step 5: recent messages up to the
// configured token budget, the logical conversation root if any, and a
// memoized chat summary for anything older, shaped into the []llm.Message
// contract §4.5 requires.
func (s *Services) assembleContext(ctx context.Context, evt bus.IncomingEvent) ([]llm.Message, error) {
	budget, err := s.Settings.ResolveInt(ctx, evt.Chat.ID, evt.Chat.Kind, handlers.SettingContextTokenBudget)
	if err != nil {
		return nil, err
	}

	recent, err := s.Store.RecentMessages(ctx, s.DataSource, evt.Chat.ID, evt.Chat.TopicID, 200)
	if err != nil {
		return nil, err
	}

	kept, overflowed := trimToBudget(recent, budget)

	messages := make([]llm.Message, 0, len(kept)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Text: systemPrompt(evt)})

	if overflowed {
		summary, err := s.summarizeOlder(ctx, evt, recent, kept)
		if err != nil {
			return nil, err
		}
		if summary != "" {
			messages = append(messages, llm.Message{Role: llm.RoleSystem, Text: "Earlier conversation summary: " + summary})
		}
	}

	if evt.Message.RootMessageID != "" {
		root, err := s.Store.ConversationRoot(ctx, s.DataSource, evt.Chat.ID, evt.Message.ID)
		if err != nil {
			return nil, err
		}
		if root != nil && !containsMessage(kept, root.MessageID) {
			messages = append(messages, llm.Message{Role: roleFor(*root), Text: root.Text})
		}
	}

	for _, m := range kept {
		messages = append(messages, llm.Message{Role: roleFor(m), Text: m.Text})
	}
	return messages, nil
}

func systemPrompt(evt bus.IncomingEvent) string {
	return fmt.Sprintf("You are a helpful assistant participating in chat %d. Reply concisely.", evt.Chat.ID)
}

func roleFor(m storage.Message) llm.Role {
	switch m.Category {
	case storage.CategoryBot, storage.CategoryBotCommandReply, storage.CategoryBotSummary, storage.CategoryBotResended:
		return llm.RoleAssistant
	default:
		return llm.RoleUser
	}
}

func containsMessage(msgs []storage.Message, id string) bool {
	for _, m := range msgs {
		if m.MessageID == id {
			return true
		}
	}
	return false
}

// trimToBudget keeps the most recent messages (recent is newest-first, per
// internal/storage.Router.RecentMessages) whose cumulative estimated token
// count fits budget, returned in chronological order. overflowed reports
// whether any older messages were dropped.
func trimToBudget(recent []storage.Message, budget int) (kept []storage.Message, overflowed bool) {
	if budget <= 0 {
		budget = 4000
	}
	used := 0
	cut := len(recent)
	for i, m := range recent {
		used += estimateTokens(m.Text)
		if used > budget {
			cut = i
			overflowed = true
			break
		}
	}
	kept = make([]storage.Message, cut)
	for i := 0; i < cut; i++ {
		kept[i] = recent[cut-1-i]
	}
	return kept, overflowed
}

// summarizeOlder memoizes a summary of the messages trimmed from the
// context window, keyed by the csid hash spec §4.3 defines:
// hash(chat_id, topic_id, first_msg_id, last_msg_id, prompt).
func (s *Services) summarizeOlder(ctx context.Context, evt bus.IncomingEvent, all, kept []storage.Message) (string, error) {
	if s.Cache == nil || s.Tools == nil {
		return "", nil
	}
	older := all[len(kept):]
	if len(older) == 0 {
		return "", nil
	}

	prompt := "summarize-older"
	csid := summaryCacheID(evt.Chat.ID, evt.Chat.TopicID, older[len(older)-1].MessageID, older[0].MessageID, prompt)
	if raw, ok := s.Cache.Get(summaryNamespace, csid); ok {
		var cached string
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
	}

	llmMsgs := make([]llm.Message, 0, len(older))
	for i := len(older) - 1; i >= 0; i-- {
		llmMsgs = append(llmMsgs, llm.Message{Role: roleFor(older[i]), Text: older[i].Text})
	}
	summary, err := s.Tools.Summarize(ctx, llmMsgs)
	if err != nil {
		return "", fmt.Errorf("pipeline: summarize older context: %w", err)
	}
	_ = s.Cache.Set(ctx, summaryNamespace, csid, summary, 0, cache.PersistOnChange)
	return summary, nil
}

func summaryCacheID(chatID, topicID int64, firstMsgID, lastMsgID, prompt string) string {
	h := sha256.New()
	h.Write([]byte(strconv.FormatInt(chatID, 10)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(topicID, 10)))
	h.Write([]byte{0})
	h.Write([]byte(firstMsgID))
	h.Write([]byte{0})
	h.Write([]byte(lastMsgID))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	return hex.EncodeToString(h.Sum(nil))
}
