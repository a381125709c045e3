package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/polychat-dev/polychat/internal/errs"
)

// SaveMessage persists a message (append-only, except for later category
// upgrades — e.g. user -> user-spam — which reuse this same upsert).
func (r *Router) SaveMessage(ctx context.Context, dataSource string, m Message) error {
	src, err := r.resolveForWrite(dataSource, m.ChatID)
	if err != nil {
		return err
	}
	markup := m.Markup
	if len(markup) == 0 {
		markup = []byte("{}")
	}
	metadata := m.Metadata
	if len(metadata) == 0 {
		metadata = []byte("{}")
	}
	query := src.Rebind(`
		INSERT INTO messages (chat_id, message_id, date, user_id, reply_id, thread_id, root_message_id,
			text, type, category, quote, media_id, media_group_id, markup, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chat_id, message_id) DO UPDATE SET
			category = excluded.category,
			text = excluded.text,
			media_id = excluded.media_id,
			metadata = excluded.metadata`)
	_, err = src.DB.ExecContext(ctx, query,
		m.ChatID, m.MessageID, m.Date, m.UserID, m.ReplyID, m.ThreadID, m.RootMessageID,
		m.Text, string(m.Type), string(m.Category), m.Quote, m.MediaID, m.MediaGroupID,
		string(markup), string(metadata))
	if err != nil {
		return fmt.Errorf("storage: save message: %w", err)
	}
	return nil
}

// SetMessageCategory upgrades a message's category in place (e.g. marking
// user-spam), the operation spec's P1 invariant depends on being paired with
// a MarkSpamMessage call in the same handler transaction-of-intent.
func (r *Router) SetMessageCategory(ctx context.Context, dataSource string, chatID int64, messageID string, category MessageCategory) error {
	src, err := r.resolveForWrite(dataSource, chatID)
	if err != nil {
		return err
	}
	query := src.Rebind(`UPDATE messages SET category = ? WHERE chat_id = ? AND message_id = ?`)
	_, err = src.DB.ExecContext(ctx, query, string(category), chatID, messageID)
	if err != nil {
		return fmt.Errorf("storage: set message category: %w", err)
	}
	return nil
}

// SetMessageMedia links an already-persisted message to its media
// attachment and (if any) media group, without touching category or text —
// the media pipeline's ingest step runs after the message row already
// exists (spec §4.9 step 1 persists it first).
func (r *Router) SetMessageMedia(ctx context.Context, dataSource string, chatID int64, messageID, mediaID, mediaGroupID string) error {
	src, err := r.resolveForWrite(dataSource, chatID)
	if err != nil {
		return err
	}
	query := src.Rebind(`UPDATE messages SET media_id = ?, media_group_id = ? WHERE chat_id = ? AND message_id = ?`)
	_, err = src.DB.ExecContext(ctx, query, mediaID, mediaGroupID, chatID, messageID)
	if err != nil {
		return fmt.Errorf("storage: set message media: %w", err)
	}
	return nil
}

func scanMessage(row interface{ Scan(...interface{}) error }) (Message, error) {
	var m Message
	var typ, category, markup, metadata string
	err := row.Scan(&m.ChatID, &m.MessageID, &m.Date, &m.UserID, &m.ReplyID, &m.ThreadID, &m.RootMessageID,
		&m.Text, &typ, &category, &m.Quote, &m.MediaID, &m.MediaGroupID, &markup, &metadata)
	if err != nil {
		return Message{}, err
	}
	m.Type = MessageType(typ)
	m.Category = MessageCategory(category)
	m.Markup = []byte(markup)
	m.Metadata = []byte(metadata)
	return m, nil
}

const messageColumns = `chat_id, message_id, date, user_id, reply_id, thread_id, root_message_id,
	text, type, category, quote, media_id, media_group_id, markup, metadata`

// GetMessage reads one message by (chat_id, message_id).
func (r *Router) GetMessage(ctx context.Context, dataSource string, chatID int64, messageID string) (*Message, error) {
	src, err := r.resolve(dataSource, chatID)
	if err != nil {
		return nil, err
	}
	query := src.Rebind(`SELECT ` + messageColumns + ` FROM messages WHERE chat_id = ? AND message_id = ?`)
	m, err := scanMessage(src.DB.QueryRowContext(ctx, query, chatID, messageID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("storage: message %d/%s: %w", chatID, messageID, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get message: %w", err)
	}
	return &m, nil
}

// RecentMessages returns up to limit messages from (chat, topic/thread),
// most recent first, for context assembly (spec §4.9 step 5).
func (r *Router) RecentMessages(ctx context.Context, dataSource string, chatID, threadID int64, limit int) ([]Message, error) {
	src, err := r.resolve(dataSource, chatID)
	if err != nil {
		return nil, err
	}
	query := src.Rebind(`SELECT ` + messageColumns + ` FROM messages
		WHERE chat_id = ? AND thread_id = ?
		ORDER BY date DESC LIMIT ?`)
	rows, err := src.DB.QueryContext(ctx, query, chatID, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: recent messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ConversationRoot walks reply_id/root_message_id to find the logical
// conversation head for msg, returning nil if msg has no root.
func (r *Router) ConversationRoot(ctx context.Context, dataSource string, chatID int64, messageID string) (*Message, error) {
	m, err := r.GetMessage(ctx, dataSource, chatID, messageID)
	if err != nil {
		return nil, err
	}
	if m.RootMessageID == "" {
		return nil, nil
	}
	return r.GetMessage(ctx, dataSource, chatID, m.RootMessageID)
}

// MessagesByMediaGroup returns every message sharing groupID, across all
// chats that reference it — an album's member messages are always posted
// to the same chat in practice, but the query doesn't assume that, so the
// media pipeline (spec §4.10) can still resolve a source chat for a group
// that somehow spans none, one, or (defensively) more than one chat.
func (r *Router) MessagesByMediaGroup(ctx context.Context, dataSource, groupID string) ([]Message, error) {
	src, err := r.resolve(dataSource, 0)
	if err != nil {
		return nil, err
	}
	query := src.Rebind(`SELECT ` + messageColumns + ` FROM messages WHERE media_group_id = ? ORDER BY date ASC`)
	rows, err := src.DB.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("storage: messages by media group: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// BumpDailyStats increments the (chat, date) and (chat, user, date) daily
// counters (spec §4.9 step 2), creating rows on first observation.
func (r *Router) BumpDailyStats(ctx context.Context, dataSource string, chatID, userID int64, when time.Time) error {
	src, err := r.resolveForWrite(dataSource, chatID)
	if err != nil {
		return err
	}
	date := when.UTC().Format("2006-01-02")
	for _, uid := range []int64{0, userID} {
		query := src.Rebind(`
			INSERT INTO daily_stats (chat_id, user_id, date, message_count) VALUES (?, ?, ?, 1)
			ON CONFLICT (chat_id, user_id, date) DO UPDATE SET message_count = daily_stats.message_count + 1`)
		if _, err := src.DB.ExecContext(ctx, query, chatID, uid, date); err != nil {
			return fmt.Errorf("storage: bump daily stats: %w", err)
		}
	}
	return nil
}
