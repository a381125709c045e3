package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/polychat-dev/polychat/internal/errs"
)

// UpsertChat creates or updates a Chat row (chats and users are created
// lazily on first observation, spec §3 Lifecycle).
func (r *Router) UpsertChat(ctx context.Context, dataSource string, c Chat) error {
	src, err := r.resolveForWrite(dataSource, c.ChatID)
	if err != nil {
		return err
	}
	flags, err := json.Marshal(c.Flags)
	if err != nil {
		return err
	}
	query := src.Rebind(`
		INSERT INTO chats (chat_id, kind, title, flags) VALUES (?, ?, ?, ?)
		ON CONFLICT (chat_id) DO UPDATE SET kind = excluded.kind, title = excluded.title, flags = excluded.flags`)
	_, err = src.DB.ExecContext(ctx, query, c.ChatID, string(c.Kind), c.Title, string(flags))
	if err != nil {
		return fmt.Errorf("storage: upsert chat: %w", err)
	}
	return nil
}

// GetChat reads a Chat by id.
func (r *Router) GetChat(ctx context.Context, dataSource string, chatID int64) (*Chat, error) {
	src, err := r.resolve(dataSource, chatID)
	if err != nil {
		return nil, err
	}
	query := src.Rebind(`SELECT chat_id, kind, title, flags FROM chats WHERE chat_id = ?`)
	var c Chat
	var kind, flags string
	err = src.DB.QueryRowContext(ctx, query, chatID).Scan(&c.ChatID, &kind, &c.Title, &flags)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("storage: chat %d: %w", chatID, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get chat: %w", err)
	}
	c.Kind = ChatKind(kind)
	_ = json.Unmarshal([]byte(flags), &c.Flags)
	return &c, nil
}

// UpsertChatUser creates or updates a ChatUser row.
func (r *Router) UpsertChatUser(ctx context.Context, dataSource string, cu ChatUser) error {
	src, err := r.resolveForWrite(dataSource, cu.ChatID)
	if err != nil {
		return err
	}
	meta := cu.Metadata
	if len(meta) == 0 {
		meta = json.RawMessage("{}")
	}
	query := src.Rebind(`
		INSERT INTO chat_users (chat_id, user_id, display_name, username, message_count, metadata, spammer)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chat_id, user_id) DO UPDATE SET
			display_name = excluded.display_name,
			username = excluded.username,
			message_count = excluded.message_count,
			metadata = excluded.metadata,
			spammer = excluded.spammer`)
	_, err = src.DB.ExecContext(ctx, query, cu.ChatID, cu.UserID, cu.DisplayName, cu.Username, cu.MessageCount, string(meta), cu.Spammer)
	if err != nil {
		return fmt.Errorf("storage: upsert chat user: %w", err)
	}
	return nil
}

// MarkSpammer flips the ChatUser.spammer flag, the signal the spam-gate and
// /ban flows consult before whitelisting a sender (spec §4.9 step 3).
func (r *Router) MarkSpammer(ctx context.Context, dataSource string, chatID, userID int64, spammer bool) error {
	src, err := r.resolveForWrite(dataSource, chatID)
	if err != nil {
		return err
	}
	query := src.Rebind(`UPDATE chat_users SET spammer = ? WHERE chat_id = ? AND user_id = ?`)
	_, err = src.DB.ExecContext(ctx, query, spammer, chatID, userID)
	if err != nil {
		return fmt.Errorf("storage: mark spammer: %w", err)
	}
	return nil
}

// IsSpammer reports the ChatUser.spammer flag, defaulting to false if the
// row doesn't exist yet.
func (r *Router) IsSpammer(ctx context.Context, dataSource string, chatID, userID int64) (bool, error) {
	src, err := r.resolve(dataSource, chatID)
	if err != nil {
		return false, err
	}
	query := src.Rebind(`SELECT spammer FROM chat_users WHERE chat_id = ? AND user_id = ?`)
	var spammer bool
	err = src.DB.QueryRowContext(ctx, query, chatID, userID).Scan(&spammer)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: is spammer: %w", err)
	}
	return spammer, nil
}

// ListAllChats aggregates chats across every configured source, deduping by
// chat_id (spec §4.1 dedup table).
func (r *Router) ListAllChats(ctx context.Context) ([]Chat, error) {
	seen := make(map[int64]struct{})
	var out []Chat
	r.forEachSource(ctx, func(ctx context.Context, s *Source) error {
		rows, err := s.DB.QueryContext(ctx, `SELECT chat_id, kind, title, flags FROM chats`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var c Chat
			var kind, flags string
			if err := rows.Scan(&c.ChatID, &kind, &c.Title, &flags); err != nil {
				return err
			}
			if _, dup := seen[c.ChatID]; dup {
				continue
			}
			seen[c.ChatID] = struct{}{}
			c.Kind = ChatKind(kind)
			_ = json.Unmarshal([]byte(flags), &c.Flags)
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, nil
}
