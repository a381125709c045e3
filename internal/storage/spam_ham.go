package storage

import (
	"context"
	"fmt"
)

// MarkSpamMessage upgrades a message's category to user-spam and inserts its
// SpamMessage row in the same source transaction, maintaining invariant P1
// ("every message persisted with category user-spam has a corresponding
// SpamMessage row with the same key").
func (r *Router) MarkSpamMessage(ctx context.Context, dataSource string, sm SpamMessage) error {
	src, err := r.resolveForWrite(dataSource, sm.ChatID)
	if err != nil {
		return err
	}
	tx, err := src.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: mark spam message: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	updateQuery := src.Rebind(`UPDATE messages SET category = 'user-spam' WHERE chat_id = ? AND message_id = ?`)
	if _, err := tx.ExecContext(ctx, updateQuery, sm.ChatID, sm.MessageID); err != nil {
		return fmt.Errorf("storage: mark spam message: update category: %w", err)
	}

	insertQuery := src.Rebind(`
		INSERT INTO spam_messages (chat_id, user_id, message_id, text, reason, score)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (chat_id, user_id, message_id) DO UPDATE SET
			text = excluded.text, reason = excluded.reason, score = excluded.score`)
	if _, err := tx.ExecContext(ctx, insertQuery, sm.ChatID, sm.UserID, sm.MessageID, sm.Text, string(sm.Reason), sm.Score); err != nil {
		return fmt.Errorf("storage: mark spam message: insert: %w", err)
	}

	return tx.Commit()
}

// MarkHamMessage inserts a HamMessage row (labeling a message as legitimate,
// e.g. via /unban or admin override).
func (r *Router) MarkHamMessage(ctx context.Context, dataSource string, hm HamMessage) error {
	src, err := r.resolveForWrite(dataSource, hm.ChatID)
	if err != nil {
		return err
	}
	query := src.Rebind(`
		INSERT INTO ham_messages (chat_id, user_id, message_id, text, reason, score)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (chat_id, user_id, message_id) DO UPDATE SET
			text = excluded.text, reason = excluded.reason, score = excluded.score`)
	_, err = src.DB.ExecContext(ctx, query, hm.ChatID, hm.UserID, hm.MessageID, hm.Text, string(hm.Reason), hm.Score)
	if err != nil {
		return fmt.Errorf("storage: mark ham message: %w", err)
	}
	return nil
}

// CrossChatSpamMessages aggregates SpamMessage rows across every source,
// deduping by (chat_id, message_id) per spec §4.1's dedup table.
func (r *Router) CrossChatSpamMessages(ctx context.Context) ([]SpamMessage, error) {
	type key struct {
		chatID int64
		msgID  string
	}
	seen := make(map[key]struct{})
	var out []SpamMessage
	r.forEachSource(ctx, func(ctx context.Context, s *Source) error {
		rows, err := s.DB.QueryContext(ctx, `SELECT chat_id, user_id, message_id, text, reason, score FROM spam_messages`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var sm SpamMessage
			var reason string
			if err := rows.Scan(&sm.ChatID, &sm.UserID, &sm.MessageID, &sm.Text, &reason, &sm.Score); err != nil {
				return err
			}
			k := key{sm.ChatID, sm.MessageID}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			sm.Reason = SpamReason(reason)
			out = append(out, sm)
		}
		return rows.Err()
	})
	return out, nil
}
