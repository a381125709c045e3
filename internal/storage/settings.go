package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// SetChatSetting writes a per-chat setting value (stored as string; callers coerce).
func (r *Router) SetChatSetting(ctx context.Context, dataSource string, chatID int64, key, value string) error {
	src, err := r.resolveForWrite(dataSource, chatID)
	if err != nil {
		return err
	}
	query := src.Rebind(`
		INSERT INTO chat_settings (chat_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT (chat_id, key) DO UPDATE SET value = excluded.value`)
	_, err = src.DB.ExecContext(ctx, query, chatID, key, value)
	if err != nil {
		return fmt.Errorf("storage: set chat setting: %w", err)
	}
	return nil
}

// UnsetChatSetting removes a stored per-chat override, falling the layered
// lookup in internal/config back to chat-kind/global/built-in defaults.
func (r *Router) UnsetChatSetting(ctx context.Context, dataSource string, chatID int64, key string) error {
	src, err := r.resolveForWrite(dataSource, chatID)
	if err != nil {
		return err
	}
	query := src.Rebind(`DELETE FROM chat_settings WHERE chat_id = ? AND key = ?`)
	_, err = src.DB.ExecContext(ctx, query, chatID, key)
	if err != nil {
		return fmt.Errorf("storage: unset chat setting: %w", err)
	}
	return nil
}

// GetChatSetting reads a stored per-chat override; ok is false if none exists.
func (r *Router) GetChatSetting(ctx context.Context, dataSource string, chatID int64, key string) (value string, ok bool, err error) {
	src, err := r.resolve(dataSource, chatID)
	if err != nil {
		return "", false, err
	}
	query := src.Rebind(`SELECT value FROM chat_settings WHERE chat_id = ? AND key = ?`)
	err = src.DB.QueryRowContext(ctx, query, chatID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage: get chat setting: %w", err)
	}
	return value, true, nil
}

// AllChatSettings returns every stored override for a chat, used to render
// /settings.
func (r *Router) AllChatSettings(ctx context.Context, dataSource string, chatID int64) (map[string]string, error) {
	src, err := r.resolve(dataSource, chatID)
	if err != nil {
		return nil, err
	}
	query := src.Rebind(`SELECT key, value FROM chat_settings WHERE chat_id = ?`)
	rows, err := src.DB.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("storage: all chat settings: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// SetGlobalSetting writes a process-wide setting.
func (r *Router) SetGlobalSetting(ctx context.Context, dataSource, key, value string) error {
	src, err := r.resolveForWrite(dataSource, 0)
	if err != nil {
		return err
	}
	query := src.Rebind(`
		INSERT INTO global_settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`)
	_, err = src.DB.ExecContext(ctx, query, key, value)
	if err != nil {
		return fmt.Errorf("storage: set global setting: %w", err)
	}
	return nil
}

// GetGlobalSetting reads a process-wide setting.
func (r *Router) GetGlobalSetting(ctx context.Context, dataSource, key string) (value string, ok bool, err error) {
	src, err := r.resolve(dataSource, 0)
	if err != nil {
		return "", false, err
	}
	query := src.Rebind(`SELECT value FROM global_settings WHERE key = ?`)
	err = src.DB.QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage: get global setting: %w", err)
	}
	return value, true, nil
}

// SetUserData writes a transient (user_id, chat_id, key) value, used by
// handlers for confirmation flows (spec §3 UserData).
func (r *Router) SetUserData(ctx context.Context, dataSource string, userID, chatID int64, key, value string) error {
	src, err := r.resolveForWrite(dataSource, chatID)
	if err != nil {
		return err
	}
	query := src.Rebind(`
		INSERT INTO user_data (user_id, chat_id, key, value) VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, chat_id, key) DO UPDATE SET value = excluded.value`)
	_, err = src.DB.ExecContext(ctx, query, userID, chatID, key, value)
	if err != nil {
		return fmt.Errorf("storage: set user data: %w", err)
	}
	return nil
}

// GetUserData reads a transient (user_id, chat_id, key) value.
func (r *Router) GetUserData(ctx context.Context, dataSource string, userID, chatID int64, key string) (value string, ok bool, err error) {
	src, err := r.resolve(dataSource, chatID)
	if err != nil {
		return "", false, err
	}
	query := src.Rebind(`SELECT value FROM user_data WHERE user_id = ? AND chat_id = ? AND key = ?`)
	err = src.DB.QueryRowContext(ctx, query, userID, chatID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage: get user data: %w", err)
	}
	return value, true, nil
}
