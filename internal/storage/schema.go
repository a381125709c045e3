package storage

import "database/sql"

// Migrations is the linear, ordered schema history applied by Runner. Every
// entity from spec §3 gets one table here; columns favor portable types
// (TEXT/BIGINT/REAL) that behave identically under sqlite's dynamic typing
// and postgres.
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up:      migration1Up,
		Down:    migration1Down,
	},
	{
		Version: 2,
		Name:    "bayes_and_stats",
		Up:      migration2Up,
		Down:    migration2Down,
	},
}

func exec(tx *sql.Tx, statements ...string) error {
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func migration1Up(tx *sql.Tx, d Dialect) error {
	return exec(tx,
		`CREATE TABLE IF NOT EXISTS chats (
			chat_id BIGINT PRIMARY KEY,
			kind TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			flags TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			user_id BIGINT PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS chat_users (
			chat_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			username TEXT NOT NULL DEFAULT '',
			message_count BIGINT NOT NULL DEFAULT 0,
			metadata TEXT NOT NULL DEFAULT '{}',
			spammer BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (chat_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			chat_id BIGINT NOT NULL,
			message_id TEXT NOT NULL,
			date TIMESTAMP NOT NULL,
			user_id BIGINT NOT NULL,
			reply_id TEXT NOT NULL DEFAULT '',
			thread_id BIGINT NOT NULL DEFAULT 0,
			root_message_id TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT 'text',
			category TEXT NOT NULL DEFAULT 'unspecified',
			quote TEXT NOT NULL DEFAULT '',
			media_id TEXT NOT NULL DEFAULT '',
			media_group_id TEXT NOT NULL DEFAULT '',
			markup TEXT NOT NULL DEFAULT '{}',
			metadata TEXT NOT NULL DEFAULT '{}',
			PRIMARY KEY (chat_id, message_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_thread ON messages (chat_id, thread_id, date)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_media_group ON messages (media_group_id)`,
		`CREATE TABLE IF NOT EXISTS media_attachments (
			file_unique_id TEXT PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'new',
			mime_type TEXT NOT NULL DEFAULT '',
			size BIGINT NOT NULL DEFAULT 0,
			local_url TEXT NOT NULL DEFAULT '',
			platform_file_id TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			original_prompt TEXT NOT NULL DEFAULT '',
			media_group_id TEXT NOT NULL DEFAULT '',
			channel TEXT NOT NULL DEFAULT '',
			chat_id BIGINT NOT NULL DEFAULT 0,
			thread_id BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_media_group ON media_attachments (media_group_id, updated_at)`,
		`CREATE TABLE IF NOT EXISTS chat_settings (
			chat_id BIGINT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (chat_id, key)
		)`,
		`CREATE TABLE IF NOT EXISTS global_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_data (
			user_id BIGINT NOT NULL,
			chat_id BIGINT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (user_id, chat_id, key)
		)`,
		`CREATE TABLE IF NOT EXISTS delayed_tasks (
			id TEXT PRIMARY KEY,
			fire_at TIMESTAMP NOT NULL,
			function TEXT NOT NULL,
			kwargs TEXT NOT NULL DEFAULT '{}',
			is_done BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_delayed_tasks_due ON delayed_tasks (is_done, fire_at)`,
		`CREATE TABLE IF NOT EXISTS cache_entries (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (namespace, key)
		)`,
	)
}

// migration1Down never drops global_settings: it's where the migration
// version itself lives, so rolling back to version 0 still needs it.
func migration1Down(tx *sql.Tx, d Dialect) error {
	return exec(tx,
		`DROP TABLE IF EXISTS cache_entries`,
		`DROP TABLE IF EXISTS delayed_tasks`,
		`DROP TABLE IF EXISTS user_data`,
		`DROP TABLE IF EXISTS chat_settings`,
		`DROP TABLE IF EXISTS media_attachments`,
		`DROP TABLE IF EXISTS messages`,
		`DROP TABLE IF EXISTS chat_users`,
		`DROP TABLE IF EXISTS users`,
		`DROP TABLE IF EXISTS chats`,
	)
}

func migration2Up(tx *sql.Tx, d Dialect) error {
	return exec(tx,
		`CREATE TABLE IF NOT EXISTS spam_messages (
			chat_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			message_id TEXT NOT NULL,
			text TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL,
			score REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (chat_id, user_id, message_id)
		)`,
		`CREATE TABLE IF NOT EXISTS ham_messages (
			chat_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			message_id TEXT NOT NULL,
			text TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL,
			score REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (chat_id, user_id, message_id)
		)`,
		`CREATE TABLE IF NOT EXISTS bayes_tokens (
			token TEXT NOT NULL,
			chat_id BIGINT NOT NULL DEFAULT 0,
			spam_count BIGINT NOT NULL DEFAULT 0,
			ham_count BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (token, chat_id)
		)`,
		`CREATE TABLE IF NOT EXISTS bayes_classes (
			chat_id BIGINT NOT NULL DEFAULT 0,
			is_spam BOOLEAN NOT NULL,
			message_count BIGINT NOT NULL DEFAULT 0,
			token_count BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (chat_id, is_spam)
		)`,
		`CREATE TABLE IF NOT EXISTS daily_stats (
			chat_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL DEFAULT 0,
			date TEXT NOT NULL,
			message_count BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (chat_id, user_id, date)
		)`,
	)
}

func migration2Down(tx *sql.Tx, d Dialect) error {
	return exec(tx,
		`DROP TABLE IF EXISTS daily_stats`,
		`DROP TABLE IF EXISTS bayes_classes`,
		`DROP TABLE IF EXISTS bayes_tokens`,
		`DROP TABLE IF EXISTS ham_messages`,
		`DROP TABLE IF EXISTS spam_messages`,
	)
}
