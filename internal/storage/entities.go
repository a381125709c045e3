// Package storage implements the Storage Router (spec §4.1) and the
// relational data model (spec §3): entity structs, a multi-source router
// with explicit-hint / chat-mapping / default routing precedence, a
// dual-dialect (sqlite + postgres) SQL backend, and a hand-rolled
// transactional migration runner.
//
// Grounded on vanducng-goclaw's internal/store package: the same
// "interface in store/, dialect-specific implementation in a sub-package"
// shape (store.SessionStore / pg.PGSessionStore), generalized so one Source
// can be either dialect rather than Postgres-only, per spec's
// database.sources.<name>.path config surface.
package storage

import (
	"encoding/json"
	"time"
)

// ChatKind mirrors bus.ChatKind; duplicated here (rather than imported) to
// keep the storage layer free of a dependency on the channel-adapter
// vocabulary — it only needs to persist the string.
type ChatKind string

const (
	ChatPrivate ChatKind = "private"
	ChatGroup   ChatKind = "group"
	ChatChannel ChatKind = "channel"
	ChatForum   ChatKind = "forum"
)

// Chat is the top-level conversation entity (spec §3).
type Chat struct {
	ChatID int64
	Kind   ChatKind
	Title  string
	Flags  map[string]bool
}

// User is the platform-wide identity; per-chat attributes live in ChatUser.
type User struct {
	UserID      int64
	Username    string
	DisplayName string
}

// ChatUser carries per-chat attributes for a user, keyed (chat_id, user_id).
type ChatUser struct {
	ChatID       int64
	UserID       int64
	DisplayName  string
	Username     string
	MessageCount int64
	Metadata     json.RawMessage
	Spammer      bool
}

// MessageType enumerates Message.Type.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessagePhoto    MessageType = "photo"
	MessageVideo    MessageType = "video"
	MessageVoice    MessageType = "voice"
	MessageDocument MessageType = "document"
)

// MessageCategory enumerates Message.Category (spec §3).
type MessageCategory string

const (
	CategoryUser                MessageCategory = "user"
	CategoryUserCommand         MessageCategory = "user-command"
	CategoryChannel             MessageCategory = "channel"
	CategoryBot                 MessageCategory = "bot"
	CategoryBotCommandReply     MessageCategory = "bot-command-reply"
	CategoryBotError            MessageCategory = "bot-error"
	CategoryBotSummary          MessageCategory = "bot-summary"
	CategoryBotResended         MessageCategory = "bot-resended"
	CategoryBotSpamNotification MessageCategory = "bot-spam-notification"
	CategoryUserSpam            MessageCategory = "user-spam"
	CategoryUnspecified         MessageCategory = "unspecified"
)

// Message is keyed (chat_id, message_id); message_id is a platform-opaque string.
type Message struct {
	ChatID        int64
	MessageID     string
	Date          time.Time
	UserID        int64
	ReplyID       string
	ThreadID      int64
	RootMessageID string
	Text          string
	Type          MessageType
	Category      MessageCategory
	Quote         string
	MediaID       string
	MediaGroupID  string
	Markup        json.RawMessage
	Metadata      json.RawMessage
}

// MediaStatus enumerates MediaAttachment.Status; monotone new -> pending -> done|failed.
type MediaStatus string

const (
	MediaNew     MediaStatus = "new"
	MediaPending MediaStatus = "pending"
	MediaDone    MediaStatus = "done"
	MediaFailed  MediaStatus = "failed"
)

// MediaAttachment is keyed by file_unique_id.
type MediaAttachment struct {
	FileUniqueID   string
	Status         MediaStatus
	MimeType       string
	Size           int64
	LocalURL       string
	PlatformFileID string
	Description    string
	OriginalPrompt string
	MediaGroupID   string
	Channel        string // adapter that received the source message, e.g. "telegram"
	ChatID         int64
	ThreadID       int64
	UpdatedAt      time.Time
}

// ChatSetting is a per-chat key-value pair; keys are drawn from a closed
// enumeration (see internal/handlers.SettingKey); values are stored as strings
// and coerced by callers.
type ChatSetting struct {
	ChatID int64
	Key    string
	Value  string
}

// GlobalSetting is a process-wide key-value pair, including db-migration-version.
type GlobalSetting struct {
	Key   string
	Value string
}

// UserData is arbitrary transient key-value state scoped (user_id, chat_id, key).
type UserData struct {
	UserID int64
	ChatID int64
	Key    string
	Value  string
}

// SpamReason enumerates SpamMessage/HamMessage.Reason.
type SpamReason string

const (
	ReasonAuto  SpamReason = "auto"
	ReasonUser  SpamReason = "user"
	ReasonAdmin SpamReason = "admin"
	ReasonUnban SpamReason = "unban"
)

// SpamMessage records a message classified (or labeled) as spam.
type SpamMessage struct {
	ChatID    int64
	UserID    int64
	MessageID string
	Text      string
	Reason    SpamReason
	Score     float64
}

// HamMessage records a message confirmed (or labeled) as legitimate.
type HamMessage struct {
	ChatID    int64
	UserID    int64
	MessageID string
	Text      string
	Reason    SpamReason
	Score     float64
}

// BayesToken tracks per-token occurrence counts for one chat's (or, when
// ChatID is 0, the global) Bayes model.
type BayesToken struct {
	Token      string
	ChatID     int64 // 0 == global model
	SpamCount  int64
	HamCount   int64
}

// BayesClass tracks per-chat (or global), per-label message/token totals.
type BayesClass struct {
	ChatID       int64
	IsSpam       bool
	MessageCount int64
	TokenCount   int64
}

// DelayedTask is a caller-scheduled, caller-named, idempotent deferred action.
type DelayedTask struct {
	ID       string
	FireAt   time.Time
	Function string
	Kwargs   json.RawMessage
	IsDone   bool
}

// DailyStats is a per-day message counter, either chat-wide (UserID == 0)
// or per (chat, user).
type DailyStats struct {
	ChatID       int64
	UserID       int64
	Date         string // YYYY-MM-DD
	MessageCount int64
}

// CacheRow backs the generic (namespace, key) -> value cache store for
// on-change/periodic/on-shutdown persisted entries (bridges to
// internal/cache.Store).
type CacheRow struct {
	Namespace string
	Key       string
	Value     []byte
}
