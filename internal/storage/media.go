package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertMediaAttachment creates or refreshes a MediaAttachment row,
// bumping updated_at — the heartbeat the album-completion cron tick
// watches (spec §4.10).
func (r *Router) UpsertMediaAttachment(ctx context.Context, dataSource string, m MediaAttachment) error {
	src, err := r.resolveForWrite(dataSource, 0)
	if err != nil {
		return err
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now()
	}
	query := src.Rebind(`
		INSERT INTO media_attachments (file_unique_id, status, mime_type, size, local_url, platform_file_id,
			description, original_prompt, media_group_id, channel, chat_id, thread_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (file_unique_id) DO UPDATE SET
			status = excluded.status,
			local_url = excluded.local_url,
			description = excluded.description,
			updated_at = excluded.updated_at`)
	_, err = src.DB.ExecContext(ctx, query, m.FileUniqueID, string(m.Status), m.MimeType, m.Size, m.LocalURL,
		m.PlatformFileID, m.Description, m.OriginalPrompt, m.MediaGroupID, m.Channel, m.ChatID, m.ThreadID, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storage: upsert media attachment: %w", err)
	}
	return nil
}

// SetMediaStatus transitions an attachment's status. Only pending ->
// done|failed are meant to be terminal (enforced by the caller, the media
// pipeline — the store itself just writes the value).
func (r *Router) SetMediaStatus(ctx context.Context, dataSource, fileUniqueID string, status MediaStatus) error {
	src, err := r.resolveForWrite(dataSource, 0)
	if err != nil {
		return err
	}
	query := src.Rebind(`UPDATE media_attachments SET status = ? WHERE file_unique_id = ?`)
	_, err = src.DB.ExecContext(ctx, query, string(status), fileUniqueID)
	if err != nil {
		return fmt.Errorf("storage: set media status: %w", err)
	}
	return nil
}

// SetMediaDescription records a vision-model-generated description.
func (r *Router) SetMediaDescription(ctx context.Context, dataSource, fileUniqueID, description string) error {
	src, err := r.resolveForWrite(dataSource, 0)
	if err != nil {
		return err
	}
	query := src.Rebind(`UPDATE media_attachments SET description = ? WHERE file_unique_id = ?`)
	_, err = src.DB.ExecContext(ctx, query, description, fileUniqueID)
	if err != nil {
		return fmt.Errorf("storage: set media description: %w", err)
	}
	return nil
}

// EligibleMediaGroups returns the distinct media_group_id values whose
// newest member update is at least delay old and still unprocessed (status
// "new"), i.e. ready for the album-completion batch (spec §4.10).
func (r *Router) EligibleMediaGroups(ctx context.Context, dataSource string, delay time.Duration, now time.Time) ([]string, error) {
	src, err := r.resolve(dataSource, 0)
	if err != nil {
		return nil, err
	}
	cutoff := now.Add(-delay)
	query := src.Rebind(`
		SELECT media_group_id FROM media_attachments
		WHERE media_group_id != '' AND status = 'new'
		GROUP BY media_group_id
		HAVING MAX(updated_at) <= ?`)
	rows, err := src.DB.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("storage: eligible media groups: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// MediaGroupMembers returns every attachment sharing groupID, for batch processing.
func (r *Router) MediaGroupMembers(ctx context.Context, dataSource, groupID string) ([]MediaAttachment, error) {
	src, err := r.resolve(dataSource, 0)
	if err != nil {
		return nil, err
	}
	query := src.Rebind(`
		SELECT file_unique_id, status, mime_type, size, local_url, platform_file_id, description, original_prompt,
			media_group_id, channel, chat_id, thread_id, updated_at
		FROM media_attachments WHERE media_group_id = ?`)
	rows, err := src.DB.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("storage: media group members: %w", err)
	}
	defer rows.Close()
	var out []MediaAttachment
	for rows.Next() {
		var m MediaAttachment
		var status string
		if err := rows.Scan(&m.FileUniqueID, &status, &m.MimeType, &m.Size, &m.LocalURL, &m.PlatformFileID,
			&m.Description, &m.OriginalPrompt, &m.MediaGroupID, &m.Channel, &m.ChatID, &m.ThreadID, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.Status = MediaStatus(status)
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMediaAttachment reads one attachment by file_unique_id.
func (r *Router) GetMediaAttachment(ctx context.Context, dataSource, fileUniqueID string) (*MediaAttachment, error) {
	src, err := r.resolve(dataSource, 0)
	if err != nil {
		return nil, err
	}
	query := src.Rebind(`
		SELECT file_unique_id, status, mime_type, size, local_url, platform_file_id, description, original_prompt,
			media_group_id, channel, chat_id, thread_id, updated_at
		FROM media_attachments WHERE file_unique_id = ?`)
	var m MediaAttachment
	var status string
	err = src.DB.QueryRowContext(ctx, query, fileUniqueID).Scan(&m.FileUniqueID, &status, &m.MimeType, &m.Size,
		&m.LocalURL, &m.PlatformFileID, &m.Description, &m.OriginalPrompt, &m.MediaGroupID, &m.Channel, &m.ChatID, &m.ThreadID, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get media attachment: %w", err)
	}
	return &m, nil
}
