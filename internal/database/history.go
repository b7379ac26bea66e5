package database

import (
	"context"
	"database/sql"
	"fmt"

	"guildmirror/internal/models"
)

// SaveDispatchRecord records a relayed message pair for future reference
// resolution. Re-recording the same source message overwrites the row.
func (d *Database) SaveDispatchRecord(ctx context.Context, r *models.DispatchRecord) error {
	query := `
		INSERT OR REPLACE INTO dispatch_history (
			source_message_id, mirror_message_id, mirror_channel_id
		) VALUES (?, ?, ?)
	`

	_, err := d.db.ExecContext(ctx, query,
		r.SourceMessageID, r.MirrorMessageID, r.MirrorChannelID)
	if err != nil {
		return fmt.Errorf("failed to save dispatch record: %w", err)
	}
	return nil
}

// GetDispatchRecord looks up the mirror counterpart of a source message.
// Absence is explicit: (nil, nil) means the message was never relayed.
func (d *Database) GetDispatchRecord(ctx context.Context, sourceMessageID string) (*models.DispatchRecord, error) {
	query := `
		SELECT source_message_id, mirror_message_id, mirror_channel_id, recorded_at
		FROM dispatch_history
		WHERE source_message_id = ?
	`

	r := &models.DispatchRecord{}
	err := d.db.QueryRowContext(ctx, query, sourceMessageID).Scan(
		&r.SourceMessageID,
		&r.MirrorMessageID,
		&r.MirrorChannelID,
		&r.RecordedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dispatch record: %w", err)
	}
	return r, nil
}

// CleanupDispatchHistory keeps the index bounded: rows older than the
// retention window go first, then anything beyond maxRows newest-first.
func (d *Database) CleanupDispatchHistory(retentionDays, maxRows int) error {
	query := `
		DELETE FROM dispatch_history
		WHERE recorded_at < datetime('now', '-' || ? || ' days')
	`
	if _, err := d.db.Exec(query, retentionDays); err != nil {
		return fmt.Errorf("failed to cleanup dispatch history: %w", err)
	}

	if maxRows > 0 {
		query = `
			DELETE FROM dispatch_history
			WHERE source_message_id NOT IN (
				SELECT source_message_id FROM dispatch_history
				ORDER BY recorded_at DESC
				LIMIT ?
			)
		`
		if _, err := d.db.Exec(query, maxRows); err != nil {
			return fmt.Errorf("failed to cap dispatch history: %w", err)
		}
	}

	return nil
}
