package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"guildmirror/internal/models"
)

// GetAccessFailure returns the failure state for a source channel, or
// (nil, nil) when the channel has never failed.
func (d *Database) GetAccessFailure(ctx context.Context, sourceChannelID string) (*models.AccessFailureState, error) {
	query := `
		SELECT source_channel_id, failed_attempts, last_failed_at, blacklisted_until
		FROM access_failures
		WHERE source_channel_id = ?
	`

	s := &models.AccessFailureState{}
	var lastFailed sql.NullTime
	var until sql.NullTime
	err := d.db.QueryRowContext(ctx, query, sourceChannelID).Scan(
		&s.SourceChannelID,
		&s.FailedAttempts,
		&lastFailed,
		&until,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get access failure state: %w", err)
	}

	if lastFailed.Valid {
		s.LastFailedAt = lastFailed.Time
	}
	if until.Valid {
		t := until.Time
		s.BlacklistedUntil = &t
	}
	return s, nil
}

// SaveAccessFailure upserts the failure state for a source channel.
func (d *Database) SaveAccessFailure(ctx context.Context, s *models.AccessFailureState) error {
	query := `
		INSERT INTO access_failures (
			source_channel_id, failed_attempts, last_failed_at, blacklisted_until
		) VALUES (?, ?, ?, ?)
		ON CONFLICT (source_channel_id) DO UPDATE SET
			failed_attempts = excluded.failed_attempts,
			last_failed_at = excluded.last_failed_at,
			blacklisted_until = excluded.blacklisted_until
	`

	var until interface{}
	if s.BlacklistedUntil != nil {
		until = *s.BlacklistedUntil
	}
	_, err := d.db.ExecContext(ctx, query,
		s.SourceChannelID, s.FailedAttempts, s.LastFailedAt, until)
	if err != nil {
		return fmt.Errorf("failed to save access failure state: %w", err)
	}
	return nil
}

// ClearAccessFailure removes the failure state after a success.
func (d *Database) ClearAccessFailure(ctx context.Context, sourceChannelID string) error {
	query := `DELETE FROM access_failures WHERE source_channel_id = ?`
	if _, err := d.db.ExecContext(ctx, query, sourceChannelID); err != nil {
		return fmt.Errorf("failed to clear access failure state: %w", err)
	}
	return nil
}

// SweepExpiredBlacklists clears every blacklist past its cutoff, except for
// channels an operator has manually deleted: that suppression is stronger and
// survives the sweep. Returns the number of channels restored.
func (d *Database) SweepExpiredBlacklists(ctx context.Context, now time.Time) (int64, error) {
	query := `
		DELETE FROM access_failures
		WHERE blacklisted_until IS NOT NULL
		  AND blacklisted_until <= ?
		  AND source_channel_id NOT IN (
			SELECT source_id FROM entity_mappings
			WHERE kind = 'channel' AND manually_deleted = 1
		  )
	`

	result, err := d.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired blacklists: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows, nil
}
