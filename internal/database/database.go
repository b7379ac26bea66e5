package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"guildmirror/internal/migrations"
	"guildmirror/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// Database is the durable store behind the correspondence store, the
// dispatch-history index and the access-failure tracker.
type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(migrations.GetInitialSchema()); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

const mappingColumns = `id, kind, source_id, source_guild_id, name, mirror_id,
	category, active, manually_deleted, created_at, updated_at`

// SaveMapping upserts a correspondence mapping. The identity triple
// (kind, source_id, source_guild_id) is the conflict key; only display
// attributes and the active flag are overwritten on conflict, so concurrent
// registration of the same key is idempotent.
func (d *Database) SaveMapping(ctx context.Context, m *models.Mapping) error {
	query := `
		INSERT INTO entity_mappings (
			kind, source_id, source_guild_id, name, mirror_id, category, active
		) VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT (kind, source_id, source_guild_id) DO UPDATE SET
			name = excluded.name,
			mirror_id = excluded.mirror_id,
			category = excluded.category,
			active = 1,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := d.db.ExecContext(ctx, query,
		m.Kind, m.SourceID, m.SourceGuildID, m.Name, m.MirrorID, m.Category)
	if err != nil {
		return fmt.Errorf("failed to save mapping: %w", err)
	}
	return nil
}

// GetMappingBySourceID retrieves a mapping by its immutable identity.
func (d *Database) GetMappingBySourceID(ctx context.Context, kind models.MappingKind, sourceID, sourceGuildID string) (*models.Mapping, error) {
	query := `
		SELECT ` + mappingColumns + `
		FROM entity_mappings
		WHERE kind = ? AND source_id = ? AND source_guild_id = ?
	`
	return d.queryMapping(ctx, query, kind, sourceID, sourceGuildID)
}

// GetMappingByName retrieves a mapping by display name. This is the repair
// path for legacy rows recorded before source ids were stored.
func (d *Database) GetMappingByName(ctx context.Context, kind models.MappingKind, sourceGuildID, name string) (*models.Mapping, error) {
	query := `
		SELECT ` + mappingColumns + `
		FROM entity_mappings
		WHERE kind = ? AND source_guild_id = ? AND name = ?
		LIMIT 1
	`
	return d.queryMapping(ctx, query, kind, sourceGuildID, name)
}

// RepairMappingSourceID backfills the source id on a legacy row found via the
// name lookup, self-healing the record.
func (d *Database) RepairMappingSourceID(ctx context.Context, id int64, sourceID string) error {
	query := `
		UPDATE entity_mappings
		SET source_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	if _, err := d.db.ExecContext(ctx, query, sourceID, id); err != nil {
		return fmt.Errorf("failed to repair mapping source id: %w", err)
	}
	return nil
}

// UpdateMappingName records a rename in place; identity fields stay untouched.
func (d *Database) UpdateMappingName(ctx context.Context, kind models.MappingKind, sourceID, sourceGuildID, name string) error {
	query := `
		UPDATE entity_mappings
		SET name = ?, updated_at = CURRENT_TIMESTAMP
		WHERE kind = ? AND source_id = ? AND source_guild_id = ?
	`
	result, err := d.db.ExecContext(ctx, query, name, kind, sourceID, sourceGuildID)
	if err != nil {
		return fmt.Errorf("failed to update mapping name: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("no mapping found for %s %s", kind, sourceID)
	}
	return nil
}

// SetManuallyDeleted flips the operator soft-delete flag. A manually deleted
// mapping is excluded from recreation until restored.
func (d *Database) SetManuallyDeleted(ctx context.Context, kind models.MappingKind, sourceID, sourceGuildID string, deleted bool) error {
	query := `
		UPDATE entity_mappings
		SET manually_deleted = ?, active = ?, updated_at = CURRENT_TIMESTAMP
		WHERE kind = ? AND source_id = ? AND source_guild_id = ?
	`
	if _, err := d.db.ExecContext(ctx, query, deleted, !deleted, kind, sourceID, sourceGuildID); err != nil {
		return fmt.Errorf("failed to set manually deleted flag: %w", err)
	}
	return nil
}

// DeleteMappingByMirrorID removes the mapping for a mirror entity that the
// diff pass deleted.
func (d *Database) DeleteMappingByMirrorID(ctx context.Context, kind models.MappingKind, mirrorID string) error {
	query := `DELETE FROM entity_mappings WHERE kind = ? AND mirror_id = ?`
	if _, err := d.db.ExecContext(ctx, query, kind, mirrorID); err != nil {
		return fmt.Errorf("failed to delete mapping: %w", err)
	}
	return nil
}

// ListMappings returns every mapping of one kind for a source guild.
func (d *Database) ListMappings(ctx context.Context, kind models.MappingKind, sourceGuildID string) ([]*models.Mapping, error) {
	query := `
		SELECT ` + mappingColumns + `
		FROM entity_mappings
		WHERE kind = ? AND source_guild_id = ?
		ORDER BY id
	`
	rows, err := d.db.QueryContext(ctx, query, kind, sourceGuildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var mappings []*models.Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate mappings: %w", err)
	}
	return mappings, nil
}

// ListManuallyDeleted returns the source ids whose mappings an operator has
// soft-deleted.
func (d *Database) ListManuallyDeleted(ctx context.Context, kind models.MappingKind, sourceGuildID string) (map[string]bool, error) {
	query := `
		SELECT source_id, name
		FROM entity_mappings
		WHERE kind = ? AND source_guild_id = ? AND manually_deleted = 1
	`
	rows, err := d.db.QueryContext(ctx, query, kind, sourceGuildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list manually deleted mappings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	deleted := make(map[string]bool)
	for rows.Next() {
		var sourceID, name string
		if err := rows.Scan(&sourceID, &name); err != nil {
			return nil, fmt.Errorf("failed to scan manually deleted row: %w", err)
		}
		deleted[sourceID] = true
		deleted[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate manually deleted rows: %w", err)
	}
	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (d *Database) queryMapping(ctx context.Context, query string, args ...interface{}) (*models.Mapping, error) {
	m, err := scanMapping(d.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func scanMapping(row rowScanner) (*models.Mapping, error) {
	m := &models.Mapping{}
	err := row.Scan(
		&m.ID,
		&m.Kind,
		&m.SourceID,
		&m.SourceGuildID,
		&m.Name,
		&m.MirrorID,
		&m.Category,
		&m.Active,
		&m.ManuallyDeleted,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan mapping: %w", err)
	}
	return m, nil
}
