package migrations

// initialSchema creates every table the synchronization engine relies on.
// entity_mappings holds channel and role correspondences, dispatch_history is
// the bounded index used for reply resolution, access_failures backs the
// per-channel blacklist state machine.
const initialSchema = `
CREATE TABLE IF NOT EXISTS entity_mappings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    kind TEXT NOT NULL,
    source_id TEXT NOT NULL,
    source_guild_id TEXT NOT NULL,
    name TEXT NOT NULL,
    mirror_id TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    active INTEGER NOT NULL DEFAULT 1,
    manually_deleted INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (kind, source_id, source_guild_id)
);

CREATE INDEX IF NOT EXISTS idx_entity_mappings_name
    ON entity_mappings (kind, source_guild_id, name);

CREATE TABLE IF NOT EXISTS dispatch_history (
    source_message_id TEXT PRIMARY KEY,
    mirror_message_id TEXT NOT NULL,
    mirror_channel_id TEXT NOT NULL,
    recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_dispatch_history_recorded_at
    ON dispatch_history (recorded_at);

CREATE TABLE IF NOT EXISTS access_failures (
    source_channel_id TEXT PRIMARY KEY,
    failed_attempts INTEGER NOT NULL DEFAULT 0,
    last_failed_at TIMESTAMP,
    blacklisted_until TIMESTAMP
);
`

// GetInitialSchema returns the initial database schema.
func GetInitialSchema() string {
	return initialSchema
}
