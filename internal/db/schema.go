package db

// SchemaVersion is the current database schema version
const SchemaVersion = 4

const schema = `
-- Punches table
CREATE TABLE IF NOT EXISTS punches (
    id TEXT PRIMARY KEY,
    server_id TEXT NOT NULL DEFAULT '',
    user_id TEXT NOT NULL,
    type TEXT NOT NULL,
    timestamp TEXT NOT NULL,
    lat REAL,
    lon REAL,
    geofence_id TEXT NOT NULL DEFAULT '',
    notes TEXT NOT NULL DEFAULT '',
    sync_state TEXT NOT NULL DEFAULT 'unsynced',
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_punches_user_timestamp ON punches(user_id, timestamp);

-- Mutation queue drained by the sync engine
CREATE TABLE IF NOT EXISTS sync_queue (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    action TEXT NOT NULL,
    payload TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    attempts INTEGER NOT NULL DEFAULT 0,
    last_attempt_at TEXT,
    next_retry_at TEXT NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    idempotency_key TEXT NOT NULL UNIQUE,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status);
CREATE INDEX IF NOT EXISTS idx_sync_queue_entity ON sync_queue(entity_type, entity_id);

-- Cached authorization zones
CREATE TABLE IF NOT EXISTS geofence_cache (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    kind TEXT NOT NULL,
    center_lat REAL NOT NULL DEFAULT 0,
    center_lon REAL NOT NULL DEFAULT 0,
    radius_meters REAL NOT NULL DEFAULT 0,
    vertices TEXT NOT NULL DEFAULT '[]',
    active INTEGER NOT NULL DEFAULT 1,
    updated_at TEXT NOT NULL
);

-- Key/value settings
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

-- Cached reference data
CREATE TABLE IF NOT EXISTS users_cache (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    email TEXT NOT NULL DEFAULT '',
    department_id TEXT NOT NULL DEFAULT '',
    active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS departments_cache (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL
);

-- Sync history for punch log
CREATE TABLE IF NOT EXISTS sync_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    direction TEXT NOT NULL,
    action_type TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    queue_item_id INTEGER NOT NULL DEFAULT 0,
    timestamp TEXT NOT NULL
);

-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Migrations is the list of all database migrations in order
var Migrations = []Migration{
	{
		Version:     2,
		Description: "Add server_id to punches",
		SQL:         `ALTER TABLE punches ADD COLUMN server_id TEXT NOT NULL DEFAULT '';`,
		// Stores created from the full schema already carry the column
		Applied: func(q queryer) (bool, error) { return columnExists(q, "punches", "server_id") },
	},
	{
		Version:     3,
		Description: "Add reference data caches",
		SQL: `
CREATE TABLE IF NOT EXISTS users_cache (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    email TEXT NOT NULL DEFAULT '',
    department_id TEXT NOT NULL DEFAULT '',
    active INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS departments_cache (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL
);
`,
	},
	{
		Version:     4,
		Description: "Add sync history and queue entity index",
		SQL: `
CREATE TABLE IF NOT EXISTS sync_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    direction TEXT NOT NULL,
    action_type TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    queue_item_id INTEGER NOT NULL DEFAULT 0,
    timestamp TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sync_queue_entity ON sync_queue(entity_type, entity_id);
`,
	},
}
