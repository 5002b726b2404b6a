package database

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations must be numbered sequentially starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	code  TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	tags  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS bookings (
	id         TEXT PRIMARY KEY,
	task_code  TEXT NOT NULL REFERENCES tasks(code) ON UPDATE CASCADE ON DELETE CASCADE,
	position   INTEGER NOT NULL,
	start      TEXT NOT NULL,
	stop       TEXT NOT NULL DEFAULT '',
	worklog_id TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_bookings_task ON bookings(task_code, position);

CREATE TABLE IF NOT EXISTS state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
