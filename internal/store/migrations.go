package store

// migration is one compiled-in, monotonically versioned schema change.
// Migrations are never reordered and never mutated once shipped; a later
// migration that needs to widen a table adds a new entry instead of
// rewriting v1's statements.
type migration struct {
	version    int
	statements []string
}

// migrations is the ordered list applied by connect(). It is intentionally
// a literal Go slice rather than an external migrations directory: the
// embedded single-writer store owns its own schema_migrations(version PK,
// applied_at) bookkeeping rather than a third-party migration tool's
// dirty-flag schema.
var migrations = []migration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				objective TEXT NOT NULL DEFAULT '',
				state TEXT NOT NULL,
				started_at TEXT NOT NULL,
				ended_at TEXT,
				parent_session_id TEXT,
				config_snapshot TEXT,
				context_summary TEXT,
				metadata TEXT,
				operator TEXT,
				hostname TEXT,
				k6s_version TEXT,
				agent_runtime_version TEXT,
				git_branch TEXT,
				git_sha TEXT,
				git_dirty INTEGER NOT NULL DEFAULT 0,
				trace_id TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS agents (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL REFERENCES sessions(id),
				name TEXT NOT NULL,
				role TEXT NOT NULL,
				specialization TEXT,
				state TEXT NOT NULL,
				spawned_at TEXT NOT NULL,
				boundary_config TEXT,
				metadata TEXT,
				external_session_id TEXT,
				tool_call_count INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_agents_session_id ON agents(session_id)`,
			`CREATE TABLE IF NOT EXISTS audit_events (
				id TEXT PRIMARY KEY,
				sequence INTEGER NOT NULL,
				session_id TEXT NOT NULL REFERENCES sessions(id),
				agent_id TEXT REFERENCES agents(id),
				timestamp TEXT NOT NULL,
				event_type TEXT NOT NULL,
				action TEXT NOT NULL,
				details TEXT,
				files_affected TEXT,
				gate_id TEXT,
				hmac TEXT,
				severity TEXT NOT NULL DEFAULT 'info'
			)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_events_session_sequence ON audit_events(session_id, sequence)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_events_event_type ON audit_events(event_type)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_events_agent_id ON audit_events(agent_id)`,
			`CREATE TABLE IF NOT EXISTS context_store (
				key TEXT NOT NULL,
				session_id TEXT NOT NULL REFERENCES sessions(id),
				agent_id TEXT,
				value TEXT NOT NULL DEFAULT '',
				updated_at TEXT NOT NULL,
				PRIMARY KEY (key, session_id)
			)`,
			`CREATE TABLE IF NOT EXISTS file_locks (
				path TEXT PRIMARY KEY,
				session_id TEXT NOT NULL,
				agent_id TEXT NOT NULL,
				acquired_at TEXT NOT NULL,
				expires_at TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS boundary_violations (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL,
				agent_id TEXT,
				timestamp TEXT NOT NULL,
				file_path TEXT NOT NULL,
				violation_type TEXT NOT NULL,
				enforcement_action TEXT NOT NULL,
				details TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_boundary_violations_session_id ON boundary_violations(session_id)`,
			`CREATE TABLE IF NOT EXISTS schema_migrations (
				version INTEGER PRIMARY KEY,
				applied_at TEXT NOT NULL
			)`,
		},
	},
}
