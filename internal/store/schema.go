package store

import "regexp"

// identifierPattern is the compiled-in allow-list pattern every dynamically
// substituted table or column name must match before it is allowed anywhere
// near SQL construction.
var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// allowedColumns is the compiled-in table/column allow-list. It is extended
// in-place by each migration that adds a column (never altered for an
// existing column, since migration versions are monotone and never
// re-ordered).
var allowedColumns = map[string]map[string]bool{
	"sessions": set(
		"id", "objective", "state", "started_at", "ended_at", "parent_session_id",
		"config_snapshot", "context_summary", "metadata", "operator", "hostname",
		"k6s_version", "agent_runtime_version", "git_branch", "git_sha", "git_dirty",
		"trace_id",
	),
	"agents": set(
		"id", "session_id", "name", "role", "specialization", "state", "spawned_at",
		"boundary_config", "metadata", "external_session_id", "tool_call_count",
	),
	"audit_events": set(
		"id", "sequence", "session_id", "agent_id", "timestamp", "event_type",
		"action", "details", "files_affected", "gate_id", "hmac", "severity",
	),
	"context_store": set(
		"key", "session_id", "agent_id", "value", "updated_at",
	),
	"file_locks": set(
		"path", "session_id", "agent_id", "acquired_at", "expires_at",
	),
	"boundary_violations": set(
		"id", "session_id", "agent_id", "timestamp", "file_path", "violation_type",
		"enforcement_action", "details",
	),
	"schema_migrations": set(
		"version", "applied_at",
	),
}

func set(cols ...string) map[string]bool {
	m := make(map[string]bool, len(cols))
	for _, c := range cols {
		m[c] = true
	}
	return m
}

// ValidateIdentifier rejects any table/column name not matching the
// compiled-in pattern, regardless of whether it appears in allowedColumns.
func ValidateIdentifier(s string) error {
	if !identifierPattern.MatchString(s) {
		return ErrUnsafeIdentifier
	}
	return nil
}

// ValidateTable rejects unknown tables.
func ValidateTable(table string) error {
	if err := ValidateIdentifier(table); err != nil {
		return err
	}
	if _, ok := allowedColumns[table]; !ok {
		return ErrUnknownTable
	}
	return nil
}

// ValidateColumn rejects an unknown column for a known table. Callers must
// validate the table first.
func ValidateColumn(table, column string) error {
	if err := ValidateIdentifier(column); err != nil {
		return err
	}
	cols, ok := allowedColumns[table]
	if !ok {
		return ErrUnknownTable
	}
	if !cols[column] {
		return ErrUnknownColumn
	}
	return nil
}

// ValidateColumns validates every key of cols against table.
func ValidateColumns(table string, cols map[string]any) error {
	if err := ValidateTable(table); err != nil {
		return err
	}
	for c := range cols {
		if err := ValidateColumn(table, c); err != nil {
			return err
		}
	}
	return nil
}
