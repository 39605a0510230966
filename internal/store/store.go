// Package store owns the single-writer embedded database: connection and
// pragma setup, the compiled-in migration runner, identifier allow-listing
// for every dynamic SQL fragment, and typed row CRUD + transaction
// primitives. Every other package in this module reaches the database only
// through a *Store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store owns the database handle. It holds no domain state of its own;
// every subsystem is parameterized by a *Store reference.
type Store struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

// Open creates the containing directory (mode 0700) if needed and connects,
// applying pragmas and any unapplied migrations. Each call returns a new
// Store; connecting a Store that is already connected is a no-op.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

// connect is also called lazily by every exported method after Close, so a
// Store can be reused across a reconnect.
func (s *Store) connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked()
}

func (s *Store) connectLocked() error {
	if s.db != nil {
		return nil
	}
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("store: create db directory %s: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", s.path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("store: open %s: %w", s.path, err)
	}
	// modernc.org/sqlite serializes all access through a single connection
	// per *sql.DB object when MaxOpenConns is 1; the store is single-writer
	// by design (spec.md §5), so this mirrors that contract rather than
	// relying on SQLite's own lock retry alone.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return fmt.Errorf("store: set pragma %q: %w", p, err)
		}
	}

	if err := os.Chmod(s.path, 0o600); err != nil && !os.IsNotExist(err) {
		db.Close()
		return fmt.Errorf("store: chmod db file: %w", err)
	}

	s.db = db
	if err := runMigrations(db); err != nil {
		db.Close()
		s.db = nil
		return err
	}
	return nil
}

func runMigrations(db *sql.DB) error {
	// schema_migrations itself may not exist yet on a brand new file; create
	// it outside the generic migration loop so max(version) can be read
	// safely even before migration 1 runs.
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("store: bootstrap schema_migrations: %w", err)
	}

	var maxVersion int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	if err := row.Scan(&maxVersion); err != nil {
		return fmt.Errorf("store: read schema_migrations: %w", err)
	}

	sorted := make([]migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].version < sorted[j].version })

	for _, m := range sorted {
		if m.version <= maxVersion {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("store: begin migration %d: %w", m.version, err)
		}
		for _, stmt := range m.statements {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("store: apply migration %d: %w", m.version, err)
			}
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			m.version, nowISO(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: commit migration %d: %w", m.version, err)
		}
	}
	return nil
}

// Close releases the underlying database handle. The next operation
// lazily reconnects.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) handle() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connectLocked(); err != nil {
		return nil, err
	}
	return s.db, nil
}

func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting the CRUD helpers
// below run either standalone or inside an explicit transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Insert inserts a new row and returns its rowid (not used as a public
// identifier — every model's own ULID primary key is what callers use).
func (s *Store) Insert(ctx context.Context, table string, cols map[string]any) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	return insert(ctx, db, table, cols, false)
}

// InsertOrReplace is Insert with `OR REPLACE` semantics (used for upserts
// keyed on a declared primary key, e.g. context_store).
func (s *Store) InsertOrReplace(ctx context.Context, table string, cols map[string]any) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	return insert(ctx, db, table, cols, true)
}

func insert(ctx context.Context, db execer, table string, cols map[string]any, replace bool) (int64, error) {
	if err := ValidateColumns(table, cols); err != nil {
		return 0, err
	}
	names := sortedKeys(cols)
	placeholders := make([]string, len(names))
	args := make([]any, len(names))
	for i, n := range names {
		placeholders[i] = "?"
		args[i] = cols[n]
	}
	verb := "INSERT INTO"
	if replace {
		verb = "INSERT OR REPLACE INTO"
	}
	query := fmt.Sprintf("%s %s (%s) VALUES (%s)", verb, table, strings.Join(names, ", "), strings.Join(placeholders, ", "))
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("store: insert into %s: %w", table, err)
	}
	return res.LastInsertId()
}

// Update sets the given columns on rows matching where/params and returns
// the number of rows changed. where is a caller-supplied SQL fragment using
// `?` placeholders — callers are trusted to build it from hardcoded
// comparisons on already-validated columns, never user input.
func (s *Store) Update(ctx context.Context, table string, set map[string]any, where string, params ...any) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	return update(ctx, db, table, set, where, params...)
}

func update(ctx context.Context, db execer, table string, set map[string]any, where string, params ...any) (int64, error) {
	if err := ValidateColumns(table, set); err != nil {
		return 0, err
	}
	names := sortedKeys(set)
	assigns := make([]string, len(names))
	args := make([]any, 0, len(names)+len(params))
	for i, n := range names {
		assigns[i] = n + " = ?"
		args = append(args, set[n])
	}
	args = append(args, params...)
	query := fmt.Sprintf("UPDATE %s SET %s", table, strings.Join(assigns, ", "))
	if where != "" {
		query += " WHERE " + where
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("store: update %s: %w", table, err)
	}
	return res.RowsAffected()
}

// Delete removes rows matching where/params and returns the count removed.
func (s *Store) Delete(ctx context.Context, table, where string, params ...any) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	return deleteRows(ctx, db, table, where, params...)
}

func deleteRows(ctx context.Context, db execer, table, where string, params ...any) (int64, error) {
	if err := ValidateTable(table); err != nil {
		return 0, err
	}
	query := fmt.Sprintf("DELETE FROM %s", table)
	if where != "" {
		query += " WHERE " + where
	}
	res, err := db.ExecContext(ctx, query, params...)
	if err != nil {
		return 0, fmt.Errorf("store: delete from %s: %w", table, err)
	}
	return res.RowsAffected()
}

// FetchOne runs query/params and returns the first row as a column->value
// map, or nil if there were no rows.
func (s *Store) FetchOne(ctx context.Context, query string, params ...any) (map[string]any, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	return fetchOne(ctx, db, query, params...)
}

func fetchOne(ctx context.Context, db execer, query string, params ...any) (map[string]any, error) {
	rows, err := db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("store: fetch_one: %w", err)
	}
	defer rows.Close()
	results, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

// FetchAll runs query/params and returns every row as a column->value map.
func (s *Store) FetchAll(ctx context.Context, query string, params ...any) ([]map[string]any, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	return fetchAll(ctx, db, query, params...)
}

func fetchAll(ctx context.Context, db execer, query string, params ...any) ([]map[string]any, error) {
	rows, err := db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("store: fetch_all: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("store: scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = normalizeScanValue(vals[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalizeScanValue converts driver-returned []byte (TEXT columns come
// back as []byte from modernc.org/sqlite) into string, so every consumer
// of a fetched row sees the same Go types ToRow would have produced.
func normalizeScanValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Tx is the handle passed into a Transaction callback. It exposes the same
// CRUD surface as *Store, scoped to the open transaction.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Insert(ctx context.Context, table string, cols map[string]any) (int64, error) {
	return insert(ctx, t.tx, table, cols, false)
}

func (t *Tx) InsertOrReplace(ctx context.Context, table string, cols map[string]any) (int64, error) {
	return insert(ctx, t.tx, table, cols, true)
}

func (t *Tx) Update(ctx context.Context, table string, set map[string]any, where string, params ...any) (int64, error) {
	return update(ctx, t.tx, table, set, where, params...)
}

func (t *Tx) Delete(ctx context.Context, table, where string, params ...any) (int64, error) {
	return deleteRows(ctx, t.tx, table, where, params...)
}

func (t *Tx) FetchOne(ctx context.Context, query string, params ...any) (map[string]any, error) {
	return fetchOne(ctx, t.tx, query, params...)
}

func (t *Tx) FetchAll(ctx context.Context, query string, params ...any) ([]map[string]any, error) {
	return fetchAll(ctx, t.tx, query, params...)
}

// Exec runs a raw statement inside the transaction, for the rare operation
// (e.g. an atomic `UPDATE ... SET x = x + 1`) that typed Update can't
// express.
func (t *Tx) Exec(ctx context.Context, query string, params ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, params...)
}

// txKey is used to detect a Transaction call nested inside another, so
// nested calls collapse onto the outer transaction instead of deadlocking
// against the single-writer connection.
type txKey struct{}

// Transaction runs fn inside a database transaction, committing on success
// and rolling back if fn returns an error. A call nested inside an
// already-open Transaction reuses the outer one instead of opening a new
// one (the store's single connection would otherwise deadlock against
// itself).
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	if outer, ok := ctx.Value(txKey{}).(*Tx); ok {
		return fn(ctx, outer)
	}

	db, err := s.handle()
	if err != nil {
		return err
	}
	sqlTx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	tx := &Tx{tx: sqlTx}
	innerCtx := context.WithValue(ctx, txKey{}, tx)

	if err := fn(innerCtx, tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	return nil
}
