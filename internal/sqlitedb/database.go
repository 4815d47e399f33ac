// Package sqlitedb is the thin wrapper around database/sql + SQLCipher
// that the revision engine and schema manager build on: prepared
// statement caching, busy-retry, and schema introspection over a single
// serialized connection.
package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	_ "github.com/mutecomm/go-sqlcipher/v4"
)

// DefaultMaxBusyRetryInterval is how long the busy handler keeps retrying
// a BUSY/LOCKED step before surfacing it as a Sqlite error.
const DefaultMaxBusyRetryInterval = 2 * time.Second

const busyRetryDelay = 50 * time.Millisecond

const stmtCacheSize = 256

var instanceSeq int64

// cachedStmt pairs a prepared statement with the in-use flag the wrapper
// uses to let the same SQL text be reused across nested executions.
type cachedStmt struct {
	mu     sync.Mutex
	stmt   *sql.Stmt
	inUse  bool
}

// Database is a single-threaded handle to a SQLite (optionally SQLCipher
// encrypted) file. All exported methods assume the caller serializes
// access: per the concurrency model, only the DB lane touches this type.
type Database struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	open   bool
	token  int64 // small token distinguishing this handle in busy-handler logs
	logger zerolog.Logger

	maxBusyRetryInterval time.Duration

	stmts *lru.Cache[string, *cachedStmt]

	lastInsertID int64
	lastChanges  int64
}

// Option configures Open.
type Option func(*Database)

// WithMaxBusyRetryInterval overrides the busy-retry time budget.
func WithMaxBusyRetryInterval(d time.Duration) Option {
	return func(db *Database) { db.maxBusyRetryInterval = d }
}

// WithLogger overrides the zerolog logger used for busy-retry and
// lifecycle diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(db *Database) { db.logger = l }
}

// Open opens path, creating its parent directory if needed. If passphrase
// is non-empty the file is opened (or created) as a SQLCipher-encrypted
// database; an empty passphrase opens a plain SQLite file. Every call
// returns a new, independent handle.
func Open(path string, passphrase string, opts ...Option) (*Database, error) {
	d := &Database{
		path:                 path,
		maxBusyRetryInterval: DefaultMaxBusyRetryInterval,
		logger:               log.Logger,
		token:                atomic.AddInt64(&instanceSeq, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.openLocked(passphrase); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Database) openLocked(passphrase string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return nil
	}
	if dir := filepath.Dir(d.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return sqliteError("open: mkdir", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL", d.path)
	if passphrase != "" {
		dsn = fmt.Sprintf("file:%s?_pragma_key=%s&_journal_mode=WAL&_synchronous=NORMAL", d.path, passphrase)
	}
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return sqliteError("open", err)
	}
	// The revision engine issues raw BEGIN/COMMIT/SAVEPOINT statements on
	// the assumption of one physical connection; database/sql's pool must
	// not silently hand out a second one mid-transaction.
	conn.SetMaxOpenConns(1)

	if passphrase != "" {
		var version string
		if err := conn.QueryRow("SELECT sqlite_version()").Scan(&version); err != nil {
			conn.Close()
			return sqliteError("open: wrong passphrase or corrupted database", err)
		}
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return sqliteError("open: ping", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return sqliteError("open: enable foreign_keys", err)
	}

	cache, _ := lru.NewWithEvict[string, *cachedStmt](stmtCacheSize, func(_ string, v *cachedStmt) {
		v.mu.Lock()
		defer v.mu.Unlock()
		if v.stmt != nil {
			v.stmt.Close()
			v.stmt = nil
		}
	})

	d.db = conn
	d.stmts = cache
	d.open = true
	return nil
}

// Close closes the handle. Any cached statements (including ones backing
// open row iterators) are finalized. Idempotent.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil
	}
	d.flushStmtCacheLocked()
	err := d.db.Close()
	d.open = false
	if err != nil {
		return sqliteError("close", err)
	}
	return nil
}

// FlushStatementCache evicts and finalizes every cached prepared statement
// without closing the handle.
func (d *Database) FlushStatementCache() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushStmtCacheLocked()
}

func (d *Database) flushStmtCacheLocked() {
	if d.stmts == nil {
		return
	}
	for _, key := range d.stmts.Keys() {
		d.stmts.Remove(key) // triggers the eviction callback, closing the stmt
	}
}

// Path returns the underlying file path.
func (d *Database) Path() string { return d.path }

// IsOpen reports whether the handle is currently open.
func (d *Database) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// namedArgs converts a map of bind values into database/sql named params.
func namedArgs(args map[string]any) []any {
	out := make([]any, 0, len(args))
	for k, v := range args {
		out = append(out, sql.Named(k, v))
	}
	return out
}

// getOrPrepare returns the cached statement for sqlText, preparing it if
// absent. The caller must mark it in-use and release it when done.
func (d *Database) getOrPrepare(ctx context.Context, sqlText string) (*cachedStmt, error) {
	if cs, ok := d.stmts.Get(sqlText); ok {
		return cs, nil
	}
	stmt, err := d.db.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, sqliteError("prepare", err)
	}
	cs := &cachedStmt{stmt: stmt}
	d.stmts.Add(sqlText, cs)
	return cs, nil
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy") || strings.Contains(msg, "sqlite_locked")
}

// withBusyRetry runs fn, retrying on BUSY/LOCKED with 50ms sleeps until
// maxBusyRetryInterval elapses, then surfaces the last error.
func (d *Database) withBusyRetry(ctx context.Context, op string, fn func() error) error {
	bo := backoff.WithMaxElapsedTime(backoff.NewConstantBackOff(busyRetryDelay), d.maxBusyRetryInterval)
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if isBusyErr(err) {
			d.logger.Debug().Int64("token", d.token).Str("op", op).Int("attempt", attempt).Msg("sqlitedb: busy, retrying")
			return err // retryable
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))
}

// ExecuteUpdate runs a non-row-returning statement with named bind args.
// It is a programming error for the statement to produce rows; use
// ExecuteQuery for that.
func (d *Database) ExecuteUpdate(ctx context.Context, sqlText string, args map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return closedError("execute_update")
	}
	cs, err := d.getOrPrepare(ctx, sqlText)
	if err != nil {
		return err
	}
	cs.mu.Lock()
	if cs.inUse {
		cs.mu.Unlock()
		return inUseError("execute_update")
	}
	cs.inUse = true
	cs.mu.Unlock()
	defer func() {
		cs.mu.Lock()
		cs.inUse = false
		cs.mu.Unlock()
	}()

	var res sql.Result
	execErr := d.withBusyRetry(ctx, sqlText, func() error {
		var innerErr error
		res, innerErr = cs.stmt.ExecContext(ctx, namedArgs(args)...)
		return innerErr
	})
	if execErr != nil {
		if isInvalidQueryCount(execErr) {
			return invalidQueryCountError("execute_update", expectedParamCount(sqlText), len(args))
		}
		return sqliteError("execute_update", execErr)
	}
	if id, err := res.LastInsertId(); err == nil {
		d.lastInsertID = id
	}
	if n, err := res.RowsAffected(); err == nil {
		d.lastChanges = n
	}
	return nil
}

func isInvalidQueryCount(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "not enough args") ||
		strings.Contains(strings.ToLower(err.Error()), "too many args")
}

func expectedParamCount(sqlText string) int {
	return strings.Count(sqlText, ":")
}

// Rows iterates the results of ExecuteQuery. The iterator owns the
// prepared statement until Close, at which point it is released back to
// the cache rather than finalized.
type Rows struct {
	rows *sql.Rows
	cs   *cachedStmt
	db   *Database
	done bool
}

// Next advances to the next row.
func (r *Rows) Next() bool {
	if r.rows.Next() {
		return true
	}
	r.finish()
	return false
}

// Scan copies the current row's columns into dest.
func (r *Rows) Scan(dest ...any) error {
	return r.rows.Scan(dest...)
}

// Columns returns the column names of the result set.
func (r *Rows) Columns() ([]string, error) {
	return r.rows.Columns()
}

// Err returns any error encountered during iteration.
func (r *Rows) Err() error { return r.rows.Err() }

// Close releases the iterator's statement back to the cache early (e.g.
// on an early break out of a loop).
func (r *Rows) Close() error {
	r.finish()
	return r.rows.Close()
}

func (r *Rows) finish() {
	if r.done {
		return
	}
	r.done = true
	r.cs.mu.Lock()
	r.cs.inUse = false
	r.cs.mu.Unlock()
}

// ExecuteQuery runs a row-returning statement with named bind args.
func (d *Database) ExecuteQuery(ctx context.Context, sqlText string, args map[string]any) (*Rows, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil, closedError("execute_query")
	}
	cs, err := d.getOrPrepare(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	cs.mu.Lock()
	if cs.inUse {
		cs.mu.Unlock()
		return nil, inUseError("execute_query")
	}
	cs.inUse = true
	cs.mu.Unlock()

	var rows *sql.Rows
	execErr := d.withBusyRetry(ctx, sqlText, func() error {
		var innerErr error
		rows, innerErr = cs.stmt.QueryContext(ctx, namedArgs(args)...)
		return innerErr
	})
	if execErr != nil {
		cs.mu.Lock()
		cs.inUse = false
		cs.mu.Unlock()
		return nil, sqliteError("execute_query", execErr)
	}
	return &Rows{rows: rows, cs: cs, db: d}, nil
}

// LastInsertRowID returns the rowid assigned by the most recent
// ExecuteUpdate on this handle.
func (d *Database) LastInsertRowID() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastInsertID
}

// Changes returns the row count affected by the most recent ExecuteUpdate.
func (d *Database) Changes() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastChanges
}

// IntegrityCheck runs PRAGMA integrity_check and reports ok iff the
// single result row equals "ok".
func (d *Database) IntegrityCheck(ctx context.Context) (bool, error) {
	rows, err := d.ExecuteQuery(ctx, "PRAGMA integrity_check", nil)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return false, nil
	}
	var result string
	if err := rows.Scan(&result); err != nil {
		return false, sqliteError("integrity_check: scan", err)
	}
	return result == "ok", nil
}

// TableExists reports whether a table with the given name exists.
func (d *Database) TableExists(ctx context.Context, name string) (bool, error) {
	return d.existsIn(ctx, "table", name)
}

// IndexExists reports whether an index with the given name exists.
func (d *Database) IndexExists(ctx context.Context, name string) (bool, error) {
	return d.existsIn(ctx, "index", name)
}

func (d *Database) existsIn(ctx context.Context, kind, name string) (bool, error) {
	rows, err := d.ExecuteQuery(ctx, "SELECT name FROM sqlite_master WHERE type = :type AND name = :name",
		map[string]any{"type": kind, "name": name})
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

// ColumnExists reports whether table has a column named name, via
// PRAGMA table_info.
func (d *Database) ColumnExists(ctx context.Context, table, name string) (bool, error) {
	rows, err := d.ExecuteQuery(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table), nil)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var colName, colType string
		var notNull int
		var dflt any
		var pk int
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
			return false, sqliteError("column_exists: scan", err)
		}
		if colName == name {
			return true, nil
		}
	}
	return false, rows.Err()
}

// --- Transaction helpers ---
// These are thin wrappers over ExecuteUpdate: the revision engine issues
// raw BEGIN/COMMIT/SAVEPOINT statements on the single connection rather
// than using database/sql's *sql.Tx, since a transaction here spans many
// independently-prepared statements interleaved with re-selects.

func (d *Database) BeginExclusive(ctx context.Context) error {
	return d.ExecuteUpdate(ctx, "BEGIN EXCLUSIVE TRANSACTION", nil)
}

func (d *Database) BeginDeferred(ctx context.Context) error {
	return d.ExecuteUpdate(ctx, "BEGIN DEFERRED TRANSACTION", nil)
}

func (d *Database) Commit(ctx context.Context) error {
	return d.ExecuteUpdate(ctx, "COMMIT TRANSACTION", nil)
}

func (d *Database) Rollback(ctx context.Context) error {
	return d.ExecuteUpdate(ctx, "ROLLBACK TRANSACTION", nil)
}

// escapeSavepointName doubles embedded single quotes.
func escapeSavepointName(name string) string {
	return strings.ReplaceAll(name, "'", "''")
}

func (d *Database) Savepoint(ctx context.Context, name string) error {
	return d.ExecuteUpdate(ctx, fmt.Sprintf("SAVEPOINT '%s'", escapeSavepointName(name)), nil)
}

func (d *Database) ReleaseSavepoint(ctx context.Context, name string) error {
	return d.ExecuteUpdate(ctx, fmt.Sprintf("RELEASE SAVEPOINT '%s'", escapeSavepointName(name)), nil)
}

func (d *Database) RollbackToSavepoint(ctx context.Context, name string) error {
	return d.ExecuteUpdate(ctx, fmt.Sprintf("ROLLBACK TO SAVEPOINT '%s'", escapeSavepointName(name)), nil)
}

// Vacuum runs VACUUM outside of any transaction, per SQLite's requirement.
func (d *Database) Vacuum(ctx context.Context) error {
	return d.ExecuteUpdate(ctx, "VACUUM", nil)
}

// ReadAll drains rows into a slice of scanned records using scan, closing
// the iterator when done or on error.
func ReadAll[T any](rows *Rows, scan func(*Rows) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

