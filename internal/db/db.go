package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

const (
	storeDir = ".punch"
	dbFile   = ".punch/punch.db"
)

var (
	// ErrStoreNotReady is returned for any operation on a nil, closed or
	// uninitialized store.
	ErrStoreNotReady = errors.New("store not ready")
	// ErrStorageFull is returned when the disk or database quota is
	// exhausted. The failed operation is rolled back in full.
	ErrStorageFull = errors.New("storage full")
	// ErrNotFound is returned when a keyed lookup matches nothing.
	ErrNotFound = errors.New("not found")
	// ErrPunchImmutable is returned when a caller tries to overwrite a punch
	// the server has already accepted.
	ErrPunchImmutable = errors.New("punch already synced")
	// ErrLeaseLost is returned when a queue item is no longer in syncing by
	// the time its outcome is recorded: another pass has taken it over.
	ErrLeaseLost = errors.New("queue item no longer syncing")
	// ErrPassRunning is returned by BeginSyncPass while another process
	// runs a sync pass on the same store.
	ErrPassRunning = errors.New("sync pass running in another process")
)

// DB wraps the database connection
type DB struct {
	conn    *sql.DB
	baseDir string
	closed  atomic.Bool

	// now is overridable for deterministic tests
	now func() time.Time
}

// Open opens an existing store and runs any pending migrations
func Open(baseDir string) (*DB, error) {
	dbPath := filepath.Join(baseDir, dbFile)

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: run 'punch init' first", ErrStoreNotReady)
	}

	conn, err := openConn(dbPath)
	if err != nil {
		return nil, err
	}

	db := newDB(conn, baseDir)
	if _, err := db.RunMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// Initialize creates the store if needed and brings the schema up to date
func Initialize(baseDir string) (*DB, error) {
	dbPath := filepath.Join(baseDir, dbFile)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	conn, err := openConn(dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, classify(fmt.Errorf("create schema: %w", err))
	}

	db := newDB(conn, baseDir)
	if _, err := db.RunMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

func openConn(dbPath string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL keeps readers unblocked while a sync pass writes
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Matches the write lock timeout
	if _, err := conn.Exec("PRAGMA busy_timeout=500"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	conn.Exec("PRAGMA synchronous=NORMAL")
	return conn, nil
}

func newDB(conn *sql.DB, baseDir string) *DB {
	return &DB{conn: conn, baseDir: baseDir, now: time.Now}
}

// Close closes the database. Later calls fail with ErrStoreNotReady.
func (db *DB) Close() error {
	if db == nil || db.conn == nil {
		return nil
	}
	if db.closed.Swap(true) {
		return nil
	}
	return db.conn.Close()
}

// BaseDir returns the project directory holding the store
func (db *DB) BaseDir() string {
	return db.baseDir
}

// Path returns the database file path
func (db *DB) Path() string {
	return filepath.Join(db.baseDir, dbFile)
}

// Conn exposes the raw connection for tests and diagnostics
func (db *DB) Conn() *sql.DB {
	return db.conn
}

func (db *DB) ready() error {
	if db == nil || db.conn == nil || db.closed.Load() {
		return ErrStoreNotReady
	}
	return nil
}

func (db *DB) clock() time.Time {
	if db.now == nil {
		return time.Now().UTC()
	}
	return db.now().UTC()
}

// withWriteLock runs fn while this process holds the store's write lock
func (db *DB) withWriteLock(ctx context.Context, fn func() error) error {
	l := newWriteLock(db.baseDir)
	if err := l.acquire(ctx, lockTimeout); err != nil {
		return err
	}
	defer l.release()
	return fn()
}

// withTx runs fn in a single transaction under the write lock. Any error
// rolls the whole transaction back.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := db.ready(); err != nil {
		return err
	}
	return classify(db.withWriteLock(ctx, func() error {
		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	}))
}

// query runs a read after the readiness check, mapping driver errors.
func (db *DB) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	if err := db.ready(); err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx, q, args...)
	return rows, classify(err)
}

// classify maps driver errors onto the store's sentinel errors while keeping
// the original error in the chain for diagnostics.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageFull) || errors.Is(err, ErrStoreNotReady) || errors.Is(err, ErrStoreBusy) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "database or disk is full"),
		strings.Contains(msg, "SQLITE_FULL"),
		strings.Contains(msg, "no space left on device"):
		return fmt.Errorf("%w: %v", ErrStorageFull, err)
	case errors.Is(err, sql.ErrConnDone),
		strings.Contains(msg, "database is closed"),
		strings.Contains(msg, "no such table"):
		return fmt.Errorf("%w: %v", ErrStoreNotReady, err)
	}
	return err
}

// Timestamps are stored as fixed-width UTC text so lexical order in SQL
// matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return formatTime(*t)
}

// parseTime tries the stored layout first, then common SQLite formats.
func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{
		timeLayout,
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &time.ParseError{Layout: timeLayout, Value: s}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
