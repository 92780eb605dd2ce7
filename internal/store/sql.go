package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"   // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver
)

// DatabaseFile is the SQLite file name created inside the database directory.
const DatabaseFile = "crawlkit.db"

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// SQL is a Store backed by a relational database through sqlx.
// Queries are written with '?' placeholders and rebound for the driver.
type SQL struct {
	db   *sqlx.DB
	path string
}

var _ Store = (*SQL)(nil)

// Options configures OpenSQLite.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// OpenSQLite opens or creates the SQLite database inside dbDir.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func OpenSQLite(dbDir string, opts Options) (*SQL, error) {
	dbPath := filepath.Join(dbDir, DatabaseFile)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else if err := os.MkdirAll(dbDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// mode=rw refuses to create a missing file, mode=rwc allows it.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	s := &SQL{db: db, path: dbPath}
	if err := s.createTables(context.Background(), sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// OpenPostgres connects to PostgreSQL with dsn and creates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*SQL, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxLifetime(time.Hour)

	s := NewPostgres(db)
	if err := s.createTables(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// NewPostgres wraps an existing PostgreSQL connection without touching the
// schema.
func NewPostgres(db *sqlx.DB) *SQL {
	return &SQL{db: db}
}

// Path returns the SQLite file path, or "" for other drivers.
func (s *SQL) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQL) Close() error {
	return s.db.Close()
}

func (s *SQL) createTables(ctx context.Context, schema string) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// q rebinds a '?' query for the connected driver.
func (s *SQL) q(query string) string {
	return s.db.Rebind(query)
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS queue_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	url TEXT NOT NULL,
	parent_url TEXT NOT NULL DEFAULT '',
	depth INTEGER NOT NULL DEFAULT 0,
	method TEXT NOT NULL DEFAULT 'GET',
	weight REAL NOT NULL DEFAULT 1,
	metadata TEXT NOT NULL DEFAULT '',
	create_time INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_queue_session ON queue_entries(session_id, id);
CREATE INDEX IF NOT EXISTS idx_queue_url ON queue_entries(session_id, url);

CREATE TABLE IF NOT EXISTS visited_urls (
	session_id TEXT NOT NULL,
	url TEXT NOT NULL,
	create_time INTEGER NOT NULL,
	PRIMARY KEY (session_id, url)
);

CREATE TABLE IF NOT EXISTS access_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	url TEXT NOT NULL,
	parent_url TEXT NOT NULL DEFAULT '',
	depth INTEGER NOT NULL DEFAULT 0,
	method TEXT NOT NULL DEFAULT 'GET',
	rule_id TEXT NOT NULL DEFAULT '',
	http_status INTEGER NOT NULL DEFAULT 0,
	mime_type TEXT NOT NULL DEFAULT '',
	content_length INTEGER NOT NULL DEFAULT 0,
	execution_time INTEGER NOT NULL DEFAULT 0,
	last_modified INTEGER NOT NULL DEFAULT 0,
	create_time INTEGER NOT NULL,
	status INTEGER NOT NULL DEFAULT 0,
	error_kind TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	data BLOB,
	encoding TEXT NOT NULL DEFAULT '',
	attributes TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_results_session ON access_results(session_id, create_time, id);
CREATE INDEX IF NOT EXISTS idx_results_url ON access_results(session_id, url);

CREATE TABLE IF NOT EXISTS filter_patterns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	direction INTEGER NOT NULL,
	regex TEXT NOT NULL,
	create_time INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_patterns_session ON filter_patterns(session_id);

CREATE TABLE IF NOT EXISTS crawl_sessions (
	session_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	max_access_count INTEGER NOT NULL DEFAULT 0,
	max_depth INTEGER NOT NULL DEFAULT -1,
	num_of_threads INTEGER NOT NULL DEFAULT 1,
	max_thread_check_count INTEGER NOT NULL DEFAULT 0,
	access_count INTEGER NOT NULL DEFAULT 0,
	background BOOLEAN NOT NULL DEFAULT FALSE,
	start_time INTEGER NOT NULL DEFAULT 0,
	end_time INTEGER NOT NULL DEFAULT 0
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS queue_entries (
	id BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	url TEXT NOT NULL,
	parent_url TEXT NOT NULL DEFAULT '',
	depth INTEGER NOT NULL DEFAULT 0,
	method TEXT NOT NULL DEFAULT 'GET',
	weight DOUBLE PRECISION NOT NULL DEFAULT 1,
	metadata TEXT NOT NULL DEFAULT '',
	create_time BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_queue_session ON queue_entries(session_id, id);
CREATE INDEX IF NOT EXISTS idx_queue_url ON queue_entries(session_id, url);

CREATE TABLE IF NOT EXISTS visited_urls (
	session_id TEXT NOT NULL,
	url TEXT NOT NULL,
	create_time BIGINT NOT NULL,
	PRIMARY KEY (session_id, url)
);

CREATE TABLE IF NOT EXISTS access_results (
	id BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	url TEXT NOT NULL,
	parent_url TEXT NOT NULL DEFAULT '',
	depth INTEGER NOT NULL DEFAULT 0,
	method TEXT NOT NULL DEFAULT 'GET',
	rule_id TEXT NOT NULL DEFAULT '',
	http_status INTEGER NOT NULL DEFAULT 0,
	mime_type TEXT NOT NULL DEFAULT '',
	content_length BIGINT NOT NULL DEFAULT 0,
	execution_time BIGINT NOT NULL DEFAULT 0,
	last_modified BIGINT NOT NULL DEFAULT 0,
	create_time BIGINT NOT NULL,
	status INTEGER NOT NULL DEFAULT 0,
	error_kind TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	data BYTEA,
	encoding TEXT NOT NULL DEFAULT '',
	attributes TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_results_session ON access_results(session_id, create_time, id);
CREATE INDEX IF NOT EXISTS idx_results_url ON access_results(session_id, url);

CREATE TABLE IF NOT EXISTS filter_patterns (
	id BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	direction INTEGER NOT NULL,
	regex TEXT NOT NULL,
	create_time BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_patterns_session ON filter_patterns(session_id);

CREATE TABLE IF NOT EXISTS crawl_sessions (
	session_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	max_access_count BIGINT NOT NULL DEFAULT 0,
	max_depth INTEGER NOT NULL DEFAULT -1,
	num_of_threads INTEGER NOT NULL DEFAULT 1,
	max_thread_check_count INTEGER NOT NULL DEFAULT 0,
	access_count BIGINT NOT NULL DEFAULT 0,
	background BOOLEAN NOT NULL DEFAULT FALSE,
	start_time BIGINT NOT NULL DEFAULT 0,
	end_time BIGINT NOT NULL DEFAULT 0
);
`

// Timestamps are stored as unix nanoseconds so both dialects sort and
// compare them the same way. The zero time is stored as 0.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
