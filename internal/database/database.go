package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned by Get for keys that were never stored or were deleted.
var ErrNotFound = errors.New("key not found")

// Database is a persistent key-value store backed by SQLite. It is safe for
// concurrent use because the underlying *sql.DB is concurrency-safe.
type Database struct {
	conn   *sql.DB
	logger *logrus.Logger

	// Prepared statements for better performance
	getStmt    *sql.Stmt
	putStmt    *sql.Stmt
	deleteStmt *sql.Stmt
	keysStmt   *sql.Stmt
}

// NewDatabase opens (or creates) a SQLite database at the provided path and
// ensures the key-value table exists. It also applies lightweight
// performance-oriented pragmas (WAL, cache sizing). Caller should Close() it
// when finished.
func NewDatabase(dbPath string) (*Database, error) {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	return NewDatabaseWithLogger(dbPath, logger)
}

// NewDatabaseWithLogger is NewDatabase with the caller's logger.
func NewDatabaseWithLogger(dbPath string, logger *logrus.Logger) (*Database, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?cache=shared&mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool - adjusted for SQLite
	conn.SetMaxOpenConns(5) // SQLite works better with fewer connections
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(15 * time.Minute)

	// Enable WAL mode for better concurrency
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=2000;",
		"PRAGMA temp_store=memory;",
		"PRAGMA auto_vacuum=INCREMENTAL;", // Better space management
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			logger.WithError(err).WithField("pragma", pragma).Warn("Failed to set pragma")
		}
	}

	db := &Database{
		conn:   conn,
		logger: logger,
	}

	if err := db.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if err := db.prepareStatements(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	logger.WithField("db_path", dbPath).Info("Database initialized successfully")
	return db, nil
}

// createTables creates the key-value table if it does not already exist.
func (db *Database) createTables() error {
	kvTable := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`

	if _, err := db.conn.Exec(kvTable); err != nil {
		return fmt.Errorf("failed to create kv table: %w", err)
	}
	return nil
}

func (db *Database) prepareStatements() error {
	var err error

	db.getStmt, err = db.conn.Prepare(`SELECT value FROM kv WHERE key = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare get statement: %w", err)
	}

	db.putStmt, err = db.conn.Prepare(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare put statement: %w", err)
	}

	db.deleteStmt, err = db.conn.Prepare(`DELETE FROM kv WHERE key = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	db.keysStmt, err = db.conn.Prepare(`SELECT key FROM kv ORDER BY key`)
	if err != nil {
		return fmt.Errorf("failed to prepare keys statement: %w", err)
	}

	return nil
}

// Get returns the value stored under key, or ErrNotFound.
func (db *Database) Get(key string) ([]byte, error) {
	var value []byte
	err := db.getStmt.QueryRow(key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		db.logger.WithError(err).WithField("key", key).Error("Failed to get value")
		return nil, err
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

// Put stores value under key. A nil value deletes the key.
func (db *Database) Put(key string, value []byte) error {
	if value == nil {
		if _, err := db.deleteStmt.Exec(key); err != nil {
			db.logger.WithError(err).WithField("key", key).Error("Failed to delete value")
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
		return nil
	}

	if _, err := db.putStmt.Exec(key, value); err != nil {
		db.logger.WithError(err).WithField("key", key).Error("Failed to put value")
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

// Contains reports whether key is stored, returning its value when it is.
// A missing key is not an error.
func (db *Database) Contains(key string) (bool, []byte, error) {
	value, err := db.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	return true, value, nil
}

// Keys lists the stored keys in lexical order.
func (db *Database) Keys() ([]string, error) {
	rows, err := db.keysStmt.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Ping verifies the connection is usable.
func (db *Database) Ping() error {
	return db.conn.Ping()
}

// Close closes prepared statements and the connection.
func (db *Database) Close() error {
	// Close prepared statements
	statements := []*sql.Stmt{
		db.getStmt,
		db.putStmt,
		db.deleteStmt,
		db.keysStmt,
	}

	for _, stmt := range statements {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				db.logger.WithError(err).Error("Failed to close prepared statement")
			}
		}
	}

	// Close database connection
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
