// Package store is handoff's durable persistence layer: an embedded
// SQLite database holding sessions and their child records, accessed
// through a single-writer/multi-reader connection pool.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/mattn/go-sqlite3"
)

const defaultBusyTimeoutMillis = 5000

// Pool holds the writer and reader connections backing the store.
type Pool struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// OpenPool opens (creating if necessary) the SQLite database at dbPath
// and returns a Pool with a single-connection writer (to serialize
// writes and avoid SQLITE_BUSY) and a multi-connection read-only reader,
// both running in WAL mode for read/write concurrency.
func OpenPool(dbPath string) (*Pool, error) {
	normalized, err := normalizePath(dbPath)
	if err != nil {
		return nil, fmt.Errorf("normalize database path: %w", err)
	}
	if err := ensureDir(normalized); err != nil {
		return nil, fmt.Errorf("prepare database directory: %w", err)
	}
	if err := ensureFile(normalized); err != nil {
		return nil, fmt.Errorf("create database file: %w", err)
	}

	writerDSN := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_mode=rwc&_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL&_cache=shared",
		normalized, defaultBusyTimeoutMillis,
	)
	writer, err := sqlx.Open("sqlite3", writerDSN)
	if err != nil {
		return nil, fmt.Errorf("open writer connection: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)

	readerDSN := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_mode=ro&_busy_timeout=%d&_cache=shared",
		normalized, defaultBusyTimeoutMillis,
	)
	reader, err := sqlx.Open("sqlite3", readerDSN)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open reader connection: %w", err)
	}
	reader.SetMaxOpenConns(4)
	reader.SetMaxIdleConns(4)

	return &Pool{writer: writer, reader: reader}, nil
}

// OpenMemoryPool opens an in-process, shared-cache in-memory SQLite
// database for tests: both writer and reader point at the same *sqlx.DB,
// held to one open connection, since an in-memory database has no
// separate file to open read-only.
func OpenMemoryPool() (*Pool, error) {
	db, err := sqlx.Open("sqlite3", "file::memory:?_foreign_keys=on&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("open in-memory database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &Pool{writer: db, reader: db}, nil
}

func (p *Pool) Writer() *sqlx.DB { return p.writer }
func (p *Pool) Reader() *sqlx.DB { return p.reader }

// Close closes both connections.
func (p *Pool) Close() error {
	if p.writer != p.reader {
		if err := p.reader.Close(); err != nil {
			return err
		}
	}
	return p.writer.Close()
}

func ensureDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func ensureFile(dbPath string) error {
	f, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func normalizePath(dbPath string) (string, error) {
	if dbPath == "" {
		return "", fmt.Errorf("empty database path")
	}
	return filepath.Abs(dbPath)
}

// nowUTC is a small seam kept for test readability; production code
// always wants wall-clock UTC.
func nowUTC() time.Time { return time.Now().UTC() }
