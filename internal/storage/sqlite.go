package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteHistory implements History using SQLite.
type SQLiteHistory struct {
	db *sql.DB
}

// NewSQLiteHistory opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteHistory(dbPath string) (*SQLiteHistory, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteHistory{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS uploads (
		id TEXT PRIMARY KEY,
		received_at TIMESTAMP NOT NULL,
		protocol TEXT NOT NULL,
		ok INTEGER NOT NULL,
		message TEXT,
		bytes INTEGER NOT NULL DEFAULT 0,
		records INTEGER NOT NULL DEFAULT 0,
		checksum TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_uploads_received_at ON uploads(received_at);
	`
	_, err := db.Exec(schema)
	return err
}

// Record inserts e, assigning an id and timestamp when they are empty.
func (s *SQLiteHistory) Record(ctx context.Context, e *UploadEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO uploads (id, received_at, protocol, ok, message, bytes, records, checksum)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ReceivedAt, e.Protocol, e.OK, e.Message, e.Bytes, e.Records, e.Checksum,
	)
	if err != nil {
		return fmt.Errorf("failed to record upload: %w", err)
	}
	return nil
}

const selectUpload = `SELECT id, received_at, protocol, ok, message, bytes, records, checksum FROM uploads`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*UploadEntry, error) {
	var e UploadEntry
	var message, checksum sql.NullString
	if err := row.Scan(&e.ID, &e.ReceivedAt, &e.Protocol, &e.OK, &message, &e.Bytes, &e.Records, &checksum); err != nil {
		return nil, err
	}
	e.Message = message.String
	e.Checksum = checksum.String
	return &e, nil
}

// Get returns the entry with the given id.
func (s *SQLiteHistory) Get(ctx context.Context, id string) (*UploadEntry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, selectUpload+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// List returns entries newest first with offset and limit.
func (s *SQLiteHistory) List(ctx context.Context, offset, limit int) ([]*UploadEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		selectUpload+` ORDER BY received_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []*UploadEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of recorded uploads and how many of them failed.
func (s *SQLiteHistory) Count(ctx context.Context) (total, failed int64, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN ok = 0 THEN 1 ELSE 0 END), 0) FROM uploads`,
	).Scan(&total, &failed)
	return total, failed, err
}

// Close closes the database connection.
func (s *SQLiteHistory) Close() error {
	return s.db.Close()
}
