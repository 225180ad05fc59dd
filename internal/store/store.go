// Package store persists server-side upload records in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS upload_records (
    upload_id TEXT PRIMARY KEY,
    file_name TEXT NOT NULL,
    file_size INTEGER NOT NULL,
    total_chunks INTEGER NOT NULL,
    chunks_received INTEGER NOT NULL DEFAULT 0,
    received_bytes INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    last_activity DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_upload_records_last_activity ON upload_records(last_activity);
`

// UploadRecord tracks one in-progress upload, keyed by upload id. A record
// is created when the first chunk for an id arrives and deleted on
// successful finalize.
type UploadRecord struct {
	UploadID       string
	FileName       string
	FileSize       int64
	TotalChunks    int
	ChunksReceived int
	ReceivedBytes  int64
	CreatedAt      time.Time
	LastActivity   time.Time
}

// Initialize opens the SQLite database and creates the schema
func Initialize(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL mode for better concurrency under parallel chunk writes
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}

// CreateIfAbsent inserts a record for the upload id unless one already
// exists, and returns the current record either way.
func CreateIfAbsent(db *sql.DB, uploadID, fileName string, fileSize int64, totalChunks int) (*UploadRecord, error) {
	now := time.Now()

	query := `
		INSERT INTO upload_records (
			upload_id, file_name, file_size, total_chunks,
			chunks_received, received_bytes, created_at, last_activity
		) VALUES (?, ?, ?, ?, 0, 0, ?, ?)
		ON CONFLICT(upload_id) DO NOTHING
	`

	if _, err := db.Exec(query, uploadID, fileName, fileSize, totalChunks, now, now); err != nil {
		return nil, fmt.Errorf("failed to create upload record: %w", err)
	}

	return Get(db, uploadID)
}

// Get retrieves an upload record by id. Returns nil, nil when absent.
func Get(db *sql.DB, uploadID string) (*UploadRecord, error) {
	query := `
		SELECT upload_id, file_name, file_size, total_chunks,
		       chunks_received, received_bytes, created_at, last_activity
		FROM upload_records
		WHERE upload_id = ?
	`

	rec := &UploadRecord{}
	err := db.QueryRow(query, uploadID).Scan(
		&rec.UploadID,
		&rec.FileName,
		&rec.FileSize,
		&rec.TotalChunks,
		&rec.ChunksReceived,
		&rec.ReceivedBytes,
		&rec.CreatedAt,
		&rec.LastActivity,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upload record: %w", err)
	}

	return rec, nil
}

// RecordChunk increments the record's received counters after a chunk is
// stored on disk.
func RecordChunk(db *sql.DB, uploadID string, chunkBytes int64) error {
	query := `
		UPDATE upload_records
		SET chunks_received = chunks_received + 1,
		    received_bytes = received_bytes + ?,
		    last_activity = ?
		WHERE upload_id = ?
	`

	result, err := db.Exec(query, chunkBytes, time.Now(), uploadID)
	if err != nil {
		return fmt.Errorf("failed to record chunk: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("upload record not found: %s", uploadID)
	}

	return nil
}

// Touch refreshes the record's last activity time.
func Touch(db *sql.DB, uploadID string) error {
	if _, err := db.Exec(`UPDATE upload_records SET last_activity = ? WHERE upload_id = ?`, time.Now(), uploadID); err != nil {
		return fmt.Errorf("failed to touch upload record: %w", err)
	}
	return nil
}

// Delete removes an upload record.
func Delete(db *sql.DB, uploadID string) error {
	if _, err := db.Exec(`DELETE FROM upload_records WHERE upload_id = ?`, uploadID); err != nil {
		return fmt.Errorf("failed to delete upload record: %w", err)
	}
	return nil
}

// Count returns the number of in-progress upload records.
func Count(db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM upload_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count upload records: %w", err)
	}
	return n, nil
}
