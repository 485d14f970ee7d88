package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend keeps the global index and records in one SQLite database, so a Commit
// is a single transaction.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and returns a Store on it.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*Store, error) {
	b, err := NewSQLiteBackend(dbPath)
	if err != nil {
		return nil, err
	}
	return New(b), nil
}

// NewSQLiteBackend opens the database and initializes the schema.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
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
	if _, err := db.Exec("PRAGMA synchronous=FULL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteBackend{db: db, path: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS global_index (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		data BLOB NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS file_records (
		meta_key TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := db.Exec(schema)
	return err
}

// ReadGlobal implements Backend.
func (b *SQLiteBackend) ReadGlobal(ctx context.Context) ([]byte, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx, `SELECT data FROM global_index WHERE id = 1`).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return data, err
}

// ReadRecord implements Backend.
func (b *SQLiteBackend) ReadRecord(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx, `SELECT data FROM file_records WHERE meta_key = ?`, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return data, err
}

// Commit implements Backend in one transaction.
func (b *SQLiteBackend) Commit(ctx context.Context, global []byte, put map[string][]byte, del []string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if len(put) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO file_records (meta_key, data, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			 ON CONFLICT(meta_key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for key, data := range put {
			if _, err := stmt.ExecContext(ctx, key, data); err != nil {
				return fmt.Errorf("upsert record %s: %w", key, err)
			}
		}
	}
	for _, key := range del {
		if _, err := tx.ExecContext(ctx, `DELETE FROM file_records WHERE meta_key = ?`, key); err != nil {
			return fmt.Errorf("delete record %s: %w", key, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO global_index (id, data, updated_at) VALUES (1, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		global,
	); err != nil {
		return fmt.Errorf("write global index: %w", err)
	}
	return tx.Commit()
}

// DiskUsage implements Backend.
func (b *SQLiteBackend) DiskUsage() (int64, error) {
	return DiskUsageBytes(b.path, b.path+"-wal", b.path+"-shm")
}

// Name implements Backend.
func (b *SQLiteBackend) Name() string { return "sqlite" }

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
