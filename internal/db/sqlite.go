package db

import (
	"database/sql"
	"fmt"

	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3"
)

type Database struct {
	db   *sql.DB
	lock *flock.Flock
}

// NewSQLite opens (and migrates) the database at path. A lock file next to
// it keeps a second server process from sharing the same database.
func NewSQLite(path string) (*Database, error) {
	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("database %s is in use by another process", path)
	}

	sqlDB, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	d := &Database{db: sqlDB, lock: lock}
	if err := d.migrate(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Database) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		file_name TEXT NOT NULL,
		engine TEXT NOT NULL,
		language TEXT NOT NULL DEFAULT '',
		options TEXT,
		title TEXT NOT NULL DEFAULT '',
		artist TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'running',
		error TEXT,
		results INTEGER NOT NULL DEFAULT 0,
		degraded INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		completed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS run_chunks (
		run_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		chunk INTEGER NOT NULL,
		win INTEGER NOT NULL DEFAULT 0,
		kind TEXT NOT NULL,
		start_sec REAL NOT NULL,
		end_sec REAL NOT NULL,
		text TEXT NOT NULL,
		segments TEXT,
		post_mode TEXT NOT NULL DEFAULT '',
		post_text TEXT NOT NULL DEFAULT '',
		post_error TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, idx),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		run_id TEXT NOT NULL,
		params TEXT NOT NULL,
		progress REAL DEFAULT 0,
		result TEXT,
		error TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		started_at DATETIME,
		completed_at DATETIME
	);
	`
	_, err := d.db.Exec(schema)
	return err
}

// GetSetting returns a setting value by key, or defaultVal if not found
func (d *Database) GetSetting(key, defaultVal string) string {
	var val string
	err := d.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&val)
	if err != nil {
		return defaultVal
	}
	return val
}

// SetSetting upserts a setting
func (d *Database) SetSetting(key, value string) error {
	_, err := d.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = ?, updated_at = CURRENT_TIMESTAMP`,
		key, value, value,
	)
	return err
}

// DeleteSetting removes a setting so its default applies again.
func (d *Database) DeleteSetting(key string) error {
	_, err := d.db.Exec("DELETE FROM settings WHERE key = ?", key)
	return err
}

// GetAllSettings returns all settings as a map
func (d *Database) GetAllSettings() (map[string]string, error) {
	rows, err := d.db.Query("SELECT key, value FROM settings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		result[k] = v
	}
	return result, rows.Err()
}

func (d *Database) Close() error {
	err := d.db.Close()
	if d.lock != nil {
		d.lock.Unlock()
	}
	return err
}

// DB returns the underlying sql.DB for use by other packages (e.g., job queue)
func (d *Database) DB() *sql.DB {
	return d.db
}
