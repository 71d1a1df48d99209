package vfs

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DiskStore persists an arena in a SQLite database so it can outlive a
// single CLI invocation. Only whole-arena save/load is supported; the
// in-memory Store stays the authority while a machine runs.
type DiskStore struct {
	db   *sql.DB
	path string
}

// OpenDiskStore opens (creating if needed) the database at path.
func OpenDiskStore(path string) (*DiskStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS files (
		path TEXT PRIMARY KEY,
		content BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &DiskStore{db: db, path: path}, nil
}

// Close closes the database connection.
func (d *DiskStore) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// Save replaces the database contents with the arena's files in one
// transaction.
func (d *DiskStore) Save(s *Store) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM files"); err != nil {
		return fmt.Errorf("clearing files: %w", err)
	}

	stmt, err := tx.Prepare("INSERT INTO files (path, content) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, path := range s.List("") {
		content, _ := s.Read(path)
		if _, err := stmt.Exec(path, content); err != nil {
			return fmt.Errorf("saving %q: %w", path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing save: %w", err)
	}
	return nil
}

// Load reads the whole database into a fresh arena.
func (d *DiskStore) Load() (*Store, error) {
	rows, err := d.db.Query("SELECT path, content FROM files")
	if err != nil {
		return nil, fmt.Errorf("querying files: %w", err)
	}
	defer rows.Close()

	s := NewStore()
	for rows.Next() {
		var path string
		var content []byte
		if err := rows.Scan(&path, &content); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		s.Write(path, content)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading rows: %w", err)
	}
	return s, nil
}
