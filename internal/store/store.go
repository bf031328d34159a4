package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store persists job rows and per-segment status in SQLite, and the raw NZB
// bytes in a blob directory keyed by job ID so jobs survive a restart.
type Store struct {
	db      *sql.DB
	blobDir string
}

func New(dbPath, blobDir string) (*Store, error) {

	dbDir := filepath.Dir(dbPath)

	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	if err := os.MkdirAll(blobDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Ping makes sure the file is actually accessible and the DSN is valid
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}

	s := &Store{db: db, blobDir: blobDir}

	if err := s.RunMigrations(); err != nil {
		return nil, fmt.Errorf("could not migrate database: %w", err)
	}

	return s, nil
}

func (s *Store) SaveNZB(id string, data []byte) error {
	return os.WriteFile(filepath.Join(s.blobDir, id+".nzb"), data, 0644)
}

func (s *Store) LoadNZB(id string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.blobDir, id+".nzb"))
}

func (s *Store) Close() error {
	return s.db.Close()
}
