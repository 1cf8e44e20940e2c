package database

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite file at path and creates the documents table.
// ":memory:" gives a private in-memory store, used by tests.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every write goes through one connection so batches are serialized and
	// an in-memory database survives between calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// One row per document; data holds the JSON body
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (collection, id)
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create documents table: %w", err)
	}

	log.Printf("Database initialized at %s", path)
	return db, nil
}
