package ticketstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS tickets (
	ticket_id  TEXT PRIMARY KEY,
	record     TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`

// SQLite stores tickets in a local sqlite database.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and ensures
// the schema exists.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) Put(ctx context.Context, ticketID string, record map[string]any) error {
	if ticketID == "" {
		return ErrEmptyID
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode ticket %s: %w", ticketID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tickets (ticket_id, record, created_at) VALUES (?, ?, ?)`,
		ticketID, string(payload), s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert ticket %s: %w", ticketID, err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
