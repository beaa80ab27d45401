package main

import (
	"database/sql"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// History is the audit trail of applied moderation actions. It is not
// pipeline state: a run never reads it back, and a failed write never
// fails an action.
type History struct {
	db *sql.DB
}

type ActionRecord struct {
	ID        int64
	Channel   string
	Ordinal   int
	Kind      ItemKind
	Title     string
	Author    string
	Action    Action
	Mode      string // "auto" or "human"
	Success   bool
	Error     string
	DecidedAt time.Time
}

func OpenHistory(path string) (*History, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS moderation_actions (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		channel    TEXT NOT NULL,
		ordinal    INTEGER NOT NULL,
		kind       TEXT NOT NULL,
		title      TEXT DEFAULT '',
		author     TEXT DEFAULT '',
		action     TEXT NOT NULL,
		mode       TEXT NOT NULL,
		success    INTEGER NOT NULL,
		error      TEXT DEFAULT '',
		decided_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_ma_channel ON moderation_actions(channel);
	CREATE INDEX IF NOT EXISTS idx_ma_date ON moderation_actions(decided_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}
	return &History{db: db}, nil
}

func (h *History) Close() error { return h.db.Close() }

// Record writes one action best-effort. Errors are logged, never
// returned: the audit trail must not affect the pipeline.
func (h *History) Record(rec ActionRecord) {
	_, err := h.db.Exec(
		`INSERT INTO moderation_actions (channel, ordinal, kind, title, author, action, mode, success, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Channel, rec.Ordinal, string(rec.Kind), rec.Title, rec.Author,
		string(rec.Action), rec.Mode, rec.Success, rec.Error,
	)
	if err != nil {
		log.Printf("history record error channel=%s ordinal=%d: %v", rec.Channel, rec.Ordinal, err)
	}
}

// RecentActions returns the latest recorded actions, newest first,
// optionally filtered by channel.
func (h *History) RecentActions(channel string, limit int) ([]ActionRecord, error) {
	if limit < 1 {
		limit = 50
	}

	query := `SELECT id, channel, ordinal, kind, title, author, action, mode, success, error, decided_at
		FROM moderation_actions`
	args := []any{}
	if channel != "" {
		query += ` WHERE channel = ?`
		args = append(args, channel)
	}
	query += ` ORDER BY decided_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := h.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ActionRecord
	for rows.Next() {
		var rec ActionRecord
		var kind, action string
		if err := rows.Scan(&rec.ID, &rec.Channel, &rec.Ordinal, &kind, &rec.Title,
			&rec.Author, &action, &rec.Mode, &rec.Success, &rec.Error, &rec.DecidedAt); err != nil {
			return nil, err
		}
		rec.Kind = ItemKind(kind)
		rec.Action = Action(action)
		records = append(records, rec)
	}
	return records, rows.Err()
}
