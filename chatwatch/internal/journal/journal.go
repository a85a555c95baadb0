// Package journal records the event stream in SQLite, so the history of
// statuses and messages survives restarts and can be tailed from the CLI.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/zenamons-s/avito-sream/chatwatch/event"
)

// Journal is a sink writing every event to the events table.
type Journal struct {
	db    *sql.DB
	runID string
}

// Open opens (or creates) the journal at path. runID tags every row
// written by this process.
func Open(path, runID string) (*Journal, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}
	return &Journal{db: db, runID: runID}, nil
}

// Deliver inserts e.
func (j *Journal) Deliver(ctx context.Context, e event.Event) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (run_id, type, level, message, sender, body, at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.runID, string(e.Type), string(e.Level), e.Message, e.From, e.Text, e.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("journal: insert: %w", err)
	}
	return nil
}

// Entry is one journal row.
type Entry struct {
	ID    int64
	RunID string
	event.Event
}

// Recent returns the last n entries, oldest first. only filters by type
// when non-empty.
func (j *Journal) Recent(ctx context.Context, n int, only event.Type) ([]Entry, error) {
	if n <= 0 {
		n = 50
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, run_id, type, level, message, sender, body, at FROM (
			SELECT * FROM events WHERE (? = '' OR type = ?) ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, string(only), string(only), n)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e     Entry
			typ   string
			level string
			at    int64
		)
		if err := rows.Scan(&e.ID, &e.RunID, &typ, &level, &e.Message, &e.From, &e.Text, &at); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.Type, e.Level = event.Type(typ), event.Level(level)
		e.At = time.UnixMilli(at).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries older than the cutoff and returns how many went.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM events WHERE at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (j *Journal) Close() error { return j.db.Close() }
