// Package history keeps a local sqlite log of every successful usage fetch.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zsprackett/claude-usage/internal/usage"
)

type DB struct {
	sql *sql.DB
}

// Entry is one recorded snapshot. Reset times are zero when unknown.
type Entry struct {
	ID              int64
	FetchedAt       time.Time
	OrgID           string
	OrgName         string
	Source          string
	SessionPercent  int
	SessionResetsAt time.Time
	WeeklyPercent   int
	WeeklyResetsAt  time.Time
	Raw             map[string]int
}

func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	conn.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return &DB{sql: conn}, nil
}

func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) Migrate() error {
	_, err := d.sql.Exec(`
		CREATE TABLE IF NOT EXISTS usage_snapshots (
			id                 INTEGER PRIMARY KEY,
			fetched_at         INTEGER NOT NULL,
			org_id             TEXT NOT NULL DEFAULT '',
			org_name           TEXT NOT NULL DEFAULT '',
			source             TEXT NOT NULL DEFAULT '',
			session_percent    INTEGER NOT NULL,
			session_resets_at  INTEGER NOT NULL DEFAULT 0,
			weekly_percent     INTEGER NOT NULL,
			weekly_resets_at   INTEGER NOT NULL DEFAULT 0,
			raw                TEXT NOT NULL DEFAULT '{}'
		)
	`)
	if err != nil {
		return fmt.Errorf("create usage_snapshots: %w", err)
	}
	if _, err := d.sql.Exec(`CREATE INDEX IF NOT EXISTS idx_usage_snapshots_fetched_at ON usage_snapshots(fetched_at DESC)`); err != nil {
		return fmt.Errorf("index usage_snapshots: %w", err)
	}
	return nil
}

// Insert records the headline organization of s.
func (d *DB) Insert(s usage.Snapshot) error {
	raw, err := json.Marshal(s.Raw)
	if err != nil {
		return err
	}
	if s.Raw == nil {
		raw = []byte("{}")
	}
	_, err = d.sql.Exec(`
		INSERT INTO usage_snapshots (
			fetched_at, org_id, org_name, source,
			session_percent, session_resets_at,
			weekly_percent, weekly_resets_at, raw
		) VALUES (?,?,?,?,?,?,?,?,?)`,
		s.FetchedAt.UnixMilli(), s.OrgID, s.OrgName, s.Source,
		s.SessionPercent, unixMilli(s.SessionResetsAt),
		s.WeeklyPercent, unixMilli(s.WeeklyResetsAt), string(raw),
	)
	return err
}

// Recent returns up to limit entries, newest first.
func (d *DB) Recent(limit int) ([]Entry, error) {
	rows, err := d.sql.Query(`
		SELECT id, fetched_at, org_id, org_name, source,
			session_percent, session_resets_at,
			weekly_percent, weekly_resets_at, raw
		FROM usage_snapshots
		ORDER BY fetched_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var fetchedAt, sessionReset, weeklyReset int64
		var raw string
		if err := rows.Scan(
			&e.ID, &fetchedAt, &e.OrgID, &e.OrgName, &e.Source,
			&e.SessionPercent, &sessionReset,
			&e.WeeklyPercent, &weeklyReset, &raw,
		); err != nil {
			return nil, err
		}
		e.FetchedAt = time.UnixMilli(fetchedAt).UTC()
		e.SessionResetsAt = fromMilli(sessionReset)
		e.WeeklyResetsAt = fromMilli(weeklyReset)
		// raw is informational; a bad value leaves the map empty
		json.Unmarshal([]byte(raw), &e.Raw)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries fetched before cutoff and reports how many went.
func (d *DB) Prune(cutoff time.Time) (int64, error) {
	res, err := d.sql.Exec(`DELETE FROM usage_snapshots WHERE fetched_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func unixMilli(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixMilli()
}

func fromMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
