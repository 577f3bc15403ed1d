package progress

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/ralph/internal/failure"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS outcomes (
	seq         INTEGER PRIMARY KEY,
	run_id      TEXT NOT NULL,
	iteration   INTEGER NOT NULL,
	ts          TEXT NOT NULL,
	story_id    TEXT NOT NULL,
	attempt     INTEGER NOT NULL,
	verdict     TEXT NOT NULL,
	agent_exit  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	doc         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS outcomes_story ON outcomes(story_id);
`

// SQLiteLog stores outcomes in a SQLite database. Indexed columns allow
// ad-hoc queries; the full record is kept as JSON in doc.
type SQLiteLog struct {
	db *sql.DB
}

var _ Log = (*SQLiteLog)(nil)

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, failure.Wrap(failure.KindIO, "progress", fmt.Errorf("opening database: %w", err))
	}
	// One writer; readers go through the same connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, failure.Wrap(failure.KindIO, "progress", fmt.Errorf("setting WAL mode: %w", err))
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, failure.Wrap(failure.KindIO, "progress", fmt.Errorf("applying schema: %w", err))
	}
	return &SQLiteLog{db: db}, nil
}

func (l *SQLiteLog) Append(o Outcome) (Outcome, error) {
	tx, err := l.db.Begin()
	if err != nil {
		return Outcome{}, failure.Wrap(failure.KindIO, "progress", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := tx.QueryRow("SELECT COALESCE(MAX(seq), 0) + 1 FROM outcomes").Scan(&o.Seq); err != nil {
		return Outcome{}, failure.Wrap(failure.KindIO, "progress", err)
	}
	doc, err := json.Marshal(o)
	if err != nil {
		return Outcome{}, failure.Wrap(failure.KindIO, "progress", fmt.Errorf("encode outcome: %w", err))
	}
	_, err = tx.Exec(
		`INSERT INTO outcomes (seq, run_id, iteration, ts, story_id, attempt, verdict, agent_exit, duration_ms, doc)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.Seq, o.RunID, o.Iteration, o.Timestamp.UTC().Format(time.RFC3339Nano), o.StoryID,
		o.Attempt, string(o.Verdict), o.AgentExit, o.DurationMs, string(doc),
	)
	if err != nil {
		return Outcome{}, failure.Wrap(failure.KindIO, "progress", err)
	}
	if err := tx.Commit(); err != nil {
		return Outcome{}, failure.Wrap(failure.KindIO, "progress", err)
	}
	return o, nil
}

func (l *SQLiteLog) Since(seq int64) ([]Outcome, error) {
	return l.query("SELECT doc FROM outcomes WHERE seq > ? ORDER BY seq", seq)
}

func (l *SQLiteLog) Recent(n int) ([]Outcome, error) {
	if n <= 0 {
		return nil, nil
	}
	out, err := l.query("SELECT doc FROM (SELECT seq, doc FROM outcomes ORDER BY seq DESC LIMIT ?) ORDER BY seq", n)
	return out, err
}

func (l *SQLiteLog) Last() (Outcome, bool, error) {
	var doc string
	err := l.db.QueryRow("SELECT doc FROM outcomes ORDER BY seq DESC LIMIT 1").Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return Outcome{}, false, nil
	}
	if err != nil {
		return Outcome{}, false, failure.Wrap(failure.KindIO, "progress", err)
	}
	var o Outcome
	if err := json.Unmarshal([]byte(doc), &o); err != nil {
		return Outcome{}, false, failure.Wrap(failure.KindIO, "progress", err)
	}
	return o, true, nil
}

func (l *SQLiteLog) Close() error {
	return l.db.Close()
}

func (l *SQLiteLog) query(q string, arg interface{}) ([]Outcome, error) {
	rows, err := l.db.Query(q, arg)
	if err != nil {
		return nil, failure.Wrap(failure.KindIO, "progress", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, failure.Wrap(failure.KindIO, "progress", err)
		}
		var o Outcome
		if err := json.Unmarshal([]byte(doc), &o); err != nil {
			return nil, failure.Wrap(failure.KindIO, "progress", fmt.Errorf("decode outcome: %w", err))
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, failure.Wrap(failure.KindIO, "progress", err)
	}
	return out, nil
}
