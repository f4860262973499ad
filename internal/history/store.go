// Package history appends commands and lifecycle events to a SQLite
// audit log. The log is write-only at runtime: nothing in it feeds back
// into coordination state, so a restart starts the relay empty.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	ts        TIMESTAMP NOT NULL,
	robot_id  TEXT NOT NULL,
	client_id TEXT NOT NULL,
	kind      TEXT NOT NULL,
	detail    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
CREATE INDEX IF NOT EXISTS idx_events_robot ON events(robot_id);
`

// Event is one audit row.
type Event struct {
	ID       int64          `json:"id"`
	At       time.Time      `json:"at"`
	RobotID  string         `json:"robotId"`
	ClientID string         `json:"clientId,omitempty"`
	Kind     string         `json:"kind"`
	Detail   map[string]any `json:"detail,omitempty"`
}

// Store funnels all inserts through a single writer goroutine; SQLite
// performs poorly under concurrent writers. Frame handlers enqueue and
// move on, a full queue drops the record with a log line.
type Store struct {
	db       *sql.DB
	writes   chan Event
	shutdown chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
	log      zerolog.Logger
}

// Open creates or opens the audit database at path.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply history schema: %w", err)
	}

	s := &Store{
		db:       db,
		writes:   make(chan Event, 256),
		shutdown: make(chan struct{}),
		log:      log.With().Str("component", "history").Logger(),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

func (s *Store) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case ev := <-s.writes:
			s.insert(ev)
		case <-s.shutdown:
			// Drain whatever was enqueued before close.
			for {
				select {
				case ev := <-s.writes:
					s.insert(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) insert(ev Event) {
	detail, err := json.Marshal(ev.Detail)
	if err != nil {
		detail = []byte("{}")
	}
	if _, err := s.db.Exec(
		`INSERT INTO events (ts, robot_id, client_id, kind, detail) VALUES (?, ?, ?, ?, ?)`,
		ev.At, ev.RobotID, ev.ClientID, ev.Kind, string(detail),
	); err != nil {
		s.log.Warn().Err(err).Str("kind", ev.Kind).Msg("history insert failed")
	}
}

// Record enqueues an audit row. Never blocks the caller.
func (s *Store) Record(robotID, clientID, kind string, detail map[string]any) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return
	}

	ev := Event{At: time.Now(), RobotID: robotID, ClientID: clientID, Kind: kind, Detail: detail}
	select {
	case s.writes <- ev:
	default:
		s.log.Warn().Str("kind", kind).Msg("history queue full, record dropped")
	}
}

// Recent returns the newest limit rows, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, robot_id, client_id, kind, detail FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var detail string
		if err := rows.Scan(&ev.ID, &ev.At, &ev.RobotID, &ev.ClientID, &ev.Kind, &detail); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		if detail != "" && detail != "null" {
			_ = json.Unmarshal([]byte(detail), &ev.Detail)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// HealthCheck pings the underlying database.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close stops the writer and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()
	return s.db.Close()
}
