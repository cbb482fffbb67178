// Package transcript is the local SQLite-backed persistence layer for chat
// sessions and their turns.
//
// Notes:
//   - Reports are stored as JSON payloads; the live types stay the source of
//     truth and old rows are read back best-effort.
//   - Append-only by design: repairs from auto-continued turns never
//     overwrite the failed turns they repaired, so the audit trail survives.
package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/marbleworks/scenepilot/internal/agent"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" {
		return nil, errors.New("missing db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			created_at_unix_ms INTEGER NOT NULL,
			updated_at_unix_ms INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			turn_index INTEGER NOT NULL,
			status TEXT NOT NULL,
			raw_response TEXT NOT NULL DEFAULT '',
			report_json TEXT NOT NULL DEFAULT '',
			reasons TEXT NOT NULL DEFAULT '',
			cpu_percent REAL NOT NULL DEFAULT 0,
			rss_bytes INTEGER NOT NULL DEFAULT 0,
			created_at_unix_ms INTEGER NOT NULL,
			UNIQUE(session_id, turn_index)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, turn_index)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// SessionRow is the stored view of one session.
type SessionRow struct {
	SessionID       string `json:"session_id"`
	Title           string `json:"title"`
	CreatedAtUnixMs int64  `json:"created_at_unix_ms"`
	UpdatedAtUnixMs int64  `json:"updated_at_unix_ms"`
}

// TurnRow is the stored view of one turn.
type TurnRow struct {
	ID              int64            `json:"id"`
	SessionID       string           `json:"session_id"`
	TurnIndex       int              `json:"turn_index"`
	Status          agent.TurnStatus `json:"status"`
	RawResponse     string           `json:"raw_response"`
	Reasons         []string         `json:"reasons,omitempty"`
	Report          *agent.ExecutionReport `json:"report,omitempty"`
	CPUPercent      float64          `json:"cpu_percent"`
	RSSBytes        uint64           `json:"rss_bytes"`
	CreatedAtUnixMs int64            `json:"created_at_unix_ms"`
}

func (s *Store) CreateSession(ctx context.Context, sessionID string, title string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("missing session id")
	}
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, title, created_at_unix_ms, updated_at_unix_ms)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET updated_at_unix_ms = excluded.updated_at_unix_ms`,
		sessionID, strings.TrimSpace(title), now, now)
	return err
}

// TurnStats carries the per-turn process snapshot stored alongside the turn.
type TurnStats struct {
	CPUPercent float64
	RSSBytes   uint64
}

// AppendTurn stores one finished turn. Turn indexes are unique per session;
// re-appending the same index is an error, matching the append-only model.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, turn *agent.TurnState, stats TurnStats) error {
	if turn == nil {
		return errors.New("nil turn")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("missing session id")
	}
	reportJSON := ""
	if turn.Report != nil {
		b, err := json.Marshal(turn.Report)
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		reportJSON = string(b)
	}
	reasons := make([]string, 0, len(turn.Verdict.Reasons))
	for _, r := range turn.Verdict.Reasons {
		reasons = append(reasons, string(r))
	}
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (session_id, turn_index, status, raw_response, report_json, reasons, cpu_percent, rss_bytes, created_at_unix_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, turn.Index, string(turn.Status), turn.RawResponse, reportJSON, strings.Join(reasons, ","), stats.CPUPercent, int64(stats.RSSBytes), now)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at_unix_ms = ? WHERE session_id = ?`, now, sessionID)
	return err
}

// ListTurns returns a session's turns in turn order.
func (s *Store) ListTurns(ctx context.Context, sessionID string) ([]TurnRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, turn_index, status, raw_response, report_json, reasons, cpu_percent, rss_bytes, created_at_unix_ms
		 FROM turns WHERE session_id = ? ORDER BY turn_index ASC`, strings.TrimSpace(sessionID))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []TurnRow
	for rows.Next() {
		var row TurnRow
		var status, reportJSON, reasons string
		var rss int64
		if err := rows.Scan(&row.ID, &row.SessionID, &row.TurnIndex, &status, &row.RawResponse, &reportJSON, &reasons, &row.CPUPercent, &rss, &row.CreatedAtUnixMs); err != nil {
			return nil, err
		}
		row.Status = agent.TurnStatus(status)
		row.RSSBytes = uint64(rss)
		if reasons != "" {
			row.Reasons = strings.Split(reasons, ",")
		}
		if reportJSON != "" {
			var report agent.ExecutionReport
			if err := json.Unmarshal([]byte(reportJSON), &report); err == nil {
				row.Report = &report
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ListSessions returns sessions, most recently updated first.
func (s *Store) ListSessions(ctx context.Context) ([]SessionRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, title, created_at_unix_ms, updated_at_unix_ms
		 FROM sessions ORDER BY updated_at_unix_ms DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []SessionRow
	for rows.Next() {
		var row SessionRow
		if err := rows.Scan(&row.SessionID, &row.Title, &row.CreatedAtUnixMs, &row.UpdatedAtUnixMs); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its turns. This is the only
// non-append mutation, reserved for explicit user-initiated deletion.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("missing session id")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	return err
}
