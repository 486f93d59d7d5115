package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists session history and journey positions in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed session store and ensures schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureSessionSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// OpenSQLiteStore opens (or creates) a SQLite database at path and returns a
// store backed by it.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteStore(db)
}

func ensureSessionSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS session_turns (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_id TEXT,
			tool_data_json TEXT,
			metadata_json TEXT,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_session_turns_session
			ON session_turns (session_id, created_at);
		CREATE TABLE IF NOT EXISTS session_positions (
			session_id TEXT PRIMARY KEY,
			journey_id TEXT NOT NULL,
			state_id TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`)
	return err
}

// AppendTurn adds a turn to the session history.
func (s *SQLiteStore) AppendTurn(ctx context.Context, sessionID string, turn Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.SessionID == "" {
		turn.SessionID = sessionID
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	toolData, err := encodeJSONMap(turn.ToolData)
	if err != nil {
		return err
	}
	metadata, err := encodeJSONStringMap(turn.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_turns (
			id, session_id, role, content, tool_id, tool_data_json, metadata_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		turn.ID,
		turn.SessionID,
		turn.Role,
		turn.Content,
		turn.ToolID,
		toolData,
		metadata,
		turn.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Turns retrieves all turns for a session, ordered by creation time.
func (s *SQLiteStore) Turns(ctx context.Context, sessionID string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, tool_id, tool_data_json, metadata_json, created_at
		FROM session_turns
		WHERE session_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var turn Turn
		var toolID sql.NullString
		var toolData, metadata sql.NullString
		var createdAt string
		if err := rows.Scan(&turn.ID, &turn.SessionID, &turn.Role, &turn.Content,
			&toolID, &toolData, &metadata, &createdAt); err != nil {
			return nil, err
		}
		turn.ToolID = toolID.String
		if toolData.Valid && toolData.String != "" {
			if err := json.Unmarshal([]byte(toolData.String), &turn.ToolData); err != nil {
				return nil, err
			}
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &turn.Metadata); err != nil {
				return nil, err
			}
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			turn.CreatedAt = ts
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// Position returns the session's current journey position.
func (s *SQLiteStore) Position(ctx context.Context, sessionID string) (Position, error) {
	var pos Position
	err := s.db.QueryRowContext(ctx, `
		SELECT journey_id, state_id FROM session_positions WHERE session_id = ?
	`, sessionID).Scan(&pos.JourneyID, &pos.StateID)
	if errors.Is(err, sql.ErrNoRows) {
		return Position{}, nil
	}
	if err != nil {
		return Position{}, err
	}
	return pos, nil
}

// SetPosition updates the session's journey position.
func (s *SQLiteStore) SetPosition(ctx context.Context, sessionID string, pos Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_positions (session_id, journey_id, state_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			journey_id = excluded.journey_id,
			state_id = excluded.state_id,
			updated_at = excluded.updated_at
	`, sessionID, pos.JourneyID, pos.StateID, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// Clear removes all state for a session.
func (s *SQLiteStore) Clear(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_turns WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_positions WHERE session_id = ?`, sessionID)
	return err
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func encodeJSONMap(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func encodeJSONStringMap(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

var _ Store = (*SQLiteStore)(nil)
