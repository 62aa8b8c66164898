package discovery

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists sessions to sqlite so a discovery-service restart
// doesn't silently drop every live session string out from under
// connected hosts: WAL journaling plus upsert-on-conflict, opened once
// and reused. Persistence failures never fail a request — Registry
// logs and continues in-memory-only, since the registry itself is the
// source of truth and the store is best-effort durability.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if absent) the sqlite file at path and
// ensures the sessions table exists.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("discovery: open store: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("discovery: store pragma %q: %w", pragma, err)
		}
	}

	const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_string TEXT PRIMARY KEY,
	host_pubkey    BLOB NOT NULL,
	endpoints_json TEXT NOT NULL,
	created_at     INTEGER NOT NULL,
	expires_at     INTEGER NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("discovery: store schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying sqlite connection.
func (s *Store) Close() error { return s.db.Close() }

// Upsert writes sess, replacing any prior row under the same session
// string.
func (s *Store) Upsert(sess *Session) error {
	endpointsJSON, err := json.Marshal(sess.Endpoints)
	if err != nil {
		return fmt.Errorf("discovery: marshal endpoints: %w", err)
	}
	_, err = s.db.Exec(`
INSERT INTO sessions (session_string, host_pubkey, endpoints_json, created_at, expires_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(session_string) DO UPDATE SET
	host_pubkey = excluded.host_pubkey,
	endpoints_json = excluded.endpoints_json,
	created_at = excluded.created_at,
	expires_at = excluded.expires_at`,
		sess.SessionString, []byte(sess.HostPubkey), string(endpointsJSON),
		sess.CreatedAt.Unix(), sess.ExpiresAt.Unix())
	if err != nil {
		return fmt.Errorf("discovery: upsert session: %w", err)
	}
	return nil
}

// Delete removes a session row, ignoring a missing row.
func (s *Store) Delete(sessionString string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE session_string = ?`, sessionString)
	if err != nil {
		return fmt.Errorf("discovery: delete session: %w", err)
	}
	return nil
}

// LoadAll returns every row currently in the store, expired or not —
// callers filter by ExpiresAt themselves.
func (s *Store) LoadAll() ([]*Session, error) {
	rows, err := s.db.Query(`SELECT session_string, host_pubkey, endpoints_json, created_at, expires_at FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("discovery: load sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var (
			sessionString string
			hostPubkey    []byte
			endpointsJSON string
			createdAt     int64
			expiresAt     int64
		)
		if err := rows.Scan(&sessionString, &hostPubkey, &endpointsJSON, &createdAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("discovery: scan session row: %w", err)
		}
		var endpoints []string
		if err := json.Unmarshal([]byte(endpointsJSON), &endpoints); err != nil {
			return nil, fmt.Errorf("discovery: unmarshal endpoints: %w", err)
		}
		out = append(out, &Session{
			SessionString: sessionString,
			HostPubkey:    hostPubkey,
			Endpoints:     endpoints,
			CreatedAt:     time.Unix(createdAt, 0).UTC(),
			ExpiresAt:     time.Unix(expiresAt, 0).UTC(),
		})
	}
	return out, rows.Err()
}
