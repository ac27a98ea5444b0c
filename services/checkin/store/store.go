// Package store persists the last-known-good extraction snapshots and
// the browser session blob. both are overwritten wholesale on each
// successful write, there is no versioning.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"time"

	"boxsync-backend/lib/browser"
	"boxsync-backend/lib/timezone"

	_ "embed"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

var ErrNotFound = errors.New("not found")

// snapshot kinds understood by the api surface
const (
	KindCheckin  = "checkin"
	KindCalendar = "calendar"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) Store {
	return Store{db: db}
}

// Open creates (if needed) and opens the sqlite database at path,
// applies the schema and the WAL pragma.
func Open(path string) (Store, *sql.DB, error) {
	if path != ":memory:" {
		_, statErr := os.Stat(path)
		if os.IsNotExist(statErr) {
			f, err := os.Create(path)
			if err != nil {
				return Store{}, nil, err
			}
			f.Close()
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return Store{}, nil, err
	}
	// see https://stackoverflow.com/questions/35804884 for why sqlite
	// writers are kept on a single connection
	db.SetMaxOpenConns(1)
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		db.Close()
		return Store{}, nil, err
	}
	_, err = db.Exec(Schema)
	if err != nil {
		db.Close()
		return Store{}, nil, err
	}

	return New(db), db, nil
}

// SaveSnapshot serializes payload and replaces the snapshot of the
// given kind.
func (s Store) SaveSnapshot(ctx context.Context, kind string, payload any) error {
	serialized, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (kind, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (kind) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
	`, kind, string(serialized), timezone.Now().Unix())
	return err
}

// LatestSnapshot returns the stored payload for kind and when it was
// written.
func (s Store) LatestSnapshot(ctx context.Context, kind string) ([]byte, time.Time, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT payload, updated_at FROM snapshots WHERE kind = ?
	`, kind)

	var payload string
	var updatedAt int64
	err := row.Scan(&payload, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	return []byte(payload), time.Unix(updatedAt, 0).In(timezone.Location), nil
}

// SaveSession replaces the persisted browser session blob.
func (s Store) SaveSession(ctx context.Context, id string, state *browser.StorageState) error {
	serialized, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, storage, created_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET storage = excluded.storage, created_at = excluded.created_at
	`, id, string(serialized), timezone.Now().Unix())
	return err
}

func (s Store) LoadSession(ctx context.Context, id string) (*browser.StorageState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT storage FROM sessions WHERE id = ?`, id)

	var serialized string
	err := row.Scan(&serialized)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var state browser.StorageState
	err = json.Unmarshal([]byte(serialized), &state)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}
