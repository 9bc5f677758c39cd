// Package sqlitestore persists records in a SQLite database as JSON in wire
// form, one row per record.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/hanpama/graphcache/internal/record"
)

//go:embed schema.sql
var schemaSQL string

// 1 - records table
const currentSchemaVersion = 1

var ErrClosed = errors.New("sqlitestore: closed")

// Store is a store.Persister backed by SQLite in WAL mode.
type Store struct {
	db  *sql.DB
	log logrus.FieldLogger
	now func() time.Time
}

// Open creates or opens the database at path. Use ":memory:" for a private
// in-memory database.
func Open(path string, log logrus.FieldLogger) (*Store, error) {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: connect %q: %w", path, err)
	}
	// one writer; also keeps ":memory:" on a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{
		db:  db,
		log: log.WithFields(logrus.Fields{"component": "sqlitestore", "path": path}),
		now: time.Now,
	}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("sqlitestore: %q: %w", p, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("sqlitestore: user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("sqlitestore: schema version %d is newer than %d", version, currentSchemaVersion)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("sqlitestore: schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("sqlitestore: set user_version: %w", err)
	}
	return nil
}

func (s *Store) ReadRecord(id string) (record.Record, bool, error) {
	if s.db == nil {
		return nil, false, ErrClosed
	}
	var body string
	err := s.db.QueryRow(`SELECT body FROM records WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlitestore: read %q: %w", id, err)
	}
	var r record.Record
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, false, fmt.Errorf("sqlitestore: decode %q: %w", id, err)
	}
	return r, true, nil
}

func (s *Store) WriteRecord(r record.Record) error {
	if s.db == nil {
		return ErrClosed
	}
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("sqlitestore: encode %q: %w", r.ID(), err)
	}
	_, err = s.db.Exec(`
INSERT INTO records (id, typename, body, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    typename = excluded.typename,
    body = excluded.body,
    updated_at = excluded.updated_at`,
		r.ID(), r.Typename(), string(body), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlitestore: write %q: %w", r.ID(), err)
	}
	return nil
}

// Delete removes the records with ids in one transaction.
func (s *Store) Delete(ctx context.Context, ids ...string) error {
	if s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id); err != nil {
			return fmt.Errorf("sqlitestore: delete %q: %w", id, err)
		}
	}
	return tx.Commit()
}

// Records decodes every stored record, optionally only those of typename.
// Undecodable rows are skipped and logged.
func (s *Store) Records(ctx context.Context, typename string) (record.Source, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	q := `SELECT id, body FROM records ORDER BY id`
	var args []any
	if typename != "" {
		q = `SELECT id, body FROM records WHERE typename = ? ORDER BY id`
		args = append(args, typename)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: scan: %w", err)
	}
	defer rows.Close()
	out := record.Source{}
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		var r record.Record
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			s.log.WithError(err).WithField("record_id", id).Warn("skipping undecodable record")
			continue
		}
		out[id] = r
	}
	return out, rows.Err()
}

// Len reports the number of stored records.
func (s *Store) Len(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n)
	return n, err
}
