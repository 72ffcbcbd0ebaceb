// Package store persists what builders extract from imported files into a
// SQLite database.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrClosed is returned by every write after Close.
var ErrClosed = errors.New("store is closed")

// Record is one imported row.
type Record struct {
	ID       string
	Pipeline string
	Source   string
	Kind     string
	Fields   map[string]any
}

// Attachment is a dependency file pulled in while importing a record.
type Attachment struct {
	ID       string
	RecordID string
	Pipeline string
	Source   string
	Path     string
	Kind     string
	Size     int64
	SHA256   string
}

// Run is one ledger row written after a pipeline run.
type Run struct {
	ID          string
	Pipeline    string
	Results     int
	Records     int
	Attachments int
	FinishedAt  time.Time
}

type Store struct {
	db     *sql.DB
	log    *zap.SugaredLogger
	closed atomic.Bool
}

// Open opens (creating if needed) the database at path and applies pending
// migrations. ":memory:" is accepted for tests.
func Open(path string, log *zap.SugaredLogger) (*Store, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log.Debugw("Opening database", "path", path)

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	// one connection: sqlite serialises writers anyway and :memory: databases
	// are per connection
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "exec %q", pragma)
		}
	}

	if err := Migrate(db, log); err != nil {
		db.Close()
		return nil, err
	}

	log.Infow("Database opened", "path", path)
	return &Store{db: db, log: log}, nil
}

// Migrate applies the embedded migrations that are not recorded yet.
func Migrate(db *sql.DB, log *zap.SugaredLogger) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL
	)`); err != nil {
		return errors.Wrap(err, "create schema_migrations")
	}

	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return errors.Wrap(err, "read migrations")
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		version := strings.SplitN(name, "_", 2)[0]

		var applied bool
		if err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version).Scan(&applied); err != nil {
			return errors.Wrapf(err, "check %s", name)
		}
		if applied {
			continue
		}

		body, err := migrations.ReadFile("migrations/" + name)
		if err != nil {
			return errors.Wrapf(err, "read %s", name)
		}
		if log != nil {
			log.Infow("Applying migration", "migration", name, "version", version)
		}

		tx, err := db.Begin()
		if err != nil {
			return errors.Wrapf(err, "begin tx for %s", name)
		}
		if _, err := tx.Exec(string(body)); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "execute %s", name)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", version, time.Now().UTC()); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "record %s", name)
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "commit %s", name)
		}
	}
	return nil
}

// SaveRecord inserts r and returns its id, generating one when r.ID is empty.
func (s *Store) SaveRecord(ctx context.Context, r Record) (string, error) {
	if s.closed.Load() {
		return "", ErrClosed
	}
	if r.Pipeline == "" || r.Source == "" {
		return "", errors.New("record needs a pipeline and a source")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	payload, err := json.Marshal(r.Fields)
	if err != nil {
		return "", errors.Wrapf(err, "encode record from %s", r.Source)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (id, pipeline, source, kind, payload, imported_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Pipeline, r.Source, r.Kind, string(payload), time.Now().UTC())
	if err != nil {
		return "", errors.Wrapf(err, "insert record from %s", r.Source)
	}
	return r.ID, nil
}

// SaveAttachment inserts a and returns its id.
func (s *Store) SaveAttachment(ctx context.Context, a Attachment) (string, error) {
	if s.closed.Load() {
		return "", ErrClosed
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	var recordID any
	if a.RecordID != "" {
		recordID = a.RecordID
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attachments (id, record_id, pipeline, source, path, kind, size, sha256, imported_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, recordID, a.Pipeline, a.Source, a.Path, a.Kind, a.Size, a.SHA256, time.Now().UTC())
	if err != nil {
		return "", errors.Wrapf(err, "insert attachment %s", a.Path)
	}
	return a.ID, nil
}

// RecordRun appends a ledger row.
func (s *Store) RecordRun(ctx context.Context, r Run) (string, error) {
	if s.closed.Load() {
		return "", ErrClosed
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, pipeline, results, records, attachments, finished_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Pipeline, r.Results, r.Records, r.Attachments, r.FinishedAt.UTC())
	if err != nil {
		return "", errors.Wrapf(err, "insert run for %s", r.Pipeline)
	}
	s.log.Debugw("Recorded run", "pipeline", r.Pipeline, "run", r.ID, "results", r.Results)
	return r.ID, nil
}

// Records returns the records imported from source, oldest first.
func (s *Store) Records(ctx context.Context, pipeline, source string) ([]Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, payload FROM records WHERE pipeline = ? AND source = ? ORDER BY imported_at, rowid`,
		pipeline, source)
	if err != nil {
		return nil, errors.Wrap(err, "query records")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r := Record{Pipeline: pipeline, Source: source}
		var payload string
		if err := rows.Scan(&r.ID, &r.Kind, &payload); err != nil {
			return nil, errors.Wrap(err, "scan record")
		}
		if err := json.Unmarshal([]byte(payload), &r.Fields); err != nil {
			return nil, errors.Wrapf(err, "decode record %s", r.ID)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of rows of table ("records", "attachments" or
// "runs") for pipeline.
func (s *Store) Count(ctx context.Context, table, pipeline string) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	switch table {
	case "records", "attachments", "runs":
	default:
		return 0, errors.Newf("unknown table %q", table)
	}
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE pipeline = ?", pipeline).Scan(&n)
	if err != nil {
		return 0, errors.Wrapf(err, "count %s", table)
	}
	return n, nil
}

// Close closes the database. Further writes return ErrClosed.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
