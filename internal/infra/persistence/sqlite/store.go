// Package sqlite persists the in-memory store to a single SQLite table as JSON
// buckets. It lives under infra to keep domain dependencies one-way.
package sqlite

import (
	"bizdir/internal/infra/persistence/memory"
	"bizdir/pkg/domain"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ domain.PersistentStore = (*Store)(nil)

// DefaultPath is used when no database path is configured.
const DefaultPath = "bizdir.db"

// Store persists the in-memory state to SQLite. It snapshots the full state
// before every commit becomes visible and rereads it when another writer has
// committed since.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string
	// revision last read or written; guarded by the memory store lock
	revision int64
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS state_revision (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		value INTEGER NOT NULL
	)`,
	`INSERT INTO state_revision(id, value) VALUES(1, 0) ON CONFLICT(id) DO NOTHING`,
	`CREATE TABLE IF NOT EXISTS record_ids (
		id TEXT PRIMARY KEY
	)`,
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewStore constructs a snapshotting SQLite-backed persistent store.
func NewStore(path string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	ctx := context.Background()
	for _, ddl := range schema {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	s := &Store{db: db, path: path}
	s.Store = memory.NewStore(engine, append(opts, memory.WithPersister(s.persist), memory.WithLoader(s.reload))...)
	snapshot, err := s.load(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.indexRecords(ctx, snapshot); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ImportState(snapshot)
	return s, nil
}

func readRevision(ctx context.Context, q queryer) (int64, error) {
	var rev int64
	if err := q.QueryRowContext(ctx, `SELECT value FROM state_revision WHERE id = 1`).Scan(&rev); err != nil {
		return 0, fmt.Errorf("read revision: %w", err)
	}
	return rev, nil
}

// load reads the revision before the buckets, so a commit landing in between
// makes the next persist fail instead of overwriting it.
func (s *Store) load(ctx context.Context) (memory.Snapshot, error) {
	rev, err := readRevision(ctx, s.db)
	if err != nil {
		return memory.Snapshot{}, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var snapshot memory.Snapshot
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan: %w", err)
		}
		target, ok := snapshot.Target(bucket)
		if !ok || len(payload) == 0 {
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return memory.Snapshot{}, fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate state: %w", err)
	}
	s.revision = rev
	return snapshot, nil
}

func (s *Store) reload(ctx context.Context) (memory.Snapshot, bool, error) {
	rev, err := readRevision(ctx, s.db)
	if err != nil {
		return memory.Snapshot{}, false, err
	}
	if rev == s.revision {
		return memory.Snapshot{}, false, nil
	}
	snapshot, err := s.load(ctx)
	if err != nil {
		return memory.Snapshot{}, false, err
	}
	return snapshot, true, nil
}

// indexRecords backfills record_ids for databases written before the index existed.
func (s *Store) indexRecords(ctx context.Context, snapshot memory.Snapshot) error {
	for id := range snapshot.Records {
		if _, err := s.db.ExecContext(ctx, `INSERT INTO record_ids(id) VALUES(?) ON CONFLICT(id) DO NOTHING`, id); err != nil {
			return fmt.Errorf("index record %s: %w", id, err)
		}
	}
	return nil
}

func (s *Store) persist(ctx context.Context, snapshot memory.Snapshot, changes []domain.Change) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StoreUnavailableError{Op: "begin", Err: err}
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx, `UPDATE state_revision SET value = value + 1 WHERE id = 1 AND value = ?`, s.revision)
	if err != nil {
		return fmt.Errorf("bump revision: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		current, _ := readRevision(ctx, tx)
		return domain.StoreUnavailableError{Op: "persist", Err: fmt.Errorf("%w: revision %d, read %d", domain.ErrConcurrentWrite, current, s.revision)}
	}
	for _, change := range changes {
		if err := indexChange(ctx, tx, change); err != nil {
			return err
		}
	}
	for _, bucket := range memory.Buckets {
		value, _ := snapshot.Bucket(bucket)
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", bucket, err)
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.revision++
	return nil
}

// indexChange keeps record creation insert-only: a second writer creating an
// existing identifier fails instead of replacing the record.
func indexChange(ctx context.Context, tx *sql.Tx, change domain.Change) error {
	if change.Entity != domain.EntityRecord {
		return nil
	}
	switch change.Action {
	case domain.ActionCreate:
		res, err := tx.ExecContext(ctx, `INSERT INTO record_ids(id) VALUES(?) ON CONFLICT(id) DO NOTHING`, change.EntityID())
		if err != nil {
			return fmt.Errorf("index record %s: %w", change.EntityID(), err)
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return domain.StoreUnavailableError{Op: "persist", Err: fmt.Errorf("%w: record %s already exists", domain.ErrConcurrentWrite, change.EntityID())}
		}
	case domain.ActionDelete:
		if _, err := tx.ExecContext(ctx, `DELETE FROM record_ids WHERE id = ?`, change.EntityID()); err != nil {
			return fmt.Errorf("unindex record %s: %w", change.EntityID(), err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
