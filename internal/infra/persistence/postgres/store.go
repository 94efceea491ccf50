// Package postgres provides a Postgres-backed persistent store that mirrors the
// in-memory semantics. Full state is snapshotted into JSON buckets and business
// records are additionally projected into a queryable table.
package postgres

import (
	"bizdir/internal/infra/persistence/memory"
	"bizdir/pkg/domain"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/bizdir?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS business_records (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		location TEXT NOT NULL,
		district TEXT NOT NULL,
		status TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		payload JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS state_revision (
		id INT PRIMARY KEY CHECK (id = 1),
		value BIGINT NOT NULL
	)`,
	`INSERT INTO state_revision(id, value) VALUES(1, 0) ON CONFLICT(id) DO NOTHING`,
}

// Store persists state to Postgres while reusing the in-memory implementation for transactions.
type Store struct {
	*memory.Store
	db *sql.DB
	// revision last read or written; guarded by the memory store lock
	revision int64
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN).
// It ensures the schema exists and hydrates the in-memory store from any existing snapshot.
func NewStore(ctx context.Context, dsn string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, domain.StoreUnavailableError{Op: "ping postgres", Err: err}
	}
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	rev, snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{db: db, revision: rev}
	s.Store = memory.NewStore(engine, append(opts, memory.WithPersister(s.persist), memory.WithLoader(s.reload))...)
	s.ImportState(snapshot)
	return s, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

func ensureSchema(ctx context.Context, db *sql.DB) error {
	for _, ddl := range schema {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readRevision(ctx context.Context, q queryer) (int64, error) {
	var rev int64
	if err := q.QueryRowContext(ctx, `SELECT value FROM state_revision WHERE id = 1`).Scan(&rev); err != nil {
		return 0, domain.StoreUnavailableError{Op: "read revision", Err: err}
	}
	return rev, nil
}

// loadSnapshot reads the revision before the buckets, so a commit landing in
// between makes the next persist fail instead of overwriting it.
func loadSnapshot(ctx context.Context, db *sql.DB) (int64, memory.Snapshot, error) {
	rev, err := readRevision(ctx, db)
	if err != nil {
		return 0, memory.Snapshot{}, err
	}
	rows, err := db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return 0, memory.Snapshot{}, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return 0, memory.Snapshot{}, fmt.Errorf("scan state: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		if target, ok := snapshot.Target(bucket); ok {
			if err := json.Unmarshal(payload, target); err != nil {
				return 0, memory.Snapshot{}, fmt.Errorf("decode %s: %w", bucket, err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return 0, memory.Snapshot{}, fmt.Errorf("iterate state: %w", err)
	}
	return rev, snapshot, nil
}

func (s *Store) reload(ctx context.Context) (memory.Snapshot, bool, error) {
	rev, err := readRevision(ctx, s.db)
	if err != nil {
		return memory.Snapshot{}, false, err
	}
	if rev == s.revision {
		return memory.Snapshot{}, false, nil
	}
	rev, snapshot, err := loadSnapshot(ctx, s.db)
	if err != nil {
		return memory.Snapshot{}, false, err
	}
	s.revision = rev
	return snapshot, true, nil
}

func (s *Store) persist(ctx context.Context, snapshot memory.Snapshot, changes []domain.Change) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StoreUnavailableError{Op: "begin tx", Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	// the conditional bump also row-locks the revision until commit
	res, err := tx.ExecContext(ctx, `UPDATE state_revision SET value = value + 1 WHERE id = 1 AND value = $1`, s.revision)
	if err != nil {
		return fmt.Errorf("bump revision: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return domain.StoreUnavailableError{Op: "persist", Err: fmt.Errorf("%w: revision %d is stale", domain.ErrConcurrentWrite, s.revision)}
	}
	for _, bucket := range memory.Buckets {
		value, _ := snapshot.Bucket(bucket)
		data, err := json.Marshal(value)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	for _, change := range changes {
		if change.Entity != domain.EntityRecord {
			continue
		}
		if err := projectRecord(ctx, tx, change); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	s.revision++
	return nil
}

func projectRecord(ctx context.Context, tx *sql.Tx, change domain.Change) error {
	if change.Action == domain.ActionDelete {
		if _, err := tx.ExecContext(ctx, `DELETE FROM business_records WHERE id=$1`, change.EntityID()); err != nil {
			return fmt.Errorf("delete record %s: %w", change.EntityID(), err)
		}
		return nil
	}
	rec, ok := change.After.(domain.BusinessRecord)
	if !ok {
		return fmt.Errorf("record change carries %T", change.After)
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if change.Action == domain.ActionCreate {
		// insert-only: an identifier another writer already committed is refused
		res, err := tx.ExecContext(ctx, `INSERT INTO business_records(id,name,category,location,district,status,updated_at,payload)
			VALUES($1,$2,$3,$4,$5,$6,$7,$8) ON CONFLICT(id) DO NOTHING`,
			rec.ID, rec.Name, rec.Category, rec.Location, rec.District, string(rec.Status), rec.UpdatedAt, payload)
		if err != nil {
			return fmt.Errorf("project record %s: %w", rec.ID, err)
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return domain.StoreUnavailableError{Op: "persist", Err: fmt.Errorf("%w: record %s already exists", domain.ErrConcurrentWrite, rec.ID)}
		}
		return nil
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO business_records(id,name,category,location,district,status,updated_at,payload)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT(id) DO UPDATE SET name=EXCLUDED.name, category=EXCLUDED.category, location=EXCLUDED.location,
		district=EXCLUDED.district, status=EXCLUDED.status, updated_at=EXCLUDED.updated_at, payload=EXCLUDED.payload`,
		rec.ID, rec.Name, rec.Category, rec.Location, rec.District, string(rec.Status), rec.UpdatedAt, payload)
	if err != nil {
		return fmt.Errorf("project record %s: %w", rec.ID, err)
	}
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
