package postgres

import (
	"bizdir/pkg/domain"
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T, rows *sqlmock.Rows) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS state").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS business_records").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS state_revision").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO state_revision").WillReturnResult(sqlmock.NewResult(0, 1))
	expectRevision(mock, 0)
	mock.ExpectQuery("SELECT bucket, payload FROM state").WillReturnRows(rows)

	store, err := NewStore(context.Background(), "", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, mock
}

func expectRevision(mock sqlmock.Sqlmock, rev int64) {
	mock.ExpectQuery("SELECT value FROM state_revision").WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(rev))
}

// expectCommitStart covers the unchanged reload and the revision bump that open every commit.
func expectCommitStart(mock sqlmock.Sqlmock, rev int64) {
	expectRevision(mock, rev)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE state_revision").WithArgs(rev).WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestNewStoreEnsuresSchemaAndLoadsSnapshot(t *testing.T) {
	rows := sqlmock.NewRows([]string{"bucket", "payload"}).
		AddRow("records", []byte(`{"BIZ-01-0001":{"id":"BIZ-01-0001","name":"Hodan Bakery","status":"approved"}}`)).
		AddRow("taxonomy", []byte(`{"category:food":{"id":"t1","kind":"category","value":"Food"}}`)).
		AddRow("unknown", []byte(`{}`))
	store, mock := newMockStore(t, rows)

	rec, ok := store.GetRecord("BIZ-01-0001")
	if !ok || rec.Name != "Hodan Bakery" {
		t.Fatalf("expected record loaded from snapshot, got %+v", rec)
	}
	if got := store.ListTaxonomy(domain.TaxonomyCategory); len(got) != 1 || got[0].Value != "Food" {
		t.Fatalf("expected category loaded from snapshot, got %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRunInTransactionPersistsBucketsAndProjection(t *testing.T) {
	store, mock := newMockStore(t, sqlmock.NewRows([]string{"bucket", "payload"}))

	expectCommitStart(mock, 0)
	for _, bucket := range []string{"records", "requests", "taxonomy"} {
		mock.ExpectExec("INSERT INTO state").WithArgs(bucket, sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectExec("INSERT INTO business_records").
		WithArgs("BIZ-01-0002", "Xamar Tailors", "Retail", "Mogadishu", "Hodan", "approved", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateRecord(domain.BusinessRecord{
			Base:     domain.Base{ID: "BIZ-01-0002"},
			Name:     "Xamar Tailors",
			Category: "Retail",
			Location: "Mogadishu",
			District: "Hodan",
		})
		return err
	})
	if err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}
	if _, ok := store.GetRecord("BIZ-01-0002"); !ok {
		t.Fatalf("expected committed record")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteRemovesProjection(t *testing.T) {
	rows := sqlmock.NewRows([]string{"bucket", "payload"}).
		AddRow("records", []byte(`{"BIZ-01-0001":{"id":"BIZ-01-0001","name":"Hodan Bakery"}}`))
	store, mock := newMockStore(t, rows)

	expectCommitStart(mock, 0)
	for range 3 {
		mock.ExpectExec("INSERT INTO state").WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectExec("DELETE FROM business_records").WithArgs("BIZ-01-0001").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return tx.DeleteRecord("BIZ-01-0001")
	})
	if err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPersistFailureKeepsStateUnchanged(t *testing.T) {
	store, mock := newMockStore(t, sqlmock.NewRows([]string{"bucket", "payload"}))

	expectCommitStart(mock, 0)
	mock.ExpectExec("INSERT INTO state").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateRecord(domain.BusinessRecord{Base: domain.Base{ID: "BIZ-01-0003"}})
		return err
	})
	var unavailable domain.StoreUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected StoreUnavailableError, got %v", err)
	}
	if _, ok := store.GetRecord("BIZ-01-0003"); ok {
		t.Fatalf("record must not be visible after failed persist")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestNewStoreSurfacesSchemaErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS state").WillReturnError(errors.New("permission denied"))
	mock.ExpectClose()

	if _, err := NewStore(context.Background(), "postgres://example", nil); err == nil {
		t.Fatalf("expected schema error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTransactionReloadsAfterAnotherWriter(t *testing.T) {
	store, mock := newMockStore(t, sqlmock.NewRows([]string{"bucket", "payload"}))

	expectRevision(mock, 4)
	expectRevision(mock, 4)
	mock.ExpectQuery("SELECT bucket, payload FROM state").WillReturnRows(sqlmock.NewRows([]string{"bucket", "payload"}).
		AddRow("records", []byte(`{"BIZ-01-0001":{"id":"BIZ-01-0001","name":"Hodan Bakery"}}`)))

	var seen bool
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, seen = tx.Snapshot().FindRecord("BIZ-01-0001")
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}
	if !seen {
		t.Fatalf("expected the other writer's record after reload")
	}
	if store.revision != 4 {
		t.Fatalf("expected revision 4, got %d", store.revision)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStaleRevisionIsRefused(t *testing.T) {
	store, mock := newMockStore(t, sqlmock.NewRows([]string{"bucket", "payload"}))

	expectRevision(mock, 0)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE state_revision").WithArgs(int64(0)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateRecord(domain.BusinessRecord{Base: domain.Base{ID: "BIZ-01-0001"}})
		return err
	})
	if !errors.Is(err, domain.ErrConcurrentWrite) {
		t.Fatalf("expected ErrConcurrentWrite, got %v", err)
	}
	if _, ok := store.GetRecord("BIZ-01-0001"); ok {
		t.Fatalf("refused commit must not be visible")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateOfExistingIdentifierIsRefused(t *testing.T) {
	store, mock := newMockStore(t, sqlmock.NewRows([]string{"bucket", "payload"}))

	expectCommitStart(mock, 0)
	for range 3 {
		mock.ExpectExec("INSERT INTO state").WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectExec("ON CONFLICT\\(id\\) DO NOTHING").WithArgs("BIZ-01-0001", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
		sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateRecord(domain.BusinessRecord{Base: domain.Base{ID: "BIZ-01-0001"}, Name: "Xamar Tailors"})
		return err
	})
	if !errors.Is(err, domain.ErrConcurrentWrite) {
		t.Fatalf("expected ErrConcurrentWrite, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
