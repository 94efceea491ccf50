package domain

import (
	"context"
	"time"
)

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	Now() time.Time
	CreateRecord(BusinessRecord) (BusinessRecord, error)
	UpdateRecord(id string, mutator func(*BusinessRecord) error) (BusinessRecord, error)
	DeleteRecord(id string) error
	FindRecord(id string) (BusinessRecord, bool)
	CreateRequest(ChangeRequest) (ChangeRequest, error)
	UpdateRequest(id string, mutator func(*ChangeRequest) error) (ChangeRequest, error)
	FindRequest(id string) (ChangeRequest, bool)
	CreateTaxonomyEntry(TaxonomyEntry) (TaxonomyEntry, error)
}

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	RuleView
	QueryRecords(key, value string) []BusinessRecord
	ListRequests() []ChangeRequest
	FindRequest(id string) (ChangeRequest, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetRecord(id string) (BusinessRecord, bool)
	ListRecords() []BusinessRecord
	GetRequest(id string) (ChangeRequest, bool)
	ListRequests() []ChangeRequest
	ListTaxonomy(kind TaxonomyKind) []TaxonomyEntry
}
