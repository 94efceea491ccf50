// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments. Durable backends wrap it and
// register a Persister that runs before each commit becomes visible.
package memory

import (
	"bizdir/pkg/domain"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// BusinessRecord aliases domain.BusinessRecord for in-memory persistence operations.
	BusinessRecord = domain.BusinessRecord
	// ChangeRequest aliases domain.ChangeRequest.
	ChangeRequest = domain.ChangeRequest
	// TaxonomyEntry aliases domain.TaxonomyEntry.
	TaxonomyEntry = domain.TaxonomyEntry
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// Bucket names used by snapshotting backends.
const (
	BucketRecords  = "records"
	BucketRequests = "requests"
	BucketTaxonomy = "taxonomy"
)

// Buckets lists every snapshot bucket in persistence order.
var Buckets = []string{BucketRecords, BucketRequests, BucketTaxonomy}

type memoryState struct {
	records  map[string]BusinessRecord
	requests map[string]ChangeRequest
	taxonomy map[string]TaxonomyEntry
}

// Snapshot captures a point-in-time clone of the store state. Taxonomy entries
// are keyed by domain.TaxonomyKey.
type Snapshot struct {
	Records  map[string]BusinessRecord `json:"records"`
	Requests map[string]ChangeRequest  `json:"requests"`
	Taxonomy map[string]TaxonomyEntry  `json:"taxonomy"`
}

// Target returns a pointer to the map backing bucket, suitable for decoding.
func (s *Snapshot) Target(bucket string) (any, bool) {
	switch bucket {
	case BucketRecords:
		return &s.Records, true
	case BucketRequests:
		return &s.Requests, true
	case BucketTaxonomy:
		return &s.Taxonomy, true
	}
	return nil, false
}

// Bucket returns the map stored under bucket.
func (s Snapshot) Bucket(bucket string) (any, bool) {
	switch bucket {
	case BucketRecords:
		return s.Records, true
	case BucketRequests:
		return s.Requests, true
	case BucketTaxonomy:
		return s.Taxonomy, true
	}
	return nil, false
}

func newMemoryState() memoryState {
	return memoryState{
		records:  make(map[string]BusinessRecord),
		requests: make(map[string]ChangeRequest),
		taxonomy: make(map[string]TaxonomyEntry),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	cloned := state.clone()
	return Snapshot{Records: cloned.records, Requests: cloned.requests, Taxonomy: cloned.taxonomy}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := memoryState{records: s.Records, requests: s.Requests, taxonomy: make(map[string]TaxonomyEntry, len(s.Taxonomy))}
	for _, entry := range s.Taxonomy {
		// rekey so snapshots written with older key rules still dedupe
		state.taxonomy[domain.TaxonomyKey(entry.Kind, entry.Parent, entry.Value)] = entry
	}
	return state.clone()
}

func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Records == nil {
		snapshot.Records = map[string]BusinessRecord{}
	}
	if snapshot.Requests == nil {
		snapshot.Requests = map[string]ChangeRequest{}
	}
	if snapshot.Taxonomy == nil {
		snapshot.Taxonomy = map[string]TaxonomyEntry{}
	}
	for id, req := range snapshot.Requests {
		if req.Status == "" {
			req.Status = domain.RequestStatusPending
			snapshot.Requests[id] = req
		}
	}
	return snapshot
}

func (s memoryState) clone() memoryState {
	cloned := memoryState{
		records:  make(map[string]BusinessRecord, len(s.records)),
		requests: make(map[string]ChangeRequest, len(s.requests)),
		taxonomy: make(map[string]TaxonomyEntry, len(s.taxonomy)),
	}
	for k, v := range s.records {
		cloned.records[k] = domain.CloneRecord(v)
	}
	for k, v := range s.requests {
		cloned.requests[k] = cloneRequest(v)
	}
	for k, v := range s.taxonomy {
		cloned.taxonomy[k] = v
	}
	return cloned
}

func cloneInput(in domain.FieldInput) domain.FieldInput {
	cp := in
	if in.Extra != nil {
		cp.Extra = make(map[string]string, len(in.Extra))
		for k, v := range in.Extra {
			cp.Extra[k] = v
		}
	}
	if in.Hours != nil {
		h := *in.Hours
		h.Days = append([]domain.DaySchedule(nil), in.Hours.Days...)
		cp.Hours = &h
	}
	cp.Files = append([]domain.UploadFile(nil), in.Files...)
	cp.Assets = append([]domain.ImageAsset(nil), in.Assets...)
	cp.Products = domain.CloneProducts(in.Products)
	if in.ProductFiles != nil {
		cp.ProductFiles = make(map[string]domain.UploadFile, len(in.ProductFiles))
		for k, v := range in.ProductFiles {
			cp.ProductFiles[k] = v
		}
	}
	return cp
}

func cloneRequest(r ChangeRequest) ChangeRequest {
	cp := r
	if r.TargetID != nil {
		id := *r.TargetID
		cp.TargetID = &id
	}
	if r.ReviewedAt != nil {
		at := *r.ReviewedAt
		cp.ReviewedAt = &at
	}
	cp.Value = cloneInput(r.Value)
	if r.Payload != nil {
		cp.Payload = make(map[string]domain.FieldInput, len(r.Payload))
		for k, v := range r.Payload {
			cp.Payload[k] = cloneInput(v)
		}
	}
	cp.PendingAssets = append([]domain.ImageAsset(nil), r.PendingAssets...)
	return cp
}

// Persister durably writes a committed snapshot. It runs while the store lock is
// held and before the new state becomes visible; an error aborts the commit.
type Persister func(ctx context.Context, snapshot Snapshot, changes []Change) error

// Loader rereads durable state at the start of every transaction, under the
// store lock. changed reports whether snapshot replaces the cached state.
type Loader func(ctx context.Context) (snapshot Snapshot, changed bool, err error)

// Option configures a Store.
type Option func(*Store)

// WithPersister registers a durable writer invoked on every commit.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithLoader registers a reader that refreshes the state before each
// transaction, so writers sharing one backend see each other's commits.
func WithLoader(l Loader) Option {
	return func(s *Store) { s.loader = l }
}

// WithClock overrides the store's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu        sync.RWMutex
	state     memoryState
	engine    *RulesEngine
	nowFn     func() time.Time
	persister Persister
	loader    Loader
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// transaction represents a mutation set applied to the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

// transactionView exposes a read-only snapshot of the transactional state to rules.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

func sortedRecords(in map[string]BusinessRecord, keep func(BusinessRecord) bool) []BusinessRecord {
	out := make([]BusinessRecord, 0, len(in))
	for _, r := range in {
		if keep != nil && !keep(r) {
			continue
		}
		out = append(out, domain.CloneRecord(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedRequests(in map[string]ChangeRequest) []ChangeRequest {
	out := make([]ChangeRequest, 0, len(in))
	for _, r := range in {
		out = append(out, cloneRequest(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sortedTaxonomy(in map[string]TaxonomyEntry, kind domain.TaxonomyKind) []TaxonomyEntry {
	out := make([]TaxonomyEntry, 0)
	for _, e := range in {
		if kind != "" && e.Kind != kind {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Parent != out[j].Parent {
			return out[i].Parent < out[j].Parent
		}
		return strings.ToLower(out[i].Value) < strings.ToLower(out[j].Value)
	})
	return out
}

// ListRecords returns all records within the transaction snapshot, ordered by ID.
func (v transactionView) ListRecords() []BusinessRecord {
	return sortedRecords(v.state.records, nil)
}

// FindRecord retrieves a record by ID from the snapshot.
func (v transactionView) FindRecord(id string) (BusinessRecord, bool) {
	r, ok := v.state.records[id]
	if !ok {
		return BusinessRecord{}, false
	}
	return domain.CloneRecord(r), true
}

// ListTaxonomy returns the entries of one vocabulary. An empty kind lists all.
func (v transactionView) ListTaxonomy(kind domain.TaxonomyKind) []TaxonomyEntry {
	return sortedTaxonomy(v.state.taxonomy, kind)
}

// QueryRecords returns records whose scalar attribute key equals value, ignoring case.
func (v transactionView) QueryRecords(key, value string) []BusinessRecord {
	want := strings.TrimSpace(value)
	return sortedRecords(v.state.records, func(r BusinessRecord) bool {
		got, ok := r.StringValue(key)
		return ok && strings.EqualFold(strings.TrimSpace(got), want)
	})
}

// ListRequests returns every change request ordered by submission time.
func (v transactionView) ListRequests() []ChangeRequest {
	return sortedRequests(v.state.requests)
}

// FindRequest retrieves a change request by ID from the snapshot.
func (v transactionView) FindRequest(id string) (ChangeRequest, bool) {
	r, ok := v.state.requests[id]
	if !ok {
		return ChangeRequest{}, false
	}
	return cloneRequest(r), true
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loader != nil {
		snapshot, changed, err := s.loader(ctx)
		if err != nil {
			return Result{}, unavailable("reload", err)
		}
		if changed {
			s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
		}
	}

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if s.persister != nil && len(tx.changes) > 0 {
		if err := s.persister(ctx, snapshotFromMemoryState(tx.state), tx.changes); err != nil {
			return Result{}, unavailable("persist", err)
		}
	}

	s.state = tx.state
	return result, nil
}

func unavailable(op string, err error) error {
	var target domain.StoreUnavailableError
	if errors.As(err, &target) {
		return err
	}
	return domain.StoreUnavailableError{Op: op, Err: err}
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

// helper to record and append change entries.
func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// Now returns the timestamp shared by every mutation in the transaction.
func (tx *transaction) Now() time.Time {
	return tx.now
}

// FindRecord exposes record lookup within the transaction scope.
func (tx *transaction) FindRecord(id string) (BusinessRecord, bool) {
	r, ok := tx.state.records[id]
	if !ok {
		return BusinessRecord{}, false
	}
	return domain.CloneRecord(r), true
}

// FindRequest exposes change request lookup within the transaction scope.
func (tx *transaction) FindRequest(id string) (ChangeRequest, bool) {
	r, ok := tx.state.requests[id]
	if !ok {
		return ChangeRequest{}, false
	}
	return cloneRequest(r), true
}

// CreateRecord stores a new business record. The caller allocates the ID.
func (tx *transaction) CreateRecord(r BusinessRecord) (BusinessRecord, error) {
	if r.ID == "" {
		return BusinessRecord{}, errors.New("business record requires an identifier")
	}
	if _, exists := tx.state.records[r.ID]; exists {
		return BusinessRecord{}, fmt.Errorf("business record %q already exists", r.ID)
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	if r.Status == "" {
		r.Status = domain.RecordStatusApproved
	}
	tx.state.records[r.ID] = domain.CloneRecord(r)
	tx.recordChange(Change{Entity: domain.EntityRecord, Action: domain.ActionCreate, After: domain.CloneRecord(r)})
	return domain.CloneRecord(r), nil
}

// UpdateRecord mutates a record using the provided mutator function.
func (tx *transaction) UpdateRecord(id string, mutator func(*BusinessRecord) error) (BusinessRecord, error) {
	current, ok := tx.state.records[id]
	if !ok {
		return BusinessRecord{}, domain.NotFoundError{Entity: domain.EntityRecord, ID: id}
	}
	before := domain.CloneRecord(current)
	if err := mutator(&current); err != nil {
		return BusinessRecord{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.records[id] = domain.CloneRecord(current)
	tx.recordChange(Change{Entity: domain.EntityRecord, Action: domain.ActionUpdate, Before: before, After: domain.CloneRecord(current)})
	return domain.CloneRecord(current), nil
}

// DeleteRecord removes a record from the transaction state.
func (tx *transaction) DeleteRecord(id string) error {
	current, ok := tx.state.records[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityRecord, ID: id}
	}
	delete(tx.state.records, id)
	tx.recordChange(Change{Entity: domain.EntityRecord, Action: domain.ActionDelete, Before: domain.CloneRecord(current)})
	return nil
}

// CreateRequest stores a new change request.
func (tx *transaction) CreateRequest(r ChangeRequest) (ChangeRequest, error) {
	if r.ID == "" {
		r.ID = tx.store.newID()
	}
	if _, exists := tx.state.requests[r.ID]; exists {
		return ChangeRequest{}, fmt.Errorf("change request %q already exists", r.ID)
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	if r.SubmittedAt.IsZero() {
		r.SubmittedAt = tx.now
	}
	if r.Status == "" {
		r.Status = domain.RequestStatusPending
	}
	tx.state.requests[r.ID] = cloneRequest(r)
	tx.recordChange(Change{Entity: domain.EntityRequest, Action: domain.ActionCreate, After: cloneRequest(r)})
	return cloneRequest(r), nil
}

// UpdateRequest mutates a change request using the provided mutator function.
func (tx *transaction) UpdateRequest(id string, mutator func(*ChangeRequest) error) (ChangeRequest, error) {
	current, ok := tx.state.requests[id]
	if !ok {
		return ChangeRequest{}, domain.NotFoundError{Entity: domain.EntityRequest, ID: id}
	}
	before := cloneRequest(current)
	if err := mutator(&current); err != nil {
		return ChangeRequest{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.requests[id] = cloneRequest(current)
	tx.recordChange(Change{Entity: domain.EntityRequest, Action: domain.ActionUpdate, Before: before, After: cloneRequest(current)})
	return cloneRequest(current), nil
}

// CreateTaxonomyEntry adds a vocabulary value. Creating a value that already
// exists (ignoring case) returns the stored entry without recording a change.
func (tx *transaction) CreateTaxonomyEntry(e TaxonomyEntry) (TaxonomyEntry, error) {
	e.Value = strings.TrimSpace(e.Value)
	e.Parent = strings.TrimSpace(e.Parent)
	if e.Kind == "" || e.Value == "" {
		return TaxonomyEntry{}, errors.New("taxonomy entry requires kind and value")
	}
	if e.Kind == domain.TaxonomyDistrict && e.Parent == "" {
		return TaxonomyEntry{}, errors.New("district entry requires a parent location")
	}
	key := domain.TaxonomyKey(e.Kind, e.Parent, e.Value)
	if existing, ok := tx.state.taxonomy[key]; ok {
		return existing, nil
	}
	if e.ID == "" {
		e.ID = tx.store.newID()
	}
	e.CreatedAt = tx.now
	e.UpdatedAt = tx.now
	tx.state.taxonomy[key] = e
	tx.recordChange(Change{Entity: domain.EntityTaxonomy, Action: domain.ActionCreate, After: e})
	return e, nil
}

// Read helpers ---------------------------------------------------------------

// GetRecord retrieves a business record by ID from committed state.
func (s *Store) GetRecord(id string) (BusinessRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.state.records[id]
	if !ok {
		return BusinessRecord{}, false
	}
	return domain.CloneRecord(r), true
}

// ListRecords returns all business records from committed state.
func (s *Store) ListRecords() []BusinessRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedRecords(s.state.records, nil)
}

// GetRequest retrieves a change request by ID.
func (s *Store) GetRequest(id string) (ChangeRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.state.requests[id]
	if !ok {
		return ChangeRequest{}, false
	}
	return cloneRequest(r), true
}

// ListRequests returns every change request ordered by submission time.
func (s *Store) ListRequests() []ChangeRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedRequests(s.state.requests)
}

// ListTaxonomy returns the entries of one vocabulary.
func (s *Store) ListTaxonomy(kind domain.TaxonomyKind) []TaxonomyEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedTaxonomy(s.state.taxonomy, kind)
}
