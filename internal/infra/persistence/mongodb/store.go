// Package mongodb persists the in-memory store into MongoDB, one document per
// entity. Each transaction rereads the collections and each commit is
// translated into ordered bulk inserts, replaces and deletes.
package mongodb

import (
	"bizdir/internal/infra/persistence/memory"
	"bizdir/pkg/domain"
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var _ domain.PersistentStore = (*Store)(nil)

// Collection names keyed by snapshot bucket.
var collectionNames = map[string]string{
	memory.BucketRecords:  "business_records",
	memory.BucketRequests: "change_requests",
	memory.BucketTaxonomy: "taxonomy_entries",
}

// DefaultDatabase is used when no database name is configured.
const DefaultDatabase = "bizdir"

const connectTimeout = 10 * time.Second

type collection interface {
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	BulkWrite(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error)
}

// Store persists state to MongoDB while reusing the in-memory implementation for transactions.
type Store struct {
	*memory.Store
	client      *mongo.Client
	collections map[string]collection
}

// NewStore connects to uri, loads every collection, and returns a store that
// writes each commit back before it becomes visible.
func NewStore(ctx context.Context, uri, database string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if database == "" {
		database = DefaultDatabase
	}
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, domain.StoreUnavailableError{Op: "ping mongo", Err: err}
	}
	db := client.Database(database)
	cols := make(map[string]collection, len(collectionNames))
	for bucket, name := range collectionNames {
		cols[bucket] = db.Collection(name)
	}
	s, err := newStore(ctx, cols, engine, opts...)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	s.client = client
	return s, nil
}

func newStore(ctx context.Context, cols map[string]collection, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	s := &Store{collections: cols}
	snapshot, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	s.Store = memory.NewStore(engine, append(opts, memory.WithPersister(s.persist), memory.WithLoader(s.reload))...)
	s.ImportState(snapshot)
	return s, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func (s *Store) load(ctx context.Context) (memory.Snapshot, error) {
	var records []domain.BusinessRecord
	var requests []domain.ChangeRequest
	var entries []domain.TaxonomyEntry
	targets := map[string]any{
		memory.BucketRecords:  &records,
		memory.BucketRequests: &requests,
		memory.BucketTaxonomy: &entries,
	}
	for _, bucket := range memory.Buckets {
		col, ok := s.collections[bucket]
		if !ok {
			return memory.Snapshot{}, fmt.Errorf("no collection for bucket %s", bucket)
		}
		cur, err := col.Find(ctx, bson.M{})
		if err != nil {
			return memory.Snapshot{}, domain.StoreUnavailableError{Op: "load " + bucket, Err: err}
		}
		if err := cur.All(ctx, targets[bucket]); err != nil {
			return memory.Snapshot{}, fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	snapshot := memory.Snapshot{
		Records:  make(map[string]domain.BusinessRecord, len(records)),
		Requests: make(map[string]domain.ChangeRequest, len(requests)),
		Taxonomy: make(map[string]domain.TaxonomyEntry, len(entries)),
	}
	for _, r := range records {
		snapshot.Records[r.ID] = r
	}
	for _, r := range requests {
		snapshot.Requests[r.ID] = r
	}
	for _, e := range entries {
		snapshot.Taxonomy[domain.TaxonomyKey(e.Kind, e.Parent, e.Value)] = e
	}
	return snapshot, nil
}

func (s *Store) reload(ctx context.Context) (memory.Snapshot, bool, error) {
	snapshot, err := s.load(ctx)
	if err != nil {
		return memory.Snapshot{}, false, err
	}
	return snapshot, true, nil
}

func bucketFor(entity domain.EntityType) (string, bool) {
	switch entity {
	case domain.EntityRecord:
		return memory.BucketRecords, true
	case domain.EntityRequest:
		return memory.BucketRequests, true
	case domain.EntityTaxonomy:
		return memory.BucketTaxonomy, true
	}
	return "", false
}

// writeModels groups change entries into per-bucket bulk operations, keeping
// their original order within a bucket.
func writeModels(changes []domain.Change) map[string][]mongo.WriteModel {
	out := make(map[string][]mongo.WriteModel)
	for _, change := range changes {
		bucket, ok := bucketFor(change.Entity)
		if !ok {
			continue
		}
		filter := bson.M{"_id": change.EntityID()}
		var model mongo.WriteModel
		switch change.Action {
		case domain.ActionDelete:
			model = mongo.NewDeleteOneModel().SetFilter(filter)
		case domain.ActionCreate:
			// insert-only: a duplicate _id from another writer fails the batch
			model = mongo.NewInsertOneModel().SetDocument(change.After)
		default:
			model = mongo.NewReplaceOneModel().SetFilter(filter).SetReplacement(change.After).SetUpsert(true)
		}
		out[bucket] = append(out[bucket], model)
	}
	return out
}

func (s *Store) persist(ctx context.Context, _ memory.Snapshot, changes []domain.Change) error {
	models := writeModels(changes)
	for _, bucket := range memory.Buckets {
		batch := models[bucket]
		if len(batch) == 0 {
			continue
		}
		if _, err := s.collections[bucket].BulkWrite(ctx, batch, options.BulkWrite().SetOrdered(true)); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				err = errors.Join(domain.ErrConcurrentWrite, err)
			}
			return domain.StoreUnavailableError{Op: "write " + collectionNames[bucket], Err: err}
		}
	}
	return nil
}
