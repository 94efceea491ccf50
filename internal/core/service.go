package core

import (
	"context"
	"strings"
	"time"

	"bizdir/internal/assets"
	"bizdir/internal/blob"
	"bizdir/internal/fields"
	"bizdir/internal/identifier"
	"bizdir/internal/infra/persistence/memory"
	"bizdir/internal/taxonomy"
	"bizdir/pkg/domain"
)

// Service drives change requests through review and keeps business records,
// taxonomy and image assets consistent.
type Service struct {
	store      PersistentStore
	fields     *fields.Engine
	assets     *assets.Coordinator
	allocator  identifier.Allocator
	lock       AllocationLock
	propagator taxonomy.Propagator

	logger  Logger
	clock   Clock
	audit   AuditRecorder
	metrics MetricsRecorder
	tracer  Tracer
}

// NewService constructs a service backed by the supplied store. A nil
// coordinator keeps uploads in process memory.
func NewService(store PersistentStore, coordinator *assets.Coordinator, opts ...ServiceOption) *Service {
	cfg := defaultServiceOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.fields == nil {
		cfg.fields = fields.NewEngine()
	}
	if cfg.lock == nil {
		cfg.lock = NewLocalLock()
	}
	if coordinator == nil {
		coordinator = assets.New(blob.NewMemory(""), assets.WithPolicy(cfg.fields.ImagePolicy()))
	}
	return &Service{
		store:     store,
		fields:    cfg.fields,
		assets:    coordinator,
		allocator: cfg.allocator,
		lock:      cfg.lock,
		logger:    cfg.logger,
		clock:     cfg.clock,
		audit:     cfg.audit,
		metrics:   cfg.metrics,
		tracer:    cfg.tracer,
	}
}

// NewInMemoryService creates a service over an in-memory store and object store.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	return NewService(memory.NewStore(engine), nil, opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore { return s.store }

// Assets returns the asset coordinator.
func (s *Service) Assets() *assets.Coordinator { return s.assets }

// Fields returns the validation engine.
func (s *Service) Fields() *fields.Engine { return s.fields }

type operationMeta struct {
	entity domain.EntityType
	action domain.Action
}

var operationMetadata = map[string]operationMeta{
	"submit_add":           {domain.EntityRequest, domain.ActionCreate},
	"submit_update":        {domain.EntityRequest, domain.ActionCreate},
	"submit_removal":       {domain.EntityRequest, domain.ActionCreate},
	"approve_request":      {domain.EntityRequest, domain.ActionUpdate},
	"reject_request":       {domain.EntityRequest, domain.ActionUpdate},
	"remove_image":         {domain.EntityAsset, domain.ActionDelete},
	"remove_product_image": {domain.EntityAsset, domain.ActionDelete},
	"seed_taxonomy":        {domain.EntityTaxonomy, domain.ActionCreate},
	"sweep_orphans":        {domain.EntityAsset, domain.ActionDelete},
}

// run wraps one service operation with tracing, metrics and audit. fn returns
// the identifier of the entity it acted on.
func (s *Service) run(ctx context.Context, op, actor string, fn func(context.Context) (string, error)) error {
	start := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, op)
	entityID, err := fn(ctx)
	duration := s.clock.Now().Sub(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	if err != nil {
		s.recordAuditError(ctx, op, entityID, actor, duration, err)
		s.logger.Warn("operation failed", "operation", op, "entity_id", entityID, "actor", actor, "error", err)
		return err
	}
	s.recordAuditSuccess(ctx, op, entityID, actor, duration)
	s.logger.Debug("operation completed", "operation", op, "entity_id", entityID, "duration", duration)
	return nil
}

func (s *Service) recordAuditSuccess(ctx context.Context, op, entityID, actor string, duration time.Duration) {
	s.recordAudit(ctx, op, entityID, actor, AuditStatusSuccess, "", duration)
}

func (s *Service) recordAuditError(ctx context.Context, op, entityID, actor string, duration time.Duration, err error) {
	s.recordAudit(ctx, op, entityID, actor, AuditStatusError, err.Error(), duration)
}

func (s *Service) recordAudit(ctx context.Context, op, entityID, actor string, status AuditStatus, msg string, duration time.Duration) {
	meta, ok := operationMetadata[op]
	if !ok {
		return
	}
	s.audit.Record(ctx, AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Actor:     actor,
		Status:    status,
		Error:     msg,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	})
}

// taxonomySnapshot indexes the committed vocabularies.
func (s *Service) taxonomySnapshot() fields.Taxonomy {
	return fields.NewTaxonomy(s.store.ListTaxonomy(""))
}

// GetRecord returns a business record by identifier.
func (s *Service) GetRecord(id string) (BusinessRecord, bool) {
	return s.store.GetRecord(id)
}

// ListRecords returns every business record ordered by identifier.
func (s *Service) ListRecords() []BusinessRecord {
	return s.store.ListRecords()
}

// GetRequest returns a change request, terminal or not.
func (s *Service) GetRequest(id string) (ChangeRequest, bool) {
	return s.store.GetRequest(id)
}

// ListRequests returns every change request ordered by submission time.
func (s *Service) ListRequests() []ChangeRequest {
	return s.store.ListRequests()
}

// ListPendingRequests returns the review queue.
func (s *Service) ListPendingRequests() []ChangeRequest {
	all := s.store.ListRequests()
	out := make([]ChangeRequest, 0, len(all))
	for _, req := range all {
		if req.Status == domain.RequestStatusPending {
			out = append(out, req)
		}
	}
	return out
}

// ListTaxonomy returns the entries of one vocabulary; an empty kind lists all.
func (s *Service) ListTaxonomy(kind domain.TaxonomyKind) []TaxonomyEntry {
	return s.store.ListTaxonomy(kind)
}

// SeedTaxonomy adds entries that are not yet known, ignoring case, and
// returns how many were created.
func (s *Service) SeedTaxonomy(ctx context.Context, actor string, entries []TaxonomyEntry) (int, error) {
	created := 0
	err := s.run(ctx, "seed_taxonomy", actor, func(ctx context.Context) (string, error) {
		created = 0
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			known := fields.NewTaxonomy(tx.Snapshot().ListTaxonomy(""))
			for _, e := range entries {
				value := strings.TrimSpace(e.Value)
				if _, ok := known.Resolve(e.Kind, e.Parent, value); ok || value == "" {
					continue
				}
				if e.CreatedBy == "" {
					e.CreatedBy = actor
				}
				stored, err := tx.CreateTaxonomyEntry(e)
				if err != nil {
					return err
				}
				known = known.With(stored)
				created++
			}
			return nil
		})
		return "", err
	})
	if err != nil {
		return 0, err
	}
	if created > 0 {
		s.logger.Info("taxonomy seeded", "created", created, "actor", actor)
	}
	return created, nil
}
