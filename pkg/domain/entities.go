// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by bizdir.
package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityRecord identifies a canonical business record.
	EntityRecord EntityType = "business_record"
	// EntityRequest identifies a change request awaiting or past review.
	EntityRequest EntityType = "change_request"
	// EntityTaxonomy identifies a controlled vocabulary entry.
	EntityTaxonomy EntityType = "taxonomy_entry"
	// EntityAsset identifies an image asset held in the object store.
	EntityAsset EntityType = "image_asset"
)

// RecordStatus is the lifecycle status of a business record.
type RecordStatus string

// Canonical record statuses.
const (
	RecordStatusPending  RecordStatus = "pending"
	RecordStatusApproved RecordStatus = "approved"
	RecordStatusRejected RecordStatus = "rejected"
)

// RequestKind enumerates the units of work a change request can carry.
type RequestKind string

// Supported change request kinds.
const (
	RequestKindAdd         RequestKind = "add"
	RequestKindUpdateField RequestKind = "update_field"
	RequestKindRemove      RequestKind = "remove"
)

// RequestStatus enumerates the approval states of a change request.
// pending_review is the only non-terminal state.
type RequestStatus string

// Canonical change request states.
const (
	RequestStatusPending  RequestStatus = "pending_review"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusRejected RequestStatus = "rejected"
)

// Terminal reports whether no further transition is allowed from the status.
func (s RequestStatus) Terminal() bool {
	return s == RequestStatusApproved || s == RequestStatusRejected
}

// TaxonomyKind identifies an open-ended controlled vocabulary.
type TaxonomyKind string

// Supported vocabularies. Districts are scoped to a parent location.
const (
	TaxonomyCategory TaxonomyKind = "category"
	TaxonomyLocation TaxonomyKind = "location"
	TaxonomyDistrict TaxonomyKind = "district"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id" bson:"_id"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// BusinessRecord is the canonical directory listing. Its ID is the structured
// business identifier and never changes once assigned.
type BusinessRecord struct {
	Base       `bson:",inline"`
	Name       string         `json:"name" bson:"name"`
	Address    string         `json:"address" bson:"address"`
	Category   string         `json:"category" bson:"category"`
	Location   string         `json:"location" bson:"location"`
	District   string         `json:"district" bson:"district"`
	Phone      string         `json:"phone" bson:"phone"`
	WhatsApp   string         `json:"whatsapp" bson:"whatsapp"`
	Email      string         `json:"email" bson:"email"`
	Website    string         `json:"website,omitempty" bson:"website,omitempty"`
	SocialLink string         `json:"social_link,omitempty" bson:"social_link,omitempty"`
	MapLink    string         `json:"map_link,omitempty" bson:"map_link,omitempty"`
	About      string         `json:"about" bson:"about"`
	Hours      OperatingHours `json:"hours" bson:"hours"`
	Images     []ImageAsset   `json:"images" bson:"images"`
	Products   []Product      `json:"products" bson:"products"`
	Status     RecordStatus   `json:"status" bson:"status"`
	History    []HistoryEntry `json:"history" bson:"history"`
}

// HistoryEntry is one audit-trail line on a business record.
type HistoryEntry struct {
	Field     string    `json:"field" bson:"field"`
	OldValue  string    `json:"old_value" bson:"old_value"`
	NewValue  string    `json:"new_value" bson:"new_value"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	Actor     string    `json:"actor" bson:"actor"`
	RequestID string    `json:"request_id,omitempty" bson:"request_id,omitempty"`
}

// HasRequest reports whether any history entry was produced by the given request.
func (r BusinessRecord) HasRequest(requestID string) bool {
	if requestID == "" {
		return false
	}
	for _, h := range r.History {
		if h.RequestID == requestID {
			return true
		}
	}
	return false
}

// DaySchedule holds the opening window for a single weekday. Times are "HH:MM" (24h).
type DaySchedule struct {
	Day       string `json:"day" bson:"day"`
	IsOpen    bool   `json:"is_open" bson:"is_open"`
	OpenTime  string `json:"open_time,omitempty" bson:"open_time,omitempty"`
	CloseTime string `json:"close_time,omitempty" bson:"close_time,omitempty"`
}

// OperatingHours is either always open or a per-weekday schedule.
type OperatingHours struct {
	AlwaysOpen bool          `json:"always_open" bson:"always_open"`
	Days       []DaySchedule `json:"days,omitempty" bson:"days,omitempty"`
}

// String renders the schedule for audit history and reports.
func (h OperatingHours) String() string {
	if h.AlwaysOpen {
		return "always open"
	}
	parts := make([]string, 0, len(h.Days))
	for _, d := range h.Days {
		if !d.IsOpen {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s-%s", d.Day, d.OpenTime, d.CloseTime))
	}
	if len(parts) == 0 {
		return "closed"
	}
	return strings.Join(parts, ", ")
}

// ImageAsset pairs an object store handle with its public URL and metadata.
type ImageAsset struct {
	Handle   string `json:"handle" bson:"handle"`
	URL      string `json:"url" bson:"url"`
	Filename string `json:"filename" bson:"filename"`
	Size     int64  `json:"size_bytes" bson:"size_bytes"`
	Width    int    `json:"width,omitempty" bson:"width,omitempty"`
	Height   int    `json:"height,omitempty" bson:"height,omitempty"`
	Format   string `json:"format,omitempty" bson:"format,omitempty"`
}

// Product is a catalogue item owned by exactly one business record.
type Product struct {
	Name     string      `json:"name" bson:"name" validate:"required,max=100"`
	ItemCode string      `json:"item_code" bson:"item_code" validate:"required,max=40"`
	OldPrice float64     `json:"old_price" bson:"old_price" validate:"gte=0"`
	NewPrice float64     `json:"new_price" bson:"new_price" validate:"gte=0"`
	InStock  bool        `json:"in_stock" bson:"in_stock"`
	Image    *ImageAsset `json:"image,omitempty" bson:"image,omitempty" validate:"-"`
}

// Discount returns the rounded percentage saved when OldPrice > NewPrice > 0.
// The second return value is false when no discount applies; the discount is
// absent in that case rather than zero.
func (p Product) Discount() (int, bool) {
	if !(p.OldPrice > p.NewPrice && p.NewPrice > 0) {
		return 0, false
	}
	return int(math.Round((p.OldPrice - p.NewPrice) / p.OldPrice * 100)), true
}

// ChangeRequest is a pending unit of proposed mutation to a business record.
type ChangeRequest struct {
	Base          `bson:",inline"`
	TargetID      *string               `json:"target_id" bson:"target_id"`
	Kind          RequestKind           `json:"kind" bson:"kind"`
	Field         string                `json:"field,omitempty" bson:"field,omitempty"`
	Value         FieldInput            `json:"value" bson:"value"`
	Payload       map[string]FieldInput `json:"payload,omitempty" bson:"payload,omitempty"`
	Note          string                `json:"note,omitempty" bson:"note,omitempty"`
	Status        RequestStatus         `json:"status" bson:"status"`
	SubmittedBy   string                `json:"submitted_by" bson:"submitted_by"`
	SubmittedAt   time.Time             `json:"submitted_at" bson:"submitted_at"`
	ReviewedAt    *time.Time            `json:"reviewed_at,omitempty" bson:"reviewed_at,omitempty"`
	ReviewedBy    string                `json:"reviewed_by,omitempty" bson:"reviewed_by,omitempty"`
	ReviewerNote  string                `json:"reviewer_note,omitempty" bson:"reviewer_note,omitempty"`
	PendingAssets []ImageAsset          `json:"pending_assets,omitempty" bson:"pending_assets,omitempty"`
}

// FieldInput is the raw, unvalidated value submitted for a single field. Only
// the members relevant to the field's kind are populated.
type FieldInput struct {
	Value    string            `json:"value,omitempty" bson:"value,omitempty"`
	Extra    map[string]string `json:"extra,omitempty" bson:"extra,omitempty"`
	Hours    *OperatingHours   `json:"hours,omitempty" bson:"hours,omitempty"`
	Files    []UploadFile      `json:"-" bson:"-"`
	Assets   []ImageAsset      `json:"assets,omitempty" bson:"assets,omitempty"`
	Products []Product         `json:"products,omitempty" bson:"products,omitempty"`

	// ProductFiles holds new product images keyed by item code.
	ProductFiles map[string]UploadFile `json:"-" bson:"-"`
}

// HasUploads reports whether the input still carries raw files.
func (in FieldInput) HasUploads() bool {
	return len(in.Files) > 0 || len(in.ProductFiles) > 0
}

// UploadFile is an image file awaiting upload. It is never persisted.
type UploadFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// Size returns the payload length in bytes.
func (f UploadFile) Size() int64 { return int64(len(f.Data)) }

// TaxonomyEntry is one value in an open-ended controlled vocabulary.
type TaxonomyEntry struct {
	Base      `bson:",inline"`
	Kind      TaxonomyKind `json:"kind" bson:"kind"`
	Value     string       `json:"value" bson:"value"`
	Parent    string       `json:"parent,omitempty" bson:"parent,omitempty"`
	CreatedBy string       `json:"created_by,omitempty" bson:"created_by,omitempty"`
}

// TaxonomyKey derives the stable, case-insensitive storage key for an entry.
func TaxonomyKey(kind TaxonomyKind, parent, value string) string {
	key := string(kind) + ":"
	if parent != "" {
		key += strings.ToLower(strings.TrimSpace(parent)) + "/"
	}
	return key + strings.ToLower(strings.TrimSpace(value))
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// EntityID returns the identifier of the entity touched by the change.
func (c Change) EntityID() string {
	for _, v := range []any{c.After, c.Before} {
		switch e := v.(type) {
		case BusinessRecord:
			return e.ID
		case ChangeRequest:
			return e.ID
		case TaxonomyEntry:
			return e.ID
		}
	}
	return ""
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
