package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrReasonRequired is returned when a rejection carries no reason.
	ErrReasonRequired = errors.New("rejection reason is required")
	// ErrRequestClosed is returned when a terminal request is driven again.
	ErrRequestClosed = errors.New("change request already reviewed")
	// ErrConcurrentWrite is returned when another writer committed to the shared
	// backend after this process last read it. Retrying rereads the state.
	ErrConcurrentWrite = errors.New("state changed by another writer")
)

// ValidationError reports field-scoped validation failures. The request stays pending.
type ValidationError struct {
	RequestID string
	Field     string
	Messages  []string
}

func (e ValidationError) Error() string {
	msg := fmt.Sprintf("field %q invalid: %s", e.Field, strings.Join(e.Messages, "; "))
	if e.RequestID != "" {
		return fmt.Sprintf("request %s: %s", e.RequestID, msg)
	}
	return msg
}

// NotFoundError is returned when a referenced entity is missing. When raised
// during approval the owning request has already been force-rejected.
type NotFoundError struct {
	Entity    EntityType
	ID        string
	RequestID string
}

func (e NotFoundError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("request %s: %s %s not found", e.RequestID, e.Entity, e.ID)
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// UploadError reports a failed upload batch. Compensated lists handles that
// were uploaded earlier in the batch and deleted again.
type UploadError struct {
	RequestID   string
	File        string
	Index       int
	Err         error
	Compensated []string
}

func (e UploadError) Error() string {
	prefix := ""
	if e.RequestID != "" {
		prefix = "request " + e.RequestID + ": "
	}
	return fmt.Sprintf("%supload of file %d (%s) failed: %v", prefix, e.Index+1, e.File, e.Err)
}

func (e UploadError) Unwrap() error { return e.Err }

// AssetDeletionError is returned when the object store does not confirm a
// deletion. The reference and the asset are both retained.
type AssetDeletionError struct {
	Handle string
	Err    error
}

func (e AssetDeletionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("asset %s: deletion not confirmed by object store", e.Handle)
	}
	return fmt.Sprintf("asset %s: delete failed: %v", e.Handle, e.Err)
}

func (e AssetDeletionError) Unwrap() error { return e.Err }

// StoreUnavailableError wraps transient infrastructure failures. Callers may
// retry the whole operation.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e StoreUnavailableError) Unwrap() error { return e.Err }

// TaxonomyConfirmationError is returned when an approval introduces taxonomy
// values that the reviewer has not confirmed.
type TaxonomyConfirmationError struct {
	RequestID string
	Entries   []TaxonomyEntry
}

func (e TaxonomyConfirmationError) Error() string {
	values := make([]string, 0, len(e.Entries))
	for _, entry := range e.Entries {
		values = append(values, fmt.Sprintf("%s %q", entry.Kind, entry.Value))
	}
	return fmt.Sprintf("request %s: new taxonomy values need confirmation: %s", e.RequestID, strings.Join(values, ", "))
}
