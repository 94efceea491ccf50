// Package fields holds the registry of editable business record fields and
// the engine that validates and normalizes submitted values against it.
package fields

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"bizdir/pkg/domain"
)

// Kind tags a descriptor with the validation family it belongs to.
type Kind string

// Supported field kinds.
const (
	KindText     Kind = "text"
	KindLongText Kind = "long_text"
	KindPhone    Kind = "phone"
	KindEmail    Kind = "email"
	KindTaxonomy Kind = "taxonomy"
	KindURL      Kind = "url"
	KindHours    Kind = "hours"
	KindImages   Kind = "images"
	KindProducts Kind = "products"
)

// Descriptor describes one logical field: how to check it, how to turn a raw
// input into storage values and which storage keys it writes.
type Descriptor struct {
	Name     string
	Kind     Kind
	Keys     []string
	Required bool
	// Taxonomy is set for fields that reference a controlled vocabulary.
	Taxonomy domain.TaxonomyKind

	Validate  func(Env, domain.FieldInput) []string
	Normalize func(Env, domain.FieldInput) map[string]any
	Render    func(any) string
}

// Key returns the primary storage key.
func (d Descriptor) Key() string {
	if len(d.Keys) == 0 {
		return ""
	}
	return d.Keys[0]
}

// Registry is an ordered table of descriptors. Order defines the order in
// which a multi-field payload is applied and audited.
type Registry struct {
	ordered []Descriptor
	index   map[string]int
}

// NewRegistry builds a registry from descriptors; names and primary storage
// keys must be unique.
func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{index: make(map[string]int)}
	for _, d := range descriptors {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends a descriptor to the registry.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" || len(d.Keys) == 0 {
		return fmt.Errorf("descriptor needs a name and at least one storage key")
	}
	if d.Validate == nil || d.Normalize == nil {
		return fmt.Errorf("descriptor %s: validate and normalize are required", d.Name)
	}
	for _, alias := range []string{d.Name, d.Key()} {
		if _, exists := r.index[Fold(alias)]; exists {
			return fmt.Errorf("descriptor %s: %q already registered", d.Name, alias)
		}
	}
	if d.Render == nil {
		d.Render = RenderValue
	}
	r.ordered = append(r.ordered, d)
	pos := len(r.ordered) - 1
	r.index[Fold(d.Name)] = pos
	r.index[Fold(d.Key())] = pos
	return nil
}

// Lookup resolves a descriptor by human-facing name or primary storage key,
// ignoring case.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	pos, ok := r.index[Fold(name)]
	if !ok {
		return Descriptor{}, false
	}
	return r.ordered[pos], true
}

// Descriptors returns the registry in application order.
func (r *Registry) Descriptors() []Descriptor {
	return append([]Descriptor(nil), r.ordered...)
}

// Fold normalizes a string for case-insensitive comparison.
func Fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}
