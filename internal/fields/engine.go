package fields

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"bizdir/pkg/domain"
)

// DefaultCallingCode is prefixed to normalized phone numbers.
const DefaultCallingCode = "+252"

// Env carries everything a descriptor may consult. It is built per call so
// validation never reads ambient state.
type Env struct {
	Taxonomy    Taxonomy
	CallingCode string
	Images      ImagePolicy
	validate    *validator.Validate
}

// Result is the outcome of validating a single field.
type Result struct {
	OK         bool
	Field      string
	Normalized map[string]any
	Errors     []string
}

// RecordResult is the outcome of validating a full add payload.
type RecordResult struct {
	OK     bool
	Fields []FieldResult
	Errors map[string][]string
}

// FieldResult pairs a descriptor with its validation result.
type FieldResult struct {
	Descriptor Descriptor
	Input      domain.FieldInput
	Result     Result
}

// Engine validates raw field inputs against a registry.
type Engine struct {
	registry    *Registry
	callingCode string
	images      ImagePolicy
	validate    *validator.Validate
}

// Option configures an Engine.
type Option func(*Engine)

// WithCallingCode overrides the calling code prefixed to phone numbers.
func WithCallingCode(code string) Option {
	return func(e *Engine) {
		if code != "" {
			e.callingCode = code
		}
	}
}

// WithRegistry swaps the default descriptor table.
func WithRegistry(r *Registry) Option {
	return func(e *Engine) {
		if r != nil {
			e.registry = r
		}
	}
}

// WithImagePolicy overrides upload limits for image-bearing fields.
func WithImagePolicy(p ImagePolicy) Option {
	return func(e *Engine) {
		e.images = p
	}
}

// NewEngine returns an engine backed by the default registry.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		registry:    DefaultRegistry(),
		callingCode: DefaultCallingCode,
		images:      DefaultImagePolicy(),
		validate:    newValidator(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry exposes the descriptor table used by the engine.
func (e *Engine) Registry() *Registry { return e.registry }

// CallingCode returns the prefix applied to phone numbers.
func (e *Engine) CallingCode() string { return e.callingCode }

// ImagePolicy returns the active upload limits.
func (e *Engine) ImagePolicy() ImagePolicy { return e.images }

// Lookup resolves a descriptor by name.
func (e *Engine) Lookup(field string) (Descriptor, bool) {
	return e.registry.Lookup(field)
}

func (e *Engine) env(tax Taxonomy) Env {
	return Env{Taxonomy: tax, CallingCode: e.callingCode, Images: e.images, validate: e.validate}
}

// Validate checks a single field. Invalid results always carry at least one error.
func (e *Engine) Validate(field string, in domain.FieldInput, tax Taxonomy) Result {
	d, ok := e.registry.Lookup(field)
	if !ok {
		return Result{Field: field, Errors: []string{fmt.Sprintf("unknown field %q", field)}}
	}
	return e.validateDescriptor(d, in, tax)
}

func (e *Engine) validateDescriptor(d Descriptor, in domain.FieldInput, tax Taxonomy) Result {
	env := e.env(tax)
	if errs := d.Validate(env, in); len(errs) > 0 {
		return Result{Field: d.Name, Errors: errs}
	}
	return Result{OK: true, Field: d.Name, Normalized: d.Normalize(env, in)}
}

// ValidateRecord checks a complete add payload keyed by field name or storage
// key. Results follow registry order; absent required fields are reported.
func (e *Engine) ValidateRecord(payload map[string]domain.FieldInput, tax Taxonomy) RecordResult {
	out := RecordResult{OK: true, Errors: make(map[string][]string)}
	byName := make(map[string]domain.FieldInput, len(payload))
	var unknown []string
	for key, in := range payload {
		d, ok := e.registry.Lookup(key)
		if !ok {
			unknown = append(unknown, key)
			continue
		}
		byName[d.Name] = in
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		out.OK = false
		out.Errors[key] = []string{fmt.Sprintf("unknown field %q", key)}
	}
	for _, d := range e.registry.Descriptors() {
		in, present := byName[d.Name]
		if !present {
			if d.Required {
				out.OK = false
				out.Errors[d.Name] = []string{d.Name + " is required"}
			}
			continue
		}
		res := e.validateDescriptor(d, in, tax)
		if !res.OK {
			out.OK = false
			out.Errors[d.Name] = res.Errors
			continue
		}
		out.Fields = append(out.Fields, FieldResult{Descriptor: d, Input: in, Result: res})
	}
	return out
}

// FirstError flattens the record errors into a deterministic field and message list.
func (r RecordResult) FirstError() (string, []string) {
	names := make([]string, 0, len(r.Errors))
	for name := range r.Errors {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "", nil
	}
	return names[0], r.Errors[names[0]]
}

// RenderValue renders a stored value for the audit trail.
func RenderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case domain.OperatingHours:
		return val.String()
	case []domain.ImageAsset:
		names := make([]string, 0, len(val))
		for _, img := range val {
			names = append(names, img.Filename)
		}
		return fmt.Sprintf("%d image(s): %s", len(val), strings.Join(names, ", "))
	case []domain.Product:
		codes := make([]string, 0, len(val))
		for _, p := range val {
			codes = append(codes, p.ItemCode)
		}
		return fmt.Sprintf("%d product(s): %s", len(val), strings.Join(codes, ", "))
	default:
		return fmt.Sprint(val)
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

func describeValidation(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		case "url":
			msgs = append(msgs, fe.Field()+" must be a valid URL")
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return msgs
}
