// ABOUTME: Resource bindings connect a collection to remote operations and grid presentation
// ABOUTME: Bindings are validated once at construction and immutable afterwards

package resource

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/2389/pymemap-console/internal/grid"
)

// Built-in action keys synthesized for every binding.
const (
	ActionDelete  = "delete"
	ActionView    = "view"
	ActionRefresh = "refresh"
)

var reservedKeys = []string{grid.SaveAction, ActionDelete, ActionView, ActionRefresh}

var (
	// ErrUnknownResource is returned by Registry.Get for names it does not hold.
	ErrUnknownResource = errors.New("unknown resource")
	// ErrUpdateUnsupported is returned when updating a resource without an updater.
	ErrUpdateUnsupported = errors.New("this collection does not support updates")
	// ErrDeleteUnsupported is returned when deleting from a resource without a deleter.
	ErrDeleteUnsupported = errors.New("this collection does not support deletion")
)

// Loader fetches the whole collection.
type Loader func(ctx context.Context) ([]grid.Record, error)

// Updater sends the full merged record for id.
type Updater func(ctx context.Context, id string, rec grid.Record) (grid.Record, error)

// Deleter removes one record.
type Deleter func(ctx context.Context, id string) error

// Operation is a resource-specific action run once per selected id.
type Operation struct {
	Action grid.Action
	Run    func(ctx context.Context, id string) error
	// Done describes a completed run in notices, e.g. "confirmed".
	Done string
}

// Spec declares a resource binding.
type Spec struct {
	Name  string
	Title string

	Load   Loader
	Update Updater
	Delete Deleter

	Columns    []grid.Column
	Operations []Operation
	// NoDetails drops the "view" action.
	NoDetails bool
	Metrics   []MetricSpec
}

// Binding is a validated, immutable resource binding.
type Binding struct {
	spec    Spec
	actions []grid.Action
	ops     map[string]Operation
	metrics []metric
}

// New validates spec and builds the binding.
func New(spec Spec) (*Binding, error) {
	if spec.Name == "" {
		return nil, errors.New("resource: name is required")
	}
	if spec.Title == "" {
		return nil, fmt.Errorf("resource %s: title is required", spec.Name)
	}
	if spec.Load == nil {
		return nil, fmt.Errorf("resource %s: loader is required", spec.Name)
	}
	if len(spec.Columns) == 0 {
		return nil, fmt.Errorf("resource %s: at least one column is required", spec.Name)
	}
	seen := map[string]bool{}
	for _, c := range spec.Columns {
		if c.Key == "" {
			return nil, fmt.Errorf("resource %s: column without key", spec.Name)
		}
		if seen[c.Key] {
			return nil, fmt.Errorf("resource %s: duplicate column %q", spec.Name, c.Key)
		}
		seen[c.Key] = true
	}

	b := &Binding{spec: spec, ops: map[string]Operation{}}
	for _, op := range spec.Operations {
		key := op.Action.Key
		switch {
		case key == "":
			return nil, fmt.Errorf("resource %s: operation without key", spec.Name)
		case slices.Contains(reservedKeys, key):
			return nil, fmt.Errorf("resource %s: operation key %q is reserved", spec.Name, key)
		case b.ops[key].Run != nil:
			return nil, fmt.Errorf("resource %s: duplicate operation %q", spec.Name, key)
		case op.Run == nil:
			return nil, fmt.Errorf("resource %s: operation %q has no run function", spec.Name, key)
		}
		b.ops[key] = op
		b.actions = append(b.actions, op.Action)
	}
	if spec.Delete != nil {
		b.actions = append(b.actions, grid.Action{
			Key:      ActionDelete,
			Label:    "Delete selected",
			Multiple: true,
			Confirm:  "Delete the selected records?",
		})
	}
	if !spec.NoDetails {
		b.actions = append(b.actions, grid.Action{Key: ActionView, Label: "View details"})
	}
	b.actions = append(b.actions, grid.Action{Key: ActionRefresh, Label: "Refresh", NoSelection: true})

	for _, ms := range spec.Metrics {
		m, err := compileMetric(ms)
		if err != nil {
			return nil, fmt.Errorf("resource %s: %w", spec.Name, err)
		}
		b.metrics = append(b.metrics, m)
	}
	return b, nil
}

// MustNew is New for statically declared bindings.
func MustNew(spec Spec) *Binding {
	b, err := New(spec)
	if err != nil {
		panic(err)
	}
	return b
}

// Name returns the resource name.
func (b *Binding) Name() string { return b.spec.Name }

// Title returns the display title.
func (b *Binding) Title() string { return b.spec.Title }

// Columns returns the column descriptors.
func (b *Binding) Columns() []grid.Column { return slices.Clone(b.spec.Columns) }

// Actions returns the synthesized action list.
func (b *Binding) Actions() []grid.Action { return slices.Clone(b.actions) }

// FilterFields returns the column keys offered for free-text filtering.
func (b *Binding) FilterFields() []grid.Column {
	var out []grid.Column
	for _, c := range b.spec.Columns {
		if c.Searchable() || c.Filterable {
			out = append(out, c)
		}
	}
	return out
}

// Column returns the column with key.
func (b *Binding) Column(key string) (grid.Column, bool) {
	for _, c := range b.spec.Columns {
		if c.Key == key {
			return c, true
		}
	}
	return grid.Column{}, false
}

// Load fetches the collection.
func (b *Binding) Load(ctx context.Context) ([]grid.Record, error) {
	return b.spec.Load(ctx)
}

// CanUpdate reports whether the binding has an updater.
func (b *Binding) CanUpdate() bool { return b.spec.Update != nil }

// CanDelete reports whether the binding has a deleter.
func (b *Binding) CanDelete() bool { return b.spec.Delete != nil }

// Update sends the merged record for id.
func (b *Binding) Update(ctx context.Context, id string, rec grid.Record) (grid.Record, error) {
	if b.spec.Update == nil {
		return nil, ErrUpdateUnsupported
	}
	return b.spec.Update(ctx, id, rec)
}

// Delete removes id.
func (b *Binding) Delete(ctx context.Context, id string) error {
	if b.spec.Delete == nil {
		return ErrDeleteUnsupported
	}
	return b.spec.Delete(ctx, id)
}

// Operation returns the resource-specific operation for key.
func (b *Binding) Operation(key string) (Operation, bool) {
	op, ok := b.ops[key]
	return op, ok
}

// Registry holds bindings by name in registration order.
type Registry struct {
	order  []string
	byName map[string]*Binding
}

// NewRegistry builds a registry. Names must be unique.
func NewRegistry(bindings ...*Binding) (*Registry, error) {
	r := &Registry{byName: map[string]*Binding{}}
	for _, b := range bindings {
		if _, dup := r.byName[b.Name()]; dup {
			return nil, fmt.Errorf("duplicate resource %q", b.Name())
		}
		r.byName[b.Name()] = b
		r.order = append(r.order, b.Name())
	}
	if len(r.order) == 0 {
		return nil, errors.New("registry needs at least one resource")
	}
	return r, nil
}

// Get returns the binding named name.
func (r *Registry) Get(name string) (*Binding, error) {
	b, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, name)
	}
	return b, nil
}

// Names lists resource names in registration order.
func (r *Registry) Names() []string { return slices.Clone(r.order) }

// Default returns the first registered resource name.
func (r *Registry) Default() string { return r.order[0] }

// Bindings lists every binding in registration order.
func (r *Registry) Bindings() []*Binding {
	out := make([]*Binding, len(r.order))
	for i, name := range r.order {
		out[i] = r.byName[name]
	}
	return out
}
