// ABOUTME: Column and action descriptors that declare how a grid shows a resource
// ABOUTME: Descriptors are plain values; render callbacks must be pure

package grid

import (
	"html/template"
)

// Placeholder is displayed for missing or empty values.
const Placeholder = "—"

// SaveAction is the action key dispatched by the inline edit protocol.
// Resources may not declare it.
const SaveAction = "save"

// RenderFunc builds the display fragment for one cell. It receives the cell
// value and the whole record and must not mutate either.
type RenderFunc func(value any, rec Record) template.HTML

// Column describes how one record field is displayed, searched, filtered and edited.
type Column struct {
	Key   string
	Label string
	// Render defaults to the escaped raw value, or Placeholder when empty.
	Render RenderFunc
	// NoSearch excludes the column from free-text search.
	NoSearch   bool
	Filterable bool
	Editable   bool
}

// Searchable reports whether free-text search looks at this column.
func (c Column) Searchable() bool { return !c.NoSearch }

// Cell renders the column for rec.
func (c Column) Cell(rec Record) template.HTML {
	v := rec[c.Key]
	if c.Render != nil {
		return c.Render(v, rec)
	}
	return DefaultRender(v, rec)
}

// DefaultRender shows the raw value, HTML-escaped.
func DefaultRender(v any, _ Record) template.HTML {
	s := FormatValue(v)
	if s == "" {
		s = Placeholder
	}
	return template.HTML(template.HTMLEscapeString(s))
}

// Action describes one bulk or single-row operation offered by the grid.
type Action struct {
	Key   string
	Label string
	// Multiple actions operate on the whole selection.
	Multiple bool
	// NoSelection lets a single-target action run with nothing selected.
	NoSelection bool
	// Confirm, when set, is the prompt shown before the action runs.
	Confirm string
}

// RequiresSelection reports whether the action needs selected rows.
func (a Action) RequiresSelection() bool {
	return a.Multiple || !a.NoSelection
}
