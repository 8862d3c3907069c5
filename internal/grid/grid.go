// ABOUTME: Grid engine holding per-table view state over a record dataset
// ABOUTME: Computes filtered/paged views, selection, inline edit and action dispatch

package grid

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
)

var (
	// ErrNoContainer is returned when a grid is constructed without an ID.
	ErrNoContainer = errors.New("grid: container id is required")
	// ErrUnknownRecord is returned for identities not present in the dataset.
	ErrUnknownRecord = errors.New("grid: unknown record")
	// ErrEditInProgress is returned when another row is already being edited.
	ErrEditInProgress = errors.New("grid: another row is being edited")
	// ErrNotEditing is returned when saving without an edit in progress.
	ErrNotEditing = errors.New("grid: no row is being edited")
	// ErrUnknownAction is returned for action keys the grid was not configured with.
	ErrUnknownAction = errors.New("grid: unknown action")
	// ErrActionDisabled is returned when the selection does not satisfy the action.
	ErrActionDisabled = errors.New("grid: action is not available for the current selection")
	// ErrInvalidPerPage is returned for page sizes outside the configured options.
	ErrInvalidPerPage = errors.New("grid: page size not allowed")
	// ErrNotFilterable is returned when filtering on a column that does not allow it.
	ErrNotFilterable = errors.New("grid: column is not filterable")
	// ErrExternalFiltering is returned when search or filters are set on a grid
	// whose owner supplies pre-filtered data.
	ErrExternalFiltering = errors.New("grid: filtering is handled by the owner")
)

// DefaultPerPageOptions are used when a Config leaves PerPageOptions empty.
var DefaultPerPageOptions = []int{10, 20, 50}

// ActionEvent is what the grid hands to its owner when an action fires.
type ActionEvent struct {
	Key     string
	IDs     []string
	Updates Record
}

// ActionFunc receives dispatched actions. It runs without the grid lock held,
// so it may call back into the grid.
type ActionFunc func(ctx context.Context, ev ActionEvent) error

// Config configures a grid instance.
type Config struct {
	// ID identifies the grid in rendered markup. Required.
	ID             string
	Columns        []Column
	Actions        []Action
	PerPageOptions []int
	// ExternalFiltering turns off the grid's own search and column filters.
	// The owner is then the only filtering authority and passes pre-filtered records.
	ExternalFiltering bool
	OnAction          ActionFunc
}

// State is a snapshot of a grid's view state.
type State struct {
	Page     int
	PerPage  int
	Search   string
	Filters  map[string]string
	Selected map[string]bool
	Editing  string
}

// Grid is one interactive table over a dataset. Safe for concurrent use.
type Grid struct {
	mu      sync.Mutex
	cfg     Config
	records []Record
	index   map[string]int
	state   State
}

// New builds a grid over records, starting on page 1 with the first page size option.
func New(cfg Config, records []Record) (*Grid, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, ErrNoContainer
	}
	if len(cfg.PerPageOptions) == 0 {
		cfg.PerPageOptions = slices.Clone(DefaultPerPageOptions)
	}
	for _, n := range cfg.PerPageOptions {
		if n <= 0 {
			return nil, fmt.Errorf("grid %s: page size %d: %w", cfg.ID, n, ErrInvalidPerPage)
		}
	}
	seen := make(map[string]bool, len(cfg.Actions))
	for _, a := range cfg.Actions {
		if a.Key == SaveAction {
			return nil, fmt.Errorf("grid %s: action key %q is reserved", cfg.ID, SaveAction)
		}
		if seen[a.Key] {
			return nil, fmt.Errorf("grid %s: duplicate action %q", cfg.ID, a.Key)
		}
		seen[a.Key] = true
	}

	g := &Grid{
		cfg: cfg,
		state: State{
			Page:     1,
			PerPage:  cfg.PerPageOptions[0],
			Filters:  map[string]string{},
			Selected: map[string]bool{},
		},
	}
	g.install(records)
	return g, nil
}

// ID returns the grid's container identity.
func (g *Grid) ID() string { return g.cfg.ID }

// Columns returns the configured columns.
func (g *Grid) Columns() []Column { return slices.Clone(g.cfg.Columns) }

// Actions returns the configured actions.
func (g *Grid) Actions() []Action { return slices.Clone(g.cfg.Actions) }

// State returns a copy of the current view state.
func (g *Grid) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.state
	s.Filters = make(map[string]string, len(g.state.Filters))
	for k, v := range g.state.Filters {
		s.Filters[k] = v
	}
	s.Selected = make(map[string]bool, len(g.state.Selected))
	for k := range g.state.Selected {
		s.Selected[k] = true
	}
	return s
}

// Record returns the dataset row with the given identity.
func (g *Grid) Record(id string) (Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return g.records[i].Clone(), true
}

// Len returns the size of the installed dataset.
func (g *Grid) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.records)
}

// ReplaceDataset installs records, drops the selection and any edit in progress,
// and pulls the page back to the last one that still has rows.
func (g *Grid) ReplaceDataset(records []Record) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.install(records)
	g.state.Selected = map[string]bool{}
	g.state.Editing = ""
	g.clampPage()
}

// ClearSelection deselects every row. Edit mode is left alone.
func (g *Grid) ClearSelection() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.Selected = map[string]bool{}
}

func (g *Grid) install(records []Record) {
	g.records = records
	g.index = make(map[string]int, len(records))
	for i, r := range records {
		if id := r.ID(); id != "" {
			if _, dup := g.index[id]; !dup {
				g.index[id] = i
			}
		}
	}
}

// ComputeView returns the rows on the current page and the filtered total.
func (g *Grid) ComputeView() ([]Record, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	page, total := g.view()
	return page, total
}

func (g *Grid) view() ([]Record, int) {
	filtered := g.filtered()
	total := len(filtered)
	start := (g.state.Page - 1) * g.state.PerPage
	if start >= total {
		return nil, total
	}
	end := min(start+g.state.PerPage, total)
	return filtered[start:end], total
}

func (g *Grid) filtered() []Record {
	if g.cfg.ExternalFiltering {
		return g.records
	}
	search := Fold(strings.TrimSpace(g.state.Search))
	out := make([]Record, 0, len(g.records))
	for _, r := range g.records {
		if !g.matchesFilters(r) {
			continue
		}
		if search != "" && !g.matchesSearch(r, search) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (g *Grid) matchesFilters(r Record) bool {
	for key, want := range g.state.Filters {
		if want == "" {
			continue
		}
		if FormatValue(r[key]) != want {
			return false
		}
	}
	return true
}

func (g *Grid) matchesSearch(r Record, folded string) bool {
	for _, c := range g.cfg.Columns {
		if !c.Searchable() {
			continue
		}
		if strings.Contains(Fold(FormatValue(r[c.Key])), folded) {
			return true
		}
	}
	return false
}

func (g *Grid) totalPages(total int) int {
	if total == 0 {
		return 1
	}
	return (total + g.state.PerPage - 1) / g.state.PerPage
}

func (g *Grid) clampPage() {
	_, total := g.view()
	last := g.totalPages(total)
	if g.state.Page > last {
		g.state.Page = last
	}
	if g.state.Page < 1 {
		g.state.Page = 1
	}
}

// SetSearch changes the free-text search and returns to page 1.
func (g *Grid) SetSearch(q string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cfg.ExternalFiltering {
		return ErrExternalFiltering
	}
	g.state.Search = q
	g.state.Page = 1
	return nil
}

// SetFilter constrains a filterable column to value. An empty value removes the constraint.
func (g *Grid) SetFilter(key, value string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cfg.ExternalFiltering {
		return ErrExternalFiltering
	}
	col, ok := g.column(key)
	if !ok || !col.Filterable {
		return fmt.Errorf("%w: %s", ErrNotFilterable, key)
	}
	if value == "" {
		delete(g.state.Filters, key)
	} else {
		g.state.Filters[key] = value
	}
	g.state.Page = 1
	return nil
}

// SetPerPage changes the page size to one of the configured options and returns to page 1.
func (g *Grid) SetPerPage(n int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !slices.Contains(g.cfg.PerPageOptions, n) {
		return fmt.Errorf("%w: %d", ErrInvalidPerPage, n)
	}
	g.state.PerPage = n
	g.state.Page = 1
	return nil
}

// SetPage moves to page n, clamped to the available pages.
func (g *Grid) SetPage(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.Page = n
	g.clampPage()
}

func (g *Grid) column(key string) (Column, bool) {
	for _, c := range g.cfg.Columns {
		if c.Key == key {
			return c, true
		}
	}
	return Column{}, false
}

// SetSelected adds or removes one row from the selection.
func (g *Grid) SetSelected(id string, selected bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.setSelected(id, selected)
}

// ToggleRow flips the selection of one row.
func (g *Grid) ToggleRow(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.setSelected(id, !g.state.Selected[id])
}

func (g *Grid) setSelected(id string, selected bool) error {
	if g.state.Editing != "" {
		return ErrEditInProgress
	}
	if _, ok := g.index[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRecord, id)
	}
	if selected {
		g.state.Selected[id] = true
	} else {
		delete(g.state.Selected, id)
	}
	return nil
}

// ToggleAll selects or clears every row on the current page. Rows on other
// pages keep their selection.
func (g *Grid) ToggleAll(checked bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.Editing != "" {
		return ErrEditInProgress
	}
	page, _ := g.view()
	for _, r := range page {
		id := r.ID()
		if id == "" {
			continue
		}
		if checked {
			g.state.Selected[id] = true
		} else {
			delete(g.state.Selected, id)
		}
	}
	return nil
}

// SelectAllState reports the header checkbox state for the current page.
func (g *Grid) SelectAllState() (checked, indeterminate bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.selectAllState()
}

func (g *Grid) selectAllState() (checked, indeterminate bool) {
	page, _ := g.view()
	if len(page) == 0 {
		return false, false
	}
	n := 0
	for _, r := range page {
		if g.state.Selected[r.ID()] {
			n++
		}
	}
	return n == len(page), n > 0 && n < len(page)
}

// SelectedIDs returns the selection in dataset order.
func (g *Grid) SelectedIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.selectedIDs()
}

func (g *Grid) selectedIDs() []string {
	ids := make([]string, 0, len(g.state.Selected))
	for id := range g.state.Selected {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		return g.index[a] - g.index[b]
	})
	return ids
}

// ActionEnabled reports whether the action can run with the current selection.
// Dispatch applies the same rule.
func (g *Grid) ActionEnabled(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.action(key)
	return ok && g.enabled(a)
}

func (g *Grid) enabled(a Action) bool {
	n := len(g.state.Selected)
	if a.Multiple {
		return n > 0 && g.state.Editing == ""
	}
	if a.NoSelection {
		return true
	}
	return n == 1
}

func (g *Grid) action(key string) (Action, bool) {
	for _, a := range g.cfg.Actions {
		if a.Key == key {
			return a, true
		}
	}
	return Action{}, false
}

// Dispatch fires the action for the current selection.
func (g *Grid) Dispatch(ctx context.Context, key string) error {
	g.mu.Lock()
	a, ok := g.action(key)
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAction, key)
	}
	if !g.enabled(a) {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrActionDisabled, key)
	}
	ev := ActionEvent{Key: a.Key, IDs: g.selectedIDs()}
	g.mu.Unlock()
	return g.emit(ctx, ev)
}

func (g *Grid) emit(ctx context.Context, ev ActionEvent) error {
	if g.cfg.OnAction == nil {
		return nil
	}
	return g.cfg.OnAction(ctx, ev)
}

// Editing returns the identity of the row in edit mode, if any.
func (g *Grid) Editing() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Editing
}

// EnterEdit switches one row to edit mode and makes it the only selected row.
func (g *Grid) EnterEdit(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.Editing != "" && g.state.Editing != id {
		return ErrEditInProgress
	}
	if _, ok := g.index[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRecord, id)
	}
	g.state.Editing = id
	g.state.Selected = map[string]bool{id: true}
	return nil
}

// CancelEdit leaves edit mode without dispatching anything.
func (g *Grid) CancelEdit() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.endEdit()
}

func (g *Grid) endEdit() {
	if g.state.Editing == "" {
		return
	}
	g.state.Editing = ""
	g.state.Selected = map[string]bool{}
}

// SaveEdit leaves edit mode and dispatches one save action carrying the
// editable fields that changed. The dataset itself is left untouched; the
// owner reloads it from the source of truth.
func (g *Grid) SaveEdit(ctx context.Context, values Record) error {
	g.mu.Lock()
	id := g.state.Editing
	if id == "" {
		g.mu.Unlock()
		return ErrNotEditing
	}
	original := g.records[g.index[id]]
	updates := Record{}
	for _, c := range g.cfg.Columns {
		if !c.Editable {
			continue
		}
		if v, ok := values[c.Key]; ok {
			updates[c.Key] = coerce(original[c.Key], v)
		}
	}
	diff := Diff(original, updates)
	g.endEdit()
	g.mu.Unlock()

	return g.emit(ctx, ActionEvent{Key: SaveAction, IDs: []string{id}, Updates: diff})
}

// coerce converts text input to the runtime type of the original value.
func coerce(original, v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch original.(type) {
	case float64:
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	case bool:
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b
		}
	}
	return s
}
