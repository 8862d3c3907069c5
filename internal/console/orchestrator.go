// ABOUTME: Collection orchestrator owning the active resource and its dataset
// ABOUTME: Bridges grid actions to remote operations and runs the load/mutate/reload cycle

package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/pymemap-console/internal/api"
	"github.com/2389/pymemap-console/internal/grid"
	"github.com/2389/pymemap-console/internal/resource"
	"github.com/2389/pymemap-console/internal/store"
)

var (
	// ErrUpdateUnsupported is returned when saving on a collection without an updater.
	ErrUpdateUnsupported = resource.ErrUpdateUnsupported
	// ErrDeleteUnsupported is returned when deleting from a collection without a deleter.
	ErrDeleteUnsupported = resource.ErrDeleteUnsupported
	// ErrInvalidFilter is returned when a free-text filter lacks a field or value.
	ErrInvalidFilter = errors.New("choose a field and enter a value to filter")
	// ErrNoResource is returned before any resource has been selected.
	ErrNoResource = errors.New("no collection selected")
	// ErrSelection is returned when an action gets the wrong number of ids.
	ErrSelection = errors.New("select exactly one record")
)

// DefaultCacheTTL is how long cached datasets are kept.
const DefaultCacheTTL = 24 * time.Hour

// ConfirmFunc asks the operator to confirm a destructive action.
type ConfirmFunc func(ctx context.Context, prompt string, ids []string) bool

type confirmedKey struct{}

// WithConfirmed marks ctx as carrying the operator's confirmation.
func WithConfirmed(ctx context.Context, confirmed bool) context.Context {
	return context.WithValue(ctx, confirmedKey{}, confirmed)
}

// ConfirmedFromContext is a ConfirmFunc that reads the confirmation recorded by WithConfirmed.
func ConfirmedFromContext(ctx context.Context, _ string, _ []string) bool {
	ok, _ := ctx.Value(confirmedKey{}).(bool)
	return ok
}

// Options configures an Orchestrator.
type Options struct {
	Registry *resource.Registry
	// Cache holds the last loaded dataset per resource. Optional.
	Cache    store.KV
	CacheTTL time.Duration
	Notifier Notifier
	// Confirm defaults to ConfirmedFromContext.
	Confirm        ConfirmFunc
	GridID         string
	PerPageOptions []int
	Logger         *slog.Logger
}

// Orchestrator owns the active resource binding, the authoritative dataset and
// the grid showing it. Safe for concurrent use; the lock is never held across
// remote calls.
type Orchestrator struct {
	opts   Options
	logger *slog.Logger

	mu          sync.Mutex
	active      *resource.Binding
	generation  uint64
	grid        *grid.Grid
	gridFor     string
	allData     []grid.Record
	filtered    []grid.Record
	filterField string
	filterValue string
	metrics     []resource.Metric
	detail      grid.Record
	loaded      bool
	fromCache   bool
}

// New creates an orchestrator. Nothing is loaded until SelectResource.
func New(opts Options) (*Orchestrator, error) {
	if opts.Registry == nil {
		return nil, errors.New("console: registry is required")
	}
	if opts.Notifier == nil {
		opts.Notifier = discard{}
	}
	if opts.Confirm == nil {
		opts.Confirm = ConfirmedFromContext
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.GridID == "" {
		opts.GridID = "collection"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{opts: opts, logger: logger.With("component", "console")}, nil
}

func (o *Orchestrator) notify(level Level, format string, args ...any) {
	o.opts.Notifier.Notify(NewNotice(level, format, args...))
}

// fail logs err and turns it into an error notice.
func (o *Orchestrator) fail(msg string, err error) {
	o.logger.Error(msg, "error", err)
	if errors.Is(err, api.ErrUnauthorized) {
		o.notify(LevelError, "Your session has expired. Sign in again.")
		return
	}
	o.notify(LevelError, "%s: %s", msg, api.MessageOf(err))
}

// SelectResource switches to the named resource, resets the free-text filter
// and loads it.
func (o *Orchestrator) SelectResource(ctx context.Context, name string) error {
	b, err := o.opts.Registry.Get(name)
	if err != nil {
		return err
	}
	o.mu.Lock()
	if o.active == nil || o.active.Name() != name {
		o.active = b
		o.allData = nil
		o.filtered = nil
		o.metrics = nil
		o.loaded = false
		o.fromCache = false
	}
	o.detail = nil
	o.filterField = ""
	o.filterValue = ""
	o.mu.Unlock()
	return o.LoadCollection(ctx, name)
}

// LoadCollection fetches the named resource and shows it. Responses that
// arrive after a newer load started are discarded.
func (o *Orchestrator) LoadCollection(ctx context.Context, name string) error {
	b, err := o.opts.Registry.Get(name)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.generation++
	gen := o.generation
	if o.active == nil || o.active.Name() != name {
		o.active = b
		o.loaded = false
		o.filterField = ""
		o.filterValue = ""
	}
	empty := !o.loaded
	o.mu.Unlock()

	if empty {
		if cached, err := o.CachedRecords(ctx, name); err == nil {
			o.mu.Lock()
			if o.generation == gen && !o.loaded {
				if err := o.install(b, cached); err == nil {
					o.fromCache = true
				}
			}
			o.mu.Unlock()
		}
	}

	records, err := b.Load(ctx)

	o.mu.Lock()
	if o.generation != gen {
		current := o.generation
		o.mu.Unlock()
		o.logger.Debug("discarding stale load", "resource", name, "generation", gen, "current", current, "error", err)
		if err != nil {
			return fmt.Errorf("loading %s: %w", name, err)
		}
		return nil
	}
	if err != nil {
		cached := o.fromCache
		o.mu.Unlock()
		o.fail("Could not load "+b.Title(), err)
		if cached {
			o.notify(LevelWarning, "Showing the last saved copy of %s", b.Title())
		}
		return fmt.Errorf("loading %s: %w", name, err)
	}
	err = o.install(b, records)
	if err == nil {
		o.loaded = true
		o.fromCache = false
	}
	o.mu.Unlock()
	if err != nil {
		return err
	}

	o.logger.Debug("collection loaded", "resource", name, "records", len(records))
	if o.opts.Cache != nil {
		if err := store.SetJSON(ctx, o.opts.Cache, cacheKey(name), records, o.opts.CacheTTL); err != nil {
			o.logger.Warn("caching dataset failed", "resource", name, "error", err)
		}
	}
	return nil
}

func cacheKey(name string) string { return "cache:" + name }

// CachedRecords returns the last dataset stored for name.
func (o *Orchestrator) CachedRecords(ctx context.Context, name string) ([]grid.Record, error) {
	if o.opts.Cache == nil {
		return nil, store.ErrNotFound
	}
	var records []grid.Record
	if err := store.GetJSON(ctx, o.opts.Cache, cacheKey(name), &records); err != nil {
		return nil, err
	}
	return records, nil
}

// install replaces the dataset, reapplies the active free-text filter and
// pushes the result into the grid. The grid is rebuilt only when the binding
// changed. Callers hold o.mu.
func (o *Orchestrator) install(b *resource.Binding, records []grid.Record) error {
	o.allData = records
	if o.filterField != "" {
		o.filtered = filterRecords(records, o.filterField, o.filterValue)
	} else {
		o.filtered = grid.CloneAll(records)
	}

	if o.grid == nil || o.gridFor != b.Name() {
		g, err := grid.New(grid.Config{
			ID:                o.opts.GridID,
			Columns:           b.Columns(),
			Actions:           b.Actions(),
			PerPageOptions:    o.opts.PerPageOptions,
			ExternalFiltering: true,
			OnAction: func(ctx context.Context, ev grid.ActionEvent) error {
				return o.HandleAction(ctx, ev.Key, ev.IDs, ev.Updates)
			},
		}, grid.CloneAll(o.filtered))
		if err != nil {
			return fmt.Errorf("building grid for %s: %w", b.Name(), err)
		}
		o.grid = g
		o.gridFor = b.Name()
	} else {
		o.grid.ReplaceDataset(grid.CloneAll(o.filtered))
	}
	o.metrics = b.Summarize(o.filtered)
	return nil
}

// HandleAction runs the action key for ids. Failures are reported as notices
// and returned.
func (o *Orchestrator) HandleAction(ctx context.Context, key string, ids []string, updates grid.Record) error {
	o.mu.Lock()
	b := o.active
	o.mu.Unlock()
	if b == nil {
		return ErrNoResource
	}

	switch key {
	case resource.ActionRefresh:
		return o.LoadCollection(ctx, b.Name())
	case resource.ActionView:
		return o.showDetail(b, ids)
	case resource.ActionDelete:
		return o.deleteRecords(ctx, b, ids)
	case grid.SaveAction:
		return o.save(ctx, b, ids, updates)
	}

	op, ok := b.Operation(key)
	if !ok {
		return fmt.Errorf("%w: %s", grid.ErrUnknownAction, key)
	}
	if op.Action.Confirm != "" && !o.opts.Confirm(ctx, op.Action.Confirm, ids) {
		o.notify(LevelInfo, "%s cancelled", op.Action.Label)
		return nil
	}
	res := RunBatch(ctx, key, ids, op.Run)
	o.report(res, op.Done)
	_ = o.LoadCollection(ctx, b.Name())
	o.clearSelection(b)
	return res.Err()
}

func (o *Orchestrator) report(res *BatchResult, done string) {
	if res.Err() == nil {
		o.notify(LevelSuccess, "%d %s %s", len(res.Succeeded()), plural(len(res.Succeeded()), "record", "records"), done)
		return
	}
	o.logger.Error("bulk action failed", "action", res.Action, "summary", res.Summary(), "error", res)
	for _, out := range res.Outcomes {
		if errors.Is(out.Err, api.ErrUnauthorized) {
			o.notify(LevelError, "Your session has expired. Sign in again.")
			return
		}
	}
	o.notify(LevelError, "%s: %s", res.Action, res.Summary())
}

// clearSelection deselects the rows of b's grid once an action has run,
// whatever its outcome.
func (o *Orchestrator) clearSelection(b *resource.Binding) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.grid != nil && o.gridFor == b.Name() {
		o.grid.ClearSelection()
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func (o *Orchestrator) showDetail(b *resource.Binding, ids []string) error {
	if len(ids) != 1 {
		return ErrSelection
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := findRecord(o.allData, ids[0])
	if !ok {
		return fmt.Errorf("%w: %s", grid.ErrUnknownRecord, ids[0])
	}
	o.detail = rec.Clone()
	o.logger.Debug("showing detail", "resource", b.Name(), "id", ids[0])
	return nil
}

func (o *Orchestrator) deleteRecords(ctx context.Context, b *resource.Binding, ids []string) error {
	if !b.CanDelete() {
		o.notify(LevelWarning, "%s", ErrDeleteUnsupported.Error())
		return ErrDeleteUnsupported
	}
	if len(ids) == 0 {
		o.notify(LevelWarning, "Select at least one record to delete")
		return nil
	}
	if !o.opts.Confirm(ctx, "Delete the selected records?", ids) {
		o.notify(LevelInfo, "Deletion cancelled")
		return nil
	}

	res := RunBatch(ctx, resource.ActionDelete, ids, b.Delete)
	if gone := res.Succeeded(); len(gone) > 0 {
		o.mu.Lock()
		if o.active == b {
			o.allData = withoutIDs(o.allData, gone)
			o.filtered = withoutIDs(o.filtered, gone)
			if o.grid != nil && o.gridFor == b.Name() {
				o.grid.ReplaceDataset(grid.CloneAll(o.filtered))
			}
			o.metrics = b.Summarize(o.filtered)
		}
		o.mu.Unlock()
	}
	o.report(res, "deleted")
	_ = o.LoadCollection(ctx, b.Name())
	o.clearSelection(b)
	return res.Err()
}

func (o *Orchestrator) save(ctx context.Context, b *resource.Binding, ids []string, updates grid.Record) error {
	if !b.CanUpdate() {
		o.notify(LevelWarning, "%s", ErrUpdateUnsupported.Error())
		return ErrUpdateUnsupported
	}
	if len(ids) != 1 {
		return ErrSelection
	}
	id := ids[0]
	defer o.clearSelection(b)

	o.mu.Lock()
	original, ok := findRecord(o.allData, id)
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", grid.ErrUnknownRecord, id)
	}

	diff := grid.Diff(original, updates)
	if len(diff) == 0 {
		o.notify(LevelInfo, "No changes to save")
		return nil
	}
	merged := MergeRecord(original, diff)

	if _, err := b.Update(ctx, id, merged); err != nil {
		o.fail("Could not save the record", err)
		return fmt.Errorf("saving %s %s: %w", b.Name(), id, err)
	}
	o.logger.Info("record updated", "resource", b.Name(), "id", id, "fields", len(diff))
	o.notify(LevelSuccess, "Record updated")
	_ = o.LoadCollection(ctx, b.Name())
	return nil
}

// MergeRecord overlays diff on a copy of original. The backend expects "id",
// so "_id" is renamed when "id" is absent.
func MergeRecord(original, diff grid.Record) grid.Record {
	merged := original.Clone()
	for k, v := range diff {
		merged[k] = v
	}
	if _, ok := merged["id"]; !ok {
		if v, ok := merged["_id"]; ok {
			merged["id"] = v
			delete(merged, "_id")
		}
	}
	return merged
}

// ApplyFreeTextFilter narrows the shown records to those whose field contains
// value, ignoring case. It returns the number of matches.
func (o *Orchestrator) ApplyFreeTextFilter(field, value string) (int, error) {
	field = strings.TrimSpace(field)
	value = strings.TrimSpace(value)
	if field == "" || value == "" {
		o.notify(LevelWarning, "%s", ErrInvalidFilter.Error())
		return 0, ErrInvalidFilter
	}

	o.mu.Lock()
	b := o.active
	if b == nil {
		o.mu.Unlock()
		return 0, ErrNoResource
	}
	if _, ok := b.Column(field); !ok {
		o.mu.Unlock()
		o.notify(LevelWarning, "Unknown field %q", field)
		return 0, fmt.Errorf("%w: unknown field %q", ErrInvalidFilter, field)
	}
	o.filterField = field
	o.filterValue = value
	o.filtered = filterRecords(o.allData, field, value)
	o.pushFiltered(b)
	n := len(o.filtered)
	o.mu.Unlock()

	o.notify(LevelInfo, "%d %s found", n, plural(n, "record", "records"))
	return n, nil
}

// ClearFilter shows the whole dataset again. Calling it twice is the same as once.
func (o *Orchestrator) ClearFilter() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.filterField = ""
	o.filterValue = ""
	o.filtered = grid.CloneAll(o.allData)
	if o.active != nil {
		o.pushFiltered(o.active)
	}
}

func (o *Orchestrator) pushFiltered(b *resource.Binding) {
	if o.grid != nil && o.gridFor == b.Name() {
		o.grid.ReplaceDataset(grid.CloneAll(o.filtered))
	}
	o.metrics = b.Summarize(o.filtered)
}

func filterRecords(records []grid.Record, field, value string) []grid.Record {
	var out []grid.Record
	for _, r := range records {
		v, ok := r[field]
		if !ok || v == nil {
			continue
		}
		if grid.ContainsFold(grid.FormatValue(v), value) {
			out = append(out, r.Clone())
		}
	}
	return out
}

func findRecord(records []grid.Record, id string) (grid.Record, bool) {
	for _, r := range records {
		if r.ID() == id {
			return r, true
		}
	}
	return nil, false
}

func withoutIDs(records []grid.Record, ids []string) []grid.Record {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	out := records[:0:0]
	for _, r := range records {
		if !drop[r.ID()] {
			out = append(out, r)
		}
	}
	return out
}

// Active returns the selected binding, or nil.
func (o *Orchestrator) Active() *resource.Binding {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Grid returns the grid showing the active resource, or nil before the first load.
func (o *Orchestrator) Grid() *grid.Grid {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil || o.gridFor != o.active.Name() {
		return nil
	}
	return o.grid
}

// Records returns a copy of the authoritative dataset.
func (o *Orchestrator) Records() []grid.Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	return grid.CloneAll(o.allData)
}

// Filtered returns a copy of the dataset after the free-text filter.
func (o *Orchestrator) Filtered() []grid.Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	return grid.CloneAll(o.filtered)
}

// Filter returns the active free-text filter.
func (o *Orchestrator) Filter() (field, value string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.filterField, o.filterValue
}

// Metrics returns the summary figures for the shown records.
func (o *Orchestrator) Metrics() []resource.Metric {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]resource.Metric(nil), o.metrics...)
}

// Detail returns the record picked with the view action, or nil.
func (o *Orchestrator) Detail() grid.Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.detail == nil {
		return nil
	}
	return o.detail.Clone()
}

// CloseDetail clears the detail record.
func (o *Orchestrator) CloseDetail() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.detail = nil
}

// Stale reports whether the shown data came from the cache rather than the backend.
func (o *Orchestrator) Stale() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fromCache
}

// Registry returns the bindings the orchestrator can switch between.
func (o *Orchestrator) Registry() *resource.Registry { return o.opts.Registry }
