// ABOUTME: Moderation desk for customer reports shown in an interactive grid
// ABOUTME: Handles state transitions, responses and the report summary counts

package moderation

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/2389/pymemap-console/internal/api"
	"github.com/2389/pymemap-console/internal/console"
	"github.com/2389/pymemap-console/internal/grid"
	"github.com/2389/pymemap-console/internal/resource"
)

// Report action keys.
const (
	ActionInProgress = "in_progress"
	ActionResolve    = "resolve"
	ActionClose      = "close"
	ActionChat       = "chat"
	ActionView       = "view"
	ActionRefresh    = "refresh"
)

var (
	// ErrInvalidState is returned for states outside the report workflow.
	ErrInvalidState = errors.New("invalid report state")
	// ErrEmptyMessage is returned when sending or responding with blank text.
	ErrEmptyMessage = errors.New("write a message first")
	// ErrUnknownReport is returned for report ids not in the loaded list.
	ErrUnknownReport = errors.New("unknown report")
)

var actionStates = map[string]string{
	ActionInProgress: api.ReportInProgress,
	ActionResolve:    api.ReportResolved,
	ActionClose:      api.ReportClosed,
}

// Backend is the part of the API client the desk uses.
type Backend interface {
	Reports(ctx context.Context, f api.ReportFilter) ([]api.Record, error)
	UpdateReportState(ctx context.Context, id, state string) error
	AddReportResponse(ctx context.Context, id, response string) error
	ChatsByUser(ctx context.Context, userID string) ([]api.Chat, error)
	ChatByParticipants(ctx context.Context, user1, user2 string) (*api.Chat, error)
	CreateChat(ctx context.Context, participants []string) (*api.Chat, error)
	Messages(ctx context.Context, chatID string) ([]api.Message, error)
	SendMessage(ctx context.Context, msg api.Message) (*api.Message, error)
}

// Options configures a Desk.
type Options struct {
	// CurrentUser returns the signed-in operator's profile. Required.
	CurrentUser func(ctx context.Context) (*api.Profile, error)
	// CachedUsers returns the last loaded users dataset for chat names. Optional.
	CachedUsers    func(ctx context.Context) ([]grid.Record, error)
	Notifier       console.Notifier
	Confirm        console.ConfirmFunc
	PerPageOptions []int
	Logger         *slog.Logger
}

// Summary counts reports by state over the whole list.
type Summary struct {
	Total      int
	Open       int
	InProgress int
	Resolved   int
}

// Desk is the reports workflow for one operator.
type Desk struct {
	backend Backend
	opts    Options
	logger  *slog.Logger
	grid    *grid.Grid

	mu      sync.Mutex
	reports []grid.Record
	summary Summary
	detail  grid.Record
	chat    *OpenChat
	loaded  bool
}

// ReportColumns are the columns of the reports grid.
func ReportColumns() []grid.Column {
	return []grid.Column{
		{Key: "timestamp", Label: "Date", Render: reportDate, NoSearch: true},
		{Key: "type", Label: "Type", Render: resource.Badge(resource.ReportTypes, "Other"), NoSearch: true, Filterable: true},
		{Key: "state", Label: "State", Render: resource.Badge(resource.ReportStates, "Unknown"), NoSearch: true, Filterable: true},
		{Key: "reportedByName", Label: "Reported by", Render: resource.Text("User")},
		{Key: "reportedByEmail", Label: "Email", Render: resource.Text("")},
		{Key: "description", Label: "Description", Render: resource.Muted("No description")},
		{Key: "bookingId", Label: "Booking", Render: resource.Ellipsis, NoSearch: true},
	}
}

// ReportActions are the actions of the reports grid.
func ReportActions() []grid.Action {
	return []grid.Action{
		{Key: ActionInProgress, Label: "Mark in progress", Multiple: true},
		{Key: ActionResolve, Label: "Mark resolved", Multiple: true, Confirm: "Mark the selected reports as resolved?"},
		{Key: ActionClose, Label: "Close", Multiple: true},
		{Key: ActionChat, Label: "Open chat"},
		{Key: ActionView, Label: "View details"},
		{Key: ActionRefresh, Label: "Refresh", NoSelection: true},
	}
}

// NewDesk creates an empty desk. Call Load to fetch reports.
func NewDesk(backend Backend, opts Options) (*Desk, error) {
	if opts.CurrentUser == nil {
		return nil, errors.New("moderation: current user lookup is required")
	}
	if opts.Notifier == nil {
		opts.Notifier = console.NotifierFunc(func(console.Notice) {})
	}
	if opts.Confirm == nil {
		opts.Confirm = console.ConfirmedFromContext
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Desk{backend: backend, opts: opts, logger: logger.With("component", "moderation")}

	g, err := grid.New(grid.Config{
		ID:             "reports",
		Columns:        ReportColumns(),
		Actions:        ReportActions(),
		PerPageOptions: opts.PerPageOptions,
		OnAction:       d.handle,
	}, nil)
	if err != nil {
		return nil, err
	}
	d.grid = g
	return d, nil
}

func (d *Desk) notify(level console.Level, format string, args ...any) {
	d.opts.Notifier.Notify(console.NewNotice(level, format, args...))
}

func (d *Desk) fail(msg string, err error) {
	d.logger.Error(msg, "error", err)
	d.notify(console.LevelError, "%s: %s", msg, api.MessageOf(err))
}

// Grid returns the reports grid.
func (d *Desk) Grid() *grid.Grid { return d.grid }

// Load fetches every report, newest first.
func (d *Desk) Load(ctx context.Context) error {
	raw, err := d.backend.Reports(ctx, api.ReportFilter{})
	if err != nil {
		d.fail("Could not load reports", err)
		return fmt.Errorf("loading reports: %w", err)
	}
	reports := make([]grid.Record, len(raw))
	for i, r := range raw {
		reports[i] = grid.Record(r)
	}
	SortNewestFirst(reports)

	d.mu.Lock()
	d.reports = reports
	d.summary = summarize(reports)
	d.loaded = true
	d.mu.Unlock()

	d.grid.ReplaceDataset(grid.CloneAll(reports))
	d.logger.Debug("reports loaded", "count", len(reports))
	return nil
}

// SortNewestFirst orders reports by timestamp, newest first. Reports without a
// parseable timestamp go last.
func SortNewestFirst(reports []grid.Record) {
	sort.SliceStable(reports, func(i, j int) bool {
		ti, oki := resource.ParseDate(grid.FormatValue(reports[i]["timestamp"]))
		tj, okj := resource.ParseDate(grid.FormatValue(reports[j]["timestamp"]))
		if oki != okj {
			return oki
		}
		return ti.After(tj)
	})
}

func summarize(reports []grid.Record) Summary {
	s := Summary{Total: len(reports)}
	for _, r := range reports {
		switch grid.FormatValue(r["state"]) {
		case api.ReportOpen:
			s.Open++
		case api.ReportInProgress:
			s.InProgress++
		case api.ReportResolved:
			s.Resolved++
		}
	}
	return s
}

// Loaded reports whether a load has succeeded.
func (d *Desk) Loaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded
}

// Summary returns the counts over all loaded reports.
func (d *Desk) Summary() Summary {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.summary
}

// Report returns a loaded report.
func (d *Desk) Report(id string) (grid.Record, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.reports {
		if r.ID() == id {
			return r.Clone(), true
		}
	}
	return nil, false
}

// Detail returns a copy of the report picked with the view action, or nil.
func (d *Desk) Detail() grid.Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.detail == nil {
		return nil
	}
	return d.detail.Clone()
}

// CloseDetail clears the detail report.
func (d *Desk) CloseDetail() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detail = nil
}

func (d *Desk) handle(ctx context.Context, ev grid.ActionEvent) error {
	switch ev.Key {
	case ActionRefresh:
		return d.Load(ctx)
	case ActionView:
		r, ok := d.Report(ev.IDs[0])
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownReport, ev.IDs[0])
		}
		d.mu.Lock()
		d.detail = r
		d.mu.Unlock()
		return nil
	case ActionChat:
		_, err := d.OpenChatForReport(ctx, ev.IDs[0])
		return err
	}

	state, ok := actionStates[ev.Key]
	if !ok {
		return fmt.Errorf("%w: %s", grid.ErrUnknownAction, ev.Key)
	}
	if prompt := confirmPrompt(d.grid.Actions(), ev.Key); prompt != "" && !d.opts.Confirm(ctx, prompt, ev.IDs) {
		d.notify(console.LevelInfo, "No reports changed")
		return nil
	}
	res := console.RunBatch(ctx, ev.Key, ev.IDs, func(ctx context.Context, id string) error {
		return d.backend.UpdateReportState(ctx, id, state)
	})
	if err := res.Err(); err != nil {
		d.logger.Error("report state change failed", "state", state, "summary", res.Summary(), "error", err)
		d.notify(console.LevelError, "%s: %s", stateLabel(state), res.Summary())
	} else {
		d.notify(console.LevelSuccess, "%d %s set to %s", len(res.Succeeded()), reportsWord(len(res.Succeeded())), stateLabel(state))
	}
	_ = d.Load(ctx)
	d.grid.ClearSelection()
	return res.Err()
}

func confirmPrompt(actions []grid.Action, key string) string {
	for _, a := range actions {
		if a.Key == key {
			return a.Confirm
		}
	}
	return ""
}

func reportsWord(n int) string {
	if n == 1 {
		return "report"
	}
	return "reports"
}

func stateLabel(state string) string {
	if l, ok := resource.ReportStates[state]; ok {
		return l.Text
	}
	return state
}

// ChangeState moves one report to state and reloads the list.
func (d *Desk) ChangeState(ctx context.Context, id, state string) error {
	if !slices.Contains(api.ReportStates, state) {
		d.notify(console.LevelWarning, "Unknown report state %q", state)
		return fmt.Errorf("%w: %q", ErrInvalidState, state)
	}
	if err := d.backend.UpdateReportState(ctx, id, state); err != nil {
		d.fail("Could not change the report state", err)
		return fmt.Errorf("changing report %s state: %w", id, err)
	}
	d.logger.Info("report state changed", "report", id, "state", state)
	d.notify(console.LevelSuccess, "State changed to %s", stateLabel(state))
	return d.Load(ctx)
}

// Respond posts an operator response on a report.
func (d *Desk) Respond(ctx context.Context, id, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		d.notify(console.LevelWarning, "%s", ErrEmptyMessage.Error())
		return ErrEmptyMessage
	}
	if err := d.backend.AddReportResponse(ctx, id, text); err != nil {
		d.fail("Could not send the response", err)
		return fmt.Errorf("responding to report %s: %w", id, err)
	}
	d.notify(console.LevelSuccess, "Response sent")
	return nil
}

func reportDate(v any, _ grid.Record) template.HTML {
	s := grid.FormatValue(v)
	t, ok := resource.ParseDate(s)
	if !ok {
		return resource.Date(v, nil)
	}
	return template.HTML(t.Format("Jan 2, 2006 15:04"))
}
