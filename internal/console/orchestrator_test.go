// ABOUTME: Tests for the collection orchestrator load/mutate/reload cycle
// ABOUTME: Covers partial bulk failure, stale loads, save diffs and the dataset cache

package console

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/pymemap-console/internal/api"
	"github.com/2389/pymemap-console/internal/grid"
	"github.com/2389/pymemap-console/internal/resource"
	"github.com/2389/pymemap-console/internal/store"
)

const (
	timeout = 2 * time.Second
	tick    = 10 * time.Millisecond
)

// fakeCollection is an in-memory remote collection.
type fakeCollection struct {
	mu        sync.Mutex
	records   []grid.Record
	loadErr   error
	loads     int
	deleteErr map[string]error
	deleted   []string
	updates   []grid.Record
	updateErr error
	// block, when set, is waited on by Load before returning.
	block chan struct{}
}

func (f *fakeCollection) load(ctx context.Context) ([]grid.Record, error) {
	f.mu.Lock()
	f.loads++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return grid.CloneAll(f.records), nil
}

func (f *fakeCollection) delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	if err := f.deleteErr[id]; err != nil {
		return err
	}
	out := f.records[:0:0]
	for _, r := range f.records {
		if r.ID() != id {
			out = append(out, r)
		}
	}
	f.records = out
	return nil
}

func (f *fakeCollection) update(_ context.Context, id string, rec grid.Record) (grid.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.updates = append(f.updates, rec.Clone())
	return rec, nil
}

func usersFixture() []grid.Record {
	return []grid.Record{
		{"_id": "1", "name": "Ana", "role": "client", "suspended": false},
		{"_id": "2", "name": "Bob", "role": "business", "suspended": false},
		{"_id": "3", "name": "Carla", "role": "client", "suspended": true},
	}
}

type harness struct {
	orch  *Orchestrator
	users *fakeCollection
	other *fakeCollection
	inbox *Inbox
	cache *store.MemoryStore
	asked []string
}

func newHarness(t *testing.T, confirm bool) *harness {
	t.Helper()
	h := &harness{
		users: &fakeCollection{records: usersFixture()},
		other: &fakeCollection{records: []grid.Record{{"_id": "r1", "rating": float64(4)}}},
		inbox: NewInbox(0),
		cache: store.NewMemoryStore(),
	}
	users := resource.MustNew(resource.Spec{
		Name:   "users",
		Title:  "Users",
		Load:   h.users.load,
		Update: h.users.update,
		Delete: h.users.delete,
		Columns: []grid.Column{
			{Key: "_id", Label: "ID"},
			{Key: "name", Label: "Name", Editable: true},
			{Key: "role", Label: "Role", Filterable: true},
			{Key: "suspended", Label: "Suspended", Editable: true},
		},
		Operations: []resource.Operation{{
			Action: grid.Action{Key: "suspend", Label: "Suspend", Multiple: true},
			Run: func(ctx context.Context, id string) error {
				if id == "2" {
					return &api.RemoteError{Status: 500, Detail: "boom"}
				}
				return nil
			},
			Done: "suspended",
		}},
		Metrics: []resource.MetricSpec{{Label: "Total", Count: "true"}},
	})
	reviews := resource.MustNew(resource.Spec{
		Name:    "reviews",
		Title:   "Reviews",
		Load:    h.other.load,
		Delete:  h.other.delete,
		Columns: []grid.Column{{Key: "rating", Label: "Rating"}},
	})
	reg, err := resource.NewRegistry(users, reviews)
	require.NoError(t, err)

	h.orch, err = New(Options{
		Registry: reg,
		Cache:    h.cache,
		Notifier: h.inbox,
		Confirm: func(_ context.Context, prompt string, _ []string) bool {
			h.asked = append(h.asked, prompt)
			return confirm
		},
	})
	require.NoError(t, err)
	return h
}

func messages(notices []Notice) []string {
	out := make([]string, len(notices))
	for i, n := range notices {
		out[i] = n.Message
	}
	return out
}

func TestSelectResource_LoadsAndBuildsGrid(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	require.NoError(t, h.orch.SelectResource(ctx, "users"))
	assert.Equal(t, "users", h.orch.Active().Name())
	assert.Len(t, h.orch.Records(), 3)
	require.NotNil(t, h.orch.Grid())
	assert.Equal(t, 3, h.orch.Grid().Len())
	assert.Equal(t, []resource.Metric{{Label: "Total", Value: "3"}}, h.orch.Metrics())
	assert.False(t, h.orch.Stale())

	_, err := h.orch.CachedRecords(ctx, "users")
	require.NoError(t, err)

	first := h.orch.Grid()
	require.NoError(t, h.orch.LoadCollection(ctx, "users"))
	assert.Same(t, first, h.orch.Grid(), "reloading the same binding keeps the grid")

	require.NoError(t, h.orch.SelectResource(ctx, "reviews"))
	assert.NotSame(t, first, h.orch.Grid())
}

func TestSelectResource_Unknown(t *testing.T) {
	h := newHarness(t, true)
	err := h.orch.SelectResource(context.Background(), "payments")
	assert.ErrorIs(t, err, resource.ErrUnknownResource)
}

func TestDelete_PartialFailureReportsSummary(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.users.deleteErr = map[string]error{"2": &api.RemoteError{Method: "DELETE", Path: "/users/2", Status: 500, Detail: "db down"}}
	require.NoError(t, h.orch.SelectResource(ctx, "users"))
	h.inbox.Drain()

	err := h.orch.HandleAction(ctx, resource.ActionDelete, []string{"1", "2"}, nil)
	require.Error(t, err)

	var batch *BatchResult
	require.ErrorAs(t, err, &batch)
	assert.Equal(t, []string{"1"}, batch.Succeeded())
	assert.Equal(t, 1, batch.Failed())
	assert.Equal(t, "1 succeeded, 1 failed", batch.Summary())
	assert.Equal(t, []string{"1", "2"}, h.users.deleted)

	notices := h.inbox.Drain()
	require.NotEmpty(t, notices)
	assert.Contains(t, messages(notices), "delete: 1 succeeded, 1 failed")

	ids := map[string]bool{}
	for _, r := range h.orch.Records() {
		ids[r.ID()] = true
	}
	assert.False(t, ids["1"])
	assert.True(t, ids["2"])
}

func TestDelete_Declined(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	require.NoError(t, h.orch.SelectResource(ctx, "users"))

	require.NoError(t, h.orch.HandleAction(ctx, resource.ActionDelete, []string{"1"}, nil))
	assert.Empty(t, h.users.deleted)
	assert.Len(t, h.asked, 1)
}

func TestDelete_UnauthorizedStopsBatch(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.users.deleteErr = map[string]error{"1": &api.RemoteError{Status: 401}}
	require.NoError(t, h.orch.SelectResource(ctx, "users"))

	err := h.orch.HandleAction(ctx, resource.ActionDelete, []string{"1", "2", "3"}, nil)
	assert.ErrorIs(t, err, api.ErrUnauthorized)
	assert.Equal(t, []string{"1"}, h.users.deleted)

	var batch *BatchResult
	require.ErrorAs(t, err, &batch)
	assert.Equal(t, []string{"2", "3"}, batch.Skipped)
}

func TestOperation_BatchSemantics(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.orch.SelectResource(ctx, "users"))
	loads := h.users.loads

	err := h.orch.HandleAction(ctx, "suspend", []string{"1", "2", "3"}, nil)
	var batch *BatchResult
	require.ErrorAs(t, err, &batch)
	assert.Equal(t, "2 succeeded, 1 failed", batch.Summary())
	assert.Equal(t, loads+1, h.users.loads, "operations reload the collection")
}

func TestSave_SendsMergedRecord(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.orch.SelectResource(ctx, "users"))

	err := h.orch.HandleAction(ctx, grid.SaveAction, []string{"1"}, grid.Record{"name": "Ana", "suspended": true})
	require.NoError(t, err)
	require.Len(t, h.users.updates, 1)
	sent := h.users.updates[0]
	assert.Equal(t, "1", sent["id"])
	assert.NotContains(t, sent, "_id")
	assert.Equal(t, true, sent["suspended"])
	assert.Equal(t, "Ana", sent["name"])
}

func TestSave_NoChanges(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.orch.SelectResource(ctx, "users"))
	h.inbox.Drain()

	require.NoError(t, h.orch.HandleAction(ctx, grid.SaveAction, []string{"1"}, grid.Record{"name": "Ana"}))
	assert.Empty(t, h.users.updates)
	assert.Equal(t, []string{"No changes to save"}, messages(h.inbox.Drain()))
}

func TestSave_Unsupported(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.orch.SelectResource(ctx, "reviews"))

	err := h.orch.HandleAction(ctx, grid.SaveAction, []string{"r1"}, grid.Record{"rating": float64(1)})
	assert.ErrorIs(t, err, ErrUpdateUnsupported)
}

func TestSave_ThroughGridEdit(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.orch.SelectResource(ctx, "users"))
	g := h.orch.Grid()

	require.NoError(t, g.EnterEdit("2"))
	require.NoError(t, g.SaveEdit(ctx, grid.Record{"name": "Roberto", "suspended": "false"}))
	require.Len(t, h.users.updates, 1)
	assert.Equal(t, "Roberto", h.users.updates[0]["name"])
	assert.Empty(t, g.Editing())
}

func TestSave_FailureKeepsData(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.orch.SelectResource(ctx, "users"))
	h.users.updateErr = &api.RemoteError{Status: 422, Detail: "bad name"}
	h.inbox.Drain()

	err := h.orch.HandleAction(ctx, grid.SaveAction, []string{"1"}, grid.Record{"name": "X"})
	require.Error(t, err)
	assert.Equal(t, "Ana", h.orch.Records()[0]["name"])
	assert.Contains(t, messages(h.inbox.Drain()), "Could not save the record: bad name")
}

func TestView_SetsDetail(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.orch.SelectResource(ctx, "users"))

	require.NoError(t, h.orch.HandleAction(ctx, resource.ActionView, []string{"3"}, nil))
	assert.Equal(t, "Carla", h.orch.Detail()["name"])
	h.orch.CloseDetail()
	assert.Nil(t, h.orch.Detail())

	assert.ErrorIs(t, h.orch.HandleAction(ctx, resource.ActionView, []string{"1", "2"}, nil), ErrSelection)
}

func TestUnknownAction(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	assert.ErrorIs(t, h.orch.HandleAction(ctx, "nope", nil, nil), ErrNoResource)
	require.NoError(t, h.orch.SelectResource(ctx, "users"))
	assert.ErrorIs(t, h.orch.HandleAction(ctx, "nope", nil, nil), grid.ErrUnknownAction)
}

func TestFreeTextFilter(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.orch.SelectResource(ctx, "users"))

	n, err := h.orch.ApplyFreeTextFilter("role", "CLIENT")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, h.orch.Filtered(), 2)
	assert.Len(t, h.orch.Records(), 3, "the authoritative dataset is untouched")
	assert.Equal(t, 2, h.orch.Grid().Len())
	assert.Equal(t, "2", h.orch.Metrics()[0].Value)

	_, err = h.orch.ApplyFreeTextFilter("role", " ")
	assert.ErrorIs(t, err, ErrInvalidFilter)
	_, err = h.orch.ApplyFreeTextFilter("missing", "x")
	assert.ErrorIs(t, err, ErrInvalidFilter)

	// the filter survives a reload
	require.NoError(t, h.orch.LoadCollection(ctx, "users"))
	assert.Len(t, h.orch.Filtered(), 2)
}

func TestFreeTextFilter_NilNeverMatches(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.users.records = append(h.users.records, grid.Record{"_id": "4", "name": nil})
	require.NoError(t, h.orch.SelectResource(ctx, "users"))

	n, err := h.orch.ApplyFreeTextFilter("name", "a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestClearFilter_Idempotent(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.orch.SelectResource(ctx, "users"))
	_, err := h.orch.ApplyFreeTextFilter("name", "bo")
	require.NoError(t, err)

	h.orch.ClearFilter()
	once := h.orch.Filtered()
	h.orch.ClearFilter()
	twice := h.orch.Filtered()
	assert.Equal(t, once, twice)
	assert.Equal(t, h.orch.Records(), twice)

	field, value := h.orch.Filter()
	assert.Empty(t, field)
	assert.Empty(t, value)
}

func TestLoad_FailureKeepsPriorData(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.orch.SelectResource(ctx, "users"))
	h.users.loadErr = &api.RemoteError{Status: 503, Detail: "maintenance"}
	h.inbox.Drain()

	err := h.orch.LoadCollection(ctx, "users")
	require.Error(t, err)
	assert.Len(t, h.orch.Records(), 3)
	assert.Contains(t, messages(h.inbox.Drain()), "Could not load Users: maintenance")
}

func TestLoad_FallsBackToCache(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, store.SetJSON(ctx, h.cache, "cache:users", usersFixture()[:1], 0))
	h.users.loadErr = errors.New("offline")

	err := h.orch.SelectResource(ctx, "users")
	require.Error(t, err)
	assert.Len(t, h.orch.Records(), 1)
	assert.True(t, h.orch.Stale())
	assert.Contains(t, messages(h.inbox.Drain()), "Showing the last saved copy of Users")
}

func TestLoad_StaleResponseDiscarded(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.users.block = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- h.orch.SelectResource(ctx, "users") }()

	// wait until the users load is in flight
	require.Eventually(t, func() bool {
		h.users.mu.Lock()
		defer h.users.mu.Unlock()
		return h.users.loads == 1
	}, timeout, tick)

	require.NoError(t, h.orch.SelectResource(ctx, "reviews"))
	close(h.users.block)
	require.NoError(t, <-done)

	assert.Equal(t, "reviews", h.orch.Active().Name())
	require.Len(t, h.orch.Records(), 1)
	assert.Equal(t, "r1", h.orch.Records()[0].ID())
}

func TestLoad_StaleFailureIsSilent(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.users.block = make(chan struct{})
	h.users.loadErr = errors.New("offline")

	done := make(chan error, 1)
	go func() { done <- h.orch.SelectResource(ctx, "users") }()

	require.Eventually(t, func() bool {
		h.users.mu.Lock()
		defer h.users.mu.Unlock()
		return h.users.loads == 1
	}, timeout, tick)

	require.NoError(t, h.orch.SelectResource(ctx, "reviews"))
	h.inbox.Drain()
	close(h.users.block)
	require.Error(t, <-done)

	assert.Equal(t, "reviews", h.orch.Active().Name())
	for _, msg := range messages(h.inbox.Drain()) {
		assert.NotContains(t, msg, "Users")
	}
}

func TestDelete_FailureStillClearsSelection(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.orch.SelectResource(ctx, "users"))

	g := h.orch.Grid()
	require.NoError(t, g.SetSelected("1", true))
	h.users.mu.Lock()
	h.users.deleteErr = map[string]error{"1": errors.New("down")}
	h.users.loadErr = errors.New("offline")
	h.users.mu.Unlock()

	err := g.Dispatch(ctx, resource.ActionDelete)
	var batch *BatchResult
	require.ErrorAs(t, err, &batch)
	assert.Equal(t, 1, batch.Failed())
	assert.Empty(t, g.SelectedIDs())
	assert.Empty(t, g.Editing())
}

func TestSave_FailureStillClearsSelection(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.orch.SelectResource(ctx, "users"))

	g := h.orch.Grid()
	require.NoError(t, g.EnterEdit("2"))
	h.users.mu.Lock()
	h.users.updateErr = errors.New("down")
	h.users.mu.Unlock()

	require.Error(t, g.SaveEdit(ctx, grid.Record{"name": "Bobby", "suspended": false}))
	assert.Empty(t, g.SelectedIDs())
	assert.Empty(t, g.Editing())
}

func TestInbox_DropsOldest(t *testing.T) {
	in := NewInbox(2)
	in.Notify(NewNotice(LevelInfo, "a"))
	in.Notify(NewNotice(LevelInfo, "b"))
	in.Notify(NewNotice(LevelInfo, "c"))
	assert.Equal(t, 2, in.Len())
	notices := in.Drain()
	assert.Equal(t, []string{"b", "c"}, messages(notices))
	assert.NotEqual(t, notices[0].ID, notices[1].ID)
	assert.Empty(t, in.Drain())
}

func TestInbox_PendingAndDismiss(t *testing.T) {
	in := NewInbox(0)
	warn := NewNotice(LevelWarning, "careful")
	fail := NewNotice(LevelError, "broken")
	in.Notify(warn)
	in.Notify(fail)

	pending := in.Pending()
	require.Len(t, pending, 2)
	assert.False(t, pending[0].Sticky())
	assert.True(t, pending[1].Sticky())

	assert.Equal(t, 1, in.Dismiss(warn.ID, "missing"))
	assert.Equal(t, []string{"broken"}, messages(in.Pending()))
	assert.Equal(t, 0, in.Dismiss())
	assert.Equal(t, 1, in.Dismiss(fail.ID))
	assert.Zero(t, in.Len())
}

func TestConfirmedFromContext(t *testing.T) {
	ctx := context.Background()
	assert.False(t, ConfirmedFromContext(ctx, "", nil))
	assert.True(t, ConfirmedFromContext(WithConfirmed(ctx, true), "", nil))
}

func TestMergeRecord(t *testing.T) {
	merged := MergeRecord(grid.Record{"id": "7", "_id": "x", "a": 1.0}, grid.Record{"a": 2.0})
	assert.Equal(t, grid.Record{"id": "7", "_id": "x", "a": 2.0}, merged)
}
