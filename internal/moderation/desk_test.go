// ABOUTME: Tests for the moderation desk and operator chats
// ABOUTME: Uses an in-memory backend recording every call

package moderation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/pymemap-console/internal/api"
	"github.com/2389/pymemap-console/internal/console"
	"github.com/2389/pymemap-console/internal/grid"
)

type fakeBackend struct {
	reports    []api.Record
	reportsErr error
	stateErr   map[string]error
	states     map[string]string
	responses  map[string]string
	chats      []api.Chat
	existing   *api.Chat
	findErr    error
	created    [][]string
	messages   map[string][]api.Message
	sent       []api.Message
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		reports: []api.Record{
			{"_id": "r1", "type": "service_issue", "state": "open", "reportedBy": "u1", "reportedByName": "Jose", "reportedByEmail": "jose@x.cl", "description": "late", "timestamp": "2025-11-20T19:49:33.089905"},
			{"_id": "r2", "type": "payment_issue", "state": "in_progress", "reportedBy": "u2", "reportedByName": "Ana", "reportedByEmail": "ana@x.cl", "description": "double charge", "timestamp": "2025-11-21T08:00:00"},
			{"_id": "r3", "type": "other", "state": "resolved", "reportedByName": "Old", "timestamp": "garbage"},
		},
		stateErr:  map[string]error{},
		states:    map[string]string{},
		responses: map[string]string{},
		messages:  map[string][]api.Message{},
	}
}

func (f *fakeBackend) Reports(context.Context, api.ReportFilter) ([]api.Record, error) {
	if f.reportsErr != nil {
		return nil, f.reportsErr
	}
	out := make([]api.Record, len(f.reports))
	for i, r := range f.reports {
		c := api.Record{}
		for k, v := range r {
			c[k] = v
		}
		if s, ok := f.states[grid.Record(r).ID()]; ok {
			c["state"] = s
		}
		out[i] = c
	}
	return out, nil
}

func (f *fakeBackend) UpdateReportState(_ context.Context, id, state string) error {
	if err := f.stateErr[id]; err != nil {
		return err
	}
	f.states[id] = state
	return nil
}

func (f *fakeBackend) AddReportResponse(_ context.Context, id, response string) error {
	f.responses[id] = response
	return nil
}

func (f *fakeBackend) ChatsByUser(context.Context, string) ([]api.Chat, error) { return f.chats, nil }

func (f *fakeBackend) ChatByParticipants(context.Context, string, string) (*api.Chat, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	if f.existing == nil {
		return &api.Chat{}, nil
	}
	return f.existing, nil
}

func (f *fakeBackend) CreateChat(_ context.Context, participants []string) (*api.Chat, error) {
	f.created = append(f.created, participants)
	return &api.Chat{ID: "new-chat", Participants: participants}, nil
}

func (f *fakeBackend) Messages(_ context.Context, chatID string) ([]api.Message, error) {
	return f.messages[chatID], nil
}

func (f *fakeBackend) SendMessage(_ context.Context, msg api.Message) (*api.Message, error) {
	f.sent = append(f.sent, msg)
	return &msg, nil
}

func newTestDesk(t *testing.T, backend *fakeBackend, confirm bool) (*Desk, *console.Inbox) {
	t.Helper()
	inbox := console.NewInbox(0)
	d, err := NewDesk(backend, Options{
		CurrentUser: func(context.Context) (*api.Profile, error) {
			return &api.Profile{ID: "admin1", Role: "admin"}, nil
		},
		CachedUsers: func(context.Context) ([]grid.Record, error) {
			return []grid.Record{{"_id": "u1", "name": "José López"}}, nil
		},
		Notifier: inbox,
		Confirm:  func(context.Context, string, []string) bool { return confirm },
	})
	require.NoError(t, err)
	require.NoError(t, d.Load(context.Background()))
	return d, inbox
}

func TestNewDesk_RequiresCurrentUser(t *testing.T) {
	_, err := NewDesk(newFakeBackend(), Options{})
	assert.Error(t, err)
}

func TestLoad_SortsNewestFirstAndSummarizes(t *testing.T) {
	d, _ := newTestDesk(t, newFakeBackend(), true)

	rows, total := d.Grid().ComputeView()
	require.Equal(t, 3, total)
	assert.Equal(t, []string{"r2", "r1", "r3"}, []string{rows[0].ID(), rows[1].ID(), rows[2].ID()})
	assert.Equal(t, Summary{Total: 3, Open: 1, InProgress: 1, Resolved: 1}, d.Summary())
}

func TestLoad_Failure(t *testing.T) {
	backend := newFakeBackend()
	d, inbox := newTestDesk(t, backend, true)
	inbox.Drain()
	backend.reportsErr = &api.RemoteError{Status: 500, Detail: "down"}

	require.Error(t, d.Load(context.Background()))
	assert.Equal(t, 3, d.Grid().Len())
	notices := inbox.Drain()
	require.Len(t, notices, 1)
	assert.Equal(t, "Could not load reports: down", notices[0].Message)
}

func TestGridSearchAndFilters(t *testing.T) {
	d, _ := newTestDesk(t, newFakeBackend(), true)
	g := d.Grid()

	require.NoError(t, g.SetSearch("DOUBLE"))
	rows, total := g.ComputeView()
	require.Equal(t, 1, total)
	assert.Equal(t, "r2", rows[0].ID())

	require.NoError(t, g.SetSearch(""))
	require.NoError(t, g.SetFilter("state", "open"))
	_, total = g.ComputeView()
	assert.Equal(t, 1, total)
}

func TestBulkStateChange_ContinuesAndReports(t *testing.T) {
	backend := newFakeBackend()
	backend.stateErr["r2"] = &api.RemoteError{Status: 500}
	d, inbox := newTestDesk(t, backend, true)
	inbox.Drain()
	ctx := context.Background()
	g := d.Grid()

	require.NoError(t, g.SetSelected("r1", true))
	require.NoError(t, g.SetSelected("r2", true))
	err := g.Dispatch(ctx, ActionClose)

	var batch *console.BatchResult
	require.ErrorAs(t, err, &batch)
	assert.Equal(t, "1 succeeded, 1 failed", batch.Summary())
	assert.Equal(t, "closed", backend.states["r1"])

	notices := inbox.Drain()
	require.Len(t, notices, 1)
	assert.Equal(t, "Closed: 1 succeeded, 1 failed", notices[0].Message)
	assert.Empty(t, g.SelectedIDs(), "reload clears the selection")
}

func TestBulkStateChange_FailedReloadClearsSelection(t *testing.T) {
	backend := newFakeBackend()
	backend.stateErr["r1"] = &api.RemoteError{Status: 500}
	d, _ := newTestDesk(t, backend, true)
	g := d.Grid()
	backend.reportsErr = &api.RemoteError{Status: 503, Detail: "down"}

	require.NoError(t, g.SetSelected("r1", true))
	err := g.Dispatch(context.Background(), ActionInProgress)

	var batch *console.BatchResult
	require.ErrorAs(t, err, &batch)
	assert.Equal(t, 1, batch.Failed())
	assert.Empty(t, g.SelectedIDs())
}

func TestResolve_RequiresConfirmation(t *testing.T) {
	backend := newFakeBackend()
	d, _ := newTestDesk(t, backend, false)
	g := d.Grid()

	require.NoError(t, g.SetSelected("r1", true))
	require.NoError(t, g.Dispatch(context.Background(), ActionResolve))
	assert.Empty(t, backend.states)
}

func TestChangeState(t *testing.T) {
	backend := newFakeBackend()
	d, _ := newTestDesk(t, backend, true)
	ctx := context.Background()

	assert.ErrorIs(t, d.ChangeState(ctx, "r1", "archived"), ErrInvalidState)
	require.NoError(t, d.ChangeState(ctx, "r1", "in_progress"))
	assert.Equal(t, Summary{Total: 3, InProgress: 2, Resolved: 1}, d.Summary())
}

func TestRespond(t *testing.T) {
	backend := newFakeBackend()
	d, _ := newTestDesk(t, backend, true)
	ctx := context.Background()

	assert.ErrorIs(t, d.Respond(ctx, "r1", "   "), ErrEmptyMessage)
	require.NoError(t, d.Respond(ctx, "r1", " We are on it "))
	assert.Equal(t, "We are on it", backend.responses["r1"])
}

func TestViewAction(t *testing.T) {
	d, _ := newTestDesk(t, newFakeBackend(), true)
	g := d.Grid()
	require.NoError(t, g.SetSelected("r1", true))
	require.NoError(t, g.Dispatch(context.Background(), ActionView))
	assert.Equal(t, "Jose", d.Detail()["reportedByName"])

	d.Detail()["reportedByName"] = "changed"
	assert.Equal(t, "Jose", d.Detail()["reportedByName"])
	d.CloseDetail()
	assert.Nil(t, d.Detail())
}

func TestOpenChatForReport_CreatesWhenMissing(t *testing.T) {
	backend := newFakeBackend()
	d, _ := newTestDesk(t, backend, true)

	chat, err := d.OpenChatForReport(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "new-chat", chat.ID)
	assert.Equal(t, [][]string{{"admin1", "u1"}}, backend.created)
	assert.Equal(t, &OpenChat{ID: "new-chat", Title: "Chat with Jose"}, d.CurrentChat())

	d.CloseChat()
	assert.Nil(t, d.CurrentChat())
}

func TestOpenChatForReport_ReusesExisting(t *testing.T) {
	backend := newFakeBackend()
	backend.existing = &api.Chat{ID: "c9", Participants: []string{"admin1", "u1"}}
	d, _ := newTestDesk(t, backend, true)

	chat, err := d.OpenChatForReport(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "c9", chat.ID)
	assert.Empty(t, backend.created)
}

func TestOpenChatForReport_LookupErrorCreates(t *testing.T) {
	backend := newFakeBackend()
	backend.findErr = &api.RemoteError{Status: 404}
	d, _ := newTestDesk(t, backend, true)

	chat, err := d.OpenChatForReport(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "new-chat", chat.ID)
}

func TestOpenChatForReport_Unauthorized(t *testing.T) {
	backend := newFakeBackend()
	backend.findErr = &api.RemoteError{Status: 401}
	d, _ := newTestDesk(t, backend, true)

	_, err := d.OpenChatForReport(context.Background(), "r1")
	assert.ErrorIs(t, err, api.ErrUnauthorized)
	assert.Empty(t, backend.created)
}

func TestOpenChatForReport_NoAuthor(t *testing.T) {
	d, _ := newTestDesk(t, newFakeBackend(), true)
	_, err := d.OpenChatForReport(context.Background(), "r3")
	assert.ErrorIs(t, err, ErrNoReporter)
	_, err = d.OpenChatForReport(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownReport)
}

func TestChats_NameResolution(t *testing.T) {
	backend := newFakeBackend()
	backend.chats = []api.Chat{
		{ID: "c1", Participants: []string{"admin1", "u1"}, LastMessage: &api.Message{Content: "hola"}},
		{ID: "c2", Participants: []string{"admin1", "u2"}, OtherUserName: "Ana"},
		{ID: "c3", Participants: []string{"u3", "admin1"}, OtherUserNameAlt: "Bea"},
		{ID: "c4", Participants: []string{"admin1", "u4"}},
	}
	d, _ := newTestDesk(t, backend, true)

	chats, err := d.Chats(context.Background())
	require.NoError(t, err)
	require.Len(t, chats, 4)
	assert.Equal(t, ChatSummary{ID: "c1", Name: "José López", Preview: "hola"}, chats[0])
	assert.Equal(t, "Ana", chats[1].Name)
	assert.Equal(t, "Bea", chats[2].Name)
	assert.Equal(t, "u4", chats[3].Name)
	assert.Equal(t, "No messages", chats[3].Preview)
}

func TestMessagesAndSend(t *testing.T) {
	backend := newFakeBackend()
	backend.messages["c1"] = []api.Message{
		{ID: "m1", SenderID: "u1", Content: "**hi** <script>alert(1)</script>"},
		{ID: "m2", SenderID: "admin1", Content: "hello"},
	}
	d, _ := newTestDesk(t, backend, true)
	ctx := context.Background()

	msgs, err := d.Messages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.False(t, msgs[0].Sent)
	assert.True(t, msgs[1].Sent)
	assert.Contains(t, string(msgs[0].HTML), "<strong>hi</strong>")
	assert.NotContains(t, string(msgs[0].HTML), "<script>")

	assert.ErrorIs(t, d.Send(ctx, "c1", "  "), ErrEmptyMessage)
	require.NoError(t, d.Send(ctx, "c1", "on it"))
	require.Len(t, backend.sent, 1)
	assert.Equal(t, "c1", backend.sent[0].ChatID)
	assert.Equal(t, "admin1", backend.sent[0].SenderID)
	assert.NotEmpty(t, backend.sent[0].Timestamp)
}

func TestCurrentUserFailure(t *testing.T) {
	d, err := NewDesk(newFakeBackend(), Options{
		CurrentUser: func(context.Context) (*api.Profile, error) { return nil, errors.New("no session") },
	})
	require.NoError(t, err)
	_, err = d.Chats(context.Background())
	assert.Error(t, err)
}
