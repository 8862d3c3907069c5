// ABOUTME: Tests for the admin CLI commands against a fake backend
// ABOUTME: Each run builds a fresh app over a shared store, like separate invocations

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/pymemap-console/internal/grid"
	"github.com/2389/pymemap-console/internal/store"
)

type backend struct {
	mu        sync.Mutex
	users     []map[string]any
	updates   map[string]map[string]any
	confirmed []string
	states    map[string]string
	responses map[string]string
	sent      []string
	codes     []string
	passwords map[string]string
}

func newBackend() *backend {
	return &backend{
		users: []map[string]any{
			{"_id": "u1", "name": "Ana", "email": "ana@example.com", "role": "client", "suspended": false},
			{"_id": "u2", "name": "Bruno", "email": "bruno@example.com", "role": "business", "suspended": false},
			{"_id": "u3", "name": "Carla", "email": "carla@example.com", "role": "client", "suspended": true},
		},
		updates:   map[string]map[string]any{},
		states:    map[string]string{},
		responses: map[string]string{},
		passwords: map[string]string{},
	}
}

func reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (b *backend) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		var creds struct{ Email, Password string }
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds.Password != "secret" {
			reply(w, http.StatusUnauthorized, map[string]any{"detail": "Incorrect email or password"})
			return
		}
		reply(w, http.StatusOK, map[string]any{"access_token": "tok-" + strings.Split(creds.Email, "@")[0]})
	})
	mux.HandleFunc("POST /send-auth-code", func(w http.ResponseWriter, r *http.Request) {
		var body struct{ Email string }
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		b.codes = append(b.codes, body.Email)
		b.mu.Unlock()
		reply(w, http.StatusOK, map[string]any{})
	})
	mux.HandleFunc("POST /verify-auth-code", func(w http.ResponseWriter, r *http.Request) {
		var body struct{ Email, Code string }
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Code != "123456" {
			reply(w, http.StatusBadRequest, map[string]any{"detail": "Invalid code"})
			return
		}
		reply(w, http.StatusOK, map[string]any{"access_token": "tok-" + strings.Split(body.Email, "@")[0]})
	})
	mux.HandleFunc("POST /users/reset-password", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Email       string `json:"email"`
			Code        string `json:"code"`
			NewPassword string `json:"new_password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Code != "123456" {
			reply(w, http.StatusBadRequest, map[string]any{"detail": "Invalid code"})
			return
		}
		b.mu.Lock()
		b.passwords[body.Email] = body.NewPassword
		b.mu.Unlock()
		reply(w, http.StatusOK, map[string]any{})
	})

	authed := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer tok-") {
				reply(w, http.StatusUnauthorized, map[string]any{"detail": "Not authenticated"})
				return
			}
			next(w, r)
		}
	}
	mux.HandleFunc("GET /users/me", authed(func(w http.ResponseWriter, r *http.Request) {
		role := "admin"
		if r.Header.Get("Authorization") == "Bearer tok-client" {
			role = "client"
		}
		reply(w, http.StatusOK, map[string]any{"_id": "admin-1", "name": "Operator", "email": "op@example.com", "role": role})
	}))
	mux.HandleFunc("GET /users/", authed(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		reply(w, http.StatusOK, b.users)
	}))
	mux.HandleFunc("PUT /users/{id}", authed(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		b.updates[r.PathValue("id")] = body
		b.mu.Unlock()
		reply(w, http.StatusOK, body)
	}))
	mux.HandleFunc("DELETE /users/{id}", authed(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, u := range b.users {
			if u["_id"] == r.PathValue("id") {
				b.users = append(b.users[:i], b.users[i+1:]...)
				break
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.HandleFunc("GET /bookings/", authed(func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, []map[string]any{
			{"_id": "b1", "user_name": "Ana", "business_name": "Cafe", "status": "pending"},
		})
	}))
	mux.HandleFunc("PATCH /bookings/{id}/confirm", authed(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.confirmed = append(b.confirmed, r.PathValue("id"))
		b.mu.Unlock()
		reply(w, http.StatusOK, map[string]any{"_id": r.PathValue("id"), "status": "confirmed"})
	}))
	mux.HandleFunc("GET /reports/", authed(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		reports := []map[string]any{
			{"_id": "r1", "type": "service_issue", "state": "open", "reportedBy": "u1", "reportedByName": "Jose", "description": "Late", "timestamp": "2024-05-02T10:00:00Z"},
			{"_id": "r2", "type": "payment_issue", "state": "open", "reportedBy": "u3", "reportedByName": "Marta", "description": "Charged twice", "timestamp": "2024-05-01T10:00:00Z"},
		}
		for _, rep := range reports {
			if st, ok := b.states[rep["_id"].(string)]; ok {
				rep["state"] = st
			}
		}
		reply(w, http.StatusOK, reports)
	}))
	mux.HandleFunc("PUT /reports/{id}/update_state", authed(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.states[r.PathValue("id")] = r.URL.Query().Get("new_state")
		b.mu.Unlock()
		reply(w, http.StatusOK, map[string]any{})
	}))
	mux.HandleFunc("POST /reports/{id}/response", authed(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		b.responses[r.PathValue("id")] = grid.FormatValue(body["response"])
		b.mu.Unlock()
		reply(w, http.StatusOK, map[string]any{})
	}))
	mux.HandleFunc("GET /chat/", authed(func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, []map[string]any{
			{"_id": "c1", "participants": []string{"admin-1", "u1"}, "last_message": map[string]any{"content": "hello"}},
		})
	}))
	mux.HandleFunc("GET /chat/messages", authed(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		msgs := []map[string]any{{"_id": "m1", "chat_id": "c1", "sender_id": "u1", "content": "hello", "timestamp": "2024-05-02T10:00:00Z"}}
		for i, s := range b.sent {
			msgs = append(msgs, map[string]any{"_id": "s" + string(rune('0'+i)), "chat_id": "c1", "sender_id": "admin-1", "content": s})
		}
		reply(w, http.StatusOK, msgs)
	}))
	mux.HandleFunc("POST /chat/message/", authed(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		b.sent = append(b.sent, grid.FormatValue(body["content"]))
		b.mu.Unlock()
		reply(w, http.StatusOK, body)
	}))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// harness runs commands as separate invocations sharing one store.
type harness struct {
	t   *testing.T
	srv *httptest.Server
	kv  store.KV
}

func newHarness(t *testing.T, b *backend) *harness {
	t.Helper()
	color.NoColor = true
	return &harness{t: t, srv: b.server(t), kv: store.NewMemoryStore()}
}

func (h *harness) profile() Profile {
	p := defaultProfile()
	p.APIURL = h.srv.URL
	p.StorePath = filepath.Join(h.t.TempDir(), "admin.db")
	require.NoError(h.t, p.validate())
	return p
}

func (h *harness) run(input string, name string, args ...string) (string, error) {
	h.t.Helper()
	var out bytes.Buffer
	a, err := newApp(h.profile(), h.kv, &out, strings.NewReader(input), slog.New(slog.DiscardHandler))
	require.NoError(h.t, err)

	cmd, ok := commands[name]
	require.True(h.t, ok, "unknown command %s", name)
	err = cmd(a, context.Background(), args)
	printNotices(&out, a.inbox.Drain())
	return out.String(), err
}

func (h *harness) login() {
	h.t.Helper()
	out, err := h.run("secret\n", "login", "--email", "admin@example.com")
	require.NoError(h.t, err)
	require.Contains(h.t, out, "Signed in as Operator (admin)")
}

func TestLogin_PasswordAndWhoami(t *testing.T) {
	h := newHarness(t, newBackend())
	h.login()

	out, err := h.run("", "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "Operator")
	assert.Contains(t, out, "admin")
}

func TestLogin_PromptsForEmail(t *testing.T) {
	h := newHarness(t, newBackend())
	out, err := h.run("admin@example.com\nsecret\n", "login")
	require.NoError(t, err)
	assert.Contains(t, out, "Email: ")
	assert.Contains(t, out, "Signed in as Operator")
}

func TestLogin_WithCode(t *testing.T) {
	b := newBackend()
	h := newHarness(t, b)
	out, err := h.run("123456\n", "login", "--email", "admin@example.com", "--code")
	require.NoError(t, err)
	assert.Contains(t, out, "A code was sent to admin@example.com")
	assert.Equal(t, []string{"admin@example.com"}, b.codes)

	_, err = h.run("", "whoami")
	assert.NoError(t, err)
}

func TestResetPassword(t *testing.T) {
	b := newBackend()
	h := newHarness(t, b)

	out, err := h.run("ana@example.com\n123456\nhunter22\n", "reset-password")
	require.NoError(t, err)
	assert.Contains(t, out, "A code was sent to ana@example.com")
	assert.Contains(t, out, "Password changed for ana@example.com")
	assert.Equal(t, []string{"ana@example.com"}, b.codes)
	assert.Equal(t, "hunter22", b.passwords["ana@example.com"])
}

func TestResetPassword_BadCode(t *testing.T) {
	b := newBackend()
	h := newHarness(t, b)

	_, err := h.run("000000\nhunter22\n", "reset-password", "--email", "ana@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid code")
	assert.Empty(t, b.passwords)

	_, err = h.run("123456\n\n", "reset-password", "--email", "ana@example.com")
	assert.EqualError(t, err, "new password is required")
}

func TestLogin_WrongPassword(t *testing.T) {
	h := newHarness(t, newBackend())
	_, err := h.run("nope\n", "login", "--email", "admin@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Incorrect email or password")
}

func TestLogin_NonAdminRefused(t *testing.T) {
	h := newHarness(t, newBackend())
	_, err := h.run("secret\n", "login", "--email", "client@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only administrators")

	_, err = h.run("", "whoami")
	assert.ErrorIs(t, err, errNotSignedIn)
}

func TestLogout(t *testing.T) {
	h := newHarness(t, newBackend())
	h.login()
	_, err := h.run("", "logout")
	require.NoError(t, err)

	_, err = h.run("", "list", "users")
	assert.ErrorIs(t, err, errNotSignedIn)
}

func TestList_FilterAndMetrics(t *testing.T) {
	h := newHarness(t, newBackend())
	h.login()

	out, err := h.run("", "list", "users", "--filter", "role=client")
	require.NoError(t, err)
	assert.Contains(t, out, "Users")
	assert.Contains(t, out, "Ana")
	assert.Contains(t, out, "Carla")
	assert.NotContains(t, out, "Bruno")
	assert.Contains(t, out, "2 records found")
	assert.Contains(t, out, "page 1 of 1, 2 records")
}

func TestList_Pagination(t *testing.T) {
	h := newHarness(t, newBackend())
	h.login()

	out, err := h.run("", "list", "users", "--per-page", "10", "--page", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "page 1 of 1, 3 records", "page is clamped")

	_, err = h.run("", "list", "users", "--per-page", "7")
	assert.ErrorIs(t, err, grid.ErrInvalidPerPage)
}

func TestList_UnknownResource(t *testing.T) {
	h := newHarness(t, newBackend())
	h.login()
	_, err := h.run("", "list", "planets")
	assert.Error(t, err)
}

func TestDelete_AsksForConfirmation(t *testing.T) {
	b := newBackend()
	h := newHarness(t, b)
	h.login()

	out, err := h.run("n\n", "delete", "users", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "Delete the selected records? (1 selected) [y/N]")
	assert.Contains(t, out, "Deletion cancelled")
	assert.Len(t, b.users, 3)

	out, err = h.run("", "delete", "users", "u1", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "1 record deleted")
	assert.Len(t, b.users, 2)
}

func TestSave_EditableFields(t *testing.T) {
	b := newBackend()
	h := newHarness(t, b)
	h.login()

	out, err := h.run("", "save", "users", "u1", "suspended=true")
	require.NoError(t, err)
	assert.Contains(t, out, "Record updated")
	require.Contains(t, b.updates, "u1")
	assert.Equal(t, true, b.updates["u1"]["suspended"])
	assert.Equal(t, "u1", b.updates["u1"]["id"])
	assert.Equal(t, "Ana", b.updates["u1"]["name"])
}

func TestSave_NoChanges(t *testing.T) {
	b := newBackend()
	h := newHarness(t, b)
	h.login()

	out, err := h.run("", "save", "users", "u3", "suspended=true")
	require.NoError(t, err)
	assert.Contains(t, out, "No changes to save")
	assert.Empty(t, b.updates)
}

func TestEditForm_KeepsUnassignedBooleans(t *testing.T) {
	cols := []grid.Column{
		{Key: "suspended", Editable: true},
		{Key: "address", Editable: true},
		{Key: "name"},
	}
	original := grid.Record{"suspended": true, "address": "Main St", "name": "Ana"}

	form, err := editForm(cols, original, []string{"address=Side St"})
	require.NoError(t, err)
	values := grid.ParseEditForm(cols, original, form)
	assert.Equal(t, grid.Record{"suspended": true, "address": "Side St"}, values)

	_, err = editForm(cols, original, []string{"address"})
	assert.ErrorContains(t, err, "expected key=value")
}

func TestSave_RejectsNonEditable(t *testing.T) {
	h := newHarness(t, newBackend())
	h.login()
	_, err := h.run("", "save", "users", "u1", "name=Zed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"name" is not editable`)
}

func TestConfirmBookings(t *testing.T) {
	b := newBackend()
	h := newHarness(t, b)
	h.login()

	out, err := h.run("", "confirm", "b1")
	require.NoError(t, err)
	assert.Contains(t, out, "1 record confirmed")
	assert.Equal(t, []string{"b1"}, b.confirmed)
}

func TestReports_FiltersAndState(t *testing.T) {
	b := newBackend()
	h := newHarness(t, b)
	h.login()

	out, err := h.run("", "reports", "--type", "payment_issue")
	require.NoError(t, err)
	assert.Contains(t, out, "Total: 2   Open: 2")
	assert.Contains(t, out, "Marta")
	assert.NotContains(t, out, "Jose")

	out, err = h.run("", "reports", "--search", "late")
	require.NoError(t, err)
	assert.Contains(t, out, "Jose")
	assert.NotContains(t, out, "Marta")

	out, err = h.run("", "report-state", "r1", "resolved")
	require.NoError(t, err)
	assert.Contains(t, out, "State changed to")
	assert.Equal(t, "resolved", b.states["r1"])

	_, err = h.run("", "report-state", "r1", "shelved")
	assert.Error(t, err)
}

func TestRespond(t *testing.T) {
	b := newBackend()
	h := newHarness(t, b)
	h.login()

	out, err := h.run("", "respond", "r2", "We", "refunded", "you")
	require.NoError(t, err)
	assert.Contains(t, out, "Response sent")
	assert.Equal(t, "We refunded you", b.responses["r2"])
}

func TestChats(t *testing.T) {
	b := newBackend()
	h := newHarness(t, b)
	h.login()

	out, err := h.run("", "chats")
	require.NoError(t, err)
	assert.Contains(t, out, "c1")
	assert.Contains(t, out, "hello")

	out, err = h.run("", "chat", "c1", "on", "my", "way")
	require.NoError(t, err)
	assert.Contains(t, out, "Message sent")
	assert.Contains(t, out, "them hello")
	assert.Contains(t, out, "you  on my way")
	assert.Equal(t, []string{"on my way"}, b.sent)
}

func TestProfile_LoadsTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admin.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
api_url = "https://api.example.com"
required_role = "moderator"
store_path = "/tmp/pymemap-admin.db"
timeout = "5s"
per_page = 50
`), 0o600))
	t.Setenv("PYMEMAP_API_URL", "")

	p, err := loadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", p.APIURL)
	assert.Equal(t, "moderator", p.RequiredRole)
	assert.Equal(t, 50, p.PerPage)
	assert.Equal(t, "5s", p.timeout.String())
}

func TestProfile_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("PYMEMAP_API_URL", "https://env.example.com")
	p, err := loadProfile(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", p.APIURL)
	assert.Equal(t, 20, p.PerPage)
}

func TestProfile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admin.toml")
	require.NoError(t, os.WriteFile(path, []byte(`timeout = "soon"`), 0o600))
	t.Setenv("PYMEMAP_API_URL", "")
	_, err := loadProfile(path)
	assert.ErrorContains(t, err, "timeout")
}

func TestParseArgs_FlagsAnywhere(t *testing.T) {
	fs := newFlags("x")
	yes := fs.Bool("yes", false, "")
	pos, err := parseArgs(fs, []string{"users", "--yes", "u1", "u2"})
	require.NoError(t, err)
	assert.True(t, *yes)
	assert.Equal(t, []string{"users", "u1", "u2"}, pos)
}

func TestTruncateAndCells(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", truncate("abcdef", 2))
	assert.Equal(t, "-", cellText(nil))
	assert.Equal(t, "a b", cellText("a\n  b"))
}

func TestPerPageOptions(t *testing.T) {
	assert.Equal(t, []int{20, 10, 50}, perPageOptions(20))
	assert.Equal(t, []int{25, 10, 20, 50}, perPageOptions(25))
}
