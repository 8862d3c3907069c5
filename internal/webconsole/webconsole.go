// ABOUTME: Web console server: operator sessions, CSRF protection and routing
// ABOUTME: Builds one workspace per signed-in operator and serves the console pages

package webconsole

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/2389/pymemap-console/internal/api"
	"github.com/2389/pymemap-console/internal/assets"
	"github.com/2389/pymemap-console/internal/auth"
	"github.com/2389/pymemap-console/internal/console"
	"github.com/2389/pymemap-console/internal/grid"
	"github.com/2389/pymemap-console/internal/moderation"
	"github.com/2389/pymemap-console/internal/resource"
	"github.com/2389/pymemap-console/internal/store"
)

const (
	// SessionCookieName is the name of the session cookie
	SessionCookieName = "pymemap_session"

	// CSRFCookieName is the name of the CSRF token cookie
	CSRFCookieName = "pymemap_csrf"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const workspaceContextKey contextKey = "workspace"
const csrfContextKey contextKey = "csrf_token"

// Options configures the web console.
type Options struct {
	// Store keeps sessions and cached datasets. Required.
	Store store.KV
	// APIBaseURL is the backend root. Required.
	APIBaseURL string
	APITimeout time.Duration
	// HTTPClient replaces the client used for backend calls.
	HTTPClient *http.Client

	RequiredRole string
	SessionTTL   time.Duration
	Sealer       *auth.Sealer

	PerPageOptions []int
	CacheTTL       time.Duration
	MaxWorkspaces  int
	WorkspaceIdle  time.Duration
	SecureCookies  bool

	Logger *slog.Logger
}

// Workspace is one operator's console state.
type Workspace struct {
	ID      string
	Session *auth.Session
	Client  *api.Client
	Console *console.Orchestrator
	Desk    *moderation.Desk
	Inbox   *console.Inbox
}

// Server serves the console UI.
type Server struct {
	opts       Options
	authClient *api.Client
	workspaces *workspaceCache
	pages      map[string]*template.Template
	logger     *slog.Logger
}

// New creates the console server.
func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("webconsole: store is required")
	}
	if opts.MaxWorkspaces <= 0 {
		opts.MaxWorkspaces = 256
	}
	if opts.WorkspaceIdle <= 0 {
		opts.WorkspaceIdle = 2 * time.Hour
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "webconsole")

	s := &Server{opts: opts, logger: logger}
	authClient, err := api.New(opts.APIBaseURL, nil, s.clientOptions(logger)...)
	if err != nil {
		return nil, fmt.Errorf("creating auth client: %w", err)
	}
	s.authClient = authClient

	pages, err := parsePages()
	if err != nil {
		return nil, err
	}
	s.pages = pages
	s.workspaces = newWorkspaceCache(opts.WorkspaceIdle, opts.MaxWorkspaces)
	return s, nil
}

// Close stops background work.
func (s *Server) Close() {
	s.workspaces.Close()
}

func (s *Server) clientOptions(logger *slog.Logger) []api.Option {
	var opts []api.Option
	if s.opts.HTTPClient != nil {
		opts = append(opts, api.WithHTTPClient(s.opts.HTTPClient))
	}
	opts = append(opts, api.WithTimeout(s.opts.APITimeout), api.WithLogger(logger))
	return opts
}

// Handler returns the console routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// RegisterRoutes registers all console routes on the given mux
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	// Public routes
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET "+assets.Prefix, http.StripPrefix(strings.TrimSuffix(assets.Prefix, "/"), assets.FileServer()))
	mux.HandleFunc("GET /login", s.handleLoginPage)
	mux.HandleFunc("POST /login", s.handleLogin)

	mux.HandleFunc("GET /{$}", s.requireAuth(s.handleHome))
	mux.HandleFunc("POST /logout", s.requireAuth(s.handleLogout))
	mux.HandleFunc("POST /notices/{id}/dismiss", s.requireAuth(s.handleNoticeDismiss))

	// Collections
	mux.HandleFunc("GET /collections/{name}", s.requireAuth(s.handleCollection))
	mux.HandleFunc("POST /collections/{name}/filter", s.requireAuth(s.handleCollectionFilter))
	mux.HandleFunc("POST /collections/{name}/filter/clear", s.requireAuth(s.handleCollectionFilterClear))
	mux.HandleFunc("POST /collections/{name}/grid", s.requireAuth(s.handleCollectionGrid))
	mux.HandleFunc("POST /collections/{name}/select", s.requireAuth(s.handleCollectionSelect))
	mux.HandleFunc("POST /collections/{name}/select-all", s.requireAuth(s.handleCollectionSelectAll))
	mux.HandleFunc("POST /collections/{name}/edit/{id}", s.requireAuth(s.handleCollectionEdit))
	mux.HandleFunc("POST /collections/{name}/save/{id}", s.requireAuth(s.handleCollectionSave))
	mux.HandleFunc("POST /collections/{name}/cancel", s.requireAuth(s.handleCollectionCancel))
	mux.HandleFunc("POST /collections/{name}/action/{key}", s.requireAuth(s.handleCollectionAction))
	mux.HandleFunc("POST /collections/{name}/detail/close", s.requireAuth(s.handleCollectionDetailClose))

	// Reports
	mux.HandleFunc("GET /reports", s.requireAuth(s.handleReports))
	mux.HandleFunc("POST /reports/grid", s.requireAuth(s.handleReportsGrid))
	mux.HandleFunc("POST /reports/select", s.requireAuth(s.handleReportsSelect))
	mux.HandleFunc("POST /reports/select-all", s.requireAuth(s.handleReportsSelectAll))
	mux.HandleFunc("POST /reports/action/{key}", s.requireAuth(s.handleReportsAction))
	mux.HandleFunc("POST /reports/detail/close", s.requireAuth(s.handleReportsDetailClose))
	mux.HandleFunc("POST /report/{id}/state", s.requireAuth(s.handleReportState))
	mux.HandleFunc("POST /report/{id}/response", s.requireAuth(s.handleReportResponse))

	// Chats
	mux.HandleFunc("GET /chats", s.requireAuth(s.handleChats))
	mux.HandleFunc("GET /chats/{id}", s.requireAuth(s.handleChat))
	mux.HandleFunc("POST /chats/{id}/send", s.requireAuth(s.handleChatSend))
	mux.HandleFunc("POST /chats/close", s.requireAuth(s.handleChatClose))

	s.logger.Info("console routes registered")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// newWorkspace wires a session, API client, orchestrator and desk for the
// browser session id.
func (s *Server) newWorkspace(id string) (*Workspace, error) {
	logger := s.logger.With("workspace", id[:min(8, len(id))])
	inbox := console.NewInbox(console.DefaultInboxSize)

	sess := auth.NewSession(s.opts.Store, "session:"+id, s.authClient, auth.Options{
		RequiredRole: s.opts.RequiredRole,
		TTL:          s.opts.SessionTTL,
		Sealer:       s.opts.Sealer,
		Logger:       logger,
	})
	client, err := api.New(s.opts.APIBaseURL, sess, s.clientOptions(logger)...)
	if err != nil {
		return nil, fmt.Errorf("creating api client: %w", err)
	}
	client.OnUnauthorized = func(ctx context.Context) {
		logger.Warn("backend rejected the session token, signing out")
		if err := sess.Logout(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to clear session", "error", err)
		}
	}

	registry, err := resource.Defaults(client)
	if err != nil {
		return nil, fmt.Errorf("building resources: %w", err)
	}
	orch, err := console.New(console.Options{
		Registry:       registry,
		Cache:          s.opts.Store,
		CacheTTL:       s.opts.CacheTTL,
		Notifier:       inbox,
		PerPageOptions: s.opts.PerPageOptions,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}

	ws := &Workspace{ID: id, Session: sess, Client: client, Console: orch, Inbox: inbox}
	desk, err := moderation.NewDesk(client, moderation.Options{
		CurrentUser: func(ctx context.Context) (*api.Profile, error) {
			return s.currentUser(ctx, ws)
		},
		CachedUsers: func(ctx context.Context) ([]grid.Record, error) {
			return orch.CachedRecords(ctx, "users")
		},
		Notifier:       inbox,
		PerPageOptions: s.opts.PerPageOptions,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating moderation desk: %w", err)
	}
	ws.Desk = desk
	return ws, nil
}

// currentUser asks the backend who the session token belongs to.
func (s *Server) currentUser(ctx context.Context, ws *Workspace) (*api.Profile, error) {
	token, err := ws.Session.Token(ctx)
	if err != nil {
		return nil, err
	}
	me, err := s.authClient.Me(ctx, token)
	if errors.Is(err, api.ErrUnauthorized) {
		_ = ws.Session.Logout(ctx)
	}
	return me, err
}

// workspaceFor returns the workspace named by the session cookie, building it
// when it is not cached.
func (s *Server) workspaceFor(r *http.Request) (*Workspace, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, false
	}
	if ws, ok := s.workspaces.Get(cookie.Value); ok {
		return ws, true
	}
	ws, err := s.newWorkspace(cookie.Value)
	if err != nil {
		s.logger.Error("failed to build workspace", "error", err)
		return nil, false
	}
	if !ws.Session.IsAuthenticated(r.Context()) {
		return nil, false
	}
	s.workspaces.Put(cookie.Value, ws)
	return ws, true
}

// requireAuth wraps a handler to require a signed-in operator. POST
// requests must also carry the CSRF token.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, ok := s.workspaceFor(r)
		if !ok || !ws.Session.IsAuthenticated(r.Context()) {
			if ok {
				s.workspaces.Remove(ws.ID)
			}
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		if r.Method == http.MethodPost && !s.validateCSRF(r) {
			http.Error(w, "Invalid request, please reload the page", http.StatusForbidden)
			return
		}
		r, _ = s.ensureCSRFToken(w, r)
		ctx := context.WithValue(r.Context(), workspaceContextKey, ws)
		next(w, r.WithContext(ctx))
	}
}

// getWorkspace retrieves the operator's workspace from the request context
func getWorkspace(r *http.Request) *Workspace {
	ws, _ := r.Context().Value(workspaceContextKey).(*Workspace)
	return ws
}

// getCSRFToken retrieves the CSRF token from the request context
func getCSRFToken(r *http.Request) string {
	token, _ := r.Context().Value(csrfContextKey).(string)
	return token
}

// ensureCSRFToken generates a CSRF token if not present and adds it to context
func (s *Server) ensureCSRFToken(w http.ResponseWriter, r *http.Request) (*http.Request, string) {
	cookie, err := r.Cookie(CSRFCookieName)
	if err == nil && cookie.Value != "" {
		ctx := context.WithValue(r.Context(), csrfContextKey, cookie.Value)
		return r.WithContext(ctx), cookie.Value
	}

	token, err := generateSecureToken(32)
	if err != nil {
		s.logger.Error("failed to generate CSRF token", "error", err)
		token = ""
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.opts.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})

	ctx := context.WithValue(r.Context(), csrfContextKey, token)
	return r.WithContext(ctx), token
}

// validateCSRF checks the CSRF token from the form against the cookie
func (s *Server) validateCSRF(r *http.Request) bool {
	cookie, err := r.Cookie(CSRFCookieName)
	if err != nil || cookie.Value == "" {
		return false
	}
	formToken := r.FormValue("csrf_token")
	if formToken == "" {
		formToken = r.Header.Get("X-CSRF-Token")
	}
	return formToken != "" && formToken == cookie.Value
}

func (s *Server) setSessionCookie(w http.ResponseWriter, id string) {
	cookie := &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	if s.opts.SessionTTL > 0 {
		cookie.Expires = time.Now().Add(s.opts.SessionTTL)
	}
	http.SetCookie(w, cookie)
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.workspaceFor(r); ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	r, csrfToken := s.ensureCSRFToken(w, r)
	msg := ""
	if r.URL.Query().Get("expired") == "1" {
		msg = "Your session has expired. Sign in again."
	}
	s.renderLogin(w, http.StatusOK, loginData{Error: msg, CSRFToken: csrfToken})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		_, csrfToken := s.ensureCSRFToken(w, r)
		s.renderLogin(w, http.StatusBadRequest, loginData{Error: "Invalid form data", CSRFToken: csrfToken})
		return
	}
	_, csrfToken := s.ensureCSRFToken(w, r)
	if !s.validateCSRF(r) {
		s.renderLogin(w, http.StatusForbidden, loginData{Error: "Invalid request, please try again", CSRFToken: csrfToken})
		return
	}

	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")
	if email == "" || password == "" {
		s.renderLogin(w, http.StatusBadRequest, loginData{Error: "Email and password are required", Email: email, CSRFToken: csrfToken})
		return
	}

	id, err := generateSecureToken(32)
	if err != nil {
		s.logger.Error("failed to generate session id", "error", err)
		s.renderLogin(w, http.StatusInternalServerError, loginData{Error: "An error occurred", Email: email, CSRFToken: csrfToken})
		return
	}
	ws, err := s.newWorkspace(id)
	if err != nil {
		s.logger.Error("failed to build workspace", "error", err)
		s.renderLogin(w, http.StatusInternalServerError, loginData{Error: "An error occurred", Email: email, CSRFToken: csrfToken})
		return
	}

	profile, err := ws.Session.Login(r.Context(), api.Credentials{Email: email, Password: password})
	if err != nil {
		s.logger.Info("sign-in refused", "email", email, "error", err)
		s.renderLogin(w, http.StatusUnauthorized, loginData{Error: loginError(err), Email: email, CSRFToken: csrfToken})
		return
	}

	s.workspaces.Put(id, ws)
	s.setSessionCookie(w, id)
	s.logger.Info("operator signed in", "email", email, "user", profile.ID)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// loginError turns a sign-in failure into the message shown on the form.
func loginError(err error) string {
	var remote *api.RemoteError
	switch {
	case errors.Is(err, auth.ErrAccessDenied):
		return "Access denied: only administrators can sign in."
	case errors.As(err, &remote) && remote.Status != 0:
		return remote.Message()
	default:
		return "Could not reach the server. Try again later."
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ws := getWorkspace(r)
	if err := ws.Session.Logout(r.Context()); err != nil {
		s.logger.Error("failed to clear session", "error", err)
	}
	s.workspaces.Remove(ws.ID)
	s.clearSessionCookie(w)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	ws := getWorkspace(r)
	http.Redirect(w, r, "/collections/"+ws.Console.Registry().Default(), http.StatusSeeOther)
}

// handleNoticeDismiss removes one notice and returns to the page it was
// shown on.
func (s *Server) handleNoticeDismiss(w http.ResponseWriter, r *http.Request) {
	getWorkspace(r).Inbox.Dismiss(r.PathValue("id"))
	next := r.PostFormValue("next")
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		next = "/"
	}
	s.finish(w, r, next)
}

// finish redirects to target, or to the login page when the backend ended
// the session during the request.
func (s *Server) finish(w http.ResponseWriter, r *http.Request, target string) {
	if s.expired(w, r) {
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// expired sends the operator to the login page when the session was cleared
// by a 401 from the backend.
func (s *Server) expired(w http.ResponseWriter, r *http.Request) bool {
	ws := getWorkspace(r)
	if ws.Session.IsAuthenticated(r.Context()) {
		return false
	}
	s.workspaces.Remove(ws.ID)
	s.clearSessionCookie(w)
	http.Redirect(w, r, "/login?expired=1", http.StatusSeeOther)
	return true
}

// generateSecureToken generates a cryptographically secure random hex token
func generateSecureToken(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
