// ABOUTME: Wires the admin CLI to the backend, the stored session and the console
// ABOUTME: One app value per invocation; notices are printed after each command

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/2389/pymemap-console/internal/api"
	"github.com/2389/pymemap-console/internal/auth"
	"github.com/2389/pymemap-console/internal/console"
	"github.com/2389/pymemap-console/internal/grid"
	"github.com/2389/pymemap-console/internal/moderation"
	"github.com/2389/pymemap-console/internal/resource"
	"github.com/2389/pymemap-console/internal/store"
)

// sessionNamespace is where the CLI keeps its session keys.
const sessionNamespace = "cli"

// errNotSignedIn is returned by commands that need a session.
var errNotSignedIn = errors.New("not signed in (run: pymemap-admin login)")

type app struct {
	prof   Profile
	out    io.Writer
	in     *bufio.Reader
	logger *slog.Logger

	kv         store.KV
	session    *auth.Session
	authClient *api.Client
	client     *api.Client
	console    *console.Orchestrator
	desk       *moderation.Desk
	inbox      *console.Inbox

	// yes answers confirmation prompts without asking.
	yes bool
	// password reads a secret from the terminal.
	password func() (string, error)
}

func perPageOptions(preferred int) []int {
	opts := []int{preferred}
	for _, n := range grid.DefaultPerPageOptions {
		if !slices.Contains(opts, n) {
			opts = append(opts, n)
		}
	}
	return opts
}

func newApp(prof Profile, kv store.KV, out io.Writer, in io.Reader, logger *slog.Logger) (*app, error) {
	a := &app{
		prof:   prof,
		out:    out,
		in:     bufio.NewReader(in),
		logger: logger,
		kv:     kv,
		inbox:  console.NewInbox(console.DefaultInboxSize),
	}
	a.password = a.readLine

	var sealer *auth.Sealer
	if prof.Secret != "" {
		s, err := auth.NewSealer(prof.Secret)
		if err != nil {
			return nil, err
		}
		sealer = s
	}

	clientOpts := []api.Option{api.WithTimeout(prof.timeout), api.WithLogger(logger)}
	authClient, err := api.New(prof.APIURL, nil, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating auth client: %w", err)
	}
	a.authClient = authClient

	a.session = auth.NewSession(kv, sessionNamespace, authClient, auth.Options{
		RequiredRole: prof.RequiredRole,
		Sealer:       sealer,
		Logger:       logger,
	})
	client, err := api.New(prof.APIURL, a.session, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating api client: %w", err)
	}
	client.OnUnauthorized = func(ctx context.Context) {
		if err := a.session.Logout(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to clear session", "error", err)
		}
		a.inbox.Notify(console.NewNotice(console.LevelError, "Your session has expired. Sign in again."))
	}
	a.client = client

	registry, err := resource.Defaults(client)
	if err != nil {
		return nil, fmt.Errorf("building resources: %w", err)
	}
	options := perPageOptions(prof.PerPage)
	a.console, err = console.New(console.Options{
		Registry:       registry,
		Cache:          kv,
		Notifier:       a.inbox,
		Confirm:        a.confirm,
		GridID:         "cli",
		PerPageOptions: options,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}
	a.desk, err = moderation.NewDesk(client, moderation.Options{
		CurrentUser: a.currentUser,
		CachedUsers: func(ctx context.Context) ([]grid.Record, error) {
			return a.console.CachedRecords(ctx, "users")
		},
		Notifier:       a.inbox,
		Confirm:        a.confirm,
		PerPageOptions: options,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating moderation desk: %w", err)
	}
	return a, nil
}

func (a *app) currentUser(ctx context.Context) (*api.Profile, error) {
	token, err := a.session.Token(ctx)
	if err != nil {
		return nil, err
	}
	me, err := a.authClient.Me(ctx, token)
	if errors.Is(err, api.ErrUnauthorized) {
		_ = a.session.Logout(ctx)
	}
	return me, err
}

func (a *app) requireSession(ctx context.Context) error {
	if !a.session.IsAuthenticated(ctx) {
		return errNotSignedIn
	}
	return nil
}

func (a *app) readLine() (string, error) {
	line, err := a.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (a *app) prompt(question string) (string, error) {
	fmt.Fprintf(a.out, "%s: ", question)
	return a.readLine()
}

// confirm asks before destructive actions unless --yes was given.
func (a *app) confirm(_ context.Context, question string, ids []string) bool {
	if a.yes {
		return true
	}
	fmt.Fprintf(a.out, "%s (%d selected) [y/N]: ", question, len(ids))
	answer, err := a.readLine()
	if err != nil {
		return false
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes"
}
