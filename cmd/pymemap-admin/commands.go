// ABOUTME: Admin CLI commands over the collection orchestrator and moderation desk
// ABOUTME: Each command parses its own flags and returns an error for main to print

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/pymemap-console/internal/api"
	"github.com/2389/pymemap-console/internal/auth"
	"github.com/2389/pymemap-console/internal/grid"
	"github.com/2389/pymemap-console/internal/moderation"
)

func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// parseArgs parses flags that may appear before or after positional arguments.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, fmt.Errorf("%s: %w", fs.Name(), err)
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

// parseAssignment splits "key=value".
func parseAssignment(s string) (key, value string, err error) {
	key, value, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", fmt.Errorf("expected key=value, got %q", s)
	}
	return key, value, nil
}

func (a *app) cmdLogin(ctx context.Context, args []string) error {
	fs := newFlags("login")
	email := fs.String("email", "", "account email")
	useCode := fs.Bool("code", false, "sign in with an emailed code instead of a password")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	if err := a.askEmail(email); err != nil {
		return err
	}

	var (
		profile *api.Profile
		err     error
	)
	if *useCode {
		if err := a.authClient.SendAuthCode(ctx, *email); err != nil {
			return fmt.Errorf("sending code: %s", api.MessageOf(err))
		}
		fmt.Fprintf(a.out, "  A code was sent to %s\n", *email)
		code, perr := a.prompt("Code")
		if perr != nil {
			return fmt.Errorf("reading code: %w", perr)
		}
		profile, err = a.session.VerifyCode(ctx, api.CodeVerification{Email: *email, Code: code})
	} else {
		fmt.Fprint(a.out, "Password: ")
		password, perr := a.password()
		fmt.Fprintln(a.out)
		if perr != nil {
			return fmt.Errorf("reading password: %w", perr)
		}
		profile, err = a.session.Login(ctx, api.Credentials{Email: *email, Password: password})
	}
	if err != nil {
		if errors.Is(err, auth.ErrAccessDenied) {
			return errors.New("access denied: only administrators can sign in")
		}
		return fmt.Errorf("signing in: %s", api.MessageOf(err))
	}

	color.New(color.FgGreen).Fprintf(a.out, "  ✓ Signed in as %s (%s)\n", displayName(profile), profile.Role)
	return nil
}

// askEmail prompts for the account email when the flag left it empty.
func (a *app) askEmail(email *string) error {
	if *email == "" {
		v, err := a.prompt("Email")
		if err != nil {
			return fmt.Errorf("reading email: %w", err)
		}
		*email = v
	}
	if *email == "" {
		return errors.New("email is required")
	}
	return nil
}

func (a *app) cmdResetPassword(ctx context.Context, args []string) error {
	fs := newFlags("reset-password")
	email := fs.String("email", "", "account email")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}
	if err := a.askEmail(email); err != nil {
		return err
	}

	if err := a.authClient.SendAuthCode(ctx, *email); err != nil {
		return fmt.Errorf("sending code: %s", api.MessageOf(err))
	}
	fmt.Fprintf(a.out, "  A code was sent to %s\n", *email)
	code, err := a.prompt("Code")
	if err != nil {
		return fmt.Errorf("reading code: %w", err)
	}
	fmt.Fprint(a.out, "New password: ")
	password, err := a.password()
	fmt.Fprintln(a.out)
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	if password == "" {
		return errors.New("new password is required")
	}

	reset := api.PasswordReset{Email: *email, Code: code, NewPassword: password}
	if err := a.authClient.ResetPassword(ctx, reset); err != nil {
		return fmt.Errorf("resetting password: %s", api.MessageOf(err))
	}
	color.New(color.FgGreen).Fprintf(a.out, "  ✓ Password changed for %s\n", *email)
	return nil
}

func displayName(p *api.Profile) string {
	if p.Name != "" {
		return p.Name
	}
	return p.Email
}

func (a *app) cmdLogout(ctx context.Context, _ []string) error {
	if err := a.session.Logout(ctx); err != nil {
		return err
	}
	color.New(color.FgGreen).Fprintln(a.out, "  ✓ Signed out")
	return nil
}

func (a *app) cmdWhoami(ctx context.Context, _ []string) error {
	if err := a.requireSession(ctx); err != nil {
		return err
	}
	heading(a.out, "Identity")
	if u := a.session.StoredUser(ctx); u != nil {
		fmt.Fprintf(a.out, "  ID:      %s\n", u.ID)
		fmt.Fprintf(a.out, "  Name:    %s\n", u.Name)
		fmt.Fprintf(a.out, "  Email:   %s\n", u.Email)
		color.New(color.FgGreen).Fprintf(a.out, "  Role:    %s\n", u.Role)
	}
	if d := a.session.StoredAuthData(ctx); d != nil {
		fmt.Fprintf(a.out, "  Method:  %s, %s\n", d.Method, d.SignedIn.Local().Format("Jan 02 15:04"))
	}
	if info, err := a.session.Info(ctx); err == nil && !info.ExpiresAt.IsZero() {
		if info.Expired(time.Now()) {
			color.New(color.FgRed).Fprintf(a.out, "  Token:   expired %s\n", info.ExpiresAt.Local().Format("Jan 02 15:04"))
		} else {
			fmt.Fprintf(a.out, "  Token:   expires %s\n", info.ExpiresAt.Local().Format("Jan 02 15:04"))
		}
	}
	fmt.Fprintln(a.out)
	return nil
}

func (a *app) cmdList(ctx context.Context, args []string) error {
	fs := newFlags("list")
	filter := fs.String("filter", "", "field=value")
	page := fs.Int("page", 1, "page number")
	perPage := fs.Int("per-page", 0, "rows per page")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return fmt.Errorf("usage: list <%s> [--filter field=value] [--page n] [--per-page n]", strings.Join(a.console.Registry().Names(), "|"))
	}
	if err := a.requireSession(ctx); err != nil {
		return err
	}

	if err := a.console.SelectResource(ctx, pos[0]); err != nil {
		return err
	}
	if *filter != "" {
		field, value, err := parseAssignment(*filter)
		if err != nil {
			return err
		}
		if _, err := a.console.ApplyFreeTextFilter(field, value); err != nil {
			return err
		}
	}
	g := a.console.Grid()
	if *perPage > 0 {
		if err := g.SetPerPage(*perPage); err != nil {
			return err
		}
	}
	g.SetPage(*page)

	b := a.console.Active()
	heading(a.out, b.Title())
	printMetrics(a.out, a.console.Metrics())
	rows, total := g.ComputeView()
	printRecords(a.out, g.Columns(), rows)
	printPageFooter(a.out, g.State(), total)
	return nil
}

// runAction selects resource and runs key over ids.
func (a *app) runAction(ctx context.Context, resourceName, key string, ids []string, updates grid.Record) error {
	if err := a.requireSession(ctx); err != nil {
		return err
	}
	if err := a.console.SelectResource(ctx, resourceName); err != nil {
		return err
	}
	return a.console.HandleAction(ctx, key, ids, updates)
}

func (a *app) cmdDelete(ctx context.Context, args []string) error {
	fs := newFlags("delete")
	fs.BoolVar(&a.yes, "yes", false, "do not ask for confirmation")
	pos, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(pos) < 2 {
		return errors.New("usage: delete <resource> <id...> [--yes]")
	}
	return a.runAction(ctx, pos[0], "delete", pos[1:], nil)
}

func (a *app) cmdSave(ctx context.Context, args []string) error {
	pos, err := parseArgs(newFlags("save"), args)
	if err != nil {
		return err
	}
	if len(pos) < 3 {
		return errors.New("usage: save <resource> <id> key=value...")
	}
	name, id := pos[0], pos[1]
	if err := a.requireSession(ctx); err != nil {
		return err
	}
	if err := a.console.SelectResource(ctx, name); err != nil {
		return err
	}

	g := a.console.Grid()
	original, ok := findByID(a.console.Records(), id)
	if !ok {
		return fmt.Errorf("%w: %s", grid.ErrUnknownRecord, id)
	}
	form, err := editForm(g.Columns(), original, pos[2:])
	if err != nil {
		return err
	}
	values := grid.ParseEditForm(g.Columns(), original, form)
	return a.console.HandleAction(ctx, grid.SaveAction, []string{id}, values)
}

func findByID(records []grid.Record, id string) (grid.Record, bool) {
	for _, r := range records {
		if r.ID() == id {
			return r, true
		}
	}
	return nil, false
}

// editForm turns key=value assignments into edit form values. Only editable
// columns are accepted. Boolean columns keep their current value unless
// assigned.
func editForm(cols []grid.Column, original grid.Record, assignments []string) (url.Values, error) {
	editable := map[string]bool{}
	var names []string
	for _, c := range cols {
		if c.Editable {
			editable[c.Key] = true
			names = append(names, c.Key)
		}
	}
	form := url.Values{}
	for _, c := range cols {
		if b, isBool := original[c.Key].(bool); c.Editable && isBool && b {
			form.Set(grid.EditInputName(c.Key), "true")
		}
	}
	for _, s := range assignments {
		key, value, err := parseAssignment(s)
		if err != nil {
			return nil, err
		}
		if !editable[key] {
			return nil, fmt.Errorf("%q is not editable (editable: %s)", key, strings.Join(names, ", "))
		}
		form.Set(grid.EditInputName(key), value)
	}
	return form, nil
}

func (a *app) cmdConfirm(ctx context.Context, args []string) error {
	pos, err := parseArgs(newFlags("confirm"), args)
	if err != nil {
		return err
	}
	if len(pos) == 0 {
		return errors.New("usage: confirm <booking-id...>")
	}
	return a.runAction(ctx, "bookings", "confirm", pos, nil)
}

func (a *app) cmdReports(ctx context.Context, args []string) error {
	fs := newFlags("reports")
	state := fs.String("state", "", "only reports in this state")
	typ := fs.String("type", "", "only reports of this type")
	search := fs.String("search", "", "search reporter and description")
	page := fs.Int("page", 1, "page number")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}
	if err := a.requireSession(ctx); err != nil {
		return err
	}
	if err := a.desk.Load(ctx); err != nil {
		return err
	}

	g := a.desk.Grid()
	if err := g.SetFilter("state", *state); err != nil {
		return err
	}
	if err := g.SetFilter("type", *typ); err != nil {
		return err
	}
	if err := g.SetSearch(*search); err != nil {
		return err
	}
	g.SetPage(*page)

	sum := a.desk.Summary()
	heading(a.out, "Reports")
	fmt.Fprintf(a.out, "  Total: %d   Open: %d   In progress: %d   Resolved: %d\n\n", sum.Total, sum.Open, sum.InProgress, sum.Resolved)
	rows, total := g.ComputeView()
	printRecords(a.out, g.Columns(), rows)
	printPageFooter(a.out, g.State(), total)
	return nil
}

func (a *app) cmdReportState(ctx context.Context, args []string) error {
	pos, err := parseArgs(newFlags("report-state"), args)
	if err != nil {
		return err
	}
	if len(pos) != 2 {
		return fmt.Errorf("usage: report-state <id> <%s>", strings.Join(api.ReportStates, "|"))
	}
	if err := a.requireSession(ctx); err != nil {
		return err
	}
	return a.desk.ChangeState(ctx, pos[0], pos[1])
}

func (a *app) cmdRespond(ctx context.Context, args []string) error {
	pos, err := parseArgs(newFlags("respond"), args)
	if err != nil {
		return err
	}
	if len(pos) < 2 {
		return errors.New("usage: respond <report-id> <text...>")
	}
	if err := a.requireSession(ctx); err != nil {
		return err
	}
	return a.desk.Respond(ctx, pos[0], strings.Join(pos[1:], " "))
}

func (a *app) cmdChats(ctx context.Context, _ []string) error {
	if err := a.requireSession(ctx); err != nil {
		return err
	}
	chats, err := a.desk.Chats(ctx)
	if err != nil {
		return err
	}
	heading(a.out, "Chats")
	if len(chats) == 0 {
		fmt.Fprintln(a.out, "  (no chats)")
		return nil
	}
	rows := make([]grid.Record, len(chats))
	for i, c := range chats {
		rows[i] = grid.Record{"id": c.ID, "name": c.Name, "preview": c.Preview}
	}
	printRecords(a.out, []grid.Column{{Key: "name", Label: "With"}, {Key: "preview", Label: "Last message"}}, rows)
	return nil
}

func (a *app) cmdChat(ctx context.Context, args []string) error {
	pos, err := parseArgs(newFlags("chat"), args)
	if err != nil {
		return err
	}
	if len(pos) == 0 {
		return errors.New("usage: chat <chat-id> [message]")
	}
	if err := a.requireSession(ctx); err != nil {
		return err
	}
	id := pos[0]
	if len(pos) > 1 {
		if err := a.desk.Send(ctx, id, strings.Join(pos[1:], " ")); err != nil {
			return err
		}
	}
	msgs, err := a.desk.Messages(ctx, id)
	if err != nil {
		return err
	}
	printMessages(a.out, msgs)
	return nil
}

func printMessages(w io.Writer, msgs []moderation.MessageView) {
	fmt.Fprintln(w)
	if len(msgs) == 0 {
		fmt.Fprintln(w, "  (no messages)")
		return
	}
	gray := color.New(color.FgHiBlack)
	for _, m := range msgs {
		who := color.CyanString("them")
		if m.Sent {
			who = color.GreenString("you ")
		}
		at := m.At
		if t, err := time.Parse(time.RFC3339Nano, m.At); err == nil {
			at = t.Local().Format("Jan 02 15:04")
		}
		fmt.Fprintf(w, "  %s %s %s\n", gray.Sprint(at), who, strings.ReplaceAll(m.Text, "\n", "\n       "))
	}
	fmt.Fprintln(w)
}
