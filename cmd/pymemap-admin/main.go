// ABOUTME: Admin CLI for the pymemap backend
// ABOUTME: Lists and edits collections, moderates reports and chats from the terminal

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/2389/pymemap-console/internal/store"
)

type command func(a *app, ctx context.Context, args []string) error

var commands = map[string]command{
	"login":          (*app).cmdLogin,
	"logout":         (*app).cmdLogout,
	"reset-password": (*app).cmdResetPassword,
	"whoami":         (*app).cmdWhoami,
	"list":           (*app).cmdList,
	"delete":         (*app).cmdDelete,
	"save":           (*app).cmdSave,
	"confirm":        (*app).cmdConfirm,
	"reports":        (*app).cmdReports,
	"report-state":   (*app).cmdReportState,
	"respond":        (*app).cmdRespond,
	"chats":          (*app).cmdChats,
	"chat":           (*app).cmdChat,
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(1)
	}
	name := os.Args[1]
	if name == "help" || name == "-h" || name == "--help" {
		printUsage(os.Stdout)
		return
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", name)
		printUsage(os.Stderr)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cmd, os.Args[2:]); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd command, args []string) error {
	level := slog.LevelWarn
	if os.Getenv("PYMEMAP_DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	prof, err := loadProfile(defaultProfilePath())
	if err != nil {
		return err
	}
	kv, err := store.NewSQLiteStore(prof.StorePath)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	defer kv.Close()

	a, err := newApp(prof, kv, os.Stdout, os.Stdin, logger)
	if err != nil {
		return err
	}
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		a.password = func() (string, error) {
			b, err := term.ReadPassword(fd)
			return string(b), err
		}
	}

	err = cmd(a, ctx, args)
	printNotices(a.out, a.inbox.Drain())
	return err
}

func printUsage(w io.Writer) {
	yellow := color.New(color.FgYellow)

	fmt.Fprintln(w, "Usage: pymemap-admin <command> [args]")
	fmt.Fprintln(w)
	yellow.Fprintln(w, "Session:")
	fmt.Fprintln(w, "  login [--email E] [--code]             Sign in with a password or an emailed code")
	fmt.Fprintln(w, "  logout                                 Forget the stored session")
	fmt.Fprintln(w, "  reset-password [--email E]             Set a new password with an emailed code")
	fmt.Fprintln(w, "  whoami                                 Show the signed-in account")
	fmt.Fprintln(w)
	yellow.Fprintln(w, "Collections (users, businesses, bookings, reviews):")
	fmt.Fprintln(w, "  list <resource> [--filter field=value] [--page N] [--per-page N]")
	fmt.Fprintln(w, "  delete <resource> <id...> [--yes]      Delete records")
	fmt.Fprintln(w, "  save <resource> <id> key=value...      Update editable fields")
	fmt.Fprintln(w, "  confirm <booking-id...>                Confirm bookings")
	fmt.Fprintln(w)
	yellow.Fprintln(w, "Moderation:")
	fmt.Fprintln(w, "  reports [--state S] [--type T] [--search Q] [--page N]")
	fmt.Fprintln(w, "  report-state <id> <state>              Move a report to a new state")
	fmt.Fprintln(w, "  respond <id> <text...>                 Post a response on a report")
	fmt.Fprintln(w, "  chats                                  List your chats")
	fmt.Fprintln(w, "  chat <chat-id> [message]               Show a chat, sending message first")
	fmt.Fprintln(w)
	yellow.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  PYMEMAP_ADMIN_CONFIG   Profile path (default $XDG_CONFIG_HOME/pymemap/admin.toml)")
	fmt.Fprintln(w, "  PYMEMAP_API_URL        Backend URL, overrides the profile")
	fmt.Fprintln(w, "  PYMEMAP_DEBUG          Log debug output to stderr")
	fmt.Fprintln(w)
}
