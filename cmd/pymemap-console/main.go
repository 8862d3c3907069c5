// ABOUTME: Entry point for the pymemap web console
// ABOUTME: Serves the operator console and manages its configuration file

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/pymemap-console/internal/auth"
	"github.com/2389/pymemap-console/internal/config"
	"github.com/2389/pymemap-console/internal/store"
	"github.com/2389/pymemap-console/internal/webconsole"
)

// Version is set at build time.
var version = "dev"

const banner = `
                                                         _
 _ __  _   _ _ __ ___   ___ _ __ ___   __ _ _ __     ___| | __ _
| '_ \| | | | '_ ' _ \ / _ \ '_ ' _ \ / _' | '_ \   / __| |/ _' |
| |_) | |_| | | | | | |  __/ | | | | | (_| | |_) | | (__| | (_| |
| .__/ \__, |_| |_| |_|\___|_| |_| |_|\__,_| .__/   \___|_|\__,_|
|_|    |___/                               |_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "init":
		err = runInit(os.Args[2:])
	case "health":
		err = runHealth(ctx, os.Args[2:])
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: pymemap-console <command> [-config path]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve    Start the web console")
	fmt.Fprintln(w, "  init     Write a starter config file")
	fmt.Fprintln(w, "  health   Check a running console")
}

func configFlag(name string, args []string) (string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	path := fs.String("config", config.DefaultPath(), "config file path")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	return *path, nil
}

func runServe(ctx context.Context, args []string) error {
	configPath, err := configFlag("serve", args)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	cyan.Print(banner)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := stdoutLogger(cfg.Logging)

	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:    %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Backend: %s\n", cfg.API.BaseURL)
	green.Print("    ▶ ")
	fmt.Printf("Store:   %s\n\n", cfg.Store.Backend)

	kv, err := store.Open(ctx, store.Options{
		Backend:  cfg.Store.Backend,
		Path:     cfg.Store.Path,
		RedisURL: cfg.Store.RedisURL,
		Prefix:   cfg.Store.Prefix,
	})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer kv.Close()

	sealer, err := auth.NewSealer(cfg.Auth.SessionSecret)
	if err != nil {
		return fmt.Errorf("creating sealer: %w", err)
	}

	srv, err := webconsole.New(webconsole.Options{
		Store:          kv,
		APIBaseURL:     cfg.API.BaseURL,
		APITimeout:     cfg.API.Timeout,
		RequiredRole:   cfg.Auth.RequiredRole,
		SessionTTL:     cfg.Auth.SessionTTL,
		Sealer:         sealer,
		PerPageOptions: cfg.Console.PerPageOptions,
		CacheTTL:       cfg.Console.CacheTTL,
		MaxWorkspaces:  cfg.Console.MaxWorkspaces,
		WorkspaceIdle:  cfg.Console.WorkspaceIdle,
		SecureCookies:  cfg.Server.SecureCookies,
		Logger:         logger.With("component", "webconsole"),
	})
	if err != nil {
		return fmt.Errorf("creating web console: %w", err)
	}
	defer srv.Close()

	if purger, ok := kv.(expiredPurger); ok {
		go purgeExpired(ctx, purger, time.Hour, logger.With("component", "store"))
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", cfg.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	logger.Info("starting pymemap-console", "config", configPath, "http_addr", ln.Addr().String())
	return serve(ctx, httpServer, ln, logger)
}

// serve runs server on ln until ctx is canceled or the server fails, then
// shuts it down with a fresh five second deadline.
func serve(ctx context.Context, server *http.Server, ln net.Listener, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		logger.Error("server error", "error", serverErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := server.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	if shutdownErr != nil {
		return fmt.Errorf("HTTP shutdown: %w", shutdownErr)
	}
	return nil
}

type expiredPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// purgeExpired removes expired sessions and cache entries every interval.
func purgeExpired(ctx context.Context, p expiredPurger, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("purging expired entries", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("purged expired entries", "count", n)
			}
		}
	}
}

func runHealth(ctx context.Context, args []string) error {
	configPath, err := configFlag("health", args)
	if err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	fmt.Println("healthy")
	return nil
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	path := fs.String("config", config.DefaultPath(), "config file path")
	apiURL := fs.String("api", "http://localhost:8000", "backend base URL")
	force := fs.Bool("force", false, "overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := os.Stat(*path); err == nil && !*force {
		return fmt.Errorf("%s already exists (use -force to overwrite)", *path)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generating session secret: %w", err)
	}
	content := starterConfig(*apiURL, base64.StdEncoding.EncodeToString(secret), config.Defaults())
	if _, err := config.Parse([]byte(content)); err != nil {
		return fmt.Errorf("checking generated config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(*path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(*path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	color.New(color.FgGreen).Printf("  ✓ Created config: %s\n", *path)
	fmt.Println("\nTo start the console:")
	fmt.Println("  pymemap-console serve")
	return nil
}

func starterConfig(apiURL, secret string, d config.Config) string {
	return fmt.Sprintf(`# pymemap-console configuration
# Generated by pymemap-console init

server:
  http_addr: %q
  secure_cookies: false

api:
  base_url: %q
  timeout: %q

auth:
  required_role: %q
  session_secret: %q
  session_ttl: %q

store:
  backend: %q
  path: %q
  prefix: %q

console:
  per_page_options: [10, 20, 50]
  cache_ttl: %q
  max_workspaces: %d
  workspace_idle: %q

logging:
  level: "info"
  format: "text"
`,
		d.Server.HTTPAddr,
		apiURL, d.API.Timeout.String(),
		d.Auth.RequiredRole, secret, d.Auth.SessionTTL.String(),
		d.Store.Backend, d.Store.Path, d.Store.Prefix,
		d.Console.CacheTTL.String(), d.Console.MaxWorkspaces, d.Console.WorkspaceIdle.String(),
	)
}
