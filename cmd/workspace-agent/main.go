// workspace-agent is the client CLI: it binds a local JSON document to a
// backend workspace and keeps the two in sync while watching the file.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"workspaced/internal/client"
	"workspaced/internal/config"
	"workspaced/internal/credentials"
	"workspaced/internal/handshake"
	"workspaced/internal/logging"
	"workspaced/internal/syncer"
	"workspaced/internal/watcher"
)

var (
	configPath = flag.String("config", config.DefaultFile, "path to config file")
	logLevel   = flag.String("log-level", "info", "log level (debug, info, warn, error)")
)

// refreshInterval is how often the background timer renews the token.
const refreshInterval = 45 * time.Minute

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	log, err := logging.New(logging.Config{Level: *logLevel, Component: "workspace-agent"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "workspace-agent: %v\n", err)
		os.Exit(1)
	}

	switch cmd := flag.Arg(0); cmd {
	case "login":
		err = cmdLogin(log)
	case "init":
		err = cmdInit(log)
	case "watch":
		err = cmdWatch(log)
	case "status":
		err = cmdStatus()
	case "logout":
		err = cmdLogout()
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "workspace-agent: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `workspace-agent - sync a local JSON document to a workspace

Usage: workspace-agent [options] <command> [args]

Commands:
  login -endpoint <url>          Sign in through the browser and store the credential
  init -endpoint <url> [flags]   Create a workspace and bind this directory to it
  watch                          Watch the bound document and sync changes
  status                         Show binding, credential and server state
  logout                         Remove the stored credential
  help                           Show this help message

Options:
  -config <path>     Path to config file (default: .workspace/config.toml)
  -log-level <lvl>   Log level: debug, info, warn, error`)
}

func credentialStore() (*credentials.Store, error) {
	path, err := credentials.DefaultPath()
	if err != nil {
		return nil, err
	}
	return credentials.NewStore(path), nil
}

// loadAuthedClient builds a client from the config and stored credential.
func loadAuthedClient() (*client.Client, *config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, nil, err
	}

	creds, err := loadCredentials()
	if err != nil {
		return nil, nil, err
	}

	return client.New(client.Config{BaseURL: cfg.Endpoint, Token: creds.AccessToken}), cfg, nil
}

func loadCredentials() (*credentials.Credentials, error) {
	store, err := credentialStore()
	if err != nil {
		return nil, err
	}
	creds, err := store.Load()
	if err != nil {
		return nil, err
	}
	if !creds.Valid() {
		return nil, errors.New("no valid credential; run login first")
	}
	return creds, nil
}

func cmdLogin(log *slog.Logger) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	endpoint := fs.String("endpoint", "", "backend base URL")
	fs.Parse(flag.Args()[1:])

	if *endpoint == "" {
		// Fall back to an existing binding so re-login needs no flags.
		if cfg, err := config.Load(*configPath); err == nil {
			*endpoint = cfg.Endpoint
		}
	}
	if *endpoint == "" {
		return errors.New("login: -endpoint is required")
	}

	flow := &handshake.Flow{
		API:    client.New(client.Config{BaseURL: *endpoint}),
		Logger: log,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	grant, err := flow.Run(ctx)
	if err != nil {
		return err
	}

	store, err := credentialStore()
	if err != nil {
		return err
	}
	if err := store.Save(&credentials.Credentials{
		AccessToken: grant.AccessToken,
		ExpiresAt:   grant.ExpiresAt,
	}); err != nil {
		return err
	}

	fmt.Println("Logged in; credential stored at", store.Path())
	return nil
}

func cmdInit(log *slog.Logger) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	endpoint := fs.String("endpoint", "", "backend base URL")
	name := fs.String("name", "", "workspace name (defaults to the directory name)")
	file := fs.String("file", "document.json", "document file to bind")
	workspaceID := fs.String("workspace", "", "bind to an existing workspace instead of creating one")
	fs.Parse(flag.Args()[1:])

	if *endpoint == "" {
		return errors.New("init: -endpoint is required")
	}

	creds, err := loadCredentials()
	if err != nil {
		return err
	}
	api := client.New(client.Config{BaseURL: *endpoint, Token: creds.AccessToken})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	id := *workspaceID
	if id == "" {
		wsName := *name
		if wsName == "" {
			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			wsName = filepath.Base(wd)
		}

		data, err := readDocument(*file)
		if err != nil {
			return err
		}

		ws, err := api.Create(ctx, wsName, data)
		if err != nil {
			return fmt.Errorf("create workspace: %w", err)
		}
		id = ws.ID
		fmt.Printf("Created workspace %q (%s)\n", wsName, id)
	} else {
		ws, err := api.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("load workspace: %w", err)
		}
		if ws == nil {
			return fmt.Errorf("workspace %s not found or not yours", id)
		}
		fmt.Printf("Bound to workspace %q (%s)\n", ws.Name, id)
	}

	cfg := config.Default()
	cfg.Endpoint = *endpoint
	cfg.WorkspaceID = id
	cfg.File = *file
	if err := cfg.Save(*configPath); err != nil {
		return err
	}
	fmt.Println("Config written to", *configPath)
	return nil
}

func cmdWatch(log *slog.Logger) error {
	api, cfg, err := loadAuthedClient()
	if err != nil {
		return err
	}

	var schema *jsonschema.Schema
	if cfg.SchemaPath != "" {
		schema, err = jsonschema.Compile(cfg.SchemaPath)
		if err != nil {
			return fmt.Errorf("compile schema: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	agent, err := syncer.New(ctx, api, cfg.WorkspaceID, syncer.Options{
		Schema: schema,
		Logger: log,
		OnResult: func(r syncer.Result) {
			switch {
			case r.Err != nil:
				fmt.Printf("sync failed: %v\n", r.Err)
			case r.NoChanges:
				fmt.Println("no changes")
			default:
				fmt.Printf("synced (docVersion %d)\n", r.DocVersion)
			}
		},
	})
	if err != nil {
		return err
	}

	docPath := cfg.ResolveFile(*configPath)
	w, err := watcher.New(docPath, time.Duration(cfg.DebounceMs)*time.Millisecond)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}

	refresh := time.NewTicker(refreshInterval)

	log.Info("watching", "file", docPath, "workspace", cfg.WorkspaceID)

	for {
		select {
		case <-ctx.Done():
			// Clear timers and exit promptly; no final flush.
			refresh.Stop()
			w.Stop()
			agent.Wait()
			return nil

		case ev, ok := <-w.Events():
			if !ok {
				return errors.New("watcher closed unexpectedly")
			}
			if err := agent.SyncFile(ctx, ev.Path); err != nil {
				// A malformed document is a transient editing state; keep
				// watching.
				fmt.Printf("skipped: %v\n", err)
			}

		case err, ok := <-w.Errors():
			if ok {
				log.Warn("watch error", "error", err)
			}

		case <-refresh.C:
			grant, err := api.Refresh(ctx)
			if err != nil {
				log.Warn("token refresh failed", "error", err)
				continue
			}
			api.SetToken(grant.AccessToken)
			if store, err := credentialStore(); err == nil {
				creds := &credentials.Credentials{AccessToken: grant.AccessToken}
				if ts, err := time.Parse(time.RFC3339, grant.ExpiresAt); err == nil {
					creds.ExpiresAt = &ts
				}
				if err := store.Save(creds); err != nil {
					log.Warn("could not persist refreshed credential", "error", err)
				}
			}
			log.Debug("token refreshed")
		}
	}
}

func cmdStatus() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	fmt.Println("Endpoint:  ", cfg.Endpoint)
	fmt.Println("Workspace: ", cfg.WorkspaceID)
	fmt.Println("File:      ", cfg.ResolveFile(*configPath))

	store, err := credentialStore()
	if err != nil {
		return err
	}
	creds, err := store.Load()
	if err != nil {
		return err
	}
	switch {
	case creds == nil:
		fmt.Println("Credential: none (run login)")
	case !creds.Valid():
		fmt.Println("Credential: expired (run login)")
	default:
		fmt.Println("Credential: valid")
	}

	if !creds.Valid() {
		return nil
	}

	api := client.New(client.Config{BaseURL: cfg.Endpoint, Token: creds.AccessToken})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ws, err := api.Get(ctx, cfg.WorkspaceID)
	if err != nil {
		fmt.Printf("Server:     unreachable (%v)\n", err)
		return nil
	}
	if ws == nil {
		fmt.Println("Server:     workspace not found or not yours")
		return nil
	}
	fmt.Printf("Server:     docVersion %d, history %d/%d\n", ws.DocVersion, ws.EventVersion, ws.MaxEventVersion)
	return nil
}

func cmdLogout() error {
	store, err := credentialStore()
	if err != nil {
		return err
	}
	if err := store.Clear(); err != nil {
		return err
	}
	fmt.Println("Credential removed")
	return nil
}

func readDocument(path string) (any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// A fresh binding starts from an empty document.
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("read document: %w", err)
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return data, nil
}

