// Package syncer pushes local document state to the backend with
// single-flight coalescing: at most one mutation is in flight per agent,
// and while it runs, newer payloads overwrite each other so only the
// latest is sent afterwards.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"workspaced/internal/client"
	"workspaced/internal/retry"
)

// Backend is the slice of the workspace API the agent needs.
type Backend interface {
	Get(ctx context.Context, id string) (*client.Workspace, error)
	Update(ctx context.Context, id string, data any, expectedDocVersion int64) (*client.UpdateResult, error)
}

// Result reports the outcome of one sync attempt.
type Result struct {
	NoChanges  bool
	DocVersion int64
	Err        error
}

// Agent syncs one watched document to one workspace. Each watched file
// gets its own Agent; there is no process-wide state, so multiple
// workspaces sync concurrently without cross-talk.
type Agent struct {
	backend     Backend
	workspaceID string
	policy      retry.Policy
	schema      *jsonschema.Schema
	log         *slog.Logger
	onResult    func(Result)

	mu         sync.Mutex
	docVersion int64
	pending    any
	hasPending bool
	inFlight   bool

	wg sync.WaitGroup
}

// Options configures an Agent.
type Options struct {
	// Policy defaults to retry.DefaultPolicy with the client error
	// classifier when zero-valued.
	Policy retry.Policy

	// Schema, when set, validates each payload before it is sent.
	Schema *jsonschema.Schema

	Logger *slog.Logger

	// OnResult is invoked after every drained payload, success or not.
	OnResult func(Result)
}

// New creates an Agent for workspaceID. The agent's docVersion mirror is
// initialized from a Get, so the first sync carries an accurate
// expectedDocVersion.
func New(ctx context.Context, backend Backend, workspaceID string, opts Options) (*Agent, error) {
	ws, err := backend.Get(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("load workspace %s: %w", workspaceID, err)
	}
	if ws == nil {
		return nil, fmt.Errorf("workspace %s: %w", workspaceID, client.ErrNotFound)
	}

	policy := opts.Policy
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	if policy.IsFatal == nil {
		policy.IsFatal = client.IsFatal
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Agent{
		backend:     backend,
		workspaceID: workspaceID,
		policy:      policy,
		schema:      opts.Schema,
		log:         logger,
		onResult:    opts.OnResult,
		docVersion:  ws.DocVersion,
	}, nil
}

// WorkspaceID returns the workspace this agent syncs to.
func (a *Agent) WorkspaceID() string { return a.workspaceID }

// DocVersion returns the agent's current mirror of the server counter.
func (a *Agent) DocVersion() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.docVersion
}

// Sync hands a payload to the agent. The payload overwrites any pending
// one; if a mutation is already in flight, Sync returns immediately and
// the drain loop picks the payload up when the in-flight call completes.
func (a *Agent) Sync(ctx context.Context, payload any) {
	a.mu.Lock()
	a.pending = payload
	a.hasPending = true
	if a.inFlight {
		a.mu.Unlock()
		return
	}
	a.inFlight = true
	a.mu.Unlock()

	a.wg.Add(1)
	go a.drain(ctx)
}

// SyncFile reads, parses and syncs the document at path. Used as the
// watcher callback.
func (a *Agent) SyncFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("parse document: %w", err)
	}

	if a.schema != nil {
		if err := a.schema.Validate(payload); err != nil {
			return fmt.Errorf("validate document: %w", err)
		}
	}

	a.Sync(ctx, payload)
	return nil
}

// Wait blocks until no sync is in flight. Intended for shutdown and
// tests; new payloads arriving while waiting extend the wait.
func (a *Agent) Wait() {
	a.wg.Wait()
}

// drain sends pending payloads until the slot is empty, one network call
// at a time. It owns the inFlight flag for its whole lifetime.
func (a *Agent) drain(ctx context.Context) {
	defer a.wg.Done()

	for {
		a.mu.Lock()
		if !a.hasPending {
			a.inFlight = false
			a.mu.Unlock()
			return
		}
		payload := a.pending
		a.pending = nil
		a.hasPending = false
		expected := a.docVersion
		a.mu.Unlock()

		res := a.push(ctx, payload, expected)
		if res.Err != nil {
			a.log.Warn("sync failed",
				"workspace", a.workspaceID,
				"error", res.Err)
		} else if res.NoChanges {
			a.log.Debug("sync no-op", "workspace", a.workspaceID)
		} else {
			a.log.Info("synced",
				"workspace", a.workspaceID,
				"docVersion", res.DocVersion)
		}
		if a.onResult != nil {
			a.onResult(res)
		}
	}
}

func (a *Agent) push(ctx context.Context, payload any, expected int64) Result {
	var res *client.UpdateResult
	err := retry.Do(ctx, a.policy, func() error {
		var callErr error
		res, callErr = a.backend.Update(ctx, a.workspaceID, payload, expected)
		return callErr
	})
	if err != nil {
		if client.IsFatal(err) {
			// A stale mirror is the common cause; refresh it so the next
			// payload carries an accurate expectedDocVersion.
			a.refreshCounters(ctx)
		}
		return Result{Err: err}
	}

	a.mu.Lock()
	if !res.NoChanges {
		a.docVersion = res.DocVersion
	}
	current := a.docVersion
	a.mu.Unlock()

	return Result{NoChanges: res.NoChanges, DocVersion: current}
}

// refreshCounters re-reads the server counters, best effort.
func (a *Agent) refreshCounters(ctx context.Context) {
	ws, err := a.backend.Get(ctx, a.workspaceID)
	if err != nil || ws == nil {
		return
	}
	a.mu.Lock()
	a.docVersion = ws.DocVersion
	a.mu.Unlock()
}
