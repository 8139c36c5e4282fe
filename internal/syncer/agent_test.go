package syncer

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workspaced/internal/client"
	"workspaced/internal/retry"
)

// fakeBackend records Update calls and can block them on a gate so tests
// control exactly when an in-flight mutation completes.
type fakeBackend struct {
	mu         sync.Mutex
	payloads   []any
	versions   []int64
	docVersion int64
	updateErr  error

	entered chan struct{}
	release chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{docVersion: 1}
}

func (f *fakeBackend) Get(ctx context.Context, id string) (*client.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &client.Workspace{ID: id, DocVersion: f.docVersion}, nil
}

func (f *fakeBackend) Update(ctx context.Context, id string, data any, expected int64) (*client.UpdateResult, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, data)
	f.versions = append(f.versions, expected)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.docVersion++
	return &client.UpdateResult{Success: true, DocVersion: f.docVersion}, nil
}

func (f *fakeBackend) calls() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.payloads...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func noSleepPolicy(fatal func(error) bool) retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		IsFatal:     fatal,
		Sleep:       func(time.Duration) {},
	}
}

func TestSyncSinglePayload(t *testing.T) {
	backend := newFakeBackend()
	agent, err := New(context.Background(), backend, "ws-1", Options{Logger: quietLogger()})
	require.NoError(t, err)

	agent.Sync(context.Background(), map[string]any{"title": "a"})
	agent.Wait()

	require.Len(t, backend.calls(), 1)
	assert.Equal(t, []int64{1}, backend.versions)
	assert.Equal(t, int64(2), agent.DocVersion())
}

func TestRapidPayloadsCoalesceToLatest(t *testing.T) {
	backend := newFakeBackend()
	backend.entered = make(chan struct{})
	backend.release = make(chan struct{})

	agent, err := New(context.Background(), backend, "ws-1", Options{Logger: quietLogger()})
	require.NoError(t, err)

	ctx := context.Background()
	agent.Sync(ctx, "P0")
	<-backend.entered // P0 is now in flight

	// Three rapid payloads while the mutation is in flight.
	agent.Sync(ctx, "P1")
	agent.Sync(ctx, "P2")
	agent.Sync(ctx, "P3")

	backend.release <- struct{}{} // let P0 finish
	<-backend.entered             // drain loop starts exactly one more call
	backend.release <- struct{}{}
	agent.Wait()

	// P1 and P2 were superseded; only P0 and P3 hit the network.
	assert.Equal(t, []any{"P0", "P3"}, backend.calls())
	assert.Equal(t, int64(3), agent.DocVersion())
}

func TestVersionConflictIsNotRetried(t *testing.T) {
	backend := newFakeBackend()
	backend.updateErr = client.ErrVersionConflict

	var results []Result
	agent, err := New(context.Background(), backend, "ws-1", Options{
		Policy:   noSleepPolicy(client.IsFatal),
		Logger:   quietLogger(),
		OnResult: func(r Result) { results = append(results, r) },
	})
	require.NoError(t, err)

	agent.Sync(context.Background(), "stale")
	agent.Wait()

	assert.Len(t, backend.calls(), 1, "fatal errors must not be retried")
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, client.ErrVersionConflict)
}

func TestTransientErrorsAreRetried(t *testing.T) {
	backend := newFakeBackend()
	backend.updateErr = client.ErrNetwork

	agent, err := New(context.Background(), backend, "ws-1", Options{
		Policy: noSleepPolicy(client.IsFatal),
		Logger: quietLogger(),
	})
	require.NoError(t, err)

	agent.Sync(context.Background(), "flaky")
	agent.Wait()

	assert.Len(t, backend.calls(), 3, "transient errors retry up to max attempts")
}

func TestConflictRefreshesVersionMirror(t *testing.T) {
	backend := newFakeBackend()
	backend.updateErr = client.ErrVersionConflict

	agent, err := New(context.Background(), backend, "ws-1", Options{
		Policy: noSleepPolicy(client.IsFatal),
		Logger: quietLogger(),
	})
	require.NoError(t, err)

	// Another client moved the workspace forward after the agent started.
	backend.mu.Lock()
	backend.docVersion = 7
	backend.mu.Unlock()

	agent.Sync(context.Background(), "stale")
	agent.Wait()

	assert.Equal(t, int64(7), agent.DocVersion())
}

func TestSyncFileReadsAndParses(t *testing.T) {
	backend := newFakeBackend()
	agent, err := New(context.Background(), backend, "ws-1", Options{Logger: quietLogger()})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"title":"draft","n":3}`), 0644))

	require.NoError(t, agent.SyncFile(context.Background(), path))
	agent.Wait()

	calls := backend.calls()
	require.Len(t, calls, 1)
	raw, _ := json.Marshal(calls[0])
	assert.JSONEq(t, `{"title":"draft","n":3}`, string(raw))
}

func TestSyncFileRejectsInvalidJSON(t *testing.T) {
	backend := newFakeBackend()
	agent, err := New(context.Background(), backend, "ws-1", Options{Logger: quietLogger()})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0644))

	assert.Error(t, agent.SyncFile(context.Background(), path))
	agent.Wait()
	assert.Empty(t, backend.calls())
}

func TestNewFailsForMissingWorkspace(t *testing.T) {
	backend := &missingBackend{}
	_, err := New(context.Background(), backend, "gone", Options{Logger: quietLogger()})
	assert.ErrorIs(t, err, client.ErrNotFound)
}

type missingBackend struct{}

func (missingBackend) Get(context.Context, string) (*client.Workspace, error) { return nil, nil }
func (missingBackend) Update(context.Context, string, any, int64) (*client.UpdateResult, error) {
	return nil, nil
}
