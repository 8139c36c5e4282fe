package handshake

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workspaced/internal/client"
)

type fakeAPI struct {
	mu           sync.Mutex
	createErrs   []error
	codes        []string
	polls        int
	completeAt   int
	token        string
	expiresAt    string
	pollErr      error
	pollErrsLeft int
}

func (f *fakeAPI) CreateSession(ctx context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes = append(f.codes, code)
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		return err
	}
	return nil
}

func (f *fakeAPI) GetSession(ctx context.Context, code string) (*client.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.pollErrsLeft > 0 {
		f.pollErrsLeft--
		return nil, f.pollErr
	}
	if f.pollErr != nil && f.pollErrsLeft == 0 && f.completeAt == 0 {
		return nil, f.pollErr
	}
	if f.polls >= f.completeAt && f.completeAt > 0 {
		return &client.Session{Status: "completed", Token: f.token, ExpiresAt: f.expiresAt}, nil
	}
	return &client.Session{Status: "pending"}, nil
}

func (f *fakeAPI) BaseURL() string { return "http://backend.test" }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestGenerateCodeIsUniqueAndWellFormed(t *testing.T) {
	a, err := GenerateCode()
	require.NoError(t, err)
	b, err := GenerateCode()
	require.NoError(t, err)

	assert.Len(t, a, 32) // 16 bytes hex-encoded
	assert.NotEqual(t, a, b)
}

func TestRunCompletesWithGrant(t *testing.T) {
	api := &fakeAPI{completeAt: 3, token: "tok-1", expiresAt: "2030-01-01T00:00:00Z"}
	var opened string
	flow := &Flow{
		API:          api,
		PollInterval: time.Millisecond,
		Timeout:      time.Second,
		Logger:       testLogger(),
		OpenBrowser:  func(url string) error { opened = url; return nil },
	}

	grant, err := flow.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", grant.AccessToken)
	require.NotNil(t, grant.ExpiresAt)
	assert.Equal(t, 2030, grant.ExpiresAt.Year())

	require.Len(t, api.codes, 1)
	assert.Equal(t, "http://backend.test/auth/device?code="+api.codes[0], opened)
	assert.GreaterOrEqual(t, api.polls, 3)
}

func TestRunRegeneratesCodeOnCollision(t *testing.T) {
	api := &fakeAPI{createErrs: []error{client.ErrDuplicateCode}, completeAt: 1, token: "tok"}
	flow := &Flow{
		API:          api,
		PollInterval: time.Millisecond,
		Timeout:      time.Second,
		Logger:       testLogger(),
		OpenBrowser:  func(string) error { return nil },
	}

	_, err := flow.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, api.codes, 2)
	assert.NotEqual(t, api.codes[0], api.codes[1])
}

func TestRunAbortsOnServerExpiry(t *testing.T) {
	api := &fakeAPI{pollErr: client.ErrSessionExpired}
	flow := &Flow{
		API:          api,
		PollInterval: time.Millisecond,
		Timeout:      time.Second,
		Logger:       testLogger(),
		OpenBrowser:  func(string) error { return nil },
	}

	_, err := flow.Run(context.Background())
	assert.ErrorIs(t, err, ErrAborted)
}

func TestRunTimesOut(t *testing.T) {
	api := &fakeAPI{} // never completes
	flow := &Flow{
		API:          api,
		PollInterval: time.Millisecond,
		Timeout:      20 * time.Millisecond,
		Logger:       testLogger(),
		OpenBrowser:  func(string) error { return nil },
	}

	_, err := flow.Run(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRunToleratesTransientPollFailures(t *testing.T) {
	api := &fakeAPI{pollErr: client.ErrNetwork, pollErrsLeft: 2, completeAt: 3, token: "tok"}
	flow := &Flow{
		API:          api,
		PollInterval: time.Millisecond,
		Timeout:      time.Second,
		Logger:       testLogger(),
		OpenBrowser:  func(string) error { return nil },
	}

	grant, err := flow.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", grant.AccessToken)
}

func TestRunHonorsContextCancel(t *testing.T) {
	api := &fakeAPI{}
	ctx, cancel := context.WithCancel(context.Background())
	flow := &Flow{
		API:          api,
		PollInterval: 10 * time.Millisecond,
		Timeout:      time.Minute,
		Logger:       testLogger(),
		OpenBrowser:  func(string) error { return nil },
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := flow.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
