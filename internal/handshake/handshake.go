// Package handshake implements the browser login flow: register a
// pending session under a random code, send the user's browser to the
// approval page, and poll until the session completes with a token.
package handshake

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"time"

	"workspaced/internal/client"
)

// Grant is the credential handed back by a completed handshake.
type Grant struct {
	AccessToken string
	ExpiresAt   *time.Time
}

// SessionAPI is the slice of the backend contract the flow uses.
type SessionAPI interface {
	CreateSession(ctx context.Context, code string) error
	GetSession(ctx context.Context, code string) (*client.Session, error)
	BaseURL() string
}

// ErrTimeout means the user did not approve within the client window.
var ErrTimeout = errors.New("login timed out; run login again")

// ErrAborted means the server reported the session expired or gone.
var ErrAborted = errors.New("login session expired on the server; run login again")

// Flow drives one handshake. Zero-value timings fall back to the
// defaults (2s poll, 5min timeout).
type Flow struct {
	API          SessionAPI
	PollInterval time.Duration
	Timeout      time.Duration
	Logger       *slog.Logger

	// OpenBrowser is overridable for tests; nil launches the platform
	// browser.
	OpenBrowser func(url string) error
}

// GenerateCode returns a single-use session code: 16 random bytes,
// hex-encoded.
func GenerateCode() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session code: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Run executes the handshake and returns the granted credential.
func (f *Flow) Run(ctx context.Context) (*Grant, error) {
	interval := f.PollInterval
	if interval == 0 {
		interval = 2 * time.Second
	}
	timeout := f.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	open := f.OpenBrowser
	if open == nil {
		open = openBrowser
	}

	code, err := f.register(ctx)
	if err != nil {
		return nil, err
	}

	url := f.API.BaseURL() + "/auth/device?code=" + code
	if err := open(url); err != nil {
		// The user can still paste the URL by hand.
		logger.Warn("could not open browser", "url", url, "error", err)
	}
	logger.Info("waiting for browser approval", "url", url)

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrTimeout
		case <-ticker.C:
			sess, err := f.API.GetSession(ctx, code)
			if err != nil {
				if errors.Is(err, client.ErrSessionNotFound) || errors.Is(err, client.ErrSessionExpired) {
					return nil, ErrAborted
				}
				// Transient poll failures just wait for the next tick.
				logger.Debug("session poll failed", "error", err)
				continue
			}
			if sess.Status != "completed" {
				continue
			}
			grant := &Grant{AccessToken: sess.Token}
			if sess.ExpiresAt != "" {
				if ts, err := time.Parse(time.RFC3339, sess.ExpiresAt); err == nil {
					grant.ExpiresAt = &ts
				}
			}
			return grant, nil
		}
	}
}

// register creates the pending session, regenerating the code once if it
// collides with an existing one.
func (f *Flow) register(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		code, err := GenerateCode()
		if err != nil {
			return "", err
		}
		err = f.API.CreateSession(ctx, code)
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, client.ErrDuplicateCode) {
			return "", fmt.Errorf("register login session: %w", err)
		}
	}
	return "", errors.New("could not register a unique login session code")
}

func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
