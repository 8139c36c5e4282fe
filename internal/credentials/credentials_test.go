package credentials

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	t.Setenv(EnvToken, "") // isolate from the caller's environment
	return NewStore(filepath.Join(t.TempDir(), "workspaced", "credentials.json"))
}

func TestLoadMissingFileReturnsNil(t *testing.T) {
	s := newTestStore(t)

	creds, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if creds != nil {
		t.Fatalf("expected nil for missing file, got %+v", creds)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	if err := s.Save(&Credentials{AccessToken: "tok-1", ExpiresAt: &expires}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	creds, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if creds.AccessToken != "tok-1" {
		t.Errorf("wrong token: %s", creds.AccessToken)
	}
	if creds.ExpiresAt == nil || !creds.ExpiresAt.Equal(expires) {
		t.Errorf("wrong expiry: %v", creds.ExpiresAt)
	}
}

func TestSaveUsesOwnerOnlyPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits")
	}
	s := newTestStore(t)

	if err := s.Save(&Credentials{AccessToken: "tok"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	info, err := os.Stat(s.Path())
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("credential file mode = %o, want 0600", perm)
	}

	dirInfo, err := os.Stat(filepath.Dir(s.Path()))
	if err != nil {
		t.Fatalf("stat dir failed: %v", err)
	}
	if perm := dirInfo.Mode().Perm(); perm != 0700 {
		t.Errorf("credential dir mode = %o, want 0700", perm)
	}
}

func TestEnvOverrideWins(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save(&Credentials{AccessToken: "from-file"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	t.Setenv(EnvToken, "from-env")

	creds, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if creds.AccessToken != "from-env" {
		t.Errorf("env override ignored: %s", creds.AccessToken)
	}
}

func TestClearIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save(&Credentials{AccessToken: "tok"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("second Clear failed: %v", err)
	}

	creds, err := s.Load()
	if err != nil {
		t.Fatalf("Load after Clear failed: %v", err)
	}
	if creds != nil {
		t.Fatal("credential survived Clear")
	}
}

func TestValid(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	soon := time.Now().Add(time.Minute) // inside the 5-minute buffer
	later := time.Now().Add(time.Hour)

	cases := []struct {
		name  string
		creds *Credentials
		want  bool
	}{
		{"nil", nil, false},
		{"empty token", &Credentials{}, false},
		{"no expiry", &Credentials{AccessToken: "t"}, true},
		{"expired", &Credentials{AccessToken: "t", ExpiresAt: &past}, false},
		{"inside buffer", &Credentials{AccessToken: "t", ExpiresAt: &soon}, false},
		{"fresh", &Credentials{AccessToken: "t", ExpiresAt: &later}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.creds.Valid(); got != tc.want {
				t.Errorf("Valid() = %v, want %v", got, tc.want)
			}
		})
	}
}
