package identity_test

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/sysflow-telemetry/logshipper/internal/identity"
	"github.com/sysflow-telemetry/logshipper/internal/testutil"
)

func TestStoreRoundTrip(t *testing.T) {
	dir := testutil.TestTempDir(t)
	s, err := identity.New(filepath.Join(dir, "state"))
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := s.Load(); err != identity.ErrNotFound {
		t.Fatalf("expected ErrNotFound on first run, got %v", err)
	}

	if err := s.SaveAgentUUID("agent-123"); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRefreshToken("refresh-abc"); err != nil {
		t.Fatal(err)
	}

	gotUUID, gotToken, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	testutil.ExpectNoDiff(t, "agent-123", gotUUID)
	testutil.ExpectNoDiff(t, "refresh-abc", gotToken)
}

func TestStoreRestrictsPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX permission bits don't apply on windows")
	}
	dir := testutil.TestTempDir(t)
	s, err := identity.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRefreshToken("secret"); err != nil {
		t.Fatal(err)
	}
	fi, err := os.Stat(filepath.Join(dir, "token"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := fi.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected mode 0600, got %o", perm)
	}
}
