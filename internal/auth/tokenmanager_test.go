package auth_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sysflow-telemetry/logshipper/internal/auth"
	"github.com/sysflow-telemetry/logshipper/internal/identity"
	"github.com/sysflow-telemetry/logshipper/internal/rpcapi"
	"github.com/sysflow-telemetry/logshipper/internal/testutil"
)

type fakeRegistrar struct {
	registerCalls int32
	refreshCalls  int32

	refreshErr error
}

func (f *fakeRegistrar) Register(ctx context.Context, req *rpcapi.RegisterRequest) (*rpcapi.RegisterResponse, error) {
	atomic.AddInt32(&f.registerCalls, 1)
	return &rpcapi.RegisterResponse{
		AgentID:      "agent-1",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour),
	}, nil
}

func (f *fakeRegistrar) Refresh(ctx context.Context, req *rpcapi.RefreshRequest) (*rpcapi.RefreshResponse, error) {
	atomic.AddInt32(&f.refreshCalls, 1)
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &rpcapi.RefreshResponse{AccessToken: "access-2", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func newStore(t *testing.T) *identity.Store {
	t.Helper()
	dir := testutil.TestTempDir(t)
	s, err := identity.New(filepath.Join(dir, "state"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestTokenManagerBootstrapRegistersOnFirstRun(t *testing.T) {
	fr := &fakeRegistrar{}
	tm := auth.NewTokenManager(fr, newStore(t), "project-key")

	if err := tm.Bootstrap(context.Background()); err != nil {
		t.Fatal(err)
	}
	token, err := tm.CurrentAccessToken()
	if err != nil {
		t.Fatal(err)
	}
	testutil.ExpectNoDiff(t, "access-1", token)
	if fr.registerCalls != 1 {
		t.Errorf("expected 1 register call, got %d", fr.registerCalls)
	}
}

func TestTokenManagerRefreshFallsBackToRegisterOnUnauthenticated(t *testing.T) {
	fr := &fakeRegistrar{refreshErr: status.Error(codes.Unauthenticated, "expired")}
	store := newStore(t)
	// Seed a persisted identity so Bootstrap takes the Refresh path.
	if err := store.SaveAgentUUID("agent-1"); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveRefreshToken("stale-refresh"); err != nil {
		t.Fatal(err)
	}

	tm := auth.NewTokenManager(fr, store, "project-key")
	if err := tm.Bootstrap(context.Background()); err != nil {
		t.Fatal(err)
	}

	token, err := tm.CurrentAccessToken()
	if err != nil {
		t.Fatal(err)
	}
	testutil.ExpectNoDiff(t, "access-1", token)
	if fr.refreshCalls != 1 {
		t.Errorf("expected 1 refresh call, got %d", fr.refreshCalls)
	}
	if fr.registerCalls != 1 {
		t.Errorf("expected register fallback after unauthenticated refresh, got %d calls", fr.registerCalls)
	}
}

func TestCurrentAccessTokenBeforeBootstrap(t *testing.T) {
	tm := auth.NewTokenManager(&fakeRegistrar{}, newStore(t), "project-key")
	if _, err := tm.CurrentAccessToken(); !errors.Is(err, auth.ErrNoCredentials) {
		t.Errorf("expected ErrNoCredentials, got %v", err)
	}
}
