// Package auth owns the agent's Credential Pair and injects it into
// outgoing RPCs. The Token Manager is the single source of truth for the
// pair: a single-writer/multi-reader cell with coalesced refresh/register
// calls, grounded on golang.org/x/sync/singleflight.
package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sysflow-telemetry/logshipper/internal/identity"
	"github.com/sysflow-telemetry/logshipper/internal/logging"
	"github.com/sysflow-telemetry/logshipper/internal/rpcapi"
)

// ErrNoCredentials is returned by CurrentAccessToken before the first
// successful Register or Refresh has completed.
var ErrNoCredentials = errors.New("auth: no credentials available yet")

// registrar is the subset of rpcapi.Transport the Token Manager depends
// on, narrowed to ease testing with a fake.
type registrar interface {
	Register(ctx context.Context, req *rpcapi.RegisterRequest) (*rpcapi.RegisterResponse, error)
	Refresh(ctx context.Context, req *rpcapi.RefreshRequest) (*rpcapi.RefreshResponse, error)
}

// credentialPair is the agent's current access/refresh token tuple.
// Readers only ever observe it via CurrentAccessToken's snapshot read; a
// successful Register or Refresh replaces the whole pair atomically.
type credentialPair struct {
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

// TokenManager is the Token Manager component: it owns the Credential
// Pair and drives the Register/Refresh flows against the server.
type TokenManager struct {
	client     registrar
	store      *identity.Store
	projectKey string

	mu        sync.RWMutex
	agentUUID string
	pair      credentialPair

	sf singleflight.Group
}

// NewTokenManager constructs a Token Manager. Call Bootstrap once before
// any other method to load (or create) the agent's identity.
func NewTokenManager(client registrar, store *identity.Store, projectKey string) *TokenManager {
	return &TokenManager{client: client, store: store, projectKey: projectKey}
}

// Bootstrap loads a persisted identity and refreshes it, or registers a
// brand-new one if this is the agent's first run.
func (tm *TokenManager) Bootstrap(ctx context.Context) error {
	agentUUID, refreshToken, err := tm.store.Load()
	switch {
	case err == nil:
		tm.mu.Lock()
		tm.agentUUID = agentUUID
		tm.pair.refreshToken = refreshToken
		tm.mu.Unlock()
		return tm.Refresh(ctx)
	case errors.Is(err, identity.ErrNotFound):
		return tm.Register(ctx)
	default:
		return err
	}
}

// AgentID returns the persisted agent UUID, empty until the first
// successful Register completes.
func (tm *TokenManager) AgentID() string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.agentUUID
}

// CurrentAccessToken returns a snapshot of the current access token for
// the Auth Injector. Stale snapshots are acceptable: the Streamer's
// retry-on-unauthenticated loop covers the race.
func (tm *TokenManager) CurrentAccessToken() (string, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	if tm.pair.accessToken == "" {
		return "", ErrNoCredentials
	}
	return tm.pair.accessToken, nil
}

// Register obtains a brand-new Credential Pair, reusing the persisted
// agent UUID if one exists. Concurrent callers coalesce onto a single
// in-flight call.
func (tm *TokenManager) Register(ctx context.Context) error {
	_, err, _ := tm.sf.Do("register", func() (interface{}, error) {
		return nil, tm.doRegister(ctx)
	})
	return err
}

func (tm *TokenManager) doRegister(ctx context.Context) error {
	tm.mu.RLock()
	agentUUID := tm.agentUUID
	tm.mu.RUnlock()

	req := &rpcapi.RegisterRequest{AgentID: agentUUID, ProjectKey: tm.projectKey}
	resp, err := tm.client.Register(ctx, req)
	if err != nil && agentUUID != "" {
		// The server rejected a previously-known agent_uuid; retry without
		// it to allow re-provisioning under a fresh identity.
		logging.L.Warnw("register with existing agent_uuid rejected, retrying without it", "error", err)
		req.AgentID = ""
		resp, err = tm.client.Register(ctx, req)
	}
	if err != nil {
		return err
	}
	return tm.install(resp.AgentID, resp.AccessToken, resp.RefreshToken, resp.ExpiresAt)
}

// Refresh exchanges the current refresh token for a new access token. On
// an auth-class failure it falls back to Register using the persisted
// agent UUID. Concurrent callers coalesce onto a single in-flight call.
func (tm *TokenManager) Refresh(ctx context.Context) error {
	_, err, _ := tm.sf.Do("refresh", func() (interface{}, error) {
		return nil, tm.doRefresh(ctx)
	})
	return err
}

func (tm *TokenManager) doRefresh(ctx context.Context) error {
	tm.mu.RLock()
	agentUUID := tm.agentUUID
	refreshToken := tm.pair.refreshToken
	tm.mu.RUnlock()

	if refreshToken == "" {
		return tm.doRegister(ctx)
	}

	resp, err := tm.client.Refresh(ctx, &rpcapi.RefreshRequest{AgentID: agentUUID, RefreshToken: refreshToken})
	if err != nil {
		if status.Code(err) == codes.Unauthenticated {
			logging.L.Infow("refresh token rejected, re-registering", "error", err)
			return tm.doRegister(ctx)
		}
		return err
	}
	return tm.install(agentUUID, resp.AccessToken, resp.RefreshToken, resp.ExpiresAt)
}

// install atomically swaps the Credential Pair. A changed agent UUID is
// persisted before the write lock is taken; the persisted refresh token
// write is the only I/O inside the critical section, and must complete
// before the write lock is released, per the concurrency contract: no
// reader ever observes a torn pair.
func (tm *TokenManager) install(agentUUID, accessToken, refreshToken string, expiresAt time.Time) error {
	if agentUUID != "" && agentUUID != tm.AgentID() {
		if err := tm.store.SaveAgentUUID(agentUUID); err != nil {
			return err
		}
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	if agentUUID != "" {
		tm.agentUUID = agentUUID
	}
	if refreshToken != "" && refreshToken != tm.pair.refreshToken {
		if err := tm.store.SaveRefreshToken(refreshToken); err != nil {
			return err
		}
		tm.pair.refreshToken = refreshToken
	}
	tm.pair.accessToken = accessToken
	if jwtExp, ok := accessTokenExpiry(accessToken); ok {
		tm.pair.expiresAt = jwtExp
	} else {
		tm.pair.expiresAt = expiresAt
	}
	return nil
}
