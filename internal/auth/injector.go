package auth

import (
	"context"
	"strings"

	"google.golang.org/grpc/credentials"
)

// authServicePrefix is the method prefix of AuthService (Register and
// Refresh), whose calls are sent without a bearer credential.
const authServicePrefix = "/logshipper.v1.AuthService/"

// Injector attaches the current access token as a bearer credential to
// every outgoing RPC except Register and Refresh. It implements
// grpc/credentials.PerRPCCredentials, the idiomatic mechanism for per-call
// metadata.
type Injector struct {
	tm *TokenManager
}

// NewInjector wraps a TokenManager as a PerRPCCredentials source. tm may be
// nil at construction time and supplied later via Bind: the Injector must
// be handed to the gRPC dial options before the TokenManager can be built,
// since the TokenManager itself issues RPCs over that same connection.
func NewInjector(tm *TokenManager) *Injector {
	return &Injector{tm: tm}
}

// Bind installs the TokenManager an Injector created before Bootstrap reads
// its credentials from.
func (i *Injector) Bind(tm *TokenManager) {
	i.tm = tm
}

// GetRequestMetadata implements credentials.PerRPCCredentials. It pulls
// the token via a snapshot read on each call; a stale snapshot is
// acceptable because the Streamer's retry-on-unauthenticated loop covers
// the race. AuthService calls (Register and Refresh) never carry a bearer
// header. Before the very first Register completes there is no token yet
// (or no TokenManager bound yet); rather than fail the call, it is sent
// without a bearer header.
func (i *Injector) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	if ri, ok := credentials.RequestInfoFromContext(ctx); ok && strings.HasPrefix(ri.Method, authServicePrefix) {
		return map[string]string{}, nil
	}
	if i.tm == nil {
		return map[string]string{}, nil
	}
	token, err := i.tm.CurrentAccessToken()
	if err != nil {
		return map[string]string{}, nil
	}
	return map[string]string{"authorization": "Bearer " + token}, nil
}

// RequireTransportSecurity reports whether this credential type requires
// the underlying connection to be encrypted. Transport-level TLS, where
// required, is configured separately on the dial options; the Injector
// itself does not mandate it.
func (i *Injector) RequireTransportSecurity() bool {
	return false
}
