package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// accessTokenExpiry returns the expiry embedded in an access token's own
// claims, when the server issues it as a JWT. The agent holds no
// verification key for these tokens — they're parsed unverified purely to
// read the `exp` claim locally, the same pattern DataDog-datadog-agent
// uses client-side (comp/containerinspection/client/auth.go) for tokens it
// doesn't mint itself. ok is false for opaque (non-JWT) tokens or a token
// with no exp claim, in which case the caller falls back to the server's
// out-of-band ExpiresAt field.
func accessTokenExpiry(accessToken string) (exp time.Time, ok bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, false
	}
	t, err := claims.GetExpirationTime()
	if err != nil || t == nil {
		return time.Time{}, false
	}
	return t.Time, true
}
