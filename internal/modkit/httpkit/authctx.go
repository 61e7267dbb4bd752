package httpkit

import (
	"net/http"
	"strings"

	perrs "bugsink/internal/platform/errors"
	pnet "bugsink/internal/platform/net"
)

// AuthKey returns the authenticated sentry public key from the request context
func AuthKey(r *http.Request) (string, error) {
	key := pnet.AuthKey(r.Context())
	if key == "" {
		return "", perrs.Unauthorizedf("missing sentry key")
	}
	return key, nil
}

// MustAuthKey returns the authenticated sentry public key or panics
// only use on routes protected by the auth middleware
func MustAuthKey(r *http.Request) string {
	key, err := AuthKey(r)
	if err != nil {
		panic(err)
	}
	return key
}

// SentryAuth returns the raw X-Sentry-Auth header without its scheme prefix
func SentryAuth(r *http.Request) (string, error) {
	authz := r.Header.Get("X-Sentry-Auth")
	if strings.TrimSpace(authz) == "" {
		return "", perrs.Unauthorizedf("missing sentry auth")
	}
	// case-insensitive Sentry prefix (don't trim the whole header first)
	const prefix = "sentry "
	if len(authz) < len(prefix) || strings.ToLower(authz[:len(prefix)]) != prefix {
		return "", perrs.Unauthorizedf("missing sentry auth")
	}
	raw := strings.TrimSpace(authz[len(prefix):])
	if raw == "" {
		return "", perrs.Unauthorizedf("missing sentry auth")
	}
	return raw, nil
}
