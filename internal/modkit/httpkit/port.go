// Package httpkit provides tiny HTTP helpers and adapters
package httpkit

import (
	"net/http"
	"strings"

	perrs "bugsink/internal/platform/errors"
)

// KeyFunc inspects a parsed sentry public key and rejects unusable ones
// httpkit does not care about key provenance, callers may accept everything
type KeyFunc func(key string) error

// Port implements middleware.AuthPort by reading the sentry auth surfaces
// and delegating to a KeyFunc
type Port struct {
	check KeyFunc
}

// NewPortFunc builds a Port from a simple key check function
func NewPortFunc(fn KeyFunc) *Port {
	return &Port{check: fn}
}

// Parse extracts the sentry public key from X-Sentry-Auth or the sentry_key
// query parameter, the two places SDKs put it
// returns unauthorized when neither is present or the check rejects the key
func (p *Port) Parse(r *http.Request) (string, error) {
	key := r.URL.Query().Get("sentry_key")
	if key == "" {
		key = keyFromHeader(r.Header.Get("X-Sentry-Auth"))
	}
	if key == "" {
		return "", perrs.Unauthorizedf("missing sentry key")
	}
	if p.check != nil {
		if err := p.check(key); err != nil {
			return "", perrs.Unauthorizedf("invalid sentry key")
		}
	}
	return key, nil
}

// keyFromHeader pulls sentry_key out of an X-Sentry-Auth header, which looks
// like "Sentry sentry_key=abc, sentry_version=7, sentry_client=..."
func keyFromHeader(authz string) string {
	s := strings.TrimSpace(authz)
	if s == "" {
		return ""
	}
	ls := strings.ToLower(s)
	const prefix = "sentry"
	if strings.HasPrefix(ls, prefix) {
		s = strings.TrimSpace(s[len(prefix):])
	}
	for part := range strings.SplitSeq(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		if strings.TrimSpace(k) == "sentry_key" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
