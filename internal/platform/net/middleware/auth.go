package middleware

import (
	"net/http"

	pnet "bugsink/internal/platform/net"
)

// AuthPort is the seam the ingest key parser implements
type AuthPort interface {
	// Parse returns the client's sentry public key from the request or an error
	Parse(r *http.Request) (publicKey string, err error)
}

// Auth is a no-op until wired. It uses the port when provided
func Auth(p AuthPort, write func(w http.ResponseWriter, status int, body any)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p == nil {
				next.ServeHTTP(w, r)
				return
			}
			key, err := p.Parse(r)
			if err != nil {
				status, body := pnet.Error(err, pnet.RequestID(r.Context()))
				write(w, status, body)
				return
			}
			next.ServeHTTP(w, r.WithContext(pnet.WithAuthKey(r.Context(), key)))
		})
	}
}
