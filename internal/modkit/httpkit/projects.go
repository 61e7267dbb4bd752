package httpkit

import (
	"net/http"

	pnet "bugsink/internal/platform/net"
	phttp "bugsink/internal/platform/net/http"
)

// ProjectKeyPort validates a client key against a project's configured key
type ProjectKeyPort interface {
	Validate(r *http.Request, projectID, publicKey string) error
}

// ProjectKeys is middleware that validates the sentry key from context
// against the project addressed in the URL
func ProjectKeys(p ProjectKeyPort) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p == nil {
				next.ServeHTTP(w, r)
				return
			}
			key := pnet.AuthKey(r.Context())
			if err := p.Validate(r, Param(r, "project_id"), key); err != nil {
				status, body := pnet.Error(err, pnet.RequestID(r.Context()))
				phttp.JSON(w, status, body)
				return
			}
			ctx := pnet.WithRequest(r.Context(), pnet.RequestID(r.Context()), Param(r, "project_id"))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
