package http

import (
	"net/http"

	"github.com/google/uuid"

	"bugsink/internal/modkit/repokit"
	perr "bugsink/internal/platform/errors"
	"bugsink/internal/platform/store"
	prepo "bugsink/internal/services/projects/repo"
)

// KeyGate implements httpkit.ProjectKeyPort against the projects table
type KeyGate struct {
	db       repokit.TxRunner
	projects repokit.Binder[prepo.Storage]
}

// NewKeyGate builds a KeyGate over the given store
func NewKeyGate(db repokit.TxRunner) *KeyGate {
	return &KeyGate{db: db, projects: prepo.New()}
}

// Validate checks the parsed sentry key against the addressed project.
// Projects provisioned without a key accept any client key.
func (g *KeyGate) Validate(r *http.Request, projectID, publicKey string) error {
	id, err := uuid.Parse(projectID)
	if err != nil {
		return perr.NotFoundf("unknown project %q", projectID)
	}
	p, err := g.projects.Bind(g.db).Get(r.Context(), id)
	if store.IsNoRows(err) {
		return perr.NotFoundf("unknown project %q", projectID)
	}
	if err != nil {
		return perr.DBf("load project: %v", err)
	}
	if p.PublicKey != "" && p.PublicKey != publicKey {
		return perr.Unauthorizedf("sentry key does not match project")
	}
	return nil
}
