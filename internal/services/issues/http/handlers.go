// Package http provides http transport for manual issue actions
package http

import (
	stdhttp "net/http"

	"github.com/google/uuid"

	"bugsink/internal/modkit/httpkit"
	perr "bugsink/internal/platform/errors"
	"bugsink/internal/services/issues/domain"
)

// Register mounts the router
func Register(r httpkit.Router, a domain.ActionsPort) {
	h := &handlers{actions: a}
	httpkit.PostJSON[domain.MuteInput](r, "/{issue_id}/mute", h.mute)
	httpkit.Post(r, "/{issue_id}/unmute", h.unmute)
	httpkit.Post(r, "/{issue_id}/resolve", h.resolve)
}

type handlers struct{ actions domain.ActionsPort }

func issueID(r *stdhttp.Request) (uuid.UUID, error) {
	raw := httpkit.Param(r, "issue_id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, perr.InvalidArgf("issue id %q is not a uuid", raw)
	}
	return id, nil
}

// swagger:route POST /issues/{issue_id}/mute Issues issueMute
// @Summary Mute an issue
// @Tags Issues
// @Accept json
// @Produce json
// @Param payload body domain.MuteInput true "Mute"
// @Success 200 {object} httpkit.Envelope "ok"
// @Router /issues/{issue_id}/mute [post]
func (h *handlers) mute(r *stdhttp.Request, in domain.MuteInput) (any, error) {
	id, err := issueID(r)
	if err != nil {
		return nil, err
	}
	conditions, err := in.ConditionsJSON()
	if err != nil {
		return nil, perr.InvalidArgf("unmute conditions: %v", err)
	}
	if err := h.actions.Mute(r.Context(), id, conditions, in.UnmuteAfter); err != nil {
		return nil, err
	}
	return map[string]any{"muted": true}, nil
}

// swagger:route POST /issues/{issue_id}/unmute Issues issueUnmute
// @Summary Unmute an issue
// @Tags Issues
// @Produce json
// @Success 200 {object} httpkit.Envelope "ok"
// @Router /issues/{issue_id}/unmute [post]
func (h *handlers) unmute(r *stdhttp.Request) (any, error) {
	id, err := issueID(r)
	if err != nil {
		return nil, err
	}
	if err := h.actions.Unmute(r.Context(), id); err != nil {
		return nil, err
	}
	return map[string]any{"muted": false}, nil
}

// swagger:route POST /issues/{issue_id}/resolve Issues issueResolve
// @Summary Resolve an issue
// @Tags Issues
// @Produce json
// @Success 200 {object} httpkit.Envelope "ok"
// @Router /issues/{issue_id}/resolve [post]
func (h *handlers) resolve(r *stdhttp.Request) (any, error) {
	id, err := issueID(r)
	if err != nil {
		return nil, err
	}
	if err := h.actions.Resolve(r.Context(), id); err != nil {
		return nil, err
	}
	return map[string]any{"resolved": true}, nil
}
