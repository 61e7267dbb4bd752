// Package module wires manual issue actions into the API using modkit
package module

import (
	"net/http"

	modkit "bugsink/internal/modkit"
	"bugsink/internal/modkit/httpkit"
	str "bugsink/internal/platform/strings"

	"bugsink/internal/services/issues/domain"
	issueshttp "bugsink/internal/services/issues/http"
	"bugsink/internal/services/issues/service"
)

// Ports exposed by the issues module
type Ports struct {
	Actions domain.ActionsPort
}

// Module implements the modkit.Module interface
type Module struct {
	deps   modkit.Deps
	name   string
	prefix string

	mws   []func(http.Handler) http.Handler
	ports Ports

	subrouter func(httpkit.Router) httpkit.Router
	register  func(httpkit.Router)

	actions *service.Actions
}

// New constructs the issues module. The registry must be the same instance
// the digest pipeline feeds, otherwise manual mutes and live counts drift.
func New(deps modkit.Deps, reg service.UnmuteRegistry, opts ...modkit.Option) *Module {
	b := modkit.Build(append([]modkit.Option{
		modkit.WithName("issues"),
		modkit.WithPrefix("/issues"),
	}, opts...)...)

	actions := service.NewActions(deps.Log, deps.DB, reg)

	m := &Module{
		deps:      deps,
		name:      b.Name,
		prefix:    b.Prefix,
		mws:       b.Mw,
		subrouter: b.Subrouter,
		actions:   actions,
	}
	m.ports = Ports{Actions: actions}

	external := b.Register
	m.register = func(r httpkit.Router) {
		issueshttp.Register(r, m.actions)
		if external != nil {
			external(r)
		}
	}
	return m
}

// MountRoutes implements the modkit.Module interface
func (m *Module) MountRoutes(r httpkit.Router) {
	r.Route(m.prefix, func(rr httpkit.Router) {
		for _, mw := range m.mws {
			rr.Use(mw)
		}
		if m.subrouter != nil {
			rr = m.subrouter(rr)
		}
		if m.register != nil {
			m.register(rr)
		}
	})
}

// Name returns the module name
func (m *Module) Name() string { return str.MustString(m.name, "module name") }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Prefix returns the module route prefix
func (m *Module) Prefix() string { return str.MustPrefix(m.prefix) }

// Middlewares returns the module middlewares
func (m *Module) Middlewares() []func(http.Handler) http.Handler { return m.mws }
