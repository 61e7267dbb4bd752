// Package module wires ingestion into the API using modkit
package module

import (
	"math/rand"
	"net/http"

	modkit "bugsink/internal/modkit"
	"bugsink/internal/modkit/httpkit"
	str "bugsink/internal/platform/strings"
	csvc "bugsink/internal/services/counters/service"
	crepo "bugsink/internal/services/counters/repo"
	"bugsink/internal/services/ingest/domain"
	ingesthttp "bugsink/internal/services/ingest/http"
	"bugsink/internal/services/ingest/service"
	rsvc "bugsink/internal/services/retention/service"
	rrepo "bugsink/internal/services/retention/repo"
)

// Ports exposed by the ingest module
type Ports struct {
	Digester domain.DigesterPort
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

	svc      *service.Service
	registry *csvc.Registry
}

// globalRand adapts the process-wide PRNG to the irrelevance seam
type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// New constructs the ingest module with the provided dependencies and options
func New(deps modkit.Deps, opts ...modkit.Option) *Module {
	b := modkit.Build(append([]modkit.Option{modkit.WithName("ingest"), modkit.WithPrefix("")}, opts...)...)

	o := FromConfig(deps.Cfg)

	evictor := rsvc.New(deps.Log, rrepo.New(), rsvc.Config{
		MaxPerPass: deps.Cfg.Prefix("RETENTION_").MayInt("MAX_PER_PASS", 500),
	})
	registry := csvc.New(deps.Log, deps.DB, crepo.New())

	svc := service.New(deps.Log, deps.DB, evictor, registry, globalRand{}, service.Config{
		MaxPer5Minutes: int64(o.MaxEventsPer5Minutes),
		MaxPerHour:     int64(o.MaxEventsPerHour),
		CleanupBatch:   o.CleanupBatch,
	})

	m := &Module{
		deps:      deps,
		name:      b.Name,
		prefix:    b.Prefix,
		mws:       b.Mw,
		subrouter: b.Subrouter,
		svc:       svc,
		registry:  registry,
	}
	m.ports = Ports{Digester: svc}

	limits := ingesthttp.Limits{
		MaxEventBytes:    int64(o.MaxEventBytes),
		MaxEnvelopeBytes: int64(o.MaxEnvelopeBytes),
	}
	gate := ingesthttp.NewKeyGate(deps.DB)
	external := b.Register
	m.register = func(r httpkit.Router) {
		httpkit.Protected(r, httpkit.NewPortFunc(nil), func(pr httpkit.Router) {
			pr.Use(httpkit.ProjectKeys(gate))
			ingesthttp.Register(pr, m.svc, limits)
		})
		if external != nil {
			external(r)
		}
	}
	return m
}

// Service exposes the underlying digester for non-HTTP callers
func (m *Module) Service() *service.Service { return m.svc }

// Registry exposes the counter registry so sibling modules can stay in
// step with the one instance the digest pipeline feeds
func (m *Module) Registry() *csvc.Registry { return m.registry }

// MountRoutes implements the modkit.Module interface
func (m *Module) MountRoutes(r httpkit.Router) {
	mount := func(rr httpkit.Router) {
		for _, mw := range m.mws {
			rr.Use(mw)
		}
		if m.subrouter != nil {
			rr = m.subrouter(rr)
		}
		if m.register != nil {
			m.register(rr)
		}
	}
	if m.prefix == "" {
		r.Group(mount)
		return
	}
	r.Route(m.prefix, mount)
}

// Name returns the module name
func (m *Module) Name() string { return str.MustString(m.name, "module name") }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Prefix returns the module route prefix
func (m *Module) Prefix() string { return m.prefix }

// Middlewares returns the module middlewares
func (m *Module) Middlewares() []func(http.Handler) http.Handler { return m.mws }
