// Package api provides the HTTP API for the application
package api

import (
	"bugsink/internal/platform/config"
	"bugsink/internal/platform/logger"
	phttp "bugsink/internal/platform/net/http"
	"bugsink/internal/platform/store"

	"bugsink/internal/modkit"
	"bugsink/internal/modkit/httpkit"
	"bugsink/internal/modkit/module"
	"bugsink/internal/modkit/swaggerkit"

	metahttp "bugsink/internal/services/api/meta/http"
	metamod "bugsink/internal/services/api/meta/module"
	issuesmod "bugsink/internal/services/issues/module"
	issuessvc "bugsink/internal/services/issues/service"
)

// Options are the API options
type Options struct {
	Config         config.Conf
	Store          *store.Store
	Logger         *logger.Logger
	Registry       issuessvc.UnmuteRegistry
	EnableSwagger  bool
	EnableProfiler bool
}

// Mount mounts the operational API onto the given router. Ingestion
// endpoints live at the root because SDKs address them unversioned;
// everything mounted here sits under the versioned prefix.
func Mount(r phttp.Router, opt Options) {
	// shared deps for modules
	deps := modkit.Deps{
		Log: *opt.Logger,
		Cfg: opt.Config,
		DB:  opt.Store.DB,
	}

	mods := []module.Module{
		metamod.New(deps, metahttp.PingFunc(opt.Store.Guard)),
		issuesmod.New(deps, opt.Registry),
	}

	// versioned API with a common middleware stack
	httpkit.MountAPIV1(r, httpkit.CommonStack(), func(api httpkit.Router) {
		// Swagger + profiler
		swaggerkit.Mount(r, opt.EnableSwagger)
		phttp.MountProfiler(r, "/debug", opt.EnableProfiler)

		for _, m := range mods {
			// register each module's ports under its own name (for cross-module lookups)
			module.Register(m.Name(), m.Ports())

			// mount module routes under its Prefix()
			m.MountRoutes(api)
		}
	})
}
