package main

import (
	"context"

	"bugsink/internal/platform/config"
	"bugsink/internal/platform/logger"
	phttp "bugsink/internal/platform/net/http"
	"bugsink/internal/platform/net/middleware"
	"bugsink/internal/platform/store"

	modkit "bugsink/internal/modkit"
	"bugsink/internal/services/api"
	ingestmod "bugsink/internal/services/ingest/module"
	ingestrepo "bugsink/internal/services/ingest/repo"
)

func main() {
	root := config.New()
	httpCfg := root.Prefix("BUGSINK_")
	dbCfg := root.Prefix("BUGSINK_DB_")

	l := logger.Get()

	st, err := store.Open(
		context.Background(),
		store.Config{
			AppName: "bugsink",
			Driver:  store.Driver(dbCfg.MayEnum("DRIVER", "sqlite", "sqlite", "postgres")),
			Lite: store.LiteConfig{
				Path:        dbCfg.MayString("PATH", "bugsink.sqlite3"),
				LogSQL:      dbCfg.MayBool("LOG_SQL", false),
				SlowQueryMs: dbCfg.MayInt("SLOW_MS", 500),
			},
			PG: store.PGConfig{
				URL:         dbCfg.MayString("URL", ""),
				MaxConns:    int32(dbCfg.MayInt("MAX_CONNS", 4)),
				LogSQL:      dbCfg.MayBool("LOG_SQL", false),
				SlowQueryMs: dbCfg.MayInt("SLOW_MS", 500),
			},
		},
		store.WithLogger(*l),
	)
	if err != nil {
		l.Panic().Err(err).Msg("store.Open failed")
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
	}()

	if err := ingestrepo.Migrate(context.Background(), st.DB); err != nil {
		l.Panic().Err(err).Msg("migrate failed")
	}

	deps := modkit.Deps{Log: *l, Cfg: root, DB: st.DB}

	srv := phttp.NewServer(httpCfg)

	// the ingest routes mount at the root, outside the /api/v1 stack, so
	// they carry their own correlation/recovery/logging chain; browser
	// SDKs also hit them cross-origin, and without the CORS headers the
	// browser blocks the response
	ingest := ingestmod.New(deps, modkit.WithMiddlewares(
		middleware.RequestID(),
		middleware.RealIP(),
		middleware.RecoverJSON,
		middleware.Logger(),
		middleware.CORS(middleware.CORSOptions{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Content-Encoding", "X-Sentry-Auth"},
			ExposedHeaders: []string{"Retry-After"},
			MaxAge:         3600,
		}),
	))
	ingest.MountRoutes(srv.Router())

	// pre-build the period counters so the first digestion is cheap; a
	// failure here is not fatal, the registry warms itself on first use
	if err := ingest.Registry().Warm(context.Background()); err != nil {
		l.Error().Err(err).Msg("period counter registry warmup failed")
	}

	// operational endpoints (health, readiness, issue actions) under /api/v1
	api.Mount(srv.Router(), api.Options{
		Config:         root,
		Store:          st,
		Logger:         l,
		Registry:       ingest.Registry(),
		EnableSwagger:  httpCfg.MayBool("SWAGGER", false),
		EnableProfiler: httpCfg.MayBool("PROFILER", false),
	})

	if err := srv.Run(context.Background()); err != nil {
		l.Panic().Err(err).Msg("http server stopped")
	}
}
