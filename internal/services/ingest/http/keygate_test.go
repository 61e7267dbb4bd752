package http

import (
	"context"
	stdhttp "net/http"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"bugsink/internal/modkit/httpkit"
	"bugsink/internal/modkit/repokit"
	"bugsink/internal/platform/logger"
	phttp "bugsink/internal/platform/net/http"
	"bugsink/internal/platform/store"
	"bugsink/internal/services/ingest/domain"
	ingestrepo "bugsink/internal/services/ingest/repo"
	pdom "bugsink/internal/services/projects/domain"
	prepo "bugsink/internal/services/projects/repo"
)

// newGatedMux stands up the full auth chain the module mounts: sentry key
// parsing, then key validation against the projects table, then the handlers.
func newGatedMux(t *testing.T, f *fakeDigester) (*chi.Mux, uuid.UUID) {
	t.Helper()

	ctx := context.Background()
	st, err := store.Open(ctx, store.Config{
		AppName: "keygate-test",
		Driver:  store.DriverSQLite,
		Lite:    store.LiteConfig{Path: "file:" + uuid.NewString() + "?mode=memory&cache=shared"},
	}, store.WithLogger(*logger.Named("test")))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close(context.Background()) })

	if err := ingestrepo.Migrate(ctx, st.DB); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	projectID := uuid.New()
	err = st.DB.Tx(ctx, func(q repokit.RowQuerier) error {
		return prepo.New().Bind(q).Create(ctx, pdom.Project{
			ID:                     projectID,
			Name:                   "gated",
			PublicKey:              "good-key",
			RetentionMaxEventCount: 100,
		})
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	mux := chi.NewRouter()
	r := phttp.AdaptChi(mux)
	httpkit.Protected(r, httpkit.NewPortFunc(nil), func(pr httpkit.Router) {
		pr.Use(httpkit.ProjectKeys(NewKeyGate(st.DB)))
		Register(pr, f, Limits{})
	})
	return mux, projectID
}

func TestKeyGate_AcceptsMatchingKey(t *testing.T) {
	t.Parallel()

	f := &fakeDigester{res: domain.DigestResult{Accepted: true}}
	mux, projectID := newGatedMux(t, f)

	body := `{"event_id": "deadbeef"}`
	rec := post(t, mux, "/api/"+projectID.String()+"/store/?sentry_key=good-key", strings.NewReader(body), nil)

	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(f.inputs) != 1 {
		t.Fatalf("want 1 digested input, got %d", len(f.inputs))
	}
}

func TestKeyGate_AcceptsKeyFromHeader(t *testing.T) {
	t.Parallel()

	f := &fakeDigester{res: domain.DigestResult{Accepted: true}}
	mux, projectID := newGatedMux(t, f)

	body := `{"event_id": "deadbeef"}`
	rec := post(t, mux, "/api/"+projectID.String()+"/store/", strings.NewReader(body), map[string]string{
		"X-Sentry-Auth": "Sentry sentry_key=good-key, sentry_version=7",
	})

	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestKeyGate_RejectsWrongKey(t *testing.T) {
	t.Parallel()

	f := &fakeDigester{}
	mux, projectID := newGatedMux(t, f)

	rec := post(t, mux, "/api/"+projectID.String()+"/store/?sentry_key=stolen", strings.NewReader(`{}`), nil)

	if rec.Code != stdhttp.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(f.inputs) != 0 {
		t.Fatalf("nothing should be digested, got %d", len(f.inputs))
	}
}

func TestKeyGate_RejectsMissingKey(t *testing.T) {
	t.Parallel()

	f := &fakeDigester{}
	mux, projectID := newGatedMux(t, f)

	rec := post(t, mux, "/api/"+projectID.String()+"/store/", strings.NewReader(`{}`), nil)

	if rec.Code != stdhttp.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestKeyGate_UnknownProject(t *testing.T) {
	t.Parallel()

	f := &fakeDigester{}
	mux, _ := newGatedMux(t, f)

	rec := post(t, mux, "/api/"+uuid.NewString()+"/store/?sentry_key=good-key", strings.NewReader(`{}`), nil)

	if rec.Code != stdhttp.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
