package repo

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"bugsink/internal/modkit/repokit"
	"bugsink/internal/platform/store"
	ingestrepo "bugsink/internal/services/ingest/repo"
	"bugsink/internal/services/issues/domain"
)

func openTestDB(t *testing.T) repokit.TxRunner {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, store.Config{
		Driver: store.DriverSQLite,
		Lite:   store.LiteConfig{Path: "file:" + uuid.NewString() + "?mode=memory&cache=shared"},
	})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close(context.Background()) })

	if err := ingestrepo.Migrate(ctx, st.DB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st.DB
}

func seedProject(t *testing.T, db repokit.TxRunner) uuid.UUID {
	t.Helper()
	id := uuid.New()
	err := repokit.WithTx(context.Background(), db, func(q repokit.Queryer) error {
		_, err := q.Exec(context.Background(), `
			INSERT INTO projects (id, name, retention_max_event_count)
			VALUES ($1, 'test', 100)`, id.String())
		return err
	})
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}
	return id
}

func testIssue(projectID uuid.UUID, order int64) domain.Issue {
	seen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return domain.Issue{
		ID:                            uuid.New(),
		ProjectID:                     projectID,
		DigestOrder:                   order,
		FirstSeen:                     seen,
		LastSeen:                      seen,
		DigestedEventCount:            1,
		StoredEventCount:              1,
		UnmuteOnVolumeBasedConditions: "[]",
	}
}

func TestGetByGrouping(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()
	projectID := seedProject(t, db)
	iss := testIssue(projectID, 1)

	err := repokit.WithTx(ctx, db, func(q repokit.Queryer) error {
		s := New().Bind(q)
		if err := s.Create(ctx, iss); err != nil {
			return err
		}
		return s.CreateGrouping(ctx, domain.Grouping{
			ID: uuid.New(), ProjectID: projectID, IssueID: iss.ID,
			GroupingKey: "the key", GroupingKeyHash: "hash-1",
		})
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	err = repokit.WithTx(ctx, db, func(q repokit.Queryer) error {
		s := New().Bind(q)

		got, found, err := s.GetByGrouping(ctx, projectID, "hash-1")
		if err != nil {
			return err
		}
		if !found || got.ID != iss.ID {
			t.Fatalf("lookup = %v found=%v", got.ID, found)
		}
		if !got.FirstSeen.Equal(iss.FirstSeen) {
			t.Fatalf("first_seen roundtrip: %v != %v", got.FirstSeen, iss.FirstSeen)
		}

		// unknown hash is not an error
		_, found, err = s.GetByGrouping(ctx, projectID, "no-such-hash")
		if err != nil {
			return err
		}
		if found {
			t.Fatalf("unknown hash must report not found")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
}

func TestMaxDigestOrder(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()
	projectID := seedProject(t, db)

	err := repokit.WithTx(ctx, db, func(q repokit.Queryer) error {
		s := New().Bind(q)

		order, err := s.MaxDigestOrder(ctx, projectID)
		if err != nil {
			return err
		}
		if order != 0 {
			t.Fatalf("empty project order = %d, want 0", order)
		}

		for i := int64(1); i <= 3; i++ {
			if err := s.Create(ctx, testIssue(projectID, i)); err != nil {
				return err
			}
		}
		order, err = s.MaxDigestOrder(ctx, projectID)
		if err != nil {
			return err
		}
		if order != 3 {
			t.Fatalf("order = %d, want 3", order)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("test: %v", err)
	}
}

func TestDiscountStored(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()
	projectID := seedProject(t, db)

	a, b, c := testIssue(projectID, 1), testIssue(projectID, 2), testIssue(projectID, 3)
	a.StoredEventCount, b.StoredEventCount, c.StoredEventCount = 10, 10, 10

	err := repokit.WithTx(ctx, db, func(q repokit.Queryer) error {
		s := New().Bind(q)
		for _, iss := range []domain.Issue{a, b, c} {
			if err := s.Create(ctx, iss); err != nil {
				return err
			}
		}
		// a and b lose 2 each (shared statement), c loses 5
		return s.DiscountStored(ctx, map[uuid.UUID]int{a.ID: 2, b.ID: 2, c.ID: 5})
	})
	if err != nil {
		t.Fatalf("discount: %v", err)
	}

	for _, tc := range []struct {
		id   uuid.UUID
		want int
	}{{a.ID, 8}, {b.ID, 8}, {c.ID, 5}} {
		var got int
		if err := db.QueryRow(ctx,
			`SELECT stored_event_count FROM issues WHERE id = $1`, tc.id.String()).Scan(&got); err != nil {
			t.Fatalf("read: %v", err)
		}
		if got != tc.want {
			t.Fatalf("issue %s stored = %d, want %d", tc.id, got, tc.want)
		}
	}
}

func TestSave_RoundTripsMuteState(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()
	projectID := seedProject(t, db)
	iss := testIssue(projectID, 1)

	after := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	err := repokit.WithTx(ctx, db, func(q repokit.Queryer) error {
		s := New().Bind(q)
		if err := s.Create(ctx, iss); err != nil {
			return err
		}
		iss.IsMuted = true
		iss.UnmuteOnVolumeBasedConditions = `[{"period":"minute","nr_of_periods":5,"volume":3}]`
		iss.UnmuteAfter = &after
		iss.NextUnmuteCheck = 7
		return s.Save(ctx, iss)
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	err = repokit.WithTx(ctx, db, func(q repokit.Queryer) error {
		got, err := New().Bind(q).Get(ctx, iss.ID)
		if err != nil {
			return err
		}
		if !got.IsMuted || got.NextUnmuteCheck != 7 {
			t.Fatalf("mute state lost: %+v", got)
		}
		if got.UnmuteAfter == nil || !got.UnmuteAfter.Equal(after) {
			t.Fatalf("unmute_after = %v, want %v", got.UnmuteAfter, after)
		}
		if got.UnmuteOnVolumeBasedConditions != iss.UnmuteOnVolumeBasedConditions {
			t.Fatalf("conditions = %q", got.UnmuteOnVolumeBasedConditions)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
}
