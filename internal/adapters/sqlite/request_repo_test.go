package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/example/approvals/internal/adapters/sqlite"
	"github.com/example/approvals/internal/core/request"
	"github.com/example/approvals/internal/db"
	"github.com/example/approvals/internal/ports/secondary"
)

func TestRequestRepository_CreateAndGet(t *testing.T) {
	database := setupTestDB(t)
	repo := sqlite.NewRequestRepository(database)
	ctx := context.Background()

	record := newRequestRecord("req-1", "jdoe", "asmith", "despliegue", baseTime)
	if err := repo.Create(ctx, record); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if record.Version != 1 {
		t.Errorf("Version after create = %d, want 1", record.Version)
	}

	got, err := repo.GetByID(ctx, "req-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Title != record.Title || got.Requester != "jdoe" || got.Approver != "asmith" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.State != "pending" {
		t.Errorf("State = %q, want pending", got.State)
	}
	if !got.CreatedAt.Equal(baseTime) || !got.UpdatedAt.Equal(baseTime) {
		t.Errorf("timestamps = %v/%v, want %v", got.CreatedAt, got.UpdatedAt, baseTime)
	}
	if len(got.History) != 1 {
		t.Fatalf("history entries = %d, want 1", len(got.History))
	}
	h := got.History[0]
	if h.Action != "created" || h.User != "jdoe" || h.PriorState != "" || h.Seq == 0 {
		t.Errorf("unexpected history entry: %+v", h)
	}
	if len(got.Comments) != 0 {
		t.Errorf("comments = %d, want 0", len(got.Comments))
	}
}

func TestRequestRepository_GetByID_NotFound(t *testing.T) {
	repo := sqlite.NewRequestRepository(setupTestDB(t))

	_, err := repo.GetByID(context.Background(), "missing")
	if !errors.Is(err, request.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRequestRepository_Create_RejectsUnknownState(t *testing.T) {
	database := setupTestDB(t)
	repo := sqlite.NewRequestRepository(database)

	record := newRequestRecord("req-1", "jdoe", "asmith", "despliegue", baseTime)
	record.State = "archived"
	if err := repo.Create(context.Background(), record); err == nil {
		t.Fatal("expected CHECK constraint to reject unknown state")
	}

	if n := countRows(t, database, "request_history", "req-1"); n != 0 {
		t.Errorf("history rows = %d, want 0 after failed create", n)
	}
}

func TestRequestRepository_ApplyTransition(t *testing.T) {
	database := setupTestDB(t)
	repo := sqlite.NewRequestRepository(database)
	ctx := context.Background()
	seedRequest(t, repo, "req-1", baseTime)

	decided := baseTime.Add(time.Hour)
	err := repo.ApplyTransition(ctx, &secondary.TransitionRecord{
		ID:              "req-1",
		ExpectedVersion: 1,
		FromState:       "pending",
		ToState:         "approved",
		UpdatedAt:       decided,
		History:         &secondary.HistoryRecord{Action: "approved", User: "asmith", Timestamp: decided, Comment: "ok", PriorState: "pending"},
		Comment:         &secondary.CommentRecord{User: "asmith", Text: "ok", Timestamp: decided, Category: "approved"},
	})
	if err != nil {
		t.Fatalf("ApplyTransition failed: %v", err)
	}

	got, err := repo.GetByID(ctx, "req-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != "approved" {
		t.Errorf("State = %q, want approved", got.State)
	}
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2", got.Version)
	}
	if !got.UpdatedAt.Equal(decided) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, decided)
	}
	if len(got.History) != 2 {
		t.Fatalf("history entries = %d, want 2", len(got.History))
	}
	if got.History[1].PriorState != "pending" || got.History[1].Action != "approved" {
		t.Errorf("unexpected transition entry: %+v", got.History[1])
	}
	if len(got.Comments) != 1 || got.Comments[0].Category != "approved" {
		t.Errorf("comments = %+v, want one approved comment", got.Comments)
	}
}

func TestRequestRepository_ApplyTransition_StaleVersion(t *testing.T) {
	database := setupTestDB(t)
	repo := sqlite.NewRequestRepository(database)
	ctx := context.Background()
	seedRequest(t, repo, "req-1", baseTime)

	err := repo.ApplyTransition(ctx, &secondary.TransitionRecord{
		ID:              "req-1",
		ExpectedVersion: 7,
		FromState:       "pending",
		ToState:         "rejected",
		UpdatedAt:       baseTime.Add(time.Minute),
		History:         &secondary.HistoryRecord{Action: "rejected", User: "asmith", Timestamp: baseTime.Add(time.Minute), PriorState: "pending"},
	})
	if !errors.Is(err, request.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}

	if n := countRows(t, database, "request_history", "req-1"); n != 1 {
		t.Errorf("history rows = %d, want 1 (no partial write)", n)
	}
}

func TestRequestRepository_ApplyTransition_NotFound(t *testing.T) {
	repo := sqlite.NewRequestRepository(setupTestDB(t))

	err := repo.ApplyTransition(context.Background(), &secondary.TransitionRecord{
		ID: "missing", ExpectedVersion: 1, FromState: "pending", ToState: "approved",
		History: &secondary.HistoryRecord{Action: "approved", User: "asmith", Timestamp: baseTime},
	})
	if !errors.Is(err, request.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRequestRepository_ConcurrentTransitions(t *testing.T) {
	database := setupTestDB(t)
	repo := sqlite.NewRequestRepository(database)
	ctx := context.Background()
	seedRequest(t, repo, "req-1", baseTime)

	targets := []string{"approved", "rejected"}
	errs := make([]error, len(targets))

	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()
			ts := baseTime.Add(time.Hour)
			errs[i] = repo.ApplyTransition(ctx, &secondary.TransitionRecord{
				ID:              "req-1",
				ExpectedVersion: 1,
				FromState:       "pending",
				ToState:         target,
				UpdatedAt:       ts,
				History:         &secondary.HistoryRecord{Action: target, User: "asmith", Timestamp: ts, PriorState: "pending"},
			})
		}(i, target)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, request.ErrConflict):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("successful transitions = %d, want exactly 1", succeeded)
	}

	if n := countRows(t, database, "request_history", "req-1"); n != 2 {
		t.Errorf("history rows = %d, want 2", n)
	}
}

func TestRequestRepository_Update(t *testing.T) {
	database := setupTestDB(t)
	repo := sqlite.NewRequestRepository(database)
	ctx := context.Background()
	seedRequest(t, repo, "req-1", baseTime)

	title := "Deploy billing v3"
	typ := "pipeline"
	edited := baseTime.Add(time.Minute)
	err := repo.Update(ctx, &secondary.RequestUpdate{
		ID:              "req-1",
		ExpectedVersion: 1,
		Title:           &title,
		Type:            &typ,
		UpdatedAt:       edited,
		History:         &secondary.HistoryRecord{Action: "updated", User: "jdoe", Timestamp: edited, Comment: "Request updated"},
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := repo.GetByID(ctx, "req-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != title || got.Type != typ {
		t.Errorf("fields not updated: %+v", got)
	}
	if got.Description != "Roll out billing service v2 to production" {
		t.Errorf("Description changed unexpectedly: %q", got.Description)
	}
	if got.State != "pending" {
		t.Errorf("State = %q, update must not change state", got.State)
	}
	if len(got.History) != 2 || got.History[1].Action != "updated" {
		t.Errorf("history = %+v, want created then updated", got.History)
	}

	err = repo.Update(ctx, &secondary.RequestUpdate{ID: "req-1", ExpectedVersion: 1, Title: &title, UpdatedAt: edited})
	if !errors.Is(err, request.ErrConflict) {
		t.Errorf("stale Update err = %v, want ErrConflict", err)
	}
}

func TestRequestRepository_ListFiltersAndOrder(t *testing.T) {
	repo := sqlite.NewRequestRepository(setupTestDB(t))
	ctx := context.Background()

	fixtures := []*secondary.RequestRecord{
		newRequestRecord("req-1", "jdoe", "asmith", "despliegue", baseTime),
		newRequestRecord("req-2", "jdoe", "rgarcia", "acceso", baseTime.Add(time.Hour)),
		newRequestRecord("req-3", "mlopez", "asmith", "despliegue", baseTime.Add(2*time.Hour)),
	}
	for _, f := range fixtures {
		if err := repo.Create(ctx, f); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name    string
		filters secondary.RequestFilters
		wantIDs []string
	}{
		{name: "no filters newest first", filters: secondary.RequestFilters{}, wantIDs: []string{"req-3", "req-2", "req-1"}},
		{name: "by requester", filters: secondary.RequestFilters{Requester: "jdoe"}, wantIDs: []string{"req-2", "req-1"}},
		{name: "by approver and type", filters: secondary.RequestFilters{Approver: "asmith", Type: "despliegue"}, wantIDs: []string{"req-3", "req-1"}},
		{name: "by state", filters: secondary.RequestFilters{State: "approved"}, wantIDs: nil},
		{name: "limit", filters: secondary.RequestFilters{Limit: 1}, wantIDs: []string{"req-3"}},
		{name: "limit with offset", filters: secondary.RequestFilters{Limit: 2, Offset: 1}, wantIDs: []string{"req-2", "req-1"}},
		{name: "offset without limit", filters: secondary.RequestFilters{Offset: 2}, wantIDs: []string{"req-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.List(ctx, tt.filters)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("got %d records, want %d", len(got), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if got[i].ID != id {
					t.Errorf("record[%d] = %s, want %s", i, got[i].ID, id)
				}
				if len(got[i].History) != 1 || got[i].History[0].Action != "created" {
					t.Errorf("record[%d] history = %+v, want its created entry", i, got[i].History)
				}
			}
		})
	}
}

func TestRequestRepository_Stats(t *testing.T) {
	repo := sqlite.NewRequestRepository(setupTestDB(t))
	ctx := context.Background()
	seedRequest(t, repo, "req-1", baseTime)
	seedRequest(t, repo, "req-2", baseTime.Add(time.Minute))

	err := repo.ApplyTransition(ctx, &secondary.TransitionRecord{
		ID: "req-2", ExpectedVersion: 1, FromState: "pending", ToState: "cancelled", UpdatedAt: baseTime.Add(time.Hour),
		History: &secondary.HistoryRecord{Action: "cancelled", User: "jdoe", Timestamp: baseTime.Add(time.Hour), PriorState: "pending"},
	})
	if err != nil {
		t.Fatal(err)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("Total = %d, want 2", stats.Total)
	}
	if stats.ByState["pending"] != 1 || stats.ByState["cancelled"] != 1 {
		t.Errorf("ByState = %v", stats.ByState)
	}
}

func TestRequestRepository_DeleteCascades(t *testing.T) {
	database := setupTestDB(t)
	repo := sqlite.NewRequestRepository(database)
	ctx := context.Background()
	seedRequest(t, repo, "req-1", baseTime)

	err := repo.ApplyTransition(ctx, &secondary.TransitionRecord{
		ID: "req-1", ExpectedVersion: 1, FromState: "pending", ToState: "rejected", UpdatedAt: baseTime.Add(time.Hour),
		History: &secondary.HistoryRecord{Action: "rejected", User: "asmith", Timestamp: baseTime.Add(time.Hour), PriorState: "pending", Comment: "no"},
		Comment: &secondary.CommentRecord{User: "asmith", Text: "no", Timestamp: baseTime.Add(time.Hour), Category: "rejected"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := repo.Delete(ctx, "req-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if n := countRows(t, database, "request_history", "req-1"); n != 0 {
		t.Errorf("history rows = %d, want 0 after cascade", n)
	}
	if n := countRows(t, database, "request_comments", "req-1"); n != 0 {
		t.Errorf("comment rows = %d, want 0 after cascade", n)
	}

	if err := repo.Delete(ctx, "req-1"); !errors.Is(err, request.ErrNotFound) {
		t.Errorf("second Delete err = %v, want ErrNotFound", err)
	}
}

func TestRequestRepository_ListLoadsHistoryAndComments(t *testing.T) {
	repo := sqlite.NewRequestRepository(setupTestDB(t))
	ctx := context.Background()
	seedRequest(t, repo, "req-1", baseTime)
	seedRequest(t, repo, "req-2", baseTime.Add(time.Minute))

	decided := baseTime.Add(time.Hour)
	err := repo.ApplyTransition(ctx, &secondary.TransitionRecord{
		ID: "req-1", ExpectedVersion: 1, FromState: "pending", ToState: "approved", UpdatedAt: decided,
		History: &secondary.HistoryRecord{Action: "approved", User: "asmith", Timestamp: decided, Comment: "ok", PriorState: "pending"},
		Comment: &secondary.CommentRecord{User: "asmith", Text: "ok", Timestamp: decided, Category: "approved"},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := repo.List(ctx, secondary.RequestFilters{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "req-2" || got[1].ID != "req-1" {
		t.Fatalf("unexpected list: %+v", got)
	}
	if len(got[0].History) != 1 || len(got[0].Comments) != 0 {
		t.Errorf("req-2 children = %d history, %d comments; want 1, 0", len(got[0].History), len(got[0].Comments))
	}
	if len(got[1].History) != 2 || got[1].History[1].Action != "approved" {
		t.Errorf("req-1 history = %+v, want created then approved", got[1].History)
	}
	if len(got[1].Comments) != 1 || got[1].Comments[0].Text != "ok" {
		t.Errorf("req-1 comments = %+v, want the approval comment", got[1].Comments)
	}
}

func TestRequestRepository_ChildrenOrderedByTimestamp(t *testing.T) {
	repo := sqlite.NewRequestRepository(setupTestDB(t))
	ctx := context.Background()
	seedRequest(t, repo, "req-1", baseTime)

	// Stored after the creation entry but stamped a minute before it.
	early := baseTime.Add(-time.Minute)
	err := repo.ApplyTransition(ctx, &secondary.TransitionRecord{
		ID: "req-1", ExpectedVersion: 1, FromState: "pending", ToState: "in_review", UpdatedAt: early,
		History: &secondary.HistoryRecord{Action: "in_review", User: "asmith", Timestamp: early, Comment: "looking", PriorState: "pending"},
		Comment: &secondary.CommentRecord{User: "asmith", Text: "looking", Timestamp: early, Category: "review"},
	})
	if err != nil {
		t.Fatal(err)
	}
	later := baseTime.Add(time.Hour)
	err = repo.ApplyTransition(ctx, &secondary.TransitionRecord{
		ID: "req-1", ExpectedVersion: 2, FromState: "in_review", ToState: "approved", UpdatedAt: later,
		History: &secondary.HistoryRecord{Action: "approved", User: "asmith", Timestamp: later, Comment: "ok", PriorState: "in_review"},
		Comment: &secondary.CommentRecord{User: "asmith", Text: "ok", Timestamp: later, Category: "approved"},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetByID(ctx, "req-1")
	if err != nil {
		t.Fatal(err)
	}
	wantActions := []string{"in_review", "created", "approved"}
	if len(got.History) != len(wantActions) {
		t.Fatalf("history entries = %d, want %d", len(got.History), len(wantActions))
	}
	for i, want := range wantActions {
		if got.History[i].Action != want {
			t.Errorf("history[%d] = %s, want %s", i, got.History[i].Action, want)
		}
	}
	if len(got.Comments) != 2 || got.Comments[0].Text != "looking" || got.Comments[1].Text != "ok" {
		t.Errorf("comments = %+v, want looking then ok", got.Comments)
	}

	listed, err := repo.List(ctx, secondary.RequestFilters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 || listed[0].History[0].Action != "in_review" {
		t.Errorf("List history not ordered by timestamp: %+v", listed[0].History)
	}
}

func TestRequestRepository_ReadsAreConsistentDuringTransitions(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "approvals.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	// One pooled connection hands it back and forth between reader and
	// writer after every statement, so statements outside a shared
	// transaction would interleave with commits.
	database.SetMaxOpenConns(1)

	repo := sqlite.NewRequestRepository(database)
	ctx := context.Background()
	seedRequest(t, repo, "req-1", baseTime)

	const toggles = 100
	done := make(chan error, 1)
	go func() {
		states := []string{"pending", "in_review"}
		for i := 0; i < toggles; i++ {
			from, to := states[i%2], states[(i+1)%2]
			ts := baseTime.Add(time.Duration(i+1) * time.Second)
			err := repo.ApplyTransition(ctx, &secondary.TransitionRecord{
				ID: "req-1", ExpectedVersion: int64(i + 1), FromState: from, ToState: to, UpdatedAt: ts,
				History: &secondary.HistoryRecord{Action: to, User: "asmith", Timestamp: ts, PriorState: from},
			})
			if err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	check := func(got *secondary.RequestRecord) {
		t.Helper()
		last := got.History[len(got.History)-1]
		state := last.Action
		if state == "created" {
			state = "pending"
		}
		if int64(len(got.History)) != got.Version || state != got.State {
			t.Fatalf("inconsistent read: state=%s version=%d history=%d last=%s",
				got.State, got.Version, len(got.History), last.Action)
		}
	}

	for {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("transition failed: %v", err)
			}
			got, err := repo.GetByID(ctx, "req-1")
			if err != nil {
				t.Fatal(err)
			}
			check(got)
			if got.Version != toggles+1 {
				t.Errorf("final version = %d, want %d", got.Version, toggles+1)
			}
			return
		default:
		}

		got, err := repo.GetByID(ctx, "req-1")
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		check(got)

		listed, err := repo.List(ctx, secondary.RequestFilters{})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		check(listed[0])
	}
}
