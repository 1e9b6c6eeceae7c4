package fetch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/t9s-dev/t9s/internal/cache"
	"github.com/t9s-dev/t9s/internal/teamcity"
)

// fakeFetcher routes each call to an optional function field, so tests
// only stub what they exercise.
type fakeFetcher struct {
	listProjects     func(ctx context.Context, ids []string) ([]teamcity.Project, error)
	listBuildConfigs func(ctx context.Context, projectID string) ([]teamcity.BuildConfig, error)
	listBuilds       func(ctx context.Context, buildConfigID, pageToken string) ([]teamcity.Build, string, error)
	fetchLog         func(ctx context.Context, buildID int64) ([]byte, error)
}

func (f *fakeFetcher) ListProjects(ctx context.Context, ids []string) ([]teamcity.Project, error) {
	if f.listProjects == nil {
		return nil, nil
	}
	return f.listProjects(ctx, ids)
}

func (f *fakeFetcher) ListBuildConfigs(ctx context.Context, projectID string) ([]teamcity.BuildConfig, error) {
	if f.listBuildConfigs == nil {
		return nil, nil
	}
	return f.listBuildConfigs(ctx, projectID)
}

func (f *fakeFetcher) ListBuilds(ctx context.Context, buildConfigID, pageToken string) ([]teamcity.Build, string, error) {
	if f.listBuilds == nil {
		return nil, "", nil
	}
	return f.listBuilds(ctx, buildConfigID, pageToken)
}

func (f *fakeFetcher) FetchLog(ctx context.Context, buildID int64) ([]byte, error) {
	if f.fetchLog == nil {
		return nil, nil
	}
	return f.fetchLog(ctx, buildID)
}

func newTestStore(t *testing.T) *cache.Store {
	t.Helper()
	store, err := cache.Open(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

// finalEvent drains the pipeline until a non-transient event for scope
// arrives, returning it along with any transient events seen on the way.
func finalEvent(t *testing.T, p *Pipeline, scope string) (Event, []Event) {
	t.Helper()
	var transients []Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case event := <-p.Events():
			if event.Scope != scope {
				continue
			}
			if event.Transient {
				transients = append(transients, event)
				continue
			}
			return event, transients
		case <-deadline:
			t.Fatalf("no final event for scope %s", scope)
		}
	}
}

func TestRefreshProjects_UpdatedThenUnchanged(t *testing.T) {
	store := newTestStore(t)
	fetcher := &fakeFetcher{
		listProjects: func(ctx context.Context, ids []string) ([]teamcity.Project, error) {
			return []teamcity.Project{
				{ID: "P1", Name: "Alpha"},
				{ID: "P2", Name: "Beta"},
			}, nil
		},
	}
	p := New(fetcher, store, Options{})
	ctx := context.Background()

	if !p.RefreshProjects(ctx, nil) {
		t.Fatal("RefreshProjects = false, want dispatch")
	}
	event, _ := finalEvent(t, p, ProjectScope)
	if event.Outcome != Updated {
		t.Fatalf("first refresh outcome = %v, want Updated", event.Outcome)
	}

	ids := store.List(cache.KindProject, "")
	if len(ids) != 2 || ids[0] != "P1" || ids[1] != "P2" {
		t.Fatalf("cached projects = %v, want [P1 P2]", ids)
	}

	// Identical payloads on the second round leave the cache as-is.
	if !p.RefreshProjects(ctx, nil) {
		t.Fatal("second RefreshProjects = false, want dispatch")
	}
	event, _ = finalEvent(t, p, ProjectScope)
	if event.Outcome != Unchanged {
		t.Fatalf("second refresh outcome = %v, want Unchanged", event.Outcome)
	}
}

func TestRefresh_CoalescesInflightScope(t *testing.T) {
	store := newTestStore(t)
	release := make(chan struct{})
	var calls atomic.Int32
	fetcher := &fakeFetcher{
		listBuilds: func(ctx context.Context, buildConfigID, pageToken string) ([]teamcity.Build, string, error) {
			calls.Add(1)
			<-release
			return []teamcity.Build{{ID: 1, Number: "1", BuildConfigID: buildConfigID}}, "", nil
		},
	}
	p := New(fetcher, store, Options{})
	ctx := context.Background()

	if !p.RefreshBuilds(ctx, "C1") {
		t.Fatal("first RefreshBuilds = false, want dispatch")
	}
	// Same scope while the worker is blocked: coalesced, no second call.
	for i := 0; i < 5; i++ {
		if p.RefreshBuilds(ctx, "C1") {
			t.Fatal("RefreshBuilds dispatched while scope in flight")
		}
	}
	// A different scope is independent.
	if !p.RefreshBuilds(ctx, "C2") {
		t.Fatal("RefreshBuilds(C2) = false, want dispatch")
	}

	close(release)
	// Both scopes share one event channel; drain until each reports.
	pending := map[string]bool{BuildScope("C1"): true, BuildScope("C2"): true}
	deadline := time.After(5 * time.Second)
	for len(pending) > 0 {
		select {
		case event := <-p.Events():
			if !event.Transient {
				delete(pending, event.Scope)
			}
		case <-deadline:
			t.Fatalf("still waiting on scopes %v", pending)
		}
	}

	if got := calls.Load(); got != 2 {
		t.Fatalf("fetch calls = %d, want 2 (one per scope)", got)
	}

	// Once the worker finishes the scope is free again.
	if !p.RefreshBuilds(ctx, "C1") {
		t.Fatal("RefreshBuilds after completion = false, want dispatch")
	}
	finalEvent(t, p, BuildScope("C1"))
}

func TestRefresh_RetriesTransientThenSucceeds(t *testing.T) {
	store := newTestStore(t)
	var calls atomic.Int32
	fetcher := &fakeFetcher{
		listBuilds: func(ctx context.Context, buildConfigID, pageToken string) ([]teamcity.Build, string, error) {
			if calls.Add(1) <= 2 {
				return nil, "", &teamcity.Error{Kind: teamcity.ErrNetwork, Op: "list builds"}
			}
			return []teamcity.Build{{ID: 7, Number: "7", BuildConfigID: buildConfigID, Status: "SUCCESS"}}, "", nil
		},
	}
	p := New(fetcher, store, Options{Attempts: 3, Backoff: time.Millisecond})
	ctx := context.Background()

	p.RefreshBuilds(ctx, "C1")
	event, transients := finalEvent(t, p, BuildScope("C1"))

	if event.Outcome != Updated {
		t.Fatalf("outcome = %v, want Updated after retries", event.Outcome)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("fetch calls = %d, want 3", got)
	}
	if len(transients) != 2 {
		t.Fatalf("transient events = %d, want 2 retry notices", len(transients))
	}
	for _, tr := range transients {
		if tr.Outcome != Failed || tr.Err == nil {
			t.Fatalf("retry notice = %+v, want Failed with error", tr)
		}
	}

	if ids := store.List(cache.KindBuild, "C1"); len(ids) != 1 || ids[0] != "7" {
		t.Fatalf("cached builds = %v, want [7]", ids)
	}
}

func TestRefresh_ExhaustsRetriesAndFails(t *testing.T) {
	store := newTestStore(t)
	var calls atomic.Int32
	fetcher := &fakeFetcher{
		listProjects: func(ctx context.Context, ids []string) ([]teamcity.Project, error) {
			calls.Add(1)
			return nil, &teamcity.Error{Kind: teamcity.ErrNetwork, Op: "list projects"}
		},
	}
	p := New(fetcher, store, Options{Attempts: 2, Backoff: time.Millisecond})

	p.RefreshProjects(context.Background(), nil)
	event, _ := finalEvent(t, p, ProjectScope)

	if event.Outcome != Failed {
		t.Fatalf("outcome = %v, want Failed", event.Outcome)
	}
	if teamcity.KindOf(event.Err) != teamcity.ErrNetwork {
		t.Fatalf("err = %v, want network error", event.Err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("fetch calls = %d, want 2", got)
	}
}

func TestRefresh_AuthErrorDoesNotRetry(t *testing.T) {
	store := newTestStore(t)
	var calls atomic.Int32
	fetcher := &fakeFetcher{
		listProjects: func(ctx context.Context, ids []string) ([]teamcity.Project, error) {
			calls.Add(1)
			return nil, &teamcity.Error{Kind: teamcity.ErrAuth, Op: "list projects"}
		},
	}
	p := New(fetcher, store, Options{Attempts: 3, Backoff: time.Millisecond})

	p.RefreshProjects(context.Background(), nil)
	event, transients := finalEvent(t, p, ProjectScope)

	if event.Outcome != Failed {
		t.Fatalf("outcome = %v, want Failed", event.Outcome)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("fetch calls = %d, want 1 (no retry on auth)", got)
	}
	if len(transients) != 0 {
		t.Fatalf("transient events = %v, want none", transients)
	}
}

func TestRefresh_FailureKeepsCachedData(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	if err := store.Put(cache.KindProject, "P1", "", 0, teamcity.Project{ID: "P1", Name: "Alpha"}, now); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	fetcher := &fakeFetcher{
		listProjects: func(ctx context.Context, ids []string) ([]teamcity.Project, error) {
			return nil, &teamcity.Error{Kind: teamcity.ErrNetwork, Op: "list projects"}
		},
	}
	p := New(fetcher, store, Options{Attempts: 1})

	p.RefreshProjects(context.Background(), nil)
	event, _ := finalEvent(t, p, ProjectScope)
	if event.Outcome != Failed {
		t.Fatalf("outcome = %v, want Failed", event.Outcome)
	}

	// Stale data survives the failed refresh.
	if ids := store.List(cache.KindProject, ""); len(ids) != 1 || ids[0] != "P1" {
		t.Fatalf("cached projects = %v, want [P1]", ids)
	}
}

func TestRefreshBuilds_PagesIncrementally(t *testing.T) {
	store := newTestStore(t)
	fetcher := &fakeFetcher{
		listBuilds: func(ctx context.Context, buildConfigID, pageToken string) ([]teamcity.Build, string, error) {
			switch pageToken {
			case "":
				return []teamcity.Build{
					{ID: 30, Number: "30", BuildConfigID: buildConfigID},
					{ID: 29, Number: "29", BuildConfigID: buildConfigID},
				}, "/app/rest/builds?page=2", nil
			case "/app/rest/builds?page=2":
				return []teamcity.Build{
					{ID: 28, Number: "28", BuildConfigID: buildConfigID},
				}, "", nil
			default:
				t.Errorf("unexpected page token %q", pageToken)
				return nil, "", nil
			}
		},
	}
	p := New(fetcher, store, Options{})

	p.RefreshBuilds(context.Background(), "C1")
	event, transients := finalEvent(t, p, BuildScope("C1"))

	if event.Outcome != Updated {
		t.Fatalf("outcome = %v, want Updated", event.Outcome)
	}
	if len(transients) != 1 {
		t.Fatalf("transient events = %d, want 1 page notice", len(transients))
	}

	// Ordering spans pages: newest first, as the server returned them.
	ids := store.List(cache.KindBuild, "C1")
	want := []string{"30", "29", "28"}
	if len(ids) != len(want) {
		t.Fatalf("cached builds = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("cached builds = %v, want %v", ids, want)
		}
	}
}

func TestRefreshBuildConfigs_NotFoundPrunesProject(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	_ = store.Put(cache.KindProject, "P1", "", 0, teamcity.Project{ID: "P1"}, now)
	_ = store.Put(cache.KindBuildConfig, "C1", "P1", 0, teamcity.BuildConfig{ID: "C1", ProjectID: "P1"}, now)
	_ = store.Put(cache.KindBuildConfig, "C2", "P1", 1, teamcity.BuildConfig{ID: "C2", ProjectID: "P1"}, now)

	fetcher := &fakeFetcher{
		listBuildConfigs: func(ctx context.Context, projectID string) ([]teamcity.BuildConfig, error) {
			return nil, &teamcity.Error{Kind: teamcity.ErrNotFound, Op: "list build configs"}
		},
	}
	p := New(fetcher, store, Options{Attempts: 1})

	p.RefreshBuildConfigs(context.Background(), "P1")
	event, _ := finalEvent(t, p, ConfigScope("P1"))

	if event.Outcome != Failed {
		t.Fatalf("outcome = %v, want Failed", event.Outcome)
	}
	if _, ok := store.Get(cache.KindProject, "P1"); ok {
		t.Fatal("deleted project still cached")
	}
	if ids := store.List(cache.KindBuildConfig, "P1"); len(ids) != 0 {
		t.Fatalf("configs of deleted project = %v, want empty", ids)
	}
}

func TestRefreshBuilds_NotFoundPrunesConfig(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	_ = store.Put(cache.KindBuildConfig, "C1", "P1", 0, teamcity.BuildConfig{ID: "C1"}, now)
	_ = store.Put(cache.KindBuild, "10", "C1", 0, teamcity.Build{ID: 10}, now)

	fetcher := &fakeFetcher{
		listBuilds: func(ctx context.Context, buildConfigID, pageToken string) ([]teamcity.Build, string, error) {
			return nil, "", &teamcity.Error{Kind: teamcity.ErrNotFound, Op: "list builds"}
		},
	}
	p := New(fetcher, store, Options{Attempts: 1})

	p.RefreshBuilds(context.Background(), "C1")
	finalEvent(t, p, BuildScope("C1"))

	if _, ok := store.Get(cache.KindBuildConfig, "C1"); ok {
		t.Fatal("deleted config still cached")
	}
	if ids := store.List(cache.KindBuild, "C1"); len(ids) != 0 {
		t.Fatalf("builds of deleted config = %v, want empty", ids)
	}
}

func TestRefresh_RateLimitedUsesLongerBackoff(t *testing.T) {
	store := newTestStore(t)
	var calls atomic.Int32
	fetcher := &fakeFetcher{
		listProjects: func(ctx context.Context, ids []string) ([]teamcity.Project, error) {
			if calls.Add(1) == 1 {
				return nil, &teamcity.Error{Kind: teamcity.ErrRateLimited, Op: "list projects"}
			}
			return []teamcity.Project{{ID: "P1"}}, nil
		},
	}
	p := New(fetcher, store, Options{
		Attempts:         3,
		Backoff:          time.Millisecond,
		RateLimitBackoff: 30 * time.Millisecond,
	})

	started := time.Now()
	p.RefreshProjects(context.Background(), nil)
	event, transients := finalEvent(t, p, ProjectScope)

	if event.Outcome != Updated {
		t.Fatalf("outcome = %v, want Updated", event.Outcome)
	}
	if elapsed := time.Since(started); elapsed < 30*time.Millisecond {
		t.Fatalf("completed in %s, want at least the rate-limit backoff", elapsed)
	}
	if len(transients) != 1 {
		t.Fatalf("transient events = %d, want 1", len(transients))
	}
}
