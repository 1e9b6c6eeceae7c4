package ui

import (
	"context"
	"strings"
	"testing"

	"github.com/t9s-dev/t9s/internal/cache"
	"github.com/t9s-dev/t9s/internal/config"
	"github.com/t9s-dev/t9s/internal/fetch"
	"github.com/t9s-dev/t9s/internal/nav"
	"github.com/t9s-dev/t9s/internal/teamcity"
)

type stubFetcher struct {
	logCalls int
}

func (s *stubFetcher) ListProjects(ctx context.Context, ids []string) ([]teamcity.Project, error) {
	return nil, nil
}

func (s *stubFetcher) ListBuildConfigs(ctx context.Context, projectID string) ([]teamcity.BuildConfig, error) {
	return nil, nil
}

func (s *stubFetcher) ListBuilds(ctx context.Context, buildConfigID, pageToken string) ([]teamcity.Build, string, error) {
	return nil, "", nil
}

func (s *stubFetcher) FetchLog(ctx context.Context, buildID int64) ([]byte, error) {
	s.logCalls++
	return []byte("log text"), nil
}

func newTestModel(t *testing.T) Model {
	t.Helper()
	store := newTestStore(t)
	seedHierarchy(t, store)
	return New(Options{
		Config: &config.Config{},
		Store:  store,
		Client: &stubFetcher{},
	})
}

func TestViewLog_OutsideDetailIsNoOp(t *testing.T) {
	m := newTestModel(t)

	_, cmd := m.viewLog()
	if cmd != nil {
		t.Fatal("viewLog in project list dispatched a command")
	}
}

func TestViewLog_QueuedBuildIsNoOp(t *testing.T) {
	m := newTestModel(t)
	m.nav.Enter()             // Alpha
	m.nav.Enter()             // Alpha_Linux
	m.nav.SelectByID("103")   // the queued build
	m.nav.Enter()             // detail

	if m.nav.View() != nav.ViewBuildDetail {
		t.Fatalf("view = %v, want detail", m.nav.View())
	}

	updated, cmd := m.viewLog()
	if cmd != nil {
		t.Fatal("viewLog on a queued build dispatched a command")
	}
	if updated.(Model).fetchingLog {
		t.Fatal("fetchingLog set for a queued build")
	}
}

func TestViewLog_FinishedBuildFetches(t *testing.T) {
	m := newTestModel(t)
	m.nav.Enter()
	m.nav.Enter()
	m.nav.SelectByID("102") // finished, successful
	m.nav.Enter()

	updated, cmd := m.viewLog()
	if cmd == nil {
		t.Fatal("viewLog on a finished build dispatched nothing")
	}
	if !updated.(Model).fetchingLog {
		t.Fatal("fetchingLog not set while the fetch runs")
	}

	// The command fetches the log off the UI goroutine.
	msg := cmd()
	logged, ok := msg.(logMsg)
	if !ok {
		t.Fatalf("msg = %T, want logMsg", msg)
	}
	if logged.err != nil || string(logged.text) != "log text" {
		t.Fatalf("logMsg = %+v", logged)
	}
}

func TestViewLog_AlreadyFetchingIsNoOp(t *testing.T) {
	m := newTestModel(t)
	m.nav.Enter()
	m.nav.Enter()
	m.nav.SelectByID("102")
	m.nav.Enter()
	m.fetchingLog = true

	if _, cmd := m.viewLog(); cmd != nil {
		t.Fatal("viewLog dispatched while a fetch was in flight")
	}
}

func TestHandleFetchEvent_FailureStatuses(t *testing.T) {
	tests := []struct {
		kind teamcity.ErrorKind
		want string
	}{
		{teamcity.ErrAuth, "authentication failed"},
		{teamcity.ErrNotFound, "no longer exists"},
		{teamcity.ErrRateLimited, "rate limited"},
		{teamcity.ErrNetwork, "showing cached data"},
	}
	for _, tt := range tests {
		m := newTestModel(t)
		m.refreshing[fetch.ProjectScope] = true

		m.handleFetchEvent(fetch.Event{
			Scope:   fetch.ProjectScope,
			Kind:    cache.KindProject,
			Outcome: fetch.Failed,
			Err:     &teamcity.Error{Kind: tt.kind, Op: "list projects"},
		})

		status := m.nav.Status()
		if status.Level != nav.StatusError {
			t.Errorf("%v: level = %v, want error", tt.kind, status.Level)
		}
		if !strings.Contains(status.Text, tt.want) {
			t.Errorf("%v: status = %q, want substring %q", tt.kind, status.Text, tt.want)
		}
		if m.refreshing[fetch.ProjectScope] {
			t.Errorf("%v: scope still marked refreshing", tt.kind)
		}
	}
}

func TestHandleFetchEvent_SuccessClearsIndicator(t *testing.T) {
	m := newTestModel(t)
	m.refreshing[fetch.ProjectScope] = true

	m.handleFetchEvent(fetch.Event{
		Scope:   fetch.ProjectScope,
		Kind:    cache.KindProject,
		Outcome: fetch.Updated,
	})

	if m.refreshing[fetch.ProjectScope] {
		t.Fatal("scope still marked refreshing after success")
	}
	if m.nav.Status().Text != "" {
		t.Fatalf("status = %q, want empty on success", m.nav.Status().Text)
	}
}

func TestHandleFetchEvent_TransientKeepsIndicator(t *testing.T) {
	m := newTestModel(t)
	m.refreshing[fetch.ProjectScope] = true

	m.handleFetchEvent(fetch.Event{
		Scope:     fetch.ProjectScope,
		Kind:      cache.KindProject,
		Outcome:   fetch.Updated,
		Transient: true,
		Message:   "loaded 100 builds…",
	})

	if !m.refreshing[fetch.ProjectScope] {
		t.Fatal("transient event cleared the refreshing indicator")
	}
	status := m.nav.Status()
	if status.Level != nav.StatusInfo || status.Text != "loaded 100 builds…" {
		t.Fatalf("status = %+v, want the progress note", status)
	}
}

func TestOpenInBrowser_OnlyInDetailView(t *testing.T) {
	m := newTestModel(t)
	// In the project list this must do nothing at all, not even error.
	m.openInBrowser()
	if m.nav.Status().Text != "" {
		t.Fatalf("status = %q, want empty", m.nav.Status().Text)
	}
}

func TestRefreshingCurrent(t *testing.T) {
	m := newTestModel(t)

	if m.refreshingCurrent() {
		t.Fatal("refreshingCurrent true with no refresh in flight")
	}

	m.refreshing[fetch.ProjectScope] = true
	if !m.refreshingCurrent() {
		t.Fatal("refreshingCurrent false for the visible scope")
	}

	// The indicator tracks the visible scope, not any refresh anywhere.
	m.nav.Enter()
	if m.refreshingCurrent() {
		t.Fatal("refreshingCurrent true for a different scope")
	}
	m.refreshing[fetch.ConfigScope("Alpha")] = true
	if !m.refreshingCurrent() {
		t.Fatal("refreshingCurrent false in build configs view")
	}
}
