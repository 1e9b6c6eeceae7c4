package ui

import (
	"strconv"
	"testing"
	"time"

	"github.com/t9s-dev/t9s/internal/cache"
	"github.com/t9s-dev/t9s/internal/teamcity"
)

func newTestStore(t *testing.T) *cache.Store {
	t.Helper()
	store, err := cache.Open(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func seedHierarchy(t *testing.T, store *cache.Store) {
	t.Helper()
	now := time.Now()

	projects := []teamcity.Project{
		{ID: "Alpha", Name: "Alpha Project"},
		{ID: "Beta", Name: "Beta Project"},
	}
	for i, p := range projects {
		if err := store.Put(cache.KindProject, p.ID, "", i, p, now); err != nil {
			t.Fatalf("seed project: %v", err)
		}
	}

	configs := []teamcity.BuildConfig{
		{ID: "Alpha_Linux", Name: "Build Linux", ProjectID: "Alpha"},
		{ID: "Alpha_Mac", Name: "Build macOS", ProjectID: "Alpha"},
	}
	for i, c := range configs {
		if err := store.Put(cache.KindBuildConfig, c.ID, c.ProjectID, i, c, now); err != nil {
			t.Fatalf("seed config: %v", err)
		}
	}

	builds := []teamcity.Build{
		{ID: 102, Number: "12", BuildConfigID: "Alpha_Linux", Status: "SUCCESS", State: "finished", BranchName: "main", WebURL: "https://tc/b/102"},
		{ID: 101, Number: "11", BuildConfigID: "Alpha_Linux", Status: "FAILURE", State: "finished", BranchName: "main"},
		{ID: 103, Number: "13", BuildConfigID: "Alpha_Linux", State: "queued"},
	}
	for i, b := range builds {
		if err := store.Put(cache.KindBuild, strconv.FormatInt(b.ID, 10), b.BuildConfigID, i, b, now); err != nil {
			t.Fatalf("seed build: %v", err)
		}
	}
}

func TestStoreLister_Projects(t *testing.T) {
	store := newTestStore(t)
	seedHierarchy(t, store)
	lister := storeLister{store: store}

	items := lister.Projects("")
	if len(items) != 2 {
		t.Fatalf("items = %v, want 2", items)
	}
	if items[0].ID != "Alpha" || items[0].Label != "Alpha Project" {
		t.Fatalf("first = %+v", items[0])
	}
}

func TestStoreLister_ProjectsFilter(t *testing.T) {
	store := newTestStore(t)
	seedHierarchy(t, store)
	lister := storeLister{store: store}

	tests := []struct {
		filter string
		want   []string
	}{
		{"beta", []string{"Beta"}},       // matches name, case-insensitive
		{"BETA", []string{"Beta"}},
		{"alpha", []string{"Alpha"}},     // matches id too
		{"project", []string{"Alpha", "Beta"}},
		{"zzz", nil},
	}
	for _, tt := range tests {
		items := lister.Projects(tt.filter)
		if len(items) != len(tt.want) {
			t.Errorf("filter %q: items = %v, want ids %v", tt.filter, items, tt.want)
			continue
		}
		for i, id := range tt.want {
			if items[i].ID != id {
				t.Errorf("filter %q: items = %v, want ids %v", tt.filter, items, tt.want)
			}
		}
	}
}

func TestStoreLister_BuildConfigsScoped(t *testing.T) {
	store := newTestStore(t)
	seedHierarchy(t, store)
	lister := storeLister{store: store}

	items := lister.BuildConfigs("Alpha")
	if len(items) != 2 {
		t.Fatalf("items = %v, want 2", items)
	}
	if items[0].Label != "Build Linux" || items[1].Label != "Build macOS" {
		t.Fatalf("labels = %v", items)
	}

	if other := lister.BuildConfigs("Beta"); len(other) != 0 {
		t.Fatalf("Beta configs = %v, want empty", other)
	}
}

func TestStoreLister_BuildsOrderedAndLabelled(t *testing.T) {
	store := newTestStore(t)
	seedHierarchy(t, store)
	lister := storeLister{store: store}

	items := lister.Builds("Alpha_Linux")
	if len(items) != 3 {
		t.Fatalf("items = %v, want 3", items)
	}
	// Cache order is fetch order: newest first.
	if items[0].ID != "102" || items[0].Label != "#12 success (main)" {
		t.Fatalf("first = %+v", items[0])
	}
	if items[1].Label != "#11 failure (main)" {
		t.Fatalf("second = %+v", items[1])
	}
	if items[2].Label != "#13 queued" {
		t.Fatalf("third = %+v", items[2])
	}
}

func TestBuildLabel(t *testing.T) {
	tests := []struct {
		build teamcity.Build
		want  string
	}{
		{teamcity.Build{Number: "42", Status: "SUCCESS", State: "finished", BranchName: "main"}, "#42 success (main)"},
		{teamcity.Build{Number: "42", Status: "FAILURE", State: "finished"}, "#42 failure"},
		{teamcity.Build{Number: "7", State: "running"}, "#7 running"},
		// No number yet: fall back to the build id.
		{teamcity.Build{ID: 99, State: "queued"}, "#99 queued"},
	}
	for _, tt := range tests {
		if got := buildLabel(tt.build); got != tt.want {
			t.Errorf("buildLabel(%+v) = %q, want %q", tt.build, got, tt.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	now := time.Date(2024, 1, 31, 16, 0, 0, 0, time.UTC)
	tests := []struct {
		start  string
		finish string
		want   string
	}{
		{"20240131T155800+0000", "20240131T155945+0000", "1:45"},
		{"20240131T144205+0000", "20240131T155310+0000", "1:11:05"},
		{"", "", ""},
	}
	for _, tt := range tests {
		b := teamcity.Build{StartDate: tt.start, FinishDate: tt.finish}
		if got := formatDuration(b, now); got != tt.want {
			t.Errorf("formatDuration(%q, %q) = %q, want %q", tt.start, tt.finish, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly-10", 10, "exactly-10"},
		{"this is far too long", 10, "this is f…"},
		{"ab", 1, "a"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
