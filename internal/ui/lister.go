package ui

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/t9s-dev/t9s/internal/cache"
	"github.com/t9s-dev/t9s/internal/nav"
	"github.com/t9s-dev/t9s/internal/teamcity"
)

// storeLister derives navigation rows from the cache store. The store
// owns all entity data; the navigation model only ever sees ids and
// display labels, so background refreshes show up on the next reload.
type storeLister struct {
	store *cache.Store
}

var _ nav.Lister = storeLister{}

func (l storeLister) Projects(filter string) []nav.Item {
	needle := strings.ToLower(strings.TrimSpace(filter))
	var items []nav.Item
	for _, id := range l.store.List(cache.KindProject, "") {
		var project teamcity.Project
		if err := l.store.GetAs(cache.KindProject, id, &project); err != nil {
			log.Printf("ui: %v", err)
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(project.Name), needle) &&
			!strings.Contains(strings.ToLower(project.ID), needle) {
			continue
		}
		items = append(items, nav.Item{ID: project.ID, Label: project.Name})
	}
	return items
}

func (l storeLister) BuildConfigs(projectID string) []nav.Item {
	var items []nav.Item
	for _, id := range l.store.List(cache.KindBuildConfig, projectID) {
		var config teamcity.BuildConfig
		if err := l.store.GetAs(cache.KindBuildConfig, id, &config); err != nil {
			log.Printf("ui: %v", err)
			continue
		}
		items = append(items, nav.Item{ID: config.ID, Label: config.Name})
	}
	return items
}

func (l storeLister) Builds(buildConfigID string) []nav.Item {
	var items []nav.Item
	for _, id := range l.store.List(cache.KindBuild, buildConfigID) {
		var build teamcity.Build
		if err := l.store.GetAs(cache.KindBuild, id, &build); err != nil {
			log.Printf("ui: %v", err)
			continue
		}
		items = append(items, nav.Item{ID: id, Label: buildLabel(build)})
	}
	return items
}

// buildLabel is what the list, breadcrumb, and fuzzy finder show for a
// build: "#number status (branch)".
func buildLabel(build teamcity.Build) string {
	label := "#" + build.Number
	if build.Number == "" {
		label = fmt.Sprintf("#%d", build.ID)
	}
	label += " " + strings.ToLower(string(build.NormalizedStatus()))
	if build.BranchName != "" {
		label += " (" + build.BranchName + ")"
	}
	return label
}

// buildRow holds the decoded build for table rendering.
func (l storeLister) build(id string) (teamcity.Build, bool) {
	var build teamcity.Build
	if err := l.store.GetAs(cache.KindBuild, id, &build); err != nil {
		return teamcity.Build{}, false
	}
	return build, true
}

func (l storeLister) project(id string) (teamcity.Project, bool) {
	var project teamcity.Project
	if err := l.store.GetAs(cache.KindProject, id, &project); err != nil {
		return teamcity.Project{}, false
	}
	return project, true
}

func (l storeLister) buildConfig(id string) (teamcity.BuildConfig, bool) {
	var config teamcity.BuildConfig
	if err := l.store.GetAs(cache.KindBuildConfig, id, &config); err != nil {
		return teamcity.BuildConfig{}, false
	}
	return config, true
}

func formatStarted(build teamcity.Build) string {
	start := build.ParsedStartDate()
	if start.IsZero() {
		return ""
	}
	return start.Local().Format("02 Jan 15:04")
}

func formatDuration(build teamcity.Build, now time.Time) string {
	d := build.Duration(now)
	if d <= 0 {
		return ""
	}
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
