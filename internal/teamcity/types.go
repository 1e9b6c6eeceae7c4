package teamcity

import (
	"strings"
	"time"
)

// TeamCity timestamps look like "20240131T154205+0000".
const teamcityTimestampLayout = "20060102T150405-0700"

// Project is a container node in the TeamCity hierarchy. Root projects
// have no parent.
type Project struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	ParentID        string   `json:"parentProjectId,omitempty"`
	ChildProjectIDs []string `json:"childProjectIds,omitempty"`
	BuildConfigIDs  []string `json:"buildTypeIds,omitempty"`
	WebURL          string   `json:"webUrl,omitempty"`
}

// BuildConfig is a runnable pipeline definition owned by a project.
type BuildConfig struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ProjectID string `json:"projectId"`
	WebURL    string `json:"webUrl,omitempty"`
}

// BuildStatus is the normalized outcome of a build.
type BuildStatus string

const (
	StatusSuccess BuildStatus = "SUCCESS"
	StatusFailure BuildStatus = "FAILURE"
	StatusRunning BuildStatus = "RUNNING"
	StatusQueued  BuildStatus = "QUEUED"
	StatusUnknown BuildStatus = "UNKNOWN"
)

// Build is one execution of a build configuration.
type Build struct {
	ID            int64  `json:"id"`
	Number        string `json:"number"`
	BuildConfigID string `json:"buildTypeId"`
	Status        string `json:"status"`
	State         string `json:"state"`
	StatusText    string `json:"statusText,omitempty"`
	BranchName    string `json:"branchName,omitempty"`
	WebURL        string `json:"webUrl"`
	StartDate     string `json:"startDate,omitempty"`
	FinishDate    string `json:"finishDate,omitempty"`
}

// NormalizedStatus folds the raw status/state pair into a BuildStatus.
// TeamCity reports status only once a build leaves the queue.
func (b Build) NormalizedStatus() BuildStatus {
	switch strings.ToLower(b.State) {
	case "queued":
		return StatusQueued
	case "running":
		return StatusRunning
	}
	switch strings.ToUpper(b.Status) {
	case "SUCCESS":
		return StatusSuccess
	case "FAILURE", "ERROR":
		return StatusFailure
	}
	return StatusUnknown
}

// LogAvailable reports whether the server can serve a log for this build.
// Queued builds have not produced any output yet.
func (b Build) LogAvailable() bool {
	return b.NormalizedStatus() != StatusQueued
}

// ParsedStartDate returns the start timestamp, zero when absent or malformed.
func (b Build) ParsedStartDate() time.Time {
	return parseTime(b.StartDate)
}

// ParsedFinishDate returns the finish timestamp, zero when absent or malformed.
func (b Build) ParsedFinishDate() time.Time {
	return parseTime(b.FinishDate)
}

// Duration reports how long the build ran, measuring unfinished builds
// against the current time.
func (b Build) Duration(now time.Time) time.Duration {
	start := b.ParsedStartDate()
	if start.IsZero() {
		return 0
	}
	end := b.ParsedFinishDate()
	if end.IsZero() {
		end = now
	}
	if end.Before(start) {
		return 0
	}
	return end.Sub(start)
}

// projectList mirrors /app/rest/projects.
type projectList struct {
	Count    int              `json:"count"`
	Projects []projectPayload `json:"project"`
}

// projectPayload carries the nested child/buildType references TeamCity
// returns when asked for them in the fields locator.
type projectPayload struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parentProjectId"`
	WebURL   string `json:"webUrl"`
	Projects *struct {
		Project []struct {
			ID string `json:"id"`
		} `json:"project"`
	} `json:"projects"`
	BuildTypes *struct {
		BuildType []struct {
			ID string `json:"id"`
		} `json:"buildType"`
	} `json:"buildTypes"`
}

func (p projectPayload) toProject() Project {
	out := Project{
		ID:       p.ID,
		Name:     p.Name,
		ParentID: p.ParentID,
		WebURL:   p.WebURL,
	}
	if p.Projects != nil {
		for _, child := range p.Projects.Project {
			out.ChildProjectIDs = append(out.ChildProjectIDs, child.ID)
		}
	}
	if p.BuildTypes != nil {
		for _, bt := range p.BuildTypes.BuildType {
			out.BuildConfigIDs = append(out.BuildConfigIDs, bt.ID)
		}
	}
	return out
}

// buildConfigList mirrors /app/rest/buildTypes.
type buildConfigList struct {
	Count       int           `json:"count"`
	BuildConfig []BuildConfig `json:"buildType"`
}

// buildList mirrors /app/rest/builds. NextHref is present while more
// pages remain.
type buildList struct {
	Count    int     `json:"count"`
	NextHref string  `json:"nextHref"`
	Builds   []Build `json:"build"`
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{teamcityTimestampLayout, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
