package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/t9s-dev/t9s/internal/nav"
	"github.com/t9s-dev/t9s/internal/teamcity"
)

// Lines of chrome around the list: title, column header, filter/status.
const chromeLines = 4

func (m Model) listHeight() int {
	h := m.height - chromeLines
	if h < 1 {
		h = 1
	}
	return h
}

func (m Model) renderMain() string {
	var b strings.Builder

	b.WriteString(m.renderTitle())
	b.WriteString("\n")

	switch m.nav.View() {
	case nav.ViewBuildDetail:
		b.WriteString(m.renderBuildDetail())
	case nav.ViewBuilds:
		b.WriteString(m.renderBuildList())
	default:
		b.WriteString(m.renderNameList())
	}

	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m Model) renderTitle() string {
	trail := breadcrumbStyle.Render(strings.Join(m.nav.Breadcrumb(), " › "))
	title := titleStyle.Render("t9s")
	line := title + "  " + trail
	if m.refreshingCurrent() {
		line += "  " + dimStyle.Render("refreshing…")
	}
	return line
}

// renderNameList renders the project and build-config views: a name
// column plus a dimmed id column.
func (m Model) renderNameList() string {
	items := m.nav.Items()
	if len(items) == 0 {
		return m.renderEmpty()
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("  %-40s %s", "Name", "ID")))
	b.WriteString("\n")

	start, end := m.visibleRange(len(items))
	for i := start; i < end; i++ {
		item := items[i]
		line := fmt.Sprintf("  %-40s %s", truncate(item.Label, 40), dimStyle.Render(item.ID))
		if i == m.nav.SelectedIndex() {
			line = selectedStyle.Render(fmt.Sprintf("> %-40s %s", truncate(item.Label, 40), item.ID))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	m.padRows(&b, end-start)
	return b.String()
}

func (m Model) renderBuildList() string {
	items := m.nav.Items()
	if len(items) == 0 {
		return m.renderEmpty()
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("  %-12s %-24s %-10s %-14s %s",
		"Number", "Branch", "Status", "Started", "Duration")))
	b.WriteString("\n")

	now := time.Now()
	start, end := m.visibleRange(len(items))
	for i := start; i < end; i++ {
		item := items[i]
		build, ok := m.lister.build(item.ID)
		if !ok {
			continue
		}
		status := build.NormalizedStatus()
		row := fmt.Sprintf("  %-12s %-24s %-10s %-14s %s",
			truncate("#"+build.Number, 12),
			truncate(build.BranchName, 24),
			strings.ToLower(string(status)),
			formatStarted(build),
			formatDuration(build, now))
		if i == m.nav.SelectedIndex() {
			b.WriteString(selectedStyle.Render("> " + row[2:]))
		} else {
			b.WriteString(statusStyle(status).Render(row))
		}
		b.WriteString("\n")
	}
	m.padRows(&b, end-start)
	return b.String()
}

func (m Model) renderBuildDetail() string {
	build, ok := m.lister.build(m.nav.ScopeID())
	if !ok {
		return m.renderEmpty()
	}

	status := build.NormalizedStatus()
	rows := []struct {
		label string
		value string
	}{
		{"Number", "#" + build.Number},
		{"Status", statusStyle(status).Render(strings.ToLower(string(status)))},
		{"Branch", build.BranchName},
		{"Started", formatStarted(build)},
		{"Duration", formatDuration(build, time.Now())},
		{"URL", build.WebURL},
	}
	if build.StatusText != "" {
		rows = append(rows, struct{ label, value string }{"Detail", build.StatusText})
	}

	var b strings.Builder
	b.WriteString("\n")
	for _, row := range rows {
		if row.value == "" {
			continue
		}
		b.WriteString("  " + labelStyle.Render(row.label) + row.value + "\n")
	}
	b.WriteString("\n")

	if build.LogAvailable() {
		b.WriteString(dimStyle.Render("  v view log   o open in browser   h back"))
	} else {
		b.WriteString(dimStyle.Render("  queued — no log yet   o open in browser   h back"))
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderEmpty() string {
	text := "  no items"
	if m.nav.View() == nav.ViewProjects && m.nav.Filter() != "" {
		text = fmt.Sprintf("  no projects match %q", m.nav.Filter())
	} else if m.refreshingCurrent() {
		text = "  loading…"
	}
	return dimStyle.Render(text) + "\n"
}

func (m Model) renderStatusBar() string {
	if m.filtering {
		return m.filterInput.View()
	}

	status := m.nav.Status()
	if status.Text != "" {
		if status.Level == nav.StatusError {
			return statusErrorStyle.Render(status.Text)
		}
		return statusInfoStyle.Render(status.Text)
	}

	hints := "j/k move  enter open  h back  f find  r refresh  ? help  q quit"
	if m.nav.View() == nav.ViewProjects {
		hints = "j/k move  enter open  / filter  f find  r refresh  ? help  q quit"
	}
	return dimStyle.Render(hints)
}

func (m Model) renderHelp() string {
	help := `
  t9s — TeamCity browser

  Navigation
    j / k, ↓ / ↑     move selection
    gg / G           jump to top / bottom
    enter, l         drill into the selected item
    h, esc           go back
    q, ctrl+c        quit

  Actions
    /                filter projects (project list only)
    f                fuzzy-search the current list (fzf)
    r                refresh the current view
    o                open build in browser (build view)
    v                view build log in pager (build view)

  Any key closes this help.
`
	return strings.TrimPrefix(help, "\n")
}

// visibleRange returns the [start, end) window of rows to draw.
func (m Model) visibleRange(n int) (int, int) {
	start := m.nav.ScrollOffset()
	if start > n {
		start = n
	}
	end := start + m.listHeight()
	if end > n {
		end = n
	}
	return start, end
}

// padRows fills the list area so the status bar stays on the last line.
func (m Model) padRows(b *strings.Builder, drawn int) {
	for i := drawn; i < m.listHeight(); i++ {
		b.WriteString("\n")
	}
}

func statusStyle(status teamcity.BuildStatus) lipgloss.Style {
	switch status {
	case teamcity.StatusSuccess:
		return successStyle
	case teamcity.StatusFailure:
		return failureStyle
	case teamcity.StatusRunning:
		return runningStyle
	case teamcity.StatusQueued:
		return queuedStyle
	default:
		return dimStyle
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 1 {
		return s[:max]
	}
	return s[:max-1] + "…"
}
