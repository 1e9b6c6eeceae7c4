// Package nav holds the navigation state machine for the browsing views.
// It owns selection, scrolling, the breadcrumb trail, and the transient
// status message, but never entity data: rows are re-derived from the
// cache on every reload, so a background refresh is visible on the next
// render without any invalidation plumbing.
package nav

import (
	"strings"
)

// View identifies the active list or detail screen.
type View int

const (
	ViewProjects View = iota
	ViewBuildConfigs
	ViewBuilds
	ViewBuildDetail
)

func (v View) String() string {
	switch v {
	case ViewProjects:
		return "Projects"
	case ViewBuildConfigs:
		return "Build Configurations"
	case ViewBuilds:
		return "Builds"
	case ViewBuildDetail:
		return "Build"
	default:
		return "?"
	}
}

// NoSelection is the selected index for an empty list.
const NoSelection = -1

// Item is one row of the current list.
type Item struct {
	ID    string
	Label string
}

// Lister supplies rows for each view. Implemented over the cache store;
// tests use in-memory fakes.
type Lister interface {
	Projects(filter string) []Item
	BuildConfigs(projectID string) []Item
	Builds(buildConfigID string) []Item
}

// StatusLevel distinguishes informational from error messages.
type StatusLevel int

const (
	StatusInfo StatusLevel = iota
	StatusError
)

// Status is the transient message line.
type Status struct {
	Level StatusLevel
	Text  string
}

// frame is one breadcrumb step: enough to restore the prior view
// exactly on Back.
type frame struct {
	view     View
	scopeID  string
	title    string
	selected int
	scroll   int
	filter   string
}

// Model is the navigation state machine. It performs no I/O.
type Model struct {
	lister Lister

	view    View
	scopeID string // owning entity of the current list; build id in detail
	title   string

	breadcrumb []frame
	items      []Item
	selected   int
	scroll     int
	pageSize   int
	filter     string
	status     Status
}

// New starts at the project list, derived from whatever the lister
// currently holds (possibly nothing, pending the first fetch).
func New(lister Lister) *Model {
	m := &Model{
		lister:   lister,
		view:     ViewProjects,
		title:    "Projects",
		pageSize: 20,
	}
	m.Reload()
	return m
}

// View returns the active view.
func (m *Model) View() View { return m.view }

// ScopeID returns the entity id owning the current view: empty on the
// project list, the project id on the config list, the config id on the
// build list, the build id in detail.
func (m *Model) ScopeID() string { return m.scopeID }

// Title returns the display title of the current scope.
func (m *Model) Title() string { return m.title }

// Items returns the visible rows.
func (m *Model) Items() []Item { return m.items }

// Selected returns the selected row, or ok=false for an empty list or
// the detail view.
func (m *Model) Selected() (Item, bool) {
	if m.selected == NoSelection || m.selected >= len(m.items) {
		return Item{}, false
	}
	return m.items[m.selected], true
}

// SelectedIndex returns the selection index (NoSelection when empty).
func (m *Model) SelectedIndex() int { return m.selected }

// ScrollOffset returns the index of the first visible row.
func (m *Model) ScrollOffset() int { return m.scroll }

// Filter returns the active project filter text.
func (m *Model) Filter() string { return m.filter }

// Breadcrumb returns the titles from root to the current view.
func (m *Model) Breadcrumb() []string {
	trail := make([]string, 0, len(m.breadcrumb)+1)
	for _, f := range m.breadcrumb {
		trail = append(trail, f.title)
	}
	return append(trail, m.title)
}

// Depth returns how many Enter steps the model is away from the root.
func (m *Model) Depth() int { return len(m.breadcrumb) }

// SetPageSize adjusts the number of visible rows after a resize.
func (m *Model) SetPageSize(n int) {
	if n < 1 {
		n = 1
	}
	m.pageSize = n
	m.clampScroll()
}

// Status returns the transient status message.
func (m *Model) Status() Status { return m.status }

// SetStatus replaces the status message.
func (m *Model) SetStatus(level StatusLevel, text string) {
	m.status = Status{Level: level, Text: text}
}

// ClearStatus drops the status message.
func (m *Model) ClearStatus() { m.status = Status{} }

// Reload re-derives the visible rows from the lister, preserving the
// selection when its row survives and clamping it otherwise.
func (m *Model) Reload() {
	prevID := ""
	if item, ok := m.Selected(); ok {
		prevID = item.ID
	}

	m.items = m.deriveItems()

	if len(m.items) == 0 {
		m.selected = NoSelection
		m.scroll = 0
		return
	}
	if prevID != "" {
		for i, item := range m.items {
			if item.ID == prevID {
				m.selected = i
				m.clampScroll()
				return
			}
		}
	}
	if m.selected == NoSelection || m.selected >= len(m.items) {
		m.selected = clamp(m.selected, 0, len(m.items)-1)
	}
	m.clampScroll()
}

func (m *Model) deriveItems() []Item {
	if m.lister == nil {
		return nil
	}
	switch m.view {
	case ViewProjects:
		return m.lister.Projects(m.filter)
	case ViewBuildConfigs:
		return m.lister.BuildConfigs(m.scopeID)
	case ViewBuilds:
		return m.lister.Builds(m.scopeID)
	default:
		return nil
	}
}

// MoveSelection moves the selection by delta, clamped to the list
// bounds, and keeps it scrolled into view.
func (m *Model) MoveSelection(delta int) {
	if len(m.items) == 0 {
		m.selected = NoSelection
		return
	}
	m.selected = clamp(m.selected+delta, 0, len(m.items)-1)
	m.clampScroll()
}

// SelectFirst jumps to the top of the list.
func (m *Model) SelectFirst() {
	if len(m.items) == 0 {
		return
	}
	m.selected = 0
	m.clampScroll()
}

// SelectLast jumps to the bottom of the list.
func (m *Model) SelectLast() {
	if len(m.items) == 0 {
		return
	}
	m.selected = len(m.items) - 1
	m.clampScroll()
}

// SelectByID moves the selection to the row with the given id, used to
// map a fuzzy-finder choice back onto the list.
func (m *Model) SelectByID(id string) bool {
	for i, item := range m.items {
		if item.ID == id {
			m.selected = i
			m.clampScroll()
			return true
		}
	}
	return false
}

// Enter drills into the selected item. It is a no-op on an empty list
// and in the detail view. Returns true when the view changed.
func (m *Model) Enter() bool {
	item, ok := m.Selected()
	if !ok || m.view == ViewBuildDetail {
		return false
	}

	m.breadcrumb = append(m.breadcrumb, frame{
		view:     m.view,
		scopeID:  m.scopeID,
		title:    m.title,
		selected: m.selected,
		scroll:   m.scroll,
		filter:   m.filter,
	})

	switch m.view {
	case ViewProjects:
		m.view = ViewBuildConfigs
	case ViewBuildConfigs:
		m.view = ViewBuilds
	case ViewBuilds:
		m.view = ViewBuildDetail
	}
	m.scopeID = item.ID
	m.title = item.Label
	m.filter = ""
	m.selected = NoSelection
	m.scroll = 0
	m.status = Status{}
	m.Reload()
	if len(m.items) > 0 {
		m.selected = 0
	}
	return true
}

// Back pops the breadcrumb, restoring the prior view, selection, and
// scroll exactly. From the project list it is a no-op.
func (m *Model) Back() bool {
	if len(m.breadcrumb) == 0 {
		return false
	}
	top := m.breadcrumb[len(m.breadcrumb)-1]
	m.breadcrumb = m.breadcrumb[:len(m.breadcrumb)-1]

	m.view = top.view
	m.scopeID = top.scopeID
	m.title = top.title
	m.filter = top.filter
	m.selected = top.selected
	m.scroll = top.scroll
	m.status = Status{}
	m.reloadPreservingSelection(top.selected, top.scroll)
	return true
}

// reloadPreservingSelection re-derives rows but keeps the restored
// indices when they are still valid, so Enter followed by Back is an
// exact round trip.
func (m *Model) reloadPreservingSelection(selected, scroll int) {
	m.items = m.deriveItems()
	if len(m.items) == 0 {
		m.selected = NoSelection
		m.scroll = 0
		return
	}
	m.selected = clamp(selected, 0, len(m.items)-1)
	m.scroll = scroll
	m.clampScroll()
}

// SetFilter narrows the project list. It only applies to the project
// view and never mutates the underlying data; clearing it restores the
// full list.
func (m *Model) SetFilter(text string) {
	if m.view != ViewProjects {
		return
	}
	m.filter = strings.TrimSpace(text)
	m.selected = NoSelection
	m.scroll = 0
	m.Reload()
	if len(m.items) > 0 {
		m.selected = 0
	}
}

func (m *Model) clampScroll() {
	if m.selected == NoSelection {
		m.scroll = 0
		return
	}
	if m.selected < m.scroll {
		m.scroll = m.selected
	}
	if m.selected >= m.scroll+m.pageSize {
		m.scroll = m.selected - m.pageSize + 1
	}
	if m.scroll < 0 {
		m.scroll = 0
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
