package ui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/t9s-dev/t9s/internal/bridge"
	"github.com/t9s-dev/t9s/internal/cache"
	"github.com/t9s-dev/t9s/internal/config"
	"github.com/t9s-dev/t9s/internal/fetch"
	"github.com/t9s-dev/t9s/internal/nav"
	"github.com/t9s-dev/t9s/internal/teamcity"
)

// Options configures the UI.
type Options struct {
	Context  context.Context
	Config   *config.Config
	Store    *cache.Store
	Pipeline *fetch.Pipeline
	Client   teamcity.Fetcher
}

// Model is the root application state for Bubble Tea. It owns the
// terminal; all network work happens in the fetch pipeline and arrives
// as messages, so keystroke handling never blocks on I/O.
type Model struct {
	ctx      context.Context
	cfg      *config.Config
	store    *cache.Store
	pipeline *fetch.Pipeline
	client   teamcity.Fetcher
	lister   storeLister
	nav      *nav.Model

	width  int
	height int
	ready  bool

	// pendingG tracks the first half of a gg chord.
	pendingG bool

	filtering   bool
	filterInput textinput.Model

	showHelp    bool
	fetchingLog bool
	refreshing  map[string]bool
}

// New creates the Bubble Tea model.
func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}

	input := textinput.New()
	input.Prompt = "/"
	input.CharLimit = 64

	lister := storeLister{store: opts.Store}
	return Model{
		ctx:         ctx,
		cfg:         opts.Config,
		store:       opts.Store,
		pipeline:    opts.Pipeline,
		client:      opts.Client,
		lister:      lister,
		nav:         nav.New(lister),
		filterInput: input,
		refreshing:  make(map[string]bool),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		tea.EnterAltScreen,
		waitForEvent(m.ctx, m.pipeline.Events()),
	}
	m.maybeRefresh()
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.nav.SetPageSize(m.listHeight())
		return m, nil

	case fetchEventMsg:
		m.handleFetchEvent(fetch.Event(msg))
		return m, waitForEvent(m.ctx, m.pipeline.Events())

	case fzfDoneMsg:
		m.handleFzfDone(msg)
		return m, nil

	case logMsg:
		return m.handleLog(msg)

	case pagerDoneMsg:
		msg.pager.Cleanup()
		if msg.err != nil {
			m.nav.SetStatus(nav.StatusError, fmt.Sprintf("pager failed: %v", msg.err))
		}
		return m, nil
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	if m.showHelp {
		return m.renderHelp()
	}
	return m.renderMain()
}

// handleKey processes keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		// Any key closes help.
		m.showHelp = false
		return m, nil
	}
	if m.filtering {
		return m.handleFilterKey(msg)
	}

	key := msg.String()

	// A status message survives until the next keystroke.
	if key != "g" {
		m.nav.ClearStatus()
	}
	if key != "g" && m.pendingG {
		m.pendingG = false
	}

	switch key {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "?":
		m.showHelp = true
		return m, nil

	case "j", "down":
		m.nav.MoveSelection(1)
		return m, nil

	case "k", "up":
		m.nav.MoveSelection(-1)
		return m, nil

	case "g":
		if m.pendingG {
			m.pendingG = false
			m.nav.SelectFirst()
		} else {
			m.pendingG = true
		}
		return m, nil

	case "G", "end":
		m.nav.SelectLast()
		return m, nil

	case "home":
		m.nav.SelectFirst()
		return m, nil

	case "enter", "l":
		if m.nav.View() == nav.ViewBuildDetail {
			return m, nil
		}
		if m.nav.Enter() {
			m.maybeRefresh()
		}
		return m, nil

	case "esc", "h", "backspace":
		m.nav.Back()
		return m, nil

	case "/":
		if m.nav.View() == nav.ViewProjects {
			m.filtering = true
			m.filterInput.SetValue(m.nav.Filter())
			m.filterInput.Focus()
			return m, textinput.Blink
		}
		return m, nil

	case "r":
		m.requestRefresh()
		return m, nil

	case "f":
		return m.launchFuzzyFinder()

	case "o":
		m.openInBrowser()
		return m, nil

	case "v":
		return m.viewLog()
	}

	return m, nil
}

// handleFilterKey routes keys to the project filter prompt.
func (m Model) handleFilterKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.filtering = false
		m.filterInput.Blur()
		return m, nil
	case "esc":
		m.filtering = false
		m.filterInput.Blur()
		m.filterInput.SetValue("")
		m.nav.SetFilter("")
		return m, nil
	}

	var cmd tea.Cmd
	m.filterInput, cmd = m.filterInput.Update(msg)
	m.nav.SetFilter(m.filterInput.Value())
	return m, cmd
}

// maybeRefresh opportunistically refreshes the current scope when the
// cache holds nothing for it or its entries are past their TTL. Served
// data stays on screen; the refresh happens behind it.
func (m *Model) maybeRefresh() {
	now := time.Now()
	switch m.nav.View() {
	case nav.ViewProjects:
		if m.store.ScopeFreshness(cache.KindProject, "", now) != cache.Fresh {
			m.refreshProjects()
		}
	case nav.ViewBuildConfigs:
		if m.store.ScopeFreshness(cache.KindBuildConfig, m.nav.ScopeID(), now) != cache.Fresh {
			m.refreshBuildConfigs(m.nav.ScopeID())
		}
	case nav.ViewBuilds:
		if m.store.ScopeFreshness(cache.KindBuild, m.nav.ScopeID(), now) != cache.Fresh {
			m.refreshBuilds(m.nav.ScopeID())
		}
	}
}

// requestRefresh forces a refresh of the current scope. A request for a
// scope already in flight is absorbed by the pipeline's coalescing.
func (m *Model) requestRefresh() {
	switch m.nav.View() {
	case nav.ViewProjects:
		m.refreshProjects()
	case nav.ViewBuildConfigs:
		m.refreshBuildConfigs(m.nav.ScopeID())
	case nav.ViewBuilds:
		m.refreshBuilds(m.nav.ScopeID())
	case nav.ViewBuildDetail:
		if build, ok := m.lister.build(m.nav.ScopeID()); ok {
			m.refreshBuilds(build.BuildConfigID)
		}
	}
}

func (m *Model) refreshProjects() {
	if m.pipeline.RefreshProjects(m.ctx, m.cfg.Projects) {
		m.refreshing[fetch.ProjectScope] = true
	}
}

func (m *Model) refreshBuildConfigs(projectID string) {
	if m.pipeline.RefreshBuildConfigs(m.ctx, projectID) {
		m.refreshing[fetch.ConfigScope(projectID)] = true
	}
}

func (m *Model) refreshBuilds(buildConfigID string) {
	if m.pipeline.RefreshBuilds(m.ctx, buildConfigID) {
		m.refreshing[fetch.BuildScope(buildConfigID)] = true
	}
}

// handleFetchEvent folds a pipeline result into the view. Failures keep
// whatever the cache already held on screen.
func (m *Model) handleFetchEvent(event fetch.Event) {
	if event.Transient {
		if event.Message != "" {
			m.nav.SetStatus(nav.StatusInfo, event.Message)
		}
		m.nav.Reload()
		return
	}

	delete(m.refreshing, event.Scope)
	m.nav.Reload()

	if event.Outcome != fetch.Failed {
		return
	}
	switch teamcity.KindOf(event.Err) {
	case teamcity.ErrAuth:
		m.nav.SetStatus(nav.StatusError, "authentication failed — check your token")
	case teamcity.ErrNotFound:
		m.nav.SetStatus(nav.StatusError, "item no longer exists on the server")
	case teamcity.ErrRateLimited:
		m.nav.SetStatus(nav.StatusError, "rate limited by server; showing cached data")
	default:
		m.nav.SetStatus(nav.StatusError, "refresh failed; showing cached data")
	}
}

// launchFuzzyFinder hands the current list to the external matcher. The
// UI releases the terminal for the subprocess and reclaims it after.
func (m Model) launchFuzzyFinder() (tea.Model, tea.Cmd) {
	items := m.nav.Items()
	if len(items) == 0 {
		m.nav.SetStatus(nav.StatusInfo, "nothing to search")
		return m, nil
	}

	candidates := make([]bridge.Candidate, len(items))
	for i, item := range items {
		candidates[i] = bridge.Candidate{ID: item.ID, Label: item.Label}
	}

	finder, err := bridge.NewFinder(m.cfg.FzfCommand, candidates)
	if err != nil {
		if errors.Is(err, bridge.ErrUnavailable) {
			m.nav.SetStatus(nav.StatusError, "fuzzy search unavailable: fzf is not installed")
		} else {
			m.nav.SetStatus(nav.StatusError, err.Error())
		}
		return m, nil
	}

	return m, tea.ExecProcess(finder.Cmd, func(runErr error) tea.Msg {
		return fzfDoneMsg{finder: finder, err: runErr}
	})
}

func (m *Model) handleFzfDone(msg fzfDoneMsg) {
	id, err := msg.finder.Choice(msg.err)
	if err != nil {
		if !errors.Is(err, bridge.ErrCancelled) {
			m.nav.SetStatus(nav.StatusError, err.Error())
		}
		return
	}
	m.nav.SelectByID(id)
}

// openInBrowser opens the current build's web page.
func (m *Model) openInBrowser() {
	if m.nav.View() != nav.ViewBuildDetail {
		return
	}
	build, ok := m.lister.build(m.nav.ScopeID())
	if !ok {
		return
	}
	if err := bridge.OpenBrowser(build.WebURL); err != nil {
		m.nav.SetStatus(nav.StatusError, err.Error())
		return
	}
	m.nav.SetStatus(nav.StatusInfo, fmt.Sprintf("opened #%s in browser", build.Number))
}

// viewLog fetches the build log and hands it to the pager. When the
// build has no log yet the action is disabled: state stays untouched.
func (m Model) viewLog() (tea.Model, tea.Cmd) {
	if m.nav.View() != nav.ViewBuildDetail || m.fetchingLog {
		return m, nil
	}
	build, ok := m.lister.build(m.nav.ScopeID())
	if !ok || !build.LogAvailable() {
		return m, nil
	}

	m.fetchingLog = true
	m.nav.SetStatus(nav.StatusInfo, "fetching log…")
	client := m.client
	ctx := m.ctx
	return m, func() tea.Msg {
		text, err := client.FetchLog(ctx, build.ID)
		return logMsg{build: build, text: text, err: err}
	}
}

func (m Model) handleLog(msg logMsg) (tea.Model, tea.Cmd) {
	m.fetchingLog = false
	m.nav.ClearStatus()
	if msg.err != nil {
		m.nav.SetStatus(nav.StatusError, fmt.Sprintf("fetch log: %v", msg.err))
		return m, nil
	}

	pager, err := bridge.NewPager(m.cfg.PagerCommand, msg.text)
	if err != nil {
		if errors.Is(err, bridge.ErrUnavailable) {
			m.nav.SetStatus(nav.StatusError, "log view unavailable: no pager installed")
		} else {
			m.nav.SetStatus(nav.StatusError, err.Error())
		}
		return m, nil
	}

	return m, tea.ExecProcess(pager.Cmd, func(runErr error) tea.Msg {
		return pagerDoneMsg{pager: pager, err: runErr}
	})
}

// refreshingCurrent reports whether the visible scope has a refresh in
// flight, for the "refreshing…" indicator.
func (m Model) refreshingCurrent() bool {
	switch m.nav.View() {
	case nav.ViewProjects:
		return m.refreshing[fetch.ProjectScope]
	case nav.ViewBuildConfigs:
		return m.refreshing[fetch.ConfigScope(m.nav.ScopeID())]
	case nav.ViewBuilds:
		return m.refreshing[fetch.BuildScope(m.nav.ScopeID())]
	case nav.ViewBuildDetail:
		if build, ok := m.lister.build(m.nav.ScopeID()); ok {
			return m.refreshing[fetch.BuildScope(build.BuildConfigID)]
		}
	}
	return false
}

// Messages

type fetchEventMsg fetch.Event

type fzfDoneMsg struct {
	finder *bridge.Finder
	err    error
}

type logMsg struct {
	build teamcity.Build
	text  []byte
	err   error
}

type pagerDoneMsg struct {
	pager *bridge.Pager
	err   error
}

// Commands

func waitForEvent(ctx context.Context, events <-chan fetch.Event) tea.Cmd {
	return func() tea.Msg {
		select {
		case event := <-events:
			return fetchEventMsg(event)
		case <-ctx.Done():
			return nil
		}
	}
}

// Run starts the Bubble Tea program and blocks until quit. The context
// lets a signal abort the UI immediately; in-flight fetches finish or
// time out in the background without being waited on.
func Run(opts Options) error {
	m := New(opts)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(opts.Context))
	_, err := p.Run()
	if err != nil && errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
