package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/t9s-dev/t9s/internal/cache"
	"github.com/t9s-dev/t9s/internal/teamcity"
)

// Outcome is the result of one refresh operation.
type Outcome int

const (
	Updated Outcome = iota
	Unchanged
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Updated:
		return "updated"
	case Unchanged:
		return "unchanged"
	default:
		return "failed"
	}
}

// Event reports refresh progress back to the UI. Partial build pages
// emit an Updated event per page so results appear incrementally.
type Event struct {
	Scope   string
	Kind    cache.Kind
	Outcome Outcome
	Err     error
	// Transient marks progress notes (retry in flight, page landed)
	// that should not be treated as the operation's final result.
	Transient bool
	Message   string
}

// Options tune retry behavior. Zero values use the defaults.
type Options struct {
	Attempts         int
	Backoff          time.Duration
	RateLimitBackoff time.Duration
}

const (
	defaultAttempts         = 3
	defaultBackoff          = 500 * time.Millisecond
	defaultRateLimitBackoff = 5 * time.Second
)

// Pipeline populates the cache store from the remote API. Refresh
// methods return immediately; work happens on worker goroutines and
// results arrive on Events. Requests for a scope already in flight are
// coalesced into the running operation.
type Pipeline struct {
	fetcher teamcity.Fetcher
	store   *cache.Store
	opts    Options
	events  chan Event
	now     func() time.Time

	mu       sync.Mutex
	inflight map[string]bool
}

// New builds a Pipeline over the given fetcher and store.
func New(fetcher teamcity.Fetcher, store *cache.Store, opts Options) *Pipeline {
	if opts.Attempts <= 0 {
		opts.Attempts = defaultAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.RateLimitBackoff <= 0 {
		opts.RateLimitBackoff = defaultRateLimitBackoff
	}
	return &Pipeline{
		fetcher:  fetcher,
		store:    store,
		opts:     opts,
		events:   make(chan Event, 32),
		now:      time.Now,
		inflight: make(map[string]bool),
	}
}

// Events delivers refresh results. The channel is never closed; the
// consumer stops draining when its context ends.
func (p *Pipeline) Events() <-chan Event {
	return p.events
}

// ProjectScope is the coalescing scope for the project list.
const ProjectScope = "projects"

// ConfigScope returns the coalescing scope for a project's build configs.
func ConfigScope(projectID string) string { return "configs/" + projectID }

// BuildScope returns the coalescing scope for a config's builds.
func BuildScope(buildConfigID string) string { return "builds/" + buildConfigID }

// RefreshProjects fetches the filtered project list. Returns false when
// a refresh for the project scope is already in flight.
func (p *Pipeline) RefreshProjects(ctx context.Context, filter []string) bool {
	return p.start(ctx, ProjectScope, func(ctx context.Context) Event {
		return p.refreshProjects(ctx, filter)
	})
}

// RefreshBuildConfigs fetches the build configurations of one project.
func (p *Pipeline) RefreshBuildConfigs(ctx context.Context, projectID string) bool {
	return p.start(ctx, ConfigScope(projectID), func(ctx context.Context) Event {
		return p.refreshBuildConfigs(ctx, projectID)
	})
}

// RefreshBuilds fetches the build pages of one configuration, writing
// each page to the cache as it lands.
func (p *Pipeline) RefreshBuilds(ctx context.Context, buildConfigID string) bool {
	return p.start(ctx, BuildScope(buildConfigID), func(ctx context.Context) Event {
		return p.refreshBuilds(ctx, buildConfigID)
	})
}

// start runs work on its own goroutine unless the scope is already in
// flight. The coalescing guarantee: at most one worker per scope.
func (p *Pipeline) start(ctx context.Context, scope string, work func(context.Context) Event) bool {
	p.mu.Lock()
	if p.inflight[scope] {
		p.mu.Unlock()
		return false
	}
	p.inflight[scope] = true
	p.mu.Unlock()

	go func() {
		event := work(ctx)

		p.mu.Lock()
		delete(p.inflight, scope)
		p.mu.Unlock()

		if event.Outcome != Failed {
			if err := p.store.Flush(); err != nil {
				log.Printf("fetch: flush cache: %v", err)
			}
		}
		p.emit(ctx, event)
	}()
	return true
}

func (p *Pipeline) emit(ctx context.Context, event Event) {
	select {
	case p.events <- event:
	case <-ctx.Done():
	}
}

func (p *Pipeline) refreshProjects(ctx context.Context, filter []string) Event {
	event := Event{Scope: ProjectScope, Kind: cache.KindProject}

	var projects []teamcity.Project
	err := p.withRetry(ctx, event, func(ctx context.Context) error {
		var err error
		projects, err = p.fetcher.ListProjects(ctx, filter)
		return err
	})
	if err != nil {
		return p.failure(event, err)
	}

	changed := false
	fetchedAt := p.now()
	for i, project := range projects {
		if p.putChanged(cache.KindProject, project.ID, "", i, project, fetchedAt) {
			changed = true
		}
	}
	event.Outcome = Unchanged
	if changed {
		event.Outcome = Updated
	}
	return event
}

func (p *Pipeline) refreshBuildConfigs(ctx context.Context, projectID string) Event {
	event := Event{Scope: ConfigScope(projectID), Kind: cache.KindBuildConfig}

	var configs []teamcity.BuildConfig
	err := p.withRetry(ctx, event, func(ctx context.Context) error {
		var err error
		configs, err = p.fetcher.ListBuildConfigs(ctx, projectID)
		return err
	})
	if err != nil {
		if teamcity.KindOf(err) == teamcity.ErrNotFound {
			// The project is gone upstream; drop it and its configs.
			p.pruneScope(cache.KindBuildConfig, projectID)
			p.store.Delete(cache.KindProject, projectID)
		}
		return p.failure(event, err)
	}

	changed := false
	fetchedAt := p.now()
	for i, config := range configs {
		if p.putChanged(cache.KindBuildConfig, config.ID, projectID, i, config, fetchedAt) {
			changed = true
		}
	}
	event.Outcome = Unchanged
	if changed {
		event.Outcome = Updated
	}
	return event
}

func (p *Pipeline) refreshBuilds(ctx context.Context, buildConfigID string) Event {
	event := Event{Scope: BuildScope(buildConfigID), Kind: cache.KindBuild}

	changed := false
	order := 0
	pageToken := ""
	for {
		var builds []teamcity.Build
		var next string
		err := p.withRetry(ctx, event, func(ctx context.Context) error {
			var err error
			builds, next, err = p.fetcher.ListBuilds(ctx, buildConfigID, pageToken)
			return err
		})
		if err != nil {
			if teamcity.KindOf(err) == teamcity.ErrNotFound {
				p.pruneScope(cache.KindBuild, buildConfigID)
				p.store.Delete(cache.KindBuildConfig, buildConfigID)
			}
			return p.failure(event, err)
		}

		fetchedAt := p.now()
		for _, build := range builds {
			id := strconv.FormatInt(build.ID, 10)
			if p.putChanged(cache.KindBuild, id, buildConfigID, order, build, fetchedAt) {
				changed = true
			}
			order++
		}

		if next == "" {
			break
		}
		pageToken = next

		// Make the page visible before fetching the next one.
		p.emit(ctx, Event{
			Scope:     event.Scope,
			Kind:      event.Kind,
			Outcome:   Updated,
			Transient: true,
			Message:   fmt.Sprintf("loaded %d builds…", order),
		})
	}

	event.Outcome = Unchanged
	if changed {
		event.Outcome = Updated
	}
	return event
}

// withRetry runs op, retrying transient failures with exponential
// backoff. Rate-limited responses back off from a longer base. Each
// retry surfaces a transient event so the UI can show progress.
func (p *Pipeline) withRetry(ctx context.Context, event Event, op func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.opts.Attempts; attempt++ {
		if attempt > 0 {
			base := p.opts.Backoff
			if teamcity.KindOf(lastErr) == teamcity.ErrRateLimited {
				base = p.opts.RateLimitBackoff
			}
			delay := base << (attempt - 1)
			p.emit(ctx, Event{
				Scope:     event.Scope,
				Kind:      event.Kind,
				Outcome:   Failed,
				Err:       lastErr,
				Transient: true,
				Message:   fmt.Sprintf("retrying in %s…", delay),
			})
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !teamcity.Transient(lastErr) {
			return lastErr
		}
		log.Printf("fetch: %s attempt %d: %v", event.Scope, attempt+1, lastErr)
	}
	return lastErr
}

func (p *Pipeline) failure(event Event, err error) Event {
	event.Outcome = Failed
	event.Err = err
	return event
}

// putChanged writes the entity and reports whether its serialized form
// differs from what the cache already held.
func (p *Pipeline) putChanged(kind cache.Kind, id, scope string, order int, entity any, fetchedAt time.Time) bool {
	data, err := json.Marshal(entity)
	if err != nil {
		log.Printf("fetch: encode %s %s: %v", kind, id, err)
		return false
	}
	prev, had := p.store.Get(kind, id)
	if err := p.store.Put(kind, id, scope, order, entity, fetchedAt); err != nil {
		log.Printf("fetch: store %s %s: %v", kind, id, err)
		return false
	}
	return !had || !bytes.Equal(prev.Data, data)
}

func (p *Pipeline) pruneScope(kind cache.Kind, scope string) {
	for _, id := range p.store.List(kind, scope) {
		p.store.Delete(kind, id)
	}
}
