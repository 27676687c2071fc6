package host

import (
	"context"
	"log/slog"
	"sync"
)

// ActionHandler is the developer-supplied async handler for one action. It
// receives the explicit (io, ctx) pair primary to the ambient binding
// (spec.md §5).
type ActionHandler func(ctx context.Context, io *IOClient, rc *RunContext) (any, error)

// PageHandler returns the layout components for a page session.
type PageHandler func(ctx context.Context, io *IOClient, rc *RunContext) ([]Component, error)

// Access restricts who may invoke a route; the registry treats it as
// opaque metadata forwarded to the server, never interpreted locally.
type Access map[string]any

// Action is a leaf route: one invocable handler addressed by slug.
type Action struct {
	Slug     string
	Handler  ActionHandler
	Metadata ActionMetadata
	Access   Access
}

// Page is an interior or root route: an optional layout handler plus child
// routes, forming the page/action tree spec.md §3 describes.
type Page struct {
	Slug     string
	Name     string
	Handler  PageHandler
	Access   Access
	Children []Route
}

// Route is the tagged variant over Action and Page; exactly one of the two
// fields is non-nil.
type Route struct {
	Action *Action
	Page   *Page
}

// RouteChangeObserver is notified after the registry's flattened view
// changes, so the controller can coalesce and re-send INITIALIZE_HOST.
type RouteChangeObserver func()

// RouteRegistry flattens a nested page/action tree into slug-path-addressed
// handlers (spec.md §3). Slug-paths are '/'-joined page slugs; duplicates
// resolve last-write-wins with a logged warning, matching the source's
// documented (not fatal) handling of route collisions.
type RouteRegistry struct {
	logger *slog.Logger

	mu        sync.Mutex
	actions   map[string]*Action
	pages     map[string]*Page
	observers map[any][]RouteChangeObserver
}

// NewRouteRegistry constructs an empty registry. logger receives warnings
// for duplicate slug-paths.
func NewRouteRegistry(logger *slog.Logger) *RouteRegistry {
	return &RouteRegistry{
		logger:    logger,
		actions:   make(map[string]*Action),
		pages:     make(map[string]*Page),
		observers: make(map[any][]RouteChangeObserver),
	}
}

// SetRoutes replaces the registry's tree and flattens it. It fires every
// attached observer exactly once, after the new flat maps are installed.
func (r *RouteRegistry) SetRoutes(routes []Route) {
	actions := make(map[string]*Action)
	pages := make(map[string]*Page)
	r.flatten(routes, "", actions, pages)

	r.mu.Lock()
	r.actions = actions
	r.pages = pages
	var fire []RouteChangeObserver
	for _, obs := range r.observers {
		fire = append(fire, obs...)
	}
	r.mu.Unlock()

	for _, obs := range fire {
		obs()
	}
}

func (r *RouteRegistry) flatten(routes []Route, prefix string, actions map[string]*Action, pages map[string]*Page) {
	for _, route := range routes {
		switch {
		case route.Action != nil:
			a := route.Action
			path := joinSlugPath(prefix, a.Slug)
			if _, exists := actions[path]; exists && r.logger != nil {
				r.logger.Warn("duplicate action slug-path, last write wins", "path", path)
			}
			actions[path] = a
		case route.Page != nil:
			p := route.Page
			path := joinSlugPath(prefix, p.Slug)
			if p.Handler != nil {
				if _, exists := pages[path]; exists && r.logger != nil {
					r.logger.Warn("duplicate page slug-path, last write wins", "path", path)
				}
				pages[path] = p
			}
			r.flatten(p.Children, path, actions, pages)
		}
	}
}

func joinSlugPath(prefix, slug string) string {
	if prefix == "" {
		return slug
	}
	return prefix + "/" + slug
}

// Action looks up a flattened action by its full slug-path.
func (r *RouteRegistry) Action(path string) (*Action, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actions[path]
	return a, ok
}

// Page looks up a flattened page handler by its full slug-path.
func (r *RouteRegistry) Page(path string) (*Page, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pages[path]
	return p, ok
}

// ActionMetadataList returns the metadata for every registered action, used
// to build INITIALIZE_HOST.
func (r *RouteRegistry) ActionMetadataList() []ActionMetadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ActionMetadata, 0, len(r.actions))
	for path, a := range r.actions {
		md := a.Metadata
		md.Slug = path
		out = append(out, md)
	}
	return out
}

// PageMetadataList returns the metadata for every registered page.
func (r *RouteRegistry) PageMetadataList() []PageMetadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PageMetadata, 0, len(r.pages))
	for path, p := range r.pages {
		out = append(out, PageMetadata{Slug: path, Name: p.Name, HasIndex: p.Handler != nil})
	}
	return out
}

// Observe attaches obs, keyed by an opaque token so a caller can later
// detach every observer it registered in one call (spec.md §9's "batch
// detach on route removal").
func (r *RouteRegistry) Observe(token any, obs RouteChangeObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers[token] = append(r.observers[token], obs)
}

// Unobserve detaches every observer registered under token.
func (r *RouteRegistry) Unobserve(token any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.observers, token)
}
