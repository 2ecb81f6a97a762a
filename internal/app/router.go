package app

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/voicelearn/internal/library"
	"github.com/MrWong99/voicelearn/internal/screen"
)

// View is one of the application's screens.
type View int

const (
	ViewHome View = iota
	ViewReader
	ViewSolver
	ViewSearch
)

func (v View) String() string {
	switch v {
	case ViewHome:
		return "home"
	case ViewReader:
		return "reader"
	case ViewSolver:
		return "solver"
	case ViewSearch:
		return "search"
	}
	return "unknown"
}

// ParseView returns the view with the given name.
func ParseView(name string) (View, error) {
	for v := ViewHome; v <= ViewSearch; v++ {
		if v.String() == name {
			return v, nil
		}
	}
	return 0, fmt.Errorf("app: unknown view %q", name)
}

// Builder creates the state behind a view. Home has none and yields a nil
// screen.
type Builder interface {
	Build(view View, item *library.Item) (screen.Screen, error)
}

// Router tracks the visible view and the selected library item. Exactly one
// screen is open at a time; navigating away closes it, which releases its
// microphone and playback timeline. All methods are safe for concurrent use.
type Router struct {
	builder Builder

	mu      sync.Mutex
	view    View
	item    *library.Item
	current screen.Screen
}

// NewRouter starts at Home.
func NewRouter(b Builder) *Router {
	return &Router{builder: b}
}

// View returns the visible view.
func (r *Router) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view
}

// Item returns the selected library item, if any.
func (r *Router) Item() (library.Item, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.item == nil {
		return library.Item{}, false
	}
	return *r.item, true
}

// Current returns the open screen, or nil on Home.
func (r *Router) Current() screen.Screen {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Navigate shows view. A non-nil item becomes the selected item; a nil item
// keeps the previous selection. The reader requires a selected item. The
// old screen is closed before the new one is built; if building fails the
// router falls back to Home.
func (r *Router) Navigate(view View, item *library.Item) (screen.Screen, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if item != nil {
		it := *item
		r.item = &it
	}
	if view == ViewReader && r.item == nil {
		return r.current, fmt.Errorf("app: navigate to %s: no item selected", view)
	}

	r.closeLocked()
	s, err := r.builder.Build(view, r.item)
	if err != nil {
		r.view = ViewHome
		return nil, fmt.Errorf("app: open %s: %w", view, err)
	}
	from := r.view
	r.view = view
	r.current = s
	slog.Debug("app: navigated", "from", from, "to", view)
	return s, nil
}

// Back leaves the current view. The solver returns to the reader when an
// item is selected and to Home otherwise; every other view returns to Home.
func (r *Router) Back() (View, screen.Screen, error) {
	r.mu.Lock()
	target := ViewHome
	if r.view == ViewSolver && r.item != nil {
		target = ViewReader
	}
	r.mu.Unlock()

	s, err := r.Navigate(target, nil)
	return target, s, err
}

// Close closes the open screen and returns to Home.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked()
	r.view = ViewHome
}

func (r *Router) closeLocked() {
	if r.current != nil {
		r.current.Close()
		r.current = nil
	}
}

// ── Typed accessors ──

// Reader returns the open reader, if the reader is visible.
func (r *Router) Reader() (*screen.Reader, bool) {
	s, ok := r.Current().(*screen.Reader)
	return s, ok
}

// Solver returns the open doubt solver, if it is visible.
func (r *Router) Solver() (*screen.Solver, bool) {
	s, ok := r.Current().(*screen.Solver)
	return s, ok
}

// Search returns the open search screen, if it is visible.
func (r *Router) Search() (*screen.Search, bool) {
	s, ok := r.Current().(*screen.Search)
	return s, ok
}
