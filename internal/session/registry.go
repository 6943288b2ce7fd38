package session

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/joescharf/parley/internal/models"
	"github.com/joescharf/parley/internal/permission"
	"github.com/joescharf/parley/internal/stream"
)

// Deps holds the collaborators shared by every controller a registry creates.
type Deps struct {
	Checkpoints CheckpointGateway
	Archives    ArchiveGateway
	Policy      permission.PolicyStore
	Responder   PermissionResponder
	Source      stream.Source
	Logger      *slog.Logger
}

// Registry owns the set of open sessions and their lifecycle, and routes
// inbound backend events to the controller matching the event's session id.
// Construct one registry per running process.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Controller
	order    []string
	current  string
	deps     Deps
}

// NewRegistry creates an empty registry.
func NewRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*Controller),
		deps:     deps,
	}
}

// CreateOptions configures a new session.
type CreateOptions struct {
	Name       string
	WorkingDir string
	Model      models.Model
}

// Create opens a new session and selects it as current.
func (r *Registry) Create(opts CreateOptions) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := newULID()
	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("Session %d", len(r.order)+1)
	}
	c := NewController(Config{
		ID:          id,
		Name:        name,
		WorkingDir:  opts.WorkingDir,
		Model:       opts.Model,
		Checkpoints: r.deps.Checkpoints,
		Archives:    r.deps.Archives,
		Policy:      r.deps.Policy,
		Responder:   r.deps.Responder,
		Source:      r.deps.Source,
		Logger:      r.deps.Logger,
	})
	r.sessions[id] = c
	r.order = append(r.order, id)
	r.current = id
	r.deps.Logger.Info("session created",
		slog.String("session_id", id),
		slog.String("name", name),
		slog.String("working_dir", opts.WorkingDir),
	)
	return c
}

// Get returns the controller for a session id.
func (r *Registry) Get(id string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.sessions[id]
	return c, ok
}

// Select makes the given session current.
func (r *Registry) Select(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return fmt.Errorf("session %s: %w", id, models.ErrNotFound)
	}
	r.current = id
	return nil
}

// Current returns the currently selected session, if any.
func (r *Registry) Current() (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.sessions[r.current]
	return c, ok
}

// Close stops any in-flight generation and removes the session. Events that
// later reference the closed id are dropped by Route.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	c, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("session %s: %w", id, models.ErrNotFound)
	}
	delete(r.sessions, id)
	for i, sid := range r.order {
		if sid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.current == id {
		r.current = ""
		if len(r.order) > 0 {
			r.current = r.order[len(r.order)-1]
		}
	}
	r.mu.Unlock()

	c.StopProcess()
	r.deps.Logger.Info("session closed", slog.String("session_id", id))
	return nil
}

// List returns snapshots of all open sessions in creation order.
func (r *Registry) List() []models.Session {
	r.mu.RLock()
	controllers := make([]*Controller, 0, len(r.order))
	for _, id := range r.order {
		if c, ok := r.sessions[id]; ok {
			controllers = append(controllers, c)
		}
	}
	r.mu.RUnlock()

	out := make([]models.Session, len(controllers))
	for i, c := range controllers {
		out[i] = c.Snapshot()
	}
	return out
}

// Route delivers a backend event to its session. Events for unknown or closed
// sessions are logged and dropped, never fatal.
func (r *Registry) Route(ev stream.Event) {
	r.mu.RLock()
	c, ok := r.sessions[ev.SessionID()]
	r.mu.RUnlock()
	if !ok {
		r.deps.Logger.Warn("dropping event for unknown session",
			slog.String("session_id", ev.SessionID()),
			slog.String("event", fmt.Sprintf("%T", ev)),
		)
		return
	}
	c.HandleEvent(ev)
}

// WorkingDir resolves a session id to its working directory, for gateways
// that operate on the session's tree.
func (r *Registry) WorkingDir(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.sessions[id]
	if !ok {
		return "", false
	}
	return c.workingDir, true
}
