// Package permission arbitrates outstanding tool-permission requests for one
// session. The arbiter holds no durable state; allow-always decisions are
// delegated to an injected policy store.
package permission

import (
	"context"
	"fmt"
	"sync"

	"github.com/joescharf/parley/internal/models"
)

// PolicyStore persists durable allow-always rules keyed by tool name.
type PolicyStore interface {
	IsAllowed(ctx context.Context, tool string) (bool, error)
	AllowAlways(ctx context.Context, tool string) error
}

// Decision is the outcome of a resolved permission request.
type Decision struct {
	Request models.PermissionRequest
	Allowed bool
}

// Arbiter tracks the outstanding permission requests of a single session and
// resolves each exactly once.
type Arbiter struct {
	mu          sync.Mutex
	outstanding map[string]models.PermissionRequest
	resolved    map[string]bool
	policy      PolicyStore
}

// NewArbiter creates an arbiter. The policy store may be nil, in which case
// no requests auto-resolve and allow-always decisions are not persisted.
func NewArbiter(policy PolicyStore) *Arbiter {
	return &Arbiter{
		outstanding: make(map[string]models.PermissionRequest),
		resolved:    make(map[string]bool),
		policy:      policy,
	}
}

// Add registers a new outstanding request.
func (a *Arbiter) Add(req models.PermissionRequest) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outstanding[req.ID] = req
}

// Get returns the outstanding request with the given id, if any.
func (a *Arbiter) Get(id string) (models.PermissionRequest, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	req, ok := a.outstanding[id]
	return req, ok
}

// Outstanding returns the ids of all unresolved requests.
func (a *Arbiter) Outstanding() []models.PermissionRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	reqs := make([]models.PermissionRequest, 0, len(a.outstanding))
	for _, req := range a.outstanding {
		reqs = append(reqs, req)
	}
	return reqs
}

// Reset drops all outstanding and resolved request tracking. Called when the
// owning conversation is replaced wholesale; without it the resolved set
// grows for the life of the session. Stale request ids resolve to ErrNotFound
// afterwards.
func (a *Arbiter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outstanding = make(map[string]models.PermissionRequest)
	a.resolved = make(map[string]bool)
}

// AutoAllowed reports whether a durable rule already authorizes the tool, so
// the request can be granted without prompting.
func (a *Arbiter) AutoAllowed(ctx context.Context, tool string) bool {
	if a.policy == nil {
		return false
	}
	allowed, err := a.policy.IsAllowed(ctx, tool)
	return err == nil && allowed
}

// Resolve settles an outstanding request. It fails with ErrNotFound for an
// unknown id and ErrAlreadyResolved for a duplicate response. When allowed
// with alwaysAllow, a durable rule is persisted for the tool.
func (a *Arbiter) Resolve(ctx context.Context, id string, allowed, alwaysAllow bool) (Decision, error) {
	a.mu.Lock()
	req, ok := a.outstanding[id]
	if !ok {
		wasResolved := a.resolved[id]
		a.mu.Unlock()
		if wasResolved {
			return Decision{}, fmt.Errorf("permission request %s: %w", id, models.ErrAlreadyResolved)
		}
		return Decision{}, fmt.Errorf("permission request %s: %w", id, models.ErrNotFound)
	}
	delete(a.outstanding, id)
	a.resolved[id] = true
	a.mu.Unlock()

	if allowed && alwaysAllow && a.policy != nil {
		if err := a.policy.AllowAlways(ctx, req.Tool); err != nil {
			// The request is still resolved; the durable rule is best-effort.
			return Decision{Request: req, Allowed: allowed}, fmt.Errorf("persist allow-always rule for %s: %w", req.Tool, err)
		}
	}
	return Decision{Request: req, Allowed: allowed}, nil
}
