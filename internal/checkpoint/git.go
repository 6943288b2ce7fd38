package checkpoint

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/joescharf/parley/internal/models"
)

const refNamespace = "refs/parley/checkpoints"

// GitGateway records and restores checkpoints for session working trees.
// Restore stashes uncommitted changes instead of discarding them, and a
// restore in flight causes a concurrent restore for the same session to fail
// with ErrBusy.
type GitGateway struct {
	run     Runner
	resolve func(sessionID string) (string, bool)

	mu        sync.Mutex
	restoring map[string]bool
}

// NewGitGateway creates a gateway. The resolver maps a session id to its
// working directory and is typically the registry's WorkingDir method; it may
// be set after construction to break the wiring cycle.
func NewGitGateway(run Runner, resolve func(string) (string, bool)) *GitGateway {
	return &GitGateway{
		run:       run,
		resolve:   resolve,
		restoring: make(map[string]bool),
	}
}

// SetResolver installs the session-to-directory resolver.
func (g *GitGateway) SetResolver(resolve func(string) (string, bool)) {
	g.resolve = resolve
}

func (g *GitGateway) dir(sessionID string) (string, error) {
	if g.resolve == nil {
		return "", fmt.Errorf("session %s: no working directory resolver", sessionID)
	}
	dir, ok := g.resolve(sessionID)
	if !ok || dir == "" {
		return "", fmt.Errorf("session %s: %w", sessionID, models.ErrNotFound)
	}
	return dir, nil
}

func (g *GitGateway) isRepo(ctx context.Context, dir string) bool {
	out, err := g.run.Run(ctx, dir, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

func sessionRefPrefix(sessionID string) string {
	return refNamespace + "/" + sessionID
}

// Status reports whether the session's working directory is a git repository.
// It never fails; any internal error reads as "not a repo".
func (g *GitGateway) Status(ctx context.Context, sessionID string) models.CheckpointStatus {
	dir, err := g.dir(sessionID)
	if err != nil {
		return models.CheckpointStatus{}
	}
	return models.CheckpointStatus{IsGitRepo: g.isRepo(ctx, dir)}
}

// Create snapshots the current working-tree state as a commit under the
// session's ref namespace and returns its hash. The working branch, index,
// and tree are left untouched. In a non-repo directory it is a no-op.
func (g *GitGateway) Create(ctx context.Context, sessionID, message string) (string, error) {
	dir, err := g.dir(sessionID)
	if err != nil {
		return "", err
	}
	if !g.isRepo(ctx, dir) {
		return "", nil
	}
	if message == "" {
		message = "checkpoint"
	}

	// A dirty tree is captured without touching the index via stash-create;
	// a clean tree still gets a fresh commit so checkpoints order by time.
	hash, err := g.run.Run(ctx, dir, "stash", "create", message)
	if err != nil {
		return "", fmt.Errorf("create checkpoint: %w", err)
	}
	if hash == "" {
		hash, err = g.run.Run(ctx, dir, "commit-tree", "HEAD^{tree}", "-p", "HEAD", "-m", message)
		if err != nil {
			return "", fmt.Errorf("create checkpoint: %w", err)
		}
	}

	ref := sessionRefPrefix(sessionID) + "/" + hash
	if _, err := g.run.Run(ctx, dir, "update-ref", ref, hash); err != nil {
		return "", fmt.Errorf("record checkpoint ref: %w", err)
	}
	return hash, nil
}

// List returns the session's checkpoints, newest first. A non-repo directory
// or a session with no checkpoints yields an empty list.
func (g *GitGateway) List(ctx context.Context, sessionID string) ([]models.Checkpoint, error) {
	dir, err := g.dir(sessionID)
	if err != nil {
		return nil, nil
	}
	out, err := g.run.Run(ctx, dir,
		"for-each-ref",
		"--sort=-committerdate",
		"--format=%(objectname)%09%(committerdate:iso-strict)%09%(authorname)%09%(subject)",
		sessionRefPrefix(sessionID),
	)
	if err != nil || out == "" {
		return nil, nil
	}
	return ParseCheckpointRefs(out), nil
}

// ParseCheckpointRefs parses the tab-separated for-each-ref output into
// checkpoints, skipping malformed lines.
func ParseCheckpointRefs(output string) []models.Checkpoint {
	var cps []models.Checkpoint
	for _, line := range strings.Split(output, "\n") {
		fields := strings.SplitN(line, "\t", 4)
		if len(fields) != 4 || fields[0] == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, fields[1])
		if err != nil {
			continue
		}
		cps = append(cps, models.Checkpoint{
			Hash:      fields[0],
			Timestamp: ts,
			Author:    fields[2],
			Message:   fields[3],
		})
	}
	return cps
}

// Restore resets the session's working tree to the given checkpoint. Any
// uncommitted changes are stashed first, and checkpoint history remains
// intact afterward. An unknown hash or a failing git operation yields
// ErrRestoreFailed; a restore already in flight for the session yields
// ErrBusy.
func (g *GitGateway) Restore(ctx context.Context, sessionID, hash string) error {
	dir, err := g.dir(sessionID)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrRestoreFailed, err)
	}

	g.mu.Lock()
	if g.restoring[sessionID] {
		g.mu.Unlock()
		return fmt.Errorf("restore for session %s: %w", sessionID, models.ErrBusy)
	}
	g.restoring[sessionID] = true
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.restoring, sessionID)
		g.mu.Unlock()
	}()

	if _, err := g.run.Run(ctx, dir, "rev-parse", "--verify", hash+"^{commit}"); err != nil {
		return fmt.Errorf("%w: unknown checkpoint %s", models.ErrRestoreFailed, hash)
	}

	// Preserve uncommitted work. Exits zero with no stash entry when the
	// tree is already clean.
	if _, err := g.run.Run(ctx, dir, "stash", "push", "--include-untracked", "-m", "parley: pre-restore "+hash); err != nil {
		return fmt.Errorf("%w: stash uncommitted changes: %v", models.ErrRestoreFailed, err)
	}

	if _, err := g.run.Run(ctx, dir, "restore", "--source="+hash, "--worktree", "--staged", "--", "."); err != nil {
		return fmt.Errorf("%w: %v", models.ErrRestoreFailed, err)
	}
	return nil
}
