// Package checkpoint implements the git-backed checkpoint gateway. Each
// checkpoint is a real git commit object recorded under a session-scoped ref
// namespace, so the working branch and index are never touched when one is
// created, and history stays navigable after a restore.
package checkpoint

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes git commands in a directory. Split out as an interface so
// the gateway is testable without a real repository.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// GitRunner implements Runner using the real git binary.
type GitRunner struct{}

// NewRunner returns a GitRunner.
func NewRunner() *GitRunner {
	return &GitRunner{}
}

// Run executes `git -C dir args...` and returns trimmed stdout.
func (r *GitRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", dir}, args...)
	out, err := exec.CommandContext(ctx, "git", fullArgs...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}
