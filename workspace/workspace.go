// Package workspace provisions private working directories for jobs that
// declare they need one. A job's directory lives at
// <root>/<tenant>/<job id> and is removed once the job is terminal.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xraph/jobhub"
	"github.com/xraph/jobhub/id"
)

// Manager creates and removes job workspaces under one root directory.
type Manager struct {
	root string
}

// NewManager returns a manager rooted at root. The root is created lazily.
func NewManager(root string) *Manager {
	return &Manager{root: filepath.Clean(root)}
}

// Root returns the workspace root directory.
func (m *Manager) Root() string { return m.root }

// Create makes the private directory of a job and returns its path.
// Errors wrap jobhub.ErrWorkspace.
func (m *Manager) Create(tenant string, jobID id.JobID) (string, error) {
	if !validSegment(tenant) {
		return "", fmt.Errorf("%w: invalid tenant %q", jobhub.ErrWorkspace, tenant)
	}
	if jobID.IsNil() {
		return "", fmt.Errorf("%w: nil job id", jobhub.ErrWorkspace)
	}

	dir := filepath.Join(m.root, tenant, jobID.String())
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("%w: %w", jobhub.ErrWorkspace, err)
	}
	return dir, nil
}

// Remove deletes a workspace recursively. Paths outside the root are
// refused; an empty path is a no-op.
func (m *Manager) Remove(dir string) error {
	if dir == "" {
		return nil
	}
	rel, err := filepath.Rel(m.root, filepath.Clean(dir))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %q is outside %q", jobhub.ErrWorkspace, dir, m.root)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("%w: remove %q: %w", jobhub.ErrWorkspace, dir, err)
	}

	// Drop the tenant directory once its last job is gone.
	_ = os.Remove(filepath.Dir(dir))
	return nil
}

func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}
