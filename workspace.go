package lhex

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// NewWorkspace creates a uniquely named directory under baseDir (the system
// temp dir when empty). The mount point is only named here; it is created by
// EnsureMountPoint.
func NewWorkspace(baseDir, prefix string) (*Workspace, error) {
	if baseDir != "" {
		if err := os.MkdirAll(baseDir, 0700); err != nil {
			return nil, errors.Wrap(err, "cannot create workspace base")
		}
	}

	root, err := os.MkdirTemp(baseDir, prefix)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create workspace")
	}

	return &Workspace{
		Root:       root,
		MountPoint: filepath.Join(root, mountBase, mountName),
	}, nil
}

// Path returns name joined to the workspace root. Names that would land
// outside of the root are rejected.
func (w *Workspace) Path(name string) (string, error) {
	if name == "" || filepath.IsAbs(name) {
		return "", errors.Wrapf(ErrInvalidName, "%q", name)
	}

	p := filepath.Join(w.Root, name)
	rel, err := filepath.Rel(w.Root, p)
	if err != nil {
		return "", err
	}

	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", errors.Wrapf(ErrInvalidName, "%q falls outside of the workspace", name)
	}

	return p, nil
}

// EnsureMountPoint creates the mount point directory.
func (w *Workspace) EnsureMountPoint() error {
	return ensureDir(w.MountPoint, ErrMount)
}

// Mount returns the mount controller for the workspace mount point.
func (w *Workspace) Mount(runner, privileged Runner, tools MountTools) *Mount {
	return NewMount(w.MountPoint, runner, privileged, tools)
}

// Destroy unmounts the mount point if it is mounted, then removes the whole
// workspace. Removal is attempted even when the unmount fails; the unmount
// failure is what gets reported in that case. Destroy can be called any
// number of times.
func (w *Workspace) Destroy(ctx context.Context, m *Mount) error {
	var cleanupErr error

	// Close only unmounts after seeing a live mount; a mount point that was
	// never created cannot be mounted.
	if m != nil && exists(m.Target) {
		if err := m.Close(ctx); err != nil {
			cleanupErr = &KindError{Kind: ErrCleanup, Err: err}
		}
	}

	if err := os.RemoveAll(w.Root); err != nil && cleanupErr == nil {
		cleanupErr = wrapKind(ErrCleanup, err, "cannot remove %v", w.Root)
	}

	return cleanupErr
}
