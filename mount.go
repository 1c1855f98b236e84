package lhex

import (
	"context"
	"fmt"
	"os"
)

// MountTools names the executables the mount controller shells out to.
type MountTools struct {
	Mountpoint string
	Mount      string
	Umount     string
	Chmod      string
}

// DefaultMountTools are the util-linux and coreutils tools found on any
// Linux host.
var DefaultMountTools = MountTools{
	Mountpoint: "mountpoint",
	Mount:      "mount",
	Umount:     "umount",
	Chmod:      "chmod",
}

// NewMount returns a controller for target. Status queries go through
// runner; mount, chmod and umount go through privileged.
func NewMount(target string, runner, privileged Runner, tools MountTools) *Mount {
	if privileged == nil {
		privileged = runner
	}

	return &Mount{
		Target:     target,
		runner:     runner,
		privileged: privileged,
		tools:      tools,
	}
}

// mountpoint(1) exits 32 for a path that is not a mount point; any other
// non-zero exit means the query itself failed.
const exitNotMountpoint = 32

// Mounted asks the OS whether Target is a mount point right now. A failure to
// ask at all is an error.
func (m *Mount) Mounted(ctx context.Context) (bool, error) {
	args := []string{"-q", m.Target}
	code, err := m.runner.Run(ctx, m.tools.Mountpoint, args...)
	if err != nil {
		return false, wrapKind(ErrMount, err, "cannot query mount state of %v", m.Target)
	}

	switch code {
	case 0:
		return true, nil
	case exitNotMountpoint:
		return false, nil
	}

	pe := &ProcessError{Command: m.tools.Mountpoint, Args: args, ExitCode: code}
	return false, wrapKind(ErrMount, pe, "cannot query mount state of %v", m.Target)
}

// Open loop mounts image read-write over Target. It refuses to mount over a
// live mount point.
func (m *Mount) Open(ctx context.Context, image string) error {
	mounted, err := m.Mounted(ctx)
	if err != nil {
		return err
	}

	if mounted {
		return wrapKind(ErrMount, ErrAlreadyMounted, "%v", m.Target)
	}

	if err := RunOk(ctx, m.privileged, m.tools.Mount, "-o", "loop,rw", image, m.Target); err != nil {
		return wrapKind(ErrMount, err, "cannot mount %v to %v", image, m.Target)
	}

	return nil
}

// Chmod recursively applies mode to the mounted tree so that the payload can
// be read without privileges.
func (m *Mount) Chmod(ctx context.Context, mode os.FileMode) error {
	mounted, err := m.Mounted(ctx)
	if err != nil {
		return err
	}

	if !mounted {
		return wrapKind(ErrPermission, ErrNotMounted, "%v", m.Target)
	}

	if err := RunOk(ctx, m.privileged, m.tools.Chmod, "-R", fmt.Sprintf("%o", mode.Perm()), m.Target); err != nil {
		return wrapKind(ErrPermission, err, "cannot chmod %v", m.Target)
	}

	return nil
}

// Close unmounts Target. Closing something that is not mounted is not an
// error, so Close can safely be retried.
func (m *Mount) Close(ctx context.Context) error {
	mounted, err := m.Mounted(ctx)
	if err != nil {
		return err
	}

	if !mounted {
		return nil
	}

	if err := RunOk(ctx, m.privileged, m.tools.Umount, m.Target); err != nil {
		return wrapKind(ErrMount, err, "cannot unmount %v", m.Target)
	}

	return nil
}
