// Package lhex - fetch the Windows Subsystem for Android package and pull
// libhoudini out of it
//
// lhex downloads the WSA msixbundle, verifies it against the checksum
// published by the listing it was found on, unpacks the nested msix, loop
// mounts the vendor image inside of it and copies the houdini binaries and
// libraries into an Android-style `system/` tree.
//
// The mount and the temporary directory are the only shared resources; see
// Workspace and Mount for the rules around them. The lhex/ directory holds
// the command line tool.
//
package lhex

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNetwork is returned when fetching the listing or the package fails.
	ErrNetwork = errors.New("network error")

	// ErrIntegrity is returned when the downloaded package cannot be read or
	// does not match its published checksum.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrExtract is returned when a member cannot be pulled out of an archive.
	ErrExtract = errors.New("extract failed")

	// ErrMount returns an underlying error when a mount or unmount has failed.
	ErrMount = errors.New("mount failed")

	// ErrPermission is returned when the mounted tree cannot be made readable.
	ErrPermission = errors.New("permission change failed")

	// ErrCopy is returned when a payload file cannot be copied out of the image.
	ErrCopy = errors.New("copy failed")

	// ErrCleanup is returned when the workspace could not be torn down.
	ErrCleanup = errors.New("cleanup failed")

	// ErrNotFound is returned when no package entry could be resolved.
	ErrNotFound = errors.New("package not found")

	// ErrChecksumMismatch is the detail of an ErrIntegrity failure where the
	// file was read fine but hashed to something else.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrAlreadyMounted is returned when mounting over a live mount point.
	ErrAlreadyMounted = errors.New("already mounted")

	// ErrNotMounted is returned when an operation needs a live mount.
	ErrNotMounted = errors.New("not mounted")

	// ErrEmptyBody is returned when the server answers without content.
	ErrEmptyBody = errors.New("server returned no body")

	// ErrInvalidName is returned for file names that would escape the workspace.
	ErrInvalidName = errors.New("invalid file name")
)

const (
	mountBase = "mnt"
	mountName = "lhex"
)

// KindError ties a failure to one of the error kinds above while keeping the
// underlying cause reachable. errors.Is matches both the kind and anything in
// the cause chain.
type KindError struct {
	Kind error
	Err  error
}

func (e *KindError) Error() string {
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *KindError) Unwrap() error { return e.Err }

// Is reports whether target is the kind of this error.
func (e *KindError) Is(target error) bool { return target == e.Kind }

func wrapKind(kind, err error, format string, args ...interface{}) error {
	return &KindError{Kind: kind, Err: errors.Wrapf(err, format, args...)}
}

// PackageMetadata describes one downloadable package as published by the
// listing. It is never modified after being resolved.
type PackageMetadata struct {
	URL      string
	Filename string
	Checksum string
	Version  string
}

// Workspace is the temporary root the pipeline works in, and the mount point
// nested below it:
//
//     lhex-123456/
//        WsaPackage.msixbundle
//        WsaPackage_<version>_x64_Release-Nightly.msix
//        vendor.img
//        mnt/
//          lhex/   <- mount point
//
// The mount point is created right before mounting and is only ever removed
// together with the root, by Destroy.
type Workspace struct {
	Root       string
	MountPoint string
}

// Mount is a loop mount of a disk image over Target. It keeps no record of
// whether it is mounted; every transition asks the OS first.
type Mount struct {
	Target string

	runner     Runner
	privileged Runner
	tools      MountTools
}
