package lhex

import (
	"context"
	"os"
	"path/filepath"

	cp "github.com/otiai10/copy"
	"golang.org/x/sync/errgroup"
)

// DefaultManifest is the houdini payload shipped in the WSA vendor image,
// relative to the image root.
var DefaultManifest = []string{
	"bin/houdini",
	"bin/houdini64",
	"bin/arm",
	"bin/arm64",
	"lib/arm",
	"lib/libhoudini.so",
	"lib64/arm64",
	"lib64/libhoudini.so",
}

// OutputDirs are created under `<output>/system` before anything is copied.
var OutputDirs = []string{"bin", "lib", "lib64"}

const systemDir = "system"

// PrepareOutput creates the system directories of the output tree.
func PrepareOutput(ctx context.Context, outputDir string) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, dir := range OutputDirs {
		p := filepath.Join(outputDir, systemDir, dir)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return wrapKind(ErrCopy, err, "cannot create %v", p)
			}
			return ensureDir(p, ErrCopy)
		})
	}

	return g.Wait()
}

// CopyManifest copies every manifest path from srcRoot to
// `<outputDir>/system/<path>`, creating parents as needed. Files copied
// before a failure are left in place.
func CopyManifest(ctx context.Context, srcRoot, outputDir string, manifest []string) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, rel := range manifest {
		rel := filepath.Clean(rel)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return wrapKind(ErrCopy, err, "skipped %v", rel)
			}
			return copyPayload(srcRoot, outputDir, rel)
		})
	}

	return g.Wait()
}

func copyPayload(srcRoot, outputDir, rel string) error {
	src := filepath.Join(srcRoot, rel)
	dest := filepath.Join(outputDir, systemDir, rel)

	if !exists(src) {
		return wrapKind(ErrCopy, os.ErrNotExist, "%v is missing from the image", rel)
	}

	if err := ensureDir(filepath.Dir(dest), ErrCopy); err != nil {
		return err
	}

	err := cp.Copy(src, dest, cp.Options{
		OnSymlink: func(string) cp.SymlinkAction { return cp.Shallow },
	})
	if err != nil {
		return wrapKind(ErrCopy, err, "failed to copy %v", rel)
	}

	return nil
}
