package lhex

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Stager pulls single members out of archives with an external extractor
// that understands `-xf <archive> -C <dir> <member>` (bsdtar, which also
// reads the zip based msix formats).
type Stager struct {
	Runner Runner
	Tool   string
}

// NewStager returns a *Stager using tool, `bsdtar` when empty.
func NewStager(r Runner, tool string) *Stager {
	if tool == "" {
		tool = "bsdtar"
	}

	return &Stager{Runner: r, Tool: tool}
}

// ExtractMember extracts member from archive into destDir and returns the
// path of the extracted file, which keeps the member's base name. Nothing is
// left behind when extraction fails.
func (s *Stager) ExtractMember(ctx context.Context, archive, member, destDir string) (string, error) {
	member = strings.TrimPrefix(path.Clean("/"+member), "/")
	if member == "" {
		return "", wrapKind(ErrExtract, ErrInvalidName, "empty member name in %v", archive)
	}

	target := filepath.Join(destDir, path.Base(member))
	preexisting := exists(target)

	args := []string{"-xf", archive, "-C", destDir}
	if depth := strings.Count(member, "/"); depth > 0 {
		args = append(args, "--strip-components", strconv.Itoa(depth))
	}
	args = append(args, member)

	fail := func(err error) (string, error) {
		if !preexisting {
			os.RemoveAll(target)
		}
		return "", wrapKind(ErrExtract, err, "cannot extract %v from %v", member, archive)
	}

	if err := RunOk(ctx, s.Runner, s.Tool, args...); err != nil {
		return fail(err)
	}

	if !exists(target) {
		return fail(errors.New("member missing after extraction"))
	}

	return target, nil
}
