package lhex

import (
	"archive/zip"
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pkg/errors"
	. "gopkg.in/check.v1"
)

func (s *lhexSuite) TestExtractMember(c *C) {
	s.runner.archives["outer.msixbundle"] = map[string]string{"inner.msix": "inner"}
	stager := NewStager(s.runner, "")
	c.Assert(stager.Tool, Equals, "bsdtar")

	out, err := stager.ExtractMember(context.Background(), filepath.Join(s.BaseDir, "outer.msixbundle"), "inner.msix", s.BaseDir)
	c.Assert(err, IsNil)
	c.Assert(out, Equals, filepath.Join(s.BaseDir, "inner.msix"))

	content, err := os.ReadFile(out)
	c.Assert(err, IsNil)
	c.Assert(string(content), Equals, "inner")
	c.Assert(s.runner.last("bsdtar").args, DeepEquals, []string{"-xf", filepath.Join(s.BaseDir, "outer.msixbundle"), "-C", s.BaseDir, "inner.msix"})
}

func (s *lhexSuite) TestExtractNestedMember(c *C) {
	s.runner.archives["inner.msix"] = map[string]string{"images/x64/vendor.img": "image"}
	stager := NewStager(s.runner, "bsdtar")

	out, err := stager.ExtractMember(context.Background(), "inner.msix", "/images/x64/vendor.img", s.BaseDir)
	c.Assert(err, IsNil)
	c.Assert(out, Equals, filepath.Join(s.BaseDir, "vendor.img"))
	c.Assert(s.runner.last("bsdtar").args, DeepEquals, []string{"-xf", "inner.msix", "-C", s.BaseDir, "--strip-components", "2", "images/x64/vendor.img"})
}

func (s *lhexSuite) TestExtractMissingMember(c *C) {
	s.runner.archives["inner.msix"] = map[string]string{}
	stager := NewStager(s.runner, "bsdtar")

	_, err := stager.ExtractMember(context.Background(), "inner.msix", "vendor.img", s.BaseDir)
	c.Assert(errors.Is(err, ErrExtract), Equals, true)
	var pe *ProcessError
	c.Assert(errors.As(err, &pe), Equals, true)
	c.Assert(pe.ExitCode, Equals, 1)
	c.Assert(exists(filepath.Join(s.BaseDir, "vendor.img")), Equals, false)

	_, err = stager.ExtractMember(context.Background(), "inner.msix", "/", s.BaseDir)
	c.Assert(errors.Is(err, ErrInvalidName), Equals, true)
}

type partialRunner struct{}

// Run writes part of the member and then fails, like an extractor hitting a
// truncated archive.
func (partialRunner) Run(ctx context.Context, name string, args ...string) (int, error) {
	os.WriteFile(filepath.Join(args[3], args[len(args)-1]), []byte("part"), 0644)
	return 1, nil
}

type silentRunner struct{}

func (silentRunner) Run(ctx context.Context, name string, args ...string) (int, error) {
	return 0, nil
}

func (s *lhexSuite) TestExtractLeavesNothingBehind(c *C) {
	_, err := NewStager(partialRunner{}, "bsdtar").ExtractMember(context.Background(), "inner.msix", "vendor.img", s.BaseDir)
	c.Assert(errors.Is(err, ErrExtract), Equals, true)
	c.Assert(exists(filepath.Join(s.BaseDir, "vendor.img")), Equals, false)

	// exit 0 without the member showing up is still a failure
	_, err = NewStager(silentRunner{}, "bsdtar").ExtractMember(context.Background(), "inner.msix", "vendor.img", s.BaseDir)
	c.Assert(err, ErrorMatches, ".*member missing after extraction")
}

func (s *lhexSuite) TestExtractWithBsdtar(c *C) {
	if _, err := exec.LookPath("bsdtar"); err != nil {
		c.Skip("bsdtar is not installed")
		return
	}

	archive := filepath.Join(s.BaseDir, "package.msix")
	f, err := os.Create(archive)
	c.Assert(err, IsNil)
	zw := zip.NewWriter(f)
	w, err := zw.Create("vendor.img")
	c.Assert(err, IsNil)
	_, err = w.Write([]byte("image bytes"))
	c.Assert(err, IsNil)
	c.Assert(zw.Close(), IsNil)
	c.Assert(f.Close(), IsNil)

	dest := filepath.Join(s.BaseDir, "out")
	c.Assert(os.Mkdir(dest, 0755), IsNil)
	stager := NewStager(&ExecRunner{}, "bsdtar")

	_, err = stager.ExtractMember(context.Background(), archive, "system.img", dest)
	c.Assert(errors.Is(err, ErrExtract), Equals, true)
	c.Assert(s.entries(c, dest), DeepEquals, []string{})

	out, err := stager.ExtractMember(context.Background(), archive, "vendor.img", dest)
	c.Assert(err, IsNil)
	content, err := os.ReadFile(out)
	c.Assert(err, IsNil)
	c.Assert(string(content), Equals, "image bytes")
}
