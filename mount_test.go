package lhex

import (
	"context"

	"github.com/pkg/errors"
	. "gopkg.in/check.v1"
)

func (s *lhexSuite) TestMountOpenClose(c *C) {
	ctx := context.Background()
	m := NewMount("/mnt/lhex", s.runner, nil, DefaultMountTools)

	mounted, err := m.Mounted(ctx)
	c.Assert(err, IsNil)
	c.Assert(mounted, Equals, false)

	c.Assert(m.Open(ctx, "/tmp/vendor.img"), IsNil)
	c.Assert(s.runner.count("mount"), Equals, 1)
	c.Assert(s.runner.last("mount").args, DeepEquals, []string{"-o", "loop,rw", "/tmp/vendor.img", "/mnt/lhex"})

	mounted, err = m.Mounted(ctx)
	c.Assert(err, IsNil)
	c.Assert(mounted, Equals, true)

	c.Assert(m.Close(ctx), IsNil)
	c.Assert(s.runner.count("umount"), Equals, 1)
	c.Assert(s.runner.last("umount").args, DeepEquals, []string{"/mnt/lhex"})

	// a second close finds nothing mounted
	c.Assert(m.Close(ctx), IsNil)
	c.Assert(s.runner.count("umount"), Equals, 1)
}

func (s *lhexSuite) TestMountTwice(c *C) {
	ctx := context.Background()
	m := NewMount("/mnt/lhex", s.runner, nil, DefaultMountTools)

	c.Assert(m.Open(ctx, "vendor.img"), IsNil)
	err := m.Open(ctx, "vendor.img")
	c.Assert(errors.Is(err, ErrMount), Equals, true)
	c.Assert(errors.Is(err, ErrAlreadyMounted), Equals, true)
	c.Assert(s.runner.count("mount"), Equals, 1)

	// something else unmounted it; the controller must notice
	delete(s.runner.mounted, "/mnt/lhex")
	c.Assert(m.Open(ctx, "vendor.img"), IsNil)
	c.Assert(s.runner.count("mount"), Equals, 2)
}

func (s *lhexSuite) TestMountQueriesEveryTime(c *C) {
	ctx := context.Background()
	m := NewMount("/mnt/lhex", s.runner, nil, DefaultMountTools)

	c.Assert(m.Open(ctx, "vendor.img"), IsNil)
	c.Assert(m.Chmod(ctx, 0777), IsNil)
	c.Assert(m.Close(ctx), IsNil)
	c.Assert(s.runner.count("mountpoint"), Equals, 3)
}

func (s *lhexSuite) TestMountFailures(c *C) {
	ctx := context.Background()
	m := NewMount("/mnt/lhex", s.runner, nil, DefaultMountTools)

	s.runner.exit["mount"] = 32
	err := m.Open(ctx, "vendor.img")
	c.Assert(errors.Is(err, ErrMount), Equals, true)
	var pe *ProcessError
	c.Assert(errors.As(err, &pe), Equals, true)
	c.Assert(pe.ExitCode, Equals, 32)
	c.Assert(s.runner.mounted["/mnt/lhex"], Equals, false)

	s.runner.startErr["mountpoint"] = errors.New("exec: mountpoint: not found")
	_, err = m.Mounted(ctx)
	c.Assert(errors.Is(err, ErrMount), Equals, true)
	c.Assert(errors.Is(m.Open(ctx, "vendor.img"), ErrMount), Equals, true)
	c.Assert(errors.Is(m.Close(ctx), ErrMount), Equals, true)
	c.Assert(s.runner.count("mount"), Equals, 1)
}

func (s *lhexSuite) TestMountQueryExitsNonZero(c *C) {
	ctx := context.Background()
	m := NewMount("/mnt/lhex", s.runner, nil, DefaultMountTools)

	s.runner.exit["mountpoint"] = 1
	_, err := m.Mounted(ctx)
	c.Assert(errors.Is(err, ErrMount), Equals, true)
	var pe *ProcessError
	c.Assert(errors.As(err, &pe), Equals, true)
	c.Assert(pe.ExitCode, Equals, 1)

	c.Assert(errors.Is(m.Open(ctx, "vendor.img"), ErrMount), Equals, true)
	c.Assert(s.runner.count("mount"), Equals, 0)

	delete(s.runner.exit, "mountpoint")
	c.Assert(m.Open(ctx, "vendor.img"), IsNil)
	c.Assert(s.runner.count("mount"), Equals, 1)
}

func (s *lhexSuite) TestMountUnmountFails(c *C) {
	ctx := context.Background()
	m := NewMount("/mnt/lhex", s.runner, nil, DefaultMountTools)

	c.Assert(m.Open(ctx, "vendor.img"), IsNil)
	s.runner.exit["umount"] = 1
	c.Assert(errors.Is(m.Close(ctx), ErrMount), Equals, true)

	mounted, err := m.Mounted(ctx)
	c.Assert(err, IsNil)
	c.Assert(mounted, Equals, true)
}

func (s *lhexSuite) TestMountChmod(c *C) {
	ctx := context.Background()
	m := NewMount("/mnt/lhex", s.runner, nil, DefaultMountTools)

	err := m.Chmod(ctx, 0777)
	c.Assert(errors.Is(err, ErrPermission), Equals, true)
	c.Assert(errors.Is(err, ErrNotMounted), Equals, true)
	c.Assert(s.runner.count("chmod"), Equals, 0)

	c.Assert(m.Open(ctx, "vendor.img"), IsNil)
	c.Assert(m.Chmod(ctx, 0755), IsNil)
	c.Assert(s.runner.last("chmod").args, DeepEquals, []string{"-R", "755", "/mnt/lhex"})

	s.runner.exit["chmod"] = 1
	err = m.Chmod(ctx, 0777)
	c.Assert(errors.Is(err, ErrPermission), Equals, true)

	mounted, err := m.Mounted(ctx)
	c.Assert(err, IsNil)
	c.Assert(mounted, Equals, true)
}

func (s *lhexSuite) TestMountPrivileged(c *C) {
	ctx := context.Background()
	sudo := &privilegedRunner{runner: s.runner, escalate: []string{"sudo"}}
	m := NewMount("/mnt/lhex", s.runner, sudo, DefaultMountTools)

	// status queries never escalate
	_, err := m.Mounted(ctx)
	c.Assert(err, IsNil)
	c.Assert(s.runner.count("sudo"), Equals, 0)

	c.Assert(m.Open(ctx, "vendor.img"), IsNil)
	c.Assert(s.runner.last("sudo").args, DeepEquals, []string{"mount", "-o", "loop,rw", "vendor.img", "/mnt/lhex"})
}
