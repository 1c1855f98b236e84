package lhex

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Stages of the pipeline, as reported in PipelineError.
const (
	StageConfig    = "config"
	StageResolve   = "resolve"
	StageWorkspace = "workspace"
	StageDownload  = "download"
	StageVerify    = "verify"
	StageExtract   = "extract"
	StageMount     = "mount"
	StageChmod     = "chmod"
	StageCopy      = "copy"
	StageCleanup   = "cleanup"
)

// Resolver finds the package to download.
type Resolver interface {
	Resolve(ctx context.Context) (*PackageMetadata, error)
}

// PipelineError names the stage that failed. Cleanup is set when tearing
// down the workspace failed too; it never replaces Err.
type PipelineError struct {
	Stage   string
	Err     error
	Cleanup error
}

func (e *PipelineError) Error() string {
	if e.Cleanup != nil {
		return fmt.Sprintf("%s: %v (cleanup: %v)", e.Stage, e.Err, e.Cleanup)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

// Unwrap returns the error of the failed stage.
func (e *PipelineError) Unwrap() error { return e.Err }

// Pipeline downloads, verifies and unpacks the package, then copies the
// payload out of the mounted image.
type Pipeline struct {
	Config     Config
	Resolver   Resolver
	Downloader Downloader
	Runner     Runner
	Log        logrus.FieldLogger

	// Resolved, when set, is called with the package metadata before the
	// download starts.
	Resolved func(*PackageMetadata)
}

// NewPipeline constructs a *Pipeline. A nil log uses the logrus standard
// logger.
func NewPipeline(cfg Config, resolver Resolver, downloader Downloader, runner Runner, log logrus.FieldLogger) *Pipeline {
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Pipeline{
		Config:     cfg,
		Resolver:   resolver,
		Downloader: downloader,
		Runner:     runner,
		Log:        log,
	}
}

func stageErr(stage string, err error) error {
	return &PipelineError{Stage: stage, Err: err}
}

// Run executes every stage in order, stopping at the first failure. Once the
// workspace exists it is torn down exactly once before Run returns, whether
// the stages succeeded or not.
func (p *Pipeline) Run(ctx context.Context, outputDir string) (retErr error) {
	if p.Log == nil {
		p.Log = logrus.StandardLogger()
	}

	if err := p.Config.Validate(); err != nil {
		return stageErr(StageConfig, err)
	}

	p.Log.WithField("stage", StageResolve).Info("fetching package info")
	meta, err := p.Resolver.Resolve(ctx)
	if err != nil {
		return stageErr(StageResolve, err)
	}

	if p.Resolved != nil {
		p.Resolved(meta)
	}

	ws, err := NewWorkspace(p.Config.BaseDir, p.Config.Prefix)
	if err != nil {
		return stageErr(StageWorkspace, err)
	}

	mount := ws.Mount(p.Runner, Privileged(p.Runner, p.Config.Escalate), p.Config.Tools)

	defer func() {
		p.Log.WithField("stage", StageCleanup).Infof("cleaning up %v", ws.Root)

		cleanupErr := ws.Destroy(context.WithoutCancel(ctx), mount)
		if cleanupErr == nil {
			return
		}

		p.Log.WithField("stage", StageCleanup).WithError(cleanupErr).Error("cleanup failed")

		var pe *PipelineError
		if retErr == nil {
			retErr = stageErr(StageCleanup, cleanupErr)
		} else if errors.As(retErr, &pe) {
			pe.Cleanup = cleanupErr
		}
	}()

	return p.run(ctx, meta, ws, mount, outputDir)
}

func (p *Pipeline) run(ctx context.Context, meta *PackageMetadata, ws *Workspace, mount *Mount, outputDir string) error {
	pkg, err := ws.Path(meta.Filename)
	if err != nil {
		return stageErr(StageDownload, err)
	}

	p.Log.WithField("stage", StageDownload).Infof("fetching %v", meta.URL)
	if err := p.Downloader.Download(ctx, meta.URL, pkg); err != nil {
		return stageErr(StageDownload, err)
	}

	p.Log.WithField("stage", StageVerify).Infof("comparing %s checksum", p.Config.Algorithm)
	ok, err := Verify(pkg, meta.Checksum, p.Config.Algorithm)
	if err != nil {
		return stageErr(StageVerify, err)
	}

	if !ok {
		if err := os.Remove(pkg); err != nil {
			p.Log.WithField("stage", StageVerify).WithError(err).Warn("cannot remove corrupt download")
		}
		return stageErr(StageVerify, wrapKind(ErrIntegrity, ErrChecksumMismatch, "%v", meta.Filename))
	}

	stager := NewStager(p.Runner, p.Config.Tar)

	p.Log.WithField("stage", StageExtract).Info("extracting package")
	container, err := stager.ExtractMember(ctx, pkg, p.Config.ContainerName(meta.Version), ws.Root)
	if err != nil {
		return stageErr(StageExtract, err)
	}

	image, err := stager.ExtractMember(ctx, container, p.Config.ImageMember, ws.Root)
	if err != nil {
		return stageErr(StageExtract, err)
	}

	p.Log.WithField("stage", StageMount).Infof("mounting %v", image)
	if err := ws.EnsureMountPoint(); err != nil {
		return stageErr(StageMount, err)
	}

	if err := mount.Open(ctx, image); err != nil {
		return stageErr(StageMount, err)
	}

	if err := mount.Chmod(ctx, p.Config.Mode); err != nil {
		return stageErr(StageChmod, err)
	}

	p.Log.WithField("stage", StageCopy).Infof("copying payload to %v", outputDir)
	if err := PrepareOutput(ctx, outputDir); err != nil {
		return stageErr(StageCopy, err)
	}

	if err := CopyManifest(ctx, ws.MountPoint, outputDir, p.Config.Manifest); err != nil {
		return stageErr(StageCopy, err)
	}

	return nil
}
