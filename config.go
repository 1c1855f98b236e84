package lhex

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// Config controls where the pipeline works and which names it looks for.
type Config struct {
	// BaseDir is where the workspace is created; the system temp dir when empty.
	BaseDir string
	// Prefix of the workspace directory name.
	Prefix string
	// Channel is the release channel in the msix name, f.e. Nightly.
	Channel string
	// ImageMember is the disk image inside the msix.
	ImageMember string
	// Algorithm checks the download against the published checksum.
	Algorithm Algorithm
	// Mode is applied recursively to the mounted image.
	Mode os.FileMode
	// Manifest lists the paths copied out of the image.
	Manifest []string
	// Tar is the extractor binary.
	Tar string
	// Escalate prefixes privileged commands. Empty runs them directly.
	Escalate []string
	// Tools names the mount related binaries.
	Tools MountTools
}

// DefaultConfig returns the configuration for the current WSA layout.
func DefaultConfig() Config {
	return Config{
		Prefix:      "lhex-",
		Channel:     "Nightly",
		ImageMember: "vendor.img",
		Algorithm:   SHA1,
		Mode:        0777,
		Manifest:    DefaultManifest,
		Tar:         "bsdtar",
		Escalate:    []string{"sudo"},
		Tools:       DefaultMountTools,
	}
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	if !c.Algorithm.Available() {
		return errors.Errorf("unsupported digest algorithm %q", string(c.Algorithm))
	}

	if c.Channel == "" {
		return errors.New("release channel must not be empty")
	}

	if c.ImageMember == "" {
		return errors.New("image member must not be empty")
	}

	if len(c.Manifest) == 0 {
		return errors.New("manifest must not be empty")
	}

	return nil
}

// ContainerName is the msix inside the bundle holding the x64 image for
// version.
func (c Config) ContainerName(version string) string {
	return fmt.Sprintf("WsaPackage_%s_x64_Release-%s.msix", version, c.Channel)
}
