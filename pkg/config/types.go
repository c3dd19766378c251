package config

import (
	"github.com/scenepipe/scenepipe/pkg/telemetry"
)

// Config is the scenepipe configuration file.
type Config struct {
	// Workspace locates the external tool checkouts.
	Workspace WorkspaceConfig `yaml:"workspace"`

	// Launcher configures how commands enter their runtime environment.
	Launcher LauncherConfig `yaml:"launcher"`

	// Environments maps runtime keys (sdf, splat, sim) to launcher environment names.
	// A config file's entries are merged into the defaults key by key, so a file can
	// rename an environment but cannot remove a default runtime.
	Environments map[string]string `yaml:"environments" validate:"required,min=1,dive,keys,required,endkeys,required"`

	// Toolchain configures the native compiler and CUDA settings.
	Toolchain ToolchainConfig `yaml:"toolchain"`

	// Devices configures GPU visibility.
	Devices DevicesConfig `yaml:"devices"`

	// Credentials lists environment variables forwarded to tools that need them.
	Credentials []string `yaml:"credentials,omitempty" validate:"dive,envname"`

	// Defaults are the pipeline option defaults, overridden by command-line flags.
	Defaults PipelineDefaults `yaml:"defaults"`

	// State configures the run history database.
	State StateConfig `yaml:"state"`

	// Telemetry configures logging, metrics and tracing.
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// WorkspaceConfig locates the external tool checkouts.
type WorkspaceConfig struct {
	// Root is the directory holding marigold/, sdf/, splat/, ... checkouts.
	Root string `yaml:"root,omitempty"`
}

// LauncherConfig configures the environment launcher.
type LauncherConfig struct {
	// Kind is the launcher kind (conda, direct).
	Kind string `yaml:"kind" validate:"required,oneof=conda direct"`

	// Binary is the launcher executable.
	Binary string `yaml:"binary,omitempty" validate:"required_if=Kind conda"`
}

// ToolchainConfig configures the native toolchain profile and the CUDA profile.
type ToolchainConfig struct {
	// CC is the C compiler path.
	CC string `yaml:"cc,omitempty"`

	// CXX is the C++ compiler path.
	CXX string `yaml:"cxx,omitempty"`

	// CUDAArchList is the CUDA architecture list (e.g. "8.6" or "8.0;8.6").
	CUDAArchList string `yaml:"cuda_arch_list,omitempty" validate:"omitempty,cudaarch"`
}

// DevicesConfig configures GPU visibility.
type DevicesConfig struct {
	// Visible is the CUDA_VISIBLE_DEVICES value for device-bound stages.
	Visible string `yaml:"visible,omitempty"`
}

// PipelineDefaults are the defaults for pipeline options.
type PipelineDefaults struct {
	// ImageDirName is the RGB image directory under the scene root.
	ImageDirName string `yaml:"image_dir_name,omitempty" validate:"omitempty,excludesall=/\\"`

	// DownscaleFactor is passed to the SDF and splat trainers.
	DownscaleFactor int `yaml:"downscale_factor" validate:"min=1"`

	// ColmapSubdir locates cameras.bin and images.bin under the scene root.
	ColmapSubdir string `yaml:"colmap_subdir" validate:"required"`

	// CameraModel is the transforms camera model selector.
	CameraModel string `yaml:"camera_model" validate:"camera_model"`

	// RunNote names the Gaussian extra-info file of a splat run.
	RunNote string `yaml:"run_note" validate:"required,excludesall=/\\"`
}

// StateConfig configures the run history database.
type StateConfig struct {
	// Enabled records runs and stage results.
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file; empty means the user cache directory.
	Path string `yaml:"path,omitempty"`
}
