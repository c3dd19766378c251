package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/scenepipe/scenepipe/pkg/engine"
	"github.com/scenepipe/scenepipe/pkg/envs"
	"github.com/scenepipe/scenepipe/pkg/fsutil"
	"github.com/scenepipe/scenepipe/pkg/layout"
	"github.com/scenepipe/scenepipe/pkg/telemetry"
	"github.com/scenepipe/scenepipe/pkg/transforms"
)

// FileName is the configuration file looked up in the working directory.
const FileName = "scenepipe.yaml"

// EnvConfigPath names the environment variable that points at a configuration file.
const EnvConfigPath = "SCENEPIPE_CONFIG"

var (
	cudaArchPattern = regexp.MustCompile(`^[0-9]+\.[0-9]+(;[0-9]+\.[0-9]+)*$`)
	envNamePattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Default returns the built-in configuration, matching the reference workstation
// setup: conda environments, gcc-11 and a single sm_86 GPU.
func Default() *Config {
	return &Config{
		Launcher: LauncherConfig{
			Kind:   envs.LauncherConda,
			Binary: "conda",
		},
		Environments: map[string]string{
			"sdf":   "drawer_sdf",
			"splat": "drawer_splat",
			"sim":   "isaacsim",
		},
		Toolchain: ToolchainConfig{
			CC:           "/usr/bin/gcc-11",
			CXX:          "/usr/bin/g++-11",
			CUDAArchList: "8.6",
		},
		Devices: DevicesConfig{
			Visible: "0",
		},
		Credentials: []string{"OPENAI_KEY"},
		Defaults: PipelineDefaults{
			DownscaleFactor: 2,
			ColmapSubdir:    layout.DefaultColmapDir,
			CameraModel:     string(transforms.SelectorAuto),
			RunNote:         "dense_1",
		},
		State: StateConfig{
			Enabled: true,
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Resolve returns the configuration file to load: path if set, then $SCENEPIPE_CONFIG,
// then ./scenepipe.yaml, then <user config dir>/scenepipe/config.yaml. It returns ""
// when no file exists and none was requested explicitly.
func Resolve(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	candidates := []string{FileName}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "scenepipe", "config.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// Load reads the configuration file at path on top of the defaults and validates it.
// An empty path returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		e := engine.NewConfigurationError("failed to read configuration", err).WithPath(path)
		if errors.Is(err, fs.ErrNotExist) {
			e.WithCode(engine.ErrCodeNotFound)
		}
		return nil, e
	}

	if err := Parse(data, cfg); err != nil {
		return nil, engine.NewConfigurationError("invalid configuration", err).WithPath(path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, engine.Classify(err).WithPath(path)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg. Keys missing from data keep their current values,
// and mappings are merged into the existing maps. Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return engine.NewConfigurationError(describe(verrs), err)
		}
		return engine.NewConfigurationError("invalid configuration", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return engine.NewConfigurationError("invalid telemetry configuration", err)
	}
	return nil
}

// EnvSettings returns the environment manager settings.
func (c *Config) EnvSettings() envs.Settings {
	environments := make(map[string]string, len(c.Environments))
	for k, v := range c.Environments {
		environments[k] = v
	}
	return envs.Settings{
		Launcher:       c.Launcher.Kind,
		LauncherBinary: c.Launcher.Binary,
		Environments:   environments,
		CC:             c.Toolchain.CC,
		CXX:            c.Toolchain.CXX,
		CUDAArchList:   c.Toolchain.CUDAArchList,
		VisibleDevices: c.Devices.Visible,
		Credentials:    append([]string(nil), c.Credentials...),
	}
}

// StatePath returns the run history database path.
func (c *Config) StatePath() (string, error) {
	if c.State.Path != "" {
		return c.State.Path, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate cache directory: %w", err)
	}
	return filepath.Join(dir, "scenepipe", "state.db"), nil
}

// Marshal encodes the configuration as YAML.
func Marshal(c *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write writes the configuration to path. An existing file is a conflict unless
// overwrite is set.
func Write(path string, c *Config, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return engine.NewConflictError("configuration file already exists", nil).WithPath(path)
		}
	}
	data, err := Marshal(c)
	if err != nil {
		return engine.NewInternalError("failed to encode configuration", err)
	}
	if err := fsutil.AtomicWriteFile(path, data, 0o644); err != nil {
		return engine.Classify(err).WithPath(path)
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("cudaarch", func(fl validator.FieldLevel) bool {
		return cudaArchPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("envname", func(fl validator.FieldLevel) bool {
		return envNamePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("camera_model", func(fl validator.FieldLevel) bool {
		_, err := transforms.ParseSelector(fl.Field().String())
		return err == nil
	})
	return v
}

// describe renders validation errors as "field: rule" pairs.
func describe(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fmt.Sprintf("%s: %s", field, rule))
	}
	return "invalid configuration: " + strings.Join(parts, ", ")
}
