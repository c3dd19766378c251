// Package envs resolves the isolated runtime environment an external tool runs in.
//
// Every invocation gets an immutable Invocation value: the argument vector (wrapped in
// the configured launcher), the working directory and a complete child environment.
// The child environment is built from a snapshot of the parent environment taken when
// the Manager is constructed, with override profiles layered on top. The parent
// process environment is never modified.
package envs

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Launcher kinds.
const (
	// LauncherConda wraps commands in `conda run --no-capture-output -n <env>`.
	LauncherConda = "conda"

	// LauncherDirect runs commands as-is on the host.
	LauncherDirect = "direct"
)

// Profile names a group of environment-variable overrides.
type Profile string

const (
	// ProfileToolchain selects the native compiler toolchain (CC, CXX).
	ProfileToolchain Profile = "toolchain"

	// ProfileCUDA pins the CUDA architectures used by native-extension builds.
	ProfileCUDA Profile = "cuda"

	// ProfileDevice restricts the visible GPU devices.
	ProfileDevice Profile = "device"

	// ProfileCredentials forwards third-party service credentials.
	ProfileCredentials Profile = "credentials"
)

// Validate checks if the profile is known.
func (p Profile) Validate() error {
	switch p {
	case ProfileToolchain, ProfileCUDA, ProfileDevice, ProfileCredentials:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownProfile, p)
	}
}

var (
	// ErrUnknownRuntime is returned when a request names a runtime that is not configured.
	ErrUnknownRuntime = errors.New("unknown runtime environment")

	// ErrUnknownProfile is returned for an unrecognized override profile.
	ErrUnknownProfile = errors.New("unknown override profile")

	// ErrMissingSetting is returned when a profile needs a setting that is empty.
	ErrMissingSetting = errors.New("missing environment setting")

	// ErrEmptyCommand is returned when a request has no argv.
	ErrEmptyCommand = errors.New("empty command")
)

// Settings configures a Manager.
type Settings struct {
	// Launcher is the launcher kind (conda or direct).
	Launcher string

	// LauncherBinary is the launcher executable, "conda" by default.
	LauncherBinary string

	// Environments maps runtime keys (e.g. "sdf") to launcher environment names.
	Environments map[string]string

	// CC and CXX are the compiler paths for the toolchain profile.
	CC  string
	CXX string

	// CUDAArchList is the CUDA architecture list for the cuda profile (e.g. "8.6").
	CUDAArchList string

	// VisibleDevices is the CUDA_VISIBLE_DEVICES value for the device profile.
	VisibleDevices string

	// Credentials lists variable names forwarded by the credentials profile.
	Credentials []string
}

// Request describes one external tool invocation before environment resolution.
type Request struct {
	// Runtime is the runtime key; empty runs on the host without the launcher.
	Runtime string

	// Argv is the tool command line.
	Argv []string

	// Dir is the working directory.
	Dir string

	// Profiles are applied in order, before Env.
	Profiles []Profile

	// Env holds literal overrides applied last.
	Env map[string]string
}

// Invocation is a fully resolved command ready to execute.
type Invocation struct {
	// Runtime is the launcher environment name the command runs in, if any.
	Runtime string `json:"runtime,omitempty"`

	// Argv is the final argument vector including the launcher prefix.
	Argv []string `json:"argv"`

	// Dir is the working directory.
	Dir string `json:"dir,omitempty"`

	// Env is the complete child environment as sorted KEY=VALUE pairs.
	Env []string `json:"-"`

	// Overrides lists the keys set on top of the inherited environment, sorted.
	Overrides []string `json:"overrides,omitempty"`

	// secrets are keys whose values must never be logged.
	secrets map[string]struct{}
}

// Lookup returns the value of key in the child environment.
func (inv Invocation) Lookup(key string) (string, bool) {
	prefix := key + "="
	for _, kv := range inv.Env {
		if strings.HasPrefix(kv, prefix) {
			return kv[len(prefix):], true
		}
	}
	return "", false
}

// Redacted returns a copy with credential values masked, safe for logs and plans.
func (inv Invocation) Redacted() Invocation {
	out := inv
	out.Argv = append([]string(nil), inv.Argv...)
	out.Env = make([]string, len(inv.Env))
	for i, kv := range inv.Env {
		key, _, _ := strings.Cut(kv, "=")
		if _, secret := inv.secrets[key]; secret {
			kv = key + "=***"
		}
		out.Env[i] = kv
	}
	return out
}

// OverrideValues returns the override pairs with credentials masked.
func (inv Invocation) OverrideValues() map[string]string {
	out := make(map[string]string, len(inv.Overrides))
	for _, key := range inv.Overrides {
		value, _ := inv.Lookup(key)
		if _, secret := inv.secrets[key]; secret {
			value = "***"
		}
		out[key] = value
	}
	return out
}

// String renders the command line for humans.
func (inv Invocation) String() string {
	return strings.Join(inv.Argv, " ")
}

// Manager resolves invocations against a fixed base environment.
type Manager struct {
	settings Settings
	base     map[string]string
}

// NewManager creates a manager. base is a KEY=VALUE list; nil snapshots os.Environ().
func NewManager(settings Settings, base []string) (*Manager, error) {
	if settings.Launcher == "" {
		settings.Launcher = LauncherConda
	}
	if settings.LauncherBinary == "" {
		settings.LauncherBinary = "conda"
	}
	if settings.Launcher != LauncherConda && settings.Launcher != LauncherDirect {
		return nil, fmt.Errorf("invalid launcher %q (must be %q or %q)",
			settings.Launcher, LauncherConda, LauncherDirect)
	}
	if base == nil {
		base = os.Environ()
	}

	environments := make(map[string]string, len(settings.Environments))
	for k, v := range settings.Environments {
		environments[k] = v
	}
	settings.Environments = environments
	settings.Credentials = append([]string(nil), settings.Credentials...)

	return &Manager{
		settings: settings,
		base:     parseEnviron(base),
	}, nil
}

// Settings returns a copy of the manager settings.
func (m *Manager) Settings() Settings {
	s := m.settings
	s.Environments = make(map[string]string, len(m.settings.Environments))
	for k, v := range m.settings.Environments {
		s.Environments[k] = v
	}
	s.Credentials = append([]string(nil), m.settings.Credentials...)
	return s
}

// Resolve builds the invocation for a request.
func (m *Manager) Resolve(req Request) (Invocation, error) {
	if len(req.Argv) == 0 {
		return Invocation{}, ErrEmptyCommand
	}

	inv := Invocation{
		Dir:     req.Dir,
		secrets: make(map[string]struct{}),
	}

	// Wrap in the launcher
	argv := append([]string(nil), req.Argv...)
	if req.Runtime != "" {
		name, ok := m.settings.Environments[req.Runtime]
		if !ok || name == "" {
			return Invocation{}, fmt.Errorf("%w: %s", ErrUnknownRuntime, req.Runtime)
		}
		inv.Runtime = name
		if m.settings.Launcher == LauncherConda {
			argv = append([]string{m.settings.LauncherBinary, "run", "--no-capture-output", "-n", name}, argv...)
		}
	}
	inv.Argv = argv

	// Inherit, then override
	overrides, err := m.overrides(req.Profiles, inv.secrets)
	if err != nil {
		return Invocation{}, err
	}
	for k, v := range req.Env {
		overrides[k] = v
	}

	merged := make(map[string]string, len(m.base)+len(overrides))
	for k, v := range m.base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}

	inv.Env = flatten(merged)
	inv.Overrides = sortedKeys(overrides)
	return inv, nil
}

func (m *Manager) overrides(profiles []Profile, secrets map[string]struct{}) (map[string]string, error) {
	out := make(map[string]string)
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		switch p {
		case ProfileToolchain:
			if m.settings.CC == "" || m.settings.CXX == "" {
				return nil, fmt.Errorf("%w: toolchain profile requires cc and cxx", ErrMissingSetting)
			}
			out["CC"] = m.settings.CC
			out["CXX"] = m.settings.CXX
		case ProfileCUDA:
			if m.settings.CUDAArchList == "" {
				return nil, fmt.Errorf("%w: cuda profile requires cuda_arch_list", ErrMissingSetting)
			}
			out["CUDA_ARCH_LIST"] = m.settings.CUDAArchList
			out["TORCH_CUDA_ARCH_LIST"] = m.settings.CUDAArchList
			out["CMAKE_CUDA_ARCHITECTURES"] = CUDAArchitectures(m.settings.CUDAArchList)
		case ProfileDevice:
			if m.settings.VisibleDevices == "" {
				return nil, fmt.Errorf("%w: device profile requires visible devices", ErrMissingSetting)
			}
			out["CUDA_VISIBLE_DEVICES"] = m.settings.VisibleDevices
		case ProfileCredentials:
			// Unset credentials are forwarded as empty strings
			for _, name := range m.settings.Credentials {
				out[name] = m.base[name]
				secrets[name] = struct{}{}
			}
		}
	}
	return out, nil
}

// CUDAArchitectures converts a torch-style arch list ("8.6;8.9") into the
// CMake form ("86 89").
func CUDAArchitectures(archList string) string {
	return strings.Join(strings.Split(strings.ReplaceAll(archList, ".", ""), ";"), " ")
}

func parseEnviron(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		// Keys may start with '=' on Windows (e.g. "=C:=C:\\")
		idx := strings.Index(kv[min(1, len(kv)):], "=")
		if idx < 0 {
			continue
		}
		idx += min(1, len(kv))
		out[kv[:idx]] = kv[idx+1:]
	}
	return out
}

func flatten(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for _, k := range sortedKeys(env) {
		out = append(out, k+"="+env[k])
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
