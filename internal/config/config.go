// Package config loads and validates the vmlauncher configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/containerd/log"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/aledbf/vmlauncher/internal/lifecycle"
	"github.com/aledbf/vmlauncher/internal/paths"
)

const (
	// EnvConfig names a config file to load instead of DefaultPath.
	EnvConfig = "VMLAUNCHER_CONFIG"

	// DefaultPath is read when EnvConfig is unset. A missing file there is
	// not an error; defaults apply.
	DefaultPath = "/etc/vmlauncher/config.json"

	// CgroupMountpoint is where the cgroup v2 hierarchy is expected.
	CgroupMountpoint = "/sys/fs/cgroup"

	defaultBridge          = "virbr0"
	defaultShutdownTimeout = 10 * time.Second
)

// Config is the vmlauncher configuration.
type Config struct {
	LogLevel  string `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	LogFormat string `json:"log_format,omitempty" yaml:"log_format,omitempty"`

	// StateDir holds backend instance state and the instance database.
	StateDir string `json:"state_dir,omitempty" yaml:"state_dir,omitempty"`

	// QEMUPath overrides QEMU binary discovery.
	QEMUPath string `json:"qemu_path,omitempty" yaml:"qemu_path,omitempty"`

	// ShutdownTimeout bounds how long a graceful stop may take before the
	// VM is killed, e.g. "10s".
	ShutdownTimeout string `json:"shutdown_timeout,omitempty" yaml:"shutdown_timeout,omitempty"`

	Network NetworkConfig `json:"network" yaml:"network"`
	Limits  LimitsConfig  `json:"limits" yaml:"limits"`
	Cgroup  CgroupConfig  `json:"cgroup" yaml:"cgroup"`
	Boot    BootConfig    `json:"boot" yaml:"boot"`
}

// NetworkConfig selects the accepted network modes.
type NetworkConfig struct {
	// Modes enabled for launch requests. Empty enables every known mode.
	Modes []string `json:"modes,omitempty" yaml:"modes,omitempty"`

	// Bridge is the host bridge used by the "bridge" mode.
	Bridge string `json:"bridge,omitempty" yaml:"bridge,omitempty"`
}

// LimitsConfig caps resource requests. Zero disables a cap.
type LimitsConfig struct {
	MaxCPUs      uint32 `json:"max_cpus,omitempty" yaml:"max_cpus,omitempty"`
	MaxMemoryMiB uint32 `json:"max_memory_mib,omitempty" yaml:"max_memory_mib,omitempty"`
}

// CgroupConfig places each VM in its own cgroup v2 group below Parent.
// An empty Parent disables cgroup placement.
type CgroupConfig struct {
	Parent string `json:"parent,omitempty" yaml:"parent,omitempty"`
}

// BootConfig supplies an optional direct kernel boot.
type BootConfig struct {
	Kernel  string `json:"kernel,omitempty" yaml:"kernel,omitempty"`
	Initrd  string `json:"initrd,omitempty" yaml:"initrd,omitempty"`
	Cmdline string `json:"cmdline,omitempty" yaml:"cmdline,omitempty"`
	// ReadonlyRootFS attaches the rootfs image read-only so one image can
	// back several VMs.
	ReadonlyRootFS bool `json:"readonly_rootfs,omitempty" yaml:"readonly_rootfs,omitempty"`
}

var (
	loadOnce  sync.Once
	loaded    *Config
	loadedErr error
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:        "info",
		LogFormat:       "text",
		StateDir:        paths.GetStateDir(),
		ShutdownTimeout: defaultShutdownTimeout.String(),
		Network: NetworkConfig{
			Bridge: defaultBridge,
		},
	}
}

// Get returns the process configuration, loading it on first use.
func Get() (*Config, error) {
	loadOnce.Do(func() {
		loaded, loadedErr = loadFromEnvironment()
	})
	return loaded, loadedErr
}

func loadFromEnvironment() (*Config, error) {
	if path := os.Getenv(EnvConfig); path != "" {
		return Load(path)
	}
	cfg, err := Load(DefaultPath)
	if errors.Is(err, fs.ErrNotExist) {
		log.L.WithField("path", DefaultPath).Debug("no config file, using defaults")
		return Default(), nil
	}
	return cfg, err
}

// Load reads the config file at path over the defaults and validates it.
// Files ending in .yaml or .yml are parsed as YAML, everything else as JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that do not depend on the host.
func (c *Config) Validate() error {
	var errs []error

	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			errs = append(errs, fmt.Errorf("log_level: %w", err))
		}
	}
	switch c.LogFormat {
	case "", string(log.TextFormat), string(log.JSONFormat):
	default:
		errs = append(errs, fmt.Errorf("log_format: unsupported format %q", c.LogFormat))
	}

	if c.StateDir == "" {
		errs = append(errs, errors.New("state_dir: must not be empty"))
	} else if !filepath.IsAbs(c.StateDir) {
		errs = append(errs, fmt.Errorf("state_dir: %q must be absolute", c.StateDir))
	}

	if d, err := time.ParseDuration(c.ShutdownTimeout); err != nil {
		errs = append(errs, fmt.Errorf("shutdown_timeout: %w", err))
	} else if d <= 0 {
		errs = append(errs, fmt.Errorf("shutdown_timeout: %s must be positive", d))
	}

	known := make(map[string]bool, len(lifecycle.KnownNetworkModes))
	for _, m := range lifecycle.KnownNetworkModes {
		known[string(m)] = true
	}
	for _, m := range c.Network.Modes {
		if !known[m] {
			errs = append(errs, fmt.Errorf("network.modes: unknown mode %q", m))
		}
	}
	if c.modeEnabled(lifecycle.NetworkBridge) && c.Network.Bridge == "" {
		errs = append(errs, errors.New("network.bridge: required when bridge mode is enabled"))
	}

	if c.Boot.Initrd != "" && c.Boot.Kernel == "" {
		errs = append(errs, errors.New("boot.initrd: requires boot.kernel"))
	}

	return errors.Join(errs...)
}

// ValidateHost checks the host-side paths named by the config. The state
// directory is created when missing.
func (c *Config) ValidateHost() error {
	var errs []error

	if err := ensureDirectoryWritable(c.StateDir, "state_dir"); err != nil {
		errs = append(errs, err)
	}
	if c.QEMUPath != "" {
		if err := validateExecutable(c.QEMUPath, "qemu_path"); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Boot.Kernel != "" {
		if err := validateFileExists(c.Boot.Kernel, "boot.kernel"); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Boot.Initrd != "" {
		if err := validateFileExists(c.Boot.Initrd, "boot.initrd"); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Cgroup.Parent != "" {
		if !strings.HasPrefix(c.Cgroup.Parent, "/") {
			errs = append(errs, fmt.Errorf("cgroup.parent: %q must start with /", c.Cgroup.Parent))
		}
		if err := validateDirectoryExists(CgroupMountpoint, "cgroup.parent"); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// NetworkModes returns the enabled network modes.
func (c *Config) NetworkModes() []lifecycle.NetworkMode {
	if len(c.Network.Modes) == 0 {
		return lifecycle.KnownNetworkModes
	}
	modes := make([]lifecycle.NetworkMode, 0, len(c.Network.Modes))
	for _, m := range c.Network.Modes {
		modes = append(modes, lifecycle.NetworkMode(m))
	}
	return modes
}

// Validator returns a lifecycle validator for the configured modes and limits.
func (c *Config) Validator() *lifecycle.Validator {
	return lifecycle.NewValidator(c.NetworkModes(), lifecycle.Limits{
		MaxCPUs:      c.Limits.MaxCPUs,
		MaxMemoryMiB: c.Limits.MaxMemoryMiB,
	})
}

// Shutdown returns the parsed shutdown timeout.
func (c *Config) Shutdown() time.Duration {
	d, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil || d <= 0 {
		return defaultShutdownTimeout
	}
	return d
}

// ApplyLogging configures the process logger from the config.
func (c *Config) ApplyLogging() error {
	if c.LogLevel != "" {
		if err := log.SetLevel(c.LogLevel); err != nil {
			return err
		}
	}
	if c.LogFormat != "" {
		if err := log.SetFormat(log.OutputFormat(c.LogFormat)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) modeEnabled(mode lifecycle.NetworkMode) bool {
	for _, m := range c.NetworkModes() {
		if m == mode {
			return true
		}
	}
	return false
}
