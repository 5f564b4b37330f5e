package lifecycle

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/containerd/errdefs"
)

// MaxTextLen is the longest text value, in bytes, accepted from a caller.
const MaxTextLen = 4096

// NetworkMode names how the guest is attached to the network. The backend
// interprets the value; the boundary only checks membership.
type NetworkMode string

const (
	NetworkNone     NetworkMode = "none"
	NetworkAllowAll NetworkMode = "allow_all"
	NetworkBridge   NetworkMode = "bridge"
)

// KnownNetworkModes lists every mode a backend may be asked for.
var KnownNetworkModes = []NetworkMode{NetworkNone, NetworkAllowAll, NetworkBridge}

// RawConfig is a launch request as it arrives from a caller. A nil text
// field is an absent reference.
type RawConfig struct {
	ID          *string
	RootFSImage *string
	CPUCount    uint32
	MemoryMiB   uint32
	NetworkMode *string
}

// Config is a launch request that passed validation. It owns its strings.
type Config struct {
	ID          string
	RootFSImage string
	CPUCount    uint32
	MemoryMiB   uint32
	NetworkMode NetworkMode
}

// Limits caps resource requests. Zero means no cap beyond being positive.
type Limits struct {
	MaxCPUs      uint32
	MaxMemoryMiB uint32
}

// Validator checks launch requests against the enabled network modes and
// resource limits.
type Validator struct {
	modes  map[NetworkMode]struct{}
	limits Limits
}

// NewValidator returns a Validator accepting the given modes. An empty mode
// list enables every known mode.
func NewValidator(modes []NetworkMode, limits Limits) *Validator {
	if len(modes) == 0 {
		modes = KnownNetworkModes
	}
	v := &Validator{
		modes:  make(map[NetworkMode]struct{}, len(modes)),
		limits: limits,
	}
	for _, m := range modes {
		v.modes[m] = struct{}{}
	}
	return v
}

// ParseText checks a caller-supplied text reference and returns an owned
// copy of it.
func ParseText(field string, raw *string) (string, error) {
	if raw == nil {
		return "", fmt.Errorf("%s is required: %w", field, errdefs.ErrInvalidArgument)
	}
	s := *raw
	switch {
	case s == "":
		return "", fmt.Errorf("%s must not be empty: %w", field, errdefs.ErrInvalidArgument)
	case len(s) > MaxTextLen:
		return "", fmt.Errorf("%s exceeds %d bytes: %w", field, MaxTextLen, errdefs.ErrInvalidArgument)
	case !utf8.ValidString(s):
		return "", fmt.Errorf("%s is not valid UTF-8: %w", field, errdefs.ErrInvalidArgument)
	case strings.IndexByte(s, 0) >= 0:
		return "", fmt.Errorf("%s contains a NUL byte: %w", field, errdefs.ErrInvalidArgument)
	}
	return strings.Clone(s), nil
}

// ParseID checks a VM identifier.
func ParseID(raw *string) (string, error) {
	return ParseText("id", raw)
}

// Config validates a launch request. Checks run in a fixed order and the
// first failure is returned.
func (v *Validator) Config(raw *RawConfig) (Config, error) {
	if raw == nil {
		return Config{}, fmt.Errorf("vm config is required: %w", errdefs.ErrInvalidArgument)
	}

	id, err := ParseID(raw.ID)
	if err != nil {
		return Config{}, err
	}
	rootfs, err := ParseText("rootfs_image", raw.RootFSImage)
	if err != nil {
		return Config{}, err
	}

	if raw.CPUCount == 0 {
		return Config{}, fmt.Errorf("cpu_count must be greater than zero: %w", errdefs.ErrInvalidArgument)
	}
	if raw.MemoryMiB == 0 {
		return Config{}, fmt.Errorf("memory_mib must be greater than zero: %w", errdefs.ErrInvalidArgument)
	}
	if v.limits.MaxCPUs > 0 && raw.CPUCount > v.limits.MaxCPUs {
		return Config{}, fmt.Errorf("cpu_count %d exceeds limit %d: %w", raw.CPUCount, v.limits.MaxCPUs, errdefs.ErrInvalidArgument)
	}
	if v.limits.MaxMemoryMiB > 0 && raw.MemoryMiB > v.limits.MaxMemoryMiB {
		return Config{}, fmt.Errorf("memory_mib %d exceeds limit %d: %w", raw.MemoryMiB, v.limits.MaxMemoryMiB, errdefs.ErrInvalidArgument)
	}

	mode, err := ParseText("network_mode", raw.NetworkMode)
	if err != nil {
		return Config{}, err
	}
	if _, ok := v.modes[NetworkMode(mode)]; !ok {
		return Config{}, fmt.Errorf("network_mode %q is not supported: %w", mode, errdefs.ErrInvalidArgument)
	}

	return Config{
		ID:          id,
		RootFSImage: rootfs,
		CPUCount:    raw.CPUCount,
		MemoryMiB:   raw.MemoryMiB,
		NetworkMode: NetworkMode(mode),
	}, nil
}
