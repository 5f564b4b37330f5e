package lifecycle

import (
	"strings"
	"testing"
	"unsafe"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string {
	return &s
}

func validRaw() *RawConfig {
	return &RawConfig{
		ID:          strPtr("a"),
		RootFSImage: strPtr("img.qcow2"),
		CPUCount:    2,
		MemoryMiB:   512,
		NetworkMode: strPtr("bridge"),
	}
}

func TestParseText(t *testing.T) {
	tests := []struct {
		name    string
		raw     *string
		wantErr string
	}{
		{name: "absent", raw: nil, wantErr: "is required"},
		{name: "empty", raw: strPtr(""), wantErr: "must not be empty"},
		{name: "invalid utf8", raw: strPtr("vm-\xff\xfe"), wantErr: "not valid UTF-8"},
		{name: "embedded nul", raw: strPtr("vm\x001"), wantErr: "NUL byte"},
		{name: "too long", raw: strPtr(strings.Repeat("a", MaxTextLen+1)), wantErr: "exceeds"},
		{name: "max length", raw: strPtr(strings.Repeat("a", MaxTextLen))},
		{name: "plain", raw: strPtr("vm-1")},
		{name: "multibyte", raw: strPtr("vm-ü-日本")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseText("id", tt.raw)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, errdefs.IsInvalidArgument(err))
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, *tt.raw, got)
		})
	}
}

func TestParseTextReturnsCopy(t *testing.T) {
	// A string sharing memory with a caller buffer, as text read from
	// foreign memory would be.
	buf := []byte("vm-copy")
	borrowed := unsafe.String(unsafe.SliceData(buf), len(buf))

	got, err := ParseText("id", &borrowed)
	require.NoError(t, err)
	assert.NotSame(t, unsafe.StringData(borrowed), unsafe.StringData(got))

	copy(buf, "changed")
	assert.Equal(t, "changed", borrowed)
	assert.Equal(t, "vm-copy", got)
}

func TestValidatorConfig(t *testing.T) {
	v := NewValidator(nil, Limits{MaxCPUs: 8, MaxMemoryMiB: 4096})

	tests := []struct {
		name    string
		mutate  func(r *RawConfig) *RawConfig
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(r *RawConfig) *RawConfig { return r },
		},
		{
			name:    "nil config",
			mutate:  func(r *RawConfig) *RawConfig { return nil },
			wantErr: "vm config is required",
		},
		{
			name:    "missing id",
			mutate:  func(r *RawConfig) *RawConfig { r.ID = nil; return r },
			wantErr: "id is required",
		},
		{
			name:    "empty rootfs",
			mutate:  func(r *RawConfig) *RawConfig { r.RootFSImage = strPtr(""); return r },
			wantErr: "rootfs_image must not be empty",
		},
		{
			name:    "zero cpus",
			mutate:  func(r *RawConfig) *RawConfig { r.CPUCount = 0; return r },
			wantErr: "cpu_count must be greater than zero",
		},
		{
			name:    "zero memory",
			mutate:  func(r *RawConfig) *RawConfig { r.MemoryMiB = 0; return r },
			wantErr: "memory_mib must be greater than zero",
		},
		{
			name:    "cpus above limit",
			mutate:  func(r *RawConfig) *RawConfig { r.CPUCount = 9; return r },
			wantErr: "exceeds limit",
		},
		{
			name:    "memory above limit",
			mutate:  func(r *RawConfig) *RawConfig { r.MemoryMiB = 4097; return r },
			wantErr: "exceeds limit",
		},
		{
			name:    "missing network mode",
			mutate:  func(r *RawConfig) *RawConfig { r.NetworkMode = nil; return r },
			wantErr: "network_mode is required",
		},
		{
			name:    "unknown network mode",
			mutate:  func(r *RawConfig) *RawConfig { r.NetworkMode = strPtr("macvtap"); return r },
			wantErr: "not supported",
		},
		{
			name: "id checked before rootfs",
			mutate: func(r *RawConfig) *RawConfig {
				r.ID = strPtr("")
				r.RootFSImage = nil
				return r
			},
			wantErr: "id must not be empty",
		},
		{
			name: "resources checked before network mode",
			mutate: func(r *RawConfig) *RawConfig {
				r.CPUCount = 0
				r.NetworkMode = nil
				return r
			},
			wantErr: "cpu_count",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := v.Config(tt.mutate(validRaw()))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, StatusInvalidArgument, StatusOf(err))
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, Config{
				ID:          "a",
				RootFSImage: "img.qcow2",
				CPUCount:    2,
				MemoryMiB:   512,
				NetworkMode: NetworkBridge,
			}, cfg)
		})
	}
}

func TestValidatorRestrictedModes(t *testing.T) {
	v := NewValidator([]NetworkMode{NetworkNone}, Limits{})

	raw := validRaw()
	_, err := v.Config(raw)
	assert.True(t, errdefs.IsInvalidArgument(err), "bridge is disabled")

	raw.NetworkMode = strPtr("none")
	_, err = v.Config(raw)
	assert.NoError(t, err)
}

func TestValidatorNoLimits(t *testing.T) {
	v := NewValidator(nil, Limits{})
	raw := validRaw()
	raw.CPUCount = ^uint32(0)
	raw.MemoryMiB = ^uint32(0)

	_, err := v.Config(raw)
	assert.NoError(t, err)
}
