package network

import (
	"strings"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aledbf/vmlauncher/internal/lifecycle"
)

func TestGuestMAC(t *testing.T) {
	mac := GuestMAC("vm-1")

	require.Len(t, mac, 6)
	assert.Equal(t, byte(0x02), mac[0], "locally administered unicast")
	assert.Equal(t, mac, GuestMAC("vm-1"), "stable for one id")
	assert.NotEqual(t, mac, GuestMAC("vm-2"))
}

func TestQEMUArgs(t *testing.T) {
	cfg := Config{Bridge: "br0"}
	mac := GuestMAC("vm-1").String()

	tests := []struct {
		mode lifecycle.NetworkMode
		want []string
	}{
		{lifecycle.NetworkNone, []string{"-nic", "none"}},
		{lifecycle.NetworkAllowAll, []string{"-nic", "user,model=virtio-net-pci,mac=" + mac}},
		{lifecycle.NetworkBridge, []string{"-nic", "bridge,br=br0,model=virtio-net-pci,mac=" + mac}},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			args, err := cfg.QEMUArgs(tt.mode, "vm-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, args)
		})
	}
}

func TestQEMUArgs_Errors(t *testing.T) {
	_, err := Config{}.QEMUArgs(lifecycle.NetworkBridge, "vm-1")
	assert.True(t, errdefs.IsFailedPrecondition(err))

	_, err = Config{}.QEMUArgs("macvtap", "vm-1")
	assert.True(t, errdefs.IsNotImplemented(err))
}

func TestPrepare_NoHostCheckOutsideBridge(t *testing.T) {
	args, err := Config{}.Prepare(t.Context(), lifecycle.NetworkAllowAll, "vm-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(args[1], "user,"))
}
