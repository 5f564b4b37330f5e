//go:build linux

package network

import (
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"

	"github.com/aledbf/vmlauncher/internal/lifecycle"
)

func TestCheckBridge(t *testing.T) {
	assert.True(t, errdefs.IsFailedPrecondition(checkBridge("")))
	assert.True(t, errdefs.IsNotFound(checkBridge("vmlauncher-nope0")))

	// The loopback link exists on every host and is not a bridge.
	assert.True(t, errdefs.IsFailedPrecondition(checkBridge("lo")))
}

func TestPrepare_MissingBridge(t *testing.T) {
	_, err := Config{Bridge: "vmlauncher-nope0"}.Prepare(t.Context(), lifecycle.NetworkBridge, "vm-1")
	assert.True(t, errdefs.IsNotFound(err))
}
