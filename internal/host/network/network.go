// Package network attaches VM guests to the host network.
package network

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"

	"github.com/aledbf/vmlauncher/internal/lifecycle"
)

const nicModel = "virtio-net-pci"

// Config holds the host side of guest networking.
type Config struct {
	// Bridge is the host bridge used by lifecycle.NetworkBridge.
	Bridge string
}

// GuestMAC derives the guest MAC address from the VM identifier.
//
// The MAC uses the locally administered unicast format: the first byte is
// 0x02 and the remaining five bytes come from the SHA256 of the identifier.
func GuestMAC(id string) net.HardwareAddr {
	hash := sha256.Sum256([]byte(id))
	mac := make(net.HardwareAddr, 6)
	mac[0] = 0x02
	copy(mac[1:], hash[:5])
	return mac
}

// QEMUArgs returns the QEMU arguments attaching the guest of VM id.
func (c Config) QEMUArgs(mode lifecycle.NetworkMode, id string) ([]string, error) {
	switch mode {
	case lifecycle.NetworkNone:
		return []string{"-nic", "none"}, nil
	case lifecycle.NetworkAllowAll:
		return []string{"-nic", fmt.Sprintf("user,model=%s,mac=%s", nicModel, GuestMAC(id))}, nil
	case lifecycle.NetworkBridge:
		if c.Bridge == "" {
			return nil, fmt.Errorf("bridge mode without a configured bridge: %w", errdefs.ErrFailedPrecondition)
		}
		return []string{"-nic", fmt.Sprintf("bridge,br=%s,model=%s,mac=%s", c.Bridge, nicModel, GuestMAC(id))}, nil
	default:
		return nil, fmt.Errorf("network mode %q: %w", mode, errdefs.ErrNotImplemented)
	}
}

// Prepare checks the host for mode and returns the QEMU arguments for it.
func (c Config) Prepare(ctx context.Context, mode lifecycle.NetworkMode, id string) ([]string, error) {
	if mode == lifecycle.NetworkBridge {
		if err := checkBridge(c.Bridge); err != nil {
			return nil, err
		}
	}
	args, err := c.QEMUArgs(mode, id)
	if err != nil {
		return nil, err
	}
	log.G(ctx).WithFields(log.Fields{
		"network": mode,
		"bridge":  c.Bridge,
	}).Debug("guest network prepared")
	return args, nil
}
