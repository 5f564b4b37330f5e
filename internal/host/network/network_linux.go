//go:build linux

package network

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/vishvananda/netlink"
)

// checkBridge verifies that name is an existing bridge link.
func checkBridge(name string) error {
	if name == "" {
		return fmt.Errorf("bridge mode without a configured bridge: %w", errdefs.ErrFailedPrecondition)
	}
	link, err := netlink.LinkByName(name)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return fmt.Errorf("bridge %q: %w", name, errdefs.ErrNotFound)
		}
		return fmt.Errorf("lookup bridge %q: %w", name, err)
	}
	if _, ok := link.(*netlink.Bridge); !ok {
		return fmt.Errorf("link %q is a %s, not a bridge: %w", name, link.Type(), errdefs.ErrFailedPrecondition)
	}
	return nil
}
