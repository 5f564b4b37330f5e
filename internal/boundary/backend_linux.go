//go:build linux

package boundary

import (
	"github.com/containerd/log"

	"github.com/aledbf/vmlauncher/internal/config"
	"github.com/aledbf/vmlauncher/internal/host/vm/qemu"
	"github.com/aledbf/vmlauncher/internal/lifecycle"
)

func newBackend(cfg *config.Config) (lifecycle.Backend, error) {
	if err := cfg.ValidateHost(); err != nil {
		return nil, err
	}
	b, err := qemu.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	log.L.WithField("qemu", b.Binary()).Info("qemu backend ready")
	return b, nil
}
