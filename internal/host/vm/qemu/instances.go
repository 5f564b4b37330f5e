package qemu

import (
	"github.com/aledbf/vmlauncher/internal/host/store"
	"github.com/aledbf/vmlauncher/internal/paths"
)

const instanceBucket = "instances"

func openStore(stateDir string) (*store.BoltStore[Instance], error) {
	return store.NewBoltStore[Instance](paths.InstanceDBPath(stateDir), instanceBucket)
}

// ListInstances returns the instance records kept below stateDir. It does
// not need a QEMU binary and is safe to call while a Backend is running.
func ListInstances(stateDir string) ([]Instance, error) {
	s, err := openStore(stateDir)
	if err != nil {
		return nil, err
	}
	return s.List()
}
