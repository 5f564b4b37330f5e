// Package lifecycle validates VM lifecycle requests and tracks which VM
// identifiers are in which lifecycle state.
package lifecycle

import (
	"errors"
	"strconv"

	"github.com/containerd/errdefs"
)

// Status is the integer outcome reported to foreign callers.
// Zero is success; every failure kind has its own negative value.
type Status int32

const (
	StatusOK              Status = 0
	StatusInvalidArgument Status = -1
	StatusNotFound        Status = -2
	StatusInvalidState    Status = -3
	StatusAlreadyExists   Status = -4
	StatusBackendFailure  Status = -5
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInvalidArgument:
		return "invalid_argument"
	case StatusNotFound:
		return "not_found"
	case StatusInvalidState:
		return "invalid_state"
	case StatusAlreadyExists:
		return "already_exists"
	case StatusBackendFailure:
		return "backend_failure"
	default:
		return "status(" + strconv.Itoa(int(s)) + ")"
	}
}

// ErrBackend marks failures reported by the virtualization backend.
var ErrBackend = errors.New("backend failure")

// StatusOf maps an error returned by the Tracker onto a Status.
//
// ErrBackend is checked first: a backend may return errors that carry their
// own errdefs kind (a missing binary is NotFound, for example) and those must
// still surface as backend failures.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrBackend):
		return StatusBackendFailure
	case errdefs.IsInvalidArgument(err):
		return StatusInvalidArgument
	case errdefs.IsNotFound(err):
		return StatusNotFound
	case errdefs.IsFailedPrecondition(err):
		return StatusInvalidState
	case errdefs.IsAlreadyExists(err):
		return StatusAlreadyExists
	default:
		return StatusBackendFailure
	}
}
