package qemu

import "time"

const (
	// defaultShutdownTimeout bounds the graceful stop when none is configured.
	defaultShutdownTimeout = 10 * time.Second

	// shutdownKillWait bounds the wait after SIGKILL.
	shutdownKillWait = 2 * time.Second

	// pidFileWait bounds the wait for the daemonized QEMU to write its pid.
	pidFileWait = 5 * time.Second

	// shutdownQMPTimeout bounds one QMP exchange, dial included.
	shutdownQMPTimeout = 2 * time.Second

	// shutdownQuitWait bounds the wait after a QMP quit.
	shutdownQuitWait = 2 * time.Second
)
