// Package paths resolves the on-disk locations used by vmlauncher.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// Boot assets directory
	ShareDir = "/usr/share/vmlauncher"

	// State files directory
	StateDir = "/var/lib/vmlauncher"

	instancesDirName = "instances"
	instanceDBName   = "instances.db"
)

// GetShareDir returns the vmlauncher share directory, checking environment variables first
func GetShareDir() string {
	if dir := os.Getenv("VMLAUNCHER_SHARE_DIR"); dir != "" {
		return dir
	}
	return ShareDir
}

// GetStateDir returns the vmlauncher state directory, checking environment variables first
func GetStateDir() string {
	if dir := os.Getenv("VMLAUNCHER_STATE_DIR"); dir != "" {
		return dir
	}
	return StateDir
}

// InstanceDBPath returns the path to the backend instance database.
func InstanceDBPath(stateDir string) string {
	return filepath.Join(stateDir, instanceDBName)
}

// InstanceDir returns the per-instance state directory for a backend handle.
func InstanceDir(stateDir, handle string) string {
	return filepath.Join(stateDir, instancesDirName, handle)
}

// QEMUSearchPaths returns the directories searched for QEMU binaries after PATH.
func QEMUSearchPaths() []string {
	return []string{
		filepath.Join(GetShareDir(), "bin"),
		"/usr/local/bin",
		"/usr/bin",
		"/usr/libexec",
		"/opt/qemu/bin",
	}
}

// FindFile returns the first regular file called name in dirs.
func FindFile(name string, dirs []string) (string, error) {
	for _, dir := range dirs {
		if dir == "" {
			dir = "."
		}
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return path, nil
		}
	}
	return "", fmt.Errorf("%q not found in %v", name, dirs)
}

// fileExists reports whether path resolves, through symlinks, to a regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// dirExists reports whether path resolves, through symlinks, to a directory.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// EnsureDir creates dir if it does not exist and reports an error if a
// non-directory is in the way.
func EnsureDir(dir string) error {
	if dirExists(dir) {
		return nil
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}
