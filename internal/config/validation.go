package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// canonicalizePath returns the absolute, symlink-free form of path. For a
// path that does not exist yet, the deepest existing ancestor is resolved
// and the missing components are appended.
func canonicalizePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	parent := filepath.Dir(abs)
	if parent == abs {
		return abs, nil
	}
	canonicalParent, err := canonicalizePath(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(canonicalParent, filepath.Base(abs)), nil
}

func validateDirectoryExists(path, field string) error {
	canonical, err := canonicalizePath(path)
	if err != nil {
		return fmt.Errorf("%s: cannot resolve %q: %w", field, path, err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return fmt.Errorf("%s: %s: %w", field, canonical, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %s is not a directory", field, canonical)
	}
	return nil
}

func ensureDirectoryWritable(path, field string) error {
	canonical, err := canonicalizePath(path)
	if err != nil {
		return fmt.Errorf("%s: cannot resolve %q: %w", field, path, err)
	}
	if err := os.MkdirAll(canonical, 0750); err != nil {
		return fmt.Errorf("%s: cannot create %s: %w", field, canonical, err)
	}

	probe, err := os.CreateTemp(canonical, ".write-check-*")
	if err != nil {
		return fmt.Errorf("%s: %s is not writable: %w", field, canonical, err)
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}

func validateFileExists(path, field string) error {
	canonical, err := canonicalizePath(path)
	if err != nil {
		return fmt.Errorf("%s: cannot resolve %q: %w", field, path, err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return fmt.Errorf("%s: %s: %w", field, canonical, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s: %s is not a regular file", field, canonical)
	}
	return nil
}

func validateExecutable(path, field string) error {
	if err := validateFileExists(path, field); err != nil {
		return err
	}
	canonical, err := canonicalizePath(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return err
	}
	if info.Mode().Perm()&0111 == 0 {
		return fmt.Errorf("%s: %s is not executable", field, canonical)
	}
	return nil
}
