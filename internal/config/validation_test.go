//go:build linux

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCanonicalizePath_CleansDotDot(t *testing.T) {
	tmpDir := t.TempDir()

	subDir := filepath.Join(tmpDir, "subdir")
	if err := os.MkdirAll(subDir, 0750); err != nil {
		t.Fatal(err)
	}

	canonical, err := canonicalizePath(filepath.Join(subDir, "..", "subdir"))
	if err != nil {
		t.Fatalf("canonicalizePath failed: %v", err)
	}
	if canonical != subDir {
		t.Errorf("expected %s, got %s", subDir, canonical)
	}
}

func TestCanonicalizePath_ResolvesSymlinks(t *testing.T) {
	tmpDir := t.TempDir()

	realDir := filepath.Join(tmpDir, "realdir")
	if err := os.MkdirAll(realDir, 0750); err != nil {
		t.Fatal(err)
	}
	symlinkPath := filepath.Join(tmpDir, "linkdir")
	if err := os.Symlink(realDir, symlinkPath); err != nil {
		t.Fatal(err)
	}

	canonical, err := canonicalizePath(symlinkPath)
	if err != nil {
		t.Fatalf("canonicalizePath failed: %v", err)
	}
	if canonical != realDir {
		t.Errorf("expected symlink to resolve to %s, got %s", realDir, canonical)
	}
}

func TestCanonicalizePath_HandlesNonExistentPath(t *testing.T) {
	tmpDir := t.TempDir()

	nonExistent := filepath.Join(tmpDir, "does", "not", "exist")
	canonical, err := canonicalizePath(nonExistent)
	if err != nil {
		t.Fatalf("canonicalizePath failed for non-existent path: %v", err)
	}
	if !strings.HasPrefix(canonical, tmpDir) {
		t.Errorf("expected path to start with %s, got %s", tmpDir, canonical)
	}
	if !strings.HasSuffix(canonical, filepath.Join("does", "not", "exist")) {
		t.Errorf("missing components dropped: %s", canonical)
	}
}

func TestValidateDirectoryExists(t *testing.T) {
	tmpDir := t.TempDir()

	if err := validateDirectoryExists(tmpDir, "state_dir"); err != nil {
		t.Fatalf("validateDirectoryExists failed: %v", err)
	}

	file := filepath.Join(tmpDir, "file")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatal(err)
	}
	err := validateDirectoryExists(file, "state_dir")
	if err == nil || !strings.Contains(err.Error(), "not a directory") {
		t.Errorf("expected not a directory error, got %v", err)
	}

	if err := validateDirectoryExists(filepath.Join(tmpDir, "missing"), "state_dir"); err == nil {
		t.Error("validateDirectoryExists should fail for a missing directory")
	}
}

func TestEnsureDirectoryWritable_CreatesAtCanonicalPath(t *testing.T) {
	tmpDir := t.TempDir()

	realDir := filepath.Join(tmpDir, "realdir")
	if err := os.MkdirAll(realDir, 0750); err != nil {
		t.Fatal(err)
	}
	symlinkPath := filepath.Join(tmpDir, "linkdir")
	if err := os.Symlink(realDir, symlinkPath); err != nil {
		t.Fatal(err)
	}

	if err := ensureDirectoryWritable(filepath.Join(symlinkPath, "newsubdir"), "state_dir"); err != nil {
		t.Fatalf("ensureDirectoryWritable failed: %v", err)
	}

	expectedRealPath := filepath.Join(realDir, "newsubdir")
	info, err := os.Stat(expectedRealPath)
	if err != nil {
		t.Fatalf("directory not created at canonical path %s: %v", expectedRealPath, err)
	}
	if !info.IsDir() {
		t.Errorf("expected directory at %s", expectedRealPath)
	}

	entries, err := os.ReadDir(expectedRealPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("write probe left behind: %v", entries)
	}
}

func TestValidateExecutable_ResolvesSymlinks(t *testing.T) {
	tmpDir := t.TempDir()

	realExe := filepath.Join(tmpDir, "qemu-system-x86_64")
	if err := os.WriteFile(realExe, []byte("#!/bin/sh\n"), 0750); err != nil {
		t.Fatal(err)
	}
	symlinkPath := filepath.Join(tmpDir, "qemu")
	if err := os.Symlink(realExe, symlinkPath); err != nil {
		t.Fatal(err)
	}

	if err := validateExecutable(symlinkPath, "qemu_path"); err != nil {
		t.Errorf("validateExecutable failed for symlink: %v", err)
	}
}

func TestValidateExecutable_Rejects(t *testing.T) {
	tmpDir := t.TempDir()

	brokenLink := filepath.Join(tmpDir, "broken")
	if err := os.Symlink("/nonexistent/target", brokenLink); err != nil {
		t.Fatal(err)
	}
	if err := validateExecutable(brokenLink, "qemu_path"); err == nil {
		t.Error("validateExecutable should fail for broken symlink")
	}

	plain := filepath.Join(tmpDir, "plain")
	if err := os.WriteFile(plain, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := validateExecutable(plain, "qemu_path"); err == nil {
		t.Error("validateExecutable should fail for a non-executable file")
	}

	if err := validateExecutable(tmpDir, "qemu_path"); err == nil {
		t.Error("validateExecutable should fail for a directory")
	}
}
