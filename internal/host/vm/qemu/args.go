package qemu

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	pidFileName     = "qemu.pid"
	consoleFileName = "console.log"
	qmpSocketName   = "qmp.sock"
	kvmDevice       = "/dev/kvm"
)

type launchSpec struct {
	name      string
	stateDir  string
	cpus      uint32
	memoryMiB uint32
	disk      DiskConfig
	boot      BootConfig
	netArgs   []string
	kvm       bool
}

// diskFormat guesses the image format from the file extension.
func diskFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".qcow2", ".qcow":
		return "qcow2"
	case ".vmdk":
		return "vmdk"
	case ".vhdx":
		return "vhdx"
	default:
		return "raw"
	}
}

// escapeOpt doubles commas so a value survives QEMU option parsing.
func escapeOpt(v string) string {
	return strings.ReplaceAll(v, ",", ",,")
}

func kvmAvailable() bool {
	f, err := os.OpenFile(kvmDevice, os.O_RDWR, 0)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

func buildArgs(s launchSpec) []string {
	accel := "tcg"
	if s.kvm {
		accel = "kvm"
	}

	drive := "file=" + escapeOpt(s.disk.Path) + ",if=virtio,format=" + s.disk.Format
	if s.disk.Readonly {
		drive += ",readonly=on"
	}

	args := []string{
		"-name", s.name,
		"-accel", accel,
		"-smp", strconv.FormatUint(uint64(s.cpus), 10),
		"-m", strconv.FormatUint(uint64(s.memoryMiB), 10) + "M",
		"-display", "none",
		"-drive", drive,
	}

	if s.boot.Kernel != "" {
		args = append(args, "-kernel", s.boot.Kernel)
		if s.boot.Initrd != "" {
			args = append(args, "-initrd", s.boot.Initrd)
		}
		if s.boot.Cmdline != "" {
			args = append(args, "-append", s.boot.Cmdline)
		}
	}

	args = append(args, s.netArgs...)
	args = append(args,
		"-serial", "file:"+filepath.Join(s.stateDir, consoleFileName),
		"-qmp", "unix:"+escapeOpt(filepath.Join(s.stateDir, qmpSocketName))+",server=on,wait=off",
		"-pidfile", filepath.Join(s.stateDir, pidFileName),
		"-daemonize",
	)
	return args
}
