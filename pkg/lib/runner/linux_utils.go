//go:build linux

package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

const (
	cgroupMount = "/sys/fs/cgroup"
	cgroupRoot  = cgroupMount + "/ftpd-harness"
)

var (
	cgroupInitOnce sync.Once
	cgroupInitErr  error
)

// initCgroups creates the harness cgroup root once. As non-root, this is a no-op.
func initCgroups() error {
	cgroupInitOnce.Do(func() {
		if os.Geteuid() != 0 {
			return
		}
		cgroupInitErr = initCgroupsImpl(cgroupMount, cgroupRoot)
	})
	return cgroupInitErr
}

// initCgroupsImpl creates root under mount. On hybrid and v1 hosts mount is
// a tmpfs where MkdirAll succeeds without creating a cgroup, so the mount
// type and the controller file are both checked.
func initCgroupsImpl(mount, root string) error {
	if !isCgroup2(mount) {
		return fmt.Errorf("%s is not a cgroup v2 mount", mount)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	if _, err := os.ReadFile(filepath.Join(root, "cgroup.controllers")); err != nil {
		_ = os.Remove(root)
		return fmt.Errorf("read cgroup controllers: %w", err)
	}
	return nil
}

func isCgroup2(path string) bool {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return false
	}
	return st.Type == unix.CGROUP2_SUPER_MAGIC
}

// processGroupAttr puts the daemon in its own process group only.
func processGroupAttr() *SysProcAttr {
	return &SysProcAttr{
		Raw: &syscall.SysProcAttr{
			Setpgid: true,
		},
	}
}

// GetSysProcAttr puts the daemon in its own process group and, as root on a
// cgroup v2 host, in its own cgroup so that every descendant can be killed.
func GetSysProcAttr(id string) (*SysProcAttr, error) {
	if os.Geteuid() != 0 {
		return processGroupAttr(), nil
	}

	// Hosts without a writable cgroup v2 hierarchy fall back to the process group.
	if err := initCgroups(); err != nil {
		return processGroupAttr(), nil
	}

	cgPath := filepath.Join(cgroupRoot, id)
	if err := os.MkdirAll(cgPath, 0755); err != nil {
		return processGroupAttr(), nil
	}

	cGroupFile, err := os.Open(cgPath)
	if err != nil {
		_ = os.Remove(cgPath)
		return processGroupAttr(), nil
	}

	return &SysProcAttr{
		File: cGroupFile,
		Raw: &syscall.SysProcAttr{
			Setpgid:     true,
			UseCgroupFD: true,
			CgroupFD:    int(cGroupFile.Fd()),
		},
		Cgroup: true,
	}, nil
}

// KillCgroup kills every process in the daemon's cgroup.
func KillCgroup(id string) (bool, error) {
	err := writeString(filepath.Join(cgroupRoot, id, "cgroup.kill"), "1")
	return err == nil, err
}

// CleanupCgroup removes the daemon's cgroup; the kernel refuses while it is populated.
func CleanupCgroup(id string) error {
	err := os.Remove(filepath.Join(cgroupRoot, id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func writeString(path, val string) error {
	return os.WriteFile(path, []byte(val), 0644)
}
