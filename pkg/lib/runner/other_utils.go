//go:build !linux

package runner

import (
	"syscall"
)

func processGroupAttr() *SysProcAttr {
	return &SysProcAttr{
		Raw: &syscall.SysProcAttr{
			// New process group to manage children as a unit
			Setpgid: true,
		}}
}

func GetSysProcAttr(id string) (*SysProcAttr, error) {
	return processGroupAttr(), nil
}

func KillCgroup(id string) (bool, error) {
	return false, nil
}

func CleanupCgroup(id string) error {
	return nil
}
