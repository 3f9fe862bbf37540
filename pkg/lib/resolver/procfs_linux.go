//go:build linux

package resolver

import (
	"context"
	"errors"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"
)

// tcpListen is TCP_LISTEN in the st column of /proc/net/tcp.
const tcpListen = 0x0A

// ProcfsLookup matches the socket inodes held open by a PID against the
// listening rows of /proc/net/tcp and /proc/net/tcp6.
type ProcfsLookup struct {
	fs procfs.FS
}

// NewProcfsLookup reads procfs mounted at mountPoint.
func NewProcfsLookup(mountPoint string) (*ProcfsLookup, error) {
	procFS, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, err
	}
	return &ProcfsLookup{fs: procFS}, nil
}

func (l *ProcfsLookup) ListeningPorts(_ context.Context, pid int) ([]int, error) {
	proc, err := l.fs.Proc(pid)
	if err != nil {
		return nil, err
	}
	targets, err := proc.FileDescriptorTargets()
	if err != nil {
		return nil, err
	}

	inodes := socketInodes(targets)
	if len(inodes) == 0 {
		return nil, nil
	}

	rows, err := l.fs.NetTCP()
	if err != nil {
		return nil, err
	}
	rows6, err := l.fs.NetTCP6()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	rows = append(rows, rows6...)

	seen := make(map[int]struct{})
	for _, row := range rows {
		if row.St != tcpListen || row.LocalPort == 0 {
			continue
		}
		if _, ok := inodes[row.Inode]; !ok {
			continue
		}
		seen[int(row.LocalPort)] = struct{}{}
	}

	ports := make([]int, 0, len(seen))
	for port := range seen {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports, nil
}

// socketInodes parses "socket:[12345]" fd targets.
func socketInodes(targets []string) map[uint64]struct{} {
	inodes := make(map[uint64]struct{})
	for _, target := range targets {
		rest, ok := strings.CutPrefix(target, "socket:[")
		if !ok {
			continue
		}
		inode, err := strconv.ParseUint(strings.TrimSuffix(rest, "]"), 10, 64)
		if err != nil {
			continue
		}
		inodes[inode] = struct{}{}
	}
	return inodes
}

// DefaultLookup inspects the system procfs.
func DefaultLookup() (Lookup, error) {
	return NewProcfsLookup(procfs.DefaultMountPoint)
}
