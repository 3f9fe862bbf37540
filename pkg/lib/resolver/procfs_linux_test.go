//go:build linux

package resolver

import (
	"context"
	"net"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcfsLookupFindsOwnListener(t *testing.T) {
	lookup, err := DefaultLookup()
	require.NoError(t, err)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	port := listener.Addr().(*net.TCPAddr).Port

	ports, err := lookup.ListeningPorts(context.Background(), os.Getpid())
	require.NoError(t, err)
	assert.Contains(t, ports, port)
}

func TestProcfsLookupIgnoresOtherProcesses(t *testing.T) {
	lookup, err := DefaultLookup()
	require.NoError(t, err)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	port := listener.Addr().(*net.TCPAddr).Port

	// The child does not inherit the listener: Go opens sockets close-on-exec.
	cmd := exec.Command("sleep", "10")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})

	ports, err := lookup.ListeningPorts(context.Background(), cmd.Process.Pid)
	require.NoError(t, err)
	assert.NotContains(t, ports, port)
}

func TestProcfsLookupMissingProcess(t *testing.T) {
	lookup, err := DefaultLookup()
	require.NoError(t, err)

	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())

	_, err = lookup.ListeningPorts(context.Background(), cmd.Process.Pid)
	assert.Error(t, err)
}

func TestSocketInodes(t *testing.T) {
	inodes := socketInodes([]string{"socket:[123]", "/dev/null", "pipe:[456]", "socket:[bad]", "socket:[789]"})
	assert.Len(t, inodes, 2)
	assert.Contains(t, inodes, uint64(123))
	assert.Contains(t, inodes, uint64(789))
}
