package resolver

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os/exec"
	"sort"
	"strconv"
	"strings"
)

// LsofLookup asks lsof for the listening TCP sockets of a PID. It is the
// portable fallback where no procfs is mounted.
type LsofLookup struct {
	// Path to the lsof executable; "lsof" when empty.
	Path string
}

func (l LsofLookup) ListeningPorts(ctx context.Context, pid int) ([]int, error) {
	path := l.Path
	if path == "" {
		path = "lsof"
	}

	// -a ANDs the selections so only sockets of pid are listed.
	cmd := exec.CommandContext(ctx, path, "-nP", "-a", "-p", strconv.Itoa(pid), "-iTCP", "-sTCP:LISTEN", "-Fn")
	out, err := cmd.Output()
	if err != nil {
		// lsof exits 1 when nothing matched.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && len(bytes.TrimSpace(out)) == 0 {
			return nil, nil
		}
		return nil, err
	}

	return parseLsof(out, pid), nil
}

// parseLsof extracts ports from lsof -F output: a "p<pid>" record starts
// each process and "n<addr>:<port>" carries socket names.
func parseLsof(out []byte, pid int) []int {
	seen := make(map[int]struct{})
	current := -1

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		switch line[0] {
		case 'p':
			p, err := strconv.Atoi(line[1:])
			if err != nil {
				current = -1
				continue
			}
			current = p
		case 'n':
			if current != pid || strings.Contains(line, "->") {
				continue
			}
			idx := strings.LastIndexByte(line, ':')
			if idx < 0 {
				continue
			}
			port, err := strconv.Atoi(line[idx+1:])
			if err != nil || port <= 0 || port > 65535 {
				continue
			}
			seen[port] = struct{}{}
		}
	}

	ports := make([]int, 0, len(seen))
	for port := range seen {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports
}
