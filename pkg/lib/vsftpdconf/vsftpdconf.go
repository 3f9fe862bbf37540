// Package vsftpdconf writes and parses the line-oriented key=value
// configuration files read by vsftpd.
package vsftpdconf

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib"
)

// Directive is one key=value line.
type Directive struct {
	Key   string
	Value string
}

func (d Directive) String() string {
	return d.Key + "=" + d.Value
}

// SyntaxError reports a line that is not a key=value pair.
type SyntaxError struct {
	Line int
	Text string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: missing '=' in %q", e.Line, e.Text)
}

// Parse reads directives in file order. Blank lines and lines starting with
// '#' are skipped. Keys are not checked against any schema.
func Parse(r io.Reader) ([]Directive, error) {
	var directives []Directive

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, value, ok := strings.Cut(text, "=")
		if !ok || key == "" {
			return nil, &SyntaxError{Line: line, Text: text}
		}
		directives = append(directives, Directive{Key: key, Value: value})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return directives, nil
}

// ParseFile is Parse over the file at path.
func ParseFile(path string) ([]Directive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Parse(f)
}

// Artifact is a configuration file living in a directory of its own, so
// that no two scenarios ever share a path.
type Artifact struct {
	Dir  string
	Path string
}

// Write creates a fresh directory under parent and writes lines into a new
// configuration file inside it. Lines are written verbatim, malformed ones
// included: rejecting them is the daemon's job.
func Write(parent string, lines ...string) (*Artifact, error) {
	dir, err := os.MkdirTemp(parent, "vsftpd-")
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, "vsftpd-"+lib.NewID()+".conf")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o600); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	return &Artifact{Dir: dir, Path: path}, nil
}

// WriteDirectives is Write for well-formed directives.
func WriteDirectives(parent string, directives ...Directive) (*Artifact, error) {
	lines := make([]string, 0, len(directives))
	for _, d := range directives {
		lines = append(lines, d.String())
	}
	return Write(parent, lines...)
}

// Remove deletes the artifact and its directory.
func (a *Artifact) Remove() error {
	if a == nil {
		return nil
	}
	return os.RemoveAll(a.Dir)
}
