// Package fakeftpd is a stand-in for vsftpd used by tests. It accepts the
// same command-line surface (-oKEY=VALUE overrides plus a configuration
// path), rejects configuration files the way vsftpd does, and serves just
// enough FTP to accept or refuse an anonymous login.
//
// Test binaries re-execute themselves as the daemon: TestMain calls Main
// when EnvVar is set.
package fakeftpd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	ftpserver "github.com/fclairamb/ftpserverlib"
	"github.com/spf13/afero"

	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib/vsftpdconf"
)

// EnvVar switches a test binary into daemon mode.
const EnvVar = "FTPD_HARNESS_FAKE_DAEMON"

// Env is the DaemonEnv entry that enables EnvVar in a child process.
const Env = EnvVar + "=1"

var (
	errAnonymousDisabled = errors.New("this FTP server does not allow anonymous logins")
	errLoginIncorrect    = errors.New("login incorrect")
)

// Enabled reports whether the current process was asked to act as the daemon.
func Enabled() bool {
	return os.Getenv(EnvVar) == "1"
}

// Main runs the daemon until SIGTERM/SIGINT and returns the exit status.
func Main(args []string) int {
	return run(args, os.Stderr)
}

func run(args []string, stderr io.Writer) int {
	settings, err := Load(args)
	if err != nil {
		fmt.Fprintf(stderr, "500 OOPS: %v\n", err)
		return 1
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(settings.ListenAddress, strconv.Itoa(settings.ListenPort)))
	if err != nil {
		fmt.Fprintf(stderr, "500 OOPS: could not bind listening IPv4 socket\n")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	if err := Serve(ctx, settings, listener); err != nil {
		fmt.Fprintf(stderr, "500 OOPS: %v\n", err)
		return 1
	}
	return 0
}

// Serve answers FTP on listener until ctx is done.
func Serve(ctx context.Context, settings *Settings, listener net.Listener) error {
	server := ftpserver.NewFtpServer(&driver{
		settings: settings,
		listener: listener,
		fs:       afero.NewMemMapFs(),
	})

	go func() {
		<-ctx.Done()
		_ = server.Stop()
	}()

	if err := server.ListenAndServe(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// Load parses vsftpd-style arguments and the configuration file they name.
// Command-line overrides win over the file, as in vsftpd.
func Load(args []string) (*Settings, error) {
	var overrides []vsftpdconf.Directive
	configPath := ""
	for _, arg := range args {
		switch {
		case strings.HasPrefix(arg, "-o"):
			key, value, ok := strings.Cut(strings.TrimPrefix(arg, "-o"), "=")
			if !ok || key == "" {
				return nil, fmt.Errorf("bad option %q", arg)
			}
			overrides = append(overrides, vsftpdconf.Directive{Key: key, Value: value})
		case strings.HasPrefix(arg, "-"):
			return nil, fmt.Errorf("unrecognised option: %s", arg)
		case configPath != "":
			return nil, fmt.Errorf("more than one config file given")
		default:
			configPath = arg
		}
	}
	if configPath == "" {
		return nil, fmt.Errorf("no config file given")
	}

	directives, err := vsftpdconf.ParseFile(configPath)
	if err != nil {
		var syntaxErr *vsftpdconf.SyntaxError
		if errors.As(err, &syntaxErr) {
			return nil, fmt.Errorf("missing value in config file for: %s", syntaxErr.Text)
		}
		return nil, fmt.Errorf("cannot read config file: %s", configPath)
	}

	settings := defaultSettings()
	for _, d := range append(directives, overrides...) {
		if err := settings.apply(d); err != nil {
			return nil, err
		}
	}
	if err := settings.validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

type driver struct {
	settings *Settings
	listener net.Listener
	fs       afero.Fs
}

func (d *driver) GetSettings() (*ftpserver.Settings, error) {
	return &ftpserver.Settings{
		Listener:    d.listener,
		IdleTimeout: d.settings.IdleTimeout,
	}, nil
}

func (d *driver) ClientConnected(_ ftpserver.ClientContext) (string, error) {
	return d.settings.Banner, nil
}

func (d *driver) ClientDisconnected(_ ftpserver.ClientContext) {}

func (d *driver) AuthUser(_ ftpserver.ClientContext, user, _ string) (ftpserver.ClientDriver, error) {
	if user == "anonymous" || user == "ftp" {
		if !d.settings.AnonymousEnable {
			return nil, errAnonymousDisabled
		}
		return afero.NewBasePathFs(d.fs, "/"), nil
	}
	// There are no local accounts.
	return nil, errLoginIncorrect
}

func (d *driver) GetTLSConfig() (*tls.Config, error) {
	return nil, errors.New("TLS is not supported")
}
