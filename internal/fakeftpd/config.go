package fakeftpd

import (
	"os"

	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib"
)

// HarnessConfig returns a harness configuration whose daemon is the running
// executable in fake daemon mode. The caller's TestMain must dispatch to
// Main when Enabled reports true.
func HarnessConfig(workDir string) (*lib.Config, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}

	cfg := lib.DefaultConfig()
	cfg.Daemon = exe
	cfg.DaemonEnv = []string{Env}
	if workDir != "" {
		cfg.WorkDir = workDir
	}
	return cfg, nil
}
