package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/SanjoDeundiak/ftpd-harness/pkg/harness"
	"github.com/SanjoDeundiak/ftpd-harness/pkg/lib"
)

// app carries what PersistentPreRunE resolved to the subcommands.
type app struct {
	cfg *lib.Config
	log *logrus.Logger
}

func (a *app) harness() (*harness.Harness, error) {
	return harness.NewLocal(a.cfg, harness.WithLogger(a.log))
}

func NewRootCmd() *cobra.Command {
	a := &app{}
	var (
		daemon    string
		workDir   string
		logLevel  string
		logFormat string
	)

	root := &cobra.Command{
		Use:           "ftpd-harness",
		Short:         "Launch, probe and supervise FTP daemons on ephemeral ports",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := lib.LoadConfig()
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("daemon") {
				cfg.Daemon = daemon
			}
			if flags.Changed("work-dir") {
				cfg.WorkDir = workDir
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if flags.Changed("log-format") {
				cfg.LogFormat = logFormat
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			a.cfg = cfg
			a.log = lib.NewLogger(cfg.LogLevel, cfg.LogFormat)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&daemon, "daemon", "", "daemon executable (default $FTPD_HARNESS_DAEMON or vsftpd)")
	pf.StringVar(&workDir, "work-dir", "", "directory for configuration files and daemon working directories")
	pf.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&logFormat, "log-format", "", "text or json")

	root.AddCommand(newCheckCmd(a))
	root.AddCommand(newStartCmd(a))
	root.AddCommand(newProbeCmd(a))
	root.AddCommand(newScenariosCmd(a))
	root.AddCommand(newHealthCmd())

	return root
}
