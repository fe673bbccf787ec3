package main

import (
	"fmt"
	"os"

	"github.com/kylerisse/neustart/pkg/config"
	"github.com/kylerisse/neustart/pkg/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// app is shared by every subcommand once the root has loaded config.
type app struct {
	cfgFile   string
	logLevel  string
	logFormat string

	store  *config.Store
	logger *logrus.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{logger: logrus.New()}
	a.logger.SetOutput(os.Stderr)

	root := &cobra.Command{
		Use:   "neustartd",
		Short: "Host reachability monitor and restart orchestrator",
		Long: `neustartd probes every active host of the inventory at a fixed interval,
alerts when a host goes down, and reboots groups of hosts in a fixed order,
waiting for each group's services to answer before moving on.`,
		Version:      version.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	root.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "%s" .Version}}
`)

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default: ./neustart.yaml)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&a.logFormat, "log-format", "", "log format (text, json)")

	root.AddCommand(
		newServeCmd(a),
		newProbeCmd(a),
		newRunbookCmd(a),
		newVersionCmd(),
	)
	return root
}

// load reads configuration and applies the logging section, with flags
// taking precedence over the file.
func (a *app) load() error {
	store, err := config.LoadStore(a.cfgFile, a.logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a.store = store

	if err := a.applyLogging(store.Load().Logging); err != nil {
		return err
	}
	if file := store.ConfigFile(); file != "" {
		a.logger.WithField("file", file).Debug("Configuration loaded")
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// no configuration needed
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			info := version.Get()
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, info.String())
			if verbose {
				fmt.Fprintf(out, "\nDetails:\n")
				fmt.Fprintf(out, "  Version:    %s\n", info.Version)
				fmt.Fprintf(out, "  Git Commit: %s\n", info.GitCommit)
				fmt.Fprintf(out, "  Built:      %s\n", info.BuildTime)
				fmt.Fprintf(out, "  Go Version: %s\n", info.GoVersion)
				fmt.Fprintf(out, "  Platform:   %s\n", info.Platform)
			}
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose version output")
	return cmd
}

// applyLogging configures the logger from cfg with the --log-level and
// --log-format flags layered on top. It runs on load and on every reload.
func (a *app) applyLogging(cfg config.LoggingConfig) error {
	if a.logLevel != "" {
		cfg.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Format = a.logFormat
	}
	return configureLogger(a.logger, cfg)
}

// followLogging reapplies the logging section on every config reload.
func (a *app) followLogging() {
	a.store.OnChange(func(c *config.Config) {
		if err := a.applyLogging(c.Logging); err != nil {
			a.logger.Warnf("Keeping previous logging settings: %v", err)
		}
	})
}
