package main

import (
	"io"

	"github.com/kylerisse/neustart/pkg/restart"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type runbookDoc struct {
	Exclude            []string        `yaml:"exclude"`
	RebootCommand      string          `yaml:"reboot_command"`
	RemediationHost    string          `yaml:"remediation_host"`
	RemediationCommand string          `yaml:"remediation_command"`
	SettleWait         string          `yaml:"settle_wait"`
	RetryDelay         string          `yaml:"retry_delay"`
	MaxAttempts        int             `yaml:"max_attempts"`
	Stages             []restart.Stage `yaml:"stages"`
}

func newRunbookCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "runbook",
		Short: "Print the effective restart runbook as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeRunbook(cmd.OutOrStdout(), restartSettings(a.store.Load().Restart))
		},
	}
}

func writeRunbook(w io.Writer, s restart.Settings) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(runbookDoc{
		Exclude:            s.Exclude,
		RebootCommand:      s.RebootCommand,
		RemediationHost:    s.RemediationHost,
		RemediationCommand: s.RemediationCommand,
		SettleWait:         s.SettleWait.String(),
		RetryDelay:         s.RetryDelay.String(),
		MaxAttempts:        s.MaxAttempts,
		Stages:             s.Stages,
	}); err != nil {
		return err
	}
	return enc.Close()
}
