package main

import (
	"fmt"
	"strings"

	"github.com/kylerisse/neustart/pkg/check/dns"
	"github.com/kylerisse/neustart/pkg/config"
	"github.com/kylerisse/neustart/pkg/event"
	"github.com/kylerisse/neustart/pkg/monitor"
	"github.com/kylerisse/neustart/pkg/probe"
	"github.com/kylerisse/neustart/pkg/restart"
	"github.com/kylerisse/neustart/pkg/server"
	"github.com/sirupsen/logrus"
)

// configureLogger applies level and format to logger.
func configureLogger(logger *logrus.Logger, cfg config.LoggingConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid log format %q", cfg.Format)
	}
	return nil
}

func monitorSettings(cfg config.MonitorConfig) monitor.Settings {
	return monitor.Settings{
		Interval:     cfg.Interval,
		ProbeTimeout: cfg.ProbeTimeout,
		Concurrency:  cfg.Concurrency,
	}
}

// restartSettings falls back to the built-in runbook when no stages are
// configured.
func restartSettings(cfg config.RestartConfig) restart.Settings {
	s := restart.Settings{
		SettleWait:         cfg.SettleWait,
		RetryDelay:         cfg.RetryDelay,
		MaxAttempts:        cfg.MaxAttempts,
		AttemptTimeout:     cfg.AttemptTimeout,
		PreflightTimeout:   cfg.PreflightTimeout,
		Exclude:            append([]string(nil), cfg.Exclude...),
		RebootCommand:      cfg.RebootCommand,
		RemediationHost:    cfg.RemediationHost,
		RemediationCommand: cfg.RemediationCommand,
		Stages:             restart.DefaultRunbook(),
	}
	if len(cfg.Stages) > 0 {
		s.Stages = make([]restart.Stage, len(cfg.Stages))
		for i, st := range cfg.Stages {
			stage := restart.Stage{Name: st.Name, Wait: st.Wait}
			if stage.Name == "" {
				stage.Name = fmt.Sprintf("group-%d", i)
			}
			for _, t := range st.Targets {
				stage.Targets = append(stage.Targets, restart.Target{Hostname: t.Hostname, Port: t.Port})
			}
			s.Stages[i] = stage
		}
	}
	return s
}

func sshConfig(cfg config.SSHConfig) restart.SSHConfig {
	return restart.SSHConfig{
		User:           cfg.User,
		Port:           cfg.Port,
		KeyFile:        cfg.KeyFile,
		Password:       cfg.Password,
		KnownHostsFile: cfg.KnownHostsFile,
		Timeout:        cfg.Timeout,
	}
}

func mailSettings(cfg config.MailConfig) event.MailSettings {
	return event.MailSettings{
		Enabled:  cfg.Enabled,
		Host:     cfg.Host,
		Port:     cfg.Port,
		From:     cfg.From,
		To:       append([]string(nil), cfg.To...),
		Username: cfg.Username,
		Password: cfg.Password,
	}
}

func serverOptions(cfg config.ServerConfig) server.Options {
	return server.Options{
		Host:         cfg.Host,
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RateLimit:    cfg.RateLimit,
		RateBurst:    cfg.RateBurst,
	}
}

// newProber builds the probe, resolving names through cfg.DNS.Server when
// one is set.
func newProber(cfg *config.Config, logger *logrus.Logger) (*probe.Probe, error) {
	opts := []probe.Option{probe.WithNetworkCheck(cfg.Monitor.NetworkCheck)}
	if cfg.DNS.Server != "" {
		r, err := dns.NewResolver(cfg.DNS.Server, cfg.DNS.Timeout)
		if err != nil {
			return nil, err
		}
		opts = append(opts, probe.WithResolver(r))
	}
	return probe.New(logger, opts...)
}
