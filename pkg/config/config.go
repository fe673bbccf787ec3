// Package config loads neustart configuration.
//
// Configuration is read from, in increasing order of precedence:
//   - default values
//   - a YAML file (./neustart.yaml, ./configs/neustart.yaml, /etc/neustart/neustart.yaml)
//   - a .env file in the working directory
//   - environment variables with the NEUSTART_ prefix
//
// Nested keys use underscores in the environment:
//   - NEUSTART_SERVER_PORT=1982
//   - NEUSTART_MONITOR_INTERVAL=30s
//   - NEUSTART_MAIL_ENABLED=true
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the root configuration. A loaded Config is never mutated;
// reloads produce a new one.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Restart   RestartConfig   `mapstructure:"restart"`
	SSH       SSHConfig       `mapstructure:"ssh"`
	Inventory InventoryConfig `mapstructure:"inventory"`
	Store     StoreConfig     `mapstructure:"store"`
	DNS       DNSConfig       `mapstructure:"dns"`
	Mail      MailConfig      `mapstructure:"mail"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig contains HTTP API settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// RateLimit is the sustained requests per second allowed per client.
	// Zero disables limiting.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`

	// AllowedOrigins is checked on websocket upgrades. "*" allows any.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// MonitorConfig controls the reachability loop.
type MonitorConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	Concurrency  int           `mapstructure:"concurrency"`
	// NetworkCheck is the check type used for the network layer: ping or tcp.
	NetworkCheck string `mapstructure:"network_check"`
}

// RestartConfig controls the restart runbook.
type RestartConfig struct {
	SettleWait       time.Duration `mapstructure:"settle_wait"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	AttemptTimeout   time.Duration `mapstructure:"attempt_timeout"`
	PreflightTimeout time.Duration `mapstructure:"preflight_timeout"`

	// Exclude lists hostnames that are never rebooted.
	Exclude []string `mapstructure:"exclude"`

	RebootCommand      string `mapstructure:"reboot_command"`
	RemediationHost    string `mapstructure:"remediation_host"`
	RemediationCommand string `mapstructure:"remediation_command"`

	// Stages overrides the built-in health-check runbook when non-empty.
	Stages []StageConfig `mapstructure:"stages"`
}

// StageConfig is one health-check stage.
type StageConfig struct {
	Name    string         `mapstructure:"name"`
	Targets []TargetConfig `mapstructure:"targets"`
	Wait    time.Duration  `mapstructure:"wait"`
}

// TargetConfig is one hostname:port pair checked in a stage.
type TargetConfig struct {
	Hostname string `mapstructure:"hostname"`
	Port     int    `mapstructure:"port"`
}

// SSHConfig contains credentials for command dispatch.
type SSHConfig struct {
	User           string        `mapstructure:"user"`
	Port           int           `mapstructure:"port"`
	KeyFile        string        `mapstructure:"key_file"`
	Password       string        `mapstructure:"password"`
	KnownHostsFile string        `mapstructure:"known_hosts_file"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// InventoryConfig points at the host inventory.
type InventoryConfig struct {
	File string `mapstructure:"file"`
}

// StoreConfig locates the SQLite database holding schedules and the audit log.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// DNSConfig enables name resolution through a specific server. An empty
// Server leaves addresses to the system resolver.
type DNSConfig struct {
	Server  string        `mapstructure:"server"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MailConfig controls alert and completion emails.
type MailConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the logrus level (debug, info, warn, error).
	Level string `mapstructure:"level"`
	// Format is text or json.
	Format string `mapstructure:"format"`
}

// Load reads configuration from cfgFile and the environment. A missing
// cfgFile is not an error; defaults apply.
func Load(cfgFile string) (*Config, error) {
	v, err := newViper(cfgFile)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

func newViper(cfgFile string) (*viper.Viper, error) {
	// A .env file only seeds the process environment; real variables win.
	if err := godotenv.Load(); err != nil && !isFileNotFoundError(err) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("neustart")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/neustart")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			if !isFileNotFoundError(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("NEUSTART")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 1982)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_limit", 10)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("monitor.interval", "60s")
	v.SetDefault("monitor.probe_timeout", "5s")
	v.SetDefault("monitor.concurrency", 16)
	v.SetDefault("monitor.network_check", "ping")

	v.SetDefault("restart.settle_wait", "2m")
	v.SetDefault("restart.retry_delay", "2m")
	v.SetDefault("restart.max_attempts", 30)
	v.SetDefault("restart.attempt_timeout", "5s")
	v.SetDefault("restart.preflight_timeout", "5s")
	v.SetDefault("restart.exclude", []string{"siegedbc"})
	v.SetDefault("restart.reboot_command", "reboot")
	v.SetDefault("restart.remediation_host", "assurnetprod")
	v.SetDefault("restart.remediation_command", "nohup bash /usr/etc/scripts/stop_wildfly.sh > /dev/null 2>&1 &")

	v.SetDefault("ssh.user", "root")
	v.SetDefault("ssh.port", 22)
	v.SetDefault("ssh.key_file", "")
	v.SetDefault("ssh.password", "")
	v.SetDefault("ssh.known_hosts_file", "")
	v.SetDefault("ssh.timeout", "10s")

	v.SetDefault("inventory.file", "hosts.yaml")
	v.SetDefault("store.path", "neustart.db")

	v.SetDefault("dns.server", "")
	v.SetDefault("dns.timeout", "2s")

	v.SetDefault("mail.enabled", false)
	v.SetDefault("mail.host", "")
	v.SetDefault("mail.port", 25)
	v.SetDefault("mail.from", "neustart@localhost")
	v.SetDefault("mail.to", []string{})
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Server.RateLimit < 0 {
		return fmt.Errorf("server rate_limit must not be negative")
	}

	if cfg.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor interval must be positive, got %v", cfg.Monitor.Interval)
	}
	if cfg.Monitor.ProbeTimeout <= 0 {
		return fmt.Errorf("monitor probe_timeout must be positive, got %v", cfg.Monitor.ProbeTimeout)
	}
	if cfg.Monitor.Concurrency < 1 {
		return fmt.Errorf("monitor concurrency must be at least 1, got %d", cfg.Monitor.Concurrency)
	}
	switch cfg.Monitor.NetworkCheck {
	case "ping", "tcp":
	default:
		return fmt.Errorf("monitor network_check must be ping or tcp, got %q", cfg.Monitor.NetworkCheck)
	}

	r := cfg.Restart
	if r.MaxAttempts < 1 {
		return fmt.Errorf("restart max_attempts must be at least 1, got %d", r.MaxAttempts)
	}
	if r.AttemptTimeout <= 0 || r.PreflightTimeout <= 0 {
		return fmt.Errorf("restart attempt_timeout and preflight_timeout must be positive")
	}
	if r.SettleWait < 0 || r.RetryDelay < 0 {
		return fmt.Errorf("restart settle_wait and retry_delay must not be negative")
	}
	if r.RebootCommand == "" {
		return fmt.Errorf("restart reboot_command is required")
	}
	for i, s := range r.Stages {
		if s.Name == "" {
			return fmt.Errorf("restart stage %d: name is required", i)
		}
		if s.Wait < 0 {
			return fmt.Errorf("restart stage %s: wait must not be negative", s.Name)
		}
		for _, t := range s.Targets {
			if t.Hostname == "" {
				return fmt.Errorf("restart stage %s: target hostname is required", s.Name)
			}
			if t.Port < 1 || t.Port > 65535 {
				return fmt.Errorf("restart stage %s: invalid port %d for %s", s.Name, t.Port, t.Hostname)
			}
		}
	}

	if cfg.SSH.User == "" {
		return fmt.Errorf("ssh user is required")
	}
	if cfg.SSH.Port < 1 || cfg.SSH.Port > 65535 {
		return fmt.Errorf("invalid ssh port: %d", cfg.SSH.Port)
	}

	if cfg.Inventory.File == "" {
		return fmt.Errorf("inventory file is required")
	}
	if cfg.Store.Path == "" {
		return fmt.Errorf("store path is required")
	}

	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging format must be text or json, got %q", cfg.Logging.Format)
	}
	return nil
}

// isFileNotFoundError checks if an error is a file not found error.
func isFileNotFoundError(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr, os.ErrNotExist)
	}
	return errors.Is(err, os.ErrNotExist)
}
