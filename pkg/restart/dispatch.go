package restart

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Dispatcher runs a shell command on a remote host.
type Dispatcher interface {
	Run(ctx context.Context, address, command string) error
}

// SSHConfig holds the credentials used to reach managed hosts.
type SSHConfig struct {
	User           string
	Port           int
	KeyFile        string
	Password       string
	KnownHostsFile string
	Timeout        time.Duration
}

// SSHDispatcher runs commands over SSH.
type SSHDispatcher struct {
	port   int
	config *ssh.ClientConfig
	logger *logrus.Logger
}

// NewSSHDispatcher builds a dispatcher from cfg. At least one of KeyFile
// and Password must be set. Without a KnownHostsFile host keys are not
// verified.
func NewSSHDispatcher(cfg SSHConfig, logger *logrus.Logger) (*SSHDispatcher, error) {
	var auth []ssh.AuthMethod
	if cfg.KeyFile != "" {
		key, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read ssh key %s: %w", cfg.KeyFile, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key %s: %w", cfg.KeyFile, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("ssh: no key file or password configured")
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts %s: %w", cfg.KnownHostsFile, err)
		}
		hostKey = cb
	} else {
		logger.Warn("No known_hosts file configured, SSH host keys will not be verified")
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}
	return &SSHDispatcher{
		port: port,
		config: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            auth,
			HostKeyCallback: hostKey,
			Timeout:         cfg.Timeout,
		},
		logger: logger,
	}, nil
}

// Run implements Dispatcher. A session that ends without an exit status,
// as happens when the remote host goes down for reboot, counts as success.
func (d *SSHDispatcher) Run(ctx context.Context, address, command string) error {
	addr := net.JoinHostPort(address, strconv.Itoa(d.port))

	dialer := net.Dialer{Timeout: d.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	// Tear the connection down if ctx ends mid-command.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if d.config.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(d.config.Timeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, d.config)
	if err != nil {
		conn.Close()
		return fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})
	client := ssh.NewClient(c, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("open session on %s: %w", addr, err)
	}
	defer session.Close()

	d.logger.WithFields(logrus.Fields{
		"host":    address,
		"command": command,
	}).Debug("Dispatching command")

	if err := session.Run(command); err != nil {
		var missing *ssh.ExitMissingError
		if errors.As(err, &missing) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("run %q on %s: %w", command, addr, err)
	}
	return nil
}
