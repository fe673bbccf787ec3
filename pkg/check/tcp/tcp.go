// Package tcp implements the service-layer reachability check: a plain TCP
// connect to the host's declared port, closed as soon as it is established.
package tcp

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/kylerisse/neustart/pkg/check"
)

const (
	// TypeName is the registered name for this check type.
	TypeName = "tcp"

	// DefaultTimeout is the default connect timeout.
	DefaultTimeout = 5 * time.Second
)

// Check implements check.Check using a TCP connect.
type Check struct {
	target  string
	port    int
	timeout time.Duration
	dialer  *net.Dialer
}

// Option is a functional option for configuring a TCP Check.
type Option func(*Check) error

// WithTimeout sets the connect timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Check) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", d)
		}
		c.timeout = d
		return nil
	}
}

// New creates a TCP Check for target:port.
func New(target string, port int, opts ...Option) (*Check, error) {
	if target == "" {
		return nil, fmt.Errorf("tcp: target must not be empty")
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("tcp: port must be between 1 and 65535, got %d", port)
	}

	c := &Check{
		target:  target,
		port:    port,
		timeout: DefaultTimeout,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("tcp: %w", err)
		}
	}

	c.dialer = &net.Dialer{Timeout: c.timeout}
	return c, nil
}

// Type returns the check type name.
func (c *Check) Type() string {
	return TypeName
}

// Address returns the host:port this check connects to.
func (c *Check) Address() string {
	return net.JoinHostPort(c.target, strconv.Itoa(c.port))
}

// Run dials the target and reports the connect time in microseconds.
func (c *Check) Run(ctx context.Context) check.Result {
	now := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, "tcp", c.Address())
	if err != nil {
		return check.Result{
			Timestamp: now,
			Success:   false,
			Err:       fmt.Errorf("tcp %s: %w", c.Address(), err),
		}
	}
	elapsed := time.Since(now)
	conn.Close()

	return check.Result{
		Timestamp: now,
		Success:   true,
		Metrics: map[string]int64{
			"latency_us": elapsed.Microseconds(),
		},
	}
}

// Factory creates a TCP Check from a config map.
// Required keys: "target" (string), "port" (number).
// Optional keys: "timeout" (string parseable by time.ParseDuration).
func Factory(config map[string]any) (check.Check, error) {
	target, ok := config["target"]
	if !ok {
		return nil, fmt.Errorf("tcp: config missing required key 'target'")
	}
	targetStr, ok := target.(string)
	if !ok {
		return nil, fmt.Errorf("tcp: 'target' must be a string, got %T", target)
	}

	rawPort, ok := config["port"]
	if !ok {
		return nil, fmt.Errorf("tcp: config missing required key 'port'")
	}
	var port int
	switch p := rawPort.(type) {
	case int:
		port = p
	case float64:
		port = int(p)
	default:
		return nil, fmt.Errorf("tcp: 'port' must be a number, got %T", rawPort)
	}

	var opts []Option
	if v, ok := config["timeout"]; ok {
		ts, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("tcp: 'timeout' must be a duration string, got %T", v)
		}
		d, err := time.ParseDuration(ts)
		if err != nil {
			return nil, fmt.Errorf("tcp: invalid timeout %q: %w", ts, err)
		}
		opts = append(opts, WithTimeout(d))
	}

	return New(targetStr, port, opts...)
}
