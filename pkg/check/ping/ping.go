// Package ping implements the network-layer reachability check by running
// the system ping binary once against the target.
package ping

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/kylerisse/neustart/pkg/check"
)

const (
	// TypeName is the registered name for this check type.
	TypeName = "ping"

	// DefaultTimeout bounds the wait for an echo reply.
	DefaultTimeout = 3 * time.Second

	// DefaultCount is the number of echo requests sent.
	DefaultCount = 1

	// DefaultCommand is the binary looked up on PATH.
	DefaultCommand = "ping"
)

var errNoReply = errors.New("no round-trip time in ping output")

// rttPattern matches "time=0.045 ms", "time=12ms" and "time<1ms".
var rttPattern = regexp.MustCompile(`time[=<]\s*([0-9]+(?:\.[0-9]+)?)\s*(ms|us|µs|s)\b`)

// Check implements check.Check on top of the ping command.
type Check struct {
	target  string
	timeout time.Duration
	count   int
	command string
}

// Option is a functional option for configuring a ping Check.
type Option func(*Check) error

// WithTimeout sets how long to wait for a reply.
func WithTimeout(d time.Duration) Option {
	return func(c *Check) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", d)
		}
		c.timeout = d
		return nil
	}
}

// WithCount sets the number of echo requests.
func WithCount(n int) Option {
	return func(c *Check) error {
		if n < 1 {
			return fmt.Errorf("count must be at least 1, got %d", n)
		}
		c.count = n
		return nil
	}
}

// WithCommand replaces the ping binary.
func WithCommand(path string) Option {
	return func(c *Check) error {
		if path == "" {
			return fmt.Errorf("command must not be empty")
		}
		c.command = path
		return nil
	}
}

// New creates a ping Check for target.
func New(target string, opts ...Option) (*Check, error) {
	if target == "" {
		return nil, fmt.Errorf("ping: target must not be empty")
	}
	c := &Check{
		target:  target,
		timeout: DefaultTimeout,
		count:   DefaultCount,
		command: DefaultCommand,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("ping: %w", err)
		}
	}
	return c, nil
}

// Type returns the check type name.
func (c *Check) Type() string {
	return TypeName
}

// args builds the command line. -W only takes whole seconds.
func (c *Check) args() []string {
	wait := max(int(math.Ceil(c.timeout.Seconds())), 1)
	return []string{"-n", "-c", strconv.Itoa(c.count), "-W", strconv.Itoa(wait), c.target}
}

// Run pings the target. A missing binary, a non-zero exit or output
// without a round-trip time all fail the check.
func (c *Check) Run(ctx context.Context) check.Result {
	now := time.Now()

	// every reply may take the full wait; add a second of slack for startup
	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.count)*c.timeout+time.Second)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, c.command, c.args()...)
	cmd.Stdout = &out
	cmd.Stderr = &out

	fail := func(err error) check.Result {
		return check.Result{Timestamp: now, Err: fmt.Errorf("ping %s: %w", c.target, err)}
	}

	if err := cmd.Run(); err != nil {
		return fail(err)
	}
	rtt, err := parseRTT(out.Bytes())
	if err != nil {
		return fail(err)
	}
	return check.Result{
		Timestamp: now,
		Success:   true,
		Metrics:   map[string]int64{"latency_us": rtt.Microseconds()},
	}
}

// parseRTT returns the first round-trip time reported in output.
func parseRTT(output []byte) (time.Duration, error) {
	m := rttPattern.FindSubmatch(output)
	if m == nil {
		return 0, errNoReply
	}
	v, err := strconv.ParseFloat(string(m[1]), 64)
	if err != nil {
		return 0, fmt.Errorf("bad round-trip time %q: %w", m[1], err)
	}
	unit := time.Millisecond
	switch string(m[2]) {
	case "us", "µs":
		unit = time.Microsecond
	case "s":
		unit = time.Second
	}
	return time.Duration(v * float64(unit)), nil
}

// Factory creates a ping Check from a config map.
// Required key: "target" (string).
// Optional keys: "timeout" (duration string), "count" (number), "command" (string).
func Factory(config map[string]any) (check.Check, error) {
	target, ok := config["target"].(string)
	if !ok {
		return nil, fmt.Errorf("ping: 'target' must be a string, got %T", config["target"])
	}

	var opts []Option
	if v, ok := config["timeout"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("ping: 'timeout' must be a duration string, got %T", v)
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("ping: invalid timeout %q: %w", s, err)
		}
		opts = append(opts, WithTimeout(d))
	}
	if v, ok := config["count"]; ok {
		switch n := v.(type) {
		case int:
			opts = append(opts, WithCount(n))
		case float64:
			opts = append(opts, WithCount(int(n)))
		default:
			return nil, fmt.Errorf("ping: 'count' must be a number, got %T", v)
		}
	}
	if v, ok := config["command"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("ping: 'command' must be a string, got %T", v)
		}
		opts = append(opts, WithCommand(s))
	}
	return New(target, opts...)
}
