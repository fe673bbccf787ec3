// Package dns resolves host names against a specific DNS server.
//
// The Resolver is used by the probe to turn inventory addresses that are
// names into IPv4 addresses before ping or tcp checks run, so that a
// resolution failure is reported as unreachable. The Check type wraps the
// same lookup as a registered check ("dns") that succeeds when a name
// resolves, and optionally when it resolves to an expected address.
package dns

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/kylerisse/neustart/pkg/check"
	"github.com/miekg/dns"
)

const (
	// TypeName is the registered name for this check type.
	TypeName = "dns"

	// DefaultTimeout is the default DNS query timeout.
	DefaultTimeout = 3 * time.Second
)

// Resolver sends A queries to one server.
type Resolver struct {
	server string // host:port of the DNS server
	client *dns.Client
}

// NewResolver creates a Resolver for server. A server without a port is
// queried on 53.
func NewResolver(server string, timeout time.Duration) (*Resolver, error) {
	if server == "" {
		return nil, fmt.Errorf("dns: server must not be empty")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("dns: timeout must be positive, got %v", timeout)
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return &Resolver{
		server: server,
		client: &dns.Client{Timeout: timeout},
	}, nil
}

// Server returns the host:port queried by the resolver.
func (r *Resolver) Server() string {
	return r.server
}

// Resolve returns the first IPv4 address for name. IP literals are
// returned unchanged without a query.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	if ip := net.ParseIP(name); ip != nil {
		return ip.String(), nil
	}
	addrs, _, err := r.lookup(ctx, name)
	if err != nil {
		return "", err
	}
	return addrs[0], nil
}

// lookup runs one A query and returns every address in the answer along
// with the round-trip time.
func (r *Resolver) lookup(ctx context.Context, name string) ([]string, time.Duration, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeA)
	msg.RecursionDesired = true

	resp, rtt, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		return nil, 0, fmt.Errorf("dns A %s: %w", name, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, rtt, fmt.Errorf("dns A %s: rcode %s", name, dns.RcodeToString[resp.Rcode])
	}

	var addrs []string
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			addrs = append(addrs, a.A.String())
		}
	}
	if len(addrs) == 0 {
		return nil, rtt, fmt.Errorf("dns A %s: no address in answer", name)
	}
	return addrs, rtt, nil
}

// Check implements check.Check by resolving one name.
type Check struct {
	name     string
	expect   string
	resolver *Resolver
}

// New creates a Check that resolves name through resolver. When expect is
// non-empty, one of the returned addresses must equal it.
func New(name, expect string, resolver *Resolver) (*Check, error) {
	if name == "" {
		return nil, fmt.Errorf("dns: name must not be empty")
	}
	if resolver == nil {
		return nil, fmt.Errorf("dns: resolver must not be nil")
	}
	return &Check{
		name:     strings.TrimSuffix(name, "."),
		expect:   normalizeIP(expect),
		resolver: resolver,
	}, nil
}

// Type returns the check type name.
func (c *Check) Type() string {
	return TypeName
}

// Run resolves the name and reports the query RTT in microseconds.
func (c *Check) Run(ctx context.Context) check.Result {
	now := time.Now()

	addrs, rtt, err := c.resolver.lookup(ctx, c.name)
	if err != nil {
		return check.Result{Timestamp: now, Err: err}
	}

	if c.expect != "" && !contains(addrs, c.expect) {
		return check.Result{
			Timestamp: now,
			Err:       fmt.Errorf("dns A %s: expected %q not found in answer", c.name, c.expect),
		}
	}

	return check.Result{
		Timestamp: now,
		Success:   true,
		Metrics:   map[string]int64{"latency_us": rtt.Microseconds()},
	}
}

func contains(addrs []string, want string) bool {
	for _, a := range addrs {
		if normalizeIP(a) == want {
			return true
		}
	}
	return false
}

// normalizeIP parses and re-serializes an IP address string for comparison.
func normalizeIP(s string) string {
	ip := net.ParseIP(s)
	if ip == nil {
		return s
	}
	return ip.String()
}

// Factory creates a DNS Check from a config map.
// Required keys:
//   - "server" (string): host[:port] of the DNS server to query
//   - "target" (string): the name to resolve
//
// Optional keys:
//   - "expect" (string): address the answer must contain
//   - "timeout" (string): duration string (e.g. "5s"), default "3s"
func Factory(config map[string]any) (check.Check, error) {
	server, ok := config["server"].(string)
	if !ok || server == "" {
		return nil, fmt.Errorf("dns: config missing required string 'server'")
	}
	target, ok := config["target"].(string)
	if !ok || target == "" {
		return nil, fmt.Errorf("dns: config missing required string 'target'")
	}

	var expect string
	if v, ok := config["expect"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("dns: 'expect' must be a string, got %T", v)
		}
		expect = s
	}

	timeout := DefaultTimeout
	if v, ok := config["timeout"]; ok {
		ts, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("dns: 'timeout' must be a string, got %T", v)
		}
		d, err := time.ParseDuration(ts)
		if err != nil {
			return nil, fmt.Errorf("dns: invalid timeout %q: %w", ts, err)
		}
		timeout = d
	}

	resolver, err := NewResolver(server, timeout)
	if err != nil {
		return nil, err
	}
	return New(target, expect, resolver)
}
