// Package probe answers one question about a host: is it reachable right
// now? Every failure (timeout, refusal, resolution failure, missing
// tooling) collapses to Unreachable and is only logged at debug level.
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/kylerisse/neustart/pkg/check"
	"github.com/kylerisse/neustart/pkg/check/dns"
	"github.com/kylerisse/neustart/pkg/check/ping"
	"github.com/kylerisse/neustart/pkg/check/tcp"
	"github.com/sirupsen/logrus"
)

// Outcome is the binary result of a probe.
type Outcome bool

const (
	Unreachable Outcome = false
	Reachable   Outcome = true
)

func (o Outcome) String() string {
	if o {
		return "reachable"
	}
	return "unreachable"
}

// Prober performs network-layer and service-layer checks.
type Prober interface {
	// Network checks that address answers at the network layer.
	Network(ctx context.Context, address string, timeout time.Duration) Outcome
	// Service checks that address accepts TCP connections on port.
	Service(ctx context.Context, address string, port int, timeout time.Duration) Outcome
}

// Probe is the Prober backed by the check registry.
type Probe struct {
	registry     *check.Registry
	networkCheck string
	resolver     *dns.Resolver
	logger       *logrus.Logger
}

// Option is a functional option for configuring a Probe.
type Option func(*Probe) error

// WithNetworkCheck selects the registered check type used for the network
// layer. The default is ping; tcp is useful where ICMP is filtered.
func WithNetworkCheck(name string) Option {
	return func(p *Probe) error {
		if !p.registry.Has(name) {
			return fmt.Errorf("unknown network check type %q", name)
		}
		p.networkCheck = name
		return nil
	}
}

// WithResolver resolves non-IP addresses through r before probing.
func WithResolver(r *dns.Resolver) Option {
	return func(p *Probe) error {
		p.resolver = r
		return nil
	}
}

// NewRegistry returns a registry with every built-in check type.
func NewRegistry() *check.Registry {
	reg := check.NewRegistry()
	reg.MustRegister(ping.TypeName, ping.Factory)
	reg.MustRegister(tcp.TypeName, tcp.Factory)
	reg.MustRegister(dns.TypeName, dns.Factory)
	return reg
}

// New creates a Probe.
func New(logger *logrus.Logger, opts ...Option) (*Probe, error) {
	p := &Probe{
		registry:     NewRegistry(),
		networkCheck: ping.TypeName,
		logger:       logger,
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, fmt.Errorf("probe: %w", err)
		}
	}
	return p, nil
}

// Network runs the configured network-layer check against address. When
// the network check is tcp, port 22 is used as the connect target.
func (p *Probe) Network(ctx context.Context, address string, timeout time.Duration) Outcome {
	cfg := map[string]any{"timeout": timeout.String()}
	if p.networkCheck == tcp.TypeName {
		cfg["port"] = 22
	}
	return p.run(ctx, p.networkCheck, address, cfg)
}

// Service runs a TCP connect against address:port.
func (p *Probe) Service(ctx context.Context, address string, port int, timeout time.Duration) Outcome {
	return p.run(ctx, tcp.TypeName, address, map[string]any{
		"port":    port,
		"timeout": timeout.String(),
	})
}

func (p *Probe) run(ctx context.Context, checkType, address string, cfg map[string]any) Outcome {
	entry := p.logger.WithFields(logrus.Fields{"check": checkType, "address": address})

	target, err := p.resolve(ctx, address)
	if err != nil {
		entry.Debugf("resolution failed: %v", err)
		return Unreachable
	}
	cfg["target"] = target

	chk, err := p.registry.Create(checkType, cfg)
	if err != nil {
		entry.Debugf("could not build check: %v", err)
		return Unreachable
	}

	result := chk.Run(ctx)
	if !result.Success {
		entry.Debugf("probe failed: %v", result.Err)
		return Unreachable
	}
	if latency, ok := result.Latency(); ok {
		entry.Debugf("probe succeeded, latency=%v", latency)
	}
	return Reachable
}

func (p *Probe) resolve(ctx context.Context, address string) (string, error) {
	if p.resolver == nil {
		return address, nil
	}
	return p.resolver.Resolve(ctx, address)
}
