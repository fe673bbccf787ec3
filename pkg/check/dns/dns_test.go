package dns

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/kylerisse/neustart/pkg/check"
	"github.com/miekg/dns"
)

// startTestServer starts an in-process UDP DNS server on a random port.
// The provided handler is called for every incoming query. The server
// is shut down automatically when the test ends.
func startTestServer(t *testing.T, handler func(dns.ResponseWriter, *dns.Msg)) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	srv := &dns.Server{PacketConn: pc, Handler: dns.HandlerFunc(handler)}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

// zone answers A queries from a fixed table and NXDOMAIN otherwise.
func zone(records map[string]string) func(dns.ResponseWriter, *dns.Msg) {
	return func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		q := r.Question[0]
		if addr, ok := records[q.Name]; ok && q.Qtype == dns.TypeA {
			m.Answer = append(m.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
				A:   net.ParseIP(addr),
			})
		} else {
			m.Rcode = dns.RcodeNameError
		}
		_ = w.WriteMsg(m)
	}
}

func TestNewResolver_DefaultPort(t *testing.T) {
	r, err := NewResolver("10.0.0.53", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Server() != "10.0.0.53:53" {
		t.Errorf("expected 10.0.0.53:53, got %q", r.Server())
	}
}

func TestNewResolver_Invalid(t *testing.T) {
	if _, err := NewResolver("", time.Second); err == nil {
		t.Error("expected error for empty server")
	}
	if _, err := NewResolver("127.0.0.1:53", 0); err == nil {
		t.Error("expected error for zero timeout")
	}
}

func TestResolve_IPLiteral(t *testing.T) {
	// No server is listening; an IP literal must not trigger a query.
	r, _ := NewResolver("127.0.0.1:1", 100*time.Millisecond)
	got, err := r.Resolve(context.Background(), "192.168.1.10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "192.168.1.10" {
		t.Errorf("expected 192.168.1.10, got %q", got)
	}
}

func TestResolve_Name(t *testing.T) {
	addr := startTestServer(t, zone(map[string]string{"siegeawf.example.": "10.1.2.3"}))
	r, _ := NewResolver(addr, 2*time.Second)

	got, err := r.Resolve(context.Background(), "siegeawf.example")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "10.1.2.3" {
		t.Errorf("expected 10.1.2.3, got %q", got)
	}
}

func TestResolve_NXDomain(t *testing.T) {
	addr := startTestServer(t, zone(nil))
	r, _ := NewResolver(addr, 2*time.Second)

	if _, err := r.Resolve(context.Background(), "missing.example"); err == nil {
		t.Error("expected error for NXDOMAIN")
	}
}

func TestResolve_EmptyAnswer(t *testing.T) {
	addr := startTestServer(t, func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		_ = w.WriteMsg(m)
	})
	r, _ := NewResolver(addr, 2*time.Second)

	if _, err := r.Resolve(context.Background(), "empty.example"); err == nil {
		t.Error("expected error for empty answer")
	}
}

func TestCheck_Run(t *testing.T) {
	addr := startTestServer(t, zone(map[string]string{"router.example.": "192.168.168.1"}))
	r, _ := NewResolver(addr, 2*time.Second)

	tests := []struct {
		name    string
		target  string
		expect  string
		success bool
	}{
		{"resolves", "router.example", "", true},
		{"resolves to expected", "router.example", "192.168.168.1", true},
		{"wrong address", "router.example", "10.0.0.1", false},
		{"nxdomain", "nope.example", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.target, tt.expect, r)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			result := c.Run(context.Background())
			if result.Success != tt.success {
				t.Errorf("expected success=%v, got %v (err=%v)", tt.success, result.Success, result.Err)
			}
			if tt.success {
				if _, ok := result.Latency(); !ok {
					t.Error("expected latency metric on success")
				}
			}
		})
	}
}

func TestNew_Invalid(t *testing.T) {
	r, _ := NewResolver("127.0.0.1:53", time.Second)
	if _, err := New("", "", r); err == nil {
		t.Error("expected error for empty name")
	}
	if _, err := New("a.example", "", nil); err == nil {
		t.Error("expected error for nil resolver")
	}
}

func TestFactory(t *testing.T) {
	chk, err := Factory(map[string]any{
		"server":  "127.0.0.1:5353",
		"target":  "router.example",
		"expect":  "192.168.168.1",
		"timeout": "5s",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := chk.(*Check)
	if c.resolver.Server() != "127.0.0.1:5353" {
		t.Errorf("unexpected server %q", c.resolver.Server())
	}
	if c.resolver.client.Timeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %v", c.resolver.client.Timeout)
	}
}

func TestFactory_Errors(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]any
	}{
		{"missing server", map[string]any{"target": "a"}},
		{"missing target", map[string]any{"server": "127.0.0.1"}},
		{"wrong expect type", map[string]any{"server": "127.0.0.1", "target": "a", "expect": 1}},
		{"bad timeout", map[string]any{"server": "127.0.0.1", "target": "a", "timeout": "x"}},
		{"wrong timeout type", map[string]any{"server": "127.0.0.1", "target": "a", "timeout": 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Factory(tt.config); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRegistryIntegration(t *testing.T) {
	reg := check.NewRegistry()
	if err := reg.Register(TypeName, Factory); err != nil {
		t.Fatalf("failed to register dns: %v", err)
	}
	chk, err := reg.Create("dns", map[string]any{"server": "127.0.0.1", "target": "a.example"})
	if err != nil {
		t.Fatalf("failed to create dns check: %v", err)
	}
	if chk.Type() != "dns" {
		t.Errorf("expected type 'dns', got %q", chk.Type())
	}
}
