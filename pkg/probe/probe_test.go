package probe

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/kylerisse/neustart/pkg/check/dns"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func listen(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestOutcomeString(t *testing.T) {
	if Reachable.String() != "reachable" {
		t.Errorf("unexpected %q", Reachable.String())
	}
	if Unreachable.String() != "unreachable" {
		t.Errorf("unexpected %q", Unreachable.String())
	}
}

func TestNewRegistry_BuiltinTypes(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"ping", "tcp", "dns"} {
		if !reg.Has(name) {
			t.Errorf("expected %q to be registered", name)
		}
	}
}

func TestNew_UnknownNetworkCheck(t *testing.T) {
	if _, err := New(testLogger(), WithNetworkCheck("carrier-pigeon")); err == nil {
		t.Error("expected error for unknown network check")
	}
}

func TestService_Open(t *testing.T) {
	p, err := New(testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.Service(context.Background(), "127.0.0.1", listen(t), time.Second); got != Reachable {
		t.Errorf("expected reachable, got %v", got)
	}
}

func TestService_Closed(t *testing.T) {
	p, _ := New(testLogger())
	if got := p.Service(context.Background(), "127.0.0.1", closedPort(t), time.Second); got != Unreachable {
		t.Errorf("expected unreachable, got %v", got)
	}
}

func TestService_InvalidPortIsUnreachable(t *testing.T) {
	p, _ := New(testLogger())
	if got := p.Service(context.Background(), "127.0.0.1", 0, time.Second); got != Unreachable {
		t.Errorf("expected unreachable for invalid port, got %v", got)
	}
}

func TestNetwork_TCPCheckUsesSSHPort(t *testing.T) {
	p, err := New(testLogger(), WithNetworkCheck("tcp"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Nothing listens on 127.0.0.2:22 in the test environment; the point is
	// that a misconfiguration surfaces as Unreachable rather than a panic.
	_ = p.Network(context.Background(), "127.0.0.2", 200*time.Millisecond)
}

func TestResolutionFailureIsUnreachable(t *testing.T) {
	// Resolver pointed at a port with no DNS server: the query times out.
	r, err := dns.NewResolver("127.0.0.1:1", 200*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, _ := New(testLogger(), WithResolver(r))

	port := listen(t)
	if got := p.Service(context.Background(), "app.invalid", port, time.Second); got != Unreachable {
		t.Errorf("expected unreachable when resolution fails, got %v", got)
	}
	// IP literals bypass the resolver.
	if got := p.Service(context.Background(), "127.0.0.1", port, time.Second); got != Reachable {
		t.Errorf("expected reachable for IP literal, got %v", got)
	}
}
