package server

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/kylerisse/neustart/pkg/event"
	"github.com/kylerisse/neustart/pkg/host"
	"github.com/kylerisse/neustart/pkg/inventory"
	"github.com/kylerisse/neustart/pkg/probe"
	"github.com/kylerisse/neustart/pkg/restart"
	"github.com/kylerisse/neustart/pkg/scheduler"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeMonitor struct {
	statuses []host.Status
}

func (f *fakeMonitor) Statuses() []host.Status { return f.statuses }

func (f *fakeMonitor) Status(id string) (host.Status, bool) {
	for _, st := range f.statuses {
		if st.ID == id {
			return st, true
		}
	}
	return host.Status{}, false
}

// gateProber holds every network probe until release is closed or the
// probe context ends, then reports every host unreachable.
type gateProber struct {
	release chan struct{}
	once    sync.Once
}

func newGateProber() *gateProber {
	return &gateProber{release: make(chan struct{})}
}

func (g *gateProber) open() { g.once.Do(func() { close(g.release) }) }

func (g *gateProber) Network(ctx context.Context, _ string, _ time.Duration) probe.Outcome {
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	return probe.Unreachable
}

func (g *gateProber) Service(context.Context, string, int, time.Duration) probe.Outcome {
	return probe.Unreachable
}

type nopDispatcher struct{}

func (nopDispatcher) Run(context.Context, string, string) error { return nil }

type fixture struct {
	monitor *fakeMonitor
	prober  *gateProber
	orch    *restart.Orchestrator
	sched   *scheduler.Scheduler
	events  *event.Recorder
	server  *Server
}

func newFixture(opts Options) *fixture {
	logger := testLogger()
	inv := inventory.NewMemory(
		host.Record{ID: "1", Hostname: "web1", Address: "10.0.0.1", Port: 80, Group: host.GroupWeb, Active: true},
		host.Record{ID: "2", Hostname: "db1", Address: "10.0.0.2", Port: 5432, Group: host.GroupDatabase, Active: true},
	)
	f := &fixture{
		monitor: &fakeMonitor{},
		prober:  newGateProber(),
		events:  event.NewRecorder(100),
	}
	f.orch = restart.New(inv, f.prober, nopDispatcher{}, f.events, logger,
		restart.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }))
	f.sched = scheduler.New(f.orch, scheduler.NewMemoryStore(), f.events, logger, scheduler.WithInventory(inv))
	f.server = New(opts, Deps{
		Monitor:   f.monitor,
		Restarts:  f.orch,
		Schedules: f.sched,
		Events:    f.events,
	}, logger)
	return f
}

func (f *fixture) close() {
	f.prober.open()
	f.sched.Stop()
	f.orch.Close()
}

func contextWithTimeout(t *testing.T, d time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), d)
}
