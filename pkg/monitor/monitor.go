// Package monitor runs the periodic reachability loop over the active
// inventory and keeps the latest status of every host.
package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kylerisse/neustart/pkg/host"
	"github.com/kylerisse/neustart/pkg/inventory"
	"github.com/kylerisse/neustart/pkg/probe"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrCycleBusy is returned by RunCycle when another cycle is in progress.
var ErrCycleBusy = errors.New("monitoring cycle already running")

// Settings are read at the start of every cycle.
type Settings struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
	Concurrency  int
}

// DefaultSettings match a stock configuration.
func DefaultSettings() Settings {
	return Settings{
		Interval:     60 * time.Second,
		ProbeTimeout: 5 * time.Second,
		Concurrency:  16,
	}
}

// Subscriber receives the full status list after every cycle. It runs on
// the cycle goroutine and must not block.
type Subscriber func([]host.Status)

// DownHandler is called, in its own goroutine, for every host that moved
// into offline during a cycle.
type DownHandler func(ctx context.Context, prev, next host.Status)

// Loop is the monitoring loop. Its status table has a single writer, the
// cycle; readers get copies.
type Loop struct {
	inventory inventory.Inventory
	prober    probe.Prober
	settings  func() Settings
	onDown    DownHandler
	logger    *logrus.Logger

	mu       sync.RWMutex
	statuses map[string]host.Status
	ordered  []host.Status

	subMu   sync.Mutex
	subs    map[int]Subscriber
	nextSub int

	busy atomic.Bool

	runMu    sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	handlers sync.WaitGroup
}

// Option configures a Loop.
type Option func(*Loop)

// WithSettings makes the loop read its settings from fn on every cycle.
func WithSettings(fn func() Settings) Option {
	return func(l *Loop) {
		l.settings = fn
	}
}

// WithDownHandler sets the handler invoked on transitions into offline.
func WithDownHandler(h DownHandler) Option {
	return func(l *Loop) {
		l.onDown = h
	}
}

// New creates a stopped Loop.
func New(inv inventory.Inventory, prober probe.Prober, logger *logrus.Logger, opts ...Option) *Loop {
	l := &Loop{
		inventory: inv,
		prober:    prober,
		settings:  DefaultSettings,
		logger:    logger,
		statuses:  make(map[string]host.Status),
		subs:      make(map[int]Subscriber),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start runs one cycle immediately and then one per interval until Stop.
// Calling Start on a running loop does nothing.
func (l *Loop) Start() {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	if l.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	l.logger.Info("Starting monitoring loop")
	go l.run(ctx, l.done)
}

// Stop halts the loop and waits for the current cycle and any running
// down handlers. Calling Stop on a stopped loop does nothing.
func (l *Loop) Stop() {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
	l.handlers.Wait()
	l.cancel = nil
	l.done = nil
	l.logger.Info("Monitoring loop stopped")
}

// Running reports whether the loop is started.
func (l *Loop) Running() bool {
	l.runMu.Lock()
	defer l.runMu.Unlock()
	return l.cancel != nil
}

// run starts a cycle on every tick. A tick that lands while the previous
// cycle is still probing is skipped, so cycles start on the interval grid.
func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	var cycles sync.WaitGroup
	defer cycles.Wait()

	interval := l.interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.tick(ctx, &cycles)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// A reload applies from the next tick on.
		if next := l.interval(); next != interval {
			l.logger.WithFields(logrus.Fields{
				"from": interval,
				"to":   next,
			}).Info("Monitoring interval changed")
			interval = next
			ticker.Reset(interval)
		}
		l.tick(ctx, &cycles)
	}
}

func (l *Loop) interval() time.Duration {
	if iv := l.settings().Interval; iv > 0 {
		return iv
	}
	return DefaultSettings().Interval
}

func (l *Loop) tick(ctx context.Context, cycles *sync.WaitGroup) {
	if !l.busy.CompareAndSwap(false, true) {
		l.logger.Warn("Skipping monitoring tick, previous cycle still running")
		return
	}
	cycles.Add(1)
	go func() {
		defer cycles.Done()
		defer l.busy.Store(false)
		_ = l.cycle(ctx)
	}()
}

// RunCycle performs one monitoring cycle. An unavailable inventory skips
// the cycle and leaves the status table untouched.
func (l *Loop) RunCycle(ctx context.Context) error {
	if !l.busy.CompareAndSwap(false, true) {
		return ErrCycleBusy
	}
	defer l.busy.Store(false)
	return l.cycle(ctx)
}

func (l *Loop) cycle(ctx context.Context) error {
	s := l.settings()
	records, err := l.inventory.ListActive(ctx)
	if err != nil {
		l.logger.WithError(err).Warn("Inventory unavailable, skipping monitoring cycle")
		return err
	}

	results := make([]host.Status, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.Concurrency, 1))
	for i, r := range records {
		g.Go(func() error {
			results[i] = l.check(gctx, r, s.ProbeTimeout)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	type transition struct{ prev, next host.Status }
	var downs []transition

	next := make(map[string]host.Status, len(results))
	l.mu.Lock()
	for _, st := range results {
		prev := l.statuses[st.ID]
		if host.WentDown(prev, st) {
			downs = append(downs, transition{prev, st})
		}
		next[st.ID] = st
	}
	l.statuses = next
	l.ordered = results
	l.mu.Unlock()

	if l.onDown != nil {
		hctx := context.WithoutCancel(ctx)
		for _, d := range downs {
			l.handlers.Add(1)
			go func() {
				defer l.handlers.Done()
				l.onDown(hctx, d.prev, d.next)
			}()
		}
	}

	l.publish(results)
	l.logger.WithFields(logrus.Fields{
		"hosts": len(results),
		"down":  len(downs),
	}).Debug("Monitoring cycle complete")
	return nil
}

// check runs the network and service probes for r concurrently.
func (l *Loop) check(ctx context.Context, r host.Record, timeout time.Duration) host.Status {
	st := host.NewStatus(r)

	var network, service probe.Outcome
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		network = l.prober.Network(ctx, r.Target(), timeout)
	}()
	go func() {
		defer wg.Done()
		service = l.prober.Service(ctx, r.Target(), r.Port, timeout)
	}()
	wg.Wait()

	st.Network = host.StateFor(bool(network))
	st.Service = host.StateFor(bool(service))
	st.LastCheck = time.Now()

	if st.Offline() {
		l.logger.WithFields(logrus.Fields{
			"host":    r.Hostname,
			"network": st.Network,
			"service": st.Service,
		}).Debug("Host not healthy")
	}
	return st
}

// Subscribe registers fn to receive every published snapshot. The returned
// function removes the subscription; calling it more than once is safe.
func (l *Loop) Subscribe(fn Subscriber) (unsubscribe func()) {
	l.subMu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = fn
	l.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.subMu.Lock()
			delete(l.subs, id)
			l.subMu.Unlock()
		})
	}
}

func (l *Loop) publish(statuses []host.Status) {
	l.subMu.Lock()
	subs := make([]Subscriber, 0, len(l.subs))
	for _, fn := range l.subs {
		subs = append(subs, fn)
	}
	l.subMu.Unlock()

	for _, fn := range subs {
		fn(append([]host.Status(nil), statuses...))
	}
}

// Statuses returns the statuses from the last completed cycle, in
// inventory order.
func (l *Loop) Statuses() []host.Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]host.Status(nil), l.ordered...)
}

// Status returns the last status of the host with the given id.
func (l *Loop) Status(id string) (host.Status, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st, ok := l.statuses[id]
	return st, ok
}
