// Package restart executes coordinated fleet restarts: a reachability
// gate, a reboot pass, a settle wait and staged health checks.
package restart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kylerisse/neustart/pkg/event"
	"github.com/kylerisse/neustart/pkg/host"
	"github.com/kylerisse/neustart/pkg/inventory"
	"github.com/kylerisse/neustart/pkg/probe"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrHostUnreachable means a requested host failed the preflight probe.
	ErrHostUnreachable = errors.New("host unreachable")
	// ErrDispatchFailed means a remote command could not be run.
	ErrDispatchFailed = errors.New("command dispatch failed")
	// ErrHealthCheckExhausted means a target never answered within its attempts.
	ErrHealthCheckExhausted = errors.New("health check attempts exhausted")
	// ErrNoHosts means none of the requested ids resolved to an active host.
	ErrNoHosts = errors.New("no active hosts requested")
	// ErrHostsBusy means a requested host belongs to a job that is still running.
	ErrHostsBusy = errors.New("hosts already in a running restart")
)

// Options describe who asked for a restart and how to report it.
type Options struct {
	Requester string
	Notify    bool
	// ScheduledFor is set when the job was deferred by the scheduler.
	ScheduledFor time.Time
	// JobID is used instead of a fresh UUID when set.
	JobID string
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Orchestrator runs restart jobs. Jobs over disjoint host sets run
// concurrently; a job touching a host that is already being restarted is
// refused.
type Orchestrator struct {
	inventory  inventory.Inventory
	prober     probe.Prober
	dispatcher Dispatcher
	sink       event.Sink
	settings   func() Settings
	sleep      SleepFunc
	logger     *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	busy map[string]string
	jobs map[string]*Job
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSettings makes every new job capture its settings from fn.
func WithSettings(fn func() Settings) Option {
	return func(o *Orchestrator) {
		o.settings = fn
	}
}

// WithSleep replaces the wait used for settle, retry and stage delays.
func WithSleep(fn SleepFunc) Option {
	return func(o *Orchestrator) {
		o.sleep = fn
	}
}

// New creates an Orchestrator.
func New(inv inventory.Inventory, prober probe.Prober, dispatcher Dispatcher, sink event.Sink, logger *logrus.Logger, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		inventory:  inv,
		prober:     prober,
		dispatcher: dispatcher,
		sink:       sink,
		settings:   DefaultSettings,
		sleep:      sleepContext,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		busy:       make(map[string]string),
		jobs:       make(map[string]*Job),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Handle tracks an accepted job.
type Handle struct {
	job  *Job
	done chan struct{}
}

// ID returns the job id.
func (h *Handle) ID() string { return h.job.id }

// Done is closed once the job reached a terminal state and its terminal
// event was emitted.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Snapshot returns the job's current state.
func (h *Handle) Snapshot() Snapshot { return h.job.Snapshot() }

// Wait blocks until the job finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-h.done:
		return h.job.Snapshot(), nil
	case <-ctx.Done():
		return h.job.Snapshot(), ctx.Err()
	}
}

// Execute validates the request and starts the job in the background.
// Unknown or inactive ids are logged and dropped.
func (o *Orchestrator) Execute(ctx context.Context, hostIDs []string, opts Options) (*Handle, error) {
	if len(hostIDs) == 0 {
		return nil, ErrNoHosts
	}
	records, err := o.inventory.ListByIDs(ctx, hostIDs)
	if err != nil {
		return nil, err
	}
	if dropped := missingIDs(hostIDs, records); len(dropped) > 0 {
		o.logger.WithField("ids", dropped).Warn("Ignoring unknown or inactive hosts in restart request")
	}
	if len(records) == 0 {
		return nil, ErrNoHosts
	}

	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	}
	job := &Job{
		id:           id,
		requester:    opts.Requester,
		notify:       opts.Notify,
		scheduledFor: opts.ScheduledFor,
		createdAt:    time.Now(),
		state:        StateCreated,
		stage:        -1,
		health:       make(map[string]Health),
	}
	for _, r := range records {
		job.hostIDs = append(job.hostIDs, r.ID)
		job.hostnames = append(job.hostnames, r.Hostname)
	}

	if err := o.admit(job); err != nil {
		return nil, err
	}

	settings := o.settings()
	log := o.logger.WithField("job", id)
	log.WithFields(logrus.Fields{
		"hosts":     job.hostnames,
		"requester": opts.Requester,
	}).Info("Restart initiated")

	payload := map[string]any{
		"hostIds":   job.hostIDs,
		"hostnames": job.hostnames,
		"requester": opts.Requester,
		"notify":    opts.Notify,
	}
	if !opts.ScheduledFor.IsZero() {
		payload["scheduledFor"] = opts.ScheduledFor.Format(time.RFC3339)
	}
	o.emit(event.New(event.KindRestartInitiated, id, payload))

	h := &Handle{job: job, done: make(chan struct{})}
	go o.run(h, records, settings)
	return h, nil
}

func missingIDs(requested []string, found []host.Record) []string {
	have := make(map[string]bool, len(found))
	for _, r := range found {
		have[r.ID] = true
	}
	var missing []string
	for _, id := range requested {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

// admit reserves every host of job or none of them. A successful admit
// must be followed by starting the job.
func (o *Orchestrator) admit(job *Job) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.ctx.Err(); err != nil {
		return fmt.Errorf("orchestrator is shut down: %w", err)
	}
	var held []string
	for i, id := range job.hostIDs {
		if owner, ok := o.busy[id]; ok {
			held = append(held, fmt.Sprintf("%s (job %s)", job.hostnames[i], owner))
		}
	}
	if len(held) > 0 {
		return fmt.Errorf("%w: %s", ErrHostsBusy, strings.Join(held, ", "))
	}
	if _, ok := o.jobs[job.id]; ok {
		return fmt.Errorf("%w: job %s already running", ErrHostsBusy, job.id)
	}
	for _, id := range job.hostIDs {
		o.busy[id] = job.id
	}
	o.jobs[job.id] = job
	o.wg.Add(1)
	return nil
}

func (o *Orchestrator) release(job *Job) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range job.hostIDs {
		if o.busy[id] == job.id {
			delete(o.busy, id)
		}
	}
	delete(o.jobs, job.id)
}

// Active returns snapshots of every job still running.
func (o *Orchestrator) Active() []Snapshot {
	o.mu.Lock()
	jobs := make([]*Job, 0, len(o.jobs))
	for _, j := range o.jobs {
		jobs = append(jobs, j)
	}
	o.mu.Unlock()

	snaps := make([]Snapshot, len(jobs))
	for i, j := range jobs {
		snaps[i] = j.Snapshot()
	}
	return snaps
}

// Job returns the snapshot of a running job.
func (o *Orchestrator) Job(id string) (Snapshot, bool) {
	o.mu.Lock()
	j, ok := o.jobs[id]
	o.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return j.Snapshot(), true
}

// Close stops accepting jobs, interrupts running ones and waits for them
// to report their failure.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.cancel()
	o.mu.Unlock()
	o.wg.Wait()
}

func (o *Orchestrator) emit(e event.Event) {
	if err := o.sink.Emit(context.WithoutCancel(o.ctx), e); err != nil {
		o.logger.WithError(err).WithField("event", e.Kind).Error("Failed to emit event")
	}
}

func (o *Orchestrator) notify(e event.Event) {
	if err := o.sink.Notify(context.WithoutCancel(o.ctx), e); err != nil {
		o.logger.WithError(err).WithField("event", e.Kind).Error("Failed to send notification")
	}
}

func (o *Orchestrator) run(h *Handle, records []host.Record, s Settings) {
	job := h.job
	defer o.wg.Done()
	defer close(h.done)
	defer o.release(job)
	defer func() {
		if r := recover(); r != nil {
			o.logger.WithField("job", job.id).Errorf("Restart job panicked: %v", r)
			o.fail(job, ReasonInternal, fmt.Sprint(r))
		}
	}()

	ctx := o.ctx
	log := o.logger.WithField("job", job.id)

	job.setState(StatePreflight)
	if unreachable := o.preflight(ctx, records, s); len(unreachable) > 0 {
		if ctx.Err() != nil {
			o.fail(job, ReasonInterrupted, ctx.Err().Error())
			return
		}
		err := fmt.Errorf("%w: %s", ErrHostUnreachable, strings.Join(unreachable, ", "))
		log.WithError(err).Warn("Preflight failed, no host was touched")
		o.fail(job, ReasonUnreachableHosts, strings.Join(unreachable, ", "))
		return
	}

	if err := ctx.Err(); err != nil {
		o.fail(job, ReasonInterrupted, err.Error())
		return
	}

	job.setState(StateRebooting)
	o.reboot(ctx, job, records, s)

	job.setState(StateWaiting)
	log.WithField("wait", s.SettleWait).Info("Waiting for hosts to come back")
	if err := o.sleep(ctx, s.SettleWait); err != nil {
		o.fail(job, ReasonInterrupted, err.Error())
		return
	}

	byName := make(map[string]host.Record, len(records))
	for _, r := range records {
		byName[r.Hostname] = r
	}
	for i, stage := range s.Stages {
		job.setStage(i, stage.Name)
		if err := o.checkStage(ctx, job, stage, byName, s); err != nil {
			o.fail(job, ReasonInterrupted, err.Error())
			return
		}
		if stage.Wait > 0 {
			log.WithFields(logrus.Fields{"stage": stage.Name, "wait": stage.Wait}).Info("Stage done, waiting")
			if err := o.sleep(ctx, stage.Wait); err != nil {
				o.fail(job, ReasonInterrupted, err.Error())
				return
			}
		}
	}

	o.complete(job)
}

// preflight probes every host at the network layer concurrently and
// returns the hostnames that did not answer, in request order.
func (o *Orchestrator) preflight(ctx context.Context, records []host.Record, s Settings) []string {
	reachable := make([]probe.Outcome, len(records))
	var g errgroup.Group
	for i, r := range records {
		g.Go(func() error {
			reachable[i] = o.prober.Network(ctx, r.Target(), s.PreflightTimeout)
			return nil
		})
	}
	_ = g.Wait()

	var unreachable []string
	for i, r := range records {
		if reachable[i] == probe.Unreachable {
			unreachable = append(unreachable, r.Hostname)
		}
	}
	return unreachable
}

// reboot dispatches the reboot command to every non-excluded host, then
// the remediation command to the remediation host if it is targeted.
// Failures are logged and never stop the job.
func (o *Orchestrator) reboot(ctx context.Context, job *Job, records []host.Record, s Settings) {
	var remediation *host.Record
	for _, r := range records {
		log := o.logger.WithFields(logrus.Fields{"job": job.id, "host": r.Hostname})
		if s.RemediationHost != "" && r.Hostname == s.RemediationHost {
			remediation = &r
		}
		if s.excluded(r.Hostname) {
			log.Info("Host excluded from reboot")
			continue
		}
		if err := o.dispatcher.Run(ctx, r.Target(), s.RebootCommand); err != nil {
			log.WithError(fmt.Errorf("%w: %w", ErrDispatchFailed, err)).Warn("Reboot dispatch failed")
			job.addDispatchFailure(r.Hostname)
			continue
		}
		log.Info("Reboot dispatched")
	}

	if remediation == nil || s.RemediationCommand == "" {
		return
	}
	log := o.logger.WithFields(logrus.Fields{"job": job.id, "host": remediation.Hostname})
	if err := o.dispatcher.Run(ctx, remediation.Target(), s.RemediationCommand); err != nil {
		log.WithError(fmt.Errorf("%w: %w", ErrDispatchFailed, err)).Warn("Remediation command failed")
		return
	}
	log.Info("Remediation command dispatched")
}

// checkStage health-checks every target of stage in order. Only a
// cancelled context is returned as an error.
func (o *Orchestrator) checkStage(ctx context.Context, job *Job, stage Stage, byName map[string]host.Record, s Settings) error {
	for _, t := range stage.Targets {
		log := o.logger.WithFields(logrus.Fields{
			"job":   job.id,
			"stage": stage.Name,
			"host":  t.Hostname,
			"port":  t.Port,
		})
		r, ok := byName[t.Hostname]
		if !ok {
			log.Warn("Stage host not part of this restart, skipping")
			continue
		}

		healthy, err := o.checkTarget(ctx, r.Target(), t.Port, s)
		if err != nil {
			return err
		}
		if healthy {
			job.setHealth(t.Hostname, HealthHealthy)
			log.Info("Host healthy")
			continue
		}
		job.setHealth(t.Hostname, HealthUnhealthy)
		log.WithError(fmt.Errorf("%w after %d attempts", ErrHealthCheckExhausted, s.MaxAttempts)).Error("Host did not come back")
	}
	return nil
}

// checkTarget tries the service probe up to MaxAttempts times, sleeping
// RetryDelay between failed attempts but not after the last one.
func (o *Orchestrator) checkTarget(ctx context.Context, address string, port int, s Settings) (bool, error) {
	attempts := max(s.MaxAttempts, 1)
	for attempt := 1; attempt <= attempts; attempt++ {
		if o.prober.Service(ctx, address, port, s.AttemptTimeout) == probe.Reachable {
			return true, nil
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if attempt == attempts {
			break
		}
		o.logger.WithFields(logrus.Fields{
			"host":    address,
			"port":    port,
			"attempt": attempt,
		}).Debug("Health check failed, retrying")
		if err := o.sleep(ctx, s.RetryDelay); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (o *Orchestrator) complete(job *Job) {
	job.complete()
	snap := job.Snapshot()

	hosts := make([]map[string]any, 0, len(snap.Hostnames))
	for _, name := range snap.Hostnames {
		hosts = append(hosts, map[string]any{"hostname": name, "health": string(snap.Health[name])})
	}
	e := event.New(event.KindRestartCompleted, job.id, map[string]any{
		"hosts":            hosts,
		"requester":        snap.Requester,
		"dispatchFailures": snap.DispatchFailures,
	})

	o.logger.WithFields(logrus.Fields{"job": job.id, "health": snap.Health}).Info("Restart completed")
	o.emit(e)
	if snap.Notify {
		o.notify(e)
	}
}

func (o *Orchestrator) fail(job *Job, reason Reason, detail string) {
	if !job.fail(reason, detail) {
		return
	}
	snap := job.Snapshot()
	e := event.New(event.KindRestartFailed, job.id, map[string]any{
		"reason":    string(reason),
		"detail":    detail,
		"hostnames": snap.Hostnames,
		"requester": snap.Requester,
	})

	o.logger.WithFields(logrus.Fields{"job": job.id, "reason": reason, "detail": detail}).Warn("Restart failed")
	o.emit(e)
	if snap.Notify {
		o.notify(e)
	}
}
