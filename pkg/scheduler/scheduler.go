// Package scheduler defers restart jobs to a future instant. Pending
// entries are persisted and can be cancelled until they fire.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kylerisse/neustart/pkg/event"
	"github.com/kylerisse/neustart/pkg/inventory"
	"github.com/kylerisse/neustart/pkg/restart"
	"github.com/sirupsen/logrus"
)

var (
	// ErrInvalidSchedule is returned for a target time that is not in the future.
	ErrInvalidSchedule = errors.New("invalid schedule")
	// ErrNotFound is returned when cancelling an unknown or already fired entry.
	ErrNotFound = errors.New("schedule not found")
)

// Executor starts restart jobs.
type Executor interface {
	Execute(ctx context.Context, hostIDs []string, opts restart.Options) (*restart.Handle, error)
}

// Entry is a pending restart. Its ID becomes the job id when it fires.
type Entry struct {
	ID        string    `json:"id"`
	HostIDs   []string  `json:"hostIds"`
	When      time.Time `json:"when"`
	Requester string    `json:"requester,omitempty"`
	Notify    bool      `json:"notify"`
	CreatedAt time.Time `json:"createdAt"`
}

// Scheduler owns one timer per pending entry.
type Scheduler struct {
	executor  Executor
	store     Store
	inventory inventory.Inventory
	sink      event.Sink
	logger    *logrus.Logger
	now       func() time.Time

	mu      sync.Mutex
	timers  map[string]*time.Timer
	entries map[string]Entry
	stopped bool
	firing  sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithInventory makes Schedule resolve host ids against inv and keep only
// the active ones.
func WithInventory(inv inventory.Inventory) Option {
	return func(s *Scheduler) {
		s.inventory = inv
	}
}

// New creates a Scheduler.
func New(executor Executor, store Store, sink event.Sink, logger *logrus.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		executor: executor,
		store:    store,
		sink:     sink,
		logger:   logger,
		now:      time.Now,
		timers:   make(map[string]*time.Timer),
		entries:  make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule persists a restart of hostIDs at when and arms its timer.
// A when that is not in the future, or a request naming no active host,
// is rejected and nothing is stored.
func (s *Scheduler) Schedule(ctx context.Context, hostIDs []string, when time.Time, opts restart.Options) (Entry, error) {
	now := s.now()
	if !when.After(now) {
		return Entry{}, fmt.Errorf("%w: %s is not in the future", ErrInvalidSchedule, when.Format(time.RFC3339))
	}
	if len(hostIDs) == 0 {
		return Entry{}, fmt.Errorf("%w: no hosts", ErrInvalidSchedule)
	}

	ids, err := s.resolve(ctx, hostIDs)
	if err != nil {
		return Entry{}, err
	}

	e := Entry{
		ID:        uuid.NewString(),
		HostIDs:   ids,
		When:      when,
		Requester: opts.Requester,
		Notify:    opts.Notify,
		CreatedAt: now,
	}

	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return Entry{}, errors.New("scheduler is stopped")
	}

	if err := s.store.Save(ctx, e); err != nil {
		return Entry{}, err
	}
	s.arm(e)

	s.logger.WithFields(logrus.Fields{
		"job":   e.ID,
		"hosts": e.HostIDs,
		"when":  e.When.Format(time.RFC3339),
	}).Info("Restart scheduled")
	s.emit(event.New(event.KindRestartScheduled, e.ID, map[string]any{
		"hostIds":   e.HostIDs,
		"when":      e.When.Format(time.RFC3339),
		"requester": e.Requester,
		"notify":    e.Notify,
	}))
	return e, nil
}

// resolve drops unknown and inactive ids. Without an inventory the ids
// are kept as given and checked when the entry fires.
func (s *Scheduler) resolve(ctx context.Context, hostIDs []string) ([]string, error) {
	if s.inventory == nil {
		return append([]string(nil), hostIDs...), nil
	}
	records, err := s.inventory.ListByIDs(ctx, hostIDs)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %v", restart.ErrNoHosts, hostIDs)
	}
	if len(records) < len(hostIDs) {
		s.logger.WithField("requested", hostIDs).Warn("Ignoring unknown or inactive hosts in scheduled restart")
	}
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids, nil
}

func (s *Scheduler) arm(e Entry) {
	delay := max(e.When.Sub(s.now()), 0)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if t, ok := s.timers[e.ID]; ok {
		t.Stop()
	}
	s.entries[e.ID] = e
	s.timers[e.ID] = time.AfterFunc(delay, func() { s.fire(e.ID) })
}

func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.entries, id)
	delete(s.timers, id)
	s.firing.Add(1)
	s.mu.Unlock()
	defer s.firing.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	log := s.logger.WithField("job", e.ID)
	if err := s.store.Delete(ctx, e.ID); err != nil && !errors.Is(err, ErrNotFound) {
		log.WithError(err).Error("Failed to remove fired schedule from store")
	}

	_, err := s.executor.Execute(ctx, e.HostIDs, restart.Options{
		Requester:    e.Requester,
		Notify:       e.Notify,
		ScheduledFor: e.When,
		JobID:        e.ID,
	})
	if err != nil {
		log.WithError(err).Error("Scheduled restart could not start")
		s.emit(event.New(event.KindRestartFailed, e.ID, map[string]any{
			"reason":    "not-started",
			"detail":    err.Error(),
			"hostIds":   e.HostIDs,
			"requester": e.Requester,
		}))
		return
	}
	log.Info("Scheduled restart started")
}

// Cancel disarms and deletes a pending entry.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		s.timers[id].Stop()
		delete(s.timers, id)
		delete(s.entries, id)
	}
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	if err := s.store.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	s.logger.WithField("job", id).Info("Scheduled restart cancelled")
	s.emit(event.New(event.KindRestartCancelled, id, map[string]any{
		"hostIds":   e.HostIDs,
		"when":      e.When.Format(time.RFC3339),
		"requester": e.Requester,
	}))
	return nil
}

// Pending returns the armed entries ordered by When.
func (s *Scheduler) Pending() []Entry {
	s.mu.Lock()
	entries := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()
	sortEntries(entries)
	return entries
}

// Restore arms every stored entry that is not armed yet. Entries whose
// time has passed fire immediately. It returns the number armed.
func (s *Scheduler) Restore(ctx context.Context) (int, error) {
	entries, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		s.mu.Lock()
		_, armed := s.entries[e.ID]
		s.mu.Unlock()
		if armed {
			continue
		}
		if !e.When.After(s.now()) {
			s.logger.WithField("job", e.ID).Warn("Scheduled restart is past due, firing now")
		}
		s.arm(e)
		n++
	}
	return n, nil
}

// Stop disarms every timer and waits for entries that are firing. Stored
// entries are kept for the next Restore.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.entries = make(map[string]Entry)
	s.mu.Unlock()
	s.firing.Wait()
}

func (s *Scheduler) emit(e event.Event) {
	if err := s.sink.Emit(context.Background(), e); err != nil {
		s.logger.WithError(err).WithField("event", e.Kind).Error("Failed to emit event")
	}
}
