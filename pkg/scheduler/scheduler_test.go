package scheduler

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kylerisse/neustart/pkg/event"
	"github.com/kylerisse/neustart/pkg/host"
	"github.com/kylerisse/neustart/pkg/inventory"
	"github.com/kylerisse/neustart/pkg/restart"
	"github.com/kylerisse/neustart/pkg/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type call struct {
	hostIDs []string
	opts    restart.Options
}

type fakeExecutor struct {
	mu    sync.Mutex
	err   error
	calls chan call
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{calls: make(chan call, 8)}
}

func (f *fakeExecutor) Execute(_ context.Context, hostIDs []string, opts restart.Options) (*restart.Handle, error) {
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	f.calls <- call{hostIDs, opts}
	return nil, err
}

func (f *fakeExecutor) expectCall(t *testing.T) call {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("expected Execute to be called")
		return call{}
	}
}

func (f *fakeExecutor) expectNoCall(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected Execute for %v", c.hostIDs)
	case <-time.After(within):
	}
}

func TestSchedule_RejectsNonFutureTimes(t *testing.T) {
	store := NewMemoryStore()
	rec := event.NewRecorder(0)
	now := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	exec := newFakeExecutor()
	s := New(exec, store, rec, testLogger(), WithClock(func() time.Time { return now }))
	defer s.Stop()

	for _, when := range []time.Time{now, now.Add(-time.Second)} {
		_, err := s.Schedule(context.Background(), []string{"1"}, when, restart.Options{})
		assert.ErrorIs(t, err, ErrInvalidSchedule)
	}
	_, err := s.Schedule(context.Background(), nil, now.Add(time.Hour), restart.Options{})
	assert.ErrorIs(t, err, ErrInvalidSchedule)

	stored, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stored, "nothing is stored")
	assert.Empty(t, s.Pending())
	assert.Empty(t, rec.Events())
	exec.expectNoCall(t, 50*time.Millisecond)
}

func TestSchedule_ResolvesHosts(t *testing.T) {
	ctx := context.Background()
	inv := inventory.NewMemory(
		host.Record{ID: "1", Hostname: "web1", Address: "10.0.0.1", Port: 80, Group: host.GroupWeb, Active: true},
		host.Record{ID: "2", Hostname: "web2", Address: "10.0.0.2", Port: 80, Group: host.GroupWeb},
	)
	exec := newFakeExecutor()
	store := NewMemoryStore()
	rec := event.NewRecorder(0)
	s := New(exec, store, rec, testLogger(), WithInventory(inv))
	defer s.Stop()

	when := time.Now().Add(time.Hour)
	_, err := s.Schedule(ctx, []string{"2", "9"}, when, restart.Options{})
	assert.ErrorIs(t, err, restart.ErrNoHosts, "inactive and unknown ids resolve to nothing")

	inv.SetError(errors.New("file vanished"))
	_, err = s.Schedule(ctx, []string{"1"}, when, restart.Options{})
	assert.ErrorIs(t, err, inventory.ErrUnavailable)
	inv.SetError(nil)

	stored, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Empty(t, rec.Events())

	e, err := s.Schedule(ctx, []string{"9", "1", "2"}, when, restart.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, e.HostIDs)
	require.Len(t, s.Pending(), 1)
	assert.Equal(t, []string{"1"}, s.Pending()[0].HostIDs)

	exec.expectNoCall(t, 50*time.Millisecond)
}

func TestSchedule_FiresExecute(t *testing.T) {
	exec := newFakeExecutor()
	store := NewMemoryStore()
	rec := event.NewRecorder(0)
	s := New(exec, store, rec, testLogger())
	defer s.Stop()

	when := time.Now().Add(50 * time.Millisecond)
	e, err := s.Schedule(context.Background(), []string{"1", "2"}, when, restart.Options{Requester: "ops", Notify: true})
	require.NoError(t, err)
	assert.Len(t, s.Pending(), 1)

	scheduled, ok := rec.Find(event.KindRestartScheduled)
	require.True(t, ok)
	assert.Equal(t, e.ID, scheduled.JobID)

	c := exec.expectCall(t)
	assert.Equal(t, []string{"1", "2"}, c.hostIDs)
	assert.Equal(t, e.ID, c.opts.JobID)
	assert.Equal(t, "ops", c.opts.Requester)
	assert.True(t, c.opts.Notify)
	assert.True(t, when.Equal(c.opts.ScheduledFor))

	assert.Empty(t, s.Pending())
	stored, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stored, "fired entries leave the store")
}

func TestSchedule_ExecuteErrorEmitsFailure(t *testing.T) {
	exec := newFakeExecutor()
	exec.err = restart.ErrHostsBusy
	rec := event.NewRecorder(0)
	s := New(exec, NewMemoryStore(), rec, testLogger())
	defer s.Stop()

	e, err := s.Schedule(context.Background(), []string{"1"}, time.Now().Add(10*time.Millisecond), restart.Options{})
	require.NoError(t, err)
	exec.expectCall(t)

	require.Eventually(t, func() bool {
		_, ok := rec.Find(event.KindRestartFailed)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	failed, _ := rec.Find(event.KindRestartFailed)
	assert.Equal(t, e.ID, failed.JobID)
	assert.Equal(t, "not-started", failed.Payload["reason"])
}

func TestCancel(t *testing.T) {
	exec := newFakeExecutor()
	store := NewMemoryStore()
	rec := event.NewRecorder(0)
	s := New(exec, store, rec, testLogger())
	defer s.Stop()

	e, err := s.Schedule(context.Background(), []string{"1"}, time.Now().Add(100*time.Millisecond), restart.Options{})
	require.NoError(t, err)

	require.NoError(t, s.Cancel(context.Background(), e.ID))
	assert.ErrorIs(t, s.Cancel(context.Background(), e.ID), ErrNotFound)
	assert.ErrorIs(t, s.Cancel(context.Background(), "nope"), ErrNotFound)

	exec.expectNoCall(t, 200*time.Millisecond)
	stored, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Equal(t, []event.Kind{event.KindRestartScheduled, event.KindRestartCancelled}, rec.Kinds())
}

func TestStopKeepsStoredEntries(t *testing.T) {
	exec := newFakeExecutor()
	store := NewMemoryStore()
	s := New(exec, store, event.Discard{}, testLogger())

	_, err := s.Schedule(context.Background(), []string{"1"}, time.Now().Add(50*time.Millisecond), restart.Options{})
	require.NoError(t, err)
	s.Stop()

	exec.expectNoCall(t, 150*time.Millisecond)
	stored, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	_, err = s.Schedule(context.Background(), []string{"1"}, time.Now().Add(time.Hour), restart.Options{})
	assert.Error(t, err, "a stopped scheduler accepts nothing")
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()
	past := Entry{ID: "past", HostIDs: []string{"1"}, When: now.Add(-time.Hour), CreatedAt: now.Add(-2 * time.Hour)}
	future := Entry{ID: "future", HostIDs: []string{"2"}, When: now.Add(time.Hour), CreatedAt: now}
	require.NoError(t, store.Save(ctx, past))
	require.NoError(t, store.Save(ctx, future))

	exec := newFakeExecutor()
	s := New(exec, store, event.Discard{}, testLogger())
	defer s.Stop()

	n, err := s.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	c := exec.expectCall(t)
	assert.Equal(t, "past", c.opts.JobID, "past-due entries fire immediately")

	pending := s.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "future", pending[0].ID)

	n, err = s.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "armed entries are not armed twice")
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "neustart.db"))
	require.NoError(t, err)
	defer db.Close()

	store, err := NewSQLiteStore(ctx, db)
	require.NoError(t, err)

	base := time.Date(2026, 5, 4, 3, 0, 0, 0, time.UTC)
	later := Entry{ID: "b", HostIDs: []string{"3"}, When: base.Add(time.Hour), CreatedAt: base}
	sooner := Entry{ID: "a", HostIDs: []string{"1", "2"}, When: base, Requester: "ops", Notify: true, CreatedAt: base}
	require.NoError(t, store.Save(ctx, later))
	require.NoError(t, store.Save(ctx, sooner))

	entries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].ID)
	assert.Equal(t, []string{"1", "2"}, entries[0].HostIDs)
	assert.True(t, base.Equal(entries[0].When))
	assert.True(t, entries[0].Notify)
	assert.Equal(t, "ops", entries[0].Requester)

	require.NoError(t, store.Delete(ctx, "a"))
	assert.True(t, errors.Is(store.Delete(ctx, "a"), ErrNotFound))

	entries, err = store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSchedule_PersistsToSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, storage.Memory)
	require.NoError(t, err)
	defer db.Close()
	store, err := NewSQLiteStore(ctx, db)
	require.NoError(t, err)

	s := New(newFakeExecutor(), store, event.Discard{}, testLogger())
	e, err := s.Schedule(ctx, []string{"7"}, time.Now().Add(time.Hour), restart.Options{})
	require.NoError(t, err)
	s.Stop()

	restored := New(newFakeExecutor(), store, event.Discard{}, testLogger())
	defer restored.Stop()
	n, err := restored.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, e.ID, restored.Pending()[0].ID)
}
