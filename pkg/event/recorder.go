package event

import (
	"context"
	"sync"
)

// Recorder is a Sink that keeps every event in memory. It backs the
// recent-events view of the API and is handy in tests.
type Recorder struct {
	mu       sync.Mutex
	limit    int
	emitted  []Event
	notified []Event
}

// NewRecorder creates a Recorder keeping at most limit events of each
// kind of call. A limit of zero or less keeps everything.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) push(list []Event, e Event) []Event {
	list = append(list, e)
	if r.limit > 0 && len(list) > r.limit {
		list = append([]Event(nil), list[len(list)-r.limit:]...)
	}
	return list
}

// Emit implements Sink.
func (r *Recorder) Emit(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitted = r.push(r.emitted, e)
	return nil
}

// Notify implements Sink.
func (r *Recorder) Notify(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notified = r.push(r.notified, e)
	return nil
}

// Events returns a copy of the emitted events, oldest first.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.emitted...)
}

// Notifications returns a copy of the events passed to Notify.
func (r *Recorder) Notifications() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.notified...)
}

// Kinds returns the kinds of the emitted events, oldest first.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]Kind, len(r.emitted))
	for i, e := range r.emitted {
		kinds[i] = e.Kind
	}
	return kinds
}

// Find returns the first emitted event of kind.
func (r *Recorder) Find(kind Kind) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.emitted {
		if e.Kind == kind {
			return e, true
		}
	}
	return Event{}, false
}
