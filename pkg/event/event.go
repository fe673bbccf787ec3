// Package event carries restart lifecycle and host-down events from the
// core to whoever wants them: the log, the audit table, operators' inboxes
// and live dashboards.
package event

import (
	"context"
	"errors"
	"time"
)

// Kind names an event. The string values are stable and stored in the
// audit table.
type Kind string

const (
	KindRestartInitiated Kind = "restart_initiated"
	KindRestartScheduled Kind = "restart_scheduled"
	KindRestartFailed    Kind = "restart_failed"
	KindRestartCompleted Kind = "restart_completed"
	KindRestartCancelled Kind = "restart_cancelled"
	KindHostDown         Kind = "host_down"
)

// Event is one lifecycle record. JobID is empty for events that do not
// belong to a restart job.
type Event struct {
	Kind      Kind           `json:"kind"`
	JobID     string         `json:"jobId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// New builds an Event stamped with the current time.
func New(kind Kind, jobID string, payload map[string]any) Event {
	return Event{
		Kind:      kind,
		JobID:     jobID,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

// Sink receives events. Emit records an event; Notify additionally asks
// for it to be delivered to people. Sinks that do not deliver to people
// treat Notify as a no-op.
//
// Errors are reported to the caller but the core never aborts an
// operation because a sink failed.
type Sink interface {
	Emit(ctx context.Context, e Event) error
	Notify(ctx context.Context, e Event) error
}

// Multi fans every call out to all of its sinks.
type Multi []Sink

// Emit implements Sink. Every sink is called even if an earlier one fails.
func (m Multi) Emit(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Notify implements Sink.
func (m Multi) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard is a Sink that drops everything.
type Discard struct{}

func (Discard) Emit(context.Context, Event) error   { return nil }
func (Discard) Notify(context.Context, Event) error { return nil }
