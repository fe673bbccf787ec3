package event

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogSink writes events to a logrus logger.
type LogSink struct {
	logger *logrus.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (l *LogSink) entry(e Event) *logrus.Entry {
	fields := logrus.Fields{"event": string(e.Kind)}
	if e.JobID != "" {
		fields["job"] = e.JobID
	}
	for k, v := range e.Payload {
		fields[k] = v
	}
	return l.logger.WithFields(fields)
}

// Emit implements Sink.
func (l *LogSink) Emit(_ context.Context, e Event) error {
	switch e.Kind {
	case KindRestartFailed, KindHostDown:
		l.entry(e).Warn("event")
	default:
		l.entry(e).Info("event")
	}
	return nil
}

// Notify implements Sink.
func (l *LogSink) Notify(_ context.Context, e Event) error {
	l.entry(e).Info("notification requested")
	return nil
}
