package monitor

import (
	"context"

	"github.com/kylerisse/neustart/pkg/event"
	"github.com/kylerisse/neustart/pkg/host"
	"github.com/sirupsen/logrus"
)

// AlertHandler returns a DownHandler that emits a host_down event and,
// when alertsEnabled reports true, asks the sink to notify people.
func AlertHandler(sink event.Sink, alertsEnabled func() bool, logger *logrus.Logger) DownHandler {
	return func(ctx context.Context, _, next host.Status) {
		e := event.New(event.KindHostDown, "", map[string]any{
			"hostId":       next.ID,
			"hostname":     next.Hostname,
			"address":      next.Address,
			"port":         next.Port,
			"pingStatus":   string(next.Network),
			"telnetStatus": string(next.Service),
		})

		log := logger.WithField("host", next.Hostname)
		log.WithFields(logrus.Fields{
			"network": next.Network,
			"service": next.Service,
		}).Warn("Host went down")

		if err := sink.Emit(ctx, e); err != nil {
			log.WithError(err).Error("Failed to record host_down event")
		}
		if alertsEnabled == nil || !alertsEnabled() {
			return
		}
		if err := sink.Notify(ctx, e); err != nil {
			log.WithError(err).Error("Failed to send host down alert")
		}
	}
}
