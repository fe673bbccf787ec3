package host

import "time"

// State is the reachability state of one probe layer.
// The string values are stable and consumed by status subscribers.
type State string

const (
	// StateChecking means no result has been recorded yet.
	StateChecking State = "checking"
	// StateOnline means the last probe succeeded.
	StateOnline State = "online"
	// StateOffline means the last probe failed.
	StateOffline State = "offline"
)

// StateFor maps a probe outcome to a State.
func StateFor(reachable bool) State {
	if reachable {
		return StateOnline
	}
	return StateOffline
}

// Status is the point-in-time reachability of a host as computed by one
// monitoring cycle.
type Status struct {
	ID        string    `json:"id"`
	Hostname  string    `json:"hostname"`
	Address   string    `json:"address"`
	Port      int       `json:"port"`
	Network   State     `json:"pingStatus"`
	Service   State     `json:"telnetStatus"`
	LastCheck time.Time `json:"lastCheck"`
}

// NewStatus builds a Status for r with both layers still checking.
func NewStatus(r Record) Status {
	return Status{
		ID:       r.ID,
		Hostname: r.Hostname,
		Address:  r.Address,
		Port:     r.Port,
		Network:  StateChecking,
		Service:  StateChecking,
	}
}

// Healthy is the composite health used for monitoring: both the network
// and the service layer must be online.
func (s Status) Healthy() bool {
	return s.Network == StateOnline && s.Service == StateOnline
}

// Offline reports whether either layer is offline.
func (s Status) Offline() bool {
	return s.Network == StateOffline || s.Service == StateOffline
}

// WentDown reports whether next moved a layer into offline compared to prev.
// A zero prev counts as checking, so a host first seen offline went down.
func WentDown(prev, next Status) bool {
	prevNet, prevSvc := prev.Network, prev.Service
	if prevNet == "" {
		prevNet = StateChecking
	}
	if prevSvc == "" {
		prevSvc = StateChecking
	}
	return (next.Network == StateOffline && prevNet != StateOffline) ||
		(next.Service == StateOffline && prevSvc != StateOffline)
}
