package server

import (
	"github.com/kylerisse/neustart/pkg/host"
)

// HostStatus is the aggregate condition of a host across both probe layers.
// The string values are stable and consumed by dashboards for color-coding:
// "unknown" (gray), "up" (green), "degraded" (yellow), "down" (red).
type HostStatus string

const (
	// HostStatusUnknown means at least one layer has not been checked yet.
	HostStatusUnknown HostStatus = "unknown"
	// HostStatusUp means both layers are online.
	HostStatusUp HostStatus = "up"
	// HostStatusDegraded means one layer is online and the other offline.
	HostStatusDegraded HostStatus = "degraded"
	// HostStatusDown means both layers are offline.
	HostStatusDown HostStatus = "down"
)

// computeHostStatus folds the network and service states of st into one
// HostStatus.
func computeHostStatus(st host.Status) HostStatus {
	layers := []host.State{st.Network, st.Service}

	upCount, downCount := 0, 0
	for _, s := range layers {
		switch s {
		case host.StateOnline:
			upCount++
		case host.StateOffline:
			downCount++
		}
	}

	switch {
	case upCount == len(layers):
		return HostStatusUp
	case downCount == len(layers):
		return HostStatusDown
	case upCount > 0 && downCount > 0:
		return HostStatusDegraded
	case downCount > 0:
		// one layer offline, the other never checked
		return HostStatusDown
	default:
		return HostStatusUnknown
	}
}

// Summary counts hosts by HostStatus.
type Summary struct {
	Total    int `json:"total"`
	Up       int `json:"up"`
	Degraded int `json:"degraded"`
	Down     int `json:"down"`
	Unknown  int `json:"unknown"`
}

func summarize(statuses []host.Status) Summary {
	s := Summary{Total: len(statuses)}
	for _, st := range statuses {
		switch computeHostStatus(st) {
		case HostStatusUp:
			s.Up++
		case HostStatusDegraded:
			s.Degraded++
		case HostStatusDown:
			s.Down++
		default:
			s.Unknown++
		}
	}
	return s
}
