package server

import (
	"testing"

	"github.com/kylerisse/neustart/pkg/host"
)

func TestComputeHostStatus(t *testing.T) {
	tests := []struct {
		name    string
		network host.State
		service host.State
		want    HostStatus
	}{
		{"both checking", host.StateChecking, host.StateChecking, HostStatusUnknown},
		{"zero value", "", "", HostStatusUnknown},
		{"network up, service checking", host.StateOnline, host.StateChecking, HostStatusUnknown},
		{"both online", host.StateOnline, host.StateOnline, HostStatusUp},
		{"service offline", host.StateOnline, host.StateOffline, HostStatusDegraded},
		{"network offline", host.StateOffline, host.StateOnline, HostStatusDegraded},
		{"both offline", host.StateOffline, host.StateOffline, HostStatusDown},
		{"network offline, service checking", host.StateOffline, host.StateChecking, HostStatusDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := computeHostStatus(host.Status{Network: tt.network, Service: tt.service})
			if got != tt.want {
				t.Errorf("computeHostStatus() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	statuses := []host.Status{
		{Network: host.StateOnline, Service: host.StateOnline},
		{Network: host.StateOnline, Service: host.StateOnline},
		{Network: host.StateOnline, Service: host.StateOffline},
		{Network: host.StateOffline, Service: host.StateOffline},
		{Network: host.StateChecking, Service: host.StateChecking},
	}
	want := Summary{Total: 5, Up: 2, Degraded: 1, Down: 1, Unknown: 1}
	if got := summarize(statuses); got != want {
		t.Errorf("summarize() = %+v, want %+v", got, want)
	}
	if got := summarize(nil); got != (Summary{}) {
		t.Errorf("summarize(nil) = %+v, want zero", got)
	}
}
