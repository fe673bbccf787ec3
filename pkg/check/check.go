// Package check defines the interfaces and types shared by the reachability
// checks.
//
// A Check represents a single connectivity probe executed against one
// target. The network-layer check (ping), the service-layer check (tcp) and
// the name-resolution check (dns) implement the Check interface with their
// own logic and configuration.
//
// Results are captured in a Result struct with a uniform shape regardless of
// check type: success/failure, a set of named metrics, and an optional error.
//
// The Registry allows check types to be registered by name and instantiated
// from configuration at runtime, so the probe can pick the check type for
// each layer from settings.
package check

import (
	"context"
)

// Check is the interface that all check types must implement.
type Check interface {
	// Type returns the registered name of this check type (e.g. "ping", "tcp").
	Type() string

	// Run executes the check and returns a Result.
	// The provided context can be used for cancellation and timeouts.
	Run(ctx context.Context) Result
}
