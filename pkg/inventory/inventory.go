// Package inventory is the read side of the host inventory. The core only
// ever lists records; creating and editing them belongs to whatever system
// owns the inventory.
package inventory

import (
	"context"
	"errors"

	"github.com/kylerisse/neustart/pkg/host"
)

// ErrUnavailable is returned when the inventory cannot be read.
// Callers treat it as recoverable.
var ErrUnavailable = errors.New("inventory unavailable")

// Inventory is the source of truth for host records.
type Inventory interface {
	// ListActive returns every record whose Active flag is set.
	ListActive(ctx context.Context) ([]host.Record, error)
	// ListByIDs returns the active records among ids, in the order given.
	// Unknown or inactive ids are omitted.
	ListByIDs(ctx context.Context, ids []string) ([]host.Record, error)
}

// selectActive filters records to the active ones.
func selectActive(records []host.Record) []host.Record {
	active := make([]host.Record, 0, len(records))
	for _, r := range records {
		if r.Active {
			active = append(active, r)
		}
	}
	return active
}

// selectByIDs picks the active records matching ids, preserving id order
// and dropping duplicates.
func selectByIDs(records []host.Record, ids []string) []host.Record {
	byID := make(map[string]host.Record, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	seen := make(map[string]bool, len(ids))
	selected := make([]host.Record, 0, len(ids))
	for _, id := range ids {
		r, ok := byID[id]
		if !ok || !r.Active || seen[id] {
			continue
		}
		seen[id] = true
		selected = append(selected, r)
	}
	return selected
}
