package inventory

import (
	"context"
	"sync"

	"github.com/kylerisse/neustart/pkg/host"
)

// Memory is an in-process Inventory. It is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	records []host.Record
	err     error
}

// NewMemory creates a Memory inventory holding records.
func NewMemory(records ...host.Record) *Memory {
	m := &Memory{}
	m.Set(records...)
	return m
}

// Set replaces the held records.
func (m *Memory) Set(records ...host.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append([]host.Record(nil), records...)
}

// SetError makes every subsequent list call fail with err wrapped in
// ErrUnavailable. A nil err restores normal operation.
func (m *Memory) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// ListActive implements Inventory.
func (m *Memory) ListActive(_ context.Context) ([]host.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, unavailable(m.err)
	}
	return selectActive(m.records), nil
}

// ListByIDs implements Inventory.
func (m *Memory) ListByIDs(_ context.Context, ids []string) ([]host.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, unavailable(m.err)
	}
	return selectByIDs(m.records, ids), nil
}
