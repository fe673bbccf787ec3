package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kylerisse/neustart/pkg/storage"
)

// Store persists pending entries so they survive a process restart.
type Store interface {
	Save(ctx context.Context, e Entry) error
	// Delete removes the entry, returning ErrNotFound if it does not exist.
	Delete(ctx context.Context, id string) error
	// List returns every stored entry ordered by When.
	List(ctx context.Context) ([]Entry, error)
}

// MemoryStore is a non-durable Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (m *MemoryStore) Save(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.ID] = e
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return ErrNotFound
	}
	delete(m.entries, id)
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	sortEntries(entries)
	return entries, nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].When.Equal(entries[j].When) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].When.Before(entries[j].When)
	})
}

var scheduleSchema = []string{
	`CREATE TABLE IF NOT EXISTS scheduled_restarts(
		id TEXT PRIMARY KEY,
		host_ids TEXT NOT NULL,
		run_at INTEGER NOT NULL,
		requester TEXT NOT NULL DEFAULT '',
		notify INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scheduled_restarts_run_at ON scheduled_restarts(run_at)`,
}

// SQLiteStore keeps entries in a SQLite table.
type SQLiteStore struct {
	db      *sql.DB
	timeout time.Duration
}

// NewSQLiteStore creates the schedule table in db if needed. The caller
// owns db.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if err := storage.Migrate(ctx, db, scheduleSchema...); err != nil {
		return nil, fmt.Errorf("init schedule schema: %w", err)
	}
	return &SQLiteStore{db: db, timeout: 2 * time.Second}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, e Entry) error {
	hostIDs, err := json.Marshal(e.HostIDs)
	if err != nil {
		return fmt.Errorf("encode host ids: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO scheduled_restarts(id, host_ids, run_at, requester, notify, created_at) VALUES(?,?,?,?,?,?)`,
		e.ID, string(hostIDs), e.When.UnixMilli(), e.Requester, e.Notify, e.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save schedule %s: %w", e.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_restarts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete schedule %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete schedule %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, host_ids, run_at, requester, notify, created_at FROM scheduled_restarts ORDER BY run_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                Entry
			hostIDs          string
			runAt, createdAt int64
		)
		if err := rows.Scan(&e.ID, &hostIDs, &runAt, &e.Requester, &e.Notify, &createdAt); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		if err := json.Unmarshal([]byte(hostIDs), &e.HostIDs); err != nil {
			return nil, fmt.Errorf("decode host ids of %s: %w", e.ID, err)
		}
		e.When = time.UnixMilli(runAt)
		e.CreatedAt = time.UnixMilli(createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return entries, nil
}
