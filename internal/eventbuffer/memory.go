package eventbuffer

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryOpts configures a Memory adapter.
type MemoryOpts struct {
	// Namespace isolates state between instances sharing a process (tests
	// mostly); distinct namespaces share no state.
	Namespace string
	TTL       time.Duration
	Now       func() time.Time // overridable for tests; defaults to time.Now
}

type memoryEntry struct {
	key       string
	payload   any
	expiresAt time.Time
	elem      *list.Element // node in order, for O(1) removal
}

// Memory is the in-memory Event Buffer adapter for single-process
// deployments. It guards a map + doubly-linked insertion-order list behind a
// mutex — a single-writer state machine in the same spirit as the runtime's
// other GenServer-equivalent components, just without the actor plumbing
// since all access here is already synchronous.
type Memory struct {
	mu        sync.Mutex
	namespace string
	ttl       time.Duration
	now       func() time.Time
	entries   map[string]*memoryEntry
	order     *list.List // holds *memoryEntry in insertion order
}

var _ Adapter = (*Memory)(nil)

// NewMemory creates a Memory adapter.
func NewMemory(opts MemoryOpts) *Memory {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Memory{
		namespace: opts.Namespace,
		ttl:       ttl,
		now:       now,
		entries:   make(map[string]*memoryEntry),
		order:     list.New(),
	}
}

func (m *Memory) Record(_ context.Context, key string, payload any) (RecordResult, error) {
	if key == "" {
		return RecordOK, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneLocked()

	if existing, ok := m.entries[key]; ok {
		// First-write-wins: keep existing payload, refresh TTL.
		existing.expiresAt = m.now().Add(m.ttl)
		return RecordDuplicate, nil
	}

	e := &memoryEntry{key: key, payload: payload, expiresAt: m.now().Add(m.ttl)}
	e.elem = m.order.PushBack(e)
	m.entries[key] = e
	return RecordOK, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	if key == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		m.order.Remove(e.elem)
		delete(m.entries, key)
	}
	return nil
}

func (m *Memory) Seen(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked()
	_, ok := m.entries[key]
	return ok, nil
}

func (m *Memory) Pending(_ context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked()

	out := make([]Entry, 0, len(m.entries))
	for el := m.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*memoryEntry)
		out = append(out, Entry{Key: e.key, Payload: e.payload})
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }

// pruneLocked removes expired entries. Callers must hold m.mu.
func (m *Memory) pruneLocked() {
	now := m.now()
	// Entries don't expire strictly in insertion order (TTL refreshes on
	// duplicate), so walk the whole list rather than stopping at the first
	// unexpired node.
	for el := m.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*memoryEntry)
		if now.After(e.expiresAt) {
			m.order.Remove(el)
			delete(m.entries, e.key)
		}
		el = next
	}
}
