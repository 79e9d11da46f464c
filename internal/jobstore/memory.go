package jobstore

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

type memEntry struct {
	value     []byte
	list      [][]byte
	isList    bool
	expiresAt time.Time
}

// DefaultSweepInterval is how often writes purge expired MemoryKV entries.
const DefaultSweepInterval = time.Minute

// MemoryKV is an in-process KV. It backs the store when redis is disabled and in
// tests. Reads drop the expired key they hit; writes purge every expired entry
// at most once per sweep interval, so keys nobody reads again still go away.
type MemoryKV struct {
	mu            sync.Mutex
	entries       map[string]*memEntry
	now           func() time.Time
	sweepInterval time.Duration
	lastSweep     time.Time
}

// NewMemoryKV returns an empty store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{entries: make(map[string]*memEntry), now: time.Now, sweepInterval: DefaultSweepInterval}
}

// Len returns the number of stored entries, expired ones included until swept.
func (m *MemoryKV) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// maybeSweep deletes expired entries when the sweep interval has passed. Caller holds mu.
func (m *MemoryKV) maybeSweep() {
	now := m.now()
	if now.Sub(m.lastSweep) < m.sweepInterval {
		return
	}
	m.lastSweep = now
	for k, e := range m.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(m.entries, k)
		}
	}
}

// lookup returns a live entry, dropping it when expired. Caller holds mu.
func (m *MemoryKV) lookup(key string) (*memEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return nil, false
	}
	return e, true
}

func (m *MemoryKV) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *MemoryKV) Ping(context.Context) error { return nil }

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok {
		return nil, false, nil
	}
	if e.isList {
		return nil, false, fmt.Errorf("key %s holds a list", key)
	}
	return cloneBytes(e.value), true, nil
}

func (m *MemoryKV) MGet(_ context.Context, keys ...string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]byte, len(keys))
	for i, k := range keys {
		if e, ok := m.lookup(k); ok && !e.isList {
			out[i] = cloneBytes(e.value)
		}
	}
	return out, nil
}

func (m *MemoryKV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeSweep()

	m.set(key, value, ttl)
	return nil
}

func (m *MemoryKV) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeSweep()

	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.set(key, value, ttl)
	return true, nil
}

func (m *MemoryKV) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeSweep()

	return m.incr(key)
}

func (m *MemoryKV) Append(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeSweep()

	return m.append(key, value)
}

func (m *MemoryKV) Range(_ context.Context, key string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookup(key)
	if !ok {
		return nil, nil
	}
	if !e.isList {
		return nil, fmt.Errorf("key %s does not hold a list", key)
	}
	out := make([][]byte, len(e.list))
	for i, v := range e.list {
		out[i] = cloneBytes(v)
	}
	return out, nil
}

func (m *MemoryKV) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expire(key, ttl)
	return nil
}

func (m *MemoryKV) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

// Tx validates queued operations against the current state before applying any of them.
func (m *MemoryKV) Tx(_ context.Context, fn func(Pipe)) error {
	p := &memPipe{}
	fn(p)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeSweep()

	// apply to a scratch copy of touched keys so a failing op leaves no trace
	snapshot := make(map[string]*memEntry, len(p.ops))
	for _, op := range p.ops {
		for _, k := range op.keys {
			if _, seen := snapshot[k]; seen {
				continue
			}
			if e, ok := m.lookup(k); ok {
				cp := *e
				cp.list = append([][]byte(nil), e.list...)
				snapshot[k] = &cp
			} else {
				snapshot[k] = nil
			}
		}
	}

	for _, op := range p.ops {
		if err := op.apply(m); err != nil {
			for k, e := range snapshot {
				if e == nil {
					delete(m.entries, k)
				} else {
					m.entries[k] = e
				}
			}
			return err
		}
	}
	return nil
}

func (m *MemoryKV) set(key string, value []byte, ttl time.Duration) {
	m.entries[key] = &memEntry{value: cloneBytes(value), expiresAt: m.deadline(ttl)}
}

func (m *MemoryKV) incr(key string) (int64, error) {
	e, ok := m.lookup(key)
	if !ok {
		e = &memEntry{value: []byte("0")}
		m.entries[key] = e
	}
	if e.isList {
		return 0, fmt.Errorf("key %s holds a list", key)
	}
	n, err := strconv.ParseInt(string(e.value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("value at %s is not an integer", key)
	}
	n++
	e.value = []byte(strconv.FormatInt(n, 10))
	return n, nil
}

func (m *MemoryKV) append(key string, value []byte) error {
	e, ok := m.lookup(key)
	if !ok {
		e = &memEntry{isList: true}
		m.entries[key] = e
	}
	if !e.isList {
		return fmt.Errorf("key %s does not hold a list", key)
	}
	e.list = append(e.list, cloneBytes(value))
	return nil
}

func (m *MemoryKV) expire(key string, ttl time.Duration) {
	if e, ok := m.lookup(key); ok {
		if ttl <= 0 {
			delete(m.entries, key)
			return
		}
		e.expiresAt = m.deadline(ttl)
	}
}

type memOp struct {
	keys  []string
	apply func(m *MemoryKV) error
}

type memPipe struct {
	ops []memOp
}

func (p *memPipe) Set(key string, value []byte, ttl time.Duration) {
	value = cloneBytes(value)
	p.ops = append(p.ops, memOp{keys: []string{key}, apply: func(m *MemoryKV) error {
		m.set(key, value, ttl)
		return nil
	}})
}

func (p *memPipe) Incr(key string) {
	p.ops = append(p.ops, memOp{keys: []string{key}, apply: func(m *MemoryKV) error {
		_, err := m.incr(key)
		return err
	}})
}

func (p *memPipe) Append(key string, value []byte) {
	value = cloneBytes(value)
	p.ops = append(p.ops, memOp{keys: []string{key}, apply: func(m *MemoryKV) error {
		return m.append(key, value)
	}})
}

func (p *memPipe) Expire(key string, ttl time.Duration) {
	p.ops = append(p.ops, memOp{keys: []string{key}, apply: func(m *MemoryKV) error {
		m.expire(key, ttl)
		return nil
	}})
}

func (p *memPipe) Del(keys ...string) {
	keys = append([]string(nil), keys...)
	p.ops = append(p.ops, memOp{keys: keys, apply: func(m *MemoryKV) error {
		for _, k := range keys {
			delete(m.entries, k)
		}
		return nil
	}})
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

var _ KV = (*MemoryKV)(nil)
