package notification

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Deduplicator remembers which notification fingerprints were already
// delivered so broker redeliveries do not reach customers twice.
type Deduplicator interface {
	IsProcessed(ctx context.Context, id string) (bool, error)
	MarkProcessed(ctx context.Context, id string) error
}

// CacheStats is a snapshot of the in-memory dedup cache.
type CacheStats struct {
	Entries   int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

type cacheEntry struct {
	id      string
	addedAt time.Time
}

// MemoryDeduplicator is a TTL cache with a hard entry cap. Expired entries
// are dropped lazily; when the cap is reached the oldest entry goes first.
type MemoryDeduplicator struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]*list.Element
	order      *list.List // front = oldest

	hits      uint64
	misses    uint64
	evictions uint64

	now func() time.Time
}

func NewMemoryDeduplicator(ttl time.Duration, maxEntries int) *MemoryDeduplicator {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if maxEntries < 1 {
		maxEntries = 100000
	}
	return &MemoryDeduplicator{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		now:        time.Now,
	}
}

func (d *MemoryDeduplicator) IsProcessed(ctx context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	elem, ok := d.entries[id]
	if !ok {
		d.misses++
		return false, nil
	}
	entry := elem.Value.(*cacheEntry)
	if d.now().Sub(entry.addedAt) > d.ttl {
		d.remove(elem)
		d.misses++
		return false, nil
	}
	d.hits++
	return true, nil
}

func (d *MemoryDeduplicator) MarkProcessed(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if elem, ok := d.entries[id]; ok {
		elem.Value.(*cacheEntry).addedAt = d.now()
		d.order.MoveToBack(elem)
		return nil
	}

	d.pruneExpired()
	for len(d.entries) >= d.maxEntries {
		d.remove(d.order.Front())
		d.evictions++
	}

	elem := d.order.PushBack(&cacheEntry{id: id, addedAt: d.now()})
	d.entries[id] = elem
	return nil
}

func (d *MemoryDeduplicator) Stats() CacheStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return CacheStats{
		Entries:   len(d.entries),
		Hits:      d.hits,
		Misses:    d.misses,
		Evictions: d.evictions,
	}
}

func (d *MemoryDeduplicator) pruneExpired() {
	now := d.now()
	for {
		front := d.order.Front()
		if front == nil {
			return
		}
		if now.Sub(front.Value.(*cacheEntry).addedAt) <= d.ttl {
			return
		}
		d.remove(front)
	}
}

func (d *MemoryDeduplicator) remove(elem *list.Element) {
	if elem == nil {
		return
	}
	delete(d.entries, elem.Value.(*cacheEntry).id)
	d.order.Remove(elem)
}
