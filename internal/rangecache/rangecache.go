// Package rangecache is a read-through LRU cache of fetched [start,stop)
// byte ranges for one remote FITS object. It exists to avoid duplicate
// ranged GETs when overlapping cutouts are requested against the same HDU
// in a short window.
package rangecache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"k8s.io/klog/v2"
)

// Range is a half-open byte interval [Start, Stop) into one object.
type Range struct {
	Start int64
	Stop  int64
}

func (r Range) isValidFor(size int64) bool {
	return r.Start >= 0 && r.Stop <= size && r.Start <= r.Stop
}

func (r Range) contains(r2 Range) bool {
	return r.Start <= r2.Start && r.Stop >= r2.Stop
}

// Fetcher fetches the byte range [off, off+len(p)) of the remote object
// into p, mirroring io.ReaderAt's ReadAt signature.
type Fetcher func(p []byte, off int64) (int, error)

type entry struct {
	value    []byte
	lastRead time.Time
}

// Cache is an LRU cache of fetched ranges for one object, bounded by
// maxMemorySize bytes, with double-checked-lock coordination so concurrent
// requests for the same missing range trigger only one fetch.
type Cache struct {
	mu sync.Mutex

	size          int64
	name          string
	maxMemorySize int64
	occupiedSpace int64

	fetch Fetcher

	entries map[Range]entry
	lru     *list.List
	lruElem map[Range]*list.Element

	fetching sync.Map // Range -> *sync.Cond
}

// New builds a Cache for an object of the given total size, fetching
// misses via fetch, bounded to maxMemorySize bytes of cached data.
func New(size int64, name string, fetch Fetcher, maxMemorySize int64) *Cache {
	if fetch == nil {
		panic("fetch must not be nil")
	}
	return &Cache{
		size:          size,
		name:          name,
		maxMemorySize: maxMemorySize,
		fetch:         fetch,
		entries:       make(map[Range]entry),
		lru:           list.New(),
		lruElem:       make(map[Range]*list.Element),
	}
}

// OccupiedSpace returns current cache memory usage in bytes.
func (c *Cache) OccupiedSpace() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.occupiedSpace
}

// Get returns the bytes for [start, start+length), fetching and caching on
// a miss. Concurrent Get calls for the same missing range share one fetch.
func (c *Cache) Get(ctx context.Context, start, length int64) ([]byte, error) {
	want := Range{Start: start, Stop: start + length}
	if !want.isValidFor(c.size) {
		return nil, fmt.Errorf("invalid range [%d,%d) for object of size %d", want.Start, want.Stop, c.size)
	}

	c.mu.Lock()
	if v, ok := c.lookupLocked(want); ok {
		c.mu.Unlock()
		return v, nil
	}

	condIface, loaded := c.fetching.LoadOrStore(want, sync.NewCond(&c.mu))
	cond := condIface.(*sync.Cond)
	for loaded {
		cond.Wait() // atomically unlocks c.mu, relocks on wake
		if v, ok := c.lookupLocked(want); ok {
			c.mu.Unlock()
			return v, nil
		}
		// previous fetcher failed; race to become the new one. Anyone who
		// loses re-waits on the same cond instead of all re-fetching.
		condIface, loaded = c.fetching.LoadOrStore(want, cond)
		cond = condIface.(*sync.Cond)
	}
	c.mu.Unlock()

	klog.V(5).Infof("rangecache[%s]: miss for [%d,%d)", c.name, want.Start, want.Stop)
	buf := make([]byte, length)
	n, err := c.fetch(buf, start)

	c.mu.Lock()
	c.fetching.Delete(want)
	cond.Broadcast()
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("rangecache[%s]: fetching [%d,%d): %w", c.name, want.Start, want.Stop, err)
	}
	c.addLocked(want, buf[:n])
	c.mu.Unlock()
	return buf[:n], nil
}

// lookupLocked returns cached bytes covering want, if any range in the
// cache fully contains it. Caller must hold c.mu.
func (c *Cache) lookupLocked(want Range) ([]byte, bool) {
	for r, e := range c.entries {
		if r.contains(want) {
			c.touchLocked(r)
			return e.value[want.Start-r.Start : want.Stop-r.Start], true
		}
	}
	return nil, false
}

func (c *Cache) touchLocked(r Range) {
	if elem, ok := c.lruElem[r]; ok {
		c.lru.MoveToFront(elem)
		e := c.entries[r]
		e.lastRead = time.Now()
		c.entries[r] = e
	}
}

func (c *Cache) addLocked(r Range, value []byte) {
	if len(value) == 0 {
		return
	}
	c.entries[r] = entry{value: value, lastRead: time.Now()}
	c.occupiedSpace += int64(len(value))
	c.lruElem[r] = c.lru.PushFront(r)
	c.evictLocked()
}

func (c *Cache) evictLocked() {
	for c.maxMemorySize > 0 && c.occupiedSpace > c.maxMemorySize && c.lru.Len() > 0 {
		back := c.lru.Back()
		r := back.Value.(Range)
		if e, ok := c.entries[r]; ok {
			c.occupiedSpace -= int64(len(e.value))
			delete(c.entries, r)
		}
		c.lru.Remove(back)
		delete(c.lruElem, r)
		klog.V(5).Infof("rangecache[%s]: evicted [%d,%d)", c.name, r.Start, r.Stop)
	}
}

// StartGC launches a goroutine that periodically evicts entries older than
// maxAge, stopping when ctx is cancelled.
func (c *Cache) StartGC(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.evictOlderThan(maxAge)
			}
		}
	}()
}

func (c *Cache) evictOlderThan(maxAge time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var stale []Range
	for r, e := range c.entries {
		if time.Since(e.lastRead) > maxAge {
			stale = append(stale, r)
		}
	}
	for _, r := range stale {
		if e, ok := c.entries[r]; ok {
			c.occupiedSpace -= int64(len(e.value))
			delete(c.entries, r)
		}
		if elem, ok := c.lruElem[r]; ok {
			c.lru.Remove(elem)
			delete(c.lruElem, r)
		}
	}
}
