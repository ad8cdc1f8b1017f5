// ABOUTME: Bounded, expiring set of webhook event IDs
// ABOUTME: Lets the callback handler drop platform redeliveries it already processed

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key     string
	expires time.Time
}

// Filter remembers keys for a fixed TTL, holding at most maxEntries of them.
// Keys are never refreshed, so the list is ordered by expiry and both sweeping
// and eviction work from the front.
type Filter struct {
	mu         sync.Mutex
	index      map[string]*list.Element
	order      *list.List // of *entry, oldest first
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Filter and starts its background sweeper. Call Close to stop it.
func New(ttl time.Duration, maxEntries int) *Filter {
	if maxEntries < 1 {
		maxEntries = 1
	}
	f := &Filter{
		index:      make(map[string]*list.Element),
		order:      list.New(),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		done:       make(chan struct{}),
	}
	go f.sweepLoop(sweepInterval(ttl))
	return f
}

func sweepInterval(ttl time.Duration) time.Duration {
	switch {
	case ttl < time.Second:
		return time.Second
	case ttl > time.Minute:
		return time.Minute
	default:
		return ttl
	}
}

// Seen reports whether key was recorded within the TTL. A key that was not
// seen is recorded, so of two concurrent calls with the same key exactly one
// returns false. Empty keys are never recorded.
func (f *Filter) Seen(key string) bool {
	if key == "" {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	if el, ok := f.index[key]; ok {
		if now.Before(el.Value.(*entry).expires) {
			return true
		}
		f.remove(el)
	}

	for len(f.index) >= f.maxEntries {
		f.remove(f.order.Front())
	}
	f.index[key] = f.order.PushBack(&entry{key: key, expires: now.Add(f.ttl)})
	return false
}

// Len returns the number of keys currently held, including expired keys not
// yet swept.
func (f *Filter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.index)
}

func (f *Filter) remove(el *list.Element) {
	f.order.Remove(el)
	delete(f.index, el.Value.(*entry).key)
}

// sweep drops expired keys from the front of the list.
func (f *Filter) sweep() {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	for el := f.order.Front(); el != nil; el = f.order.Front() {
		if now.Before(el.Value.(*entry).expires) {
			return
		}
		f.remove(el)
	}
}

func (f *Filter) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.sweep()
		case <-f.done:
			return
		}
	}
}

// Close stops the sweeper. It is safe to call more than once.
func (f *Filter) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
