package flux

// EntryState is the lifecycle state of one key in a Cache.
type EntryState int

const (
	// Absent: nothing cached and no fetch in flight.
	Absent EntryState = iota
	// Fetching: a fetch is in flight and nothing is cached yet.
	Fetching
	// Loaded: a value is cached and no fetch is in flight.
	Loaded
	// Refreshing: a value is cached and a fetch for a replacement is in flight.
	Refreshing
)

func (s EntryState) String() string {
	switch s {
	case Absent:
		return "absent"
	case Fetching:
		return "fetching"
	case Loaded:
		return "loaded"
	case Refreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

type entry[V any] struct {
	state EntryState
	value V
}

// Cache maps keys to remotely sourced values together with their fetch state,
// so that "cached" and "in flight" cannot drift apart.
//
// Cache is not safe for concurrent use; the owning store serializes access.
type Cache[K comparable, V any] struct {
	entries map[K]*entry[V]
}

// NewCache returns an empty cache.
func NewCache[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{entries: make(map[K]*entry[V])}
}

// State returns the state of key.
func (c *Cache[K, V]) State(key K) EntryState {
	if e, ok := c.entries[key]; ok {
		return e.state
	}
	return Absent
}

// Get returns the cached value for key, if any.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	e, ok := c.entries[key]
	if !ok || (e.state != Loaded && e.state != Refreshing) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// BeginFetch marks key as having a fetch in flight. It returns false, and
// changes nothing, when a fetch is already in flight.
func (c *Cache[K, V]) BeginFetch(key K) bool {
	e, ok := c.entries[key]
	if !ok {
		c.entries[key] = &entry[V]{state: Fetching}
		return true
	}
	switch e.state {
	case Loaded:
		e.state = Refreshing
		return true
	default:
		return false
	}
}

// Receive stores value for key and clears any in-flight marker.
func (c *Cache[K, V]) Receive(key K, value V) {
	c.entries[key] = &entry[V]{state: Loaded, value: value}
}

// FetchFailed clears the in-flight marker for key. A previously cached value
// is kept; otherwise the key returns to Absent so the next read retries.
func (c *Cache[K, V]) FetchFailed(key K) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	switch e.state {
	case Fetching:
		delete(c.entries, key)
	case Refreshing:
		e.state = Loaded
	}
}

// Update applies fn to the cached value for key in place. It returns false
// without calling fn when nothing is cached, and otherwise fn's result, which
// reports whether the value changed.
func (c *Cache[K, V]) Update(key K, fn func(*V) bool) bool {
	e, ok := c.entries[key]
	if !ok || (e.state != Loaded && e.state != Refreshing) {
		return false
	}
	return fn(&e.value)
}

// Purge removes every key, cached or in flight, for which keep returns false.
// It returns the removed keys.
func (c *Cache[K, V]) Purge(keep func(K) bool) []K {
	var removed []K
	for key := range c.entries {
		if !keep(key) {
			delete(c.entries, key)
			removed = append(removed, key)
		}
	}
	return removed
}

// Release drops every cached value but keeps in-flight markers, so a fetch
// that is still running is not started a second time.
func (c *Cache[K, V]) Release() {
	for key, e := range c.entries {
		switch e.state {
		case Loaded:
			delete(c.entries, key)
		case Refreshing:
			c.entries[key] = &entry[V]{state: Fetching}
		}
	}
}

// Len returns the number of keys that are cached or in flight.
func (c *Cache[K, V]) Len() int {
	return len(c.entries)
}
