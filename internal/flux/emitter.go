package flux

import "sync"

// ListenerHandle identifies a callback registered on an Emitter.
type ListenerHandle uint64

type listener struct {
	handle   ListenerHandle
	callback func()
}

// Emitter holds change subscribers and notifies them synchronously, in
// registration order, on the goroutine that calls EmitChange.
// The zero value is ready to use.
type Emitter struct {
	mu        sync.Mutex
	next      ListenerHandle
	listeners []listener
}

// OnChange registers callback and returns a handle for RemoveListener.
func (e *Emitter) OnChange(callback func()) ListenerHandle {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.next++
	e.listeners = append(e.listeners, listener{handle: e.next, callback: callback})
	return e.next
}

// RemoveListener unregisters the callback for handle. Unknown handles are ignored.
func (e *Emitter) RemoveListener(handle ListenerHandle) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, l := range e.listeners {
		if l.handle == handle {
			e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
			return
		}
	}
}

// ListenerCount returns the number of registered callbacks.
func (e *Emitter) ListenerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

// EmitChange invokes every registered callback. It iterates over a snapshot,
// so callbacks may register, remove or emit again.
func (e *Emitter) EmitChange() {
	e.mu.Lock()
	snapshot := make([]listener, len(e.listeners))
	copy(snapshot, e.listeners)
	e.mu.Unlock()

	for _, l := range snapshot {
		l.callback()
	}
}
