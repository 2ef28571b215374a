// Package flux implements the unidirectional data flow primitives used by the
// stores: a change emitter, an action dispatcher, and a keyed entity cache.
package flux

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// Action is any value broadcast through a Dispatcher.
type Action any

// Token identifies a callback registered on a Dispatcher.
type Token uint64

type registration[T any] struct {
	token    Token
	callback func(context.Context, T)
}

// dispatchingKey marks a context as belonging to an in-progress dispatch of d.
type dispatchingKey struct{ d any }

// Dispatcher delivers every dispatched value to all registered callbacks, in
// registration order. Dispatches are serialized: concurrent Dispatch calls
// from different goroutines deliver one whole batch at a time.
//
// Dispatching again from the goroutine that is delivering a batch panics,
// whatever context is passed; change listeners notified by a callback run on
// that goroutine too. Dispatches from other goroutines wait their turn.
type Dispatcher[T any] struct {
	dispatchMu sync.Mutex
	// owner is the goroutine delivering the current batch, 0 when idle.
	owner atomic.Uint64

	mu        sync.Mutex
	next      Token
	callbacks []registration[T]
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher[T any]() *Dispatcher[T] {
	return &Dispatcher[T]{}
}

// Default is the process-wide action dispatcher. Stores accept an explicit
// dispatcher, so nothing is required to use it.
var Default = NewDispatcher[Action]()

// Register adds callback and returns its token.
func (d *Dispatcher[T]) Register(callback func(context.Context, T)) Token {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.next++
	d.callbacks = append(d.callbacks, registration[T]{token: d.next, callback: callback})
	return d.next
}

// Unregister removes the callback registered under token.
func (d *Dispatcher[T]) Unregister(token Token) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, r := range d.callbacks {
		if r.token == token {
			d.callbacks = append(d.callbacks[:i:i], d.callbacks[i+1:]...)
			return
		}
	}
}

// Dispatch invokes every registered callback with action.
func (d *Dispatcher[T]) Dispatch(ctx context.Context, action T) {
	if ctx == nil {
		ctx = context.Background()
	}
	self := goroutineID()
	if d.reentrant(ctx, self) {
		panic(fmt.Sprintf("flux: cannot dispatch %T in the middle of a dispatch", action))
	}

	d.dispatchMu.Lock()
	defer d.dispatchMu.Unlock()
	d.owner.Store(self)
	defer d.owner.Store(0)

	d.mu.Lock()
	snapshot := make([]registration[T], len(d.callbacks))
	copy(snapshot, d.callbacks)
	d.mu.Unlock()

	ctx = context.WithValue(ctx, dispatchingKey{d}, true)
	for _, r := range snapshot {
		r.callback(ctx, action)
	}
}

// reentrant reports whether a dispatch from goroutine self would nest inside
// the batch being delivered. The context marker is only consulted when the
// goroutine cannot be identified.
func (d *Dispatcher[T]) reentrant(ctx context.Context, self uint64) bool {
	if self != 0 {
		return d.owner.Load() == self
	}
	return ctx.Value(dispatchingKey{d}) != nil
}

// IsDispatching reports whether the caller is inside a dispatch of d, that
// is, whether calling Dispatch now would panic.
func (d *Dispatcher[T]) IsDispatching(ctx context.Context) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	return d.reentrant(ctx, goroutineID())
}

var goroutinePrefix = []byte("goroutine ")

// goroutineID returns the runtime's ID of the calling goroutine, read from
// the first line of its stack trace ("goroutine 42 [running]:"), or 0 if it
// cannot be parsed.
func goroutineID() uint64 {
	var buf [64]byte
	b := bytes.TrimPrefix(buf[:runtime.Stack(buf[:], false)], goroutinePrefix)
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
