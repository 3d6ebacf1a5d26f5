// Package reload broadcasts asset change notifications to registered
// listeners.
//
// A Registry is an explicit, process-scoped object: create it before the
// technique cache that registers with it, and close the cache before
// dropping the registry. A Watcher turns file system events into
// Registry.NotifyAll calls.
package reload

import (
	"sync"
	"sync/atomic"
)

// Token identifies one registration. Releasing it unregisters the
// callback; the registry drops released entries on its next notification.
type Token struct {
	released atomic.Bool
	reg      *Registry
}

// Release unregisters the callback. It is safe to call more than once and
// from inside a callback.
func (t *Token) Release() {
	if t.released.CompareAndSwap(false, true) {
		t.reg.live.Add(-1)
	}
}

// Released reports whether Release was called.
func (t *Token) Released() bool { return t.released.Load() }

type listener struct {
	token *Token
	fn    func()
}

// Registry holds reload listeners.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	listeners []listener
	live      atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds fn and returns the token that owns it.
func (r *Registry) Register(fn func()) *Token {
	t := &Token{reg: r}
	r.mu.Lock()
	r.listeners = append(r.listeners, listener{token: t, fn: fn})
	r.mu.Unlock()
	r.live.Add(1)
	return t
}

// NotifyAll invokes every live callback under the registry lock, then
// compacts away the released ones. Callbacks must not call Register or
// NotifyAll. It returns the number of callbacks invoked.
func (r *Registry) NotifyAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, l := range r.listeners {
		if l.token.Released() {
			continue
		}
		l.fn()
		n++
	}

	keep := r.listeners[:0]
	for _, l := range r.listeners {
		if !l.token.Released() {
			keep = append(keep, l)
		}
	}
	clear(r.listeners[len(keep):])
	r.listeners = keep

	slogger().Debug("reload: notified", "listeners", n)
	return n
}

// Len returns the number of live registrations.
func (r *Registry) Len() int { return int(r.live.Load()) }
