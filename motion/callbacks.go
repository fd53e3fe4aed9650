package motion

import "sync"

// callbackRegistry fans state updates out to caller-registered handlers.
// Every Gateway and every Device owns one; there is no process-wide
// registry. Handlers take no arguments and close over the entity they
// were registered on.
type callbackRegistry struct {
	mu       sync.Mutex
	handlers map[string]func()
}

// register stores cb under id, replacing any handler already there.
func (r *callbackRegistry) register(id string, cb func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[string]func())
	}
	r.handlers[id] = cb
}

func (r *callbackRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, id)
}

func (r *callbackRegistry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = nil
}

// fire invokes every registered handler once, in unspecified order. Called
// after a successful merge with the entity mutex released, so handlers may
// read the entity freely. A slow handler stalls dispatch for this entity
// only.
func (r *callbackRegistry) fire() {
	r.mu.Lock()
	handlers := make([]func(), 0, len(r.handlers))
	for _, cb := range r.handlers {
		handlers = append(handlers, cb)
	}
	r.mu.Unlock()

	for _, cb := range handlers {
		cb()
	}
}
