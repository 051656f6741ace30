package extension

import (
	"sync"
	"time"
)

// Events emitted by the initializer
const (
	EventLoaded      = "extension:loaded"
	EventInitialized = "extension:initialized"
	EventFailed      = "extension:failed"
)

// EventHandler is a function that handles emitted events
type EventHandler func(payload any)

// EventPayload is the payload of initializer events
type EventPayload struct {
	Timestamp time.Time
	RunID     string
	Role      Role
	Name      string
	Path      string
	Err       error
	TraceID   string // init span; empty without tracing or before the entry point ran
}

// Emitter broadcasts events to subscribers
type Emitter struct {
	mu        sync.RWMutex
	listeners map[string][]EventHandler
	pending   sync.WaitGroup
}

// NewEmitter creates a new event emitter
func NewEmitter() *Emitter {
	return &Emitter{
		listeners: make(map[string][]EventHandler),
	}
}

// On registers a handler for an event
func (e *Emitter) On(event string, handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.listeners[event] = append(e.listeners[event], handler)
}

// Emit emits an event with a payload. Handlers run on their own goroutines.
func (e *Emitter) Emit(event string, payload any) {
	e.mu.RLock()
	handlers := e.listeners[event]
	e.mu.RUnlock()

	for _, handler := range handlers {
		e.pending.Add(1)
		go func(h EventHandler) {
			defer e.pending.Done()
			h(payload)
		}(handler)
	}
}

// Wait blocks until every handler started by Emit has returned
func (e *Emitter) Wait() {
	e.pending.Wait()
}

// ListenerCount returns the number of handlers registered for event
func (e *Emitter) ListenerCount(event string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[event])
}

// RemoveAllListeners removes all event listeners
func (e *Emitter) RemoveAllListeners() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = make(map[string][]EventHandler)
}
