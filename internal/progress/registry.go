package progress

import (
	"sync"
	"sync/atomic"
)

// Registry maps client IDs to their active Sink. Operations on distinct keys
// never contend on a shared lock.
type Registry struct {
	sinks sync.Map // clientID -> Sink
	count atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register installs sink for clientID. A sink already registered under the
// same ID is replaced and closed (clients reconnect with the same ID).
func (r *Registry) Register(clientID string, sink Sink) {
	prev, loaded := r.sinks.Swap(clientID, sink)
	if !loaded {
		r.count.Add(1)
		return
	}
	if old, ok := prev.(Sink); ok && old != sink {
		old.Close()
	}
}

// Lookup returns the active sink for clientID.
func (r *Registry) Lookup(clientID string) (Sink, bool) {
	v, ok := r.sinks.Load(clientID)
	if !ok {
		return nil, false
	}
	return v.(Sink), true
}

// Unregister removes clientID and closes its sink.
func (r *Registry) Unregister(clientID string) {
	v, loaded := r.sinks.LoadAndDelete(clientID)
	if !loaded {
		return
	}
	r.count.Add(-1)
	v.(Sink).Close()
}

// UnregisterSink removes clientID only while it still maps to sink, so that
// the teardown of a replaced connection does not remove its successor.
func (r *Registry) UnregisterSink(clientID string, sink Sink) {
	if r.sinks.CompareAndDelete(clientID, sink) {
		r.count.Add(-1)
	}
	sink.Close()
}

// Emit delivers e to the client's current sink and reports whether it was
// written. Events for unknown clients or closed sinks are dropped.
func (r *Registry) Emit(e Event) bool {
	sink, ok := r.Lookup(e.ClientID)
	if !ok {
		return false
	}
	return sink.Emit(e)
}

// Len returns the number of registered sinks.
func (r *Registry) Len() int {
	return int(r.count.Load())
}

// CloseAll removes and closes every registered sink.
func (r *Registry) CloseAll() {
	r.sinks.Range(func(key, _ any) bool {
		r.Unregister(key.(string))
		return true
	})
}
