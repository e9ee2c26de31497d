// Package dispatch keeps the code-keyed handler tables used for inbound Data
// and Error payloads.
//
// A Registry is not goroutine-safe. It is owned by a session that is driven
// from a single receive loop.
package dispatch

import (
	"cmp"
	"slices"
)

// Handler receives the payload that followed the u16 code.
type Handler func(payload []byte)

// Entry binds one code to one handler.
type Entry struct {
	Code    uint16
	Handler Handler
}

// Registry is a code-sorted handler table with at most one entry per code.
type Registry struct {
	entries []Entry
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) search(code uint16) (int, bool) {
	return slices.BinarySearchFunc(r.entries, code, func(e Entry, c uint16) int {
		return cmp.Compare(e.Code, c)
	})
}

// Subscribe installs h for code, replacing any existing handler.
func (r *Registry) Subscribe(code uint16, h Handler) {
	if h == nil {
		return
	}
	i, found := r.search(code)
	if found {
		r.entries[i].Handler = h
		return
	}
	r.entries = slices.Insert(r.entries, i, Entry{Code: code, Handler: h})
}

// Unsubscribe removes the handler for code. Missing codes are ignored.
func (r *Registry) Unsubscribe(code uint16) {
	i, found := r.search(code)
	if !found {
		return
	}
	r.entries = slices.Delete(r.entries, i, i+1)
}

// Find returns the entry for code.
func (r *Registry) Find(code uint16) (Entry, bool) {
	i, found := r.search(code)
	if !found {
		return Entry{}, false
	}
	return r.entries[i], true
}

// Dispatch invokes the handler for code and reports whether one existed.
func (r *Registry) Dispatch(code uint16, payload []byte) bool {
	e, ok := r.Find(code)
	if !ok {
		return false
	}
	e.Handler(payload)
	return true
}

func (r *Registry) Len() int {
	return len(r.entries)
}

// Codes lists the subscribed codes in ascending order.
func (r *Registry) Codes() []uint16 {
	out := make([]uint16, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Code)
	}
	return out
}
