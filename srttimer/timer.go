// Package srttimer implements the named, typed one-shot timer wheel
// (component C10): schedule/cancel/tick over {Retx, Keepalive, Ack, Nak,
// Handshake} timers, with callbacks modeled as tagged variants dispatched
// by the orchestrator rather than opaque function pointers (Design Notes
// §9), matching the teacher's TimerQueue/Item/Priority() idiom
// (stream/stream.go's retx/smsg, client2/arq.go's timerQueue) generalized
// from a single-purpose retransmit queue to a named multi-kind wheel.
package srttimer

import (
	"container/heap"
	"time"
)

// Kind tags what a timer is for.
type Kind int

const (
	Retx Kind = iota
	Keepalive
	Ack
	Nak
	Handshake
)

func (k Kind) String() string {
	switch k {
	case Retx:
		return "retx"
	case Keepalive:
		return "keepalive"
	case Ack:
		return "ack"
	case Nak:
		return "nak"
	case Handshake:
		return "handshake"
	default:
		return "unknown"
	}
}

// Entry is a scheduled timer: an opaque identifier, its kind, expiry, and
// caller-supplied data threaded back through Tick's expired list so the
// orchestrator can dispatch without a callback closure captured in the
// timer record itself.
type Entry struct {
	ID        string
	Kind      Kind
	ExpiresAt time.Time
	Data      interface{}

	index int // heap bookkeeping
}

// entryHeap is a min-heap on ExpiresAt; container/heap is used here
// because the wheel only ever needs its earliest deadline, whereas the
// AVL-backed TSBPD/retransmit indices elsewhere are swept in
// (deadline, seq) order with a forward iterator, and the standard library
// heap is the idiomatic fit for a generic "next deadline" priority queue
// (see DESIGN.md).
type entryHeap []*Entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].ExpiresAt.Before(h[j].ExpiresAt) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x interface{}) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Wheel is a named timer collection.
type Wheel struct {
	byID map[string]*Entry
	heap entryHeap
}

// NewWheel returns an empty timer wheel.
func NewWheel() *Wheel {
	w := &Wheel{byID: make(map[string]*Entry)}
	heap.Init(&w.heap)
	return w
}

// Schedule installs or replaces the timer named id, firing at now+timeout.
func (w *Wheel) Schedule(kind Kind, id string, timeout time.Duration, now time.Time, data interface{}) {
	w.Cancel(id)
	e := &Entry{ID: id, Kind: kind, ExpiresAt: now.Add(timeout), Data: data}
	w.byID[id] = e
	heap.Push(&w.heap, e)
}

// Cancel removes the timer named id, if present. Idempotent.
func (w *Wheel) Cancel(id string) {
	e, ok := w.byID[id]
	if !ok {
		return
	}
	delete(w.byID, id)
	if e.index >= 0 && e.index < len(w.heap) {
		heap.Remove(&w.heap, e.index)
	}
}

// Has reports whether a timer named id is currently scheduled.
func (w *Wheel) Has(id string) bool {
	_, ok := w.byID[id]
	return ok
}

// Tick removes and returns every timer with ExpiresAt<=now, in expiry
// order. Each entry fires at most once: it is removed from the wheel
// before being returned.
func (w *Wheel) Tick(now time.Time) []*Entry {
	var expired []*Entry
	for w.heap.Len() > 0 && !w.heap[0].ExpiresAt.After(now) {
		e := heap.Pop(&w.heap).(*Entry)
		delete(w.byID, e.ID)
		expired = append(expired, e)
	}
	return expired
}

// TimeUntilNext returns the minimum remaining time until the next timer
// fires, and false if the wheel is empty.
func (w *Wheel) TimeUntilNext(now time.Time) (time.Duration, bool) {
	if w.heap.Len() == 0 {
		return 0, false
	}
	d := w.heap[0].ExpiresAt.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

// Len reports how many timers are currently scheduled.
func (w *Wheel) Len() int { return w.heap.Len() }
