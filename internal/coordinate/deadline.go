package coordinate

import (
	"container/heap"
	"sync"
	"time"

	"github.com/casual-go/casual/internal/ids"
)

// Pending is a single scheduled timeout: correlation, the target
// process/service reference it belongs to, and when it fires.
type Pending struct {
	When        time.Time
	Correlation ids.Correlation
	Target      string
	ServiceRef  string
}

// Wheel is a min-heap of pending deadlines. Used by the service
// directory to time out pending lookups and by call paths for
// per-call deadlines. No third-party priority-queue library appears
// anywhere in the reference pack (github.com/eapache/queue is a plain
// FIFO ring buffer, not ordered), so the heap is built on the stdlib
// container/heap interface.
type Wheel struct {
	mu    sync.Mutex
	items *pendingHeap
	index map[ids.Correlation]*pendingHeap_item
}

// NewWheel creates an empty deadline wheel.
func NewWheel() *Wheel {
	h := &pendingHeap{}
	heap.Init(h)
	return &Wheel{
		items: h,
		index: make(map[ids.Correlation]*pendingHeap_item),
	}
}

// Add schedules a new pending deadline.
func (w *Wheel) Add(p Pending) {
	w.mu.Lock()
	defer w.mu.Unlock()
	item := &pendingHeap_item{Pending: p}
	heap.Push(w.items, item)
	w.index[p.Correlation] = item
}

// Remove cancels a pending deadline by correlation. Reports whether it
// was found (and thus cancelled before firing).
func (w *Wheel) Remove(correlation ids.Correlation) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	item, ok := w.index[correlation]
	if !ok {
		return false
	}
	heap.Remove(w.items, item.index)
	delete(w.index, correlation)
	return true
}

// RemoveTarget bulk-cancels every pending deadline for a target (e.g.
// when its owning process dies).
func (w *Wheel) RemoveTarget(target string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, item := range *w.items {
		if item.Target == target {
			delete(w.index, item.Correlation)
		}
	}
	filtered := (*w.items)[:0]
	for _, item := range *w.items {
		if item.Target != target {
			filtered = append(filtered, item)
		}
	}
	*w.items = filtered
	heap.Init(w.items)
	for _, item := range *w.items {
		w.index[item.Correlation] = item
	}
}

// Expired removes and returns every entry whose deadline is <= now, in
// ascending deadline order, plus the next deadline still pending (the
// zero Time if none remains).
func (w *Wheel) Expired(now time.Time) (fired []Pending, next time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for w.items.Len() > 0 {
		top := (*w.items)[0]
		if top.When.After(now) {
			next = top.When
			return fired, next
		}
		item := heap.Pop(w.items).(*pendingHeap_item)
		delete(w.index, item.Correlation)
		fired = append(fired, item.Pending)
	}
	return fired, time.Time{}
}

// Len reports the number of pending deadlines.
func (w *Wheel) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.items.Len()
}

type pendingHeap_item struct {
	Pending
	index int
}

type pendingHeap []*pendingHeap_item

func (h pendingHeap) Len() int { return len(h) }
func (h pendingHeap) Less(i, j int) bool { return h[i].When.Before(h[j].When) }
func (h pendingHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *pendingHeap) Push(x any) {
	item := x.(*pendingHeap_item)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
