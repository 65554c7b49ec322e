package ratelimit

import "container/heap"

// ticket is an in-memory, transient admission request: a priority plus a
// one-shot signal, owned exclusively by the fetcher that created it. Lower
// priority numbers are admitted first; ties break by enqueue order via seq.
type ticket struct {
	priority int64
	seq      uint64
	admit    chan struct{}
}

// ticketHeap is a container/heap min-heap ordered by (priority, seq),
// giving strict FIFO fairness among equal-priority tickets. No third-party
// priority-queue library is available (see DESIGN.md), so this uses the
// standard library.
type ticketHeap []*ticket

func (h ticketHeap) Len() int { return len(h) }

func (h ticketHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h ticketHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *ticketHeap) Push(x interface{}) {
	*h = append(*h, x.(*ticket))
}

func (h *ticketHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

var _ heap.Interface = (*ticketHeap)(nil)
