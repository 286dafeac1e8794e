package queue

// pendingEntry is the ordering key of a pending command.
type pendingEntry struct {
	id       uint64
	priority int
	seq      uint64
}

// pendingHeap implements heap.Interface over pending commands ordered by
// priority descending, then arrival sequence ascending.
type pendingHeap []pendingEntry

func (h pendingHeap) Len() int { return len(h) }

func (h pendingHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h pendingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *pendingHeap) Push(x any) {
	*h = append(*h, x.(pendingEntry))
}

func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
