package book

// bidPriceHeap is a max-heap of bid prices (highest first), sorted via
// container/heap. Entries may be stale — present on the heap after their
// price level has emptied out of bids — and are reaped lazily by whichever
// caller next needs the true best price (see OrderBook.BestBid).
type bidPriceHeap []int32

func (h bidPriceHeap) Len() int            { return len(h) }
func (h bidPriceHeap) Less(i, j int) bool  { return h[i] > h[j] }
func (h bidPriceHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *bidPriceHeap) Push(x any)         { *h = append(*h, x.(int32)) }
func (h *bidPriceHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// askPriceHeap is a min-heap of ask prices (lowest first); same lazy
// deletion contract as bidPriceHeap.
type askPriceHeap []int32

func (h askPriceHeap) Len() int            { return len(h) }
func (h askPriceHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h askPriceHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *askPriceHeap) Push(x any)         { *h = append(*h, x.(int32)) }
func (h *askPriceHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}
