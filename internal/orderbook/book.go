// Package orderbook holds the resting limit orders for the single traded
// symbol: a bid max-heap, an ask min-heap (both price-time priority), and a
// FIFO quarantine of limit orders parked outside the current price band.
// Every order here is a real obligation the matching engine can fill.
package orderbook

import (
	"container/heap"

	"github.com/sitcon-tw/camp-exchange/pkg/xchg"
)

// entry wraps a resting order with the bookkeeping container/heap needs:
// a monotonic sequence number for FIFO tie-break at equal price, and a
// live index so Cancel can find and remove it in O(log n) instead of a
// linear scan.
type entry struct {
	order *xchg.Order
	seq   uint64
	index int
}

// bidHeap is a max-heap on price, FIFO (lowest seq first) at equal price.
type bidHeap []*entry

func (h bidHeap) Len() int { return len(h) }
func (h bidHeap) Less(i, j int) bool {
	if h[i].order.LimitPrice != h[j].order.LimitPrice {
		return h[i].order.LimitPrice > h[j].order.LimitPrice
	}
	return h[i].seq < h[j].seq
}
func (h bidHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *bidHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *bidHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// askHeap is a min-heap on price, FIFO at equal price.
type askHeap []*entry

func (h askHeap) Len() int { return len(h) }
func (h askHeap) Less(i, j int) bool {
	if h[i].order.LimitPrice != h[j].order.LimitPrice {
		return h[i].order.LimitPrice < h[j].order.LimitPrice
	}
	return h[i].seq < h[j].seq
}
func (h askHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *askHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *askHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// PriceLevel is one aggregated rung of the book for quote/depth reporting.
type PriceLevel struct {
	Price int64
	Qty   int64
}

// Book is the resting-order side of the matching engine. All access must
// happen under the matching engine's single-writer lock; Book itself adds
// no locking of its own, since it is always mutated from one goroutine.
type Book struct {
	bids    bidHeap
	asks    askHeap
	byID    map[string]*entry     // orderID -> heap entry, for bids/asks
	pending []*xchg.Order         // FIFO: limit orders quarantined outside the price band
	pendIdx map[string]int        // orderID -> index into pending, for Cancel
	seq     uint64
}

// New returns an empty book.
func New() *Book {
	return &Book{
		byID:    make(map[string]*entry),
		pendIdx: make(map[string]int),
	}
}

// Insert places a resting limit order into the correct side. Callers must
// route out-of-band orders to InsertPending instead; an order outside the
// current price band never reaches the matchable heaps.
func (b *Book) Insert(o *xchg.Order) {
	b.seq++
	e := &entry{order: o, seq: b.seq}
	b.byID[o.ID] = e
	if o.Side == xchg.Buy {
		heap.Push(&b.bids, e)
	} else {
		heap.Push(&b.asks, e)
	}
}

// InsertPending parks a limit order in the pending_limit FIFO quarantine.
// The matching engine's sweep re-evaluates this queue against the current
// price band on every pass and promotes orders that now qualify.
func (b *Book) InsertPending(o *xchg.Order) {
	b.pending = append(b.pending, o)
	b.pendIdx[o.ID] = len(b.pending) - 1
}

// PopPending removes and returns the order with the given id from the
// pending queue, wherever it sits, once the caller has decided to promote or
// reject it. Reindexes the remaining entries.
func (b *Book) PopPending(orderID string) (*xchg.Order, bool) {
	i, ok := b.pendIdx[orderID]
	if !ok {
		return nil, false
	}
	o := b.pending[i]
	b.pending = append(b.pending[:i], b.pending[i+1:]...)
	delete(b.pendIdx, orderID)
	for j := i; j < len(b.pending); j++ {
		b.pendIdx[b.pending[j].ID] = j
	}
	return o, true
}

// PendingOrders returns the pending_limit queue, oldest first. The slice is
// shared with the book; callers must not mutate it.
func (b *Book) PendingOrders() []*xchg.Order {
	return b.pending
}

// BestBid returns the highest-priced resting buy order, if any.
func (b *Book) BestBid() (*xchg.Order, bool) {
	if len(b.bids) == 0 {
		return nil, false
	}
	return b.bids[0].order, true
}

// BestAsk returns the lowest-priced resting sell order, if any.
func (b *Book) BestAsk() (*xchg.Order, bool) {
	if len(b.asks) == 0 {
		return nil, false
	}
	return b.asks[0].order, true
}

// RemoveFilled pops the top of side's heap once its order has reached
// RemainingQty == 0. It is an error to call this when the top order still
// has quantity left; the caller decrements RemainingQty in place (the heap
// order is unaffected by quantity changes, only by price).
func (b *Book) RemoveFilled(side xchg.Side) {
	var e *entry
	if side == xchg.Buy {
		if len(b.bids) == 0 {
			return
		}
		e = heap.Pop(&b.bids).(*entry)
	} else {
		if len(b.asks) == 0 {
			return
		}
		e = heap.Pop(&b.asks).(*entry)
	}
	delete(b.byID, e.order.ID)
}

// Cancel removes an order by ID from wherever it currently rests: the bid
// heap, the ask heap, or the pending_limit queue. Returns the order and
// true if found; idempotent callers should treat a false return as
// "already gone", not an error.
func (b *Book) Cancel(orderID string) (*xchg.Order, bool) {
	if o, ok := b.PopPending(orderID); ok {
		return o, true
	}
	e, ok := b.byID[orderID]
	if !ok {
		return nil, false
	}
	delete(b.byID, orderID)
	if e.order.Side == xchg.Buy {
		heap.Remove(&b.bids, e.index)
	} else {
		heap.Remove(&b.asks, e.index)
	}
	return e.order, true
}

// topN returns up to n aggregated price levels for side, best price first.
// Equal-price resting orders collapse into one level's Qty, matching the
// five_level_quote read model.
func topN(entries []*entry, n int) []PriceLevel {
	levels := make([]PriceLevel, 0, n)
	sorted := make([]*entry, len(entries))
	copy(sorted, entries)
	// entries arrive already heap-ordered only at index 0; for a full
	// ranked view we sort a copy rather than destructively popping the
	// live heap.
	sortEntries(sorted)

	for _, e := range sorted {
		if len(levels) > 0 && levels[len(levels)-1].Price == e.order.LimitPrice {
			levels[len(levels)-1].Qty += e.order.RemainingQty
			continue
		}
		if len(levels) == n {
			break
		}
		levels = append(levels, PriceLevel{Price: e.order.LimitPrice, Qty: e.order.RemainingQty})
	}
	return levels
}

// BidLevels returns up to n aggregated bid levels, highest price first.
func (b *Book) BidLevels(n int) []PriceLevel {
	return topN(b.bids, n)
}

// AskLevels returns up to n aggregated ask levels, lowest price first.
func (b *Book) AskLevels(n int) []PriceLevel {
	return topN(b.asks, n)
}

func sortEntries(entries []*entry) {
	// Simple insertion sort: book depth in a training-camp exchange is
	// small (tens of resting orders, not an HFT-scale book), so O(n^2)
	// here is not worth pulling in sort.Slice's indirection cost.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && less(entries[j], entries[j-1]); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

func less(a, b *entry) bool {
	if a.order.LimitPrice != b.order.LimitPrice {
		if a.order.Side == xchg.Buy {
			return a.order.LimitPrice > b.order.LimitPrice
		}
		return a.order.LimitPrice < b.order.LimitPrice
	}
	return a.seq < b.seq
}
