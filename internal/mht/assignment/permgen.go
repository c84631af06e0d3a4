package assignment

import (
	"container/heap"
	"sort"
)

// Weighted pairs an item with its cost for ordered cross-product
// enumeration.
type Weighted[T any] struct {
	Cost float64
	Item T
}

// Permutation enumerates cross-product selections of a list of cost-sorted
// lists in non-decreasing summed cost, each selection exactly once. It is
// used to merge per-cluster hypothesis lists into ranked global hypotheses.
type Permutation[T any] struct {
	lists  [][]Weighted[T]
	bounds []int
	h      stateHeap

	// Dedup bookkeeping: a state is reachable from several predecessors, all
	// at the same cost, so duplicates pop adjacently within one cost level.
	prevCost   float64
	prevStates [][]int
	started    bool
	seq        int
}

type permState struct {
	cost float64
	idx  []int
	seq  int
}

type stateHeap []*permState

func (h stateHeap) Len() int { return len(h) }
func (h stateHeap) Less(i, j int) bool {
	if h[i].cost != h[j].cost {
		return h[i].cost < h[j].cost
	}
	return h[i].seq < h[j].seq
}
func (h stateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *stateHeap) Push(x any)   { *h = append(*h, x.(*permState)) }
func (h *stateHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// NewPermutation starts an enumeration. When presorted is false each list is
// sorted by cost first (stably, preserving insertion order among ties). Empty
// input, or any empty list, yields an exhausted enumerator.
func NewPermutation[T any](lists [][]Weighted[T], presorted bool) *Permutation[T] {
	e := &Permutation[T]{lists: lists}
	if !presorted {
		for _, l := range lists {
			sort.SliceStable(l, func(i, j int) bool { return l[i].Cost < l[j].Cost })
		}
	}
	e.bounds = make([]int, len(lists))
	for i, l := range lists {
		if len(l) == 0 {
			return e // nothing to enumerate
		}
		e.bounds[i] = len(l) - 1
	}
	heap.Init(&e.h)
	if len(lists) > 0 {
		root := &permState{idx: make([]int, len(lists))}
		root.cost = e.sum(root.idx)
		heap.Push(&e.h, root)
	}
	return e
}

func (e *Permutation[T]) sum(idx []int) float64 {
	var c float64
	for i, l := range e.lists {
		c += l[idx[i]].Cost
	}
	return c
}

// Next returns the next-cheapest selection and its summed cost, or ok=false
// when all selections have been emitted.
func (e *Permutation[T]) Next() (float64, []T, bool) {
	for e.h.Len() > 0 {
		s := heap.Pop(&e.h).(*permState)
		if e.started && s.cost == e.prevCost {
			if containsState(e.prevStates, s.idx) {
				continue
			}
		} else {
			e.prevStates = e.prevStates[:0]
		}
		e.prevStates = append(e.prevStates, s.idx)
		e.prevCost = s.cost
		e.started = true

		for n := range e.lists {
			if s.idx[n] < e.bounds[n] {
				nidx := make([]int, len(s.idx))
				copy(nidx, s.idx)
				nidx[n]++
				e.seq++
				heap.Push(&e.h, &permState{cost: e.sum(nidx), idx: nidx, seq: e.seq})
			}
		}

		items := make([]T, len(e.lists))
		for i, l := range e.lists {
			items[i] = l[s.idx[i]].Item
		}
		return s.cost, items, true
	}
	return 0, nil, false
}

// PeekCost returns the cost of the next pending selection without drawing
// it. ok=false means the enumeration is exhausted.
func (e *Permutation[T]) PeekCost() (float64, bool) {
	for e.h.Len() > 0 {
		s := e.h[0]
		if e.started && s.cost == e.prevCost && containsState(e.prevStates, s.idx) {
			heap.Pop(&e.h)
			continue
		}
		return s.cost, true
	}
	return 0, false
}

func containsState(states [][]int, idx []int) bool {
	for _, st := range states {
		if equalInts(st, idx) {
			return true
		}
	}
	return false
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
