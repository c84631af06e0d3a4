package assignment

import "container/heap"

// Assignment is one item of a k-best enumeration: the columns selected per
// row and their summed cost.
type Assignment struct {
	Cost    float64
	Columns []int
}

// Feasible reports whether the assignment avoids every forbidden entry of c.
func (a Assignment) Feasible(c *Matrix) bool {
	for r, col := range a.Columns {
		if col < 0 || c.At(r, col) >= Large {
			return false
		}
	}
	return true
}

// partial is one node of the Murty partition tree: the best completion of a
// subproblem with some edges pinned (forced) and some excluded (forbidden).
type partial struct {
	cost    float64
	assign  []int // full row -> column map
	incRows []int // pinned include edges
	incCols []int
	excRows []int // pinned exclude edges
	excCols []int
	seq     int // FIFO tie-break
}

type partialHeap []*partial

func (h partialHeap) Len() int { return len(h) }
func (h partialHeap) Less(i, j int) bool {
	if h[i].cost != h[j].cost {
		return h[i].cost < h[j].cost
	}
	return h[i].seq < h[j].seq
}
func (h partialHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *partialHeap) Push(x any)   { *h = append(*h, x.(*partial)) }
func (h *partialHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Murty enumerates the assignments of a cost matrix in non-decreasing cost
// order, lazily. The consumer may stop drawing at any point; the enumerator
// owns only a scratch copy of the matrix and its heap.
type Murty struct {
	c    *Matrix // scratch; entries are mutated and restored per partition
	m, n int
	h    partialHeap
	seq  int
}

// NewMurty starts an enumeration over c. The matrix is copied; the caller's
// matrix is never touched.
func NewMurty(c *Matrix) (*Murty, error) {
	cost, assign, err := Solve(c)
	if err != nil {
		return nil, err
	}
	e := &Murty{c: c.Clone(), m: c.Rows, n: c.Cols}
	root := &partial{cost: cost, assign: assign, seq: e.seq}
	e.seq++
	heap.Init(&e.h)
	heap.Push(&e.h, root)
	return e, nil
}

// Next returns the next-cheapest assignment, or ok=false when the
// enumeration is exhausted.
func (e *Murty) Next() (Assignment, bool) {
	if e.h.Len() == 0 {
		return Assignment{}, false
	}
	s := heap.Pop(&e.h).(*partial)
	e.partition(s)

	cols := make([]int, e.m)
	copy(cols, s.assign)
	return Assignment{Cost: s.cost, Columns: cols}, true
}

// partition splits the popped node into children per Murty's method: child t
// keeps rows 0..t-1 of the free sub-problem pinned to their solved columns
// and forbids row t its solved column.
func (e *Murty) partition(s *partial) {
	ni := len(s.incRows)

	// Free rows, in row order.
	rmap := make([]int, 0, e.m-ni)
	inInc := make([]bool, e.m)
	for _, r := range s.incRows {
		inInc[r] = true
	}
	for r := 0; r < e.m; r++ {
		if !inInc[r] {
			rmap = append(rmap, r)
		}
	}

	// Free columns: first the solved columns of the free rows (aligned with
	// rmap so the sub-problem's diagonal is the solved assignment), then the
	// remaining unassigned columns.
	inIncCol := make([]bool, e.n)
	for _, c := range s.incCols {
		inIncCol[c] = true
	}
	inAssign := make([]bool, e.n)
	for _, c := range s.assign {
		if c >= 0 {
			inAssign[c] = true
		}
	}
	cmap := make([]int, 0, e.n-ni)
	for r := 0; r < e.m; r++ {
		if c := s.assign[r]; c >= 0 && !inIncCol[c] {
			cmap = append(cmap, c)
		}
	}
	for c := 0; c < e.n; c++ {
		if !inIncCol[c] && !inAssign[c] {
			cmap = append(cmap, c)
		}
	}

	// Apply this node's exclusions to the scratch matrix, remembering the
	// overwritten values for restoration.
	saved := make([]float64, len(s.excRows))
	for i := range s.excRows {
		saved[i] = e.c.At(s.excRows[i], s.excCols[i])
		e.c.Set(s.excRows[i], s.excCols[i], Large)
	}

	// Reduced matrix over the free rows/columns.
	sub := NewMatrix(len(rmap), len(cmap))
	for i, r := range rmap {
		for j, c := range cmap {
			sub.Set(i, j, e.c.At(r, c))
		}
	}

	var incSum float64
	for i := range s.incRows {
		incSum += e.c.At(s.incRows[i], s.incCols[i])
	}

	var diagSum float64
	for t := 0; t < len(rmap); t++ {
		savedDiag := sub.At(t, t)
		sub.Set(t, t, Large)

		tail := NewMatrix(len(rmap)-t, len(cmap)-t)
		for i := 0; i < tail.Rows; i++ {
			for j := 0; j < tail.Cols; j++ {
				tail.Set(i, j, sub.At(t+i, t+j))
			}
		}
		cost, lassign, err := Solve(tail)
		if err == nil && e.tailFeasible(sub, lassign, t) {
			total := cost + incSum + diagSum
			assign := make([]int, e.m)
			for i := range s.incRows {
				assign[s.incRows[i]] = s.incCols[i]
			}
			for r := 0; r < t; r++ {
				assign[rmap[r]] = cmap[r]
			}
			for i, la := range lassign {
				assign[rmap[t+i]] = cmap[la+t]
			}

			child := &partial{
				cost:    total,
				assign:  assign,
				incRows: concat(s.incRows, rmap[:t]),
				incCols: concat(s.incCols, cmap[:t]),
				excRows: concat(s.excRows, rmap[t:t+1]),
				excCols: concat(s.excCols, cmap[t:t+1]),
				seq:     e.seq,
			}
			e.seq++
			heap.Push(&e.h, child)
		}

		sub.Set(t, t, savedDiag)
		diagSum += savedDiag
	}

	// Restore the scratch matrix before yielding control.
	for i := range s.excRows {
		e.c.Set(s.excRows[i], s.excCols[i], saved[i])
	}
}

// tailFeasible reports whether the tail solution avoids forbidden entries; an
// infeasible completion means the child subproblem has no valid assignment
// and is discarded.
func (e *Murty) tailFeasible(sub *Matrix, lassign []int, t int) bool {
	for i, la := range lassign {
		if la < 0 {
			return false
		}
		if sub.At(t+i, la+t) >= Large {
			return false
		}
	}
	return true
}

func concat(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}
