// Package assignment solves the linear assignment problem on rectangular
// cost matrices and enumerates k-best solutions in cost order. It is the
// association core of the hypothesis engine: cluster scan registration builds
// a cost matrix per parent hypothesis and draws ranked assignments from it.
package assignment

import (
	"errors"
	"fmt"
	"math"
)

// Large is the sentinel for forbidden cost entries. The solver treats it as a
// plain (very expensive) number; callers reject any assignment that covers an
// entry at or above it.
const Large = 10000

// ErrInvalidMatrix is returned when a solver is handed a matrix with no rows
// or no columns.
var ErrInvalidMatrix = errors.New("assignment: invalid cost matrix")

// Matrix is a dense row-major cost matrix.
type Matrix struct {
	Rows int
	Cols int
	Data []float64
}

// NewMatrix allocates a zeroed rows x cols matrix.
func NewMatrix(rows, cols int) *Matrix {
	return &Matrix{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// NewMatrixFrom builds a matrix from a slice of rows. All rows must have
// equal length.
func NewMatrixFrom(rows [][]float64) *Matrix {
	if len(rows) == 0 {
		return &Matrix{}
	}
	m := NewMatrix(len(rows), len(rows[0]))
	for i, row := range rows {
		copy(m.Data[i*m.Cols:(i+1)*m.Cols], row)
	}
	return m
}

// At returns the entry at (i, j).
func (m *Matrix) At(i, j int) float64 { return m.Data[i*m.Cols+j] }

// Set stores v at (i, j).
func (m *Matrix) Set(i, j int, v float64) { m.Data[i*m.Cols+j] = v }

// Fill sets every entry to v.
func (m *Matrix) Fill(v float64) {
	for i := range m.Data {
		m.Data[i] = v
	}
}

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	c := &Matrix{Rows: m.Rows, Cols: m.Cols, Data: make([]float64, len(m.Data))}
	copy(c.Data, m.Data)
	return c
}

func (m *Matrix) String() string {
	return fmt.Sprintf("Matrix(%dx%d)", m.Rows, m.Cols)
}

// Solve finds a minimum-cost assignment of rows to distinct columns using the
// Jonker-Volgenant variant of the Kuhn-Munkres algorithm with potentials.
// Rectangular inputs are padded to square with Large internally. It returns
// the total cost summed over the input's rows and assign[i] = column for row
// i. Forbidden (Large) entries participate numerically; the caller decides
// whether a returned assignment that covers one is acceptable.
func Solve(c *Matrix) (float64, []int, error) {
	n := c.Rows
	m := c.Cols
	if n == 0 || m == 0 {
		return 0, nil, ErrInvalidMatrix
	}

	dim := n
	if m > dim {
		dim = m
	}

	// Padded square working copy.
	w := make([]float64, dim*dim)
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			if i < n && j < m {
				w[i*dim+j] = c.At(i, j)
			} else {
				w[i*dim+j] = Large
			}
		}
	}

	const inf = math.MaxFloat64 / 2

	// 1-indexed arrays for cleaner index arithmetic, as in the lidar
	// cluster-to-track assigner.
	u := make([]float64, dim+1)   // row potentials
	v := make([]float64, dim+1)   // column potentials
	p := make([]int, dim+1)       // p[j] = row assigned to column j
	way := make([]int, dim+1)     // previous column in augmenting path
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		p[0] = i
		j0 := 0

		for j := 1; j <= dim; j++ {
			minv[j] = inf
			used[j] = false
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1

			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				cur := w[(i0-1)*dim+(j-1)] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}

			if j1 < 0 {
				break
			}

			for j := 0; j <= dim; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}

			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			p[j0] = p[way[j0]]
			j0 = way[j0]
		}
	}

	assign := make([]int, n)
	for i := range assign {
		assign[i] = -1
	}
	for j := 1; j <= dim; j++ {
		if r := p[j]; r >= 1 && r <= n && j-1 < m {
			assign[r-1] = j - 1
		}
	}

	var cost float64
	for i, j := range assign {
		if j < 0 {
			// Row left to a padded column: only possible when n > m.
			continue
		}
		cost += c.At(i, j)
	}
	return cost, assign, nil
}
