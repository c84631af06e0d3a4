package geom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestOverlapFraction(t *testing.T) {
	tests := []struct {
		name string
		a, b BBox
		want float64
	}{
		{
			name: "partial overlap",
			a:    BBox{0, 1, 0, 1},
			b:    BBox{0.2, 2, 0.2, 2},
			want: 0.64,
		},
		{
			name: "fully contained",
			a:    BBox{0, 1, 0, 1},
			b:    BBox{-0.2, 2, -0.2, 2},
			want: 1,
		},
		{
			name: "b inside a",
			a:    BBox{0, 1, 0, 1},
			b:    BBox{0.2, 0.8, 0.2, 0.8},
			want: 0.36,
		},
		{
			name: "disjoint",
			a:    BBox{0, 1, 0, 1},
			b:    BBox{2, 3, 2, 3},
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.a.OverlapFraction(tt.b), 1e-12)
		})
	}
}

func TestOverlaps(t *testing.T) {
	a := BBox{0, 2, 0, 2}
	assert.True(t, a.Overlaps(BBox{1, 3, 1, 3}))
	assert.True(t, a.Overlaps(BBox{2, 3, 2, 3})) // edge touch counts
	assert.False(t, a.Overlaps(BBox{3, 4, 0, 1}))
	assert.False(t, a.Overlaps(BBox{0, 1, 3, 4}))
}

func TestGaussianBBoxDiagonal(t *testing.T) {
	// Diagonal covariance: the 2-sigma box is +-2*sqrt(var) per axis.
	p := mat.NewSymDense(2, []float64{4, 0, 0, 1})
	box := GaussianBBox(10, -5, p, 2)
	require.InDelta(t, 6, box.MinX, 1e-9)
	require.InDelta(t, 14, box.MaxX, 1e-9)
	require.InDelta(t, -7, box.MinY, 1e-9)
	require.InDelta(t, -3, box.MaxY, 1e-9)
}

func TestGaussianBBoxRotated(t *testing.T) {
	// Correlated covariance: the box must still bound +-2*sqrt(diag).
	p := mat.NewSymDense(2, []float64{2, 1, 1, 2})
	box := GaussianBBox(0, 0, p, 2)
	want := 2 * 1.4142135623730951 // 2*sqrt(2)
	assert.InDelta(t, -want, box.MinX, 1e-9)
	assert.InDelta(t, want, box.MaxX, 1e-9)
	assert.InDelta(t, -want, box.MinY, 1e-9)
	assert.InDelta(t, want, box.MaxY, 1e-9)
}

func TestUnionContains(t *testing.T) {
	u := BBox{0, 1, 0, 1}.Union(BBox{2, 3, -1, 0.5})
	assert.Equal(t, BBox{0, 3, -1, 1}, u)
	assert.True(t, u.Contains(1.5, 0))
	assert.False(t, u.Contains(1.5, 2))
}
