// Package geom provides the axis-aligned bounding boxes used for report
// routing and match gating. Boxes are in world-frame metres on the position
// plane.
package geom

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// BBox is an axis-aligned box [MinX, MaxX] x [MinY, MaxY].
type BBox struct {
	MinX float64
	MaxX float64
	MinY float64
	MaxY float64
}

// Everywhere is a box large enough to contain any finite state.
func Everywhere() BBox {
	const far = 1e9
	return BBox{MinX: -far, MaxX: far, MinY: -far, MaxY: far}
}

// Overlaps reports whether the two boxes intersect, per-dimension interval
// overlap.
func (a BBox) Overlaps(b BBox) bool {
	return a.MaxX >= b.MinX && a.MinX <= b.MaxX &&
		a.MaxY >= b.MinY && a.MinY <= b.MaxY
}

// OverlapFraction returns the fraction of box a lying inside b.
func (a BBox) OverlapFraction(b BBox) float64 {
	ix := math.Max(0, math.Min(a.MaxX, b.MaxX)-math.Max(a.MinX, b.MinX))
	iy := math.Max(0, math.Min(a.MaxY, b.MaxY)-math.Max(a.MinY, b.MinY))
	area := (a.MaxX - a.MinX) * (a.MaxY - a.MinY)
	if area <= 0 {
		return 0
	}
	return ix * iy / area
}

// Contains reports whether point (x, y) lies within the box.
func (a BBox) Contains(x, y float64) bool {
	return a.MinX <= x && x <= a.MaxX && a.MinY <= y && y <= a.MaxY
}

// Union returns the smallest box covering both a and b.
func (a BBox) Union(b BBox) BBox {
	return BBox{
		MinX: math.Min(a.MinX, b.MinX),
		MaxX: math.Max(a.MaxX, b.MaxX),
		MinY: math.Min(a.MinY, b.MinY),
		MaxY: math.Max(a.MaxY, b.MaxY),
	}
}

// GaussianBBox returns the axis-aligned extent of the nstd-sigma covariance
// ellipse centred at (x, y). P is the 2x2 position covariance.
func GaussianBBox(x, y float64, p mat.Symmetric, nstd float64) BBox {
	var eig mat.EigSym
	if ok := eig.Factorize(p, true); !ok {
		// Degenerate covariance: fall back to the diagonal bounds.
		dx := nstd * math.Sqrt(math.Abs(p.At(0, 0)))
		dy := nstd * math.Sqrt(math.Abs(p.At(1, 1)))
		return BBox{MinX: x - dx, MaxX: x + dx, MinY: y - dy, MaxY: y + dy}
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// Project each principal semi-axis onto the coordinate axes and take the
	// quadrature sum: the tight bound of a rotated ellipse.
	r0 := nstd * math.Sqrt(math.Max(vals[0], 0))
	r1 := nstd * math.Sqrt(math.Max(vals[1], 0))
	ux := r0 * vecs.At(0, 0)
	uy := r0 * vecs.At(1, 0)
	vx := r1 * vecs.At(0, 1)
	vy := r1 * vecs.At(1, 1)
	dx := math.Sqrt(ux*ux + vx*vx)
	dy := math.Sqrt(uy*uy + vy*vy)

	return BBox{MinX: x - dx, MaxX: x + dx, MinY: y - dy, MaxY: y + dy}
}
