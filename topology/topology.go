// Package topology implements the lattice distance functions the
// training engine uses to measure how far apart two cells on the map
// are. A distance is selected once, at construction, by a (global,
// local) topology pair and then called millions of times per epoch, so
// Topology is a small concrete struct rather than a bare function
// pointer or an interface the compiler cannot inline through.
package topology

import (
	"math"

	"github.com/mosig/ksom/errs"
)

// Global is the map's overall connectivity.
type Global int

const (
	Torus   Global = 0
	Moebius Global = 1
	Tube    Global = 2
	Plane   Global = 4
)

func (g Global) String() string {
	switch g {
	case Torus:
		return "torus"
	case Moebius:
		return "moebius"
	case Tube:
		return "tube"
	case Plane:
		return "plane"
	default:
		return "unknown"
	}
}

// Local is the map's neighbour shape.
type Local int

const (
	Hexa Local = 6
	Circ Local = 4
	Rect Local = 8
)

func (l Local) String() string {
	switch l {
	case Hexa:
		return "hexa"
	case Circ:
		return "circ"
	case Rect:
		return "rect"
	default:
		return "unknown"
	}
}

// kind tags which of the six implemented distance functions a Topology
// dispatches to.
type kind int

const (
	rectPlane kind = iota
	rectTorus
	circPlane
	circTorus
	hexaPlane
	hexaTorus
)

// Topology computes lattice distances on an H×W map. It is immutable
// and safe for concurrent use by every worker in a parallel region.
type Topology struct {
	height, width int
	kind          kind
}

// New validates the (global, local) pair and the map shape, returning
// an InvalidTopology error for any unimplemented combination (MOEBIUS,
// TUBE, or any local value outside RECT/HEXA/CIRC) and an
// InvalidArgument error for a non-positive dimension or for an odd
// height requested with HEXA.
func New(global Global, local Local, height, width int) (*Topology, error) {
	if height <= 0 || width <= 0 {
		return nil, errs.NewInvalidArgument("map height and width must be positive")
	}
	if local == Hexa && height%2 != 0 {
		return nil, errs.NewInvalidArgument("hexagonal topology requires an even height")
	}

	var k kind
	switch global {
	case Plane:
		switch local {
		case Rect:
			k = rectPlane
		case Hexa:
			k = hexaPlane
		case Circ:
			k = circPlane
		default:
			return nil, errs.NewInvalidTopology("unknown local topology for plane")
		}
	case Torus:
		switch local {
		case Rect:
			k = rectTorus
		case Hexa:
			k = hexaTorus
		case Circ:
			k = circTorus
		default:
			return nil, errs.NewInvalidTopology("unknown local topology for torus")
		}
	case Moebius, Tube:
		return nil, errs.NewInvalidTopology(global.String() + " is declared but not implemented")
	default:
		return nil, errs.NewInvalidTopology("unknown global topology")
	}

	return &Topology{height: height, width: width, kind: k}, nil
}

// Height and Width report the map shape the Topology was built for.
func (t *Topology) Height() int { return t.height }
func (t *Topology) Width() int  { return t.width }

// Distance returns the lattice distance between two (row, col) points.
func (t *Topology) Distance(r1, c1, r2, c2 int) int {
	switch t.kind {
	case rectPlane:
		return distRectPlane(r1, c1, r2, c2)
	case rectTorus:
		return distRectTorus(r1, c1, r2, c2, t.height, t.width)
	case circPlane:
		return distCircPlane(r1, c1, r2, c2)
	case circTorus:
		return distCircTorus(r1, c1, r2, c2, t.height, t.width)
	case hexaPlane:
		return distHexaPlane(r1, c1, r2, c2)
	case hexaTorus:
		return distHexaTorus(r1, c1, r2, c2, t.height, t.width)
	default:
		return 0
	}
}

// DistanceCell is a convenience for callers that track cells as a
// single linear index into an H×W grid (row-major: index = row*W+col).
func (t *Topology) DistanceCell(cell1, cell2 int) int {
	r1, c1 := cell1/t.width, cell1%t.width
	r2, c2 := cell2/t.width, cell2%t.width
	return t.Distance(r1, c1, r2, c2)
}

func iabs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func imax(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func imin(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func distRectPlane(r1, c1, r2, c2 int) int {
	return imax(iabs(r1-r2), iabs(c1-c2))
}

func distRectTorus(r1, c1, r2, c2, height, width int) int {
	dr := iabs(r1 - r2)
	dc := iabs(c1 - c2)
	return imax(imin(dr, height-dr), imin(dc, width-dc))
}

func distCircPlane(r1, c1, r2, c2 int) int {
	dr := float64(r1 - r2)
	dc := float64(c1 - c2)
	return int(math.Ceil(math.Sqrt(dr*dr + dc*dc)))
}

func distCircTorus(r1, c1, r2, c2, height, width int) int {
	dr := iabs(r1 - r2)
	dc := iabs(c1 - c2)
	dr = imin(dr, height-dr)
	dc = imin(dc, width-dc)
	return int(math.Ceil(math.Sqrt(float64(dr*dr + dc*dc))))
}

// distHexaPlane implements the "pointy top, odd rows shifted" axial
// hex distance: b subtracts half of each row's own parity offset so
// that columns line up on a skewed axial grid, and c = b + (r1 - r2)
// accounts for the third hex axis.
func distHexaPlane(r1, c1, r2, c2 int) int {
	a := iabs(r1 - r2)
	b := iabs(c1 - c2 - (r1-(r1&1))/2 + (r2-(r2&1))/2)
	c := iabs(c1 - c2 + r1 - r2 - (r1-(r1&1))/2 + (r2-(r2&1))/2)
	return imax(a, imax(b, c))
}

// distHexaTorus takes the minimum of the plane distance over the
// untranslated case and the eight row/column wrap-around translations
// of the second point (a negative shift of the second point is written
// as a positive shift of the first), since a hex torus wraps on both
// axes independently.
func distHexaTorus(r1, c1, r2, c2, height, width int) int {
	best := distHexaPlane(r1, c1, r2, c2)
	best = imin(best, distHexaPlane(r1, c1, r2+height, c2))
	best = imin(best, distHexaPlane(r1, c1, r2, c2+width))
	best = imin(best, distHexaPlane(r1, c1, r2+height, c2+width))
	best = imin(best, distHexaPlane(r1+height, c1, r2, c2))
	best = imin(best, distHexaPlane(r1, c1+width, r2, c2))
	best = imin(best, distHexaPlane(r1+height, c1+width, r2, c2))
	best = imin(best, distHexaPlane(r1, c1+width, r2+height, c2))
	best = imin(best, distHexaPlane(r1+height, c1, r2, c2+width))
	return best
}
