// Package neighbourhood implements the per-cell adaptive radius field
// and the Kiviluoto bell-shaped influence function the batch SOM
// update weights every row's pull on every cell by.
package neighbourhood

import (
	"context"
	"math"

	"github.com/mosig/ksom/errs"
	"github.com/mosig/ksom/internal/workerpool"
	"github.com/mosig/ksom/persistence"
	"github.com/mosig/ksom/topology"
)

const neighbourhoodFormat = 0

// sqrtE is the constant √e used to normalize the influence function so
// that it integrates to approximately 1 over its support.
const sqrtE = 1.6487212707001281468486507878142

// discontinuity is a row whose best and second-best matching cells are
// more than one lattice step apart.
type discontinuity struct {
	cell1, cell2 int
	distance     int
}

// Neighbourhood holds one adaptive radius per cell.
type Neighbourhood struct {
	height, width int
	numCells      int
	topo          *topology.Topology
	updateExp     float32
	values        []float32
	radiusMin     float32
	radiusMax     float32
}

// New creates a neighbourhood field with every cell initialized to
// initialRadius.
func New(height, width int, topo *topology.Topology, updateExponent float32, initialRadius float32) (*Neighbourhood, error) {
	if updateExponent <= 0 || updateExponent > 1 {
		return nil, errs.NewInvalidArgument("update exponent must be in (0, 1]")
	}
	if initialRadius < 1 {
		return nil, errs.NewInvalidArgument("initial radius must be at least 1")
	}
	numCells := height * width
	values := make([]float32, numCells)
	for i := range values {
		values[i] = initialRadius
	}
	return &Neighbourhood{
		height:    height,
		width:     width,
		numCells:  numCells,
		topo:      topo,
		updateExp: updateExponent,
		values:    values,
		radiusMin: initialRadius,
		radiusMax: initialRadius,
	}, nil
}

func (n *Neighbourhood) RadiusMin() float32 { return n.radiusMin }
func (n *Neighbourhood) RadiusMax() float32 { return n.radiusMax }

// Influence returns how strongly an input that landed on sourceCell
// pulls targetCell, using targetCell's current radius and the lattice
// distance between the two cells. Zero once the lattice distance
// reaches the radius.
func (n *Neighbourhood) Influence(sourceCell, targetCell int) float32 {
	d := float64(n.topo.DistanceCell(sourceCell, targetCell))
	r := float64(n.values[targetCell])
	if d >= r {
		return 0
	}
	num := 1 - sqrtE*math.Exp(-0.5*d*d/(r*r))
	den := r * (1 - sqrtE)
	return float32(num / den)
}

// topographicDiscontinuities scans every row whose BMU and nextBMU are
// more than one lattice step apart.
func (n *Neighbourhood) topographicDiscontinuities(bmu, nextBmu []uint16, numRows int) []discontinuity {
	var out []discontinuity
	for row := 0; row < numRows; row++ {
		d := n.topo.DistanceCell(int(bmu[row]), int(nextBmu[row]))
		if d > 1 {
			out = append(out, discontinuity{cell1: int(bmu[row]), cell2: int(nextBmu[row]), distance: d})
		}
	}
	return out
}

// radiusLowerBound computes cell's lower-bound contribution from a
// single discontinuity: the full discontinuity distance if the cell
// sits inside both endpoints' balls, the distance minus whichever
// endpoint is closer if only partially inside, else 1.
func radiusLowerBound(topo *topology.Topology, cell int, disc discontinuity) int {
	d1 := topo.DistanceCell(cell, disc.cell1)
	d2 := topo.DistanceCell(cell, disc.cell2)
	if d1 > d2 {
		d1, d2 = d2, d1
	}
	// d1 is now min(d1,d2), d2 is max(d1,d2).
	if d2 <= disc.distance {
		return disc.distance
	}
	if d1 < disc.distance {
		return disc.distance - d1
	}
	return 1
}

// Update recomputes the radius field from this epoch's (BMU, nextBMU)
// arrays and returns the topographic error: the count of discontinuous
// rows, plus one, divided by numRows. The "plus one" is part of the
// contract and must be preserved bit-for-bit.
func (n *Neighbourhood) Update(bmu, nextBmu []uint16, numRows int, respectLowerBound bool, pool *workerpool.Pool) (float32, error) {
	discontinuities := n.topographicDiscontinuities(bmu, nextBmu, numRows)

	err := pool.Range(context.Background(), n.numCells, func(cell int) error {
		lowerBound := float32(1)
		for _, disc := range discontinuities {
			contribution := float32(radiusLowerBound(n.topo, cell, disc))
			if contribution > lowerBound {
				lowerBound = contribution
			}
		}

		shrunk := float32(math.Pow(float64(n.values[cell]), float64(n.updateExp)))
		var newRadius float32
		if respectLowerBound {
			newRadius = shrunk
			if lowerBound > newRadius {
				newRadius = lowerBound
			}
		} else {
			newRadius = shrunk
		}
		if newRadius < 1 {
			newRadius = 1
		}
		n.values[cell] = newRadius
		return nil
	})
	if err != nil {
		return 0, err
	}

	n.radiusMin = n.values[0]
	n.radiusMax = n.values[0]
	for _, v := range n.values {
		if v < n.radiusMin {
			n.radiusMin = v
		}
		if v > n.radiusMax {
			n.radiusMax = v
		}
	}

	return (float32(len(discontinuities)) + 1) / float32(numRows), nil
}

// Save writes the neighbourhood field in the §6.3 format.
func (n *Neighbourhood) Save(path string) error {
	return persistence.SaveToFile(path, func(w *persistence.Writer) error {
		if err := w.WriteByte(neighbourhoodFormat); err != nil {
			return err
		}
		if err := w.WriteUint64(uint64(n.height)); err != nil {
			return err
		}
		if err := w.WriteUint64(uint64(n.width)); err != nil {
			return err
		}
		return w.WriteFloat32Slice(n.values)
	})
}

// Load reads a neighbourhood field in the §6.3 format.
func Load(path string, topo *topology.Topology, updateExponent float32) (*Neighbourhood, error) {
	n := &Neighbourhood{topo: topo, updateExp: updateExponent}
	err := persistence.LoadFromFile(path, func(r *persistence.Reader) error {
		format, err := r.ReadByte()
		if err != nil {
			return errs.NewIoError(path, err)
		}
		if format != neighbourhoodFormat {
			return errs.NewCorruptInput("unknown neighbourhood format")
		}
		height, err := r.ReadUint64()
		if err != nil {
			return errs.NewIoError(path, err)
		}
		width, err := r.ReadUint64()
		if err != nil {
			return errs.NewIoError(path, err)
		}
		n.height = int(height)
		n.width = int(width)
		n.numCells = n.height * n.width
		values, err := r.ReadFloat32Slice(n.numCells)
		if err != nil {
			return errs.NewIoError(path, err)
		}
		n.values = values
		n.radiusMin = values[0]
		n.radiusMax = values[0]
		for _, v := range values {
			if v < n.radiusMin {
				n.radiusMin = v
			}
			if v > n.radiusMax {
				n.radiusMax = v
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}
