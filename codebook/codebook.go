// Package codebook implements the dense cell×dimension prototype
// matrix at the center of the training engine: initialization, best-
// matching-unit search, the batch SOM update, the four quality
// metrics, and dead-cell reassignment.
package codebook

import (
	"context"
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/mosig/ksom/corpus"
	"github.com/mosig/ksom/errs"
	"github.com/mosig/ksom/internal/rng"
	"github.com/mosig/ksom/internal/workerpool"
	"github.com/mosig/ksom/neighbourhood"
	"github.com/mosig/ksom/persistence"
	"github.com/mosig/ksom/topology"
)

const codebookFormat = 0

// maxRealDistance is the sentinel a row's distance is initialized to
// before any cell has been compared against it.
const maxRealDistance = float32(math.MaxFloat32)

// Codebook is the H×W×D array of prototype vectors, stored row-major
// over (cell, dim).
type Codebook struct {
	height, width int
	inputDim      int
	numCells      int
	topo          *topology.Topology
	values        []float32
}

// New allocates a zeroed codebook of the given shape.
func New(height, width, inputDim int, topo *topology.Topology) *Codebook {
	numCells := height * width
	return &Codebook{
		height:   height,
		width:    width,
		inputDim: inputDim,
		numCells: numCells,
		topo:     topo,
		values:   make([]float32, numCells*inputDim),
	}
}

func (c *Codebook) Height() int   { return c.height }
func (c *Codebook) Width() int    { return c.width }
func (c *Codebook) InputDim() int { return c.inputDim }
func (c *Codebook) NumCells() int { return c.numCells }

// Value returns a single prototype coordinate. Panics out of range,
// matching the bounds-checked accessor in the reference implementation.
func (c *Codebook) Value(index int) float32 { return c.values[index] }

// Row returns a borrowed view of cell c's prototype vector.
func (c *Codebook) Row(cell int) []float32 {
	return c.values[cell*c.inputDim : (cell+1)*c.inputDim]
}

// Init fills every cell with IID uniform[0,1] values, parallelizing
// over cells with one RNG per worker derived from baseSeed+workerID so
// runs with the same base seed and worker count are reproducible.
func (c *Codebook) Init(baseSeed int64, pool *workerpool.Pool) error {
	workers := pool.NumWorkers()
	if workers > c.numCells {
		workers = c.numCells
	}
	if workers <= 0 {
		workers = 1
	}
	chunk := (c.numCells + workers - 1) / workers

	return pool.Range(context.Background(), workers, func(w int) error {
		r := rng.New(baseSeed, w)
		start := w * chunk
		end := start + chunk
		if end > c.numCells {
			end = c.numCells
		}
		for cell := start; cell < end; cell++ {
			row := c.Row(cell)
			for d := range row {
				row[d] = r.Float32()
			}
		}
		return nil
	})
}

// Save writes the codebook in the §6.2 format.
func (c *Codebook) Save(path string) error {
	return persistence.SaveToFile(path, func(w *persistence.Writer) error {
		if err := w.WriteByte(codebookFormat); err != nil {
			return err
		}
		if err := w.WriteUint64(uint64(c.height)); err != nil {
			return err
		}
		if err := w.WriteUint64(uint64(c.width)); err != nil {
			return err
		}
		if err := w.WriteUint64(uint64(c.inputDim)); err != nil {
			return err
		}
		return w.WriteFloat32Slice(c.values)
	})
}

// Load reads a codebook in the §6.2 format.
func Load(path string, topo *topology.Topology) (*Codebook, error) {
	c := &Codebook{topo: topo}
	err := persistence.LoadFromFile(path, func(r *persistence.Reader) error {
		format, err := r.ReadByte()
		if err != nil {
			return errs.NewIoError(path, err)
		}
		if format != codebookFormat {
			return errs.NewCorruptInput("unknown codebook format")
		}
		height, err := r.ReadUint64()
		if err != nil {
			return errs.NewIoError(path, err)
		}
		width, err := r.ReadUint64()
		if err != nil {
			return errs.NewIoError(path, err)
		}
		inputDim, err := r.ReadUint64()
		if err != nil {
			return errs.NewIoError(path, err)
		}
		c.height = int(height)
		c.width = int(width)
		c.inputDim = int(inputDim)
		c.numCells = c.height * c.width
		values, err := r.ReadFloat32Slice(c.numCells * c.inputDim)
		if err != nil {
			return errs.NewIoError(path, err)
		}
		c.values = values
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// effectiveDim returns the dimension cutoff used by the BMU search and
// batch update: the vocabulary cutoff if one is in effect, else the
// codebook's full input dimension.
func (c *Codebook) effectiveDim(cutoff int) int {
	if cutoff > 0 {
		return cutoff
	}
	return c.inputDim
}

// rowProduct computes Σ w_c[idx]*weight(idx) over a row's sparse
// indices, stopping at the first index ≥ effectiveDim. Indices are
// strictly ascending, so every later index would also be skipped —
// breaking early is required for cutoff correctness, not just speed.
func rowProduct(w []float32, indices []uint32, weights []uint8, effectiveDim int) float32 {
	var sum float32
	if weights != nil {
		for i, idx := range indices {
			if int(idx) >= effectiveDim {
				break
			}
			sum += w[idx] * float32(weights[i])
		}
	} else {
		for _, idx := range indices {
			if int(idx) >= effectiveDim {
				break
			}
			sum += w[idx]
		}
	}
	return sum
}

func squaredNorm(w []float32) float32 {
	var sum float32
	for _, v := range w {
		sum += v * v
	}
	return sum
}

// FindBestMatchingUnits computes, for every row, the cell whose
// prototype minimizes the surrogate squared distance. If
// needCorrectDistances is set, the returned distances are corrected to
// true ‖w−x‖² by adding the row's precomputed sum of squares and
// clamped at ≥ 0; otherwise they remain in surrogate form. Empty rows
// and rows whose first index already exceeds the cutoff keep their
// initial choice (cell 0) with the sentinel distance maxRealDistance,
// which the sum-of-squares correction leaves at maxRealDistance.
func (c *Codebook) FindBestMatchingUnits(data *corpus.Matrix, cutoff int, needCorrectDistances bool, pool *workerpool.Pool) ([]uint16, []float32, error) {
	numRows := data.NumRows()
	effectiveDim := c.effectiveDim(cutoff)

	bmu := make([]uint16, numRows)
	distances := make([]float32, numRows)
	for i := range distances {
		distances[i] = maxRealDistance
	}

	ctx := context.Background()
	for cell := 0; cell < c.numCells; cell++ {
		w := c.Row(cell)
		wSquared := squaredNorm(w)

		err := pool.Range(ctx, numRows, func(row int) error {
			indices := data.RowIndices(row)
			if len(indices) == 0 || int(indices[0]) >= effectiveDim {
				return nil
			}
			product := rowProduct(w, indices, data.RowWeights(row), effectiveDim)
			dist := wSquared - 2*product
			if dist < distances[row] {
				distances[row] = dist
				bmu[row] = uint16(cell)
			}
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
	}

	if needCorrectDistances {
		data.EnsureSumOfSquares()
		err := pool.Range(ctx, numRows, func(row int) error {
			d := distances[row] + data.SumOfSquares(row)
			if d < 0 {
				d = 0
			}
			distances[row] = d
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
	}

	return bmu, distances, nil
}

// FindBestAndNextBestMatchingUnits is FindBestMatchingUnits's dual
// form: it also tracks each row's second-best cell, needed to detect
// topographic discontinuities. Distances are always corrected to true
// ‖w−x‖² inline and clamped at ≥ 0, since the caller always needs them
// for quantization error.
func (c *Codebook) FindBestAndNextBestMatchingUnits(data *corpus.Matrix, cutoff int, pool *workerpool.Pool) (bmu []uint16, distances []float32, nextBmu []uint16, nextDistances []float32, err error) {
	numRows := data.NumRows()
	effectiveDim := c.effectiveDim(cutoff)
	data.EnsureSumOfSquares()

	bmu = make([]uint16, numRows)
	distances = make([]float32, numRows)
	nextBmu = make([]uint16, numRows)
	nextDistances = make([]float32, numRows)
	for i := range distances {
		distances[i] = maxRealDistance
		nextDistances[i] = maxRealDistance
	}

	ctx := context.Background()
	for cell := 0; cell < c.numCells; cell++ {
		w := c.Row(cell)
		wSquared := squaredNorm(w)

		rangeErr := pool.Range(ctx, numRows, func(row int) error {
			indices := data.RowIndices(row)
			if len(indices) == 0 || int(indices[0]) >= effectiveDim {
				return nil
			}
			product := rowProduct(w, indices, data.RowWeights(row), effectiveDim)
			dist := wSquared - 2*product + data.SumOfSquares(row)
			if dist < 0 {
				dist = 0
			}
			if dist < distances[row] {
				nextBmu[row] = bmu[row]
				nextDistances[row] = distances[row]
				bmu[row] = uint16(cell)
				distances[row] = dist
			} else if dist < nextDistances[row] {
				nextBmu[row] = uint16(cell)
				nextDistances[row] = dist
			}
			return nil
		})
		if rangeErr != nil {
			return nil, nil, nil, nil, rangeErr
		}
	}

	return bmu, distances, nextBmu, nextDistances, nil
}

// ApplyBatchUpdate recomputes every target cell as the influence-
// weighted mean of the rows it attracts this epoch. Weights are
// deliberately not applied here — only whether a row's sparse index
// set contains a dimension, not how strongly — because the update
// already carries per-row strength through the neighbourhood influence
// term, and mixing in token weights a second time would double-count
// it. Cells with zero denominator are left unchanged. Dimensions at or
// beyond the cutoff are overwritten with 0 whenever the cell's
// denominator is nonzero, since their numerator never accumulates
// anything.
func (c *Codebook) ApplyBatchUpdate(data *corpus.Matrix, neigh *neighbourhood.Neighbourhood, bmu []uint16, cutoff int, pool *workerpool.Pool) error {
	numRows := data.NumRows()
	effectiveDim := c.effectiveDim(cutoff)

	return pool.Range(context.Background(), c.numCells, func(cell int) error {
		numerator := make([]float32, c.inputDim)
		var denominator float32

		for row := 0; row < numRows; row++ {
			h := neigh.Influence(int(bmu[row]), cell)
			if h <= 0 {
				continue
			}
			denominator += h
			for _, idx := range data.RowIndices(row) {
				if int(idx) >= effectiveDim {
					break
				}
				numerator[idx] += h
			}
		}

		if denominator == 0 {
			return nil
		}
		w := c.Row(cell)
		for d := 0; d < c.inputDim; d++ {
			w[d] = numerator[d] / denominator
		}
		return nil
	})
}

// QuantizationError is the square root of the sum of squared BMU
// distances, divided by numRows.
func (c *Codebook) QuantizationError(distances []float32, numRows int) float32 {
	var sum float32
	for _, d := range distances {
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum))) / float32(numRows)
}

// GapError is the fraction of cells that are no row's BMU.
func (c *Codebook) GapError(bmu []uint16) float32 {
	used := roaring.New()
	for _, cell := range bmu {
		used.Add(uint32(cell))
	}
	return float32(c.numCells-int(used.GetCardinality())) / float32(c.numCells)
}

// DiffusionError is the mean lattice distance between this epoch's BMU
// and the previous epoch's BMU, per row.
func (c *Codebook) DiffusionError(currentBmu, previousBmu []uint16, numRows int) float32 {
	var sum float64
	for row := 0; row < numRows; row++ {
		if currentBmu[row] != previousBmu[row] {
			sum += float64(c.topo.DistanceCell(int(currentBmu[row]), int(previousBmu[row])))
		}
	}
	return float32(sum / float64(numRows))
}

// AssignDeadCells reassigns every unused cell to the BMU of one of the
// worst-matching rows, in cell index order, returning the fraction of
// cells that were unused (the epoch's gap-error snapshot). Does
// nothing and returns 0 if there are no unused cells or more unused
// cells than rows.
func (c *Codebook) AssignDeadCells(bmu []uint16, distances []float32, numRows int) float32 {
	used := roaring.New()
	for _, cell := range bmu {
		used.Add(uint32(cell))
	}
	numUnused := c.numCells - int(used.GetCardinality())
	if numUnused == 0 || numUnused > numRows {
		return 0
	}

	type rowDist struct {
		row  int
		dist float32
	}
	ranked := make([]rowDist, numRows)
	for r := 0; r < numRows; r++ {
		ranked[r] = rowDist{row: r, dist: distances[r]}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].dist > ranked[j].dist })
	threshold := ranked[numUnused-1].dist

	candidates := make([]int, 0, numUnused)
	for _, rd := range ranked {
		if rd.dist >= threshold {
			candidates = append(candidates, rd.row)
		}
		if len(candidates) == numUnused {
			break
		}
	}

	candidateIdx := 0
	for cell := 0; cell < c.numCells; cell++ {
		if used.Contains(uint32(cell)) {
			continue
		}
		if candidateIdx >= len(candidates) {
			break
		}
		bmu[candidates[candidateIdx]] = uint16(cell)
		candidateIdx++
	}

	return float32(numUnused) / float32(c.numCells)
}
