// Package corpus loads the immutable sparse binary (optionally
// weighted) snippet matrix the training engine trains against.
package corpus

import (
	"sync"

	"github.com/mosig/ksom/errs"
	"github.com/mosig/ksom/persistence"
)

const (
	versionWeighted   = 2
	versionUnweighted = 3

	// maxIndexPointer bounds numNonZero so it fits the 32-bit index
	// pointer storage the rest of the engine assumes.
	maxIndexPointer = uint64(1<<32 - 1)
)

// Matrix is a CSR-like sparse binary (optionally weighted) matrix,
// immutable once loaded. Rows are independent snippets; columns are
// vocabulary entries.
type Matrix struct {
	numRows    uint32
	numCols    uint32
	numNonZero uint64
	hasWeights bool

	indexPointers []uint32 // len numRows+1
	indices       []uint32 // len numNonZero, strictly ascending within a row
	weights       []uint8  // len numNonZero if hasWeights, else nil

	sumOfSquaresOnce sync.Once
	sumOfSquares     []float32
}

// Load reads a corpus file in the format documented in §6.1. Corpus
// files are produced externally by the reference toolchain and carry
// no CRC32 trailer, unlike every format this module writes itself, so
// loading skips the trailer check LoadFromFile performs for those.
func Load(path string) (*Matrix, error) {
	m := &Matrix{}
	err := persistence.LoadFromFileNoTrailer(path, func(r *persistence.Reader) error {
		version, err := r.ReadByte()
		if err != nil {
			return errs.NewIoError(path, err)
		}
		switch version {
		case versionWeighted:
			m.hasWeights = true
		case versionUnweighted:
			m.hasWeights = false
		default:
			return errs.NewCorruptInput("unknown corpus format version")
		}

		numNonZero, err := r.ReadUint64()
		if err != nil {
			return errs.NewIoError(path, err)
		}
		if numNonZero > maxIndexPointer {
			return errs.NewTooManyEntries(maxIndexPointer, numNonZero)
		}
		m.numNonZero = numNonZero

		numRows, err := r.ReadUint32()
		if err != nil {
			return errs.NewIoError(path, err)
		}
		numCols, err := r.ReadUint32()
		if err != nil {
			return errs.NewIoError(path, err)
		}
		m.numRows = numRows
		m.numCols = numCols

		m.indexPointers = make([]uint32, numRows+1)
		m.indices = make([]uint32, numNonZero)
		if m.hasWeights {
			m.weights = make([]uint8, numNonZero)
		}

		var offset uint32
		for row := uint32(0); row < numRows; row++ {
			m.indexPointers[row] = offset

			entries, err := r.ReadUint32()
			if err != nil {
				return errs.NewIoError(path, err)
			}
			if uint64(offset)+uint64(entries) > numNonZero {
				return errs.NewCorruptInput("row entry count overruns declared non-zero total")
			}

			rowIndices, err := r.ReadUint32Slice(int(entries))
			if err != nil {
				return errs.NewIoError(path, err)
			}
			var prev uint32
			for i, idx := range rowIndices {
				if idx >= numCols {
					return errs.NewCorruptInput("column index out of range")
				}
				if i > 0 && idx <= prev {
					return errs.NewCorruptInput("row indices must be strictly ascending")
				}
				prev = idx
			}
			copy(m.indices[offset:offset+entries], rowIndices)

			if m.hasWeights {
				rowWeights, err := r.ReadUint8Slice(int(entries))
				if err != nil {
					return errs.NewIoError(path, err)
				}
				copy(m.weights[offset:offset+entries], rowWeights)
			}

			offset += entries
		}
		m.indexPointers[numRows] = offset
		if uint64(offset) != numNonZero {
			return errs.NewCorruptInput("declared non-zero count does not match row totals")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// NumRows, NumCols, and NumNonZero report the matrix shape.
func (m *Matrix) NumRows() int     { return int(m.numRows) }
func (m *Matrix) NumCols() int     { return int(m.numCols) }
func (m *Matrix) NumNonZero() int  { return int(m.numNonZero) }
func (m *Matrix) HasWeights() bool { return m.hasWeights }

// RowIndices returns the ascending column indices of row r. The slice
// is a borrowed view into the matrix's storage and must not be
// retained past the matrix's lifetime or mutated.
func (m *Matrix) RowIndices(r int) []uint32 {
	return m.indices[m.indexPointers[r]:m.indexPointers[r+1]]
}

// RowWeights returns the per-index weights of row r, or nil if the
// matrix is unweighted.
func (m *Matrix) RowWeights(r int) []uint8 {
	if !m.hasWeights {
		return nil
	}
	return m.weights[m.indexPointers[r]:m.indexPointers[r+1]]
}

// EnsureSumOfSquares computes, on first call, the per-row sum of
// squares needed to recover true squared distances from the BMU
// search's surrogate form: Σ weight² if weighted, else the row's
// nonzero count.
func (m *Matrix) EnsureSumOfSquares() {
	m.sumOfSquaresOnce.Do(func() {
		m.sumOfSquares = make([]float32, m.numRows)
		for r := 0; r < int(m.numRows); r++ {
			if m.hasWeights {
				var sum float32
				for _, w := range m.RowWeights(r) {
					sum += float32(w) * float32(w)
				}
				m.sumOfSquares[r] = sum
			} else {
				m.sumOfSquares[r] = float32(len(m.RowIndices(r)))
			}
		}
	})
}

// SumOfSquares returns row r's precomputed sum of squares. Panics if
// EnsureSumOfSquares has not been called.
func (m *Matrix) SumOfSquares(r int) float32 {
	return m.sumOfSquares[r]
}

// MinFirstIndexAcrossRows returns the max, over all non-empty rows, of
// the row's smallest column index — used by the driver to warn when a
// vocabulary cutoff would empty out at least one training row.
func (m *Matrix) MinFirstIndexAcrossRows() uint32 {
	var result uint32
	for r := 0; r < int(m.numRows); r++ {
		idx := m.RowIndices(r)
		if len(idx) == 0 {
			continue
		}
		if idx[0] > result {
			result = idx[0]
		}
	}
	return result
}
