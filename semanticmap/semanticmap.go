// Package semanticmap builds the (cell × vocabulary) co-occurrence
// count tensor that turns a trained codebook's best-matching-unit
// assignments into a queryable semantic map.
package semanticmap

import (
	"bufio"
	"fmt"
	"os"

	"github.com/mosig/ksom/corpus"
	"github.com/mosig/ksom/errs"
	"github.com/mosig/ksom/logging"
	"github.com/mosig/ksom/persistence"
)

const bmuFormat = 0

// maxCount is the largest value a count cell may hold before building
// aborts and drops the tensor; counts are stored as uint32 and the
// limit is one below the format's 2^32−1 ceiling.
const maxCount = uint32(1<<32 - 2)

// Map is the (cell × vocabulary) count tensor together with the BMU
// assignment it was built from.
type Map struct {
	height, width int
	numCells      int
	vocabSize     int
	datasetSize   int

	bmu        []uint16
	counts     []uint32 // nil if capacity was exceeded; numCells*vocabSize, column-major over vocab
	vocabulary []string
}

// BuildFromBMU builds a semantic map from an externally computed BMU
// array, e.g. one loaded from a previous run's bmus.bin.
func BuildFromBMU(data *corpus.Matrix, bmu []uint16, height, width int, logger *logging.Logger) (*Map, error) {
	m := &Map{
		height:      height,
		width:       width,
		numCells:    height * width,
		vocabSize:   data.NumCols(),
		datasetSize: data.NumRows(),
		bmu:         bmu,
	}
	if err := m.buildCounts(data, logger); err != nil {
		return nil, err
	}
	return m, nil
}

// buildCounts increments counts[numCells*vocabIndex + bmu[row]] for
// every sparse index in every row. If any cell would overflow, the
// whole tensor is dropped (a CapacityExceeded is logged, not
// returned) — the BMU array remains valid either way.
func (m *Map) buildCounts(data *corpus.Matrix, logger *logging.Logger) error {
	m.counts = make([]uint32, m.numCells*m.vocabSize)

	for row := 0; row < m.datasetSize; row++ {
		bmu := int(m.bmu[row])
		for _, vocabIndex := range data.RowIndices(row) {
			slot := m.numCells*int(vocabIndex) + bmu
			if m.counts[slot] >= maxCount {
				err := errs.NewCapacityExceeded(fmt.Sprintf("count cell %d would exceed capacity", slot))
				if logger != nil {
					logger.Warn("dropping count tensor", "error", err)
				}
				m.counts = nil
				return nil
			}
			m.counts[slot]++
		}
	}
	return nil
}

// CellCounts sums counts across the vocabulary for a single cell.
func (m *Map) CellCounts(row, col int) uint32 {
	cell := row*m.width + col
	var sum uint32
	for vocabIndex := 0; vocabIndex < m.vocabSize; vocabIndex++ {
		sum += m.counts[m.numCells*vocabIndex+cell]
	}
	return sum
}

// VocabCounts returns the per-cell counts for a single vocabulary
// entry, as a borrowed view with stride 1 over the map's cells.
func (m *Map) VocabCounts(vocabIndex int) []uint32 {
	start := m.numCells * vocabIndex
	return m.counts[start : start+m.numCells]
}

// FindSnippets returns the indices of corpus rows whose BMU is the
// cell at (row, col).
func (m *Map) FindSnippets(row, col int) []int {
	var out []int
	for i, cell := range m.bmu {
		if int(cell)/m.width == row && int(cell)%m.width == col {
			out = append(out, i)
		}
	}
	return out
}

// AssociateVocabulary loads a newline-delimited vocabulary file,
// replacing any previously associated vocabulary.
func (m *Map) AssociateVocabulary(path string, logger *logging.Logger) error {
	if m.vocabulary != nil && logger != nil {
		logger.Warn("replacing vocabulary")
	}

	f, err := os.Open(path)
	if err != nil {
		return errs.NewIoError(path, err)
	}
	defer f.Close()

	var vocab []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) > 0 {
			vocab = append(vocab, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return errs.NewIoError(path, err)
	}
	m.vocabulary = vocab
	return nil
}

// Vocabulary returns the associated vocabulary, or nil if none has
// been loaded.
func (m *Map) Vocabulary() []string { return m.vocabulary }

// SaveBestMatchingUnits writes the BMU array in the §6.4 format.
func (m *Map) SaveBestMatchingUnits(path string) error {
	return persistence.SaveToFile(path, func(w *persistence.Writer) error {
		if err := w.WriteByte(0); err != nil { // endianness flag, unused on read
			return err
		}
		if err := w.WriteByte(bmuFormat); err != nil {
			return err
		}
		if err := w.WriteUint64(uint64(m.height)); err != nil {
			return err
		}
		if err := w.WriteUint64(uint64(m.width)); err != nil {
			return err
		}
		if err := w.WriteUint64(uint64(m.vocabSize)); err != nil {
			return err
		}
		if err := w.WriteUint64(uint64(m.datasetSize)); err != nil {
			return err
		}
		return w.WriteUint16Slice(m.bmu)
	})
}

// LoadBestMatchingUnits reads a BMU file in the §6.4 format.
func LoadBestMatchingUnits(path string) (*Map, error) {
	m := &Map{}
	err := persistence.LoadFromFile(path, func(r *persistence.Reader) error {
		if _, err := r.ReadByte(); err != nil { // endianness flag
			return errs.NewIoError(path, err)
		}
		format, err := r.ReadByte()
		if err != nil {
			return errs.NewIoError(path, err)
		}
		if format != bmuFormat {
			return errs.NewCorruptInput("unknown BMU format")
		}
		height, err := r.ReadUint64()
		if err != nil {
			return errs.NewIoError(path, err)
		}
		width, err := r.ReadUint64()
		if err != nil {
			return errs.NewIoError(path, err)
		}
		vocabSize, err := r.ReadUint64()
		if err != nil {
			return errs.NewIoError(path, err)
		}
		datasetSize, err := r.ReadUint64()
		if err != nil {
			return errs.NewIoError(path, err)
		}
		m.height = int(height)
		m.width = int(width)
		m.numCells = m.height * m.width
		m.vocabSize = int(vocabSize)
		m.datasetSize = int(datasetSize)
		bmu, err := r.ReadUint16Slice(m.datasetSize)
		if err != nil {
			return errs.NewIoError(path, err)
		}
		m.bmu = bmu
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// SaveCounts writes the count tensor in the §6.5 format: the §6.4
// header without datasetSize, followed by the column-major-over-vocab
// payload. The reference implementation declares this save routine but
// never implements it; since the format is fully specified, this
// implementation finishes what it left undone.
func (m *Map) SaveCounts(path string) error {
	if m.counts == nil {
		return errs.NewCapacityExceeded("count tensor was dropped during build, nothing to save")
	}
	return persistence.SaveToFile(path, func(w *persistence.Writer) error {
		if err := w.WriteByte(0); err != nil {
			return err
		}
		if err := w.WriteByte(bmuFormat); err != nil {
			return err
		}
		if err := w.WriteUint64(uint64(m.height)); err != nil {
			return err
		}
		if err := w.WriteUint64(uint64(m.width)); err != nil {
			return err
		}
		if err := w.WriteUint64(uint64(m.vocabSize)); err != nil {
			return err
		}
		return w.WriteUint32Slice(m.counts)
	})
}

// LoadCounts reads a count tensor in the §6.5 format.
func LoadCounts(path string) (*Map, error) {
	m := &Map{}
	err := persistence.LoadFromFile(path, func(r *persistence.Reader) error {
		if _, err := r.ReadByte(); err != nil {
			return errs.NewIoError(path, err)
		}
		format, err := r.ReadByte()
		if err != nil {
			return errs.NewIoError(path, err)
		}
		if format != bmuFormat {
			return errs.NewCorruptInput("unknown count format")
		}
		height, err := r.ReadUint64()
		if err != nil {
			return errs.NewIoError(path, err)
		}
		width, err := r.ReadUint64()
		if err != nil {
			return errs.NewIoError(path, err)
		}
		vocabSize, err := r.ReadUint64()
		if err != nil {
			return errs.NewIoError(path, err)
		}
		m.height = int(height)
		m.width = int(width)
		m.numCells = m.height * m.width
		m.vocabSize = int(vocabSize)
		counts, err := r.ReadUint32Slice(m.numCells * m.vocabSize)
		if err != nil {
			return errs.NewIoError(path, err)
		}
		m.counts = counts
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}
