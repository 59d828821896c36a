package codebook

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosig/ksom/corpus"
	"github.com/mosig/ksom/internal/workerpool"
	"github.com/mosig/ksom/neighbourhood"
	"github.com/mosig/ksom/topology"
)

// writeMinimalCorpus assembles a minimal unweighted §6.1 corpus file.
func writeMinimalCorpus(t *testing.T, path string, rows [][]uint32, numCols int) {
	t.Helper()
	var numNonZero uint64
	for _, r := range rows {
		numNonZero += uint64(len(r))
	}

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, binary.Write(f, binary.LittleEndian, byte(3)))
	require.NoError(t, binary.Write(f, binary.LittleEndian, numNonZero))
	require.NoError(t, binary.Write(f, binary.LittleEndian, uint32(len(rows))))
	require.NoError(t, binary.Write(f, binary.LittleEndian, uint32(numCols)))
	for _, row := range rows {
		require.NoError(t, binary.Write(f, binary.LittleEndian, uint32(len(row))))
		for _, idx := range row {
			require.NoError(t, binary.Write(f, binary.LittleEndian, idx))
		}
	}
}

func mustTopology(t *testing.T, global topology.Global, local topology.Local, h, w int) *topology.Topology {
	t.Helper()
	topo, err := topology.New(global, local, h, w)
	require.NoError(t, err)
	return topo
}

func TestInitBounds(t *testing.T) {
	topo := mustTopology(t, topology.Plane, topology.Rect, 4, 3)
	cb := New(4, 3, 5, topo)
	pool := workerpool.New(4)

	require.NoError(t, cb.Init(42, pool))

	for _, v := range cb.values {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.Less(t, v, float32(1))
	}
}

func TestInitReproducible(t *testing.T) {
	topo := mustTopology(t, topology.Plane, topology.Rect, 4, 3)
	pool := workerpool.New(4)

	a := New(4, 3, 5, topo)
	require.NoError(t, a.Init(7, pool))

	b := New(4, 3, 5, topo)
	require.NoError(t, b.Init(7, pool))

	assert.Equal(t, a.values, b.values)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	topo := mustTopology(t, topology.Plane, topology.Rect, 2, 2)
	cb := New(2, 2, 3, topo)
	pool := workerpool.New(2)
	require.NoError(t, cb.Init(1, pool))

	path := filepath.Join(t.TempDir(), "codebook.bin")
	require.NoError(t, cb.Save(path))

	loaded, err := Load(path, topo)
	require.NoError(t, err)

	assert.Equal(t, cb.height, loaded.height)
	assert.Equal(t, cb.width, loaded.width)
	assert.Equal(t, cb.inputDim, loaded.inputDim)
	assert.Equal(t, cb.values, loaded.values)
}

// buildCorpus writes a tiny unweighted corpus to a temp file and loads it.
func buildCorpus(t *testing.T, rows [][]uint32, numCols int) *corpus.Matrix {
	t.Helper()
	path := filepath.Join(t.TempDir(), "c.bin")
	writeMinimalCorpus(t, path, rows, numCols)
	m, err := corpus.Load(path)
	require.NoError(t, err)
	return m
}

func TestFindBestMatchingUnits(t *testing.T) {
	topo := mustTopology(t, topology.Plane, topology.Rect, 1, 2)
	cb := New(1, 2, 3, topo)
	// cell 0 looks like input {0}, cell 1 looks like input {1,2}.
	copy(cb.Row(0), []float32{1, 0, 0})
	copy(cb.Row(1), []float32{0, 1, 1})

	data := buildCorpus(t, [][]uint32{{0}, {1, 2}}, 3)
	pool := workerpool.New(2)

	bmu, _, err := cb.FindBestMatchingUnits(data, 0, false, pool)
	require.NoError(t, err)
	assert.EqualValues(t, 0, bmu[0])
	assert.EqualValues(t, 1, bmu[1])
}

func TestGapError(t *testing.T) {
	topo := mustTopology(t, topology.Plane, topology.Rect, 1, 4)
	cb := New(1, 4, 1, topo)

	bmu := []uint16{0, 0, 1}
	// 2 of 4 cells used -> gap = 2/4 = 0.5
	assert.Equal(t, float32(0.5), cb.GapError(bmu))
}

func TestDiffusionError(t *testing.T) {
	topo := mustTopology(t, topology.Plane, topology.Rect, 1, 10)
	cb := New(1, 10, 1, topo)

	current := []uint16{0, 5}
	previous := []uint16{0, 3}
	// row 0 unchanged (distance 0), row 1 moved from 3 to 5 (distance 2).
	assert.Equal(t, float32(1), cb.DiffusionError(current, previous, 2))
}

func TestAssignDeadCells(t *testing.T) {
	topo := mustTopology(t, topology.Plane, topology.Rect, 1, 4)
	cb := New(1, 4, 1, topo)

	bmu := []uint16{0, 0, 0}
	distances := []float32{1, 5, 3}
	// 3 cells unused, 3 rows -> all rows become candidates, and each of
	// the unused cells 1, 2, 3 becomes one row's BMU.
	gap := cb.AssignDeadCells(bmu, distances, 3)
	assert.Equal(t, float32(3.0/4.0), gap)

	used := map[uint16]bool{}
	for _, c := range bmu {
		used[c] = true
	}
	assert.Equal(t, map[uint16]bool{1: true, 2: true, 3: true}, used)
}

func TestAssignDeadCellsNoUnused(t *testing.T) {
	topo := mustTopology(t, topology.Plane, topology.Rect, 1, 2)
	cb := New(1, 2, 1, topo)

	bmu := []uint16{0, 1}
	distances := []float32{1, 1}
	gap := cb.AssignDeadCells(bmu, distances, 2)
	assert.Equal(t, float32(0), gap)
}

func TestBatchUpdateConvergesToMeanWithInfiniteRadius(t *testing.T) {
	topo := mustTopology(t, topology.Plane, topology.Rect, 1, 2)
	cb := New(1, 2, 2, topo)
	copy(cb.Row(0), []float32{0.1, 0.9})
	copy(cb.Row(1), []float32{0.9, 0.1})

	// A very large radius makes influence() ≈ uniform across all cells.
	neigh, err := neighbourhood.New(1, 2, topo, 1, 1000)
	require.NoError(t, err)

	data := buildCorpus(t, [][]uint32{{0}, {1}}, 2)
	pool := workerpool.New(2)

	bmu := []uint16{0, 1}
	require.NoError(t, cb.ApplyBatchUpdate(data, neigh, bmu, 0, pool))

	assert.InDelta(t, cb.Row(0)[0], cb.Row(1)[0], 1e-3)
	assert.InDelta(t, cb.Row(0)[1], cb.Row(1)[1], 1e-3)
}
