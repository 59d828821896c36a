package neighbourhood

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosig/ksom/internal/workerpool"
	"github.com/mosig/ksom/topology"
)

func mustTopology(t *testing.T, global topology.Global, local topology.Local, h, w int) *topology.Topology {
	t.Helper()
	topo, err := topology.New(global, local, h, w)
	require.NoError(t, err)
	return topo
}

func TestInfluenceZeroBeyondRadius(t *testing.T) {
	topo := mustTopology(t, topology.Plane, topology.Rect, 10, 10)
	n, err := New(10, 10, topo, 0.9, 3)
	require.NoError(t, err)

	// cell 0 is (0,0), cell 50 is (5,0): lattice distance 5 > radius 3.
	assert.Equal(t, float32(0), n.Influence(0, 50))
}

func TestInfluencePositiveWithinRadius(t *testing.T) {
	topo := mustTopology(t, topology.Plane, topology.Rect, 10, 10)
	n, err := New(10, 10, topo, 0.9, 3)
	require.NoError(t, err)

	h := n.Influence(0, 1) // distance 1, radius 3
	assert.Greater(t, h, float32(0))
}

func TestTopographicErrorFloorWithNoDiscontinuities(t *testing.T) {
	topo := mustTopology(t, topology.Plane, topology.Rect, 5, 5)
	n, err := New(5, 5, topo, 0.9, 2)
	require.NoError(t, err)

	pool := workerpool.New(2)
	numRows := 4
	bmu := make([]uint16, numRows)
	nextBmu := make([]uint16, numRows)
	for i := range bmu {
		bmu[i] = 0
		nextBmu[i] = 0 // distance 0, never > 1
	}

	topographic, err := n.Update(bmu, nextBmu, numRows, true, pool)
	require.NoError(t, err)
	assert.Equal(t, float32(1)/float32(numRows), topographic)
}

func TestRadiusNeverBelowOne(t *testing.T) {
	topo := mustTopology(t, topology.Plane, topology.Rect, 5, 5)
	n, err := New(5, 5, topo, 0.5, 2)
	require.NoError(t, err)

	pool := workerpool.New(2)
	bmu := []uint16{0}
	nextBmu := []uint16{0}

	for i := 0; i < 20; i++ {
		_, err := n.Update(bmu, nextBmu, 1, true, pool)
		require.NoError(t, err)
	}
	for _, v := range n.values {
		assert.GreaterOrEqual(t, v, float32(1))
	}
}

func TestDiscontinuityLowerBound(t *testing.T) {
	topo := mustTopology(t, topology.Plane, topology.Rect, 10, 10)
	n, err := New(10, 10, topo, 0.1, 2)
	require.NoError(t, err)

	pool := workerpool.New(2)
	// cell1 = (0,0) = index 0, cell2 = (0,5) = index 5, distance 5.
	bmu := []uint16{0}
	nextBmu := []uint16{5}

	_, err = n.Update(bmu, nextBmu, 1, true, pool)
	require.NoError(t, err)

	// every cell within both endpoints' balls of radius 5 keeps radius >= 5
	// despite the aggressive shrink exponent.
	cellAt := func(r, c int) int { return r*10 + c }
	assert.GreaterOrEqual(t, n.values[cellAt(0, 2)], float32(5))
	assert.GreaterOrEqual(t, n.values[cellAt(0, 3)], float32(5))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	topo := mustTopology(t, topology.Plane, topology.Rect, 3, 3)
	n, err := New(3, 3, topo, 0.8, 4)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "neighbourhood.bin")
	require.NoError(t, n.Save(path))

	loaded, err := Load(path, topo, 0.8)
	require.NoError(t, err)
	assert.Equal(t, n.values, loaded.values)
	assert.Equal(t, n.radiusMin, loaded.radiusMin)
	assert.Equal(t, n.radiusMax, loaded.radiusMax)
}
