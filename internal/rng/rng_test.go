package rng

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSameSeedAndWorkerReproduces(t *testing.T) {
	a := New(42, 3)
	b := New(42, 3)
	assert.Equal(t, a.Float32(), b.Float32())
	assert.Equal(t, a.Intn(1000), b.Intn(1000))
}

func TestDifferentWorkersDiverge(t *testing.T) {
	a := New(42, 0)
	b := New(42, 1)
	assert.NotEqual(t, a.Seed(), b.Seed())
}

func TestFloat32InUnitRange(t *testing.T) {
	r := New(1, 0)
	for i := 0; i < 1000; i++ {
		v := r.Float32()
		assert.GreaterOrEqual(t, v, float32(0))
		assert.Less(t, v, float32(1))
	}
}
