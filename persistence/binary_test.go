package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.bin")

	err := SaveToFile(path, func(w *Writer) error {
		if err := w.WriteByte(7); err != nil {
			return err
		}
		if err := w.WriteUint32(12345); err != nil {
			return err
		}
		if err := w.WriteUint64(9876543210); err != nil {
			return err
		}
		return w.WriteFloat32Slice([]float32{1.5, -2.5, 0})
	})
	require.NoError(t, err)

	err = LoadFromFile(path, func(r *Reader) error {
		b, err := r.ReadByte()
		require.NoError(t, err)
		assert.EqualValues(t, 7, b)

		u32, err := r.ReadUint32()
		require.NoError(t, err)
		assert.EqualValues(t, 12345, u32)

		u64, err := r.ReadUint64()
		require.NoError(t, err)
		assert.EqualValues(t, 9876543210, u64)

		floats, err := r.ReadFloat32Slice(3)
		require.NoError(t, err)
		assert.Equal(t, []float32{1.5, -2.5, 0}, floats)
		return nil
	})
	require.NoError(t, err)
}

func TestLoadFromFileRejectsCorruptedTrailer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.bin")
	require.NoError(t, SaveToFile(path, func(w *Writer) error {
		return w.WriteUint32(42)
	}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF // flip a bit in the trailing CRC32
	require.NoError(t, os.WriteFile(path, raw, 0644))

	err = LoadFromFile(path, func(r *Reader) error {
		_, err := r.ReadUint32()
		return err
	})
	require.Error(t, err)
}

func TestLoadFromFileRejectsCorruptedPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.bin")
	require.NoError(t, SaveToFile(path, func(w *Writer) error {
		return w.WriteUint32(42)
	}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[0] ^= 0xFF // flip a bit in the payload, trailer unchanged
	require.NoError(t, os.WriteFile(path, raw, 0644))

	err = LoadFromFile(path, func(r *Reader) error {
		_, err := r.ReadUint32()
		return err
	})
	require.Error(t, err)
}

func TestSaveToFileAppendsTrailerAfterDocumentedPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.bin")

	err := SaveToFile(path, func(w *Writer) error {
		return w.WriteUint32(42)
	})
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	// 4 bytes of payload + 4 bytes of CRC32 trailer.
	assert.EqualValues(t, 8, info.Size())
}

func TestSaveToFileIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.bin")

	require.NoError(t, SaveToFile(path, func(w *Writer) error {
		return w.WriteUint32(1)
	}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no leftover temp files after a successful save")
}

func TestSaveToFilePropagatesWriteFuncError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.bin")
	sentinelErr := assert.AnError

	err := SaveToFile(path, func(w *Writer) error {
		return sentinelErr
	})
	require.Error(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "failed save must not leave a partial file at the target path")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed save must clean up its temp file")
}

func TestReadUint16AndUint8Slices(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.bin")

	err := SaveToFile(path, func(w *Writer) error {
		if err := w.WriteUint16Slice([]uint16{1, 2, 3}); err != nil {
			return err
		}
		return w.WriteUint8Slice([]uint8{9, 8, 7})
	})
	require.NoError(t, err)

	err = LoadFromFile(path, func(r *Reader) error {
		u16s, err := r.ReadUint16Slice(3)
		require.NoError(t, err)
		assert.Equal(t, []uint16{1, 2, 3}, u16s)

		u8s, err := r.ReadUint8Slice(3)
		require.NoError(t, err)
		assert.Equal(t, []uint8{9, 8, 7}, u8s)
		return nil
	})
	require.NoError(t, err)
}
