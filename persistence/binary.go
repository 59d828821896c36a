// Package persistence provides the little-endian binary encoding shared
// by every on-disk artifact the training engine produces: corpus,
// codebook, neighbourhood, best-matching-unit, and count files.
package persistence

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"unsafe"

	"github.com/mosig/ksom/errs"
)

// Writer wraps an io.Writer with the little-endian primitives used by
// every file format in §6, and tracks a running CRC32 so SaveToFile can
// append an integrity trailer after the documented payload.
type Writer struct {
	w io.Writer
}

// crc32Writer lets Writer compute a checksum over everything written
// without buffering the payload a second time.
type crc32Writer struct {
	w   io.Writer
	sum uint32
	tbl *crc32.Table
}

func newCRC32Writer(w io.Writer) *crc32Writer {
	return &crc32Writer{w: w, tbl: crc32.MakeTable(crc32.IEEE)}
}

func (c *crc32Writer) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.sum = crc32.Update(c.sum, c.tbl, p[:n])
	return n, err
}

// NewWriter creates a Writer that checksums everything written to it.
func NewWriter(w io.Writer) *Writer {
	cw := newCRC32Writer(w)
	return &Writer{w: cw}
}

func (w *Writer) checksum() uint32 {
	cw, ok := w.w.(*crc32Writer)
	if !ok {
		return 0
	}
	return cw.sum
}

// WriteByte writes a single byte.
func (w *Writer) WriteByte(b byte) error {
	_, err := w.w.Write([]byte{b})
	return err
}

// WriteUint32 writes a little-endian uint32.
func (w *Writer) WriteUint32(v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.w.Write(buf[:])
	return err
}

// WriteUint64 writes a little-endian uint64.
func (w *Writer) WriteUint64(v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.w.Write(buf[:])
	return err
}

// WriteFloat32Slice writes a float32 slice as raw little-endian bytes
// via a zero-copy reinterpretation, avoiding a temporary byte buffer
// for large codebooks and neighbourhood fields.
func (w *Writer) WriteFloat32Slice(vals []float32) error {
	if len(vals) == 0 {
		return nil
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(&vals[0])), len(vals)*4)
	_, err := w.w.Write(b)
	return err
}

// WriteUint32Slice writes a uint32 slice as raw little-endian bytes.
func (w *Writer) WriteUint32Slice(vals []uint32) error {
	if len(vals) == 0 {
		return nil
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(&vals[0])), len(vals)*4)
	_, err := w.w.Write(b)
	return err
}

// WriteUint16Slice writes a uint16 slice as raw little-endian bytes.
func (w *Writer) WriteUint16Slice(vals []uint16) error {
	if len(vals) == 0 {
		return nil
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(&vals[0])), len(vals)*2)
	_, err := w.w.Write(b)
	return err
}

// WriteUint8Slice writes a uint8 slice verbatim.
func (w *Writer) WriteUint8Slice(vals []uint8) error {
	if len(vals) == 0 {
		return nil
	}
	_, err := w.w.Write(vals)
	return err
}

// Reader wraps an io.Reader with the little-endian primitives used by
// every file format in §6, and tracks a running CRC32 so Verify can
// confirm the trailer SaveToFile appended after the documented payload.
type Reader struct {
	r io.Reader
}

// crc32Reader lets Reader compute a checksum over everything read
// without buffering the payload a second time.
type crc32Reader struct {
	r   io.Reader
	sum uint32
	tbl *crc32.Table
}

func newCRC32Reader(r io.Reader) *crc32Reader {
	return &crc32Reader{r: r, tbl: crc32.MakeTable(crc32.IEEE)}
}

func (c *crc32Reader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.sum = crc32.Update(c.sum, c.tbl, p[:n])
	return n, err
}

func (r *Reader) checksum() uint32 {
	cr, ok := r.r.(*crc32Reader)
	if !ok {
		return 0
	}
	return cr.sum
}

// Verify reads the trailing CRC32 SaveToFile appends immediately after
// the documented payload and confirms it matches the checksum computed
// over everything read through this Reader so far. Callers invoke it
// once readFunc has consumed the whole documented payload; LoadFromFile
// does this automatically for every caller.
func (r *Reader) Verify() error {
	want := r.checksum()
	got, err := r.ReadUint32()
	if err != nil {
		return err
	}
	if got != want {
		return errs.NewCorruptInput("checksum mismatch in trailing CRC32")
	}
	return nil
}

// ReadByte reads a single byte.
func (r *Reader) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r.r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// ReadUint32 reads a little-endian uint32.
func (r *Reader) ReadUint32() (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r.r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// ReadUint64 reads a little-endian uint64.
func (r *Reader) ReadUint64() (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r.r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// ReadFloat32Slice reads count float32 values.
func (r *Reader) ReadFloat32Slice(count int) ([]float32, error) {
	if count == 0 {
		return nil, nil
	}
	vals := make([]float32, count)
	b := unsafe.Slice((*byte)(unsafe.Pointer(&vals[0])), count*4)
	if _, err := io.ReadFull(r.r, b); err != nil {
		return nil, err
	}
	return vals, nil
}

// ReadUint32Slice reads count uint32 values.
func (r *Reader) ReadUint32Slice(count int) ([]uint32, error) {
	if count == 0 {
		return nil, nil
	}
	vals := make([]uint32, count)
	b := unsafe.Slice((*byte)(unsafe.Pointer(&vals[0])), count*4)
	if _, err := io.ReadFull(r.r, b); err != nil {
		return nil, err
	}
	return vals, nil
}

// ReadUint16Slice reads count uint16 values.
func (r *Reader) ReadUint16Slice(count int) ([]uint16, error) {
	if count == 0 {
		return nil, nil
	}
	vals := make([]uint16, count)
	b := unsafe.Slice((*byte)(unsafe.Pointer(&vals[0])), count*2)
	if _, err := io.ReadFull(r.r, b); err != nil {
		return nil, err
	}
	return vals, nil
}

// ReadUint8Slice reads count uint8 values.
func (r *Reader) ReadUint8Slice(count int) ([]uint8, error) {
	if count == 0 {
		return nil, nil
	}
	vals := make([]uint8, count)
	if _, err := io.ReadFull(r.r, vals); err != nil {
		return nil, err
	}
	return vals, nil
}

// SaveToFile writes the result of writeFunc to filename atomically: the
// payload is buffered and written to a temp file in the same
// directory, fsynced, then renamed over the target. A trailing CRC32
// over the documented payload is appended after writeFunc returns, so
// LoadFromFile can catch bit rot via Reader.Verify.
func SaveToFile(filename string, writeFunc func(*Writer) error) error {
	dir := filepath.Dir(filename)
	base := filepath.Base(filename)

	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()
	_ = tmp.Chmod(0644)

	buf := bufio.NewWriterSize(tmp, 256*1024)
	w := NewWriter(buf)
	if err := writeFunc(w); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.LittleEndian, w.checksum()); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, filename); err != nil {
		return err
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	tmpName = ""
	return nil
}

// LoadFromFile opens filename and streams it through readFunc using a
// buffered reader sized for large corpora and codebooks. Once readFunc
// has consumed the documented payload, the trailing CRC32 SaveToFile
// appended is read back and checked against everything readFunc
// consumed, via Reader.Verify. Use this for every format this module
// both writes and reads (§6.2–§6.5): codebook, neighbourhood, BMU, and
// count files.
func LoadFromFile(filename string, readFunc func(*Reader) error) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := bufio.NewReaderSize(f, 256*1024)
	r := &Reader{r: newCRC32Reader(buf)}
	if err := readFunc(r); err != nil {
		return err
	}
	return r.Verify()
}

// LoadFromFileNoTrailer opens filename and streams it through readFunc
// the same way LoadFromFile does, but never looks for or checks a
// trailing CRC32. Use this for formats this module only ever reads,
// never writes — the §6.1 corpus format, produced externally by the
// reference toolchain and carrying no trailer of any kind.
func LoadFromFileNoTrailer(filename string, readFunc func(*Reader) error) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := bufio.NewReaderSize(f, 256*1024)
	return readFunc(&Reader{r: buf})
}
