package cluster

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/edsrzf/mmap-go"
	"gonum.org/v1/gonum/spatial/r3"
)

// MMapWriter writes sequentially into a mapped region.
type MMapWriter struct {
	data   mmap.MMap
	offset int
}

func NewMMapWriter(data mmap.MMap) *MMapWriter {
	return &MMapWriter{data: data}
}

func (w *MMapWriter) WriteUint16(v uint16) {
	binary.LittleEndian.PutUint16(w.data[w.offset:], v)
	w.offset += 2
}

func (w *MMapWriter) WriteUint32(v uint32) {
	binary.LittleEndian.PutUint32(w.data[w.offset:], v)
	w.offset += 4
}

func (w *MMapWriter) WriteUint64(v uint64) {
	binary.LittleEndian.PutUint64(w.data[w.offset:], v)
	w.offset += 8
}

func (w *MMapWriter) WriteFloat64(v float64) {
	w.WriteUint64(math.Float64bits(v))
}

func (w *MMapWriter) WriteBytes(b []byte) {
	copy(w.data[w.offset:], b)
	w.offset += len(b)
}

// MMapReader reads sequentially from a mapped region. Reading past the end
// yields zeros and sets Err.
type MMapReader struct {
	data   mmap.MMap
	offset int
	err    error
}

func NewMMapReader(data mmap.MMap) *MMapReader {
	return &MMapReader{data: data}
}

func (r *MMapReader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.offset+n > len(r.data) {
		r.err = fmt.Errorf("%w: truncated at offset %d", errHullFormat, r.offset)
		return nil
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b
}

func (r *MMapReader) ReadUint16() uint16 {
	if b := r.next(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *MMapReader) ReadUint32() uint32 {
	if b := r.next(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *MMapReader) ReadUint64() uint64 {
	if b := r.next(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (r *MMapReader) ReadFloat64() float64 {
	return math.Float64frombits(r.ReadUint64())
}

func (r *MMapReader) ReadBytes(n int) []byte {
	b := make([]byte, n)
	copy(b, r.next(n))
	return b
}

// Err is the first read failure.
func (r *MMapReader) Err() error { return r.err }

// SaveMMap writes h to filename uncompressed through a memory mapping.
func SaveMMap(filename string, h Hull) error {
	hd := h.header()
	size := hd.size()

	file, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if err := file.Truncate(size); err != nil {
		return fmt.Errorf("failed to truncate file: %w", err)
	}

	mmapData, err := mmap.Map(file, mmap.RDWR, 0)
	if err != nil {
		return fmt.Errorf("failed to mmap file: %w", err)
	}
	defer mmapData.Unmap()

	w := NewMMapWriter(mmapData)
	w.WriteBytes(hd.Magic[:])
	w.WriteUint16(hd.Version)
	w.WriteUint16(hd.Flags)
	w.WriteUint32(uint32(hd.Depth))
	w.WriteUint64(uint64(hd.ID))
	w.WriteUint32(hd.NumVertices)
	w.WriteUint32(hd.NumFaces)
	for _, v := range h.Mesh.Vertices {
		w.WriteFloat64(v.X)
		w.WriteFloat64(v.Y)
		w.WriteFloat64(v.Z)
	}
	for _, f := range h.Mesh.Faces {
		w.WriteUint32(f[0])
		w.WriteUint32(f[1])
		w.WriteUint32(f[2])
	}

	if err := mmapData.Flush(); err != nil {
		return fmt.Errorf("failed to flush mapping: %w", err)
	}
	return nil
}

// LoadMMap reads a hull written by SaveMMap.
func LoadMMap(filename string) (Hull, error) {
	file, err := os.Open(filename)
	if err != nil {
		return Hull{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	mmapData, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		return Hull{}, fmt.Errorf("failed to mmap file: %w", err)
	}
	defer mmapData.Unmap()

	r := NewMMapReader(mmapData)
	var hd hullHeader
	copy(hd.Magic[:], r.ReadBytes(4))
	hd.Version = r.ReadUint16()
	hd.Flags = r.ReadUint16()
	hd.Depth = int32(r.ReadUint32())
	hd.ID = int64(r.ReadUint64())
	hd.NumVertices = r.ReadUint32()
	hd.NumFaces = r.ReadUint32()
	if err := r.Err(); err != nil {
		return Hull{}, fmt.Errorf("failed to load %s: %w", filename, err)
	}
	if err := hd.check(); err != nil {
		return Hull{}, fmt.Errorf("failed to load %s: %w", filename, err)
	}
	if hd.size() != int64(len(mmapData)) {
		return Hull{}, fmt.Errorf("failed to load %s: %w: size %d, want %d", filename, errHullFormat, len(mmapData), hd.size())
	}

	m := &Mesh{
		Vertices: make([]r3.Vec, hd.NumVertices),
		Faces:    make([][3]uint32, hd.NumFaces),
	}
	for i := range m.Vertices {
		m.Vertices[i] = r3.Vec{X: r.ReadFloat64(), Y: r.ReadFloat64(), Z: r.ReadFloat64()}
	}
	for i := range m.Faces {
		m.Faces[i] = [3]uint32{r.ReadUint32(), r.ReadUint32(), r.ReadUint32()}
	}
	if err := r.Err(); err != nil {
		return Hull{}, fmt.Errorf("failed to load %s: %w", filename, err)
	}
	if err := m.validate(); err != nil {
		return Hull{}, fmt.Errorf("failed to load %s: %w", filename, err)
	}
	return Hull{Depth: int(hd.Depth), ID: int(hd.ID), Mesh: m}, nil
}
