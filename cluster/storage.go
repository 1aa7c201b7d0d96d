package cluster

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"gonum.org/v1/gonum/spatial/r3"
)

// Hull file layout, little endian: a hullHeader, NumVertices vertices as
// three float64, then NumFaces faces as three uint32. Raw and compressed
// files share it.
const (
	hullVersion    = 1
	hullHeaderSize = 28
	vertexSize     = 24
	faceSize       = 12
)

var hullMagic = [4]byte{'P', 'C', 'H', 'L'}

var errHullFormat = errors.New("invalid hull file")

type hullHeader struct {
	Magic       [4]byte
	Version     uint16
	Flags       uint16
	Depth       int32
	ID          int64
	NumVertices uint32
	NumFaces    uint32
}

// Hull is the cached geometry of one cluster.
type Hull struct {
	Depth int
	ID    int
	Mesh  *Mesh
}

func (h Hull) header() hullHeader {
	return hullHeader{
		Magic:       hullMagic,
		Version:     hullVersion,
		Depth:       int32(h.Depth),
		ID:          int64(h.ID),
		NumVertices: uint32(len(h.Mesh.Vertices)),
		NumFaces:    uint32(len(h.Mesh.Faces)),
	}
}

func (hd hullHeader) check() error {
	if hd.Magic != hullMagic {
		return fmt.Errorf("%w: bad magic %q", errHullFormat, hd.Magic[:])
	}
	if hd.Version != hullVersion {
		return fmt.Errorf("%w: version %d", errHullFormat, hd.Version)
	}
	return nil
}

func (hd hullHeader) size() int64 {
	return hullHeaderSize + int64(hd.NumVertices)*vertexSize + int64(hd.NumFaces)*faceSize
}

func encodeHull(w io.Writer, h Hull) error {
	if err := binary.Write(w, binary.LittleEndian, h.header()); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, h.Mesh.Vertices); err != nil {
		return fmt.Errorf("failed to write vertices: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, h.Mesh.Faces); err != nil {
		return fmt.Errorf("failed to write faces: %w", err)
	}
	return nil
}

func decodeHull(r io.Reader) (Hull, error) {
	var hd hullHeader
	if err := binary.Read(r, binary.LittleEndian, &hd); err != nil {
		return Hull{}, fmt.Errorf("failed to read header: %w", err)
	}
	if err := hd.check(); err != nil {
		return Hull{}, err
	}
	m := &Mesh{
		Vertices: make([]r3.Vec, hd.NumVertices),
		Faces:    make([][3]uint32, hd.NumFaces),
	}
	if err := binary.Read(r, binary.LittleEndian, m.Vertices); err != nil {
		return Hull{}, fmt.Errorf("failed to read vertices: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, m.Faces); err != nil {
		return Hull{}, fmt.Errorf("failed to read faces: %w", err)
	}
	if err := m.validate(); err != nil {
		return Hull{}, err
	}
	return Hull{Depth: int(hd.Depth), ID: int(hd.ID), Mesh: m}, nil
}

func (m *Mesh) validate() error {
	n := uint32(len(m.Vertices))
	for i, f := range m.Faces {
		if f[0] >= n || f[1] >= n || f[2] >= n {
			return fmt.Errorf("%w: face %d references a missing vertex", errHullFormat, i)
		}
	}
	return nil
}

// SaveCompressed writes h to filename as a zstd stream.
func SaveCompressed(filename string, h Hull) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	bufWriter := bufio.NewWriterSize(file, 1024*1024)
	enc, err := zstd.NewWriter(bufWriter,
		zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	defer enc.Close()

	if err := encodeHull(enc, h); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to close encoder: %w", err)
	}
	if err := bufWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	return file.Close()
}

// LoadCompressed reads a hull written by SaveCompressed.
func LoadCompressed(filename string) (Hull, error) {
	file, err := os.Open(filename)
	if err != nil {
		return Hull{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	dec, err := zstd.NewReader(bufio.NewReaderSize(file, 1024*1024))
	if err != nil {
		return Hull{}, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer dec.Close()

	h, err := decodeHull(dec)
	if err != nil {
		return Hull{}, fmt.Errorf("failed to load %s: %w", filename, err)
	}
	return h, nil
}
