package classfile

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"fortio.org/safecast"
)

// byteWriter accumulates big-endian class file data.
type byteWriter struct {
	buf bytes.Buffer
}

func (w *byteWriter) u1(v uint8) {
	w.buf.WriteByte(v)
}

func (w *byteWriter) u2(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *byteWriter) u4(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *byteWriter) raw(b []byte) {
	w.buf.Write(b)
}

// count writes n as a u2 table length.
func (w *byteWriter) count(n int, what string) error {
	v, err := safecast.Conv[uint16](n)
	if err != nil {
		return fmt.Errorf("too many %s (%d): %w", what, n, err)
	}
	w.u2(v)
	return nil
}

// length writes n as a u4 byte length.
func (w *byteWriter) length(n int) error {
	v, err := safecast.Conv[uint32](n)
	if err != nil {
		return fmt.Errorf("length %d out of range: %w", n, err)
	}
	w.u4(v)
	return nil
}

func (w *byteWriter) bytes() []byte {
	return w.buf.Bytes()
}
