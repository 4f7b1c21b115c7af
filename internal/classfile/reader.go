package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var errTruncated = errors.New("unexpected end of data")

// byteReader reads big-endian values from an in-memory class file and
// tracks the current position.
type byteReader struct {
	data   []byte
	offset int
}

func newByteReader(data []byte) *byteReader {
	return &byteReader{data: data}
}

func (r *byteReader) remaining() int {
	return len(r.data) - r.offset
}

// readU1 reads a single unsigned byte
func (r *byteReader) readU1() (uint8, error) {
	if r.remaining() < 1 {
		return 0, errTruncated
	}
	b := r.data[r.offset]
	r.offset++
	return b, nil
}

// readU2 reads a 2-byte unsigned integer
func (r *byteReader) readU2() (uint16, error) {
	if r.remaining() < 2 {
		return 0, errTruncated
	}
	v := binary.BigEndian.Uint16(r.data[r.offset:])
	r.offset += 2
	return v, nil
}

// readU4 reads a 4-byte unsigned integer
func (r *byteReader) readU4() (uint32, error) {
	if r.remaining() < 4 {
		return 0, errTruncated
	}
	v := binary.BigEndian.Uint32(r.data[r.offset:])
	r.offset += 4
	return v, nil
}

// readI4 reads a 4-byte signed integer
func (r *byteReader) readI4() (int32, error) {
	v, err := r.readU4()
	return int32(v), err
}

// readBytes returns the next n bytes without copying them.
func (r *byteReader) readBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("invalid length %d", n)
	}
	if r.remaining() < n {
		return nil, errTruncated
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b, nil
}

// skip advances the cursor by n bytes.
func (r *byteReader) skip(n int) error {
	_, err := r.readBytes(n)
	return err
}
