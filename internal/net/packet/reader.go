package packet

import (
	"encoding/binary"
	"errors"
)

// ErrBufferUnderrun is returned by every Reader method that would read or
// skip past the end of the message.
var ErrBufferUnderrun = errors.New("packet: buffer underrun")

// Reader is a bounds-checked cursor over a client message.
// All multi-byte reads are little-endian. A failed read never moves the cursor.
type Reader struct {
	data []byte
	off  int
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// ReadC reads 1 unsigned byte.
func (r *Reader) ReadC() (byte, error) {
	if r.Remaining() < 1 {
		return 0, ErrBufferUnderrun
	}
	v := r.data[r.off]
	r.off++
	return v, nil
}

// ReadH reads 2 bytes as little-endian uint16.
func (r *Reader) ReadH() (uint16, error) {
	if r.Remaining() < 2 {
		return 0, ErrBufferUnderrun
	}
	v := binary.LittleEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v, nil
}

// ReadD reads 4 bytes as little-endian uint32.
func (r *Reader) ReadD() (uint32, error) {
	if r.Remaining() < 4 {
		return 0, ErrBufferUnderrun
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v, nil
}

// ReadS reads a string prefixed by its uint16 LE byte length.
// Bytes are decoded as ISO-8859-1.
func (r *Reader) ReadS() (string, error) {
	if r.Remaining() < 2 {
		return "", ErrBufferUnderrun
	}
	n := int(binary.LittleEndian.Uint16(r.data[r.off:]))
	if r.Remaining()-2 < n {
		return "", ErrBufferUnderrun
	}
	start := r.off + 2
	raw := r.data[start : start+n]
	r.off = start + n
	return latin1ToUTF8(raw), nil
}

// Skip advances the cursor by n bytes without reading them.
// A negative n is treated as malformed input.
func (r *Reader) Skip(n int) error {
	if n < 0 || r.Remaining() < n {
		return ErrBufferUnderrun
	}
	r.off += n
	return nil
}

// Block returns the next n bytes as a mutable view into the message, without
// advancing the cursor. Used for in-place decryption.
func (r *Reader) Block(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, ErrBufferUnderrun
	}
	return r.data[r.off : r.off+n], nil
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

// Pos returns the cursor offset from the start of the message.
func (r *Reader) Pos() int {
	return r.off
}

// Len returns the total message length.
func (r *Reader) Len() int {
	return len(r.data)
}
