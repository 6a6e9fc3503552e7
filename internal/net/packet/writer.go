package packet

import (
	"encoding/binary"
	"math"
)

// Writer builds a server message. All multi-byte writes are little-endian.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 128)}
}

func NewWriterWithOpcode(opcode byte) *Writer {
	w := NewWriter()
	w.WriteC(opcode)
	return w
}

// WriteC writes 1 byte.
func (w *Writer) WriteC(v byte) {
	w.buf = append(w.buf, v)
}

// WriteBool writes 1 for true, 0 for false.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteC(1)
		return
	}
	w.WriteC(0)
}

// WriteH writes 2 bytes little-endian.
func (w *Writer) WriteH(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

// WriteD writes 4 bytes little-endian.
func (w *Writer) WriteD(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// WriteS writes a uint16 length prefix followed by the ISO-8859-1 encoding of s.
// Strings longer than 65535 encoded bytes are truncated.
func (w *Writer) WriteS(s string) {
	encoded := utf8ToLatin1(s)
	if len(encoded) > math.MaxUint16 {
		encoded = encoded[:math.MaxUint16]
	}
	w.WriteH(uint16(len(encoded)))
	w.buf = append(w.buf, encoded...)
}

// WriteBytes writes raw bytes.
func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// Bytes returns the message content.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the current length.
func (w *Writer) Len() int {
	return len(w.buf)
}
