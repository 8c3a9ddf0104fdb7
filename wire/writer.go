// Package wire implements the big-endian encoding used for session events:
// fixed-width unsigned integers and uint32 length-prefixed strings.
package wire

import (
	"bytes"
	"encoding/binary"
)

// Writer appends encoded values to an in-memory buffer.
type Writer struct {
	buf *bytes.Buffer
}

// NewWriter creates a writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{
		buf: bytes.NewBuffer(make([]byte, 0, capacity)),
	}
}

// WriteUint8 writes a single byte.
func (w *Writer) WriteUint8(val uint8) {
	w.buf.WriteByte(val)
}

// WriteUint32 writes a uint32 (4 bytes, BE).
func (w *Writer) WriteUint32(val uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], val)
	w.buf.Write(b[:])
}

// WriteBool writes a bool as a uint32 0/1.
func (w *Writer) WriteBool(val bool) {
	if val {
		w.WriteUint32(1)
		return
	}
	w.WriteUint32(0)
}

// WriteString writes the byte length as uint32 followed by the raw bytes.
func (w *Writer) WriteString(s string) {
	w.WriteUint32(uint32(len(s)))
	w.buf.WriteString(s)
}

// Bytes returns the encoded data.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return w.buf.Len()
}
