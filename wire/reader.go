package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortBuffer is returned when a read runs past the end of the data.
var ErrShortBuffer = errors.New("not enough data")

// MaxStringLen bounds decoded strings so a corrupt length cannot force a huge allocation.
const MaxStringLen = 64 * 1024

// Reader reads values written by Writer.
type Reader struct {
	data []byte
	pos  int
}

// NewReader creates a reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{
		data: data,
		pos:  0,
	}
}

// ReadUint8 reads a single byte.
func (r *Reader) ReadUint8() (uint8, error) {
	if r.pos >= len(r.data) {
		return 0, fmt.Errorf("ReadUint8: %w (pos=%d, len=%d)", ErrShortBuffer, r.pos, len(r.data))
	}
	var b = r.data[r.pos]
	r.pos++
	return b, nil
}

// ReadUint32 reads a uint32 (4 bytes, BE).
func (r *Reader) ReadUint32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, fmt.Errorf("ReadUint32: %w (pos=%d, len=%d)", ErrShortBuffer, r.pos, len(r.data))
	}
	var val = binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return val, nil
}

// ReadBool reads a uint32 and reports whether it is non-zero.
func (r *Reader) ReadBool() (bool, error) {
	var val, err = r.ReadUint32()
	if err != nil {
		return false, err
	}
	return val != 0, nil
}

// ReadString reads a uint32 length-prefixed string.
func (r *Reader) ReadString() (string, error) {
	var n, err = r.ReadUint32()
	if err != nil {
		return "", fmt.Errorf("ReadString: %w", err)
	}
	if n > MaxStringLen {
		return "", fmt.Errorf("ReadString: length %d exceeds limit %d", n, MaxStringLen)
	}
	if r.pos+int(n) > len(r.data) {
		return "", fmt.Errorf("ReadString: %w (pos=%d, need=%d, len=%d)", ErrShortBuffer, r.pos, n, len(r.data))
	}
	var s = string(r.data[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}
