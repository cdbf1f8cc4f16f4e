// Package serialize implements the canonical byte encoding shared by every
// stored record and key. Integers use either fixed-width little-endian or a
// most-significant-bit continuation varint, variable fields carry a
// compact-size length prefix, and there is no padding, so two nodes encoding
// the same record always produce identical bytes.
package serialize

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrCodec marks malformed stored bytes. It indicates storage corruption and
// the enclosing operation must abort rather than return a partial result.
var ErrCodec = errors.New("serialize: malformed data")

func corrupt(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrCodec)...)
}

// InvertHeight encodes a block height so that ascending byte order over the
// encoded form corresponds to descending numeric order over heights. Stored
// big-endian by WriteUint32BE.
func InvertHeight(height uint32) uint32 {
	return ^height
}

// A Writer accumulates the canonical encoding of a record. Writes never fail;
// call Bytes once the record is complete.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) WriteRaw(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *Writer) WriteUint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) WriteUint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// WriteUint32BE is used for key fields whose byte order must match their
// numeric order, such as inverted activation heights.
func (w *Writer) WriteUint32BE(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *Writer) WriteUint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) WriteInt64(v int64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, uint64(v))
}

// WriteVarUint encodes a non-negative integer in base-128 groups, most
// significant group first. Every byte except the last has its high bit set
// and each non-final group is offset by one, which makes the encoding
// bijective: every value has exactly one representation.
func (w *Writer) WriteVarUint(v uint64) {
	var tmp [10]byte
	n := 0
	for {
		tmp[n] = byte(v & 0x7F)
		if n > 0 {
			tmp[n] |= 0x80
		}
		if v <= 0x7F {
			break
		}
		v = (v >> 7) - 1
		n++
	}
	for ; n >= 0; n-- {
		w.buf = append(w.buf, tmp[n])
	}
}

// WriteCompactSize writes the 1/3/5/9-byte length prefix used for strings,
// byte vectors and element counts.
func (w *Writer) WriteCompactSize(n uint64) {
	switch {
	case n < 0xFD:
		w.buf = append(w.buf, byte(n))
	case n <= 0xFFFF:
		w.buf = append(w.buf, 0xFD)
		w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(n))
	case n <= 0xFFFFFFFF:
		w.buf = append(w.buf, 0xFE)
		w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(n))
	default:
		w.buf = append(w.buf, 0xFF)
		w.buf = binary.LittleEndian.AppendUint64(w.buf, n)
	}
}

func (w *Writer) WriteBytes(b []byte) {
	w.WriteCompactSize(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *Writer) WriteString(s string) {
	w.WriteCompactSize(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

// A Reader decodes a record from its canonical encoding. Every method
// returns an error wrapping ErrCodec when the input is truncated or not in
// canonical form.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Remaining reports the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

// Done returns an error unless the whole input was consumed. Record decoders
// call it last so trailing garbage is rejected.
func (r *Reader) Done() error {
	if r.pos != len(r.buf) {
		return corrupt("serialize: %d trailing bytes", len(r.buf)-r.pos)
	}
	return nil
}

func (r *Reader) take(n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, corrupt("serialize: need %d bytes, have %d", n, r.Remaining())
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadRaw consumes exactly n bytes with no length prefix, for fixed-width
// fields such as transaction ids. The returned slice aliases the input.
func (r *Reader) ReadRaw(n int) ([]byte, error) {
	return r.take(n)
}

func (r *Reader) ReadUint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadUint8()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, corrupt("serialize: bool byte 0x%02x", v)
	}
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) ReadUint32BE() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

func (r *Reader) ReadVarUint() (uint64, error) {
	var n uint64
	for i := 0; ; i++ {
		if i == 10 {
			return 0, corrupt("serialize: varint longer than 10 bytes")
		}
		ch, err := r.ReadUint8()
		if err != nil {
			return 0, err
		}
		if n > (^uint64(0))>>7 {
			return 0, corrupt("serialize: varint overflows uint64")
		}
		n = n<<7 | uint64(ch&0x7F)
		if ch&0x80 == 0 {
			return n, nil
		}
		if n == ^uint64(0) {
			return 0, corrupt("serialize: varint overflows uint64")
		}
		n++
	}
}

func (r *Reader) ReadCompactSize() (uint64, error) {
	tag, err := r.ReadUint8()
	if err != nil {
		return 0, err
	}
	switch tag {
	case 0xFD:
		b, err := r.take(2)
		if err != nil {
			return 0, err
		}
		n := uint64(binary.LittleEndian.Uint16(b))
		if n < 0xFD {
			return 0, corrupt("serialize: non-canonical compact size %d", n)
		}
		return n, nil
	case 0xFE:
		b, err := r.take(4)
		if err != nil {
			return 0, err
		}
		n := uint64(binary.LittleEndian.Uint32(b))
		if n <= 0xFFFF {
			return 0, corrupt("serialize: non-canonical compact size %d", n)
		}
		return n, nil
	case 0xFF:
		b, err := r.take(8)
		if err != nil {
			return 0, err
		}
		n := binary.LittleEndian.Uint64(b)
		if n <= 0xFFFFFFFF {
			return 0, corrupt("serialize: non-canonical compact size %d", n)
		}
		return n, nil
	default:
		return uint64(tag), nil
	}
}

func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadCompactSize()
	if err != nil {
		return nil, err
	}
	if n > uint64(r.Remaining()) {
		return nil, corrupt("serialize: length %d exceeds %d remaining bytes", n, r.Remaining())
	}
	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
