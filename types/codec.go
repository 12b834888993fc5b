package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Writer accumulates the canonical big-endian, length-prefixed byte layout
// mandated for wire compatibility: every integer is big-endian, every
// variable-length list is prefixed with a u32 count, field order matches
// declaration order.
type Writer struct {
	buf bytes.Buffer
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

func (w *Writer) PutU8(v uint8)   { w.buf.WriteByte(v) }
func (w *Writer) PutU16(v uint16) { var b [2]byte; binary.BigEndian.PutUint16(b[:], v); w.buf.Write(b[:]) }
func (w *Writer) PutU32(v uint32) { var b [4]byte; binary.BigEndian.PutUint32(b[:], v); w.buf.Write(b[:]) }
func (w *Writer) PutU64(v uint64) { var b [8]byte; binary.BigEndian.PutUint64(b[:], v); w.buf.Write(b[:]) }
func (w *Writer) PutI64(v int64)  { w.PutU64(uint64(v)) }
func (w *Writer) PutRaw(b []byte) { w.buf.Write(b) }

func (w *Writer) PutHash(h Hash)             { w.buf.Write(h[:]) }
func (w *Writer) PutIdentifier(id Identifier) { w.buf.Write(id[:]) }
func (w *Writer) PutSignature(s Signature)    { w.buf.Write(s[:]) }
func (w *Writer) PutAmount(a Amount)          { w.PutI64(int64(a)) }
func (w *Writer) PutTimestamp(t Timestamp)    { w.PutI64(int64(t)) }

// PutBlob writes a u32-length-prefixed variable byte blob (e.g. sender_data).
func (w *Writer) PutBlob(b []byte) {
	w.PutU32(uint32(len(b)))
	w.buf.Write(b)
}

// Reader walks a byte slice emitting the same typed fields Writer wrote.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(b []byte) *Reader { return &Reader{buf: b} }

func (r *Reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return fmt.Errorf("types: short buffer, need %d more bytes at offset %d (len %d)", n, r.pos, len(r.buf))
	}
	return nil
}

func (r *Reader) GetU8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) GetU16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) GetU32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) GetU64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *Reader) GetI64() (int64, error) {
	v, err := r.GetU64()
	return int64(v), err
}

func (r *Reader) GetRaw(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	v := r.buf[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

func (r *Reader) GetHash() (Hash, error) {
	var h Hash
	b, err := r.GetRaw(len(h))
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

func (r *Reader) GetIdentifier() (Identifier, error) {
	var id Identifier
	b, err := r.GetRaw(len(id))
	if err != nil {
		return id, err
	}
	copy(id[:], b)
	return id, nil
}

func (r *Reader) GetSignature() (Signature, error) {
	var s Signature
	b, err := r.GetRaw(len(s))
	if err != nil {
		return s, err
	}
	copy(s[:], b)
	return s, nil
}

func (r *Reader) GetAmount() (Amount, error) {
	v, err := r.GetI64()
	return Amount(v), err
}

func (r *Reader) GetTimestamp() (Timestamp, error) {
	v, err := r.GetI64()
	return Timestamp(v), err
}

func (r *Reader) GetBlob() ([]byte, error) {
	n, err := r.GetU32()
	if err != nil {
		return nil, err
	}
	return r.GetRaw(int(n))
}

// Remaining reports unread trailing bytes; a nonzero count after a full
// decode indicates trailing garbage the caller should reject.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }
