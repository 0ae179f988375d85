// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"encoding/binary"
	"fmt"
)

// The canonical encoding is big-endian with fixed field order and
// fixed-width integers. Variable-length byte strings carry a uint32 length
// prefix. There is exactly one valid encoding for any logical value.

// wireWriter appends canonical fields to a growing buffer. Writes cannot
// fail; the writer only grows.
type wireWriter struct {
	buf []byte
}

func newWireWriter(capacity int) *wireWriter {
	return &wireWriter{buf: make([]byte, 0, capacity)}
}

func (w *wireWriter) U64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

func (w *wireWriter) U32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *wireWriter) Bool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

// Fixed appends raw bytes with no length prefix.
func (w *wireWriter) Fixed(b []byte) {
	w.buf = append(w.buf, b...)
}

// Bytes appends a uint32 length prefix followed by the raw bytes.
func (w *wireWriter) Bytes(b []byte) {
	w.U32(uint32(len(b)))
	w.Fixed(b)
}

func (w *wireWriter) Finish() []byte {
	return w.buf
}

// wireReader consumes canonical fields from a buffer. The first decode
// failure latches; all further reads return zero values. Callers check Err
// once after the final field, mirroring error collection on serial
// operations elsewhere in the codebase.
type wireReader struct {
	buf []byte
	off int

	// Err is the first decode failure, wrapped as a structural error.
	Err error
}

func newWireReader(b []byte) *wireReader {
	return &wireReader{buf: b}
}

func (r *wireReader) fail(what string) {
	if r.Err == nil {
		r.Err = fmt.Errorf("%w: truncated %s at offset %d", ErrStructural, what, r.off)
	}
}

func (r *wireReader) U64() uint64 {
	if r.Err != nil {
		return 0
	}
	if len(r.buf)-r.off < 8 {
		r.fail("uint64")
		return 0
	}
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *wireReader) U32() uint32 {
	if r.Err != nil {
		return 0
	}
	if len(r.buf)-r.off < 4 {
		r.fail("uint32")
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *wireReader) Bool() bool {
	if r.Err != nil {
		return false
	}
	if len(r.buf)-r.off < 1 {
		r.fail("bool")
		return false
	}
	b := r.buf[r.off]
	r.off++
	switch b {
	case 0:
		return false
	case 1:
		return true
	default:
		if r.Err == nil {
			r.Err = fmt.Errorf("%w: invalid bool byte %#x", ErrStructural, b)
		}
		return false
	}
}

// Fixed reads exactly size raw bytes. The returned slice aliases the input
// buffer.
func (r *wireReader) Fixed(size int) []byte {
	if r.Err != nil {
		return nil
	}
	if size < 0 || len(r.buf)-r.off < size {
		r.fail("fixed bytes")
		return nil
	}
	b := r.buf[r.off : r.off+size]
	r.off += size
	return b
}

// Bytes reads a uint32 length prefix and then that many raw bytes, bounded
// by limit.
func (r *wireReader) Bytes(limit uint32) []byte {
	size := r.U32()
	if r.Err != nil {
		return nil
	}
	if size > limit {
		r.Err = fmt.Errorf("%w: length %d exceeds limit %d", ErrStructural, size, limit)
		return nil
	}
	return r.Fixed(int(size))
}

// Done requires that the full input was consumed. Trailing bytes are a
// structural error: they would allow two encodings of one value.
func (r *wireReader) Done() error {
	if r.Err != nil {
		return r.Err
	}
	if r.off != len(r.buf) {
		return fmt.Errorf("%w: %d trailing bytes", ErrStructural, len(r.buf)-r.off)
	}
	return nil
}
