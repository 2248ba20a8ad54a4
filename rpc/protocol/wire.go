package protocol

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// --------------------------------------------------------------------------
// Writer
// --------------------------------------------------------------------------

// wireWriter appends big endian values to a byte slice
type wireWriter struct {
	buf []byte
}

func (w *wireWriter) uint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *wireWriter) uint16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *wireWriter) uint32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *wireWriter) uint64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

func (w *wireWriter) int64(v int64) {
	w.uint64(uint64(v))
}

// string writes an int16 length followed by the string bytes
func (w *wireWriter) string(s string) {
	w.uint16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// blob writes an int32 length followed by the bytes
func (w *wireWriter) blob(b []byte) {
	w.uint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// raw writes the bytes without a length prefix
func (w *wireWriter) raw(b []byte) {
	w.buf = append(w.buf, b...)
}

// stringMap writes an int32 count followed by key/value string pairs.
// Keys are written in sorted order so that encoding is deterministic.
func (w *wireWriter) stringMap(m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w.uint32(uint32(len(keys)))
	for _, k := range keys {
		w.string(k)
		w.string(m[k])
	}
}

// --------------------------------------------------------------------------
// Size helpers
// --------------------------------------------------------------------------

func sizeString(s string) int {
	return 2 + len(s)
}

func sizeBlob(b []byte) int {
	return 4 + len(b)
}

func sizeStringMap(m map[string]string) int {
	size := 4
	for k, v := range m {
		size += sizeString(k) + sizeString(v)
	}
	return size
}

// --------------------------------------------------------------------------
// Reader
// --------------------------------------------------------------------------

// wireReader reads big endian values from a byte slice.
// The first failed read stores an error; all following reads return zero values.
type wireReader struct {
	data []byte
	pos  int
	err  error
}

// need checks that n more bytes are available for the named field
func (r *wireReader) need(n int, field string) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || len(r.data)-r.pos < n {
		r.err = fmt.Errorf("%w: data too short for %s (need %d, have %d)", ErrTruncatedFrame, field, n, len(r.data)-r.pos)
		return false
	}
	return true
}

// remaining returns the number of unread bytes
func (r *wireReader) remaining() int {
	return len(r.data) - r.pos
}

func (r *wireReader) uint8(field string) uint8 {
	if !r.need(1, field) {
		return 0
	}
	v := r.data[r.pos]
	r.pos++
	return v
}

func (r *wireReader) uint16(field string) uint16 {
	if !r.need(2, field) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}

func (r *wireReader) uint32(field string) uint32 {
	if !r.need(4, field) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *wireReader) uint64(field string) uint64 {
	if !r.need(8, field) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v
}

func (r *wireReader) int64(field string) int64 {
	return int64(r.uint64(field))
}

// view returns the next n bytes without copying them
func (r *wireReader) view(n int, field string) []byte {
	if !r.need(n, field) {
		return nil
	}
	v := r.data[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return v
}

// skip advances the read position by n bytes
func (r *wireReader) skip(n int, field string) {
	if r.need(n, field) {
		r.pos += n
	}
}

// string reads an int16 length prefixed string. A negative length denotes an empty string.
func (r *wireReader) string(field string) string {
	n := int16(r.uint16(field + " length"))
	if n <= 0 {
		return ""
	}
	return string(r.view(int(n), field))
}

// blob reads an int32 length prefixed byte slice and copies it
func (r *wireReader) blob(field string) []byte {
	n := int32(r.uint32(field + " length"))
	if r.err != nil {
		return nil
	}
	if n < 0 {
		return nil
	}
	v := r.view(int(n), field)
	if v == nil {
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

// stringMap reads an int32 count followed by key/value string pairs
func (r *wireReader) stringMap(field string) map[string]string {
	n := int32(r.uint32(field + " count"))
	if r.err != nil {
		return nil
	}
	if n < 0 || int(n) > r.remaining()/4 {
		r.need(int(n)*4, field)
		return nil
	}
	m := make(map[string]string, n)
	for i := int32(0); i < n && r.err == nil; i++ {
		k := r.string(field + " key")
		v := r.string(field + " value")
		m[k] = v
	}
	return m
}
