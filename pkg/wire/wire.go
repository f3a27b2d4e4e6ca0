// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package wire implements the subset of the protocol buffer wire format
// needed to emit pprof profiles: varints, tagged scalar fields with
// proto3 zero-elision, packed repeated scalars, and length-delimited
// nested messages.
package wire

// Wire types per the protocol buffer encoding spec.
const (
	wireVarint = 0
	wireBytes  = 2
)

// Buffer accumulates encoded fields. The zero value is ready to use.
type Buffer struct {
	data []byte
}

// Bytes returns the encoded contents. The returned slice aliases the
// buffer's storage; callers that keep writing must copy it first.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the number of encoded bytes.
func (b *Buffer) Len() int { return len(b.data) }

// Varint appends v in base-128 little-endian groups, continuation bit
// set on all but the last byte.
func (b *Buffer) Varint(v uint64) {
	for v >= 0x80 {
		b.data = append(b.data, byte(v)|0x80)
		v >>= 7
	}
	b.data = append(b.data, byte(v))
}

func (b *Buffer) tag(field int, wt int) {
	b.Varint(uint64(field)<<3 | uint64(wt))
}

// Int64 writes tag + value unconditionally, even when v == 0. Only the
// profile's defaultSampleType field needs this.
func (b *Buffer) Int64(field int, v int64) {
	b.tag(field, wireVarint)
	// Negative values keep the two's-complement bit pattern; no zig-zag.
	b.Varint(uint64(v))
}

// Int64Opt writes tag + value unless v == 0, per proto3 defaulting: an
// omitted field decodes to zero, so the two encodings are equivalent.
func (b *Buffer) Int64Opt(field int, v int64) {
	if v == 0 {
		return
	}
	b.Int64(field, v)
}

// Uint64Opt writes tag + value unless v == 0.
func (b *Buffer) Uint64Opt(field int, v uint64) {
	if v == 0 {
		return
	}
	b.tag(field, wireVarint)
	b.Varint(v)
}

// BoolOpt writes tag + varint(1) only when v is true.
func (b *Buffer) BoolOpt(field int, v bool) {
	if !v {
		return
	}
	b.tag(field, wireVarint)
	b.Varint(1)
}

// Int64s writes a packed repeated field: one tag, a byte length, then
// each element varint-encoded back to back. An empty slice writes
// nothing at all.
func (b *Buffer) Int64s(field int, vs []int64) {
	if len(vs) == 0 {
		return
	}
	var packed Buffer
	for _, v := range vs {
		packed.Varint(uint64(v))
	}
	b.bytesField(field, packed.data)
}

// Uint64s is Int64s for unsigned elements.
func (b *Buffer) Uint64s(field int, vs []uint64) {
	if len(vs) == 0 {
		return
	}
	var packed Buffer
	for _, v := range vs {
		packed.Varint(v)
	}
	b.bytesField(field, packed.data)
}

// Message serializes a nested message by running enc against a scratch
// buffer, then writes tag + length + the scratch bytes. Repeated
// message fields call Message once per element with the same field
// number.
func (b *Buffer) Message(field int, enc func(*Buffer)) {
	var nested Buffer
	enc(&nested)
	b.bytesField(field, nested.data)
}

// Strings writes each string as its own length-delimited field, in
// order, reusing the field number (repeated string convention).
func (b *Buffer) Strings(field int, ss []string) {
	for _, s := range ss {
		b.tag(field, wireBytes)
		b.Varint(uint64(len(s)))
		b.data = append(b.data, s...)
	}
}

func (b *Buffer) bytesField(field int, p []byte) {
	b.tag(field, wireBytes)
	b.Varint(uint64(len(p)))
	b.data = append(b.data, p...)
}
