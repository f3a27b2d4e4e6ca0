// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package pprof

import "github.com/mbeema/treeprof/pkg/wire"

// Field numbers below are fixed by the pprof profile.proto schema and
// must not change; existing decoders depend on them.

func (v ValueType) encode(b *wire.Buffer) {
	b.Int64Opt(1, v.typeX)
	b.Int64Opt(2, v.unitX)
}

func (l Label) encode(b *wire.Buffer) {
	b.Int64Opt(1, l.keyX)
	b.Int64Opt(2, l.strX)
	b.Int64Opt(3, l.num)
	b.Int64Opt(4, l.unitX)
}

func (m Mapping) encode(b *wire.Buffer) {
	b.Uint64Opt(1, m.id)
	b.Uint64Opt(2, m.start)
	b.Uint64Opt(3, m.limit)
	b.Uint64Opt(4, m.offset)
	b.Int64Opt(5, m.fileX)
	b.Int64Opt(6, m.buildIDX)
	b.BoolOpt(7, m.hasFunctions)
	b.BoolOpt(8, m.hasFilenames)
	b.BoolOpt(9, m.hasLineNumbers)
	b.BoolOpt(10, m.hasInlineFrames)
}

func (l Line) encode(b *wire.Buffer) {
	b.Uint64Opt(1, l.functionID)
	b.Int64Opt(2, l.line)
}

func (l Location) encode(b *wire.Buffer) {
	b.Uint64Opt(1, l.id)
	b.Uint64Opt(2, l.mappingID)
	b.Uint64Opt(3, l.address)
	for _, line := range l.line {
		b.Message(4, line.encode)
	}
	b.BoolOpt(5, l.isFolded)
}

func (f Function) encode(b *wire.Buffer) {
	b.Uint64Opt(1, f.id)
	b.Int64Opt(2, f.nameX)
	b.Int64Opt(3, f.sysNameX)
	b.Int64Opt(4, f.filenameX)
	b.Int64Opt(5, f.startLine)
}

func (s Sample) encode(b *wire.Buffer) {
	b.Uint64s(1, s.locationID)
	b.Int64s(2, s.value)
	for _, l := range s.label {
		b.Message(3, l.encode)
	}
}

func (p *Profile) encode(b *wire.Buffer) {
	for _, st := range p.sampleType {
		b.Message(1, st.encode)
	}
	for _, s := range p.sample {
		b.Message(2, s.encode)
	}
	for _, m := range p.mapping {
		b.Message(3, m.encode)
	}
	for _, l := range p.location {
		b.Message(4, l.encode)
	}
	for _, f := range p.function {
		b.Message(5, f.encode)
	}
	b.Strings(6, p.strings)
	b.Int64Opt(7, p.dropFramesX)
	b.Int64Opt(8, p.keepFramesX)
	b.Int64Opt(9, p.timeNanos)
	b.Int64Opt(10, p.durationNanos)
	if p.periodType.typeX != 0 || p.periodType.unitX != 0 {
		b.Message(11, p.periodType.encode)
	}
	b.Int64Opt(12, p.period)
	b.Int64s(13, p.commentX)
	b.Int64(14, p.defaultTypeX)
}

// Serialize encodes the whole profile into a fresh buffer. It does not
// mutate the profile; calling it mid-walk yields a valid snapshot of
// what has been added so far.
func (p *Profile) Serialize() []byte {
	var b wire.Buffer
	p.encode(&b)
	return b.Bytes()
}
