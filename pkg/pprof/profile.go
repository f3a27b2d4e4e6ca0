// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package pprof builds deduplicated binary profiles in the pprof
// protobuf format from a walk of a captured call tree. Strings, source
// locations and functions are interned so that repeated frames share a
// single table entry, and the whole entity graph serializes through
// pkg/wire without any generated protobuf code.
package pprof

import (
	"fmt"
)

// Node is one frame of a captured call tree, as produced by an external
// sampling profiler. Samples receives the ancestor location stack
// (leaf first) and the profile being built, so the node can intern any
// label strings it needs; the returned samples are appended verbatim.
type Node interface {
	FileID() int64
	LineNumber() int64
	ColumnNumber() int64
	Name() string
	Filename() string
	Samples(stack []uint64, p *Profile) []Sample
}

// ValueType describes one column of sample values, e.g. "wall" in
// "microseconds". Both components are string table indices.
type ValueType struct {
	typeX int64
	unitX int64
}

// Label is a key/value annotation on a sample. All string components
// are string table indices; num carries a numeric value in unitX units.
type Label struct {
	keyX  int64
	strX  int64
	num   int64
	unitX int64
}

// NewLabel builds a label from already-interned string indices.
func NewLabel(keyX, strX, num, unitX int64) Label {
	return Label{keyX: keyX, strX: strX, num: num, unitX: unitX}
}

// Mapping describes a loaded binary. Call trees carry no binary mapping
// information, so the profile's mapping collection stays empty; the
// type exists for format completeness.
type Mapping struct {
	id              uint64
	start           uint64
	limit           uint64
	offset          uint64
	fileX           int64
	buildIDX        int64
	hasFunctions    bool
	hasFilenames    bool
	hasLineNumbers  bool
	hasInlineFrames bool
}

// Line is one entry of a location's line list: a function table id plus
// a line number.
type Line struct {
	functionID uint64
	line       int64
}

// Location is a unique call site. Two tree nodes with the same
// (file, line, column, name) share one Location.
type Location struct {
	id        uint64
	mappingID uint64
	address   uint64
	line      []Line
	isFolded  bool
}

// Function is a unique (file, function name) pair.
type Function struct {
	id        uint64
	nameX     int64
	sysNameX  int64
	filenameX int64
	startLine int64
}

// Sample is one stack snapshot: location ids leaf to root, one value
// per declared sample type, and optional labels.
type Sample struct {
	locationID []uint64
	value      []int64
	label      []Label
}

// NewSample copies its arguments, so callers may keep mutating the
// stack they pass in.
func NewSample(locationIDs []uint64, values []int64, labels []Label) Sample {
	s := Sample{
		locationID: make([]uint64, len(locationIDs)),
		value:      make([]int64, len(values)),
	}
	copy(s.locationID, locationIDs)
	copy(s.value, values)
	if len(labels) > 0 {
		s.label = make([]Label, len(labels))
		copy(s.label, labels)
	}
	return s
}

type locationKey struct {
	fileID int64
	line   int64
	column int64
	name   string
}

type functionKey struct {
	fileID int64
	name   string
}

// Options configures a profile. Period must be positive; the remaining
// fields may be zero/empty and are then elided from the output.
type Options struct {
	PeriodType    string // e.g. "wall"
	PeriodUnit    string // e.g. "microseconds"
	Period        int64  // sampling period in PeriodUnit units
	TimeNanos     int64  // capture start, Unix nanos
	DurationNanos int64
	DropFrames    string // frame filter regexp, dropped on display
	KeepFrames    string
}

// Profile accumulates the deduplicated entity tables for one profiling
// session. It is single-threaded: populate it from one goroutine, call
// Serialize once, then discard it.
type Profile struct {
	sampleType []ValueType
	sample     []Sample
	mapping    []Mapping
	location   []Location
	function   []Function
	strings    []string

	stringIDs   map[string]int64
	locationIDs map[locationKey]uint64
	functionIDs map[functionKey]uint64

	dropFramesX   int64
	keepFramesX   int64
	timeNanos     int64
	durationNanos int64
	periodType    ValueType
	period        int64
	commentX      []int64
	defaultTypeX  int64
}

// NewProfile creates an empty profile. The empty string is interned
// first so that index 0 always means "no string".
func NewProfile(opts Options) (*Profile, error) {
	if opts.Period <= 0 {
		return nil, fmt.Errorf("pprof: period must be positive, got %d", opts.Period)
	}
	p := &Profile{
		stringIDs:   make(map[string]int64),
		locationIDs: make(map[locationKey]uint64),
		functionIDs: make(map[functionKey]uint64),
	}
	p.StringID("")
	p.periodType = ValueType{
		typeX: p.StringID(opts.PeriodType),
		unitX: p.StringID(opts.PeriodUnit),
	}
	p.dropFramesX = p.StringID(opts.DropFrames)
	p.keepFramesX = p.StringID(opts.KeepFrames)
	p.period = opts.Period
	p.timeNanos = opts.TimeNanos
	p.durationNanos = opts.DurationNanos
	return p, nil
}

// StringID interns s and returns its string table index. The same
// string always maps to the same index for the life of the profile.
func (p *Profile) StringID(s string) int64 {
	if id, ok := p.stringIDs[s]; ok {
		return id
	}
	id := int64(len(p.strings))
	p.strings = append(p.strings, s)
	p.stringIDs[s] = id
	return id
}

// AddSampleType appends one sample value column. Call order fixes the
// column order every sample's values must follow.
func (p *Profile) AddSampleType(typ, unit string) {
	p.sampleType = append(p.sampleType, ValueType{
		typeX: p.StringID(typ),
		unitX: p.StringID(unit),
	})
}

// AddComment interns s and records it as a profile comment.
func (p *Profile) AddComment(s string) {
	p.commentX = append(p.commentX, p.StringID(s))
}

// AddSample resolves node's location, pushes it onto the front of the
// ancestor stack (leaf first), and appends whatever samples the node
// produces for that stack. Each sample must carry exactly one value per
// declared sample type; a mismatch fails immediately rather than emit a
// malformed profile.
func (p *Profile) AddSample(node Node, stack *[]uint64) error {
	loc := p.locationID(node)
	*stack = append(*stack, 0)
	copy((*stack)[1:], *stack)
	(*stack)[0] = loc

	for _, s := range node.Samples(*stack, p) {
		if len(s.value) != len(p.sampleType) {
			return fmt.Errorf("pprof: sample for %q has %d values, profile declares %d sample types",
				node.Name(), len(s.value), len(p.sampleType))
		}
		p.sample = append(p.sample, s)
	}
	return nil
}

// locationID returns the location id for node, creating the Location
// (and its Function) on first sight of the (file, line, column, name)
// key.
func (p *Profile) locationID(node Node) uint64 {
	key := locationKey{
		fileID: node.FileID(),
		line:   node.LineNumber(),
		column: node.ColumnNumber(),
		name:   node.Name(),
	}
	if id, ok := p.locationIDs[key]; ok {
		return id
	}
	id := uint64(len(p.location)) + 1
	p.location = append(p.location, Location{
		id:   id,
		line: []Line{p.line(node)},
	})
	p.locationIDs[key] = id
	return id
}

func (p *Profile) line(node Node) Line {
	return Line{
		functionID: p.functionID(node),
		line:       node.LineNumber(),
	}
}

// functionID returns the function id for node's (file, name) pair,
// interning the name and filename strings on first sight. The system
// name is always the plain name; nothing here distinguishes mangled
// from demangled forms.
func (p *Profile) functionID(node Node) uint64 {
	name := node.Name()
	key := functionKey{fileID: node.FileID(), name: name}
	if id, ok := p.functionIDs[key]; ok {
		return id
	}
	nameX := p.StringID(name)
	id := uint64(len(p.function)) + 1
	p.function = append(p.function, Function{
		id:        id,
		nameX:     nameX,
		sysNameX:  nameX,
		filenameX: p.StringID(node.Filename()),
		startLine: node.LineNumber(),
	})
	p.functionIDs[key] = id
	return id
}

// SampleCount returns the number of accumulated samples.
func (p *Profile) SampleCount() int { return len(p.sample) }

// LocationCount returns the number of distinct locations.
func (p *Profile) LocationCount() int { return len(p.location) }

// FunctionCount returns the number of distinct functions.
func (p *Profile) FunctionCount() int { return len(p.function) }

// StringTable returns a copy of the interned string table, in index
// order.
func (p *Profile) StringTable() []string {
	out := make([]string, len(p.strings))
	copy(out, p.strings)
	return out
}
