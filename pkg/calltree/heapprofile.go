// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package calltree

import (
	"encoding/json"
	"fmt"

	"github.com/mbeema/treeprof/pkg/pprof"
)

// DefaultHeapIntervalBytes is V8's default sampling heap profiler
// interval.
const DefaultHeapIntervalBytes = 512 * 1024

// HeapProfile is a parsed sampling heap profile: a call tree where
// each node carries the allocation size buckets sampled at that frame.
type HeapProfile struct {
	Root *HeapNode

	// build state, valid only during Build
	labels labelSet
}

// Allocation is one sampled size bucket: count live objects of
// sizeBytes each.
type Allocation struct {
	SizeBytes int64 `json:"sizeBytes"`
	Count     int64 `json:"count"`
}

// HeapNode is one frame of a heap profile call tree.
type HeapNode struct {
	prof        *HeapProfile
	name        string
	scriptName  string
	scriptID    int64
	line        int64
	column      int64
	allocations []Allocation
	children    []*HeapNode
}

func (n *HeapNode) FileID() int64       { return n.scriptID }
func (n *HeapNode) LineNumber() int64   { return n.line }
func (n *HeapNode) ColumnNumber() int64 { return n.column }
func (n *HeapNode) Name() string        { return n.name }
func (n *HeapNode) Filename() string    { return n.scriptName }

func (n *HeapNode) Children() []Node {
	out := make([]Node, len(n.children))
	for i, c := range n.children {
		out[i] = c
	}
	return out
}

// Samples reports one sample per allocation bucket: the object count
// and the total bytes those objects occupy.
func (n *HeapNode) Samples(stack []uint64, p *pprof.Profile) []pprof.Sample {
	if len(n.allocations) == 0 {
		return nil
	}
	labels := n.prof.labels.intern(p)
	samples := make([]pprof.Sample, 0, len(n.allocations))
	for _, a := range n.allocations {
		values := []int64{a.Count, a.Count * a.SizeBytes}
		samples = append(samples, pprof.NewSample(stack, values, labels))
	}
	return samples
}

type heapNodeJSON struct {
	Name         string         `json:"name"`
	ScriptName   string         `json:"scriptName"`
	ScriptID     scriptID       `json:"scriptId"`
	LineNumber   int64          `json:"lineNumber"`
	ColumnNumber int64          `json:"columnNumber"`
	Allocations  []Allocation   `json:"allocations"`
	Children     []heapNodeJSON `json:"children"`
}

// ParseHeapProfile decodes the nested JSON form of a sampling heap
// profile (the allocation-profile tree as the profiler reports it,
// positions already one-based).
func ParseHeapProfile(data []byte) (*HeapProfile, error) {
	var raw heapNodeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse heapprofile: %w", err)
	}
	hp := &HeapProfile{}
	hp.Root = buildHeapNode(hp, &raw)
	return hp, nil
}

func buildHeapNode(hp *HeapProfile, raw *heapNodeJSON) *HeapNode {
	name := raw.Name
	if name == "" {
		name = "(anonymous)"
	}
	n := &HeapNode{
		prof:        hp,
		name:        name,
		scriptName:  raw.ScriptName,
		scriptID:    int64(raw.ScriptID),
		line:        raw.LineNumber,
		column:      raw.ColumnNumber,
		allocations: raw.Allocations,
	}
	for i := range raw.Children {
		n.children = append(n.children, buildHeapNode(hp, &raw.Children[i]))
	}
	return n
}

// HeapBuildOptions configures conversion of a heap profile.
type HeapBuildOptions struct {
	IntervalBytes int64 // sampling interval; 0 means DefaultHeapIntervalBytes
	TimeNanos     int64
	MaxDepth      int
	Labels        map[string]string
	DropFrames    string
	KeepFrames    string
}

// Build converts the parsed heap profile into a deduplicated binary
// profile builder.
func (hp *HeapProfile) Build(opts HeapBuildOptions) (*pprof.Profile, error) {
	interval := opts.IntervalBytes
	if interval <= 0 {
		interval = DefaultHeapIntervalBytes
	}
	p, err := pprof.NewProfile(pprof.Options{
		PeriodType: "space",
		PeriodUnit: "bytes",
		Period:     interval,
		TimeNanos:  opts.TimeNanos,
		DropFrames: opts.DropFrames,
		KeepFrames: opts.KeepFrames,
	})
	if err != nil {
		return nil, err
	}
	p.AddSampleType("objects", "count")
	p.AddSampleType("space", "bytes")

	hp.labels = newLabelSet(opts.Labels)
	defer func() { hp.labels = nil }()

	if err := Walk(p, hp.Root, opts.MaxDepth); err != nil {
		return nil, err
	}
	return p, nil
}
