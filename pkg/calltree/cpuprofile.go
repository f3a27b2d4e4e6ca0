// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package calltree

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mbeema/treeprof/pkg/pprof"
)

// DefaultPeriodMicros is V8's default CPU sampling interval.
const DefaultPeriodMicros = 1000

// TimeProfile is a parsed V8 CPU profile (.cpuprofile): a call tree
// where each node carries the number of sampling ticks that landed on
// it.
type TimeProfile struct {
	Root            *TimeNode
	StartTimeMicros int64
	EndTimeMicros   int64

	timeDeltas []int64

	// build state, valid only during Build
	periodMicros int64
	labels       labelSet
}

// TimeNode is one frame of a CPU profile call tree.
type TimeNode struct {
	prof     *TimeProfile
	name     string
	scriptID int64
	url      string
	line     int64
	column   int64
	hitCount int64
	children []*TimeNode
}

func (n *TimeNode) FileID() int64       { return n.scriptID }
func (n *TimeNode) LineNumber() int64   { return n.line }
func (n *TimeNode) ColumnNumber() int64 { return n.column }
func (n *TimeNode) Name() string        { return n.name }
func (n *TimeNode) Filename() string    { return n.url }

func (n *TimeNode) Children() []Node {
	out := make([]Node, len(n.children))
	for i, c := range n.children {
		out[i] = c
	}
	return out
}

// Samples reports one sample per ticked node: the tick count plus the
// wall time those ticks represent at the profile's sampling period.
func (n *TimeNode) Samples(stack []uint64, p *pprof.Profile) []pprof.Sample {
	if n.hitCount == 0 {
		return nil
	}
	values := []int64{n.hitCount, n.hitCount * n.prof.periodMicros}
	return []pprof.Sample{pprof.NewSample(stack, values, n.prof.labels.intern(p))}
}

// scriptID tolerates the JSON encodings in the wild: Node.js writes
// numbers, Chrome DevTools writes strings, and native frames may carry
// null.
type scriptID int64

func (s *scriptID) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*s = 0
		return nil
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("scriptId %q: %w", data, err)
	}
	*s = scriptID(v)
	return nil
}

type v8CallFrame struct {
	FunctionName string   `json:"functionName"`
	ScriptID     scriptID `json:"scriptId"`
	URL          string   `json:"url"`
	LineNumber   int64    `json:"lineNumber"`
	ColumnNumber int64    `json:"columnNumber"`
}

type v8Node struct {
	ID        int         `json:"id"`
	CallFrame v8CallFrame `json:"callFrame"`
	HitCount  int64       `json:"hitCount"`
	Children  []int       `json:"children"`
}

type v8Profile struct {
	Nodes      []v8Node `json:"nodes"`
	StartTime  int64    `json:"startTime"` // microseconds
	EndTime    int64    `json:"endTime"`
	TimeDeltas []int64  `json:"timeDeltas"`
}

// ParseCPUProfile decodes a flat-format .cpuprofile document into a
// call tree. The first node that no other node lists as a child is the
// root.
func ParseCPUProfile(data []byte) (*TimeProfile, error) {
	var raw v8Profile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse cpuprofile: %w", err)
	}
	if len(raw.Nodes) == 0 {
		return nil, fmt.Errorf("parse cpuprofile: no nodes")
	}

	tp := &TimeProfile{
		StartTimeMicros: raw.StartTime,
		EndTimeMicros:   raw.EndTime,
		timeDeltas:      raw.TimeDeltas,
	}

	nodes := make(map[int]*TimeNode, len(raw.Nodes))
	referenced := make(map[int]bool)
	for _, rn := range raw.Nodes {
		if _, dup := nodes[rn.ID]; dup {
			return nil, fmt.Errorf("parse cpuprofile: duplicate node id %d", rn.ID)
		}
		name := rn.CallFrame.FunctionName
		if name == "" {
			name = "(anonymous)"
		}
		nodes[rn.ID] = &TimeNode{
			prof:     tp,
			name:     name,
			scriptID: int64(rn.CallFrame.ScriptID),
			url:      rn.CallFrame.URL,
			// callFrame positions are zero-based, -1 when unknown.
			line:     rn.CallFrame.LineNumber + 1,
			column:   rn.CallFrame.ColumnNumber + 1,
			hitCount: rn.HitCount,
		}
	}
	for _, rn := range raw.Nodes {
		parent := nodes[rn.ID]
		for _, cid := range rn.Children {
			child, ok := nodes[cid]
			if !ok {
				return nil, fmt.Errorf("parse cpuprofile: node %d references missing child %d", rn.ID, cid)
			}
			if referenced[cid] {
				return nil, fmt.Errorf("parse cpuprofile: node %d has two parents", cid)
			}
			referenced[cid] = true
			parent.children = append(parent.children, child)
		}
	}
	for _, rn := range raw.Nodes {
		if !referenced[rn.ID] {
			tp.Root = nodes[rn.ID]
			break
		}
	}
	if tp.Root == nil {
		return nil, fmt.Errorf("parse cpuprofile: no root node")
	}
	return tp, nil
}

// PeriodMicros estimates the sampling interval from the recorded
// sample deltas, falling back to V8's default when none were recorded.
func (tp *TimeProfile) PeriodMicros() int64 {
	if len(tp.timeDeltas) == 0 {
		return DefaultPeriodMicros
	}
	var total int64
	for _, d := range tp.timeDeltas {
		total += d
	}
	avg := total / int64(len(tp.timeDeltas))
	if avg <= 0 {
		return DefaultPeriodMicros
	}
	return avg
}

// BuildOptions configures conversion of a parsed tree into a profile.
type BuildOptions struct {
	PeriodMicros int64             // sampling interval; 0 means estimate from the capture
	TimeNanos    int64             // capture start as Unix nanos; 0 elides the field
	MaxDepth     int               // 0 means DefaultMaxDepth
	Labels       map[string]string // attached to every sample
	DropFrames   string            // regexp over frame names, recorded in the profile
	KeepFrames   string
}

// Build converts the parsed CPU profile into a deduplicated binary
// profile builder, ready to serialize.
func (tp *TimeProfile) Build(opts BuildOptions) (*pprof.Profile, error) {
	period := opts.PeriodMicros
	if period <= 0 {
		period = tp.PeriodMicros()
	}
	p, err := pprof.NewProfile(pprof.Options{
		PeriodType:    "wall",
		PeriodUnit:    "microseconds",
		Period:        period,
		TimeNanos:     opts.TimeNanos,
		DurationNanos: (tp.EndTimeMicros - tp.StartTimeMicros) * 1000,
		DropFrames:    opts.DropFrames,
		KeepFrames:    opts.KeepFrames,
	})
	if err != nil {
		return nil, err
	}
	p.AddSampleType("sample", "count")
	p.AddSampleType("wall", "microseconds")

	tp.periodMicros = period
	tp.labels = newLabelSet(opts.Labels)
	defer func() {
		tp.periodMicros = 0
		tp.labels = nil
	}()

	if err := Walk(p, tp.Root, opts.MaxDepth); err != nil {
		return nil, err
	}
	return p, nil
}
