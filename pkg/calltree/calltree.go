// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package calltree ingests captured call-tree profiles (V8 CPU
// profiles and sampling heap profiles) and feeds them into a
// pkg/pprof builder one node at a time.
package calltree

import (
	"sort"

	"github.com/mbeema/treeprof/pkg/pprof"
)

// DefaultMaxDepth caps the ancestor stack during traversal. Captures
// deeper than this have their subtrees truncated rather than risking
// unbounded growth on pathological stacks.
const DefaultMaxDepth = 1024

// Node is one frame of a captured call tree together with its callees.
type Node interface {
	pprof.Node
	Children() []Node
}

// Walk feeds the tree rooted at root into p, parent before children,
// so each node sees a fully built ancestor stack. The traversal is
// iterative; tree depth never translates into goroutine stack depth.
func Walk(p *pprof.Profile, root Node, maxDepth int) error {
	if root == nil {
		return nil
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	type frame struct {
		node  Node
		stack []uint64 // ancestor locations, leaf first, excluding node
		depth int
	}
	work := []frame{{node: root}}

	for len(work) > 0 {
		f := work[len(work)-1]
		work = work[:len(work)-1]

		// Each node gets its own copy of the ancestor stack; siblings
		// must not see each other's pushed locations.
		stack := make([]uint64, len(f.stack), len(f.stack)+1)
		copy(stack, f.stack)
		if err := p.AddSample(f.node, &stack); err != nil {
			return err
		}

		if f.depth+1 >= maxDepth {
			continue
		}
		children := f.node.Children()
		for i := len(children) - 1; i >= 0; i-- {
			work = append(work, frame{node: children[i], stack: stack, depth: f.depth + 1})
		}
	}
	return nil
}

// labelSet is a deterministic key/value list attached to every sample
// of a build.
type labelSet []labelKV

type labelKV struct {
	key   string
	value string
}

// newLabelSet sorts m's keys so label order is stable across builds.
func newLabelSet(m map[string]string) labelSet {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ls := make(labelSet, 0, len(keys))
	for _, k := range keys {
		ls = append(ls, labelKV{key: k, value: m[k]})
	}
	return ls
}

func (ls labelSet) intern(p *pprof.Profile) []pprof.Label {
	if len(ls) == 0 {
		return nil
	}
	labels := make([]pprof.Label, 0, len(ls))
	for _, kv := range ls {
		labels = append(labels, pprof.NewLabel(p.StringID(kv.key), p.StringID(kv.value), 0, 0))
	}
	return labels
}
