package pprof

import (
	"fmt"
	"testing"

	pprofile "github.com/google/pprof/profile"
)

// testNode is a minimal call-tree frame for exercising the builder.
type testNode struct {
	fileID     int64
	line, col  int64
	name, file string
	values     []int64
	labels     map[string]string
}

func (n *testNode) FileID() int64       { return n.fileID }
func (n *testNode) LineNumber() int64   { return n.line }
func (n *testNode) ColumnNumber() int64 { return n.col }
func (n *testNode) Name() string        { return n.name }
func (n *testNode) Filename() string    { return n.file }

func (n *testNode) Samples(stack []uint64, p *Profile) []Sample {
	if n.values == nil {
		return nil
	}
	var labels []Label
	for k, v := range n.labels {
		labels = append(labels, NewLabel(p.StringID(k), p.StringID(v), 0, 0))
	}
	return []Sample{NewSample(stack, n.values, labels)}
}

func newTestProfile(t *testing.T, opts Options) *Profile {
	t.Helper()
	p, err := NewProfile(opts)
	if err != nil {
		t.Fatalf("NewProfile: %v", err)
	}
	return p
}

func TestNewProfileRejectsNonPositivePeriod(t *testing.T) {
	for _, period := range []int64{0, -5} {
		if _, err := NewProfile(Options{Period: period}); err == nil {
			t.Errorf("NewProfile with period %d did not fail", period)
		}
	}
}

func TestStringInterningIdempotent(t *testing.T) {
	p := newTestProfile(t, Options{Period: 1})

	if id := p.StringID(""); id != 0 {
		t.Fatalf("StringID(\"\") = %d, want 0", id)
	}
	a := p.StringID("alpha")
	b := p.StringID("beta")
	if a == b {
		t.Fatal("distinct strings share an id")
	}
	if got := p.StringID("alpha"); got != a {
		t.Errorf("second StringID(\"alpha\") = %d, want %d", got, a)
	}
	if got := p.StringID("beta"); got != b {
		t.Errorf("second StringID(\"beta\") = %d, want %d", got, b)
	}
}

func TestStringIDsDense(t *testing.T) {
	p := newTestProfile(t, Options{Period: 1})
	base := int64(len(p.StringTable()))
	for i := 0; i < 100; i++ {
		s := fmt.Sprintf("s%d", i)
		if got := p.StringID(s); got != base+int64(i) {
			t.Fatalf("StringID(%q) = %d, want %d", s, got, base+int64(i))
		}
	}
}

func TestLocationAndFunctionDedup(t *testing.T) {
	p := newTestProfile(t, Options{Period: 1})
	p.AddSampleType("samples", "count")

	a := &testNode{fileID: 1, line: 10, col: 2, name: "foo", file: "a.js", values: []int64{1}}
	b := &testNode{fileID: 1, line: 10, col: 2, name: "foo", file: "a.js", values: []int64{2}}
	sameFileOtherLine := &testNode{fileID: 1, line: 20, col: 2, name: "foo", file: "a.js", values: []int64{3}}

	for _, n := range []*testNode{a, b, sameFileOtherLine} {
		stack := []uint64{}
		if err := p.AddSample(n, &stack); err != nil {
			t.Fatalf("AddSample: %v", err)
		}
	}

	if got := p.LocationCount(); got != 2 {
		t.Errorf("LocationCount = %d, want 2", got)
	}
	// Same (file, name) pair, so one function serves both lines.
	if got := p.FunctionCount(); got != 1 {
		t.Errorf("FunctionCount = %d, want 1", got)
	}
	if got := p.SampleCount(); got != 3 {
		t.Errorf("SampleCount = %d, want 3", got)
	}
}

func TestAddSamplePushesLeafFirst(t *testing.T) {
	p := newTestProfile(t, Options{Period: 1})
	p.AddSampleType("samples", "count")

	parent := &testNode{fileID: 1, line: 1, name: "parent", file: "a.js"}
	child := &testNode{fileID: 1, line: 2, name: "child", file: "a.js", values: []int64{1}}

	stack := []uint64{}
	if err := p.AddSample(parent, &stack); err != nil {
		t.Fatal(err)
	}
	if err := p.AddSample(child, &stack); err != nil {
		t.Fatal(err)
	}

	if len(stack) != 2 {
		t.Fatalf("stack length = %d, want 2", len(stack))
	}
	// Leaf first: child's location on top, parent's underneath.
	if stack[0] != 2 || stack[1] != 1 {
		t.Errorf("stack = %v, want [2 1]", stack)
	}
}

func TestEndToEndSingleSample(t *testing.T) {
	p := newTestProfile(t, Options{Period: 1000})
	p.AddSampleType("samples", "count")

	n := &testNode{fileID: 1, line: 10, col: 0, name: "foo", file: "a.js", values: []int64{5}}
	stack := []uint64{}
	if err := p.AddSample(n, &stack); err != nil {
		t.Fatal(err)
	}

	want := []string{"", "samples", "count", "foo", "a.js"}
	got := p.StringTable()
	if len(got) != len(want) {
		t.Fatalf("string table = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("string table = %v, want %v", got, want)
		}
	}

	dec, err := pprofile.ParseData(p.Serialize())
	if err != nil {
		t.Fatalf("ParseData: %v", err)
	}
	if err := dec.CheckValid(); err != nil {
		t.Fatalf("CheckValid: %v", err)
	}
	if dec.Period != 1000 {
		t.Errorf("Period = %d, want 1000", dec.Period)
	}
	if len(dec.SampleType) != 1 || dec.SampleType[0].Type != "samples" || dec.SampleType[0].Unit != "count" {
		t.Errorf("SampleType = %+v", dec.SampleType)
	}
	if len(dec.Function) != 1 {
		t.Fatalf("Function count = %d, want 1", len(dec.Function))
	}
	fn := dec.Function[0]
	if fn.Name != "foo" || fn.SystemName != "foo" || fn.Filename != "a.js" || fn.StartLine != 10 {
		t.Errorf("Function = %+v", fn)
	}
	if len(dec.Location) != 1 {
		t.Fatalf("Location count = %d, want 1", len(dec.Location))
	}
	loc := dec.Location[0]
	if loc.ID != 1 || len(loc.Line) != 1 || loc.Line[0].Function != fn || loc.Line[0].Line != 10 {
		t.Errorf("Location = %+v", loc)
	}
	if len(dec.Sample) != 1 {
		t.Fatalf("Sample count = %d, want 1", len(dec.Sample))
	}
	s := dec.Sample[0]
	if len(s.Location) != 1 || s.Location[0].ID != 1 {
		t.Errorf("Sample locations = %+v", s.Location)
	}
	if len(s.Value) != 1 || s.Value[0] != 5 {
		t.Errorf("Sample values = %v, want [5]", s.Value)
	}
}

func TestEndToEndSharedLocationDistinctStacks(t *testing.T) {
	p := newTestProfile(t, Options{Period: 1000})
	p.AddSampleType("samples", "count")

	parentA := &testNode{fileID: 1, line: 1, name: "a", file: "x.js"}
	parentB := &testNode{fileID: 1, line: 2, name: "b", file: "x.js"}
	leaf := func() *testNode {
		return &testNode{fileID: 1, line: 9, col: 4, name: "hot", file: "x.js", values: []int64{1}}
	}

	stackA := []uint64{}
	if err := p.AddSample(parentA, &stackA); err != nil {
		t.Fatal(err)
	}
	if err := p.AddSample(leaf(), &stackA); err != nil {
		t.Fatal(err)
	}
	stackB := []uint64{}
	if err := p.AddSample(parentB, &stackB); err != nil {
		t.Fatal(err)
	}
	if err := p.AddSample(leaf(), &stackB); err != nil {
		t.Fatal(err)
	}

	dec, err := pprofile.ParseData(p.Serialize())
	if err != nil {
		t.Fatalf("ParseData: %v", err)
	}
	// One "hot" location despite two distinct call paths.
	hot := 0
	for _, l := range dec.Location {
		if len(l.Line) == 1 && l.Line[0].Function.Name == "hot" {
			hot++
		}
	}
	if hot != 1 {
		t.Errorf("hot location count = %d, want 1", hot)
	}
	if len(dec.Sample) != 2 {
		t.Fatalf("Sample count = %d, want 2", len(dec.Sample))
	}
	s0, s1 := dec.Sample[0], dec.Sample[1]
	if s0.Location[0] != s1.Location[0] {
		t.Error("leaf samples do not share a location")
	}
	if s0.Location[1] == s1.Location[1] {
		t.Error("distinct ancestors collapsed into one location")
	}
}

func TestAddSampleValueArityMismatch(t *testing.T) {
	p := newTestProfile(t, Options{Period: 1000})
	p.AddSampleType("wall", "ns")
	p.AddSampleType("cpu", "ns")

	ok := &testNode{fileID: 1, line: 1, name: "f", file: "a.js", values: []int64{1, 2}}
	stack := []uint64{}
	if err := p.AddSample(ok, &stack); err != nil {
		t.Fatalf("two-value sample rejected: %v", err)
	}

	bad := &testNode{fileID: 1, line: 2, name: "g", file: "a.js", values: []int64{1}}
	stack = []uint64{}
	if err := p.AddSample(bad, &stack); err == nil {
		t.Fatal("one-value sample accepted against two declared sample types")
	}
}

func TestSampleLabels(t *testing.T) {
	p := newTestProfile(t, Options{Period: 1000})
	p.AddSampleType("samples", "count")

	n := &testNode{
		fileID: 1, line: 3, name: "f", file: "a.js",
		values: []int64{7},
		labels: map[string]string{"service": "checkout"},
	}
	stack := []uint64{}
	if err := p.AddSample(n, &stack); err != nil {
		t.Fatal(err)
	}

	dec, err := pprofile.ParseData(p.Serialize())
	if err != nil {
		t.Fatalf("ParseData: %v", err)
	}
	got := dec.Sample[0].Label["service"]
	if len(got) != 1 || got[0] != "checkout" {
		t.Errorf("label service = %v, want [checkout]", got)
	}
}

func TestProfileMetadata(t *testing.T) {
	p := newTestProfile(t, Options{
		PeriodType:    "wall",
		PeriodUnit:    "microseconds",
		Period:        1000,
		TimeNanos:     1700000000000000000,
		DurationNanos: 5000000000,
		DropFrames:    "idle",
	})
	p.AddSampleType("sample", "count")
	p.AddComment("host=worker-1")

	n := &testNode{fileID: 1, line: 1, name: "f", file: "a.js", values: []int64{1}}
	stack := []uint64{}
	if err := p.AddSample(n, &stack); err != nil {
		t.Fatal(err)
	}

	dec, err := pprofile.ParseData(p.Serialize())
	if err != nil {
		t.Fatalf("ParseData: %v", err)
	}
	if dec.PeriodType == nil || dec.PeriodType.Type != "wall" || dec.PeriodType.Unit != "microseconds" {
		t.Errorf("PeriodType = %+v", dec.PeriodType)
	}
	if dec.TimeNanos != 1700000000000000000 {
		t.Errorf("TimeNanos = %d", dec.TimeNanos)
	}
	if dec.DurationNanos != 5000000000 {
		t.Errorf("DurationNanos = %d", dec.DurationNanos)
	}
	if dec.DropFrames != "idle" {
		t.Errorf("DropFrames = %q", dec.DropFrames)
	}
	if len(dec.Comments) != 1 || dec.Comments[0] != "host=worker-1" {
		t.Errorf("Comments = %v", dec.Comments)
	}
}
