package main

import "testing"

// buildChainWithUninterestingMiddle builds entry -> mid -> strBB -> sink,
// where mid carries neither a string xref nor a call to an interesting
// function, and should be removed by the node-remove pass, collapsing the
// chain to entry -> strBB -> sink.
func buildChainWithUninterestingMiddle() (cfg *CFG, entry, mid, strBB, sink *BB) {
	cfg = newCFG()
	f := newFunc(0x1000)
	cfg.Funcs[f.Addr] = f

	entry = newBB(0x1000, f)
	mid = newBB(0x1010, f)
	strBB = newBB(0x1020, f)
	sink = newBB(0x1030, f)
	for _, bb := range []*BB{entry, mid, strBB, sink} {
		f.registerBB(bb)
	}
	entry.Succ[mid] = struct{}{}
	mid.Succ[strBB] = struct{}{}
	strBB.Succ[sink] = struct{}{}
	f.updatePreds()

	x := newXref([]byte("a distinctive log line\n"))
	x.BBs[strBB] = struct{}{}
	strBB.Xrefs[x] = struct{}{}
	cfg.StringXref[string(x.Literal)] = x

	return cfg, entry, mid, strBB, sink
}

func TestRunAllPassesRemovesUninterestingMiddle(t *testing.T) {
	cfg, entry, mid, strBB, sink := buildChainWithUninterestingMiddle()

	transformer := NewTransformer(cfg, nil)
	transformer.RunAllPasses()

	f := cfg.Funcs[0x1000]
	if _, ok := f.BBs[mid.Start]; ok {
		t.Errorf("expected uninteresting middle BB to be removed")
	}
	if _, ok := f.BBs[strBB.Start]; !ok {
		t.Errorf("expected the string-referencing BB to survive")
	}
	if _, ok := entry.Succ[strBB]; !ok {
		t.Errorf("expected entry to gain a direct edge to strBB after mid's removal, got succ=%v", sortedBBs(entry.Succ))
	}
	_ = sink
}

// TestMergeDuplicateNodesMultiRoundRefinement builds a chain where a
// duplicate group is only fully disambiguated two rounds after the initial
// behavior-based partition: t1/t2 start in the same segment as m1/m2 (none
// of the four carry a literal or an interesting call), m1/m2 split apart
// on the first round once their successors s1/s2 are seen to differ, and
// only on the *second* round do t1/t2 split apart, once m1 and m2 have
// landed in different segments. A `converged` flag that isn't reset every
// pass (or that lets one group's trivial convergence mask another's) gets
// stuck and this call never returns.
func TestMergeDuplicateNodesMultiRoundRefinement(t *testing.T) {
	cfg := newCFG()
	f := newFunc(0x1000)
	cfg.Funcs[f.Addr] = f

	s1 := newBB(0x1000, f)
	s2 := newBB(0x1010, f)
	m1 := newBB(0x1020, f)
	m2 := newBB(0x1030, f)
	t1 := newBB(0x1040, f)
	t2 := newBB(0x1050, f)
	for _, bb := range []*BB{s1, s2, m1, m2, t1, t2} {
		f.registerBB(bb)
	}
	m1.Succ[s1] = struct{}{}
	m2.Succ[s2] = struct{}{}
	t1.Succ[m1] = struct{}{}
	t2.Succ[m2] = struct{}{}
	f.updatePreds()

	x1 := newXref([]byte("AAA\n"))
	x1.BBs[s1] = struct{}{}
	s1.Xrefs[x1] = struct{}{}
	cfg.StringXref[string(x1.Literal)] = x1

	x2 := newXref([]byte("BBB\n"))
	x2.BBs[s2] = struct{}{}
	s2.Xrefs[x2] = struct{}{}
	cfg.StringXref[string(x2.Literal)] = x2

	transformer := NewTransformer(cfg, nil)
	changed := transformer.mergeDuplicateNodes(f, map[*Func]struct{}{})

	if changed {
		t.Errorf("expected no merge: t1/t2 and m1/m2 each reach a distinct literal")
	}
	for _, bb := range []*BB{s1, s2, m1, m2, t1, t2} {
		if _, ok := f.BBs[bb.Start]; !ok {
			t.Errorf("expected %s to survive as its own BB", bb)
		}
	}
}

func TestRunAllPassesMergesDuplicateLeaves(t *testing.T) {
	// Two BBs with identical behavior (same literal, no successors) should
	// collapse into one surviving BB.
	cfg := newCFG()
	f := newFunc(0x1000)
	cfg.Funcs[f.Addr] = f

	entry := newBB(0x1000, f)
	leafA := newBB(0x1010, f)
	leafB := newBB(0x1020, f)
	f.registerBB(entry)
	f.registerBB(leafA)
	f.registerBB(leafB)
	entry.Succ[leafA] = struct{}{}
	entry.Succ[leafB] = struct{}{}
	f.updatePreds()

	lit := "identical diagnostic message\n"
	// A single CFG has exactly one Xref per distinct literal (keyed by
	// literal in StringXref); both BBs' Xrefs sets point at the same
	// shared Xref, matching how the real loader resolves a literal to one
	// Xref referenced by many BBs.
	shared := newXref([]byte(lit))
	shared.BBs[leafA] = struct{}{}
	shared.BBs[leafB] = struct{}{}
	leafA.Xrefs = map[*Xref]struct{}{shared: {}}
	leafB.Xrefs = map[*Xref]struct{}{shared: {}}
	cfg.StringXref[lit] = shared

	transformer := NewTransformer(cfg, nil)
	transformer.RunAllPasses()

	f2 := cfg.Funcs[0x1000]
	survivors := 0
	for addr := range f2.BBs {
		if addr == leafA.Start || addr == leafB.Start {
			survivors++
		}
	}
	if survivors != 1 {
		t.Errorf("expected exactly one of leafA/leafB to survive merging, got %d", survivors)
	}
}
