package main

import "testing"

// wireCall records that callSite (in caller) calls callee.
func wireCall(caller, callee *Func, callSite *BB) {
	caller.Callees[callee] = struct{}{}
	callee.Xrefs[callSite] = struct{}{}
	callSite.Callees[callee] = struct{}{}
}

func TestBuildCallGraphChain(t *testing.T) {
	main := newFunc(0x1000)
	mainBB := newBB(0x1000, main)
	main.registerBB(mainBB)

	a := newFunc(0x2000)
	aBB := newBB(0x2000, a)
	a.registerBB(aBB)

	b := newFunc(0x3000)
	bBB := newBB(0x3000, b)
	b.registerBB(bBB)

	wireCall(main, a, mainBB)
	wireCall(a, b, aBB)

	// The graph grows from the seed through its callers: b, then a, then main.
	cg := BuildCallGraph([]*Func{b})

	if cg.FuncSCCID(main) == cg.FuncSCCID(a) {
		t.Errorf("main and a should be in different SCCs (acyclic chain)")
	}

	order := cg.ReverseTopologicalSort()
	pos := make(map[int]int)
	for i, scc := range order {
		pos[scc] = i
	}
	if pos[cg.FuncSCCID(b)] >= pos[cg.FuncSCCID(a)] {
		t.Errorf("expected b's SCC to precede a's SCC in bottom-up order")
	}
	if pos[cg.FuncSCCID(a)] >= pos[cg.FuncSCCID(main)] {
		t.Errorf("expected a's SCC to precede main's SCC in bottom-up order")
	}
}

func TestBuildCallGraphMutualRecursionSharesSCC(t *testing.T) {
	a := newFunc(0x1000)
	aBB := newBB(0x1000, a)
	a.registerBB(aBB)

	b := newFunc(0x2000)
	bBB := newBB(0x2000, b)
	b.registerBB(bBB)

	wireCall(a, b, aBB)
	wireCall(b, a, bBB)

	cg := BuildCallGraph([]*Func{a})

	if cg.FuncSCCID(a) != cg.FuncSCCID(b) {
		t.Errorf("mutually recursive functions should share one SCC")
	}
}

func TestFuncDistanceCommonCaller(t *testing.T) {
	caller := newFunc(0x1000)
	callerBB1 := newBB(0x1000, caller)
	callerBB2 := newBB(0x1010, caller)
	caller.registerBB(callerBB1)
	caller.registerBB(callerBB2)

	a := newFunc(0x2000)
	aEntry := newBB(0x2000, a)
	a.registerBB(aEntry)

	b := newFunc(0x3000)
	bEntry := newBB(0x3000, b)
	b.registerBB(bEntry)

	wireCall(caller, a, callerBB1)
	wireCall(caller, b, callerBB2)

	// Seeded with the callees; the shared caller is reached through their
	// call sites.
	cg := BuildCallGraph([]*Func{a, b})
	cg.BuildFuncDistanceMap()

	if got := cg.FuncDistance(a, b); got != 2 {
		t.Errorf("FuncDistance(a, b) = %d, want 2 (via common caller)", got)
	}
	if got := cg.FuncDistance(a, a); got != 0 {
		t.Errorf("FuncDistance(a, a) = %d, want 0", got)
	}
}

func TestFuncDistanceNoCommonAncestorIsSentinel(t *testing.T) {
	a := newFunc(0x1000)
	a.registerBB(newBB(0x1000, a))
	b := newFunc(0x2000)
	b.registerBB(newBB(0x2000, b))

	cg := BuildCallGraph([]*Func{a, b})
	cg.BuildFuncDistanceMap()

	if got := cg.FuncDistance(a, b); got != 100 {
		t.Errorf("FuncDistance with no common ancestor = %d, want sentinel 100", got)
	}
}
