package main

import (
	"fmt"
	"sort"
)

// Transformer drives the three minimization passes (inline, remove, merge)
// to a fixed point over a CFG. Ported from
// original_source/src/CFG_transform.py's CFGTransformer, pass for pass.
type Transformer struct {
	cfg *CFG
	cg  *CallGraph
	prog *Progress

	operationCount int
}

// NewTransformer builds a transformer bound to cfg. prog may be nil.
func NewTransformer(cfg *CFG, prog *Progress) *Transformer {
	return &Transformer{cfg: cfg, prog: prog}
}

func (t *Transformer) log(format string, args ...any) {
	if t.prog != nil {
		t.prog.Verbose(format, args...)
	}
}

func (t *Transformer) rebuildCallGraph() {
	live := make(map[*Func]struct{}, len(t.cfg.Funcs))
	for _, f := range t.cfg.Funcs {
		live[f] = struct{}{}
	}
	var seeds []*Func
	for f := range t.cfg.stringReferFuncs() {
		if _, ok := live[f]; ok {
			seeds = append(seeds, f)
		}
	}
	sort.Slice(seeds, func(i, j int) bool { return seeds[i].Addr < seeds[j].Addr })
	t.cg = BuildCallGraph(seeds)
}

func (t *Transformer) getCallGraph() *CallGraph {
	if t.cg == nil {
		t.rebuildCallGraph()
	}
	return t.cg
}

// getFuncs returns the set of functions reachable in the current call
// graph — the functions this pass considers "interesting".
func (t *Transformer) getFuncs() map[*Func]struct{} {
	cg := t.getCallGraph()
	out := make(map[*Func]struct{}, len(cg.funcs))
	for _, f := range cg.funcs {
		out[f] = struct{}{}
	}
	return out
}

// getFuncsBottomUp lists functions callee-before-caller (reverse
// topological order of the SCC DAG, functions within an SCC in address
// order).
func (t *Transformer) getFuncsBottomUp() []*Func {
	cg := t.getCallGraph()
	var out []*Func
	for _, scc := range cg.ReverseTopologicalSort() {
		out = append(out, cg.FuncsInSCC(scc)...)
	}
	return out
}

// getStringCallingBBs returns every BB that calls an interesting function —
// such a BB must survive node removal even if it has no direct xref.
func (t *Transformer) getStringCallingBBs() map[*BB]struct{} {
	funcs := t.getFuncs()
	out := make(map[*BB]struct{})
	for f := range funcs {
		for _, bb := range f.BBList() {
			for callee := range bb.Callees {
				if _, ok := funcs[callee]; ok {
					out[bb] = struct{}{}
					break
				}
			}
		}
	}
	return out
}

func shallowCopyImplicates(orig map[*BB]map[*BB]struct{}) map[*BB]map[*BB]struct{} {
	out := make(map[*BB]map[*BB]struct{}, len(orig))
	for k, v := range orig {
		out[k] = v
	}
	return out
}

// inlineCallee splices callee's body into call_site, redirecting the
// callee's sinks to call_site's original successors.
func (t *Transformer) inlineCallee(callSite *BB, callee *Func, newBBs *[]*BB) {
	caller := callSite.Parent
	calleeSinks := callee.Sinks()
	callSiteSuccs := cloneBBSet(callSite.Succ)

	for _, sink := range calleeSinks {
		sink.Succ = cloneBBSet(callSiteSuccs)
		sink.EdgeImplicates = shallowCopyImplicates(callSite.EdgeImplicates)
	}

	callSite.EdgeImplicates = make(map[*BB]map[*BB]struct{})
	entry := callee.Entry()
	callSite.Succ = map[*BB]struct{}{entry: {}}

	for _, bb := range callee.BBList() {
		bb.Parent = caller
		*newBBs = append(*newBBs, bb)
	}
	callee.BBs = make(map[Addr]*BB)
	t.operationCount++
}

func (t *Transformer) inlineFunctionCallees(
	caller *Func,
	interesting map[*Func]struct{},
	removedFuncs *[]*Func,
	sameSCC map[*Func]struct{},
) bool {
	changed := false
	var newBBs []*BB

	for _, bb := range caller.BBList() {
		removedCallee := make(map[*Func]struct{})
		for callee := range bb.Callees {
			if _, ok := interesting[callee]; !ok {
				continue
			}
			if len(callee.Xrefs) != 1 {
				continue
			}
			if _, ok := sameSCC[callee]; ok {
				continue
			}
			t.log("  inlining %s into %s", callee, caller)
			t.inlineCallee(bb, callee, &newBBs)
			*removedFuncs = append(*removedFuncs, callee)
			removedCallee[callee] = struct{}{}
			changed = true
			t.verifyFunc(caller)
		}
		for callee := range removedCallee {
			delete(bb.Callees, callee)
		}
	}

	for _, bb := range newBBs {
		caller.registerBB(bb)
	}
	return changed
}

// runInlinerPass inlines every interesting function that has exactly one
// call site outside its caller's SCC into that caller, across the whole
// CFG; the callee need not be a leaf of the call graph.
func (t *Transformer) runInlinerPass() bool {
	funcs := t.getFuncsBottomUp()
	cg := t.getCallGraph()
	funcsSet := make(map[*Func]struct{}, len(funcs))
	for _, f := range funcs {
		funcsSet[f] = struct{}{}
	}

	var removedFuncs []*Func
	for _, caller := range funcs {
		sameSCC := make(map[*Func]struct{})
		for _, f := range cg.FuncsInSCC(cg.FuncSCCID(caller)) {
			sameSCC[f] = struct{}{}
		}
		if len(caller.BBs) == 0 {
			panic(fmt.Sprintf("function %s visited out of bottom-up order with no BBs", caller))
		}
		t.inlineFunctionCallees(caller, funcsSet, &removedFuncs, sameSCC)
	}

	if len(removedFuncs) == 0 {
		return false
	}
	for _, f := range removedFuncs {
		delete(t.cfg.Funcs, f.Addr)
	}
	t.rebuildCallGraph()
	return true
}

// removeEntryIncomingEdge removes the bb -> entryBB edge, redirecting it to
// every successor of entryBB (other than entryBB itself).
func (t *Transformer) removeEntryIncomingEdge(bb, entryBB *BB) {
	if _, ok := bb.Succ[entryBB]; !ok {
		panic(fmt.Sprintf("%s -> %s edge does not exist", bb, entryBB))
	}
	delete(bb.Succ, entryBB)

	for _, entrySucc := range sortedBBs(entryBB.Succ) {
		if entrySucc == entryBB {
			continue
		}
		_, overlap := bb.Succ[entrySucc]
		bb.Succ[entrySucc] = struct{}{}
		if overlap {
			bb.EdgeImplicates[entrySucc] = intersectBBSets(bb.implicate(entrySucc), bb.implicate(entryBB))
		} else {
			bb.EdgeImplicates[entrySucc] = cloneBBSet(bb.implicate(entryBB))
		}
		bb.EdgeImplicates[entryBB] = make(map[*BB]struct{})
	}
	t.verifyBB(bb)
	t.operationCount++
}

func (t *Transformer) removeEntryIncomings(f *Func) {
	entry := f.Entry()
	for _, bb := range f.BBList() {
		if _, ok := bb.Succ[entry]; ok {
			t.removeEntryIncomingEdge(bb, entry)
		}
	}
}

// removeNode deletes bb from f, connecting every (pred, succ) pair directly
// and folding bb's implication bookkeeping into the new edges.
func (t *Transformer) removeNode(f *Func, bb *BB) {
	preds := sortedBBs(bb.Pred)
	succs := sortedBBs(bb.Succ)

	for _, p := range preds {
		for _, s := range succs {
			if p == bb || s == bb {
				continue
			}
			_, overlap := p.Succ[s]
			p.Succ[s] = struct{}{}
			s.Pred[p] = struct{}{}

			implicated := make(map[*BB]struct{})
			for x := range p.implicate(bb) {
				implicated[x] = struct{}{}
			}
			for x := range bb.implicate(s) {
				implicated[x] = struct{}{}
			}
			implicated[bb] = struct{}{}

			if overlap {
				p.EdgeImplicates[s] = intersectBBSets(p.implicate(s), implicated)
			} else {
				p.EdgeImplicates[s] = implicated
			}
		}
	}

	f.updatePreds()
	for _, p := range sortedBBs(bb.Pred) {
		delete(p.Succ, bb)
		p.EdgeImplicates[bb] = make(map[*BB]struct{})
	}
	for _, s := range sortedBBs(bb.Succ) {
		delete(s.Pred, bb)
	}
	bb.Pred = make(map[*BB]struct{})
	bb.Succ = make(map[*BB]struct{})

	f.removeBB(bb)
	t.verifyFunc(f)
	t.operationCount++
}

func (t *Transformer) removeNonInterestingNodes(f *Func, interesting map[*BB]struct{}) {
	var toRemove []*BB
	entry := f.Entry()
	for _, bb := range f.BBList() {
		if _, ok := interesting[bb]; ok {
			continue
		}
		if bb == entry {
			continue
		}
		if len(bb.Succ) == 0 {
			continue
		}
		toRemove = append(toRemove, bb)
	}
	for _, bb := range toRemove {
		t.removeNode(f, bb)
	}
}

func (t *Transformer) minimizeFuncnodeCFG(f *Func, interesting map[*BB]struct{}) {
	f.updatePreds()
	t.removeNonInterestingNodes(f, interesting)
	t.removeEntryIncomings(f)
}

// runNodeRemovePass drops every BB that neither carries a string xref nor
// calls an interesting function, across every live function; each
// function's entry BB and its sink BBs are kept regardless.
func (t *Transformer) runNodeRemovePass() bool {
	saved := t.cfg.stringReferBBs()
	for bb := range t.getStringCallingBBs() {
		saved[bb] = struct{}{}
	}

	changed := false
	for _, f := range sortedFuncs(t.getFuncs()) {
		before := len(f.BBs)
		t.minimizeFuncnodeCFG(f, saved)
		after := len(f.BBs)
		if after > before {
			panic("node removal pass increased BB count")
		}
		changed = changed || before != after
	}
	return changed
}

// mergeBBs folds every BB in bbList into final: final absorbs their
// predecessor and successor edges (implication sets intersected on
// overlap), then bbList is dropped from f. Per spec.md's open question,
// the absorbed BBs are NOT added to any edge's implication set — only
// node removal does that.
func (t *Transformer) mergeBBs(f *Func, bbList []*BB, final *BB, interesting map[*Func]struct{}) {
	for _, bb := range bbList {
		for _, pred := range sortedBBs(bb.Pred) {
			if pred == bb {
				continue
			}
			_, overlap := pred.Succ[final]
			delete(pred.Succ, bb)
			pred.Succ[final] = struct{}{}
			final.Pred[pred] = struct{}{}
			delete(bb.Pred, pred)

			implicated := cloneBBSet(pred.implicate(bb))
			if overlap {
				pred.EdgeImplicates[final] = intersectBBSets(pred.implicate(final), implicated)
			} else {
				pred.EdgeImplicates[final] = implicated
			}
			pred.EdgeImplicates[bb] = make(map[*BB]struct{})
		}

		for _, succ := range sortedBBs(bb.Succ) {
			if succ == bb {
				continue
			}
			_, overlap := final.Succ[succ]
			delete(succ.Pred, bb)
			succ.Pred[final] = struct{}{}
			final.Succ[succ] = struct{}{}
			delete(bb.Succ, succ)

			implicated := cloneBBSet(bb.implicate(succ))
			if overlap {
				final.EdgeImplicates[succ] = intersectBBSets(final.implicate(succ), implicated)
			} else {
				final.EdgeImplicates[succ] = implicated
			}
			bb.EdgeImplicates[succ] = make(map[*BB]struct{})
		}
	}

	for _, bb := range bbList {
		for callee := range bb.Callees {
			if _, ok := interesting[callee]; ok {
				delete(callee.Xrefs, bb)
			}
		}
		f.removeBB(bb)
	}
	t.verifyFunc(f)
	t.operationCount++
}

// bbBehaviorKey returns a canonical string over a BB's literal set and
// interesting-callee set, used as the initial automata-partition key.
func bbBehaviorKey(bb *BB, interesting map[*Func]struct{}) string {
	lits := make([]string, 0, len(bb.Xrefs))
	for x := range bb.Xrefs {
		lits = append(lits, string(x.Literal))
	}
	sort.Strings(lits)

	var callees []Addr
	for c := range bb.Callees {
		if _, ok := interesting[c]; ok {
			callees = append(callees, c.Addr)
		}
	}
	sort.Slice(callees, func(i, j int) bool { return callees[i] < callees[j] })

	return fmt.Sprintf("%q|%v", lits, callees)
}

// mergeDuplicateNodes runs automata-style partition refinement: two BBs
// start in the same partition iff they have identical literal/callee
// behavior, then partitions are repeatedly split while two members'
// successors land in different partitions, until a fixed point. Surviving
// multi-member partitions are collapsed into a single BB.
func (t *Transformer) mergeDuplicateNodes(f *Func, interesting map[*Func]struct{}) bool {
	f.updatePreds()

	var behaviorOrder []string
	behaviorToBBs := make(map[string][]*BB)
	for _, bb := range f.BBList() {
		k := bbBehaviorKey(bb, interesting)
		if _, ok := behaviorToBBs[k]; !ok {
			behaviorOrder = append(behaviorOrder, k)
		}
		behaviorToBBs[k] = append(behaviorToBBs[k], bb)
	}

	segment := make([][]*BB, 0, len(behaviorOrder))
	for _, k := range behaviorOrder {
		segment = append(segment, behaviorToBBs[k])
	}

	bbToSegment := make(map[*BB]int)
	for id, bbs := range segment {
		for _, bb := range bbs {
			bbToSegment[bb] = id
		}
	}

	for {
		converged := true
		var newSegment [][]*BB
		newBBToSegment := make(map[*BB]int)

		for _, bbs := range segment {
			if len(bbs) == 1 {
				newBBToSegment[bbs[0]] = len(newSegment)
				newSegment = append(newSegment, bbs)
				continue
			}

			var groupOrder []string
			groups := make(map[string][]*BB)
			for _, bb := range bbs {
				succSegs := make(map[int]struct{})
				for succ := range bb.Succ {
					succSegs[bbToSegment[succ]] = struct{}{}
				}
				ids := make([]int, 0, len(succSegs))
				for id := range succSegs {
					ids = append(ids, id)
				}
				sort.Ints(ids)
				k := fmt.Sprint(ids)
				if _, ok := groups[k]; !ok {
					groupOrder = append(groupOrder, k)
				}
				groups[k] = append(groups[k], bb)
			}
			if len(groups) > 1 {
				converged = false
			}

			for _, k := range groupOrder {
				g := groups[k]
				newID := len(newSegment)
				for _, bb := range g {
					newBBToSegment[bb] = newID
				}
				newSegment = append(newSegment, g)
			}
		}

		bbToSegment = newBBToSegment
		segment = newSegment
		if converged {
			break
		}
	}

	changed := false
	for _, bbs := range segment {
		if len(bbs) == 1 {
			continue
		}
		changed = true
		saved := bbs[0]
		t.log("  merging %v into %s", bbs[1:], saved)
		t.mergeBBs(f, bbs[1:], saved, interesting)
	}
	return changed
}

func (t *Transformer) runNodeMergePass() bool {
	funcs := t.getFuncs()
	changed := false
	for _, f := range sortedFuncs(funcs) {
		if t.mergeDuplicateNodes(f, funcs) {
			changed = true
		}
	}
	return changed
}

func (t *Transformer) updateStrXrefs() {
	live := make(map[*BB]struct{})
	for _, f := range t.cfg.FuncList() {
		for _, bb := range f.BBList() {
			live[bb] = struct{}{}
		}
	}
	for _, x := range t.cfg.StringXref {
		for bb := range x.BBs {
			if _, ok := live[bb]; !ok {
				delete(x.BBs, bb)
			}
		}
	}
}

func (t *Transformer) removeUnrelatedFuncs() {
	funcs := t.getFuncs()
	for _, f := range t.cfg.FuncList() {
		if _, ok := funcs[f]; !ok {
			delete(t.cfg.Funcs, f.Addr)
		}
	}
}

func (t *Transformer) verifyBB(bb *BB) {
	for succ, set := range bb.EdgeImplicates {
		if len(set) == 0 {
			continue
		}
		if _, ok := bb.Succ[succ]; !ok {
			panic(fmt.Sprintf("corrupt CFG: %s implicates %s but has no edge to it", bb, succ))
		}
	}
}

func (t *Transformer) verifyFunc(f *Func) {
	for _, bb := range f.BBList() {
		t.verifyBB(bb)
	}
}

func (t *Transformer) verifyCFG() {
	for _, f := range t.cfg.FuncList() {
		t.verifyFunc(f)
	}
}

// RunAllPasses repeatedly runs inline/remove/merge to a fixed point, then
// prunes string-xref BB sets to only the BBs that survived. After this
// returns, the CFG is frozen and ready for BuildDominators.
func (t *Transformer) RunAllPasses() {
	t.removeUnrelatedFuncs()
	for pass := 0; ; pass++ {
		t.log("running pass %d", pass)
		inlined := t.runInlinerPass()
		t.verifyCFG()
		removed := t.runNodeRemovePass()
		t.verifyCFG()
		merged := t.runNodeMergePass()
		t.verifyCFG()

		changed := inlined || removed || merged
		t.log("finished pass %d: changed=%v", pass, changed)
		if !changed {
			break
		}
	}
	t.updateStrXrefs()
}
