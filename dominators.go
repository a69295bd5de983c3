package main

// Iterative dataflow dominator/post-dominator solvers, join = set
// intersection. Ported from original_source/src/CFG_recover.py's
// Funcnode.build_dominators/build_post_dominators (spec.md §4.1). Chosen
// over a tree-only (CHK/RPO) algorithm because spec.md's downstream
// consumers (bbmatch.go's augmentDominators) need the full dominator
// *set* per BB, not a single immediate dominator.

func cloneBBSet(s map[*BB]struct{}) map[*BB]struct{} {
	out := make(map[*BB]struct{}, len(s))
	for bb := range s {
		out[bb] = struct{}{}
	}
	return out
}

func intersectBBSets(a, b map[*BB]struct{}) map[*BB]struct{} {
	out := make(map[*BB]struct{})
	small, big := a, b
	if len(b) < len(a) {
		small, big = b, a
	}
	for bb := range small {
		if _, ok := big[bb]; ok {
			out[bb] = struct{}{}
		}
	}
	return out
}

func bbSetEqual(a, b map[*BB]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for bb := range a {
		if _, ok := b[bb]; !ok {
			return false
		}
	}
	return true
}

// buildDominators computes Dom(n) for every BB of f:
//
//	Dom(entry) = {entry}
//	Dom(n)     = {n} ∪ ⋂_{p∈pred(n)} Dom(p)
func buildDominators(f *Func) {
	entry := f.Entry()
	bbs := f.BBList()

	full := make(map[*BB]struct{}, len(bbs))
	for _, bb := range bbs {
		full[bb] = struct{}{}
	}

	for _, bb := range bbs {
		if bb == entry {
			bb.Doms = map[*BB]struct{}{entry: {}}
		} else {
			bb.Doms = cloneBBSet(full)
		}
	}

	changed := true
	for changed {
		changed = false
		for _, bb := range bbs {
			if bb == entry {
				continue
			}
			if len(bb.Pred) == 0 {
				// Unreachable from entry: no predecessor doms to join;
				// leave saturated, mirroring the post-dominator solver's
				// documented limitation for the symmetric case.
				continue
			}
			var inter map[*BB]struct{}
			for p := range bb.Pred {
				if inter == nil {
					inter = cloneBBSet(p.Doms)
				} else {
					inter = intersectBBSets(inter, p.Doms)
				}
			}
			newDoms := cloneBBSet(inter)
			newDoms[bb] = struct{}{}
			if !bbSetEqual(newDoms, bb.Doms) {
				bb.Doms = newDoms
				changed = true
			}
		}
	}
}

// buildPostDominators computes PDom(n) for every BB of f using a virtual
// exit node connected to every sink (BB with no successors):
//
//	PDom(sink) = {sink, virtual}
//	PDom(n)    = {n} ∪ ⋂_{s∈succ(n)} PDom(s)
//
// The virtual node is removed from every result before returning (spec.md
// invariant 4). Admits multiple sinks; does not require full reachability —
// unreachable nodes (in the postdom sense) remain saturated, a documented
// limitation inherited from the reference implementation (spec.md §9 open
// question 1).
func buildPostDominators(f *Func) {
	virtual := &BB{Start: ^Addr(0)}
	bbs := f.BBList()

	sinks := make(map[*BB]struct{})
	for _, bb := range f.Sinks() {
		sinks[bb] = struct{}{}
	}

	full := make(map[*BB]struct{}, len(bbs))
	for _, bb := range bbs {
		full[bb] = struct{}{}
	}

	for _, bb := range bbs {
		if _, isSink := sinks[bb]; isSink {
			bb.PDoms = map[*BB]struct{}{bb: {}, virtual: {}}
		} else {
			bb.PDoms = cloneBBSet(full)
		}
	}

	changed := true
	for changed {
		changed = false
		for _, bb := range bbs {
			if _, isSink := sinks[bb]; isSink {
				continue
			}
			var inter map[*BB]struct{}
			for s := range bb.Succ {
				if inter == nil {
					inter = cloneBBSet(s.PDoms)
				} else {
					inter = intersectBBSets(inter, s.PDoms)
				}
			}
			if inter == nil {
				// No successors but not classified as sink is impossible
				// (Sinks() is exactly "no successors"); guard anyway.
				inter = make(map[*BB]struct{})
			}
			newPDoms := cloneBBSet(inter)
			newPDoms[bb] = struct{}{}
			if !bbSetEqual(newPDoms, bb.PDoms) {
				bb.PDoms = newPDoms
				changed = true
			}
		}
	}

	for _, bb := range bbs {
		delete(bb.PDoms, virtual)
	}
}

// BuildDominators computes dominator and post-dominator sets for every
// function in the CFG. Must be called only after minimization reaches a
// fixed point (spec.md §3's lifecycle note: "Dominator sets are computed
// only on the frozen post-minimization graph").
func (c *CFG) BuildDominators() {
	for _, f := range c.FuncList() {
		buildDominators(f)
		buildPostDominators(f)
	}
}
