package main

import (
	"fmt"
	"sort"
)

// Addr is a 64-bit address in the target binary's address space.
type Addr = uint64

// BB is a basic block: a maximal straight-line instruction run with a single
// entry and single exit. Identity and hashing are by Start; two *BB values
// with the same Start never coexist in a live CFG.
type BB struct {
	Start, End Addr
	Parent     *Func

	Succ map[*BB]struct{}
	Pred map[*BB]struct{}

	Xrefs   map[*Xref]struct{}
	Callees map[*Func]struct{}

	// EdgeImplicates[s] is non-empty only if s is also in Succ. Traversing
	// self->s in the minimized graph implies the original execution also
	// passed through every BB recorded here.
	EdgeImplicates map[*BB]map[*BB]struct{}

	Doms  map[*BB]struct{}
	PDoms map[*BB]struct{}
}

func newBB(start Addr, parent *Func) *BB {
	return &BB{
		Start:          start,
		Parent:         parent,
		Succ:           make(map[*BB]struct{}),
		Pred:           make(map[*BB]struct{}),
		Xrefs:          make(map[*Xref]struct{}),
		Callees:        make(map[*Func]struct{}),
		EdgeImplicates: make(map[*BB]map[*BB]struct{}),
	}
}

func (b *BB) String() string { return fmt.Sprintf("%#x", b.Start) }

// implicate returns the (possibly newly allocated) implication set for succ.
func (b *BB) implicate(succ *BB) map[*BB]struct{} {
	s, ok := b.EdgeImplicates[succ]
	if !ok {
		s = make(map[*BB]struct{})
		b.EdgeImplicates[succ] = s
	}
	return s
}

// sortedBBs returns the members of a BB set in deterministic (start-address
// ascending) order, per spec.md §9's determinism requirement.
func sortedBBs(set map[*BB]struct{}) []*BB {
	out := make([]*BB, 0, len(set))
	for bb := range set {
		out = append(out, bb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func sortedFuncs(set map[*Func]struct{}) []*Func {
	out := make([]*Func, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// Func is a function node identified by its entry address.
type Func struct {
	Addr Addr
	BBs  map[Addr]*BB

	Callees map[*Func]struct{}
	// Xrefs is the set of call-site BBs (in other functions) that call this
	// function — spec.md §3's "set of call-site BBs (xrefs)".
	Xrefs map[*BB]struct{}
}

func newFunc(addr Addr) *Func {
	return &Func{
		Addr:    addr,
		BBs:     make(map[Addr]*BB),
		Callees: make(map[*Func]struct{}),
		Xrefs:   make(map[*BB]struct{}),
	}
}

func (f *Func) String() string { return fmt.Sprintf("%#x", f.Addr) }

func (f *Func) registerBB(bb *BB) { f.BBs[bb.Start] = bb }
func (f *Func) removeBB(bb *BB)   { delete(f.BBs, bb.Start) }

func (f *Func) Entry() *BB { return f.BBs[f.Addr] }

func (f *Func) BBList() []*BB {
	out := make([]*BB, 0, len(f.BBs))
	for _, bb := range f.BBs {
		out = append(out, bb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func (f *Func) Sinks() []*BB {
	var out []*BB
	for _, bb := range f.BBList() {
		if len(bb.Succ) == 0 {
			out = append(out, bb)
		}
	}
	return out
}

// updatePreds rebuilds Pred from Succ across every BB of f. Pred is not
// always kept consistent during a pass, so callers rebuild at pass
// boundaries — mirrors original_source/src/CFG_recover.py's
// Funcnode.update_preds.
func (f *Func) updatePreds() {
	for _, bb := range f.BBs {
		bb.Pred = make(map[*BB]struct{})
	}
	for _, bb := range f.BBs {
		for s := range bb.Succ {
			s.Pred[bb] = struct{}{}
		}
	}
}

// Xref associates a string literal with the set of BBs that reference it.
type Xref struct {
	Literal []byte
	BBs     map[*BB]struct{}

	// ROAddrs and Funcnodes are debug-only provenance, kept for artifact
	// round-tripping parity with the Ghidra-produced schema (spec.md §6).
	ROAddrs   map[Addr]struct{}
	Funcnodes map[Addr]struct{}
}

func newXref(literal []byte) *Xref {
	return &Xref{
		Literal:   literal,
		BBs:       make(map[*BB]struct{}),
		ROAddrs:   make(map[Addr]struct{}),
		Funcnodes: make(map[Addr]struct{}),
	}
}

// AddrToBBLookup answers address -> BB in O(log n) via binary search over
// BBs sorted by Start, validated against End. Ported from
// original_source/src/CFG_recover.py's AddrToBBLookup.
type AddrToBBLookup struct {
	sorted []*BB
	starts []Addr
}

func newAddrToBBLookup(bbs []*BB) *AddrToBBLookup {
	sortedBBsCopy := append([]*BB(nil), bbs...)
	sort.Slice(sortedBBsCopy, func(i, j int) bool { return sortedBBsCopy[i].Start < sortedBBsCopy[j].Start })
	starts := make([]Addr, len(sortedBBsCopy))
	for i, bb := range sortedBBsCopy {
		starts[i] = bb.Start
	}
	return &AddrToBBLookup{sorted: sortedBBsCopy, starts: starts}
}

// Lookup returns the BB whose [Start, End] interval contains addr, or nil.
func (l *AddrToBBLookup) Lookup(addr Addr) *BB {
	// bisect_right(starts, addr) - 1: the largest index i with starts[i] <= addr.
	i := sort.Search(len(l.starts), func(i int) bool { return l.starts[i] > addr }) - 1
	if i < 0 {
		return nil
	}
	bb := l.sorted[i]
	if bb.Start <= addr && addr <= bb.End {
		return bb
	}
	return nil
}

// CFG is the whole-program control-flow graph plus string-xref table.
// Owns all Funcs; each Func owns its BBs. Mutated only by the transformer
// (transform.go) until RunAllPasses returns; read-only thereafter.
type CFG struct {
	Funcs      map[Addr]*Func
	StringXref map[string]*Xref // keyed by string(literal bytes)

	addr2bb *AddrToBBLookup
}

func newCFG() *CFG {
	return &CFG{
		Funcs:      make(map[Addr]*Func),
		StringXref: make(map[string]*Xref),
	}
}

func (c *CFG) FuncList() []*Func {
	out := make([]*Func, 0, len(c.Funcs))
	for _, f := range c.Funcs {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// GetBBFromAddr resolves an instruction address to its owning BB, or nil.
func (c *CFG) GetBBFromAddr(addr Addr) *BB {
	if c.addr2bb == nil {
		return nil
	}
	return c.addr2bb.Lookup(addr)
}

// stringReferBBs returns the union of every xref's BB set.
func (c *CFG) stringReferBBs() map[*BB]struct{} {
	out := make(map[*BB]struct{})
	for _, x := range c.StringXref {
		for bb := range x.BBs {
			out[bb] = struct{}{}
		}
	}
	return out
}

// stringReferFuncs returns the set of functions owning at least one
// string-referencing BB.
func (c *CFG) stringReferFuncs() map[*Func]struct{} {
	out := make(map[*Func]struct{})
	for bb := range c.stringReferBBs() {
		out[bb.Parent] = struct{}{}
	}
	return out
}

func (c *CFG) NumFuncs() int { return len(c.Funcs) }

func (c *CFG) NumBBs() int {
	n := 0
	for _, f := range c.Funcs {
		n += len(f.BBs)
	}
	return n
}

func (c *CFG) NumEdges() int {
	n := 0
	for _, f := range c.Funcs {
		for _, bb := range f.BBs {
			n += len(bb.Succ)
		}
	}
	return n
}
