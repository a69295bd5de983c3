package main

import "sort"

// CallGraph is a from-scratch adjacency structure over Funcs, built from
// each Func's Xrefs (call-site BBs in caller functions). Ported from
// original_source/src/graph_algo.py's CallGraph.
//
// Unlike the Python original's index-arena (addr_to_idx/idx_to_func/adj as
// parallel slices), this uses *Func pointers directly as graph nodes — Go's
// GC has no trouble with the cyclic caller<->callee references that forced
// the Python side into an index workaround.
type CallGraph struct {
	funcs []*Func
	adj   map[*Func][]*Func // caller -> callees, de-duplicated, insertion order

	sccOf   map[*Func]int
	sccNode [][]*Func
	sccDAG  [][]int

	distance map[[2]*Func]int
}

// BuildCallGraph grows the graph outward from initFuncs by following each
// discovered function's Xrefs (who calls it), exactly as graph_algo.py's
// _build does with its worklist.
func BuildCallGraph(initFuncs []*Func) *CallGraph {
	cg := &CallGraph{adj: make(map[*Func][]*Func)}
	visited := make(map[*Func]struct{})
	var worklist []*Func

	add := func(f *Func) {
		visited[f] = struct{}{}
		cg.funcs = append(cg.funcs, f)
		if _, ok := cg.adj[f]; !ok {
			cg.adj[f] = nil
		}
	}

	for _, f := range initFuncs {
		if _, ok := visited[f]; !ok {
			add(f)
			worklist = append(worklist, f)
		}
	}

	hasEdge := func(caller, callee *Func) bool {
		for _, c := range cg.adj[caller] {
			if c == callee {
				return true
			}
		}
		return false
	}

	for len(worklist) > 0 {
		f := worklist[0]
		worklist = worklist[1:]
		for _, callSite := range sortedBBs(f.Xrefs) {
			caller := callSite.Parent
			if _, ok := visited[caller]; !ok {
				add(caller)
				worklist = append(worklist, caller)
			}
			if !hasEdge(caller, f) {
				cg.adj[caller] = append(cg.adj[caller], f)
			}
		}
	}

	cg.findSCCs()
	cg.buildContractedDAG()
	return cg
}

// findSCCs runs Tarjan's algorithm over cg.funcs/cg.adj.
func (cg *CallGraph) findSCCs() {
	cg.sccOf = make(map[*Func]int, len(cg.funcs))
	index := 0
	indices := make(map[*Func]int, len(cg.funcs))
	lowlink := make(map[*Func]int, len(cg.funcs))
	onStack := make(map[*Func]bool, len(cg.funcs))
	var stack []*Func
	sccCount := 0

	var strongConnect func(v *Func)
	strongConnect = func(v *Func) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range cg.adj[v] {
			if _, ok := indices[w]; !ok {
				strongConnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if indices[w] < lowlink[v] {
					lowlink[v] = indices[w]
				}
			}
		}

		if lowlink[v] == indices[v] {
			var members []*Func
			for {
				n := len(stack) - 1
				w := stack[n]
				stack = stack[:n]
				onStack[w] = false
				cg.sccOf[w] = sccCount
				members = append(members, w)
				if w == v {
					break
				}
			}
			cg.sccNode = append(cg.sccNode, members)
			sccCount++
		}
	}

	for _, f := range cg.funcs {
		if _, ok := indices[f]; !ok {
			strongConnect(f)
		}
	}
}

func (cg *CallGraph) buildContractedDAG() {
	cg.sccDAG = make([][]int, len(cg.sccNode))
	for _, v := range cg.funcs {
		for _, w := range cg.adj[v] {
			sv, sw := cg.sccOf[v], cg.sccOf[w]
			if sv == sw {
				continue
			}
			found := false
			for _, n := range cg.sccDAG[sv] {
				if n == sw {
					found = true
					break
				}
			}
			if !found {
				cg.sccDAG[sv] = append(cg.sccDAG[sv], sw)
			}
		}
	}
}

// ReverseTopologicalSort returns SCC ids such that every callee SCC appears
// before the SCCs that call it — the order a bottom-up pass (e.g. inlining)
// should visit them in. Ported from graph_algo.py's reverse_topological_sort;
// despite the name, no final reversal is applied: the post-order DFS finish
// stack already visits callees first.
func (cg *CallGraph) ReverseTopologicalSort() []int {
	visited := make([]bool, len(cg.sccNode))
	var stack []int
	var dfs func(v int)
	dfs = func(v int) {
		visited[v] = true
		for _, w := range cg.sccDAG[v] {
			if !visited[w] {
				dfs(w)
			}
		}
		stack = append(stack, v)
	}
	for i := range cg.sccNode {
		if !visited[i] {
			dfs(i)
		}
	}
	return stack
}

// FuncSCCID returns the SCC id assigned to f.
func (cg *CallGraph) FuncSCCID(f *Func) int { return cg.sccOf[f] }

// FuncsInSCC returns the member functions of the given SCC id, in
// deterministic entry-address order.
func (cg *CallGraph) FuncsInSCC(scc int) []*Func {
	out := append([]*Func(nil), cg.sccNode[scc]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// BuildFuncDistanceMap computes, for every pair of functions, the length of
// the shortest path through the reversed call graph (caller edges) that
// connects them via a common ancestor: min over common ancestors c of
// dist(f1,c)+dist(f2,c). Sentinel 100 when no common ancestor exists.
// Ported from CFG_recover.py's build_func_distance_map.
//
// O(n^2) in the number of functions, same as the reference implementation;
// acceptable because it runs once per static-analysis artifact load, not
// per request.
func (cg *CallGraph) BuildFuncDistanceMap() {
	cg.distance = make(map[[2]*Func]int)

	callerDistances := func(f *Func) map[*Func]int {
		dist := map[*Func]int{f: 0}
		queue := []*Func{f}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			callers := make(map[*Func]struct{})
			for bb := range cur.Xrefs {
				callers[bb.Parent] = struct{}{}
			}
			for _, caller := range sortedFuncs(callers) {
				if _, ok := dist[caller]; !ok {
					dist[caller] = dist[cur] + 1
					queue = append(queue, caller)
				}
			}
		}
		return dist
	}

	funcs := cg.funcs
	cache := make(map[*Func]map[*Func]int, len(funcs))
	for _, f := range funcs {
		cache[f] = callerDistances(f)
	}

	for i, f1 := range funcs {
		f1Dists := cache[f1]
		for _, f2 := range funcs[i:] {
			f2Dists := cache[f2]
			minDist := 100
			for c, d1 := range f1Dists {
				if d2, ok := f2Dists[c]; ok {
					if d1+d2 < minDist {
						minDist = d1 + d2
					}
				}
			}
			cg.distance[[2]*Func{f1, f2}] = minDist
			cg.distance[[2]*Func{f2, f1}] = minDist
		}
	}
}

// FuncDistance returns the precomputed distance between f1 and f2. Requires
// BuildFuncDistanceMap to have run first.
func (cg *CallGraph) FuncDistance(f1, f2 *Func) int {
	return cg.distance[[2]*Func{f1, f2}]
}

// BBDistance is the function distance between two BBs' owning functions,
// used by CDBI's beam search (bbmatch.go).
func (cg *CallGraph) BBDistance(bb1, bb2 *BB) int {
	return cg.FuncDistance(bb1.Parent, bb2.Parent)
}
