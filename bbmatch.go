package main

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"sort"
)

// formatSpecifierRegex recognizes a printf-style conversion specifier
// (e.g. "%d", "%-08.3lf", "%s"). It is used as a wildcard boundary: the
// literal parts around each match become the gap-separated atoms a
// SeqMatcher/RegexMatcher pattern is built from. Ported from
// original_source/src/bb_match.py's verbose-mode `pattern`.
var formatSpecifierRegex = regexp.MustCompile(
	`%[0 #+-]?[0-9*]*\.?[0-9]*[hl]{0,2}[jztL]?[diuoxXeEfgGaAcpsSn%]`,
)

// splitOnFormatSpecifiers splits literal on every formatSpecifierRegex
// match, the way Python's re.split does for a pattern with no capture
// groups: the specifier text itself is discarded, and the surrounding
// text segments (possibly empty) are returned in order.
func splitOnFormatSpecifiers(literal []byte) [][]byte {
	idxs := formatSpecifierRegex.FindAllIndex(literal, -1)
	if idxs == nil {
		return [][]byte{literal}
	}
	parts := make([][]byte, 0, len(idxs)+1)
	last := 0
	for _, m := range idxs {
		parts = append(parts, literal[last:m[0]])
		last = m[1]
	}
	parts = append(parts, literal[last:])
	return parts
}

// splitLinesKeepEnds splits data on '\n', keeping the newline at the end
// of every line but the (possibly absent) trailing unterminated one.
func splitLinesKeepEnds(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, c := range data {
		if c == '\n' {
			lines = append(lines, data[start:i+1])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

func sortedXrefs(m map[string]*Xref) []*Xref {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Xref, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out
}

// MatchInfo is the per-pattern metadata a matcher threads through to CDBI:
// which xref the pattern was built from, and whether that xref's literal
// contained a format specifier at all.
type MatchInfo struct {
	Xref      *Xref
	HasFormat bool
}

// LabradorMatcher is a similarity-threshold baseline: a line is attributed
// to every xref whose literal scores above epsilon against it under
// similarityScore. Kept for parity with the FUZZ_USE_LABRADOR_LOW/HIGH
// external switch (spec.md §6) even though it is not the primary matcher.
// Ported from original_source/src/bb_match.py's LabradorMatcher.
type LabradorMatcher struct {
	cfg              *CFG
	epsilon          float64
	lineToXrefsCache map[string]map[*Xref]struct{}
}

func NewLabradorMatcher(cfg *CFG, epsilon float64) *LabradorMatcher {
	return &LabradorMatcher{
		cfg:              cfg,
		epsilon:          epsilon,
		lineToXrefsCache: make(map[string]map[*Xref]struct{}),
	}
}

func (m *LabradorMatcher) GetLabradorBBs(response []byte) map[*BB]struct{} {
	out := make(map[*BB]struct{})
	for xref := range m.GetLabradorXrefs(response) {
		for bb := range xref.BBs {
			out[bb] = struct{}{}
		}
	}
	return out
}

func (m *LabradorMatcher) GetLabradorXrefs(response []byte) map[*Xref]struct{} {
	xrefSet := make(map[*Xref]struct{})
	for _, line := range splitLinesKeepEnds(response) {
		if len(line) == 0 {
			continue
		}
		key := string(line)
		if cached, ok := m.lineToXrefsCache[key]; ok {
			for x := range cached {
				xrefSet[x] = struct{}{}
			}
			continue
		}
		lineXrefs := make(map[*Xref]struct{})
		for _, xref := range sortedXrefs(m.cfg.StringXref) {
			if similarityScore(key, string(xref.Literal)) > m.epsilon {
				lineXrefs[xref] = struct{}{}
				xrefSet[xref] = struct{}{}
			}
		}
		m.lineToXrefsCache[key] = lineXrefs
	}
	return xrefSet
}

// findNearbyXrefs collects the context_size xrefs "nearby" a result in the
// match sequence: the xrefs found inside the match's own gaps, plus the
// xrefs of the results immediately surrounding it, alternating successor
// then predecessor, clipped to contextSize entries. Ported from
// bb_match.py's find_nearby_xrefs.
func findNearbyXrefs(resultIdx int, results []SeqMatch, subXref []*Xref, idxToMatchInfo []MatchInfo, contextSize int) []*Xref {
	nearby := append([]*Xref(nil), subXref...)
	for i := 1; i <= contextSize; i++ {
		succIdx := resultIdx + i
		predIdx := resultIdx - i
		if succIdx < len(results) {
			nearby = append(nearby, idxToMatchInfo[results[succIdx].PatIdx].Xref)
		}
		if predIdx >= 0 {
			nearby = append(nearby, idxToMatchInfo[results[predIdx].PatIdx].Xref)
		}
	}
	if len(nearby) > contextSize {
		nearby = nearby[:contextSize]
	}
	return nearby
}

type beamEntry struct {
	bb   *BB
	dist int
}

// CDBI is Context-Driven Block Identification: for a matched literal with
// a single candidate BB, that BB is taken directly; for a literal with
// several candidate BBs, a beam search over call-graph distance to nearby
// xrefs' BBs picks the most plausible one(s). Ported from bb_match.py's
// CDBI.
func CDBI(matchItems []SeqMatch, idxToMatchInfo []MatchInfo, cg *CallGraph) map[*BB]struct{} {
	const contextSize = 5
	const beamWidth = 10

	matchBBs := make(map[*BB]struct{})

	for i, item := range matchItems {
		xref := idxToMatchInfo[item.PatIdx].Xref

		innerIdxs := make([]int, 0, len(item.Inner))
		for idx := range item.Inner {
			innerIdxs = append(innerIdxs, idx)
		}
		sort.Ints(innerIdxs)
		subXref := make([]*Xref, len(innerIdxs))
		for j, idx := range innerIdxs {
			subXref[j] = idxToMatchInfo[idx].Xref
		}

		// Also walks inside the %s, %d, etc. patterns.
		for _, sx := range subXref {
			if len(sx.BBs) == 1 {
				for bb := range sx.BBs {
					matchBBs[bb] = struct{}{}
				}
			}
		}

		bbs := xref.BBs
		if len(bbs) > 1 {
			nearby := findNearbyXrefs(i, matchItems, subXref, idxToMatchInfo, contextSize)

			beam := make([]beamEntry, 0, len(bbs))
			for _, bb := range sortedBBs(bbs) {
				beam = append(beam, beamEntry{bb: bb, dist: 0})
			}

			for _, nx := range nearby {
				next := make([]beamEntry, 0, len(beam)*len(nx.BBs))
				for _, cur := range beam {
					for _, neighbor := range sortedBBs(nx.BBs) {
						next = append(next, beamEntry{bb: cur.bb, dist: cur.dist + cg.BBDistance(cur.bb, neighbor)})
					}
				}
				sort.SliceStable(next, func(a, b int) bool { return next[a].dist < next[b].dist })
				if len(next) > beamWidth {
					next = next[:beamWidth]
				}
				beam = next
			}

			if len(beam) > 0 {
				bestDist := beam[0].dist
				for _, b := range beam {
					if b.dist != bestDist {
						break
					}
					matchBBs[b.bb] = struct{}{}
				}
				matchBBs[beam[0].bb] = struct{}{}
			}
		} else {
			for bb := range bbs {
				matchBBs[bb] = struct{}{}
			}
		}
	}
	return matchBBs
}

// genXrefPatterns applies the shared xref -> (parts, hasFormat) derivation
// used by both RegexMatcher and BBMatcher: strip a trailing newline, split
// on format specifiers, and reject literals whose non-specifier content is
// 3 bytes or less (too weak a signal to match on).
func genXrefPatterns(cfg *CFG) (patterns [][][]byte, info []MatchInfo) {
	for _, xref := range sortedXrefs(cfg.StringXref) {
		literal := bytes.TrimRight(xref.Literal, "\n")
		parts := splitOnFormatSpecifiers(literal)
		hasFormat := len(parts) > 1

		lenAllParts := 0
		for _, p := range parts {
			lenAllParts += len(p)
		}
		if lenAllParts <= 3 {
			continue
		}

		var nonEmpty [][]byte
		for _, p := range parts {
			if len(p) > 0 {
				nonEmpty = append(nonEmpty, p)
			}
		}
		patterns = append(patterns, nonEmpty)
		info = append(info, MatchInfo{Xref: xref, HasFormat: hasFormat})
	}
	return patterns, info
}

// RegexMatcher matches xref literals against text via a per-literal regex
// built the same way BBMatcher splits a literal into atoms, but joining
// the atoms with "([^\n]*)" and compiling a single regex per xref instead
// of running a shared automaton. Ported from bb_match.py's RegexMatcher.
type RegexMatcher struct {
	cfg                   *CFG
	cg                    *CallGraph
	idxToMatchInfo        []MatchInfo
	compiled              []*regexp.Regexp
	lineToMatchItemsCache map[string][]SeqMatch
}

func NewRegexMatcher(cfg *CFG, cg *CallGraph) *RegexMatcher {
	m := &RegexMatcher{cfg: cfg, cg: cg, lineToMatchItemsCache: make(map[string][]SeqMatch)}

	patterns, info := genXrefPatterns(cfg)
	for i, parts := range patterns {
		escaped := make([][]byte, len(parts))
		for j, p := range parts {
			escaped[j] = []byte(regexp.QuoteMeta(string(p)))
		}
		newPattern := string(bytes.Join(escaped, []byte(`([^\n]*)`)))
		re, err := regexp.Compile(newPattern)
		if err != nil {
			fmt.Fprintf(os.Stderr, "RegexMatcher: skipping literal %q: %v\n", info[i].Xref.Literal, err)
			continue
		}
		m.idxToMatchInfo = append(m.idxToMatchInfo, info[i])
		m.compiled = append(m.compiled, re)
	}
	return m
}

func (m *RegexMatcher) matchLine(line []byte) []SeqMatch {
	var raw []matchItem
	for patIdx, re := range m.compiled {
		locs := re.FindAllSubmatchIndex(line, -1)
		numGroups := re.NumSubexp()
		for _, loc := range locs {
			if loc[0] == loc[1] {
				continue
			}
			var gaps []gapRange
			for g := 1; g <= numGroups; g++ {
				s, e := loc[2*g], loc[2*g+1]
				if s < 0 {
					continue
				}
				gaps = append(gaps, gapRange{s, e})
			}
			raw = append(raw, matchItem{patIdx: patIdx, gaps: gaps, begin: loc[0], end: loc[1]})
		}
	}
	sort.SliceStable(raw, func(i, j int) bool {
		if raw[i].begin != raw[j].begin {
			return raw[i].begin < raw[j].begin
		}
		return raw[i].end > raw[j].end
	})
	return selectLongestMatches(raw, len(line))
}

// SearchBBs processes text line by line (caching each line's match items)
// and runs CDBI over the accumulated results.
func (m *RegexMatcher) SearchBBs(text []byte) map[*BB]struct{} {
	var matchItems []SeqMatch
	for _, line := range splitLinesKeepEnds(text) {
		if bytes.Equal(line, []byte("\n")) {
			continue
		}
		key := string(line)
		lineMatches, ok := m.lineToMatchItemsCache[key]
		if !ok {
			lineMatches = m.matchLine(line)
			m.lineToMatchItemsCache[key] = lineMatches
		}
		matchItems = append(matchItems, lineMatches...)
	}
	return CDBI(matchItems, m.idxToMatchInfo, m.cg)
}

// BBMatcher is the primary matcher: every xref literal becomes a
// gap-separated sequence of atoms fed to a shared SeqMatcher, and CDBI
// resolves ambiguous multi-BB xrefs. Ported from bb_match.py's BBMatcher.
type BBMatcher struct {
	cfg                   *CFG
	cg                    *CallGraph
	idxToMatchInfo        []MatchInfo
	seqMatcher            *SeqMatcher
	lineToMatchItemsCache map[string][]SeqMatch
}

func NewBBMatcher(cfg *CFG, cg *CallGraph) *BBMatcher {
	patterns, info := genXrefPatterns(cfg)
	return &BBMatcher{
		cfg:                   cfg,
		cg:                    cg,
		idxToMatchInfo:        info,
		seqMatcher:            NewSeqMatcher(patterns),
		lineToMatchItemsCache: make(map[string][]SeqMatch),
	}
}

// Search returns the distinct pattern indices matched anywhere in text.
func (m *BBMatcher) Search(text []byte) []int {
	seen := make(map[int]struct{})
	for _, r := range m.seqMatcher.Search(text) {
		seen[r.PatIdx] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// SearchBBsWithoutBeam skips CDBI's beam search, attributing every
// candidate BB of a multi-BB xref instead of disambiguating. Requires
// SearchBBs to have already populated the line cache for every line in
// text — it is meant for re-scoring an already-cached run, not cold use.
func (m *BBMatcher) SearchBBsWithoutBeam(text []byte) map[*BB]struct{} {
	var matchItems []SeqMatch
	for _, line := range splitLinesKeepEnds(text) {
		if bytes.Equal(line, []byte("\n")) {
			continue
		}
		lineMatches, ok := m.lineToMatchItemsCache[string(line)]
		if !ok {
			panic("SearchBBsWithoutBeam needs SearchBBs to run beforehand: experiment is done wrong")
		}
		matchItems = append(matchItems, lineMatches...)
	}

	matchBBs := make(map[*BB]struct{})
	for _, item := range matchItems {
		xref := m.idxToMatchInfo[item.PatIdx].Xref
		for patIdx := range item.Inner {
			sx := m.idxToMatchInfo[patIdx].Xref
			for bb := range sx.BBs {
				matchBBs[bb] = struct{}{}
			}
		}
		for bb := range xref.BBs {
			matchBBs[bb] = struct{}{}
		}
	}
	return matchBBs
}

func (m *BBMatcher) SearchBBsNoCache(text []byte) map[*BB]struct{} {
	results := m.seqMatcher.Search(text)
	return CDBI(results, m.idxToMatchInfo, m.cg)
}

// SearchBBs is the main entry point: process text line by line, reusing
// cached per-line match items, then resolve the accumulated matches via
// CDBI.
func (m *BBMatcher) SearchBBs(text []byte) map[*BB]struct{} {
	var matchItems []SeqMatch
	for _, line := range splitLinesKeepEnds(text) {
		if bytes.Equal(line, []byte("\n")) {
			continue
		}
		key := string(line)
		if cached, ok := m.lineToMatchItemsCache[key]; ok {
			matchItems = append(matchItems, cached...)
			continue
		}
		lineMatches := m.seqMatcher.Search(line)
		m.lineToMatchItemsCache[key] = lineMatches
		matchItems = append(matchItems, lineMatches...)
	}
	return CDBI(matchItems, m.idxToMatchInfo, m.cg)
}

// augmentDominators unions every matched BB's dominator and
// post-dominator sets into the match set: if a BB definitely ran, so did
// everything that dominates or post-dominates it.
func augmentDominators(orig map[*BB]struct{}) map[*BB]struct{} {
	out := make(map[*BB]struct{}, len(orig))
	for bb := range orig {
		out[bb] = struct{}{}
	}
	for bb := range orig {
		for d := range bb.Doms {
			out[d] = struct{}{}
		}
		for d := range bb.PDoms {
			out[d] = struct{}{}
		}
	}
	return out
}

// augmentMustBBs extends augmentDominators with a conservative edge
// inference: a BB with exactly one predecessor or successor edge implies
// everything that edge's EdgeImplicates set records.
func augmentMustBBs(orig map[*BB]struct{}) map[*BB]struct{} {
	matchBBs := augmentDominators(orig)
	implicate := make(map[*BB]struct{})
	for bb := range matchBBs {
		if len(bb.Pred) == 1 {
			for pred := range bb.Pred {
				for x := range pred.EdgeImplicates[bb] {
					implicate[x] = struct{}{}
				}
			}
		}
		if len(bb.Succ) == 1 {
			for succ := range bb.Succ {
				for x := range bb.EdgeImplicates[succ] {
					implicate[x] = struct{}{}
				}
			}
		}
	}
	for x := range implicate {
		matchBBs[x] = struct{}{}
	}
	return matchBBs
}

// aggressiveAugment infers that edge (bb, succ) was traversed whenever
// both endpoints are already in the match set, pulling in that edge's
// EdgeImplicates. This is aggressive and can easily add false positives:
// given bb1 -> bb3 directly and bb1 -> bb2 -> bb3, if only bb1 and bb3 are
// confirmed, this also infers the direct bb1->bb3 edge was taken even when
// the execution actually went through bb2.
func aggressiveAugment(orig map[*BB]struct{}) map[*BB]struct{} {
	matchBBs := augmentDominators(orig)
	implicate := make(map[*BB]struct{})
	for bb := range matchBBs {
		for succ := range bb.Succ {
			if _, ok := matchBBs[succ]; ok {
				for x := range bb.EdgeImplicates[succ] {
					implicate[x] = struct{}{}
				}
			}
		}
	}
	for x := range implicate {
		matchBBs[x] = struct{}{}
	}
	return matchBBs
}
