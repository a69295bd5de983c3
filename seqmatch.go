package main

import "sort"

// SeqMatcher finds occurrences of gap-separated multi-atom patterns (the
// pieces a printf-style literal splits into around its format specifiers)
// in a byte stream, rejecting candidate gaps that span a newline. Ported
// from original_source/src/SeqMatcher.py.

type gapRange struct{ begin, end int }

// matchItem is an internal full-pattern occurrence still carrying its gap
// list, before selectLongestMatches replaces the gaps with the set of
// pattern indices found nested inside them.
type matchItem struct {
	patIdx     int
	gaps       []gapRange
	begin, end int
}

// SeqMatch is the externally visible result: a selected, non-overlapping
// occurrence of patterns[PatIdx], plus the indices of any other pattern
// found matching entirely inside one of its gaps.
type SeqMatch struct {
	PatIdx     int
	Inner      map[int]struct{}
	Begin, End int
}

// queryFiller scans matches from minIdx forward for the first entry fully
// contained in [begin, end). Returns (idx+1, true) on a hit, or the index
// of the first match starting at or after end (with false) otherwise.
func queryFiller(matches []matchItem, begin, end, minIdx int) (int, bool) {
	for idx := minIdx; idx < len(matches); idx++ {
		mi := matches[idx]
		if mi.begin >= end {
			return idx, false
		}
		if mi.begin >= begin && mi.end <= end {
			return idx + 1, true
		}
	}
	return len(matches), false
}

// selectLongestMatches greedily walks matches (sorted by begin asc, end
// desc) picking the first non-overlapping candidate at each position, and
// for each selected match resolves which pattern (if any) lies entirely
// inside each of its gaps (the first such candidate per gap).
func selectLongestMatches(matches []matchItem, textLen int) []SeqMatch {
	var selected []SeqMatch
	occupiedEnd := 0
	i := 0
	for i < len(matches) && occupiedEnd < textLen {
		nextIdx, hasHit := queryFiller(matches, occupiedEnd, textLen, i)
		if !hasHit {
			i = nextIdx
			continue
		}
		candidate := matches[nextIdx-1]

		inner := make(map[int]struct{})
		for _, g := range candidate.gaps {
			nextIdxGap, hasHitGap := queryFiller(matches, g.begin, g.end, nextIdx)
			if !hasHitGap {
				continue
			}
			inner[matches[nextIdxGap-1].patIdx] = struct{}{}
		}

		occupiedEnd = candidate.end
		i = nextIdx
		selected = append(selected, SeqMatch{
			PatIdx: candidate.patIdx,
			Inner:  inner,
			Begin:  candidate.begin,
			End:    candidate.end,
		})
	}
	return selected
}

func hasNewlineBetween(newlinePositions []int, start, end int) bool {
	idx := sort.Search(len(newlinePositions), func(i int) bool { return newlinePositions[i] >= start })
	return idx < len(newlinePositions) && newlinePositions[idx] < end
}

type atomHit struct{ atomOff, start, end int }

// getFullMatches sequences per-atom occurrences into full-pattern matches:
// for each pattern, anchor on every occurrence of atom 0 and greedily
// extend through atoms 1..N-1, each time taking the earliest occurrence
// starting at or after the previous atom's end, rejecting the extension if
// doing so would cross a newline.
func getFullMatches(patMatches map[int][]atomHit, newlinePositions []int, patterns [][][]byte) []matchItem {
	patIdxs := make([]int, 0, len(patMatches))
	for k := range patMatches {
		patIdxs = append(patIdxs, k)
	}
	sort.Ints(patIdxs)

	var out []matchItem
	for _, patIdx := range patIdxs {
		atomsMatches := make(map[int][][2]int)
		for _, h := range patMatches[patIdx] {
			atomsMatches[h.atomOff] = append(atomsMatches[h.atomOff], [2]int{h.start, h.end})
		}

		curForefront := 0
		for _, first := range atomsMatches[0] {
			startIdx, lastEnd := first[0], first[1]
			var gaps []gapRange
			valid := true

			for atomOff := 1; atomOff < len(patterns[patIdx]); atomOff++ {
				nextMatches := atomsMatches[atomOff]
				nextIdx := sort.Search(len(nextMatches), func(k int) bool { return nextMatches[k][0] >= lastEnd })
				if nextIdx >= len(nextMatches) {
					valid = false
					break
				}
				nextStart, nextEnd := nextMatches[nextIdx][0], nextMatches[nextIdx][1]
				if hasNewlineBetween(newlinePositions, lastEnd, nextStart) {
					valid = false
					break
				}
				gaps = append(gaps, gapRange{lastEnd, nextStart})
				lastEnd = nextEnd
			}

			if !valid {
				continue
			}
			if lastEnd <= curForefront {
				out = out[:len(out)-1]
			}
			out = append(out, matchItem{patIdx: patIdx, gaps: gaps, begin: startIdx, end: lastEnd})
			curForefront = lastEnd
		}
	}
	return out
}

// SeqMatcher deduplicates atoms across all patterns before building the
// underlying Aho-Corasick automata, so a shared literal fragment (e.g. a
// common prefix word across two printf formats) costs one automaton state
// instead of two.
type SeqMatcher struct {
	patterns          [][][]byte
	atomInfo          []struct{ patIdx, atomIdx int }
	patternToIndices  map[string][]int
	uniqueAtoms       [][]byte
	ac                *AhoCorasick
	rac               *ReversedAhoCorasick
}

// NewSeqMatcher builds a matcher over patterns, where each pattern is the
// ordered list of literal atoms a single source literal was split into
// around its format-specifier gaps.
func NewSeqMatcher(patterns [][][]byte) *SeqMatcher {
	sm := &SeqMatcher{
		patterns:         patterns,
		patternToIndices: make(map[string][]int),
	}

	seen := make(map[string]struct{})
	for patIdx, atoms := range patterns {
		for atomIdx, atom := range atoms {
			cur := len(sm.atomInfo)
			sm.atomInfo = append(sm.atomInfo, struct{ patIdx, atomIdx int }{patIdx, atomIdx})
			key := string(atom)
			sm.patternToIndices[key] = append(sm.patternToIndices[key], cur)
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				sm.uniqueAtoms = append(sm.uniqueAtoms, atom)
			}
		}
	}

	sm.ac = NewAhoCorasick(sm.uniqueAtoms)
	sm.rac = NewReversedAhoCorasick(sm.uniqueAtoms)
	return sm
}

// Search scans text for every pattern, returning the selected
// non-overlapping, newline-respecting occurrences.
func (sm *SeqMatcher) Search(text []byte) []SeqMatch {
	var newlinePositions []int
	for i, c := range text {
		if c == '\n' {
			newlinePositions = append(newlinePositions, i)
		}
	}

	hits := sm.rac.SearchWithPositions(text)

	patMatches := make(map[int][]atomHit)
	for i := len(hits) - 1; i >= 0; i-- {
		h := hits[i]
		atom := sm.uniqueAtoms[h.PatternIdx]
		for _, origIdx := range sm.patternToIndices[string(atom)] {
			info := sm.atomInfo[origIdx]
			patMatches[info.patIdx] = append(patMatches[info.patIdx], atomHit{
				atomOff: info.atomIdx,
				start:   h.Start,
				end:     h.End,
			})
		}
	}

	full := getFullMatches(patMatches, newlinePositions, sm.patterns)
	sort.SliceStable(full, func(i, j int) bool {
		if full[i].begin != full[j].begin {
			return full[i].begin < full[j].begin
		}
		return full[i].end > full[j].end
	})

	return selectLongestMatches(full, len(text))
}
