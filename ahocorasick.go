package main

import "sort"

// AhoCorasick is a multi-pattern matching automaton (goto/failure/output
// tables). Ported from original_source/src/AhoCorasick.py. Patterns are
// addressed by index into the slice passed to NewAhoCorasick; callers
// (seqmatch.go) are responsible for deduplicating atoms before
// construction, since a shared automaton over duplicate patterns wastes
// states for no benefit.
type AhoCorasick struct {
	patterns [][]byte
	goTo     []map[byte]int // node -> transition table
	failure  []int
	output   [][]int // node -> pattern indices matched at this node, sorted by pattern length ascending
}

// Match is a single occurrence of patterns[PatternIdx] in the searched
// text, as a half-open byte range [Start, End).
type Match struct {
	PatternIdx int
	Start, End int
}

// NewAhoCorasick builds the automaton over patterns.
func NewAhoCorasick(patterns [][]byte) *AhoCorasick {
	ac := &AhoCorasick{patterns: patterns}
	ac.build()
	return ac
}

func (ac *AhoCorasick) newNode() int {
	ac.goTo = append(ac.goTo, make(map[byte]int))
	ac.failure = append(ac.failure, 0)
	ac.output = append(ac.output, nil)
	return len(ac.goTo) - 1
}

func (ac *AhoCorasick) build() {
	ac.newNode() // root = 0

	for i, pat := range ac.patterns {
		cur := 0
		for _, c := range pat {
			next, ok := ac.goTo[cur][c]
			if !ok {
				next = ac.newNode()
				ac.goTo[cur][c] = next
			}
			cur = next
		}
		ac.output[cur] = append(ac.output[cur], i)
	}

	var queue []int
	for _, next := range ac.goTo[0] {
		ac.failure[next] = 0
		queue = append(queue, next)
	}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for c, next := range ac.goTo[node] {
			fail := ac.failure[node]
			for fail > 0 {
				if _, ok := ac.goTo[fail][c]; ok {
					break
				}
				fail = ac.failure[fail]
			}
			if target, ok := ac.goTo[fail][c]; ok {
				fail = target
			}
			ac.failure[next] = fail
			queue = append(queue, next)
			if ac.output[fail] != nil {
				ac.output[next] = append(ac.output[next], ac.output[fail]...)
			}
		}
	}

	for _, outs := range ac.output {
		sort.SliceStable(outs, func(i, j int) bool {
			return len(ac.patterns[outs[i]]) < len(ac.patterns[outs[j]])
		})
	}
}

// SearchWithPositions scans text once, returning every (pattern, range)
// match, sorted by (End asc, Start desc) — matches completing earlier in
// the text come first; among matches ending at the same position, the one
// starting latest (the shortest) comes first.
func (ac *AhoCorasick) SearchWithPositions(text []byte) []Match {
	var res []Match
	cur := 0
	for idx, c := range text {
		for cur != 0 {
			if _, ok := ac.goTo[cur][c]; ok {
				break
			}
			cur = ac.failure[cur]
		}
		if next, ok := ac.goTo[cur][c]; ok {
			cur = next
		} else {
			cur = 0
		}
		for _, pi := range ac.output[cur] {
			res = append(res, Match{
				PatternIdx: pi,
				Start:      idx - len(ac.patterns[pi]) + 1,
				End:        idx + 1,
			})
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].End != res[j].End {
			return res[i].End < res[j].End
		}
		return res[i].Start > res[j].Start
	})
	return res
}

// reverseBytes returns a newly allocated reversal of b.
func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[len(b)-1-i] = c
	}
	return out
}

// ReversedAhoCorasick matches patterns against a text with both sides
// reversed, then maps hit offsets back into the original (forward)
// coordinate space. We care about the order results are discovered in —
// reversing search direction changes which matches are found "first" at a
// given end-of-text offset, which is what seqmatch.go's gap-aware scan
// relies on.
type ReversedAhoCorasick struct {
	ac *AhoCorasick
}

func NewReversedAhoCorasick(patterns [][]byte) *ReversedAhoCorasick {
	reversed := make([][]byte, len(patterns))
	for i, p := range patterns {
		reversed[i] = reverseBytes(p)
	}
	return &ReversedAhoCorasick{ac: NewAhoCorasick(reversed)}
}

func (r *ReversedAhoCorasick) SearchWithPositions(text []byte) []Match {
	rev := reverseBytes(text)
	hits := r.ac.SearchWithPositions(rev)
	out := make([]Match, len(hits))
	n := len(text)
	for i, h := range hits {
		out[i] = Match{
			PatternIdx: h.PatternIdx,
			Start:      n - h.End,
			End:        n - h.Start,
		}
	}
	return out
}
