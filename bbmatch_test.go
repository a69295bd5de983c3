package main

import "testing"

func TestSplitOnFormatSpecifiers(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"no specifiers here", []string{"no specifiers here"}},
		{"opening file %s failed", []string{"opening file ", " failed"}},
		{"retrying %d of %d times", []string{"retrying ", " of ", " times"}},
		{"%s", []string{"", ""}},
	}
	for _, c := range cases {
		got := splitOnFormatSpecifiers([]byte(c.in))
		if len(got) != len(c.want) {
			t.Errorf("splitOnFormatSpecifiers(%q) = %q, want %q", c.in, got, c.want)
			continue
		}
		for i := range got {
			if string(got[i]) != c.want[i] {
				t.Errorf("splitOnFormatSpecifiers(%q)[%d] = %q, want %q", c.in, i, got[i], c.want[i])
			}
		}
	}
}

func TestSplitLinesKeepEnds(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a\n", []string{"a\n"}},
		{"a\nb", []string{"a\n", "b"}},
		{"a\nb\n", []string{"a\n", "b\n"}},
	}
	for _, c := range cases {
		got := splitLinesKeepEnds([]byte(c.in))
		if len(got) != len(c.want) {
			t.Errorf("splitLinesKeepEnds(%q) = %q, want %q", c.in, got, c.want)
			continue
		}
		for i := range got {
			if string(got[i]) != c.want[i] {
				t.Errorf("splitLinesKeepEnds(%q)[%d] = %q, want %q", c.in, i, got[i], c.want[i])
			}
		}
	}
}

// buildXrefCFG builds a CFG with a single function whose BB(s) reference the
// given literals, one BB per literal unless literalToBBs maps a literal to
// more than one owning BB (for multi-candidate / CDBI tests).
func buildXrefCFG(t *testing.T, literalToBBs map[string][]Addr) (*CFG, map[string]*Xref) {
	t.Helper()
	cfg := newCFG()
	f := newFunc(0x1000)
	cfg.Funcs[f.Addr] = f

	xrefs := make(map[string]*Xref)
	for literal, addrs := range literalToBBs {
		x := newXref([]byte(literal))
		xrefs[literal] = x
		for _, addr := range addrs {
			bb, ok := f.BBs[addr]
			if !ok {
				bb = newBB(addr, f)
				bb.End = addr + 0xf
				f.registerBB(bb)
			}
			bb.Xrefs[x] = struct{}{}
			x.BBs[bb] = struct{}{}
		}
		cfg.StringXref[literal] = x
	}
	return cfg, xrefs
}

func TestGenXrefPatternsSplitsAndFiltersShort(t *testing.T) {
	cfg, _ := buildXrefCFG(t, map[string][]Addr{
		"opening file %s failed\n": {0x1000},
		"ok\n":                     {0x1010}, // 2 bytes after trimming newline, filtered out
	})

	patterns, info := genXrefPatterns(cfg)
	if len(patterns) != 1 {
		t.Fatalf("expected 1 pattern (short literal filtered), got %d: %v", len(patterns), patterns)
	}
	if info[0].Xref.Literal == nil {
		t.Fatalf("expected xref info to be populated")
	}
	if !info[0].HasFormat {
		t.Errorf("expected HasFormat=true for a literal containing %%s")
	}
	if len(patterns[0]) != 2 {
		t.Errorf("expected 2 non-empty atoms, got %v", patterns[0])
	}
}

func TestBBMatcherSearchBBsSingleCandidate(t *testing.T) {
	cfg, _ := buildXrefCFG(t, map[string][]Addr{
		"opening file %s failed\n": {0x1000},
	})
	cg := BuildCallGraph(cfg.FuncList())
	cg.BuildFuncDistanceMap()
	m := NewBBMatcher(cfg, cg)

	got := m.SearchBBs([]byte("opening file /etc/passwd failed\n"))
	if len(got) != 1 {
		t.Fatalf("expected 1 matched BB, got %d: %v", len(got), got)
	}
	for bb := range got {
		if bb.Start != 0x1000 {
			t.Errorf("matched BB = %#x, want 0x1000", bb.Start)
		}
	}
}

func TestBBMatcherNoMatchForUnrelatedText(t *testing.T) {
	cfg, _ := buildXrefCFG(t, map[string][]Addr{
		"opening file %s failed\n": {0x1000},
	})
	cg := BuildCallGraph(cfg.FuncList())
	cg.BuildFuncDistanceMap()
	m := NewBBMatcher(cfg, cg)

	got := m.SearchBBs([]byte("totally unrelated output\n"))
	if len(got) != 0 {
		t.Errorf("expected no matches, got %v", got)
	}
}

func TestCDBIDisambiguatesViaCallGraphDistance(t *testing.T) {
	// Three functions each with one BB; "near" is a literal uniquely owned
	// by funcNear's BB, used as context. "ambiguous" is referenced by both
	// funcNear's and funcFar's BBs. funcNear is called by caller, while
	// funcFar has no caller, so funcFar shares no ancestor with funcNear:
	// its distance to the context BB is the sentinel 100, against 0 for
	// funcNear's own BB, so CDBI should prefer funcNear's BB for the
	// ambiguous literal.
	cfg := newCFG()

	caller := newFunc(0x100)
	callerBB := newBB(0x100, caller)
	caller.registerBB(callerBB)
	cfg.Funcs[caller.Addr] = caller

	near := newFunc(0x200)
	nearBB := newBB(0x200, near)
	near.registerBB(nearBB)
	cfg.Funcs[near.Addr] = near

	far := newFunc(0x9000)
	farBB := newBB(0x9000, far)
	far.registerBB(farBB)
	cfg.Funcs[far.Addr] = far

	wireCall(caller, near, callerBB)

	nearLit := "a distinctive nearby marker\n"
	nearXref := newXref([]byte(nearLit))
	nearXref.BBs[nearBB] = struct{}{}
	nearBB.Xrefs[nearXref] = struct{}{}
	cfg.StringXref[nearLit] = nearXref

	ambigLit := "an ambiguous shared marker\n"
	ambigXref := newXref([]byte(ambigLit))
	ambigXref.BBs[nearBB] = struct{}{}
	ambigXref.BBs[farBB] = struct{}{}
	nearBB.Xrefs[ambigXref] = struct{}{}
	farBB.Xrefs[ambigXref] = struct{}{}
	cfg.StringXref[ambigLit] = ambigXref

	cg := BuildCallGraph([]*Func{caller, near, far})
	cg.BuildFuncDistanceMap()

	m := NewBBMatcher(cfg, cg)
	text := []byte("a distinctive nearby marker\nan ambiguous shared marker\n")
	got := m.SearchBBs(text)

	if _, ok := got[nearBB]; !ok {
		t.Errorf("expected nearBB (closer in call graph) to be selected, got %v", got)
	}
}

func TestAugmentDominatorsUnionsDomAndPDom(t *testing.T) {
	f, entry, a, _, join := buildDiamondFunc()
	buildDominators(f)
	buildPostDominators(f)

	orig := map[*BB]struct{}{a: {}}
	augmented := augmentDominators(orig)

	if _, ok := augmented[entry]; !ok {
		t.Errorf("expected entry (dominator of a) to be pulled in")
	}
	if _, ok := augmented[join]; !ok {
		t.Errorf("expected join (post-dominator of a) to be pulled in")
	}
}

func TestAugmentMustBBsFollowsSingleSuccEdgeImplication(t *testing.T) {
	f := newFunc(0x1000)
	a := newBB(0x1000, f)
	b := newBB(0x1010, f)
	f.registerBB(a)
	f.registerBB(b)
	a.Succ[b] = struct{}{}
	f.updatePreds()
	buildDominators(f)
	buildPostDominators(f)

	implied := newBB(0x2000, f) // stands in for a BB collapsed during minimization
	a.implicate(b)[implied] = struct{}{}

	got := augmentMustBBs(map[*BB]struct{}{a: {}})
	if _, ok := got[implied]; !ok {
		t.Errorf("expected implied BB to be pulled in via the single successor edge, got %v", got)
	}
}
