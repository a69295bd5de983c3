package main

import "testing"

func TestSeqMatcherSingleAtomPattern(t *testing.T) {
	sm := NewSeqMatcher([][][]byte{{[]byte("connection refused")}})
	matches := sm.Search([]byte("error: connection refused\n"))
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d: %v", len(matches), matches)
	}
	if matches[0].PatIdx != 0 {
		t.Errorf("expected pattern 0, got %d", matches[0].PatIdx)
	}
}

func TestSeqMatcherGapBetweenAtoms(t *testing.T) {
	// "opening file %s failed" split around %s -> ["opening file ", " failed"]
	sm := NewSeqMatcher([][][]byte{{[]byte("opening file "), []byte(" failed")}})
	matches := sm.Search([]byte("opening file /etc/passwd failed\n"))
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d: %v", len(matches), matches)
	}
	if matches[0].Begin != 0 {
		t.Errorf("expected match to start at 0, got %d", matches[0].Begin)
	}
}

func TestSeqMatcherRejectsGapAcrossNewline(t *testing.T) {
	sm := NewSeqMatcher([][][]byte{{[]byte("opening file "), []byte(" failed")}})
	matches := sm.Search([]byte("opening file \n/etc/passwd failed\n"))
	if len(matches) != 0 {
		t.Errorf("expected no match when gap spans a newline, got %v", matches)
	}
}

func TestSeqMatcherInnerPatternInsideGap(t *testing.T) {
	// Pattern 1 ("retry") occurs fully inside pattern 0's gap.
	sm := NewSeqMatcher([][][]byte{
		{[]byte("begin "), []byte(" end")},
		{[]byte("retry")},
	})
	matches := sm.Search([]byte("begin retry end\n"))

	var outer *SeqMatch
	for i := range matches {
		if matches[i].PatIdx == 0 {
			outer = &matches[i]
		}
	}
	if outer == nil {
		t.Fatalf("expected pattern 0 to match, got %v", matches)
	}
	if _, ok := outer.Inner[1]; !ok {
		t.Errorf("expected pattern 1 recorded as inner match of pattern 0's gap, got %v", outer.Inner)
	}
}

func TestSeqMatcherNoMatchWhenAtomMissing(t *testing.T) {
	sm := NewSeqMatcher([][][]byte{{[]byte("foo"), []byte("bar")}})
	matches := sm.Search([]byte("foo without the other atom\n"))
	if len(matches) != 0 {
		t.Errorf("expected no match, got %v", matches)
	}
}
