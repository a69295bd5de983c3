package main

import (
	"path/filepath"
	"testing"
)

func TestMatchCacheInMemory(t *testing.T) {
	c, err := OpenMatchCache("")
	if err != nil {
		t.Fatalf("OpenMatchCache: %v", err)
	}
	defer c.Close()

	line := []byte("connection refused\n")
	if ok, err := c.Get(line, new([]int)); ok || err != nil {
		t.Fatalf("expected miss on empty cache, got ok=%v err=%v", ok, err)
	}

	if err := c.Put(line, []int{1, 2, 3}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var got []int
	ok, err := c.Get(line, &got)
	if err != nil || !ok {
		t.Fatalf("Get after Put: ok=%v err=%v", ok, err)
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("Get returned %v, want [1 2 3]", got)
	}
}

func TestMatchCacheSQLitePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	c1, err := OpenMatchCache(path)
	if err != nil {
		t.Fatalf("OpenMatchCache: %v", err)
	}
	line := []byte("segmentation fault\n")
	if err := c1.Put(line, []int{42}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c2, err := OpenMatchCache(path)
	if err != nil {
		t.Fatalf("reopen OpenMatchCache: %v", err)
	}
	defer c2.Close()

	var got []int
	ok, err := c2.Get(line, &got)
	if err != nil || !ok {
		t.Fatalf("Get after reopen: ok=%v err=%v", ok, err)
	}
	if len(got) != 1 || got[0] != 42 {
		t.Errorf("Get after reopen returned %v, want [42]", got)
	}
}

func TestMatchCacheMissOnDifferentLine(t *testing.T) {
	c, err := OpenMatchCache("")
	if err != nil {
		t.Fatalf("OpenMatchCache: %v", err)
	}
	defer c.Close()

	if err := c.Put([]byte("line a\n"), []int{1}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ok, err := c.Get([]byte("line b\n"), new([]int)); ok || err != nil {
		t.Errorf("expected miss for a different line, got ok=%v err=%v", ok, err)
	}
}
