package main

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const (
	requestFD  = 88
	responseFD = 89
)

// Server drives the fd 88/89 request/response protocol: block on a 4-byte
// read from fd 88 (any content is a "go" signal), run one coverage pass
// over the current stdout.txt/stderr.txt, write the resulting vertex
// indices to edges.txt, then write "DONE" to fd 89. Ported from
// original_source/src/fuzz_server.py's start_fuzz_server.
type Server struct {
	cfg       *Config
	coverage  func([]byte) map[*BB]struct{}
	vertexIdx map[Addr]int
	outDir    string
	prog      *Progress

	// cache, when non-nil, persists whole-response hash -> matched
	// address list across process restarts, so an already-seen PUT
	// response doesn't re-run the matcher after a fuzz server restart.
	cache *MatchCache

	seenBytes    map[[32]byte]struct{}
	seenVertices map[Addr]struct{}
}

// NewServer wires a coverage function appropriate to cfg.Matcher against
// the already-minimized CFG in artifacts.
func NewServer(cfg *Config, artifacts *Artifacts, cg *CallGraph, prog *Progress) *Server {
	var coverage func([]byte) map[*BB]struct{}
	switch cfg.Matcher {
	case MatcherLabradorLow, MatcherLabradorHigh:
		lm := NewLabradorMatcher(artifacts.CFG, cfg.LabradorEpsilon())
		coverage = lm.GetLabradorBBs
	default:
		bm := NewBBMatcher(artifacts.CFG, cg)
		coverage = bm.SearchBBs
	}

	return &Server{
		cfg:          cfg,
		coverage:     coverage,
		vertexIdx:    artifacts.VertexIdxMap,
		outDir:       cfg.OutDirPath,
		prog:         prog,
		seenBytes:    make(map[[32]byte]struct{}),
		seenVertices: make(map[Addr]struct{}),
	}
}

// loadPUTResponse reads stdout.txt then stderr.txt, deduping consecutive
// duplicate lines *within* each file independently (the duplicate tracker
// resets between files, so a trailing stdout line and a matching leading
// stderr line are not deduped against each other), and returns the
// concatenation of at most cfg.MaxLines trailing lines.
func (s *Server) loadPUTResponse() ([]byte, error) {
	var lines [][]byte
	for _, name := range []string{"stdout.txt", "stderr.txt"} {
		data, err := os.ReadFile(filepath.Join(s.outDir, name))
		if err != nil {
			return nil, err
		}
		var prev []byte
		for _, line := range splitLinesKeepEnds(data) {
			if prev == nil || !bytes.Equal(line, prev) {
				lines = append(lines, line)
			}
			prev = line
		}
	}
	if len(lines) > s.cfg.MaxLines {
		lines = lines[len(lines)-s.cfg.MaxLines:]
	}
	return bytes.Join(lines, nil), nil
}

func (s *Server) calcVertexIdx(addr Addr) (int, error) {
	idx, ok := s.vertexIdx[addr]
	if !ok {
		return 0, fmt.Errorf("address %#x not present in vertex index map", addr)
	}
	return idx, nil
}

// saveAddrsForFuzzer writes one hex vertex index per line to edges.txt,
// and records each address as seen for the eventual all_vertices.txt dump.
func (s *Server) saveAddrsForFuzzer(addrs []Addr) error {
	f, err := os.Create(filepath.Join(s.outDir, "edges.txt"))
	if err != nil {
		return err
	}
	defer f.Close()

	for _, addr := range addrs {
		idx, err := s.calcVertexIdx(addr)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(f, "%x\n", idx); err != nil {
			return err
		}
		s.seenVertices[addr] = struct{}{}
	}
	return nil
}

// processFuzzerRequest loads the PUT's current response and, if its
// content hash was already seen this process's lifetime, writes an empty
// edges.txt (spec.md's documented behavior for a repeated request) instead
// of re-running the matcher. Otherwise it runs the configured coverage
// function and writes the resulting vertex indices.
func (s *Server) processFuzzerRequest() error {
	wholeBytes, err := s.loadPUTResponse()
	if err != nil {
		return err
	}

	hash := sha256.Sum256(wholeBytes)
	if _, seen := s.seenBytes[hash]; seen {
		return s.saveAddrsForFuzzer(nil)
	}
	s.seenBytes[hash] = struct{}{}

	if s.cache != nil {
		var cachedAddrs []Addr
		if ok, err := s.cache.Get(wholeBytes, &cachedAddrs); err == nil && ok {
			return s.saveAddrsForFuzzer(cachedAddrs)
		}
	}

	bbs := s.coverage(wholeBytes)
	addrs := make([]Addr, 0, len(bbs))
	for bb := range bbs {
		addrs = append(addrs, bb.Start)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	if s.cache != nil {
		_ = s.cache.Put(wholeBytes, addrs)
	}

	return s.saveAddrsForFuzzer(addrs)
}

// saveAllVertices writes every address seen over the process's lifetime
// (as a raw hex address, not a vertex index) to all_vertices.txt.
func (s *Server) saveAllVertices() error {
	f, err := os.Create(filepath.Join(s.outDir, "all_vertices.txt"))
	if err != nil {
		return err
	}
	defer f.Close()

	addrs := make([]Addr, 0, len(s.seenVertices))
	for a := range s.seenVertices {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	for _, a := range addrs {
		if _, err := fmt.Fprintf(f, "%x\n", a); err != nil {
			return err
		}
	}
	return nil
}

// Run blocks on fd 88 for a 4-byte signal, processes one request, writes
// "DONE" to fd 89, and repeats until a read or processing error occurs —
// at which point it flushes all_vertices.txt and returns.
func (s *Server) Run() error {
	readFile := os.NewFile(uintptr(requestFD), "fuzz-request")
	writeFile := os.NewFile(uintptr(responseFD), "fuzz-response")
	defer readFile.Close()
	defer writeFile.Close()

	buf := make([]byte, 4)
	for count := 1; ; count++ {
		fmt.Printf("Server is READY: %d\n", count)

		if err := s.step(readFile, writeFile, buf); err != nil {
			fmt.Fprintf(os.Stderr, "Server: Fuzzer stopped: %v\n", err)
			return s.saveAllVertices()
		}
	}
}

func (s *Server) step(readFile, writeFile *os.File, buf []byte) error {
	if _, err := readFile.Read(buf); err != nil {
		return err
	}
	if err := s.processFuzzerRequest(); err != nil {
		return err
	}
	_, err := writeFile.Write([]byte("DONE"))
	return err
}
