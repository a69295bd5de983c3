package main

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// funcJSON/bbJSON mirror CFG_analysis.txt's schema: a JSON object keyed by
// decimal function entry address, each holding a nested object keyed by
// decimal BB start address.
type funcJSON struct {
	BBs map[string]bbJSON `json:"BBs"`
}

type bbJSON struct {
	EndAddr  *uint64  `json:"end_addr"`
	DstBBs   []uint64 `json:"dst_bbs"`
	CallFunc []uint64 `json:"call_func"`
}

// ArtifactXref mirrors the pre-resolution shape of an xref as produced by
// the binary-recovery pipeline: a literal plus the raw address sets that
// get resolved against the CFG_analysis.txt funcnode/BB graph. This is the
// payload pickle_analysis.bin would carry; here it is gob-encoded instead
// of pickled (spec.md §6 permits substituting "any equivalent binary
// encoding" as long as this schema is preserved).
type ArtifactXref struct {
	Literal   []byte
	ROAddrs   []Addr
	FuncAddrs []Addr
	BBAddrs   []Addr
}

type analysisBinary struct {
	Xrefs []ArtifactXref
}

// Artifacts is everything LoadArtifacts recovers from a static-analysis
// output directory.
type Artifacts struct {
	CFG          *CFG
	BaseAddr     Addr
	VertexIdxMap map[Addr]int
	EdgeIdxMap   map[[2]Addr]int
}

// LoadArtifacts reads CFG_analysis.txt, pickle_analysis.bin,
// baseaddr.txt, vertex.txt, and edge.txt out of dir and assembles a fully
// wired CFG. Ported from original_source/src/bz_common.py's
// load_static_analysis_result and CFG_recover.py's struct_CFG.
func LoadArtifacts(dir string) (*Artifacts, error) {
	cfg := newCFG()

	funcs, err := loadCFGAnalysisJSON(filepath.Join(dir, "CFG_analysis.txt"))
	if err != nil {
		return nil, fmt.Errorf("loading CFG_analysis.txt: %w", err)
	}

	// Pass 1: materialize every Func/BB so cross-references resolve
	// regardless of declaration order in the JSON.
	for addrStr, fj := range funcs {
		addr, err := strconv.ParseUint(addrStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("func addr %q: %w", addrStr, err)
		}
		f := newFunc(addr)
		cfg.Funcs[addr] = f
		for bbAddrStr, bj := range fj.BBs {
			bbAddr, err := strconv.ParseUint(bbAddrStr, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("bb addr %q: %w", bbAddrStr, err)
			}
			bb := newBB(bbAddr, f)
			if bj.EndAddr != nil {
				bb.End = *bj.EndAddr
			}
			f.registerBB(bb)
		}
	}

	var allBBs []*BB
	for _, f := range cfg.Funcs {
		for _, bb := range f.BBs {
			allBBs = append(allBBs, bb)
		}
	}
	cfg.addr2bb = newAddrToBBLookup(allBBs)

	// Pass 2: wire dst_bbs/call_func now that every BB/Func exists.
	for addrStr, fj := range funcs {
		addr, _ := strconv.ParseUint(addrStr, 10, 64)
		f := cfg.Funcs[addr]
		for bbAddrStr, bj := range fj.BBs {
			bbAddr, _ := strconv.ParseUint(bbAddrStr, 10, 64)
			bb := f.BBs[bbAddr]
			for _, dst := range bj.DstBBs {
				dstBB, ok := f.BBs[dst]
				if !ok {
					continue
				}
				bb.Succ[dstBB] = struct{}{}
				dstBB.Pred[bb] = struct{}{}
			}
			for _, calleeAddr := range bj.CallFunc {
				callee, ok := cfg.Funcs[calleeAddr]
				if !ok {
					continue
				}
				bb.Callees[callee] = struct{}{}
				f.Callees[callee] = struct{}{}
				callee.Xrefs[bb] = struct{}{}
			}
		}
	}

	if err := loadAnalysisBinary(filepath.Join(dir, "pickle_analysis.bin"), cfg); err != nil {
		return nil, fmt.Errorf("loading pickle_analysis.bin: %w", err)
	}

	baseAddr, err := loadBaseAddr(filepath.Join(dir, "baseaddr.txt"))
	if err != nil {
		return nil, fmt.Errorf("loading baseaddr.txt: %w", err)
	}
	vertexIdx, err := loadVertexIdxMap(filepath.Join(dir, "vertex.txt"))
	if err != nil {
		return nil, fmt.Errorf("loading vertex.txt: %w", err)
	}
	edgeIdx, err := loadEdgeIdxMap(filepath.Join(dir, "edge.txt"))
	if err != nil {
		return nil, fmt.Errorf("loading edge.txt: %w", err)
	}

	return &Artifacts{
		CFG:          cfg,
		BaseAddr:     baseAddr,
		VertexIdxMap: vertexIdx,
		EdgeIdxMap:   edgeIdx,
	}, nil
}

func loadCFGAnalysisJSON(path string) (map[string]funcJSON, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out map[string]funcJSON
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// loadAnalysisBinary decodes the xref table and resolves each xref's raw
// address sets against the already-wired CFG, mirroring struct_CFG's
// funcnode_addr/bb_addr resolution loop.
func loadAnalysisBinary(path string, cfg *CFG) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var payload analysisBinary
	if err := gob.NewDecoder(f).Decode(&payload); err != nil {
		return err
	}

	for _, ax := range payload.Xrefs {
		xref := newXref(ax.Literal)
		for _, a := range ax.ROAddrs {
			xref.ROAddrs[a] = struct{}{}
		}
		for _, funcAddr := range ax.FuncAddrs {
			owner, ok := cfg.Funcs[funcAddr]
			if !ok {
				continue
			}
			xref.Funcnodes[funcAddr] = struct{}{}
			for _, bbAddr := range ax.BBAddrs {
				if bb, ok := owner.BBs[bbAddr]; ok {
					xref.BBs[bb] = struct{}{}
				}
			}
		}
		for bb := range xref.BBs {
			bb.Xrefs[xref] = struct{}{}
		}
		cfg.StringXref[string(xref.Literal)] = xref
	}
	return nil
}

func loadBaseAddr(path string) (Addr, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(data)), 0, 64)
}

func loadVertexIdxMap(path string) (map[Addr]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := make(map[Addr]int)
	for i, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		addr, err := strconv.ParseUint(line, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("vertex.txt line %d: %w", i, err)
		}
		out[addr] = i
	}
	return out, nil
}

func loadEdgeIdxMap(path string) (map[[2]Addr]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := make(map[[2]Addr]int)
	idx := 0
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) != 2 {
			return nil, fmt.Errorf("edge.txt malformed line %q", line)
		}
		src, err := strconv.ParseUint(parts[0], 0, 64)
		if err != nil {
			return nil, err
		}
		dst, err := strconv.ParseUint(parts[1], 0, 64)
		if err != nil {
			return nil, err
		}
		out[[2]Addr{src, dst}] = idx
		idx++
	}
	return out, nil
}
