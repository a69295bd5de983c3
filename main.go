package main

import (
	"flag"
	"fmt"
	"os"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Using a separate function ensures all
// defers (including closing the match cache) execute even on error
// paths, unlike os.Exit which skips deferred calls.
func run() error {
	verbose := flag.Bool("verbose", false, "Print detailed progress")
	oneShot := flag.Bool("one-shot", false, "Process the current PUT response once and exit, instead of serving fd 88/89 requests")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: shepherd [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Recovers likely-traversed basic blocks from a target's recovered CFG\n")
		fmt.Fprintf(os.Stderr, "and its program output, for greybox fuzzer feedback.\n\n")
		fmt.Fprintf(os.Stderr, "Configuration is read from the FUZZ_* environment variables.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	prog := NewProgress(*verbose)

	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	if cfg.NotStartServer {
		*oneShot = true
	}

	prog.Log("Loading static analysis artifacts from %s", cfg.StaticAnalysisPath)
	artifacts, err := LoadArtifacts(cfg.StaticAnalysisPath)
	if err != nil {
		return fmt.Errorf("loading static analysis artifacts: %w", err)
	}
	prog.Log("Loaded %d functions, %d basic blocks, %d string xrefs",
		artifacts.CFG.NumFuncs(), artifacts.CFG.NumBBs(), len(artifacts.CFG.StringXref))

	transformer := NewTransformer(artifacts.CFG, prog)
	transformer.RunAllPasses()
	prog.Log("Minimized to %d functions, %d basic blocks", artifacts.CFG.NumFuncs(), artifacts.CFG.NumBBs())

	artifacts.CFG.BuildDominators()

	cg := BuildCallGraph(artifacts.CFG.FuncList())
	cg.BuildFuncDistanceMap()

	cache, err := OpenMatchCache(cfg.CachePath)
	if err != nil {
		return fmt.Errorf("opening match cache: %w", err)
	}
	defer cache.Close()

	server := NewServer(cfg, artifacts, cg, prog)
	server.cache = cache

	if *oneShot {
		return server.processFuzzerRequest()
	}

	prog.Log("Warming up...")
	return server.Run()
}
