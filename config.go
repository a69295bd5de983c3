package main

import (
	"fmt"
	"os"
	"strconv"
)

const defaultMaxLines = 5000

// MatcherMode selects which matcher backs coverage inference for a run,
// mirroring fuzz_server.py's FUZZ_USE_LABRADOR_LOW/FUZZ_USE_LABRADOR_HIGH
// switch.
type MatcherMode int

const (
	MatcherBB MatcherMode = iota
	MatcherLabradorLow
	MatcherLabradorHigh
)

// Config is the process-wide configuration read once at startup.
type Config struct {
	StaticAnalysisPath string
	OutDirPath         string
	MaxLines           int
	Matcher            MatcherMode
	NotStartServer     bool
	CachePath          string
}

// LoadConfig reads spec.md §6's FUZZ_* environment variables. Ported
// from original_source/src/fuzz_server.py's read_env_configs/
// read_max_lines_to_read and main()'s FUZZ_USE_LABRADOR_* handling.
func LoadConfig() (*Config, error) {
	staticPath := os.Getenv("FUZZ_STATIC_ANALYSIS_PATH")
	if staticPath == "" {
		return nil, fmt.Errorf("FUZZ_STATIC_ANALYSIS_PATH is not set")
	}
	outDir := os.Getenv("FUZZ_OUT_DIR_PATH")
	if outDir == "" {
		return nil, fmt.Errorf("FUZZ_OUT_DIR_PATH is not set")
	}

	maxLines := defaultMaxLines
	if raw := os.Getenv("FUZZ_MAX_LINES"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("FUZZ_MAX_LINES: %w", err)
		}
		maxLines = n
	}

	_, useLow := os.LookupEnv("FUZZ_USE_LABRADOR_LOW")
	_, useHigh := os.LookupEnv("FUZZ_USE_LABRADOR_HIGH")
	if useLow && useHigh {
		return nil, fmt.Errorf("FUZZ_USE_LABRADOR_LOW and FUZZ_USE_LABRADOR_HIGH are mutually exclusive")
	}

	matcher := MatcherBB
	switch {
	case useLow:
		matcher = MatcherLabradorLow
	case useHigh:
		matcher = MatcherLabradorHigh
	}

	_, notStart := os.LookupEnv("FUZZ_NOT_START_SERVER")

	return &Config{
		StaticAnalysisPath: staticPath,
		OutDirPath:         outDir,
		MaxLines:           maxLines,
		Matcher:            matcher,
		NotStartServer:     notStart,
		CachePath:          os.Getenv("FUZZ_CACHE_PATH"),
	}, nil
}

// LabradorEpsilon returns the similarity threshold matching the active
// Labrador mode: 0.70 for the high-precision variant, 0.35 for the
// high-recall one. Ported from fuzz_server.py's epsilon constants.
func (c *Config) LabradorEpsilon() float64 {
	if c.Matcher == MatcherLabradorHigh {
		return 0.70
	}
	return 0.35
}
