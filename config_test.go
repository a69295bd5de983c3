package main

import (
	"os"
	"testing"
)

func clearFuzzEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"FUZZ_STATIC_ANALYSIS_PATH", "FUZZ_OUT_DIR_PATH", "FUZZ_MAX_LINES",
		"FUZZ_USE_LABRADOR_LOW", "FUZZ_USE_LABRADOR_HIGH", "FUZZ_NOT_START_SERVER",
		"FUZZ_CACHE_PATH",
	} {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadConfigRequiresPaths(t *testing.T) {
	clearFuzzEnv(t)
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when FUZZ_STATIC_ANALYSIS_PATH/FUZZ_OUT_DIR_PATH are unset")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearFuzzEnv(t)
	os.Setenv("FUZZ_STATIC_ANALYSIS_PATH", "/tmp/sa")
	os.Setenv("FUZZ_OUT_DIR_PATH", "/tmp/out")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.MaxLines != defaultMaxLines {
		t.Errorf("MaxLines = %d, want default %d", cfg.MaxLines, defaultMaxLines)
	}
	if cfg.Matcher != MatcherBB {
		t.Errorf("Matcher = %v, want MatcherBB", cfg.Matcher)
	}
	if cfg.NotStartServer {
		t.Errorf("NotStartServer = true, want false")
	}
}

func TestLoadConfigLabradorMutualExclusion(t *testing.T) {
	clearFuzzEnv(t)
	os.Setenv("FUZZ_STATIC_ANALYSIS_PATH", "/tmp/sa")
	os.Setenv("FUZZ_OUT_DIR_PATH", "/tmp/out")
	os.Setenv("FUZZ_USE_LABRADOR_LOW", "1")
	os.Setenv("FUZZ_USE_LABRADOR_HIGH", "1")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when both FUZZ_USE_LABRADOR_LOW and _HIGH are set")
	}
}

func TestLoadConfigLabradorHighEpsilon(t *testing.T) {
	clearFuzzEnv(t)
	os.Setenv("FUZZ_STATIC_ANALYSIS_PATH", "/tmp/sa")
	os.Setenv("FUZZ_OUT_DIR_PATH", "/tmp/out")
	os.Setenv("FUZZ_USE_LABRADOR_HIGH", "1")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Matcher != MatcherLabradorHigh {
		t.Errorf("Matcher = %v, want MatcherLabradorHigh", cfg.Matcher)
	}
	if got := cfg.LabradorEpsilon(); got != 0.70 {
		t.Errorf("LabradorEpsilon() = %f, want 0.70", got)
	}
}

func TestLoadConfigMaxLinesParseError(t *testing.T) {
	clearFuzzEnv(t)
	os.Setenv("FUZZ_STATIC_ANALYSIS_PATH", "/tmp/sa")
	os.Setenv("FUZZ_OUT_DIR_PATH", "/tmp/out")
	os.Setenv("FUZZ_MAX_LINES", "not-a-number")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for non-numeric FUZZ_MAX_LINES")
	}
}
