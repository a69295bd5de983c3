package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/ncruces/go-strftime"
)

var jst = time.FixedZone("JST", 9*60*60)

// Progress reports pipeline progress to stderr with elapsed time, the way
// the CPG pipeline's progress reporter does, extended with a per-process
// session id (useful for correlating log lines across a long-lived fuzz
// server) and a JST-stamped startup banner mirroring bz_common.py's
// setup_logging, which pins its formatter to JST regardless of host
// timezone.
type Progress struct {
	start   time.Time
	verbose bool
	session string
	color   bool
}

// NewProgress creates a progress reporter and prints its startup banner.
func NewProgress(verbose bool) *Progress {
	p := &Progress{
		start:   time.Now(),
		verbose: verbose,
		session: uuid.New().String(),
		color:   isatty.IsTerminal(os.Stderr.Fd()),
	}
	p.banner()
	return p
}

func (p *Progress) banner() {
	stamp := strftime.Format("%Y-%m-%d %H:%M:%S JST", time.Now().In(jst))
	fmt.Fprintf(os.Stderr, "%s session=%s starting\n", stamp, p.session)
}

// Log prints a progress message with elapsed time prefix.
func (p *Progress) Log(format string, args ...any) {
	elapsed := time.Since(p.start)
	mins := int(elapsed.Minutes())
	secs := int(elapsed.Seconds()) % 60
	msg := fmt.Sprintf(format, args...)
	if p.color {
		fmt.Fprintf(os.Stderr, "\x1b[36m[%02d:%02d]\x1b[0m %s\n", mins, secs, msg)
	} else {
		fmt.Fprintf(os.Stderr, "[%02d:%02d] %s\n", mins, secs, msg)
	}
}

// Verbose prints only when verbose mode is enabled.
func (p *Progress) Verbose(format string, args ...any) {
	if p.verbose {
		p.Log(format, args...)
	}
}
