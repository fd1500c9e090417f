// Package progress renders CLI progress output with an optional spinner.
package progress

import (
	"fmt"
	"time"

	"github.com/briandowns/spinner"
)

const (
	spinnerDelay   = 100 * time.Millisecond
	spinnerCharSet = 14
	spinnerColor   = "cyan"
)

// Progress prints build progress. In verbose mode every update is a plain
// log line; in quiet mode nothing is printed; otherwise a spinner line is
// updated in place.
type Progress struct {
	verbose bool
	quiet   bool
	s       *spinner.Spinner
}

// New creates a Progress printer configured for verbose/quiet output.
func New(verbose, quiet bool) *Progress {
	p := &Progress{
		verbose: verbose,
		quiet:   quiet,
	}

	if quiet || verbose {
		return p
	}

	p.s = spinner.New(spinner.CharSets[spinnerCharSet], spinnerDelay)
	_ = p.s.Color(spinnerColor)
	p.s.Start()

	return p
}

// Updatef updates the spinner line or prints a log line in verbose mode.
func (p *Progress) Updatef(format string, args ...any) {
	if p.quiet {
		return
	}

	if p.s != nil {
		p.s.Suffix = fmt.Sprintf(" "+format, args...)
		return
	}

	fmt.Printf(format+"\n", args...)
}

// Printf prints a persistent line that survives spinner updates.
func (p *Progress) Printf(format string, args ...any) {
	if p.quiet {
		return
	}

	if p.s != nil {
		p.s.Stop()
		fmt.Printf(format+"\n", args...)
		p.s.Start()
		return
	}

	fmt.Printf(format+"\n", args...)
}

// Stop halts the spinner, leaving the terminal clean.
func (p *Progress) Stop() {
	if p.s != nil {
		p.s.Stop()
	}
}
