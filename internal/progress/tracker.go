// Package progress renders a live row-transfer progress bar.
package progress

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Tracker tracks rows moved across all tables of a job. It satisfies the
// transfer.ProgressSink interface.
type Tracker struct {
	bar       *progressbar.ProgressBar
	quiet     bool
	current   atomic.Int64
	startTime time.Time
}

// New creates a tracker. With quiet set, counters still accumulate but
// nothing is rendered; used when output is piped or JSON-logged.
func New(quiet bool) *Tracker {
	return &Tracker{quiet: quiet, startTime: time.Now()}
}

// SetTotal sets the expected total row count and starts rendering.
func (t *Tracker) SetTotal(total int64) {
	if t.quiet {
		return
	}
	t.bar = progressbar.NewOptions64(
		total,
		progressbar.OptionSetDescription("Migrating"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("rows"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Add increments the row counter.
func (t *Tracker) Add(n int64) {
	t.current.Add(n)
	if t.bar != nil {
		t.bar.Add64(n)
	}
}

// Current returns the rows moved so far.
func (t *Tracker) Current() int64 {
	return t.current.Load()
}

// Finish closes the bar and prints a summary line.
func (t *Tracker) Finish() {
	if t.quiet {
		return
	}
	if t.bar != nil {
		t.bar.Finish()
	}

	elapsed := time.Since(t.startTime)
	rowsPerSec := float64(t.current.Load()) / elapsed.Seconds()

	fmt.Println()
	fmt.Printf("Migrated %d rows in %s (%.0f rows/sec)\n",
		t.current.Load(), elapsed.Round(time.Second), rowsPerSec)
}
