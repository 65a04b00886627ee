package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// ProgressReporter shows the elapsed time of a page load while it runs.
type ProgressReporter struct {
	label    string
	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
	start    time.Time
}

// NewProgressReporter creates a reporter that redraws its line at the given interval.
func NewProgressReporter(label string, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		label:    label,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
		start:    time.Now(),
	}
}

// Start begins drawing in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return
	}
	go p.run()
}

// Stop halts drawing and ends the line.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprintf(p.writer, "\r%s ... %s", p.label, time.Since(p.start).Round(100*time.Millisecond))
		case <-p.done:
			fmt.Fprintln(p.writer)
			return
		}
	}
}
