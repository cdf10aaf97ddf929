package capture

import (
	"fmt"
	"io"
	"sync"
)

// Reporter receives human-facing progress while the machine runs. It is
// informational only; implementations must tolerate any text.
type Reporter interface {
	Keyword(keyword string)
	Partial(segmentID int, text string)
	Final(segmentID int, text string)
}

// NopReporter discards all progress.
type NopReporter struct{}

func (NopReporter) Keyword(string)      {}
func (NopReporter) Partial(int, string) {}
func (NopReporter) Final(int, string)   {}

// TerminalReporter rewrites a single console line with the growing partial
// transcript and ends the line when the utterance is final.
type TerminalReporter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTerminalReporter writes progress to w.
func NewTerminalReporter(w io.Writer) *TerminalReporter {
	return &TerminalReporter{w: w}
}

func (r *TerminalReporter) Keyword(keyword string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, "\r%s\n", keyword)
}

func (r *TerminalReporter) Partial(segmentID int, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, "\r%d:%s", segmentID, text)
}

func (r *TerminalReporter) Final(segmentID int, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, "\r%d:%s\n", segmentID, text)
}
