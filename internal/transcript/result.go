// Package transcript carries finalized utterances from the capture loop to
// the relay.
//
// Ownership moves through a [Slot]: the capture loop is the only writer, the
// relay the only reader, and a published [Result] is never overwritten before
// it has been taken.
package transcript

import "time"

// Result is one finalized utterance.
type Result struct {
	// RunID identifies the process run that produced the result.
	RunID string

	// SegmentID numbers finalized utterances from 0 within a run.
	SegmentID int

	// Text is the final transcript. Never empty.
	Text string

	// PublishedAt is when the capture loop handed the result off.
	PublishedAt time.Time
}
