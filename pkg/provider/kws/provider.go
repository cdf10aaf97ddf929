// Package kws defines the keyword-spotting contract consumed by the capture
// loop. A [Spotter] owns the model; a [Stream] accumulates audio and exposes a
// step-wise decode protocol:
//
//	stream.AcceptWaveform(rate, samples)
//	for stream.IsReady() {
//	    stream.Decode()
//	}
//	if kw := stream.Keyword(); kw != "" { ... }
//
// Implementations live in sub-packages (sherpa, phonetic, mock).
package kws

// Spotter is a loaded keyword-spotting model.
type Spotter interface {
	// NewStream creates an accumulator bound to this spotter.
	NewStream() (Stream, error)

	// Close releases model resources. Streams must be closed first.
	Close() error
}

// Stream is a keyword-spotting accumulator. Streams are not safe for
// concurrent use.
type Stream interface {
	// AcceptWaveform appends mono float32 samples at sampleRate.
	AcceptWaveform(sampleRate int, samples []float32)

	// IsReady reports whether enough audio is buffered for a decode step.
	IsReady() bool

	// Decode runs one decode step.
	Decode()

	// Keyword returns the keyword matched by the most recent decode steps, or
	// "" when nothing matched.
	Keyword() string

	// Reset clears the match state so the next detection starts fresh.
	Reset()

	// Close releases the stream.
	Close()
}
