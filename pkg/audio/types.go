// Package audio defines the frame and source abstractions the capture loop
// pulls from, together with PCM conversion helpers.
//
// Sources deliver fixed-size mono frames of float32 samples in [-1, 1]. Every
// call to [Source.ReadFrame] returns exactly one frame; implementations zero-pad
// the final frame of a finite input rather than returning a short one.
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrNoInputDevice is returned by microphone sources when the system exposes
// no usable input device, or when a requested device cannot be found.
var ErrNoInputDevice = errors.New("audio: no input device available")

// DefaultSampleRate is the capture rate used when none is configured.
const DefaultSampleRate = 48000

// DefaultFrameDuration is the amount of audio delivered per frame.
const DefaultFrameDuration = 100 * time.Millisecond

// Frame is one fixed-size block of mono audio.
type Frame struct {
	// Samples holds mono float32 PCM in the range [-1, 1].
	Samples []float32

	// SampleRate in Hz.
	SampleRate int

	// Timestamp marks the start of this frame relative to the start of the source.
	Timestamp time.Duration
}

// Duration reports how much audio the frame carries.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Source is a blocking pull interface for audio frames.
//
// ReadFrame blocks until a full frame is available. A finite source returns
// io.EOF once exhausted; any other error is a source failure and callers
// should treat it as fatal.
type Source interface {
	ReadFrame(ctx context.Context) (Frame, error)

	// SampleRate returns the rate of every frame produced by this source.
	SampleRate() int

	Close() error
}

// FrameSize returns the number of samples in a frame of duration d at
// sampleRate. Returns 0 for non-positive inputs.
func FrameSize(sampleRate int, d time.Duration) int {
	if sampleRate <= 0 || d <= 0 {
		return 0
	}
	return int(int64(sampleRate) * int64(d) / int64(time.Second))
}
