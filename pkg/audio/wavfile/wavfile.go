// Package wavfile implements [audio.Source] over a PCM WAV file.
//
// Multi-channel files are downmixed to mono. Frames are emitted at the file's
// native sample rate; the final partial frame is zero-padded. Optional
// trailing silence lets an endpoint detector observe the end of an utterance
// that runs up to the end of the recording.
package wavfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/nypyp/metahuman-stream/pkg/audio"
)

// ErrInvalidFile is returned by [Open] for files that are not PCM WAV.
var ErrInvalidFile = errors.New("wavfile: not a valid PCM wav file")

// Option is a functional option for [Open].
type Option func(*Source)

// WithFrameDuration sets the amount of audio per frame.
// Default: [audio.DefaultFrameDuration].
func WithFrameDuration(d time.Duration) Option {
	return func(s *Source) {
		if d > 0 {
			s.frameDuration = d
		}
	}
}

// WithRealtime paces ReadFrame so frames are delivered no faster than the
// audio they contain, as a live microphone would.
func WithRealtime(enabled bool) Option {
	return func(s *Source) { s.realtime = enabled }
}

// WithTrailingSilence appends d of silence after the file's last sample.
func WithTrailingSilence(d time.Duration) Option {
	return func(s *Source) {
		if d > 0 {
			s.tail = d
		}
	}
}

// Source reads fixed-size mono frames from a WAV file.
type Source struct {
	frameDuration time.Duration
	realtime      bool
	tail          time.Duration

	mu        sync.Mutex
	f         *os.File
	dec       *wav.Decoder
	buf       *goaudio.IntBuffer
	channels  int
	bitDepth  int
	rate      int
	frameSize int
	emitted   int64
	tailLeft  int64
	eof       bool
	start     time.Time
}

var _ audio.Source = (*Source)(nil)

// Open opens path and prepares it for frame-by-frame reading.
func Open(path string, opts ...Option) (*Source, error) {
	s := &Source{frameDuration: audio.DefaultFrameDuration}
	for _, o := range opts {
		o(s)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: open %q: %w", path, err)
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("%w: %q", ErrInvalidFile, path)
	}
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("wavfile: seek to pcm in %q: %w", path, err)
	}

	s.f = f
	s.dec = dec
	s.rate = int(dec.SampleRate)
	s.channels = max(int(dec.NumChans), 1)
	s.bitDepth = int(dec.BitDepth)
	s.frameSize = audio.FrameSize(s.rate, s.frameDuration)
	if s.frameSize == 0 {
		f.Close()
		return nil, fmt.Errorf("%w: %q has sample rate %d", ErrInvalidFile, path, s.rate)
	}
	s.tailLeft = int64(audio.FrameSize(s.rate, s.tail))
	s.buf = &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: s.channels, SampleRate: s.rate},
		Data:   make([]int, s.frameSize*s.channels),
	}
	return s, nil
}

// ReadFrame returns the next frame, or io.EOF once the file and any trailing
// silence have been consumed.
func (s *Source) ReadFrame(ctx context.Context) (audio.Frame, error) {
	if err := ctx.Err(); err != nil {
		return audio.Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.realtime {
		if err := s.pace(ctx); err != nil {
			return audio.Frame{}, err
		}
	}

	samples := make([]float32, s.frameSize)
	n := 0
	if !s.eof {
		var err error
		n, err = s.readPCM(samples)
		if err != nil {
			return audio.Frame{}, err
		}
	}
	if n == 0 {
		if s.tailLeft <= 0 {
			return audio.Frame{}, io.EOF
		}
		s.tailLeft -= int64(s.frameSize)
	}

	ts := time.Duration(s.emitted) * time.Second / time.Duration(s.rate)
	s.emitted += int64(s.frameSize)
	return audio.Frame{Samples: samples, SampleRate: s.rate, Timestamp: ts}, nil
}

// readPCM fills dst with up to one frame of mono samples and reports how many
// input frames were read. dst beyond that count is left zeroed.
func (s *Source) readPCM(dst []float32) (int, error) {
	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("wavfile: read pcm: %w", err)
	}
	if n < len(s.buf.Data) || errors.Is(err, io.EOF) {
		s.eof = true
	}
	mono := audio.Downmix(audio.IntToFloat32(s.buf.Data[:n], s.bitDepth), s.channels)
	copy(dst, mono)
	return len(mono), nil
}

func (s *Source) pace(ctx context.Context) error {
	if s.start.IsZero() {
		s.start = time.Now()
		return nil
	}
	due := s.start.Add(time.Duration(s.emitted) * time.Second / time.Duration(s.rate))
	wait := time.Until(due)
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SampleRate returns the file's native sample rate.
func (s *Source) SampleRate() int { return s.rate }

// Close releases the underlying file.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
