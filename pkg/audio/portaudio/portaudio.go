// Package portaudio implements [audio.Source] on top of the PortAudio
// blocking stream API. It captures a single mono float32 channel from the
// default input device or from a device selected by name.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/nypyp/metahuman-stream/pkg/audio"
)

// Device describes one input-capable device reported by PortAudio.
type Device struct {
	Index             int
	Name              string
	HostAPI           string
	MaxInputChannels  int
	DefaultSampleRate float64
	Default           bool
}

// Devices lists every device with at least one input channel.
// Returns [audio.ErrNoInputDevice] when the list would be empty.
func Devices() ([]Device, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	defer pa.Terminate()

	infos, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	def, _ := pa.DefaultInputDevice()

	var out []Device
	for i, info := range infos {
		if info.MaxInputChannels <= 0 {
			continue
		}
		d := Device{
			Index:             i,
			Name:              info.Name,
			MaxInputChannels:  info.MaxInputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
			Default:           def != nil && def.Name == info.Name,
		}
		if info.HostApi != nil {
			d.HostAPI = info.HostApi.Name
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, audio.ErrNoInputDevice
	}
	return out, nil
}

// Option is a functional option for [Open].
type Option func(*Source)

// WithDevice selects the first input device whose name contains name
// (case-insensitive). An empty name selects the system default.
func WithDevice(name string) Option {
	return func(s *Source) { s.deviceName = name }
}

// WithSampleRate sets the capture rate. Default: [audio.DefaultSampleRate].
func WithSampleRate(rate int) Option {
	return func(s *Source) {
		if rate > 0 {
			s.rate = rate
		}
	}
}

// WithFrameDuration sets the amount of audio returned per frame.
// Default: [audio.DefaultFrameDuration].
func WithFrameDuration(d time.Duration) Option {
	return func(s *Source) {
		if d > 0 {
			s.frameDuration = d
		}
	}
}

// Source captures microphone audio through PortAudio.
type Source struct {
	deviceName    string
	rate          int
	frameDuration time.Duration

	mu     sync.Mutex
	stream *pa.Stream
	buf    []float32
	read   int64
	closed bool
}

var _ audio.Source = (*Source)(nil)

// Open initialises PortAudio, selects an input device and starts a mono
// float32 input stream. The returned Source must be closed to release the
// device and terminate PortAudio.
func Open(opts ...Option) (*Source, error) {
	s := &Source{
		rate:          audio.DefaultSampleRate,
		frameDuration: audio.DefaultFrameDuration,
	}
	for _, o := range opts {
		o(s)
	}

	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}

	dev, err := s.selectDevice()
	if err != nil {
		_ = pa.Terminate()
		return nil, err
	}

	s.buf = make([]float32, audio.FrameSize(s.rate, s.frameDuration))
	params := pa.LowLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(s.rate)
	params.FramesPerBuffer = len(s.buf)

	stream, err := pa.OpenStream(params, s.buf)
	if err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: open stream on %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: start stream on %q: %w", dev.Name, err)
	}
	s.stream = stream

	slog.Info("microphone opened",
		"device", dev.Name,
		"sample_rate", s.rate,
		"frame_samples", len(s.buf),
	)
	return s, nil
}

func (s *Source) selectDevice() (*pa.DeviceInfo, error) {
	if s.deviceName == "" {
		dev, err := pa.DefaultInputDevice()
		if err != nil || dev == nil {
			return nil, fmt.Errorf("%w: %v", audio.ErrNoInputDevice, err)
		}
		return dev, nil
	}

	infos, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	want := strings.ToLower(s.deviceName)
	for _, info := range infos {
		if info.MaxInputChannels > 0 && strings.Contains(strings.ToLower(info.Name), want) {
			return info, nil
		}
	}
	return nil, fmt.Errorf("%w: no input device matching %q", audio.ErrNoInputDevice, s.deviceName)
}

// ReadFrame blocks until one frame has been captured. Input overflows are
// logged and tolerated; every other stream error is returned.
func (s *Source) ReadFrame(ctx context.Context) (audio.Frame, error) {
	if err := ctx.Err(); err != nil {
		return audio.Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.Frame{}, errors.New("portaudio: source closed")
	}

	if err := s.stream.Read(); err != nil {
		if !errors.Is(err, pa.InputOverflowed) {
			return audio.Frame{}, fmt.Errorf("portaudio: read: %w", err)
		}
		slog.Debug("microphone input overflowed")
	}

	samples := make([]float32, len(s.buf))
	copy(samples, s.buf)
	ts := time.Duration(s.read) * time.Second / time.Duration(s.rate)
	s.read += int64(len(samples))
	return audio.Frame{Samples: samples, SampleRate: s.rate, Timestamp: ts}, nil
}

// SampleRate implements [audio.Source].
func (s *Source) SampleRate() int { return s.rate }

// Close stops the stream and terminates PortAudio. Safe to call more than once.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.stream.Stop(), s.stream.Close(), pa.Terminate())
}
