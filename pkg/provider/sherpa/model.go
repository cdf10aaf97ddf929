// Package sherpa provides keyword-spotting and streaming speech-recognition
// backends built on the sherpa-onnx runtime (github.com/k2-fsa/sherpa-onnx-go).
//
// Both backends load zipformer transducer models (tokens, encoder, decoder and
// joiner files). Every model file is checked before the runtime is touched so
// that a missing download is reported as [ErrModelFileMissing] instead of a
// native crash.
package sherpa

import (
	"errors"
	"fmt"
	"os"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"
)

// ErrModelFileMissing is returned when a configured model or resource file
// does not exist.
var ErrModelFileMissing = errors.New("sherpa: model file missing")

// ErrInitFailed is returned when the runtime rejects an otherwise valid config.
var ErrInitFailed = errors.New("sherpa: runtime initialisation failed")

const (
	featureSampleRate = 16000
	featureDim        = 80
)

// ModelConfig locates a transducer model on disk.
type ModelConfig struct {
	Tokens  string
	Encoder string
	Decoder string
	Joiner  string

	// NumThreads for inference. Default: 1.
	NumThreads int

	// Provider is the onnxruntime execution provider: cpu, cuda or coreml.
	// Default: cpu.
	Provider string
}

func (m ModelConfig) withDefaults() ModelConfig {
	if m.NumThreads <= 0 {
		m.NumThreads = 1
	}
	if m.Provider == "" {
		m.Provider = "cpu"
	}
	return m
}

// Check verifies that every model file exists.
func (m ModelConfig) Check() error {
	return checkFiles(map[string]string{
		"tokens":  m.Tokens,
		"encoder": m.Encoder,
		"decoder": m.Decoder,
		"joiner":  m.Joiner,
	})
}

func (m ModelConfig) online() sherpa.OnlineModelConfig {
	var c sherpa.OnlineModelConfig
	c.Transducer.Encoder = m.Encoder
	c.Transducer.Decoder = m.Decoder
	c.Transducer.Joiner = m.Joiner
	c.Tokens = m.Tokens
	c.NumThreads = m.NumThreads
	c.Provider = m.Provider
	return c
}

// checkFiles returns a joined error naming each missing file. Keys are
// descriptive labels; values are paths. An empty path counts as missing.
func checkFiles(files map[string]string) error {
	var errs []error
	for _, label := range []string{"tokens", "encoder", "decoder", "joiner", "keywords", "hotwords"} {
		path, ok := files[label]
		if !ok {
			continue
		}
		if path == "" {
			errs = append(errs, fmt.Errorf("%w: %s path is not configured", ErrModelFileMissing, label))
			continue
		}
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			errs = append(errs, fmt.Errorf("%w: %s %q does not exist", ErrModelFileMissing, label, path))
		}
	}
	return errors.Join(errs...)
}
