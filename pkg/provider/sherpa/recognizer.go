package sherpa

import (
	"fmt"
	"log/slog"
	"strings"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/nypyp/metahuman-stream/pkg/provider/asr"
)

// RecognizerConfig configures a streaming transducer recognizer.
type RecognizerConfig struct {
	Model ModelConfig

	// DecodingMethod is greedy_search or modified_beam_search.
	// Default: greedy_search.
	DecodingMethod string

	// MaxActivePaths for modified_beam_search. Default: 4.
	MaxActivePaths int

	// Endpoint rules. Zero fields take [asr.DefaultEndpointConfig] values.
	Endpoint asr.EndpointConfig

	// HotwordsFile biases decoding toward listed phrases. Optional; only
	// honoured with modified_beam_search.
	HotwordsFile string

	// HotwordsScore per hotword token. Default: 1.5.
	HotwordsScore float32

	// BlankPenalty subtracted from the blank logit during decoding.
	BlankPenalty float32
}

func (c RecognizerConfig) withDefaults() RecognizerConfig {
	c.Model = c.Model.withDefaults()
	if c.DecodingMethod == "" {
		c.DecodingMethod = "greedy_search"
	}
	if c.MaxActivePaths <= 0 {
		c.MaxActivePaths = 4
	}
	c.Endpoint = c.Endpoint.WithDefaults()
	if c.HotwordsScore <= 0 {
		c.HotwordsScore = 1.5
	}
	return c
}

// Recognizer is an [asr.Recognizer] backed by a sherpa-onnx online recognizer
// with endpoint detection enabled.
type Recognizer struct {
	impl *sherpa.OnlineRecognizer
}

var _ asr.Recognizer = (*Recognizer)(nil)

// NewRecognizer checks the model files and loads the recognizer.
func NewRecognizer(cfg RecognizerConfig) (*Recognizer, error) {
	cfg = cfg.withDefaults()
	files := map[string]string{
		"tokens":  cfg.Model.Tokens,
		"encoder": cfg.Model.Encoder,
		"decoder": cfg.Model.Decoder,
		"joiner":  cfg.Model.Joiner,
	}
	if cfg.HotwordsFile != "" {
		files["hotwords"] = cfg.HotwordsFile
	}
	if err := checkFiles(files); err != nil {
		return nil, err
	}

	var c sherpa.OnlineRecognizerConfig
	c.FeatConfig.SampleRate = featureSampleRate
	c.FeatConfig.FeatureDim = featureDim
	c.ModelConfig = cfg.Model.online()
	c.DecodingMethod = cfg.DecodingMethod
	c.MaxActivePaths = cfg.MaxActivePaths
	c.EnableEndpoint = 1
	c.Rule1MinTrailingSilence = float32(cfg.Endpoint.Rule1MinTrailingSilence.Seconds())
	c.Rule2MinTrailingSilence = float32(cfg.Endpoint.Rule2MinTrailingSilence.Seconds())
	c.Rule3MinUtteranceLength = float32(cfg.Endpoint.Rule3MinUtteranceLength.Seconds())
	c.HotwordsFile = cfg.HotwordsFile
	c.HotwordsScore = cfg.HotwordsScore
	c.BlankPenalty = cfg.BlankPenalty

	impl := sherpa.NewOnlineRecognizer(&c)
	if impl == nil {
		return nil, fmt.Errorf("%w: online recognizer %q", ErrInitFailed, cfg.Model.Encoder)
	}
	slog.Info("recognizer loaded",
		"encoder", cfg.Model.Encoder,
		"decoding_method", cfg.DecodingMethod,
		"rule1", cfg.Endpoint.Rule1MinTrailingSilence,
		"rule2", cfg.Endpoint.Rule2MinTrailingSilence,
		"rule3", cfg.Endpoint.Rule3MinUtteranceLength,
	)
	return &Recognizer{impl: impl}, nil
}

// NewStream implements [asr.Recognizer].
func (r *Recognizer) NewStream() (asr.Stream, error) {
	st := sherpa.NewOnlineStream(r.impl)
	if st == nil {
		return nil, fmt.Errorf("%w: online stream", ErrInitFailed)
	}
	return &recognizerStream{rec: r.impl, stream: st}, nil
}

// Close implements [asr.Recognizer].
func (r *Recognizer) Close() error {
	if r.impl != nil {
		sherpa.DeleteOnlineRecognizer(r.impl)
		r.impl = nil
	}
	return nil
}

type recognizerStream struct {
	rec    *sherpa.OnlineRecognizer
	stream *sherpa.OnlineStream
}

func (s *recognizerStream) AcceptWaveform(sampleRate int, samples []float32) {
	s.stream.AcceptWaveform(sampleRate, samples)
}

func (s *recognizerStream) IsReady() bool { return s.rec.IsReady(s.stream) }

func (s *recognizerStream) Decode() { s.rec.Decode(s.stream) }

func (s *recognizerStream) Result() string {
	return strings.TrimSpace(s.rec.GetResult(s.stream).Text)
}

func (s *recognizerStream) IsEndpoint() bool { return s.rec.IsEndpoint(s.stream) }

func (s *recognizerStream) Reset() { s.rec.Reset(s.stream) }

func (s *recognizerStream) Close() {
	if s.stream != nil {
		sherpa.DeleteOnlineStream(s.stream)
		s.stream = nil
	}
}
