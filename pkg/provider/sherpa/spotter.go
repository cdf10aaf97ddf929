package sherpa

import (
	"fmt"
	"log/slog"
	"strings"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/nypyp/metahuman-stream/pkg/provider/kws"
)

// SpotterConfig configures a keyword spotter.
type SpotterConfig struct {
	Model ModelConfig

	// KeywordsFile lists the keywords to detect; see [kws.Keyword].
	KeywordsFile string

	// KeywordsScore boosts keyword token probabilities. Default: 1.0.
	KeywordsScore float32

	// KeywordsThreshold is the trigger probability. Default: 0.25.
	KeywordsThreshold float32

	// NumTrailingBlanks required after a keyword before it fires. Default: 1.
	NumTrailingBlanks int

	// MaxActivePaths for the beam search. Default: 4.
	MaxActivePaths int
}

func (c SpotterConfig) withDefaults() SpotterConfig {
	c.Model = c.Model.withDefaults()
	if c.KeywordsScore <= 0 {
		c.KeywordsScore = 1.0
	}
	if c.KeywordsThreshold <= 0 {
		c.KeywordsThreshold = 0.25
	}
	if c.NumTrailingBlanks <= 0 {
		c.NumTrailingBlanks = 1
	}
	if c.MaxActivePaths <= 0 {
		c.MaxActivePaths = 4
	}
	return c
}

// Spotter is a [kws.Spotter] backed by a sherpa-onnx keyword spotter.
type Spotter struct {
	impl     *sherpa.KeywordSpotter
	keywords []kws.Keyword
}

var _ kws.Spotter = (*Spotter)(nil)

// NewSpotter checks the model and keyword files and loads the spotter.
func NewSpotter(cfg SpotterConfig) (*Spotter, error) {
	cfg = cfg.withDefaults()
	if err := checkFiles(map[string]string{
		"tokens":   cfg.Model.Tokens,
		"encoder":  cfg.Model.Encoder,
		"decoder":  cfg.Model.Decoder,
		"joiner":   cfg.Model.Joiner,
		"keywords": cfg.KeywordsFile,
	}); err != nil {
		return nil, err
	}
	keywords, err := kws.LoadKeywords(cfg.KeywordsFile)
	if err != nil {
		return nil, err
	}

	var c sherpa.KeywordSpotterConfig
	c.FeatConfig.SampleRate = featureSampleRate
	c.FeatConfig.FeatureDim = featureDim
	c.ModelConfig = cfg.Model.online()
	c.MaxActivePaths = cfg.MaxActivePaths
	c.KeywordsFile = cfg.KeywordsFile
	c.KeywordsScore = cfg.KeywordsScore
	c.KeywordsThreshold = cfg.KeywordsThreshold
	c.NumTrailingBlanks = cfg.NumTrailingBlanks

	impl := sherpa.NewKeywordSpotter(&c)
	if impl == nil {
		return nil, fmt.Errorf("%w: keyword spotter %q", ErrInitFailed, cfg.Model.Encoder)
	}
	slog.Info("keyword spotter loaded",
		"encoder", cfg.Model.Encoder,
		"keywords", strings.Join(kws.Phrases(keywords), ", "),
		"threshold", cfg.KeywordsThreshold,
	)
	return &Spotter{impl: impl, keywords: keywords}, nil
}

// Keywords returns the keywords loaded from the keywords file.
func (s *Spotter) Keywords() []kws.Keyword { return s.keywords }

// NewStream implements [kws.Spotter].
func (s *Spotter) NewStream() (kws.Stream, error) {
	st := sherpa.NewKeywordStream(s.impl)
	if st == nil {
		return nil, fmt.Errorf("%w: keyword stream", ErrInitFailed)
	}
	return &spotterStream{spotter: s.impl, stream: st}, nil
}

// Close implements [kws.Spotter].
func (s *Spotter) Close() error {
	if s.impl != nil {
		sherpa.DeleteKeywordSpotter(s.impl)
		s.impl = nil
	}
	return nil
}

type spotterStream struct {
	spotter *sherpa.KeywordSpotter
	stream  *sherpa.OnlineStream
}

func (s *spotterStream) AcceptWaveform(sampleRate int, samples []float32) {
	s.stream.AcceptWaveform(sampleRate, samples)
}

func (s *spotterStream) IsReady() bool { return s.spotter.IsReady(s.stream) }

func (s *spotterStream) Decode() { s.spotter.Decode(s.stream) }

func (s *spotterStream) Keyword() string {
	return strings.TrimSpace(s.spotter.GetResult(s.stream).Keyword)
}

func (s *spotterStream) Reset() { s.spotter.Reset(s.stream) }

func (s *spotterStream) Close() {
	if s.stream != nil {
		sherpa.DeleteOnlineStream(s.stream)
		s.stream = nil
	}
}
