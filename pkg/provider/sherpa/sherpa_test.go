package sherpa

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// touch creates an empty file under dir and returns its path.
func touch(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestNewSpotter_MissingFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := SpotterConfig{
		Model: ModelConfig{
			Tokens:  touch(t, dir, "tokens.txt"),
			Encoder: filepath.Join(dir, "encoder.onnx"),
			Decoder: touch(t, dir, "decoder.onnx"),
			Joiner:  touch(t, dir, "joiner.onnx"),
		},
		KeywordsFile: filepath.Join(dir, "keywords.txt"),
	}

	_, err := NewSpotter(cfg)
	if !errors.Is(err, ErrModelFileMissing) {
		t.Fatalf("expected ErrModelFileMissing, got %v", err)
	}
	for _, want := range []string{"encoder", "keywords"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should name %s, got: %v", want, err)
		}
	}
	if strings.Contains(err.Error(), "joiner") {
		t.Errorf("error should not mention present joiner file: %v", err)
	}
}

func TestNewRecognizer_MissingFiles(t *testing.T) {
	t.Parallel()

	t.Run("unconfigured paths", func(t *testing.T) {
		t.Parallel()
		_, err := NewRecognizer(RecognizerConfig{})
		if !errors.Is(err, ErrModelFileMissing) {
			t.Fatalf("expected ErrModelFileMissing, got %v", err)
		}
		if !strings.Contains(err.Error(), "not configured") {
			t.Errorf("error should say path is not configured, got: %v", err)
		}
	})

	t.Run("missing hotwords file", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		cfg := RecognizerConfig{
			Model: ModelConfig{
				Tokens:  touch(t, dir, "tokens.txt"),
				Encoder: touch(t, dir, "encoder.onnx"),
				Decoder: touch(t, dir, "decoder.onnx"),
				Joiner:  touch(t, dir, "joiner.onnx"),
			},
			HotwordsFile: filepath.Join(dir, "hotwords.txt"),
		}
		_, err := NewRecognizer(cfg)
		if !errors.Is(err, ErrModelFileMissing) || !strings.Contains(err.Error(), "hotwords") {
			t.Fatalf("expected missing hotwords error, got %v", err)
		}
	})

	t.Run("directory is not a file", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		cfg := RecognizerConfig{
			Model: ModelConfig{
				Tokens:  dir,
				Encoder: touch(t, dir, "encoder.onnx"),
				Decoder: touch(t, dir, "decoder.onnx"),
				Joiner:  touch(t, dir, "joiner.onnx"),
			},
		}
		if _, err := NewRecognizer(cfg); !errors.Is(err, ErrModelFileMissing) {
			t.Fatalf("expected ErrModelFileMissing, got %v", err)
		}
	})
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	sc := SpotterConfig{}.withDefaults()
	if sc.KeywordsScore != 1.0 || sc.KeywordsThreshold != 0.25 || sc.NumTrailingBlanks != 1 || sc.MaxActivePaths != 4 {
		t.Errorf("unexpected spotter defaults: %+v", sc)
	}
	if sc.Model.NumThreads != 1 || sc.Model.Provider != "cpu" {
		t.Errorf("unexpected model defaults: %+v", sc.Model)
	}

	rc := RecognizerConfig{}.withDefaults()
	if rc.DecodingMethod != "greedy_search" {
		t.Errorf("DecodingMethod = %q, want greedy_search", rc.DecodingMethod)
	}
	if rc.HotwordsScore != 1.5 {
		t.Errorf("HotwordsScore = %v, want 1.5", rc.HotwordsScore)
	}
	if rc.Endpoint.Rule1MinTrailingSilence != 2400*time.Millisecond {
		t.Errorf("rule1 = %v, want 2.4s", rc.Endpoint.Rule1MinTrailingSilence)
	}
}
