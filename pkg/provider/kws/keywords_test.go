package kws_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nypyp/metahuman-stream/pkg/provider/kws"
)

func TestParseKeywords(t *testing.T) {
	t.Parallel()
	input := `
# comment line
▁HE LL O ▁WORLD :1.5 #0.35 @HELLO_WORLD
x iǎo ài t óng x ué @小爱同学
▁HEY ▁JAR VIS
hey computer
`
	got, err := kws.ParseKeywords(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseKeywords: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d keywords, want 4", len(got))
	}

	tests := []struct {
		idx       int
		phrase    string
		tokens    int
		boost     float64
		threshold float64
	}{
		{0, "HELLO WORLD", 4, 1.5, 0.35},
		{1, "小爱同学", 7, 0, 0},
		{2, "HEY JARVIS", 3, 0, 0},
		{3, "hey computer", 2, 0, 0},
	}
	for _, tc := range tests {
		kw := got[tc.idx]
		if kw.Phrase != tc.phrase {
			t.Errorf("[%d] phrase = %q, want %q", tc.idx, kw.Phrase, tc.phrase)
		}
		if len(kw.Tokens) != tc.tokens {
			t.Errorf("[%d] tokens = %v, want %d tokens", tc.idx, kw.Tokens, tc.tokens)
		}
		if kw.Boost != tc.boost {
			t.Errorf("[%d] boost = %v, want %v", tc.idx, kw.Boost, tc.boost)
		}
		if kw.Threshold != tc.threshold {
			t.Errorf("[%d] threshold = %v, want %v", tc.idx, kw.Threshold, tc.threshold)
		}
	}

	if phrases := kws.Phrases(got); phrases[3] != "hey computer" {
		t.Errorf("Phrases()[3] = %q", phrases[3])
	}
}

func TestParseKeywords_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		input string
		isErr error
		msg   string
	}{
		{name: "empty", input: "\n\n# only a comment\n", isErr: kws.ErrNoKeywords},
		{name: "bad boost", input: "▁HI :abc", msg: "invalid boost"},
		{name: "bad threshold", input: "▁HI #x", msg: "invalid threshold"},
		{name: "phrase only", input: "@HELLO", msg: "no tokens"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := kws.ParseKeywords(strings.NewReader(tc.input))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if tc.isErr != nil && !errors.Is(err, tc.isErr) {
				t.Errorf("expected %v, got %v", tc.isErr, err)
			}
			if tc.msg != "" && !strings.Contains(err.Error(), tc.msg) {
				t.Errorf("error %q should contain %q", err, tc.msg)
			}
		})
	}
}

func TestLoadKeywords(t *testing.T) {
	t.Parallel()

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := kws.LoadKeywords(filepath.Join(t.TempDir(), "keywords.txt"))
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected os.ErrNotExist, got %v", err)
		}
	})

	t.Run("valid file", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "keywords.txt")
		if err := os.WriteFile(path, []byte("hey jarvis\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		got, err := kws.LoadKeywords(path)
		if err != nil {
			t.Fatalf("LoadKeywords: %v", err)
		}
		if len(got) != 1 || got[0].Phrase != "hey jarvis" {
			t.Errorf("unexpected keywords: %+v", got)
		}
	})
}
