package kws

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrNoKeywords is returned when a keywords file contains no entries.
var ErrNoKeywords = errors.New("kws: keywords file has no entries")

// Keyword is one entry of a keywords file.
//
// The file holds one entry per line. Each entry is a space-separated token
// sequence optionally followed by a per-keyword boost (":1.5"), a per-keyword
// threshold ("#0.25") and a display phrase ("@HELLO_WORLD"):
//
//	▁HE LL O ▁WORLD :1.5 #0.35 @HELLO_WORLD
//	x iǎo ài t óng x ué @小爱同学
//	hey jarvis
//
// Blank lines and lines starting with "#" are skipped.
type Keyword struct {
	// Tokens is the token sequence as written in the file.
	Tokens []string

	// Phrase is the human-readable keyword. Taken from the "@" suffix with
	// underscores turned into spaces, or derived from Tokens when absent.
	Phrase string

	// Boost overrides the spotter-wide keywords score when non-zero.
	Boost float64

	// Threshold overrides the spotter-wide trigger threshold when non-zero.
	Threshold float64
}

// LoadKeywords reads and parses the keywords file at path. A missing file and
// a file without entries are both errors.
func LoadKeywords(path string) ([]Keyword, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("kws: open keywords file: %w", err)
	}
	defer f.Close()

	kws, err := ParseKeywords(f)
	if err != nil {
		return nil, fmt.Errorf("kws: %q: %w", path, err)
	}
	return kws, nil
}

// ParseKeywords parses keywords from r. See [Keyword] for the format.
func ParseKeywords(r io.Reader) ([]Keyword, error) {
	var out []Keyword
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		kw, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		out = append(out, kw)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNoKeywords
	}
	return out, nil
}

func parseLine(line string) (Keyword, error) {
	var kw Keyword
	for _, field := range strings.Fields(line) {
		switch {
		case strings.HasPrefix(field, ":") && len(field) > 1:
			v, err := strconv.ParseFloat(field[1:], 64)
			if err != nil {
				return Keyword{}, fmt.Errorf("invalid boost %q", field)
			}
			kw.Boost = v
		case strings.HasPrefix(field, "#") && len(field) > 1:
			v, err := strconv.ParseFloat(field[1:], 64)
			if err != nil {
				return Keyword{}, fmt.Errorf("invalid threshold %q", field)
			}
			kw.Threshold = v
		case strings.HasPrefix(field, "@") && len(field) > 1:
			kw.Phrase = strings.ReplaceAll(field[1:], "_", " ")
		default:
			kw.Tokens = append(kw.Tokens, field)
		}
	}
	if len(kw.Tokens) == 0 {
		return Keyword{}, errors.New("keyword has no tokens")
	}
	if kw.Phrase == "" {
		kw.Phrase = phraseFromTokens(kw.Tokens)
	}
	return kw, nil
}

// phraseFromTokens joins BPE pieces ("▁HE", "LL", "O") back into words.
// Plain word lists are joined with spaces.
func phraseFromTokens(tokens []string) string {
	bpe := false
	for _, t := range tokens {
		if strings.Contains(t, "▁") {
			bpe = true
			break
		}
	}
	if !bpe {
		return strings.Join(tokens, " ")
	}
	joined := strings.ReplaceAll(strings.Join(tokens, ""), "▁", " ")
	return strings.TrimSpace(joined)
}

// Phrases returns the display phrase of each keyword.
func Phrases(kws []Keyword) []string {
	out := make([]string, len(kws))
	for i, kw := range kws {
		out[i] = kw.Phrase
	}
	return out
}
