// Package phonetic implements a [kws.Spotter] that detects keywords in the
// running transcript of an inner [asr.Recognizer]. It exists for setups that
// have a general speech model but no dedicated keyword-spotting model.
//
// Matching is two-stage. Double Metaphone codes of the transcript tail are
// compared with those of each keyword phrase; on overlap the candidate is
// accepted when its Jaro-Winkler similarity reaches the phonetic threshold.
// Without a phonetic overlap a stricter fuzzy threshold applies.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.90
)

// Matcher scores spoken text against keyword phrases. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewMatcher returns a Matcher with the given thresholds. Non-positive values
// take the defaults (0.80 phonetic, 0.90 fuzzy).
func NewMatcher(phonetic, fuzzy float64) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	if phonetic > 0 {
		m.phoneticThreshold = phonetic
	}
	if fuzzy > 0 {
		m.fuzzyThreshold = fuzzy
	}
	return m
}

// Score reports how closely spoken matches phrase and whether it clears the
// applicable threshold.
func (m *Matcher) Score(spoken, phrase string) (float64, bool) {
	spokenTokens := strings.Fields(strings.ToLower(spoken))
	phraseTokens := strings.Fields(strings.ToLower(phrase))
	if len(spokenTokens) == 0 || len(phraseTokens) == 0 {
		return 0, false
	}

	score := similarity(spokenTokens, phraseTokens)
	if overlaps(metaphones(spokenTokens), metaphones(phraseTokens)) {
		return score, score >= m.phoneticThreshold
	}
	return score, score >= m.fuzzyThreshold
}

// Find returns the best phrase matched by the tail of transcript. Each phrase
// is compared against the last n words of transcript, where n is the phrase's
// word count; a transcript shorter than the phrase never matches it.
func (m *Matcher) Find(transcript string, phrases []string) (string, bool) {
	words := strings.Fields(transcript)
	if len(words) == 0 {
		return "", false
	}
	var (
		best      string
		bestScore float64
	)
	for _, p := range phrases {
		n := len(strings.Fields(p))
		if n == 0 || n > len(words) {
			continue
		}
		tail := words[len(words)-n:]
		score, ok := m.Score(strings.Join(tail, " "), p)
		if ok && score > bestScore {
			best, bestScore = p, score
		}
	}
	return best, best != ""
}

func metaphones(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity is the higher Jaro-Winkler score of the spaced and the
// space-stripped forms. Pairwise word scores are deliberately not used: a
// single shared word must not fire a multi-word wake phrase.
func similarity(a, b []string) float64 {
	score := matchr.JaroWinkler(strings.Join(a, " "), strings.Join(b, " "), false)
	if s := matchr.JaroWinkler(strings.Join(a, ""), strings.Join(b, ""), false); s > score {
		score = s
	}
	return score
}
