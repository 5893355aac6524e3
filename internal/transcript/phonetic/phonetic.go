// Package phonetic matches misrecognised words against a vocabulary of known
// terms using Double Metaphone encoding combined with Jaro-Winkler string
// similarity.
//
// Matching works on windows of normalised tokens (lowercase letters and
// digits only) in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each window token and for the window's concatenated letters, and the
//     same for every term. Terms sharing any code with the window are
//     phonetic candidates and are accepted at the phonetic threshold
//     (default 0.70).
//
//  2. Fuzzy fallback: when no phonetic candidate qualifies, terms are
//     accepted on pure Jaro-Winkler similarity at the stricter fuzzy
//     threshold (default 0.85).
//
// A window is scored against a multi-word term of the same word count
// position by position ("doctor okafor" vs "Dr. Okafor"). Single-word terms
// are compared with one- and two-word windows on their concatenated letters,
// which catches a name heard as two words ("elder nacks" vs "Eldrinax").
// Letter comparisons also require similar lengths so that a short common word
// never expands into a long term.
package phonetic

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// minLengthRatio is the shortest/longest letter-count ratio required when
	// a window is compared on concatenated letters.
	minLengthRatio = 0.75

	// minLetters skips windows too short to carry a name.
	minLetters = 3
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		if threshold > 0 {
			m.phoneticThreshold = threshold
		}
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		if threshold > 0 {
			m.fuzzyThreshold = threshold
		}
	}
}

// Matcher scores token windows against a [Vocabulary]. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a new [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Thresholds returns the phonetic and fuzzy acceptance thresholds.
func (m *Matcher) Thresholds() (phonetic, fuzzy float64) {
	return m.phoneticThreshold, m.fuzzyThreshold
}

// Match is an accepted window-to-term alignment.
type Match struct {
	// Term is the canonical spelling from the vocabulary.
	Term string

	// Score is the Jaro-Winkler similarity in [0, 1].
	Score float64

	// Phonetic reports whether the term shared a Double Metaphone code with
	// the window.
	Phonetic bool
}

// Match finds the term most similar to the window of normalised tokens.
// Phonetic candidates beat fuzzy ones regardless of score.
func (m *Matcher) Match(tokens []string, v *Vocabulary) (Match, bool) {
	if v == nil || len(tokens) == 0 {
		return Match{}, false
	}
	letters := strings.Join(tokens, "")
	if len([]rune(letters)) < minLetters {
		return Match{}, false
	}
	codes := codesFor(tokens, letters)

	var best Match
	for i := range v.terms {
		t := &v.terms[i]
		score, ok := t.score(tokens, letters)
		if !ok {
			continue
		}
		if overlap(codes, t.codes) {
			if score >= m.phoneticThreshold && (!best.Phonetic || score > best.Score) {
				best = Match{Term: t.text, Score: score, Phonetic: true}
			}
		} else if !best.Phonetic && score >= m.fuzzyThreshold && score > best.Score {
			best = Match{Term: t.text, Score: score}
		}
	}
	return best, best.Term != ""
}

// ─── Vocabulary ──────────────────────────────────────────────────────────────

// Vocabulary is a prepared, immutable set of terms. Build it once per term
// list with [NewVocabulary]; phonetic codes are computed up front.
type Vocabulary struct {
	terms    []term
	known    map[string]struct{}
	maxWords int
}

type term struct {
	text    string
	tokens  []string
	letters string
	runes   int
	codes   map[string]struct{}
}

// NewVocabulary prepares terms for matching. Empty and duplicate terms
// (case-insensitive) are skipped; the first spelling wins.
func NewVocabulary(terms []string) *Vocabulary {
	v := &Vocabulary{known: make(map[string]struct{})}
	seen := make(map[string]struct{}, len(terms))
	for _, raw := range terms {
		text := strings.TrimSpace(raw)
		tokens := Tokens(text)
		if len(tokens) == 0 {
			continue
		}
		key := strings.Join(tokens, " ")
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		letters := strings.Join(tokens, "")
		v.terms = append(v.terms, term{
			text:    text,
			tokens:  tokens,
			letters: letters,
			runes:   len([]rune(letters)),
			codes:   codesFor(tokens, letters),
		})
		for _, tok := range tokens {
			v.known[tok] = struct{}{}
		}
		v.maxWords = max(v.maxWords, len(tokens))
	}
	return v
}

// Len returns the number of distinct terms.
func (v *Vocabulary) Len() int { return len(v.terms) }

// MaxWords returns the word count of the longest term, or 0 when empty.
func (v *Vocabulary) MaxWords() int { return v.maxWords }

// Terms returns the canonical spellings in insertion order.
func (v *Vocabulary) Terms() []string {
	out := make([]string, len(v.terms))
	for i, t := range v.terms {
		out[i] = t.text
	}
	return out
}

// Known reports whether token (normalised) is already a word of some term.
func (v *Vocabulary) Known(token string) bool {
	_, ok := v.known[token]
	return ok
}

// score compares a window with t. The second result is false when the word
// counts or lengths are too far apart to compare.
func (t *term) score(tokens []string, letters string) (float64, bool) {
	n, k := len(tokens), len(t.tokens)
	switch {
	case n == k && n > 1:
		var sum float64
		for i := range tokens {
			sum += matchr.JaroWinkler(tokens[i], t.tokens[i], false)
		}
		return sum / float64(n), true
	case n == k, k == 1 && n == 2:
		r := len([]rune(letters))
		if float64(min(r, t.runes))/float64(max(r, t.runes)) < minLengthRatio {
			return 0, false
		}
		return matchr.JaroWinkler(letters, t.letters, false), true
	default:
		return 0, false
	}
}

// ─── Normalisation and codes ─────────────────────────────────────────────────

// Normalize lowercases s and strips everything but letters and digits.
func Normalize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, s)
}

// Tokens splits s on whitespace and normalises each word, dropping words that
// normalise to nothing.
func Tokens(s string) []string {
	var out []string
	for _, f := range strings.Fields(s) {
		if n := Normalize(f); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// codesFor returns the union of Double Metaphone codes of every token and of
// the concatenated letters. Empty codes are excluded.
func codesFor(tokens []string, letters string) map[string]struct{} {
	codes := make(map[string]struct{}, 2*len(tokens)+2)
	add := func(s string) {
		p, a := matchr.DoubleMetaphone(s)
		if p != "" {
			codes[p] = struct{}{}
		}
		if a != "" {
			codes[a] = struct{}{}
		}
	}
	for _, t := range tokens {
		add(t)
	}
	if len(tokens) > 1 {
		add(letters)
	}
	return codes
}

// overlap reports whether the two code sets share at least one code.
func overlap(a, b map[string]struct{}) bool {
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
