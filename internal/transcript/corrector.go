// Package transcript corrects finalized phrases toward a configured
// vocabulary of domain terms.
//
// Speech recognisers routinely mishear proper nouns: people, departments,
// product names. The [Corrector] scans each phrase for word windows that
// sound like, or are spelled like, a known term and substitutes the term's
// canonical spelling. Each [Correction] records what was replaced and how, so
// callers can log or audit the substitution.
//
// The vocabulary is hot-swappable: [Corrector.Update] replaces the terms and
// thresholds atomically while phrases are being corrected.
package transcript

import (
	"log/slog"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/MrWong99/callscribe/internal/transcript/phonetic"
)

// Correction methods.
const (
	MethodPhonetic = "phonetic"
	MethodFuzzy    = "fuzzy"
)

// Correction captures a single substitution.
type Correction struct {
	// Original is the span as produced by the recogniser.
	Original string

	// Corrected is the vocabulary term that replaced it.
	Corrected string

	// Confidence is the similarity score in [0, 1].
	Confidence float64

	// Method is [MethodPhonetic] or [MethodFuzzy].
	Method string
}

// Result is the output of [Corrector.Correct].
type Result struct {
	// Text is the corrected phrase.
	Text string

	// Corrections lists the substitutions in order of appearance. Empty when
	// the text was left unchanged.
	Corrections []Correction
}

// Corrector rewrites phrase text toward a vocabulary. It is safe for
// concurrent use.
type Corrector struct {
	state atomic.Pointer[correctorState]
}

type correctorState struct {
	matcher *phonetic.Matcher
	vocab   *phonetic.Vocabulary
}

// NewCorrector returns a Corrector for terms. With no terms, Correct returns
// its input unchanged.
func NewCorrector(terms []string, opts ...phonetic.Option) *Corrector {
	c := &Corrector{}
	c.Update(terms, opts...)
	return c
}

// Update replaces the vocabulary and thresholds. Phrases being corrected
// concurrently finish with the previous vocabulary.
func (c *Corrector) Update(terms []string, opts ...phonetic.Option) {
	st := &correctorState{
		matcher: phonetic.New(opts...),
		vocab:   phonetic.NewVocabulary(terms),
	}
	c.state.Store(st)
	ph, fz := st.matcher.Thresholds()
	slog.Debug("vocabulary updated", "terms", st.vocab.Len(), "phonetic_threshold", ph, "fuzzy_threshold", fz)
}

// Terms returns the current canonical spellings.
func (c *Corrector) Terms() []string {
	return c.state.Load().vocab.Terms()
}

// Correct applies the vocabulary to text.
//
// At each word position, windows from a single word up to one word longer
// than the longest term are tried. A longer window replaces a shorter match
// when it matches a different term or the same term with a better score, so
// a multi-word term takes precedence over a partial single-word match. A
// single word that is already part of some term is left alone. Punctuation before
// and after a replaced window is preserved.
func (c *Corrector) Correct(text string) Result {
	st := c.state.Load()
	fields := strings.Fields(text)
	if st.vocab.Len() == 0 || len(fields) == 0 {
		return Result{Text: text}
	}
	norm := make([]string, len(fields))
	for i, f := range fields {
		norm[i] = phonetic.Normalize(f)
	}

	maxN := st.vocab.MaxWords() + 1
	out := make([]string, 0, len(fields))
	var corrections []Correction

	i := 0
	for i < len(fields) {
		n, m, ok := c.matchAt(st, norm, i, maxN)
		if !ok {
			out = append(out, fields[i])
			i++
			continue
		}
		original := strings.Join(fields[i:i+n], " ")
		lead, _ := splitPunct(fields[i])
		_, trail := splitPunct(fields[i+n-1])
		out = append(out, lead+m.Term+trail)

		if trimmed := strings.TrimFunc(original, isPunct); trimmed != m.Term {
			method := MethodFuzzy
			if m.Phonetic {
				method = MethodPhonetic
			}
			corrections = append(corrections, Correction{
				Original:   trimmed,
				Corrected:  m.Term,
				Confidence: m.Score,
				Method:     method,
			})
		}
		i += n
	}

	return Result{Text: strings.Join(out, " "), Corrections: corrections}
}

// matchAt returns the preferred accepted window starting at i.
func (c *Corrector) matchAt(st *correctorState, norm []string, i, maxN int) (int, phonetic.Match, bool) {
	var (
		bestN int
		best  phonetic.Match
	)
	for n := 1; n <= min(maxN, len(norm)-i); n++ {
		if norm[i+n-1] == "" {
			// Punctuation-only field: no window may span it.
			break
		}
		window := norm[i : i+n]
		if n == 1 && st.vocab.Known(window[0]) {
			continue
		}
		m, ok := st.matcher.Match(window, st.vocab)
		if !ok {
			continue
		}
		if bestN == 0 || m.Term != best.Term || m.Score > best.Score {
			bestN, best = n, m
		}
	}
	return bestN, best, bestN > 0
}

// splitPunct returns the leading and trailing punctuation of a field.
func splitPunct(field string) (lead, trail string) {
	core := strings.TrimFunc(field, isPunct)
	if core == "" {
		return field, ""
	}
	start := strings.Index(field, core)
	return field[:start], field[start+len(core):]
}

func isPunct(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
