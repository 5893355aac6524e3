package phonetic_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/callscribe/internal/transcript/phonetic"
)

var terms = []string{"Dr. Okafor", "Cardiology", "Eldrinax", "Tower of Whispers", "Callscribe"}

func TestNewVocabulary(t *testing.T) {
	t.Parallel()

	v := phonetic.NewVocabulary([]string{"Cardiology", "  ", "cardiology", "Dr. Okafor", "Tower of Whispers", "..."})

	if got, want := v.Terms(), []string{"Cardiology", "Dr. Okafor", "Tower of Whispers"}; !slices.Equal(got, want) {
		t.Errorf("Terms() = %v, want %v", got, want)
	}
	if v.Len() != 3 {
		t.Errorf("Len() = %d, want 3", v.Len())
	}
	if v.MaxWords() != 3 {
		t.Errorf("MaxWords() = %d, want 3", v.MaxWords())
	}
	for _, tok := range []string{"okafor", "dr", "cardiology", "whispers"} {
		if !v.Known(tok) {
			t.Errorf("Known(%q) = false, want true", tok)
		}
	}
	if v.Known("doctor") {
		t.Error(`Known("doctor") = true, want false`)
	}
}

func TestNewVocabulary_Empty(t *testing.T) {
	t.Parallel()

	v := phonetic.NewVocabulary(nil)
	if v.Len() != 0 || v.MaxWords() != 0 {
		t.Errorf("empty vocabulary: Len=%d MaxWords=%d", v.Len(), v.MaxWords())
	}
	if _, ok := phonetic.New().Match([]string{"okafor"}, v); ok {
		t.Error("Match against an empty vocabulary should fail")
	}
}

func TestMatcher_Match(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	v := phonetic.NewVocabulary(terms)

	tests := []struct {
		name         string
		window       []string
		wantTerm     string
		wantPhonetic bool
	}{
		{name: "misspelled single word", window: []string{"kardiology"}, wantTerm: "Cardiology"},
		{name: "vowel slip", window: []string{"cardiolagy"}, wantTerm: "Cardiology"},
		{name: "multi-word term", window: []string{"tower", "of", "wispers"}, wantTerm: "Tower of Whispers"},
		{name: "title heard in full", window: []string{"doctor", "okafor"}, wantTerm: "Dr. Okafor", wantPhonetic: true},
		{name: "name split in two", window: []string{"elder", "nacks"}, wantTerm: "Eldrinax", wantPhonetic: true},
		{name: "compound split in two", window: []string{"call", "scribe"}, wantTerm: "Callscribe"},
		{name: "unrelated word", window: []string{"hello"}},
		{name: "wrong first word", window: []string{"said", "okafor"}},
		{name: "short common word", window: []string{"call"}},
		{name: "too short", window: []string{"ok"}},
		{name: "word count mismatch", window: []string{"the", "tower", "of", "wispers"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := m.Match(tt.window, v)
			if tt.wantTerm == "" {
				if ok {
					t.Fatalf("Match(%v) = %+v, want no match", tt.window, got)
				}
				return
			}
			if !ok {
				t.Fatalf("Match(%v): no match, want %q", tt.window, tt.wantTerm)
			}
			if got.Term != tt.wantTerm {
				t.Errorf("Match(%v).Term = %q, want %q", tt.window, got.Term, tt.wantTerm)
			}
			if tt.wantPhonetic && !got.Phonetic {
				t.Errorf("Match(%v).Phonetic = false, want true", tt.window)
			}
			if got.Score < 0.7 || got.Score > 1 {
				t.Errorf("Match(%v).Score = %f, want in [0.7, 1]", tt.window, got.Score)
			}
		})
	}
}

func TestMatcher_ExactMatch(t *testing.T) {
	t.Parallel()

	got, ok := phonetic.New().Match([]string{"dr", "okafor"}, phonetic.NewVocabulary(terms))
	if !ok || got.Term != "Dr. Okafor" {
		t.Fatalf("Match = %+v, %v; want Dr. Okafor", got, ok)
	}
	if got.Score != 1 {
		t.Errorf("Score = %f, want 1", got.Score)
	}
}

func TestMatcher_PhoneticThresholdFiltering(t *testing.T) {
	t.Parallel()

	v := phonetic.NewVocabulary(terms)
	if _, ok := phonetic.New().Match([]string{"kardiology"}, v); !ok {
		t.Fatal("default thresholds should accept kardiology")
	}
	strict := phonetic.New(phonetic.WithPhoneticThreshold(0.99), phonetic.WithFuzzyThreshold(0.99))
	if got, ok := strict.Match([]string{"kardiology"}, v); ok {
		t.Errorf("strict thresholds matched %+v, want no match", got)
	}
}

func TestWithOptions(t *testing.T) {
	t.Parallel()

	m := phonetic.New(phonetic.WithPhoneticThreshold(0.8), phonetic.WithFuzzyThreshold(0.9))
	if ph, fz := m.Thresholds(); ph != 0.8 || fz != 0.9 {
		t.Errorf("Thresholds() = %v, %v; want 0.8, 0.9", ph, fz)
	}

	def := phonetic.New(phonetic.WithPhoneticThreshold(0), phonetic.WithFuzzyThreshold(-1))
	if ph, fz := def.Thresholds(); ph != 0.70 || fz != 0.85 {
		t.Errorf("non-positive thresholds should keep defaults, got %v, %v", ph, fz)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"Okafor,", "okafor"},
		{"Dr.", "dr"},
		{"O'Brien", "obrien"},
		{"Müller", "müller"},
		{"room-12", "room12"},
		{"--", ""},
	}
	for _, tt := range tests {
		if got := phonetic.Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got, want := phonetic.Tokens("  Dr. Okafor -- here "), []string{"dr", "okafor", "here"}; !slices.Equal(got, want) {
		t.Errorf("Tokens() = %v, want %v", got, want)
	}
}
