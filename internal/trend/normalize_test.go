package trend

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"cinetrack/internal/domain"
)

func TestNormalizeTerm(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "plain", raw: "batman", want: "batman"},
		{name: "case folded", raw: "The Dark KNIGHT", want: "the dark knight"},
		{name: "whitespace collapsed", raw: "  dark \t knight\n", want: "dark knight"},
		{name: "decomposed accents composed", raw: "Ame\u0301lie", want: "am\u00e9lie"},
		{name: "non latin", raw: "Шрэк", want: "шрэк"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeTerm(tt.raw)
			if err != nil {
				t.Fatalf("NormalizeTerm(%q): %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("NormalizeTerm(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizeTermRejectsBlank(t *testing.T) {
	for _, raw := range []string{"", "   ", "\t\n"} {
		if _, err := NormalizeTerm(raw); !errors.Is(err, domain.ErrInvalidQuery) {
			t.Fatalf("NormalizeTerm(%q): expected ErrInvalidQuery, got %v", raw, err)
		}
	}
}

func TestNormalizeTermTruncatesLongInput(t *testing.T) {
	got, err := NormalizeTerm(strings.Repeat("é", 500))
	if err != nil {
		t.Fatalf("NormalizeTerm: %v", err)
	}
	if n := utf8.RuneCountInString(got); n != maxTermRunes {
		t.Fatalf("expected %d runes, got %d", maxTermRunes, n)
	}
}

func TestMergeTermsKeepsFirstOccurrenceOrder(t *testing.T) {
	got := mergeTerms([]string{"batman"}, []string{"dark knight"}, []string{"batman", "joker"})
	want := []string{"batman", "dark knight", "joker"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("mergeTerms = %v, want %v", got, want)
	}
	if got := mergeTerms(); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}
