package trend

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"cinetrack/internal/domain"
)

const maxTermRunes = 200

// NormalizeTerm folds a raw query into the form stored in SearchTerms:
// NFC, lower case, single spaces. Queries that normalize to nothing are
// rejected with domain.ErrInvalidQuery.
func NormalizeTerm(raw string) (string, error) {
	term := norm.NFC.String(raw)
	term = strings.Join(strings.Fields(term), " ")
	// cases.Caser is stateful; one per call.
	term = cases.Lower(language.Und).String(term)
	if term == "" {
		return "", fmt.Errorf("%w: empty search term", domain.ErrInvalidQuery)
	}
	if utf8.RuneCountInString(term) > maxTermRunes {
		runes := []rune(term)
		term = strings.TrimSpace(string(runes[:maxTermRunes]))
	}
	return term, nil
}

// mergeTerms returns the ordered union of the given term lists.
func mergeTerms(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, list := range lists {
		for _, term := range list {
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			out = append(out, term)
		}
	}
	return out
}
