// Package search normalizes free-text queries for checkup listing. The
// HTTP layer hands the raw q parameter to QueryTerms; the resulting terms
// feed the repo's AND-matched substring filter over notes, lesion locations,
// and doctor names.
package search

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// MaxTerms bounds how many terms one query may contribute; extra terms are
// dropped rather than rejected.
const MaxTerms = 8

// Extract Unicode letters with optional trailing numbers.
var termRE = regexp.MustCompile(`[\p{L}]+[\p{N}]*`)

// Short function words that would match nearly every row.
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"is": {}, "are": {}, "for": {}, "on": {}, "with": {}, "by": {}, "from": {},
	"at": {}, "as": {}, "that": {}, "this": {}, "it": {},
}

var foldCaser = cases.Fold()

// QueryTerms tokenizes a raw search query into deduplicated, case-folded
// terms. Stop words and single runes are dropped; an empty result means the
// query constrains nothing.
func QueryTerms(q string) []string {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil
	}

	seen := make(map[string]struct{}, MaxTerms)
	out := make([]string, 0, MaxTerms)
	for _, tok := range termRE.FindAllString(q, -1) {
		t := foldCaser.String(tok)
		if len([]rune(t)) < 2 {
			continue
		}
		if _, skip := stopWords[t]; skip {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == MaxTerms {
			break
		}
	}
	return out
}

// DisplayTitle renders a compact title-cased form of a location or note
// fragment for UI summaries.
func DisplayTitle(s string, locale language.Tag) string {
	if locale == language.Und {
		locale = language.English
	}
	toks := termRE.FindAllString(s, -1)
	if len(toks) == 0 {
		return ""
	}
	caser := cases.Title(locale)
	for i, t := range toks {
		toks[i] = caser.String(t)
	}
	return strings.Join(toks, " ")
}
