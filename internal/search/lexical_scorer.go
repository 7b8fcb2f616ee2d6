package search

import (
	"context"
	"math"
	"strings"
	"unicode"
)

// LexicalScorerName identifies the offline scorer in logs.
const LexicalScorerName = "lexical-overlap"

// scorerStopWords are ignored when matching query terms.
var scorerStopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"did": {}, "do": {}, "does": {}, "for": {}, "from": {}, "how": {}, "in": {},
	"is": {}, "it": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"their": {}, "they": {}, "this": {}, "to": {}, "was": {}, "what": {},
	"when": {}, "where": {}, "which": {}, "who": {}, "why": {}, "with": {},
}

// LexicalScorer is an offline PairScorer used when no cross-encoder is
// configured. A passage scores the fraction of distinct query terms it
// contains plus the share of its tokens that are query terms, so shorter
// passages with the same coverage rank higher.
type LexicalScorer struct{}

var _ PairScorer = LexicalScorer{}

// Score scores each passage against query. Both parts lie in [0, 1].
func (LexicalScorer) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	terms := make(map[string]struct{})
	for _, t := range scorerTokens(query) {
		terms[t] = struct{}{}
	}

	scores := make([]float64, len(passages))
	if len(terms) == 0 {
		return scores, nil
	}

	for i, p := range passages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tokens := scorerTokens(p)
		if len(tokens) == 0 {
			continue
		}
		matched := make(map[string]struct{})
		occurrences := 0
		for _, tok := range tokens {
			if _, ok := terms[tok]; ok {
				matched[tok] = struct{}{}
				occurrences++
			}
		}
		coverage := float64(len(matched)) / float64(len(terms))
		density := float64(occurrences) / float64(len(tokens))
		scores[i] = math.Round((coverage+density)*1e6) / 1e6
	}
	return scores, nil
}

// Name returns LexicalScorerName.
func (LexicalScorer) Name() string {
	return LexicalScorerName
}

// Close is a no-op.
func (LexicalScorer) Close() error {
	return nil
}

// scorerTokens lowercases, splits on non-alphanumerics and drops stop words.
func scorerTokens(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, stop := scorerStopWords[f]; stop || len(f) < 2 {
			continue
		}
		out = append(out, f)
	}
	return out
}
