package search

import (
	"strings"
	"unicode"
)

// Scoring is pure and deterministic: the same text and query always
// produce the same score, so the fast and full paths agree and repeated
// forceFullFuzzy searches are reproducible.
//
// The score rewards earlier match position, a more compact match span,
// and exact prefix or word-boundary matches. Recency never enters the
// score; it is a tie-break applied by the result ordering.
const (
	scoreBase        = 1000.0
	positionPenalty  = 2.0
	positionCap      = 250
	gapPenalty       = 3.0
	prefixBonus      = 150.0
	wordBonus        = 75.0
	substringBonus   = 100.0
	shortQueryRunes  = 2
)

// Score matches query against lowercased text as a fuzzy subsequence
// and returns (score, true) on a match. Queries of one or two runes use
// plain substring containment: single characters scattered across
// unrelated text are noise, not matches. The caller lowercases query.
func Score(text, query string) (float64, bool) {
	if query == "" {
		return 0, false
	}
	q := []rune(query)

	if len(q) <= shortQueryRunes {
		idx := strings.Index(text, query)
		if idx < 0 {
			return 0, false
		}
		return substringScore(text, query, idx), true
	}

	return subsequenceScore(text, query)
}

// subsequenceScore scores query as a subsequence of text, with no
// minimum-length containment rule.
func subsequenceScore(text, query string) (float64, bool) {
	q := []rune(query)
	first, span, ok := subsequence([]rune(text), q)
	if !ok {
		return 0, false
	}

	pos := first
	if pos > positionCap {
		pos = positionCap
	}
	score := scoreBase - float64(pos)*positionPenalty - float64(span-len(q))*gapPenalty

	if span == len(q) {
		// Contiguous run: a real substring, much stronger signal.
		score += substringBonus
		idx := strings.Index(text, query)
		if idx >= 0 {
			score += boundaryBonus(text, idx)
		}
	}
	if strings.HasPrefix(text, query) {
		score += prefixBonus
	}

	return score, true
}

// substringScore scores a containment match found at byte offset idx.
func substringScore(text, query string, idx int) float64 {
	pos := len([]rune(text[:idx]))
	if pos > positionCap {
		pos = positionCap
	}
	score := scoreBase - float64(pos)*positionPenalty + substringBonus
	score += boundaryBonus(text, idx)
	if idx == 0 {
		score += prefixBonus
	}
	return score
}

// boundaryBonus rewards a match starting at a word boundary.
func boundaryBonus(text string, idx int) float64 {
	if idx == 0 {
		return wordBonus
	}
	prev := []rune(text[:idx])
	r := prev[len(prev)-1]
	if unicode.IsSpace(r) || unicode.IsPunct(r) {
		return wordBonus
	}
	return 0
}

// subsequence finds the greedy left-to-right occurrence of q in text.
// Returns the first matched position, the span covering all matched
// runes, and whether every rune matched.
func subsequence(text, q []rune) (first, span int, ok bool) {
	qi := 0
	first = -1
	last := -1
	for ti := 0; ti < len(text) && qi < len(q); ti++ {
		if text[ti] != q[qi] {
			continue
		}
		if first < 0 {
			first = ti
		}
		last = ti
		qi++
	}
	if qi < len(q) {
		return 0, 0, false
	}
	return first, last - first + 1, true
}

// ScoreTokens scores a fuzzyPlus query: every whitespace token must
// independently match. ASCII tokens of three or more runes need a
// contiguous substring, which suppresses weak scattered-subsequence
// matches; shorter and non-ASCII (e.g. CJK) tokens match per-character
// as a subsequence. The result is the mean token score.
func ScoreTokens(text, query string) (float64, bool) {
	tokens := strings.Fields(query)
	if len(tokens) == 0 {
		return 0, false
	}

	var total float64
	for _, tok := range tokens {
		runes := []rune(tok)
		var (
			s  float64
			ok bool
		)
		if isASCII(tok) && len(runes) >= 3 {
			idx := strings.Index(text, tok)
			if idx < 0 {
				return 0, false
			}
			s = substringScore(text, tok, idx)
			ok = true
		} else {
			s, ok = subsequenceScore(text, tok)
		}
		if !ok {
			return 0, false
		}
		total += s
	}
	return total / float64(len(tokens)), true
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
