package knowledge

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// perTokenCap limits how much a single repeated token can contribute, so a
// document that chants one word does not drown out broader matches.
const perTokenCap = 5

// keywordRetrieve is the guaranteed lexical fallback: weighted shared-token
// overlap between query and document, penalized for document length. Ties
// keep insertion order.
func (s *Store) keywordRetrieve(query string, topK int) RetrievalResult {
	qCounts, qLen := tokenCounts(query)
	if qLen == 0 {
		return nil
	}

	scored := make(RetrievalResult, 0, len(s.docs))
	for i, d := range s.docs {
		score := lexicalScore(qCounts, qLen, s.docCounts[i], s.docLens[i])
		if score > 0 {
			scored = append(scored, Result{Document: d, Score: score})
		}
	}

	sort.SliceStable(scored, func(a, b int) bool { return scored[a].Score > scored[b].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

func lexicalScore(qCounts map[string]int, qLen int, dCounts map[string]int, dLen int) float64 {
	if dLen == 0 {
		return 0
	}
	var overlap float64
	for tok, qn := range qCounts {
		dn, ok := dCounts[tok]
		if !ok {
			continue
		}
		if dn > perTokenCap {
			dn = perTokenCap
		}
		if qn < dn {
			overlap += float64(qn)
		} else {
			overlap += float64(dn)
		}
	}
	if overlap == 0 {
		return 0
	}
	lengthPenalty := 1 + math.Log1p(float64(dLen))/8
	return overlap / (float64(qLen) * lengthPenalty)
}

// tokenCounts normalizes text to lower-case alphanumeric tokens and returns
// per-token counts plus the total token count. Single-rune tokens are
// dropped as noise.
func tokenCounts(text string) (map[string]int, int) {
	counts := make(map[string]int)
	total := 0
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(tok) < 2 {
			continue
		}
		counts[tok]++
		total++
	}
	return counts, total
}
