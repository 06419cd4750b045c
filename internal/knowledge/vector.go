package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// denseRetrieve embeds the query and ranks documents by cosine similarity
// against the prebuilt index. Errors here are soft: the caller falls back to
// keyword scoring.
func (s *Store) denseRetrieve(ctx context.Context, query string, topK int) (RetrievalResult, error) {
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one query", len(vecs))
	}
	qv := vecs[0]

	scored := make(RetrievalResult, 0, len(s.docs))
	for i, d := range s.docs {
		score := cosine(qv, s.vectors[i])
		if score > 0 {
			scored = append(scored, Result{Document: d, Score: score})
		}
	}
	sort.SliceStable(scored, func(a, b int) bool { return scored[a].Score > scored[b].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
