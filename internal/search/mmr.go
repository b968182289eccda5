package search

import (
	"math"

	"github.com/Aman-CERP/docsearch/internal/store"
)

// mmrSelect picks up to k candidates by maximal marginal relevance. At each
// step it takes the candidate maximizing
//
//	lambda*rel(c) - (1-lambda)*max sim(c, s) over selected s
//
// where rel is the candidate's score. Ties keep the earlier candidate, so
// candidates should arrive sorted by score.
func mmrSelect(rel []float64, k int, lambda float64, sim func(i, j int) float64) []int {
	n := len(rel)
	if k > n {
		k = n
	}
	if k <= 0 {
		return nil
	}

	selected := make([]int, 0, k)
	used := make([]bool, n)
	// maxSim[i] is the highest similarity of i to anything selected so far.
	maxSim := make([]float64, n)

	for len(selected) < k {
		best := -1
		bestScore := math.Inf(-1)
		for i := 0; i < n; i++ {
			if used[i] {
				continue
			}
			score := lambda * rel[i]
			if len(selected) > 0 {
				score -= (1 - lambda) * maxSim[i]
			}
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		used[best] = true
		selected = append(selected, best)
		for i := 0; i < n; i++ {
			if used[i] {
				continue
			}
			if s := sim(i, best); len(selected) == 1 || s > maxSim[i] {
				maxSim[i] = s
			}
		}
	}
	return selected
}

// lambdaSteps is the resolution of lambda: it is applied in steps of 0.01.
const lambdaSteps = 100

// mmrMonotone runs mmrSelect at lambda and at every higher lambda step and
// returns the selection whose most similar pair is least similar. Greedy
// MMR alone can pick a more redundant set at a lower lambda once k > 2;
// taking the minimum over the steps above lambda means lowering lambda
// never raises the maximum pairwise similarity of the result. Ties keep
// the selection of the lowest step.
func mmrMonotone(rel []float64, k int, lambda float64, sim [][]float64) []int {
	lambda = max(0, min(lambda, 1))
	simFn := func(i, j int) float64 { return sim[i][j] }

	var best []int
	bestRedundancy := math.Inf(1)
	for step := int(math.Round(lambda * lambdaSteps)); step <= lambdaSteps; step++ {
		order := mmrSelect(rel, k, float64(step)/lambdaSteps, simFn)
		if r := maxPairSim(order, sim); best == nil || r < bestRedundancy {
			best, bestRedundancy = order, r
		}
	}
	return best
}

// maxPairSim is the highest similarity between two members of order, or
// -Inf with fewer than two members.
func maxPairSim(order []int, sim [][]float64) float64 {
	m := math.Inf(-1)
	for a := 0; a < len(order); a++ {
		for b := a + 1; b < len(order); b++ {
			m = max(m, sim[order[a]][order[b]])
		}
	}
	return m
}

// diversify re-ranks vector hits with MMR over their embeddings.
func diversify(hits []store.Hit, k int, lambda float64) []store.Hit {
	if len(hits) <= 1 || lambda >= 1 {
		if len(hits) > k {
			return hits[:k]
		}
		return hits
	}
	rel := make([]float64, len(hits))
	sim := make([][]float64, len(hits))
	for i, h := range hits {
		rel[i] = float64(h.Score)
		sim[i] = make([]float64, len(hits))
	}
	for i := range hits {
		sim[i][i] = 1
		for j := i + 1; j < len(hits); j++ {
			c := cosine(hits[i].Vector, hits[j].Vector)
			sim[i][j], sim[j][i] = c, c
		}
	}
	order := mmrMonotone(rel, k, lambda, sim)
	out := make([]store.Hit, len(order))
	for i, idx := range order {
		out[i] = hits[idx]
	}
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
