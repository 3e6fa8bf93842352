package postprocess

import "sort"

// Result is one scored candidate, identified by its position in the raw
// detector output.
type Result struct {
	// The index of the candidate in the detector output.
	Index int
	// The confidence score of the candidate.
	Score float32
	// The predicted class of the candidate (1-indexed, 0 is background).
	Label int
}

// Rank orders candidate indices by descending score; equal scores keep
// ascending index order.
func Rank(scores []float32) []int {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	return order
}

// Results gathers the candidates at idx, in the order given.
func Results(idx []int, scores []float32, labels []int) []Result {
	out := make([]Result, len(idx))
	for k, i := range idx {
		out[k] = Result{Index: i, Score: scores[i], Label: labels[i]}
	}
	return out
}
