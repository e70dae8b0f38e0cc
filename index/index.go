package index

import (
	"math"
	"sort"

	"github.com/bildung/quizrag/ingestion"
)

// Result is one retrieved chunk with its similarity score.
type Result struct {
	Chunk ingestion.Chunk
	Score float64
}

// VectorIndex maps chunks to embedding vectors and answers nearest-neighbor
// queries. It is immutable once built; concurrent readers need no locking.
// Vectors are stored L2-normalized so cosine similarity reduces to a dot
// product.
type VectorIndex struct {
	Model     string
	Dimension int
	Chunks    []ingestion.Chunk
	Vectors   [][]float32
}

func (idx *VectorIndex) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.Chunks)
}

// Search returns the top-k chunks by cosine similarity to the query vector.
func (idx *VectorIndex) Search(query []float32, k int) []Result {
	if idx.Len() == 0 || len(query) == 0 || k <= 0 {
		return nil
	}

	q := normalize(query)
	results := make([]Result, 0, len(idx.Vectors))
	for i, vec := range idx.Vectors {
		results = append(results, Result{Chunk: idx.Chunks[i], Score: dot(q, vec)})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// SearchMMR returns k chunks chosen by max-marginal-relevance: it first
// fetches the fetchK most similar candidates, then greedily picks chunks that
// balance query relevance against redundancy with what is already selected.
// lambda near 0 favors coverage breadth, near 1 favors raw relevance.
func (idx *VectorIndex) SearchMMR(query []float32, k, fetchK int, lambda float64) []Result {
	if idx.Len() == 0 || len(query) == 0 || k <= 0 {
		return nil
	}
	if fetchK < k {
		fetchK = k
	}
	if lambda < 0 || lambda > 1 {
		lambda = 0.5
	}

	q := normalize(query)

	type candidate struct {
		pos   int
		score float64
	}
	candidates := make([]candidate, 0, len(idx.Vectors))
	for i, vec := range idx.Vectors {
		candidates = append(candidates, candidate{pos: i, score: dot(q, vec)})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > fetchK {
		candidates = candidates[:fetchK]
	}

	selected := make([]Result, 0, k)
	selectedPos := make([]int, 0, k)
	used := make(map[int]bool, k)

	for len(selected) < k && len(selected) < len(candidates) {
		bestIdx := -1
		bestScore := math.Inf(-1)

		for _, cand := range candidates {
			if used[cand.pos] {
				continue
			}

			redundancy := 0.0
			for _, pos := range selectedPos {
				if sim := dot(idx.Vectors[cand.pos], idx.Vectors[pos]); sim > redundancy {
					redundancy = sim
				}
			}

			score := lambda*cand.score - (1-lambda)*redundancy
			if score > bestScore {
				bestScore = score
				bestIdx = cand.pos
			}
		}

		if bestIdx < 0 {
			break
		}
		used[bestIdx] = true
		selectedPos = append(selectedPos, bestIdx)
		selected = append(selected, Result{Chunk: idx.Chunks[bestIdx], Score: dot(q, idx.Vectors[bestIdx])})
	}

	return selected
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
