package store

import (
	"math"
	"sort"

	"mmrag/internal/domain"
)

// CosineSimilarity calculates the cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// RankTopK scores candidates against query (brute force) and returns the
// best k, highest first. Equal scores are ordered by ID.
func RankTopK(query []float32, candidates []domain.Record, k int) []domain.ScoredRecord {
	scores := make([]domain.ScoredRecord, 0, len(candidates))
	for _, rec := range candidates {
		scores = append(scores, domain.ScoredRecord{
			Record: rec,
			Score:  CosineSimilarity(query, rec.Vector),
		})
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Record.ID < scores[j].Record.ID
	})

	if k > len(scores) {
		k = len(scores)
	}
	return scores[:k]
}

// CloneHits detaches ranked records from a store's cached copies.
func CloneHits(hits []domain.ScoredRecord) []domain.ScoredRecord {
	for i := range hits {
		hits[i].Record = hits[i].Record.Clone()
	}
	return hits
}
