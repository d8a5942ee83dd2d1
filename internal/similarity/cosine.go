package similarity

import "math"

// Cosine computes cosine similarity between two equal-length vectors,
// in [-1, 1]. Empty, mismatched or zero-magnitude inputs score 0.0 rather
// than erroring, so an item with a missing embedding drops out of matching
// instead of failing the pipeline.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Normalize returns a unit-length copy of v, or nil for a zero vector.
// Inner product over normalized vectors equals cosine similarity, which is
// what the vector index relies on.
func Normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return nil
	}

	inv := 1.0 / math.Sqrt(norm)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}
