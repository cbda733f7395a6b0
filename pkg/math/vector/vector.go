// Package vector provides the low-level vector math shared by every layer of
// the context engine.
//
// All similarity and distance calculations in the repository go through this
// package. Inputs are float32 slices (the storage format for embeddings);
// accumulation is done in float64 for precision.
//
// Main Functions:
//   - CosineSimilarity: standard similarity between two embeddings
//   - DotProduct: dot product (equals cosine for normalized vectors)
//   - EuclideanDistance / SquaredDistance: L2 distances
//   - Norm: vector magnitude
//   - Normalize / NormalizeInPlace: unit-length scaling
package vector

import "math"

// CosineSimilarity calculates cosine similarity between two float32 vectors.
// Returns a value in [-1, 1] where 1 = identical direction, 0 = orthogonal.
//
// Mismatched lengths and zero-length vectors return 0 rather than an error;
// callers that need a hard failure validate dimensions before calling.
//
// Example:
//
//	a := []float32{1.0, 2.0, 3.0}
//	b := []float32{4.0, 5.0, 6.0}
//	sim := CosineSimilarity(a, b) // 0.9746...
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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

// DotProduct calculates the dot product of two float32 vectors.
// Returns float64 for precision. Mismatched lengths return 0.
func DotProduct(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// SquaredDistance calculates the squared Euclidean distance between two
// vectors. Cheaper than EuclideanDistance when only ordering matters
// (k-means assignment, IVF partition selection).
func SquaredDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// EuclideanDistance calculates the L2 distance between two vectors.
func EuclideanDistance(a, b []float32) float64 {
	return math.Sqrt(SquaredDistance(a, b))
}

// Norm returns the L2 magnitude of a vector.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-length copy of the vector.
// The input is not modified. A zero vector normalizes to a zero vector.
func Normalize(v []float32) []float32 {
	norm := Norm(v)
	out := make([]float32, len(v))
	if norm == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// NormalizeInPlace scales the vector to unit length, modifying the input.
// Use Normalize to preserve the original.
func NormalizeInPlace(v []float32) {
	norm := Norm(v)
	if norm == 0 {
		return
	}
	inv := float32(1.0 / norm)
	for i := range v {
		v[i] *= inv
	}
}
