package db

import (
	"encoding/binary"
	"fmt"
	"math"
)

// VectorField is the hash field holding the FLOAT32 embedding blob.
const VectorField = "__vector"

// VectorToBytes encodes a vector as little-endian FLOAT32, the layout FT.CREATE VECTOR TYPE FLOAT32 expects.
func VectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

// BytesToVector decodes a little-endian FLOAT32 blob.
func BytesToVector(s string) ([]float32, error) {
	if len(s)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(s))
	}
	v := make([]float32, len(s)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32([]byte(s[i*4 : i*4+4])))
	}
	return v, nil
}

// SimilarityFromCosine maps cosine distance [0,2] to similarity clamped to [0,1].
func SimilarityFromCosine(distance float64) float64 {
	return min(1, max(0, 1.0-distance))
}

// CosineDistance returns 1 - cos(a, b). Zero vectors are maximally distant.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
