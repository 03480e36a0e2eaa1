// Package vecmath holds the similarity math shared by every vector backend.
// Similarity is always computed here, never pushed into SQL, so backends stay
// swappable without behavioral drift.
package vecmath

import (
	"encoding/binary"
	"math"
)

// CosineSimilarity returns the cosine of the angle between a and b.
// A zero-magnitude vector (or a length mismatch) yields 0, never NaN.
func CosineSimilarity(a, b []float32) float64 {
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

// Mean returns the element-wise mean of the given vectors. Vectors with a
// length different from the first are skipped. Returns nil when no usable
// vector exists.
func Mean(vecs [][]float32) []float32 {
	var out []float64
	var dim, n int
	for _, v := range vecs {
		if len(v) == 0 {
			continue
		}
		if out == nil {
			dim = len(v)
			out = make([]float64, dim)
		}
		if len(v) != dim {
			continue
		}
		for i := range v {
			out[i] += float64(v[i])
		}
		n++
	}
	if n == 0 {
		return nil
	}
	mean := make([]float32, dim)
	for i := range out {
		mean[i] = float32(out[i] / float64(n))
	}
	return mean
}

// Normalize scales v to unit length in place and returns it. A zero vector is
// returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// Compress reduces v to the given number of buckets by averaging consecutive
// chunks, a coarse summary kept alongside the full mean vector. Returns nil
// when v is empty or already at most buckets wide.
func Compress(v []float32, buckets int) []float32 {
	if len(v) == 0 || buckets <= 0 || len(v) <= buckets {
		return nil
	}
	out := make([]float32, buckets)
	chunk := float64(len(v)) / float64(buckets)
	for i := 0; i < buckets; i++ {
		lo := int(float64(i) * chunk)
		hi := int(float64(i+1) * chunk)
		if hi > len(v) {
			hi = len(v)
		}
		var sum float64
		for _, x := range v[lo:hi] {
			sum += float64(x)
		}
		out[i] = float32(sum / float64(hi-lo))
	}
	return out
}

// Encode serializes a vector as little-endian float32 bytes, the on-disk
// layout of every vector blob.
func Encode(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

// Decode deserializes little-endian float32 bytes back into a vector.
// Trailing bytes that do not form a full float32 are ignored.
func Decode(buf []byte) []float32 {
	n := len(buf) / 4
	if n == 0 {
		return nil
	}
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v
}
