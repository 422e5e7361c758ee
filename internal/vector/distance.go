package vector

import (
	"fmt"
	"math"

	"github.com/viterin/vek/vek32"
)

// Distance is the result of a measure. Smaller means closer for every Kind.
type Distance = float32

// Measurer yields the distance from a bound target vector to another vector
// of the same dimension.
type Measurer interface {
	Measure(other []float32) Distance
}

// MeasureBuilder binds a target vector and returns the concrete measurer M.
// The type parameter keeps the Measure call devirtualized when generic code
// is instantiated with a concrete builder.
type MeasureBuilder[M Measurer] interface {
	Bind(target []float32) M
}

// assertSameDim panics on dimension mismatch. Mixing dimensions inside one
// index is a programming error, never user input.
func assertSameDim(a, b []float32) {
	if len(a) != len(b) {
		panic(fmt.Sprintf("vector dimension mismatch: %d vs %d", len(a), len(b)))
	}
}

// Magnitude returns the Euclidean norm of v.
func Magnitude(v []float32) float32 {
	return float32(math.Sqrt(float64(vek32.Dot(v, v))))
}

// L1 measures Σ|aᵢ−bᵢ|.
type L1 struct{}

// L1Measurer is the measurer bound by L1.
type L1Measurer struct {
	target []float32
}

// Bind implements MeasureBuilder.
func (L1) Bind(target []float32) L1Measurer {
	return L1Measurer{target: target}
}

// Measure implements Measurer.
func (m L1Measurer) Measure(other []float32) Distance {
	assertSameDim(m.target, other)
	var sum float32
	for i := range m.target {
		diff := m.target[i] - other[i]
		if diff < 0 {
			diff = -diff
		}
		sum += diff
	}
	return sum
}

// L2 measures Σ(aᵢ−bᵢ)². The square root is intentionally omitted; only the
// ordering matters.
type L2 struct{}

// L2Measurer is the measurer bound by L2.
type L2Measurer struct {
	target []float32
}

// Bind implements MeasureBuilder.
func (L2) Bind(target []float32) L2Measurer {
	return L2Measurer{target: target}
}

// Measure implements Measurer.
func (m L2Measurer) Measure(other []float32) Distance {
	assertSameDim(m.target, other)
	var sum float32
	for i := range m.target {
		diff := m.target[i] - other[i]
		sum += diff * diff
	}
	return sum
}

// Cosine measures 1 − (a·b)/(‖a‖·‖b‖). The target magnitude is precomputed
// at bind time.
type Cosine struct{}

// CosineMeasurer is the measurer bound by Cosine.
type CosineMeasurer struct {
	target    []float32
	magnitude float32
}

// Bind implements MeasureBuilder.
func (Cosine) Bind(target []float32) CosineMeasurer {
	return CosineMeasurer{target: target, magnitude: Magnitude(target)}
}

// Measure implements Measurer.
func (m CosineMeasurer) Measure(other []float32) Distance {
	assertSameDim(m.target, other)
	magnitudeMul := m.magnitude * Magnitude(other)
	return 1.0 - vek32.Dot(m.target, other)/magnitudeMul
}

// InnerProduct measures −(a·b), negated so that smaller means closer like
// the other measures.
type InnerProduct struct{}

// InnerProductMeasurer is the measurer bound by InnerProduct.
type InnerProductMeasurer struct {
	target []float32
}

// Bind implements MeasureBuilder.
func (InnerProduct) Bind(target []float32) InnerProductMeasurer {
	return InnerProductMeasurer{target: target}
}

// Measure implements Measurer.
func (m InnerProductMeasurer) Measure(other []float32) Distance {
	assertSameDim(m.target, other)
	return -vek32.Dot(m.target, other)
}

// innerProductTrivial is the scalar reference for the vek SIMD path.
func innerProductTrivial(first, second []float32) Distance {
	assertSameDim(first, second)
	var sum float32
	for i := range first {
		sum += first[i] * second[i]
	}
	return -sum
}

// innerProductChunked mirrors the shape of a 32-lane SIMD kernel: 32-float
// chunks accumulated per chunk, scalar tail.
func innerProductChunked(first, second []float32) Distance {
	assertSameDim(first, second)
	const lanes = 32
	var sum float32
	start := 0
	for start+lanes <= len(first) {
		var chunk float32
		for i := start; i < start+lanes; i++ {
			chunk += first[i] * second[i]
		}
		sum += chunk
		start += lanes
	}
	for i := start; i < len(first); i++ {
		sum += first[i] * second[i]
	}
	return -sum
}
