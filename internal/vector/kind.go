// Package vector provides fixed-dimension float32 vectors and the distance
// kernels used on the graph-construction hot path.
//
// Each measure exposes a two-stage API: a zero-size builder binds a target
// vector and returns a measurer that may precompute target-side invariants
// (cosine precomputes the target magnitude). Callers that know the measure
// statically instantiate generic code over the concrete builder/measurer
// pair, so the per-edge distance call is monomorphized.
package vector

import (
	veldterrors "github.com/veldt-db/veldt/internal/errors"
)

// Kind enumerates the supported distance measures.
type Kind uint8

const (
	KindL1 Kind = iota
	KindL2
	KindCosine
	KindInnerProduct
)

// ParseKind parses a measure name as it appears in configuration.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "l1":
		return KindL1, nil
	case "l2":
		return KindL2, nil
	case "cosine", "cos":
		return KindCosine, nil
	case "inner_product", "ip":
		return KindInnerProduct, nil
	default:
		return 0, veldterrors.ConfigError("unknown distance measure %q", s)
	}
}

// String returns the canonical configuration name of the measure.
func (k Kind) String() string {
	switch k {
	case KindL1:
		return "l1"
	case KindL2:
		return "l2"
	case KindCosine:
		return "cosine"
	case KindInnerProduct:
		return "inner_product"
	default:
		return "unknown"
	}
}
