package field

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/cmplx"
)

// BoundaryKind selects the factor applied to a value crossing the global
// boundary of an axis.
type BoundaryKind int

const (
	Periodic BoundaryKind = iota
	Antiperiodic
	Twisted
)

func (k BoundaryKind) String() string {
	switch k {
	case Periodic:
		return "periodic"
	case Antiperiodic:
		return "antiperiodic"
	case Twisted:
		return "twisted"
	}
	return fmt.Sprintf("boundary(%d)", int(k))
}

// BoundaryCond is the per-axis wrap factor of a field: identity for
// periodic, -1 for antiperiodic, an arbitrary unit-magnitude phase for
// twisted boundaries. The factor is applied by the sender when packing a
// halo payload that wraps the global edge; it is baked into the payload
// and never reapplied at read time. Wrapping upward applies the factor,
// wrapping downward its inverse.
type BoundaryCond struct {
	Kind  BoundaryKind
	Phase complex128 // meaningful for Twisted only
}

// factor returns the multiplicative phase, inverted for downward wraps.
func (b BoundaryCond) factor(inverse bool) complex128 {
	switch b.Kind {
	case Antiperiodic:
		return -1
	case Twisted:
		if inverse {
			return cmplx.Conj(b.Phase)
		}
		return b.Phase
	}
	return 1
}

// validate checks that the condition is usable with the element type.
func (b BoundaryCond) validate(et ElemType) error {
	if b.Kind != Twisted {
		return nil
	}
	if !et.ComplexPair {
		return fmt.Errorf("twisted boundary on non-complex element type %q", et.Name)
	}
	if d := math.Abs(cmplx.Abs(b.Phase) - 1); d > 1e-12 {
		return fmt.Errorf("twist phase %v is not unit magnitude", b.Phase)
	}
	return nil
}

// applyToPayload multiplies a packed element payload in place. Real factors
// scale every component; complex phases rotate each (re, im) pair.
func (b BoundaryCond) applyToPayload(buf []byte, et ElemType, inverse bool) {
	f := b.factor(inverse)
	if f == 1 {
		return
	}
	if imag(f) == 0 && !b.needsPairs() {
		re := real(f)
		for off := 0; off+8 <= len(buf); off += 8 {
			v := math.Float64frombits(binary.LittleEndian.Uint64(buf[off:]))
			binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(v*re))
		}
		return
	}
	for off := 0; off+16 <= len(buf); off += 16 {
		re := math.Float64frombits(binary.LittleEndian.Uint64(buf[off:]))
		im := math.Float64frombits(binary.LittleEndian.Uint64(buf[off+8:]))
		v := complex(re, im) * f
		binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(real(v)))
		binary.LittleEndian.PutUint64(buf[off+8:], math.Float64bits(imag(v)))
	}
}

func (b BoundaryCond) needsPairs() bool { return b.Kind == Twisted }
