// Package field provides per-site storage for lattice fields with a
// selectable memory layout, boundary conditions, non-blocking halo
// exchange between ranks, and binary checkpoints in global coordinate
// order.
package field

import "fmt"

// Layout selects the physical packing of a storage buffer. The logical
// get/set contract is identical under both.
type Layout int

const (
	// ElementMajor keeps each site's full value contiguous.
	ElementMajor Layout = iota
	// ComponentMajor keeps one scalar component contiguous across all
	// sites, so wide-vector hardware can stream a component.
	ComponentMajor
)

func (l Layout) String() string {
	switch l {
	case ElementMajor:
		return "element-major"
	case ComponentMajor:
		return "component-major"
	}
	return fmt.Sprintf("layout(%d)", int(l))
}

// ElemType describes the per-site value of a field as a fixed number of
// float64 components. ComplexPair marks types whose components form
// (re, im) pairs, which is what twisted boundary phases act on.
type ElemType struct {
	Name        string
	Comps       int
	ComplexPair bool
}

// Predefined element types.
var (
	Real    = ElemType{Name: "real", Comps: 1}
	Complex = ElemType{Name: "complex", Comps: 2, ComplexPair: true}
)

// RealVector is an n-component real vector per site.
func RealVector(n int) ElemType {
	return ElemType{Name: fmt.Sprintf("real%d", n), Comps: n}
}

// ComplexVector is an n-component complex vector per site.
func ComplexVector(n int) ElemType {
	return ElemType{Name: fmt.Sprintf("complex%d", n), Comps: 2 * n, ComplexPair: true}
}

// ComplexMatrix is an n-by-n complex matrix per site, row-major.
func ComplexMatrix(n int) ElemType {
	return ElemType{Name: fmt.Sprintf("cmatrix%d", n), Comps: 2 * n * n, ComplexPair: true}
}

// ElemBytes returns the size of one encoded element.
func (et ElemType) ElemBytes() int { return 8 * et.Comps }

func (et ElemType) validate() error {
	if et.Comps < 1 {
		return fmt.Errorf("element type %q has %d components", et.Name, et.Comps)
	}
	if et.ComplexPair && et.Comps%2 != 0 {
		return fmt.Errorf("element type %q: complex pairing needs an even component count", et.Name)
	}
	return nil
}
