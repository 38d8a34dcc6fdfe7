package field

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/xiagt-summer/HILA/lattice"
)

// Storage is the per-field buffer: one owned float64 slab sized to the
// rank's local volume plus halo margin, addressed by local linear index.
// The layout is fixed for the buffer's lifetime and affects only the
// physical packing, never the get/set contract.
//
// Index range checks panic: an out-of-range site access is a programming
// error in the sweep, not a runtime condition.
type Storage struct {
	node   *lattice.Node
	et     ElemType
	layout Layout
	buf    []float64
	size   int // allocated sites, local volume + halos
}

// Alloc reserves local-volume-plus-halo capacity for one field.
func Alloc(node *lattice.Node, et ElemType, layout Layout) (*Storage, error) {
	if err := et.validate(); err != nil {
		return nil, err
	}
	if layout != ElementMajor && layout != ComponentMajor {
		return nil, fmt.Errorf("unknown layout %v", layout)
	}
	s := &Storage{
		node:   node,
		et:     et,
		layout: layout,
		size:   node.AllocSize(),
	}
	s.buf = make([]float64, s.size*et.Comps)
	return s, nil
}

// Free releases the buffer. The storage must not be used afterward.
func (s *Storage) Free() { s.buf = nil }

// Node returns the geometry view this storage was sized from.
func (s *Storage) Node() *lattice.Node { return s.node }

// ElemType returns the per-site element descriptor.
func (s *Storage) ElemType() ElemType { return s.et }

// Layout returns the physical packing.
func (s *Storage) Layout() Layout { return s.layout }

// AllocSites returns the allocated site count including halos.
func (s *Storage) AllocSites() int { return s.size }

func (s *Storage) check(i int) {
	if i < 0 || i >= s.size {
		panic(fmt.Sprintf("field: site index %d out of range [0,%d)", i, s.size))
	}
}

// comp returns the buffer position of component c of site i.
func (s *Storage) comp(i, c int) int {
	if s.layout == ComponentMajor {
		return c*s.size + i
	}
	return i*s.et.Comps + c
}

// Get returns the components of site i in a fresh slice.
func (s *Storage) Get(i int) []float64 {
	dst := make([]float64, s.et.Comps)
	s.GetInto(i, dst)
	return dst
}

// GetInto reads the components of site i into dst.
func (s *Storage) GetInto(i int, dst []float64) {
	s.check(i)
	for c := 0; c < s.et.Comps; c++ {
		dst[c] = s.buf[s.comp(i, c)]
	}
}

// Set stores the components of site i.
func (s *Storage) Set(i int, vals []float64) {
	s.check(i)
	if len(vals) != s.et.Comps {
		panic(fmt.Sprintf("field: %d components for element type %q (%d)",
			len(vals), s.et.Name, s.et.Comps))
	}
	for c := 0; c < s.et.Comps; c++ {
		s.buf[s.comp(i, c)] = vals[c]
	}
}

// GatherElems serializes the listed sites into a byte buffer, one element
// after another in list order, little-endian float64 components. This is
// the primitive halo exchange and checkpoint I/O build on.
func (s *Storage) GatherElems(idx []int) []byte {
	eb := s.et.ElemBytes()
	out := make([]byte, len(idx)*eb)
	for j, i := range idx {
		s.check(i)
		for c := 0; c < s.et.Comps; c++ {
			binary.LittleEndian.PutUint64(out[j*eb+8*c:],
				math.Float64bits(s.buf[s.comp(i, c)]))
		}
	}
	return out
}

// decodeElement unpacks one encoded element into components.
func decodeElement(buf []byte) ([]float64, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("decode element: %d bytes", len(buf))
	}
	vals := make([]float64, len(buf)/8)
	for c := range vals {
		vals[c] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*c:]))
	}
	return vals, nil
}

// ScatterElems deserializes a GatherElems buffer into the listed sites.
func (s *Storage) ScatterElems(buf []byte, idx []int) error {
	eb := s.et.ElemBytes()
	if len(buf) != len(idx)*eb {
		return fmt.Errorf("scatter: %d bytes for %d sites of %d bytes", len(buf), len(idx), eb)
	}
	for j, i := range idx {
		s.check(i)
		for c := 0; c < s.et.Comps; c++ {
			s.buf[s.comp(i, c)] = math.Float64frombits(
				binary.LittleEndian.Uint64(buf[j*eb+8*c:]))
		}
	}
	return nil
}
