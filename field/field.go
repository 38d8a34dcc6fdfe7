package field

import (
	"fmt"

	"github.com/xiagt-summer/HILA/comm"
	"github.com/xiagt-summer/HILA/lattice"
)

// Field binds a storage buffer to a rank's geometry view, a communication
// endpoint, and per-axis boundary conditions, and manages the halo
// exchange state of the buffer.
//
// Every rank participating in a run must create its fields in the same
// order with the same element type and boundary configuration; Field
// instances across ranks pair up by creation order.
type Field struct {
	*Storage
	comm   *comm.Comm
	bounds []BoundaryCond

	tagBase int
	elemTag int
	ckptTag int

	// gather bookkeeping per (direction, parity). gen counts
	// invalidations: a posted request whose stamp no longer matches
	// carries data from before a mutation and must not validate the
	// cache when it completes.
	status      [][3]gatherState
	gen         [][3]uint64
	outstanding map[gatherKey]*GatherRequest
}

type gatherState uint8

const (
	gatherNone gatherState = iota
	gatherStarted
	gatherDone
)

type gatherKey struct {
	dir lattice.Direction
	par lattice.Parity
}

// New allocates a field over the given geometry view and endpoint.
func New(node *lattice.Node, c *comm.Comm, et ElemType, layout Layout) (*Field, error) {
	s, err := Alloc(node, et, layout)
	if err != nil {
		return nil, err
	}
	nd := node.Lat.NDirs()
	f := &Field{
		Storage:     s,
		comm:        c,
		bounds:      make([]BoundaryCond, node.Lat.NDim),
		status:      make([][3]gatherState, nd),
		gen:         make([][3]uint64, nd),
		outstanding: make(map[gatherKey]*GatherRequest),
	}
	// one tag per (direction, parity) channel, plus element access and
	// checkpoint streams
	f.tagBase = c.AllocTagBlock(3*nd + 2)
	f.elemTag = f.tagBase + 3*nd
	f.ckptTag = f.elemTag + 1
	return f, nil
}

// Free releases the field's buffer. Outstanding gathers must be completed
// first.
func (f *Field) Free() {
	for _, req := range f.outstanding {
		_ = req.Wait()
	}
	f.Storage.Free()
}

// SetBoundary configures the wrap factor for one axis. It must be called
// identically on every rank before the field's first gather; changing a
// boundary invalidates all cached halo data.
func (f *Field) SetBoundary(axis int, bc BoundaryCond) error {
	if axis < 0 || axis >= f.node.Lat.NDim {
		return fmt.Errorf("boundary axis %d out of range [0,%d)", axis, f.node.Lat.NDim)
	}
	if err := bc.validate(f.et); err != nil {
		return err
	}
	f.bounds[axis] = bc
	f.MarkChanged(lattice.ALL)
	return nil
}

// Boundary returns the wrap factor configured for an axis.
func (f *Field) Boundary(axis int) BoundaryCond { return f.bounds[axis] }

// gatherTag returns the message tag of one (direction, parity) channel.
func (f *Field) gatherTag(d lattice.Direction, par lattice.Parity) int {
	return f.tagBase + 3*int(d) + int(par)
}

// MarkChanged invalidates cached halo data for the given parity, so a
// subsequent gather re-fetches. Required whenever sites are mutated
// through the raw Storage accessors; the Field accessors mark
// automatically.
func (f *Field) MarkChanged(par lattice.Parity) {
	for d := range f.status {
		if par == lattice.ALL {
			f.status[d] = [3]gatherState{}
			for p := range f.gen[d] {
				f.gen[d][p]++
			}
			continue
		}
		f.status[d][par] = gatherNone
		f.status[d][lattice.ALL] = gatherNone
		f.gen[d][par]++
		f.gen[d][lattice.ALL]++
	}
}

// markSite invalidates halo caches after an owned-site mutation.
func (f *Field) markSite(i int) {
	if i < f.node.LocalVolume() {
		f.MarkChanged(lattice.CoordParity(f.node.CoordOf(i)))
	}
}

// Elem returns the components of a local site. Reading a halo site first
// completes any outstanding gather covering that direction (the implicit
// wait path); reading a halo site that no gather has filled panics.
func (f *Field) Elem(i int) []float64 {
	f.completeFor(i)
	return f.Storage.Get(i)
}

// SetElem stores the components of an owned site and invalidates stale
// halo caches.
func (f *Field) SetElem(i int, vals []float64) {
	f.Storage.Set(i, vals)
	f.markSite(i)
}

// ValueAt returns the components at a global coordinate, which must be
// owned by this rank or lie in a gathered halo layer.
func (f *Field) ValueAt(coord []int) []float64 {
	i, ok := f.node.LocalIndex(coord)
	if !ok {
		panic(fmt.Sprintf("field: coordinate %v is neither owned nor in the halo margin of rank %d",
			coord, f.comm.Rank()))
	}
	return f.Elem(i)
}

// completeFor finishes outstanding gathers covering a halo index and
// asserts the halo has been filled at all.
func (f *Field) completeFor(i int) {
	if i < f.node.LocalVolume() {
		return
	}
	d, ok := f.node.HaloDirOf(i)
	if !ok {
		return // out of range; Storage.Get will panic with the right message
	}
	for _, par := range []lattice.Parity{lattice.ALL, lattice.EVEN, lattice.ODD} {
		if req := f.outstanding[gatherKey{dir: d, par: par}]; req != nil {
			if err := req.Wait(); err != nil {
				panic(fmt.Sprintf("field: gather %v failed: %v", d, err))
			}
		}
	}
	st := f.status[d]
	if st[lattice.ALL] != gatherDone && st[lattice.EVEN] != gatherDone && st[lattice.ODD] != gatherDone {
		panic(fmt.Sprintf("field: halo read in direction %v with no gather posted", d))
	}
}

// Real returns the scalar value of a site of element type Real.
func (f *Field) Real(i int) float64 {
	f.requireType(Real)
	return f.Elem(i)[0]
}

// SetReal stores a scalar at an owned site of element type Real.
func (f *Field) SetReal(i int, v float64) {
	f.requireType(Real)
	f.SetElem(i, []float64{v})
}

// Complex returns the value of a site of element type Complex.
func (f *Field) Complex(i int) complex128 {
	f.requireType(Complex)
	e := f.Elem(i)
	return complex(e[0], e[1])
}

// SetComplex stores a complex value at an owned site of element type
// Complex.
func (f *Field) SetComplex(i int, v complex128) {
	f.requireType(Complex)
	f.SetElem(i, []float64{real(v), imag(v)})
}

// requireType is the checked-view guard: typed accessors never reinterpret
// a buffer of another element type.
func (f *Field) requireType(et ElemType) {
	if f.et.Name != et.Name || f.et.Comps != et.Comps {
		panic(fmt.Sprintf("field: %s access on element type %q", et.Name, f.et.Name))
	}
}

// GetElement returns the value at a global coordinate regardless of owner.
// It is a collective call: every rank must call it with the same
// coordinate, and every rank receives the value (the owner broadcasts).
func (f *Field) GetElement(coord []int) ([]float64, error) {
	owner := f.node.Lat.Owner(coord)
	if owner == f.comm.Rank() {
		i, ok := f.node.OwnedIndex(coord)
		if !ok {
			return nil, fmt.Errorf("get element: owner mismatch at %v", coord)
		}
		vals := f.Storage.Get(i)
		buf := f.Storage.GatherElems([]int{i})
		for dst := 0; dst < f.comm.Size(); dst++ {
			if dst == owner {
				continue
			}
			if err := f.comm.Send(dst, f.elemTag, buf); err != nil {
				return nil, err
			}
		}
		return vals, nil
	}
	buf, err := f.comm.Recv(owner, f.elemTag)
	if err != nil {
		return nil, err
	}
	if len(buf) != f.et.ElemBytes() {
		return nil, &comm.CommunicationError{
			Op:     "get element",
			Detail: fmt.Sprintf("%d bytes for element of %d", len(buf), f.et.ElemBytes()),
		}
	}
	vals, err := decodeElement(buf)
	if err != nil {
		return nil, err
	}
	return vals, nil
}

// SetElement stores a value at a global coordinate regardless of owner. It
// is a collective call with identical arguments on every rank: the owner
// stores, and every rank invalidates halo caches for the site's parity.
func (f *Field) SetElement(coord []int, vals []float64) error {
	if len(vals) != f.et.Comps {
		return fmt.Errorf("set element: %d components for element type %q", len(vals), f.et.Name)
	}
	if owner := f.node.Lat.Owner(coord); owner == f.comm.Rank() {
		i, ok := f.node.OwnedIndex(coord)
		if !ok {
			return fmt.Errorf("set element: owner mismatch at %v", coord)
		}
		f.Storage.Set(i, vals)
	}
	f.MarkChanged(lattice.CoordParity(coord))
	return nil
}
