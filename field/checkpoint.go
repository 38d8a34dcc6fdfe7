package field

import (
	"fmt"
	"io"

	"github.com/xiagt-summer/HILA/comm"
	"github.com/xiagt-summer/HILA/lattice"
)

// Checkpoint contract: a field checkpoint is the sequence of per-site
// element values in strict global lexicographic coordinate order (axis 0
// innermost), little-endian float64 components. The ordering is defined by
// the global coordinates, not by any in-memory layout or decomposition, so
// a checkpoint written under one layout or rank grid reads back identical
// per-site values under any other.
//
// Both calls are collective: every rank must enter them. Only root's
// reader/writer is used; other ranks may pass nil.

// WriteCheckpoint streams the field to w on root.
func (f *Field) WriteCheckpoint(w io.Writer) error {
	root := f.comm.Rank() == comm.Root
	if root && w == nil {
		return fmt.Errorf("write checkpoint: root needs a writer")
	}
	return f.forEachRun(func(owner, base, run int) error {
		switch {
		case owner == f.comm.Rank() && root:
			_, err := w.Write(f.Storage.GatherElems(runIndices(base, run)))
			return err
		case owner == f.comm.Rank():
			return f.comm.Send(comm.Root, f.ckptTag, f.Storage.GatherElems(runIndices(base, run)))
		case root:
			buf, err := f.comm.Recv(owner, f.ckptTag)
			if err != nil {
				return err
			}
			if want := run * f.et.ElemBytes(); len(buf) != want {
				return &comm.CommunicationError{
					Op:     "checkpoint write",
					Detail: fmt.Sprintf("rank %d sent %d bytes, expected %d", owner, len(buf), want),
				}
			}
			_, err = w.Write(buf)
			return err
		}
		return nil
	})
}

// ReadCheckpoint loads the field from r on root and distributes each
// rank's sites. All halo caches are invalidated.
func (f *Field) ReadCheckpoint(r io.Reader) error {
	root := f.comm.Rank() == comm.Root
	if root && r == nil {
		return fmt.Errorf("read checkpoint: root needs a reader")
	}
	err := f.forEachRun(func(owner, base, run int) error {
		switch {
		case owner == f.comm.Rank() && root:
			buf := make([]byte, run*f.et.ElemBytes())
			if _, err := io.ReadFull(r, buf); err != nil {
				return fmt.Errorf("read checkpoint: %w", err)
			}
			return f.Storage.ScatterElems(buf, runIndices(base, run))
		case root:
			buf := make([]byte, run*f.et.ElemBytes())
			if _, err := io.ReadFull(r, buf); err != nil {
				return fmt.Errorf("read checkpoint: %w", err)
			}
			return f.comm.Send(owner, f.ckptTag, buf)
		case owner == f.comm.Rank():
			buf, err := f.comm.Recv(comm.Root, f.ckptTag)
			if err != nil {
				return err
			}
			return f.Storage.ScatterElems(buf, runIndices(base, run))
		}
		return nil
	})
	if err != nil {
		return err
	}
	f.MarkChanged(lattice.ALL)
	return nil
}

// forEachRun walks the global sites in lexicographic order as runs of
// axis-0 sites owned by a single rank, yielding the owner, the owner-local
// index of the run's first site, and the run length. Axis 0 is the
// innermost index on both the global and local numbering, so a run is
// contiguous in local indices.
func (f *Field) forEachRun(fn func(owner, base, run int) error) error {
	lat := f.node.Lat
	run := lat.Block[0]
	outerVol := lat.Volume() / lat.Extents[0]
	coord := make([]int, lat.NDim)
	for outer := 0; outer < outerVol; outer++ {
		rem := outer
		for a := 1; a < lat.NDim; a++ {
			coord[a] = rem % lat.Extents[a]
			rem /= lat.Extents[a]
		}
		for blk := 0; blk < lat.Divisions[0]; blk++ {
			coord[0] = blk * run
			owner := lat.Owner(coord)
			base := 0
			if owner == f.comm.Rank() {
				var ok bool
				base, ok = f.node.OwnedIndex(coord)
				if !ok {
					return fmt.Errorf("checkpoint: ownership mismatch at %v", coord)
				}
			}
			if err := fn(owner, base, run); err != nil {
				return err
			}
		}
	}
	return nil
}

func runIndices(base, n int) []int {
	idx := make([]int, n)
	for k := range idx {
		idx[k] = base + k
	}
	return idx
}
