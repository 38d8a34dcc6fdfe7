package field

import (
	"fmt"

	"github.com/xiagt-summer/HILA/comm"
	"github.com/xiagt-summer/HILA/lattice"
)

// GatherRequest is the handle of one outstanding halo transfer for one
// (field, direction, parity) tuple. It moves Idle -> Posted -> Completed;
// Wait performs the completion. A request backed by a local copy or by a
// still-valid cache is born completed.
type GatherRequest struct {
	f    *Field
	dir  lattice.Direction
	par  lattice.Parity
	send *comm.Request
	recv *comm.Request
	dst  []int // halo indices the payload scatters into
	gen  uint64
	done bool
	err  error
}

// Dir returns the gather direction.
func (r *GatherRequest) Dir() lattice.Direction { return r.dir }

// Parity returns the gathered parity.
func (r *GatherRequest) Parity() lattice.Parity { return r.par }

// Posted reports whether the transfer is still outstanding.
func (r *GatherRequest) Posted() bool { return !r.done }

// Wait completes the transfer: it blocks on the receive, checks the
// payload size, scatters it into the halo block, and marks the gather
// done. Completed requests return immediately. A transfer whose data was
// invalidated after posting still drains, but does not validate the
// cache; the next gather re-fetches.
func (r *GatherRequest) Wait() error {
	if r.done {
		return r.err
	}
	r.done = true
	f := r.f
	delete(f.outstanding, gatherKey{dir: r.dir, par: r.par})

	if r.send != nil {
		if _, err := r.send.Wait(); err != nil {
			r.err = err
			return err
		}
	}
	buf, err := r.recv.Wait()
	if err != nil {
		r.err = err
		return err
	}
	if want := len(r.dst) * f.et.ElemBytes(); len(buf) != want {
		r.err = &comm.CommunicationError{
			Op:     "halo gather",
			Detail: fmt.Sprintf("direction %v: received %d bytes, expected %d", r.dir, len(buf), want),
		}
		return r.err
	}
	if err := f.Storage.ScatterElems(buf, r.dst); err != nil {
		r.err = err
		return err
	}
	if f.gen[r.dir][r.par] == r.gen {
		f.setGatherDone(r.dir, r.par)
	}
	return nil
}

// StartGather posts the non-blocking fetch of the halo layer in direction
// d for sites of the given parity: it packs the face this rank owes its
// neighbor opposite d (applying the boundary factor when the payload wraps
// the global edge), sends it, and posts the matching receive from
// Neighbor(d). The transfer is not guaranteed visible until the request is
// waited on, explicitly or through a halo read.
//
// If halo data for (d, parity) is still valid from an earlier gather, the
// returned request is already completed and no transfer happens. Posting
// over an outstanding request for the same pair first forces its
// completion, so transfers never overlap or get dropped. On an axis the
// rank spans entirely, the fetch degenerates to a local copy.
func (f *Field) StartGather(d lattice.Direction, par lattice.Parity) (*GatherRequest, error) {
	if d < 0 || int(d) >= f.node.Lat.NDirs() {
		return nil, fmt.Errorf("start gather: direction %v on a %d-dimensional lattice", d, f.node.Lat.NDim)
	}
	if par != lattice.EVEN && par != lattice.ODD && par != lattice.ALL {
		return nil, fmt.Errorf("start gather: parity %v", par)
	}

	// At most one posted request may exist per direction; any prior one
	// must complete first.
	for _, p := range []lattice.Parity{lattice.EVEN, lattice.ODD, lattice.ALL} {
		if prior := f.outstanding[gatherKey{dir: d, par: p}]; prior != nil {
			if err := prior.Wait(); err != nil {
				return nil, err
			}
		}
	}
	if f.gatherSatisfied(d, par) {
		return &GatherRequest{f: f, dir: d, par: par, done: true}, nil
	}

	sendSites := f.node.SendSites(d, par)
	payload := f.Storage.GatherElems(sendSites)
	if f.node.WrapsOnSend(d) {
		// Factor for the receiving field/direction: upward wraps carry the
		// configured factor, downward wraps its inverse.
		f.bounds[d.Axis()].applyToPayload(payload, f.et, !d.IsUp())
	}
	dst := f.node.HaloSites(d, par)

	if f.node.Neighbor(d) == f.comm.Rank() {
		// Degenerate single-rank axis: the neighbor is this rank, so the
		// halo is a direct local copy of the already-factored payload.
		if err := f.Storage.ScatterElems(payload, dst); err != nil {
			return nil, err
		}
		f.setGatherDone(d, par)
		return &GatherRequest{f: f, dir: d, par: par, done: true}, nil
	}

	tag := f.gatherTag(d, par)
	req := &GatherRequest{
		f:    f,
		dir:  d,
		par:  par,
		send: f.comm.Isend(f.node.Neighbor(d.Opposite()), tag, payload),
		recv: f.comm.Irecv(f.node.Neighbor(d), tag),
		dst:  dst,
		gen:  f.gen[d][par],
	}
	f.status[d][par] = gatherStarted
	f.outstanding[gatherKey{dir: d, par: par}] = req
	return req, nil
}

// Gather is the blocking convenience: StartGather immediately followed by
// Wait.
func (f *Field) Gather(d lattice.Direction, par lattice.Parity) error {
	req, err := f.StartGather(d, par)
	if err != nil {
		return err
	}
	return req.Wait()
}

// StartGatherAll posts gathers in every direction for one parity, the
// post-then-consume pattern a stencil sweep opens with.
func (f *Field) StartGatherAll(par lattice.Parity) ([]*GatherRequest, error) {
	reqs := make([]*GatherRequest, 0, f.node.Lat.NDirs())
	for d := lattice.Direction(0); int(d) < f.node.Lat.NDirs(); d++ {
		req, err := f.StartGather(d, par)
		if err != nil {
			return reqs, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// WaitAll completes a batch of requests.
func WaitAll(reqs []*GatherRequest) error {
	for _, r := range reqs {
		if err := r.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// gatherSatisfied reports whether valid halo data already covers (d, par).
func (f *Field) gatherSatisfied(d lattice.Direction, par lattice.Parity) bool {
	st := f.status[d]
	if st[lattice.ALL] == gatherDone {
		return true
	}
	switch par {
	case lattice.ALL:
		return st[lattice.EVEN] == gatherDone && st[lattice.ODD] == gatherDone
	default:
		return st[par] == gatherDone
	}
}

// setGatherDone records a completed gather and propagates the parity
// implications: ALL covers both parities, and both parities together cover
// ALL.
func (f *Field) setGatherDone(d lattice.Direction, par lattice.Parity) {
	f.status[d][par] = gatherDone
	if par == lattice.ALL {
		f.status[d][lattice.EVEN] = gatherDone
		f.status[d][lattice.ODD] = gatherDone
		return
	}
	if f.status[d][lattice.EVEN] == gatherDone && f.status[d][lattice.ODD] == gatherDone {
		f.status[d][lattice.ALL] = gatherDone
	}
}
