package lattice

import "fmt"

// Node is one rank's view of the decomposition: its owned block, its
// neighbor ranks, and the linear index numbering of owned sites plus the
// one-layer halo margin appended per direction.
//
// Owned sites occupy [0, LocalVolume) in lexicographic order within the
// block (axis 0 innermost). The halo block for direction d starts at
// HaloOffset(d) and enumerates the face lexicographically over the
// remaining axes; send and receive sides share this enumeration, so packed
// payloads scatter straight into the halo block.
type Node struct {
	Lat  *Lattice
	Rank int
	Min  []int // global coordinate of the block origin
	Size []int // owned sites per axis

	volume     int
	strides    []int
	neighbors  []int // rank per direction
	haloOffset []int // local index where each direction's halo begins
	haloSize   []int
	allocSize  int
}

// Node returns the per-rank view for the given rank.
func (lat *Lattice) Node(rank int) *Node {
	if rank < 0 || rank >= lat.Ranks {
		panic(fmt.Sprintf("lattice: rank %d out of range [0,%d)", rank, lat.Ranks))
	}
	n := &Node{
		Lat:  lat,
		Rank: rank,
		Min:  make([]int, lat.NDim),
		Size: append([]int(nil), lat.Block...),
	}
	rc := lat.rankCoord(rank)
	n.volume = 1
	for a := 0; a < lat.NDim; a++ {
		n.Min[a] = rc[a] * lat.Block[a]
		n.volume *= n.Size[a]
	}
	n.strides = make([]int, lat.NDim)
	stride := 1
	for a := 0; a < lat.NDim; a++ {
		n.strides[a] = stride
		stride *= n.Size[a]
	}
	nd := lat.NDirs()
	n.neighbors = make([]int, nd)
	n.haloOffset = make([]int, nd)
	n.haloSize = make([]int, nd)
	off := n.volume
	for d := Direction(0); d < Direction(nd); d++ {
		n.neighbors[d] = lat.neighborRank(rank, d)
		n.haloSize[d] = n.volume / n.Size[d.Axis()] * HaloMargin
		n.haloOffset[d] = off
		off += n.haloSize[d]
	}
	n.allocSize = off
	return n
}

// LocalVolume returns the number of sites this rank owns.
func (n *Node) LocalVolume() int { return n.volume }

// AllocSize returns the buffer capacity a field needs: owned sites plus
// every halo block.
func (n *Node) AllocSize() int { return n.allocSize }

// HaloMargin returns the halo depth in sites per direction.
func (n *Node) HaloMargin() int { return HaloMargin }

// Neighbor returns the rank adjacent to this one in direction d.
func (n *Node) Neighbor(d Direction) int { return n.neighbors[d] }

// HaloOffset returns the local index where direction d's halo block begins.
func (n *Node) HaloOffset(d Direction) int { return n.haloOffset[d] }

// HaloSize returns the number of sites in direction d's halo block.
func (n *Node) HaloSize(d Direction) int { return n.haloSize[d] }

// OwnedIndex maps a global coordinate owned by this rank to its local
// index. The second return is false when the coordinate is not owned here.
func (n *Node) OwnedIndex(coord []int) (int, bool) {
	idx := 0
	for a := 0; a < n.Lat.NDim; a++ {
		c := wrap(coord[a], n.Lat.Extents[a]) - n.Min[a]
		if c < 0 || c >= n.Size[a] {
			return 0, false
		}
		idx += c * n.strides[a]
	}
	return idx, true
}

// LocalIndex maps a global coordinate to a local index: an owned index, or
// a halo index when the coordinate lies exactly one layer beyond the block
// along a single axis. The second return is false when the coordinate is
// neither owned nor in the halo margin.
func (n *Node) LocalIndex(coord []int) (int, bool) {
	if idx, ok := n.OwnedIndex(coord); ok {
		return idx, true
	}
	dir := Direction(-1)
	for a := 0; a < n.Lat.NDim; a++ {
		c := wrap(coord[a], n.Lat.Extents[a])
		switch {
		case c >= n.Min[a] && c < n.Min[a]+n.Size[a]:
			continue
		case c == wrap(n.Min[a]+n.Size[a], n.Lat.Extents[a]):
			if dir >= 0 {
				return 0, false // displaced on two axes
			}
			dir = Up(a)
		case c == wrap(n.Min[a]-1, n.Lat.Extents[a]):
			if dir >= 0 {
				return 0, false
			}
			dir = Down(a)
		default:
			return 0, false
		}
	}
	if dir < 0 {
		return 0, false
	}
	return n.haloOffset[dir] + n.faceIndex(dir.Axis(), coord), true
}

// faceIndex enumerates a face lexicographically over all axes except the
// given one.
func (n *Node) faceIndex(axis int, coord []int) int {
	idx := 0
	stride := 1
	for a := 0; a < n.Lat.NDim; a++ {
		if a == axis {
			continue
		}
		idx += (wrap(coord[a], n.Lat.Extents[a]) - n.Min[a]) * stride
		stride *= n.Size[a]
	}
	return idx
}

// CoordOf returns the global coordinate of an owned local index.
func (n *Node) CoordOf(index int) []int {
	if index < 0 || index >= n.volume {
		panic(fmt.Sprintf("lattice: owned index %d out of range [0,%d)", index, n.volume))
	}
	coord := make([]int, n.Lat.NDim)
	for a := 0; a < n.Lat.NDim; a++ {
		coord[a] = n.Min[a] + index%n.Size[a]
		index /= n.Size[a]
	}
	return coord
}

// HaloDirOf returns the halo direction containing a local index, or false
// for owned indices or indices outside the allocation.
func (n *Node) HaloDirOf(index int) (Direction, bool) {
	if index < n.volume || index >= n.allocSize {
		return 0, false
	}
	for d := Direction(0); d < Direction(n.Lat.NDirs()); d++ {
		if index < n.haloOffset[d]+n.haloSize[d] {
			return d, true
		}
	}
	return 0, false
}

// forEachFaceSite visits the face of the owned block at the fixed local
// coordinate la along the given axis, lexicographically over the remaining
// axes, yielding the owned local index and the global coordinate.
func (n *Node) forEachFaceSite(axis, la int, fn func(local int, coord []int)) {
	nd := n.Lat.NDim
	coord := make([]int, nd)
	local := make([]int, nd)
	local[axis] = la
	for {
		idx := 0
		for a := 0; a < nd; a++ {
			coord[a] = n.Min[a] + local[a]
			idx += local[a] * n.strides[a]
		}
		fn(idx, coord)
		// advance the odometer, skipping the fixed axis
		a := 0
		for ; a < nd; a++ {
			if a == axis {
				continue
			}
			local[a]++
			if local[a] < n.Size[a] {
				break
			}
			local[a] = 0
		}
		if a == nd {
			return
		}
	}
}

// SendSites returns, in face order, the owned indices this rank must pack
// when every rank gathers in direction d: the face toward d.Opposite(),
// destined for Neighbor(d.Opposite()). A non-ALL parity keeps only sites of
// that global parity.
func (n *Node) SendSites(d Direction, par Parity) []int {
	a := d.Axis()
	la := 0
	if !d.IsUp() {
		la = n.Size[a] - 1
	}
	sites := make([]int, 0, n.haloSize[d])
	n.forEachFaceSite(a, la, func(local int, coord []int) {
		if par.Matches(CoordParity(coord)) {
			sites = append(sites, local)
		}
	})
	return sites
}

// HaloSites returns, in face order, the halo indices filled by a gather in
// direction d, optionally filtered by the parity of the shadowed site.
func (n *Node) HaloSites(d Direction, par Parity) []int {
	a := d.Axis()
	base := n.haloOffset[d]
	sites := make([]int, 0, n.haloSize[d])
	coord := make([]int, n.Lat.NDim)
	k := 0
	n.forEachFaceSite(a, 0, func(_ int, faceCoord []int) {
		copy(coord, faceCoord)
		if d.IsUp() {
			coord[a] = wrap(n.Min[a]+n.Size[a], n.Lat.Extents[a])
		} else {
			coord[a] = wrap(n.Min[a]-1, n.Lat.Extents[a])
		}
		if par.Matches(CoordParity(coord)) {
			sites = append(sites, base+k)
		}
		k++
	})
	return sites
}

// WrapsOnSend reports whether the payload this rank sends for a gather in
// direction d crosses the global boundary on its way to the receiver.
func (n *Node) WrapsOnSend(d Direction) bool {
	a := d.Axis()
	if d.IsUp() {
		return n.Min[a] == 0
	}
	return n.Min[a]+n.Size[a] == n.Lat.Extents[a]
}
