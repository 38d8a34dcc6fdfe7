// Package lattice computes the global-to-local decomposition of a regular
// D-dimensional grid across a set of ranks: which rank owns each global
// coordinate, which ranks are nearest neighbors, and how owned sites plus a
// one-layer halo margin map onto a local linear index.
//
// A Lattice is computed once at setup and is immutable and side-effect-free
// afterward; it is shared read-only by every field allocated on it.
package lattice

import (
	"fmt"
)

// HaloMargin is the halo depth in sites per direction. Nearest-neighbor
// stencils need exactly one shadow layer.
const HaloMargin = 1

// Lattice holds the global decomposition: extents, the division grid, and
// the block size per axis. All per-rank views derive from it via Node.
type Lattice struct {
	Extents   []int // global size per axis
	Divisions []int // blocks per axis; prod == Ranks
	Block     []int // sites per axis in each block
	NDim      int
	Ranks     int

	volume     int
	rankStride []int // lexicographic strides over the rank grid, axis 0 innermost
}

// Setup computes a rectangular block decomposition of the given extents
// across nRanks participants using the default SurfacePolicy. It returns a
// *ConfigurationError when no valid block partition exists.
func Setup(extents []int, nRanks int) (*Lattice, error) {
	return SetupWithPolicy(extents, nRanks, SurfacePolicy{})
}

// SetupWithPolicy is Setup with an explicit decomposition policy.
func SetupWithPolicy(extents []int, nRanks int, pol Policy) (*Lattice, error) {
	if len(extents) == 0 {
		return nil, &ConfigurationError{Ranks: nRanks, Reason: "no extents"}
	}
	if nRanks < 1 {
		return nil, &ConfigurationError{
			Extents: append([]int(nil), extents...),
			Ranks:   nRanks,
			Reason:  "rank count must be positive",
		}
	}
	for a, e := range extents {
		if e < 1 {
			return nil, &ConfigurationError{
				Extents: append([]int(nil), extents...),
				Ranks:   nRanks,
				Reason:  fmt.Sprintf("axis %d extent %d", a, e),
			}
		}
	}

	div, err := pol.Divide(extents, nRanks)
	if err != nil {
		return nil, err
	}

	lat := &Lattice{
		Extents:   append([]int(nil), extents...),
		Divisions: div,
		Block:     make([]int, len(extents)),
		NDim:      len(extents),
		Ranks:     nRanks,
	}
	lat.volume = 1
	for a, e := range extents {
		lat.Block[a] = e / div[a]
		lat.volume *= e
	}
	lat.rankStride = make([]int, lat.NDim)
	stride := 1
	for a := 0; a < lat.NDim; a++ {
		lat.rankStride[a] = stride
		stride *= div[a]
	}

	if err := lat.validate(); err != nil {
		return nil, err
	}
	return lat, nil
}

// validate checks the decomposition invariants: every global site owned by
// exactly one rank and a symmetric neighbor table.
func (lat *Lattice) validate() error {
	counts := make([]int, lat.Ranks)
	blockVol := 1
	for a := range lat.Block {
		blockVol *= lat.Block[a]
	}
	for r := 0; r < lat.Ranks; r++ {
		counts[r] = blockVol
	}
	total := 0
	for r, c := range counts {
		if c == 0 {
			return fmt.Errorf("rank %d owns no sites", r)
		}
		total += c
	}
	if total != lat.volume {
		return fmt.Errorf("ownership covers %d sites, lattice has %d", total, lat.volume)
	}
	for r := 0; r < lat.Ranks; r++ {
		for d := Direction(0); d < Direction(2*lat.NDim); d++ {
			n := lat.neighborRank(r, d)
			back := lat.neighborRank(n, d.Opposite())
			if back != r {
				return fmt.Errorf("neighbor table asymmetric: rank %d dir %v -> %d, reverse -> %d",
					r, d, n, back)
			}
		}
	}
	return nil
}

// Volume returns the total number of global sites.
func (lat *Lattice) Volume() int { return lat.volume }

// NDirs returns the number of nearest-neighbor directions, 2*NDim.
func (lat *Lattice) NDirs() int { return 2 * lat.NDim }

// rankCoord returns the position of a rank in the division grid.
func (lat *Lattice) rankCoord(rank int) []int {
	rc := make([]int, lat.NDim)
	for a := 0; a < lat.NDim; a++ {
		rc[a] = (rank / lat.rankStride[a]) % lat.Divisions[a]
	}
	return rc
}

// rankOf returns the rank at a division-grid position.
func (lat *Lattice) rankOf(rc []int) int {
	r := 0
	for a := 0; a < lat.NDim; a++ {
		r += rc[a] * lat.rankStride[a]
	}
	return r
}

// neighborRank returns the rank adjacent to rank in direction d, wrapping
// periodically over the division grid.
func (lat *Lattice) neighborRank(rank int, d Direction) int {
	rc := lat.rankCoord(rank)
	a := d.Axis()
	rc[a] = (rc[a] + d.Step() + lat.Divisions[a]) % lat.Divisions[a]
	return lat.rankOf(rc)
}

// Owner returns the rank owning a global coordinate. Coordinates are
// wrapped periodically into the global extents first.
func (lat *Lattice) Owner(coord []int) int {
	r := 0
	for a := 0; a < lat.NDim; a++ {
		c := wrap(coord[a], lat.Extents[a])
		r += (c / lat.Block[a]) * lat.rankStride[a]
	}
	return r
}

// GlobalIndex maps a global coordinate to its position in the strict
// lexicographic site order (axis 0 innermost). This ordering, not any
// in-memory layout, is the portable checkpoint contract.
func (lat *Lattice) GlobalIndex(coord []int) int {
	idx := 0
	stride := 1
	for a := 0; a < lat.NDim; a++ {
		idx += wrap(coord[a], lat.Extents[a]) * stride
		stride *= lat.Extents[a]
	}
	return idx
}

// CoordOf is the inverse of GlobalIndex.
func (lat *Lattice) CoordOf(index int) []int {
	coord := make([]int, lat.NDim)
	for a := 0; a < lat.NDim; a++ {
		coord[a] = index % lat.Extents[a]
		index /= lat.Extents[a]
	}
	return coord
}

// SiteParity returns the parity of a global coordinate.
func (lat *Lattice) SiteParity(coord []int) Parity { return CoordParity(coord) }

func wrap(c, extent int) int {
	c %= extent
	if c < 0 {
		c += extent
	}
	return c
}

// Stats summarizes the decomposition for reporting: block volume, boundary
// surface per rank, and the fraction of sites on a partition boundary.
type Stats struct {
	Ranks        int
	BlockVolume  int
	Surface      int // boundary sites exposed per rank, summed over directions
	SurfaceRatio float64
}

func (lat *Lattice) Stats() Stats {
	blockVol := 1
	for a := range lat.Block {
		blockVol *= lat.Block[a]
	}
	s := Stats{Ranks: lat.Ranks, BlockVolume: blockVol}
	s.Surface = surfaceCost(lat.Extents, lat.Divisions)
	if blockVol > 0 {
		s.SurfaceRatio = float64(s.Surface) / float64(blockVol)
	}
	return s
}
