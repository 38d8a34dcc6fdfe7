package lattice

import (
	"fmt"
)

// ConfigurationError reports that no valid block decomposition exists for
// the requested extents and rank count. It is returned by Setup before any
// field has been allocated.
type ConfigurationError struct {
	Extents []int
	Ranks   int
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("lattice configuration: extents %v over %d ranks: %s",
		e.Extents, e.Ranks, e.Reason)
}

// Policy chooses the number of block divisions along each axis. Divide must
// return a slice d with prod(d) == ranks and d[a] dividing extents[a] for
// every axis, or an error when no such grid exists.
//
// The partitioning heuristic for irregular rank counts is deliberately
// pluggable; callers with topology knowledge can substitute their own.
type Policy interface {
	Divide(extents []int, ranks int) ([]int, error)
}

// SurfacePolicy is the default decomposition strategy. It searches all
// divisor grids of the rank count and keeps the one with the smallest total
// boundary surface per block. Ties keep the first candidate found; the
// enumeration order assigns larger divisors to higher axes first, so the
// choice is deterministic for fixed inputs.
type SurfacePolicy struct{}

func (SurfacePolicy) Divide(extents []int, ranks int) ([]int, error) {
	nd := len(extents)
	best := []int(nil)
	bestCost := -1
	div := make([]int, nd)

	// Enumerate from the highest axis down, largest divisor first, so ties
	// resolve toward splitting the higher axis index.
	var search func(axis, remaining int)
	search = func(axis, remaining int) {
		if axis < 0 {
			if remaining != 1 {
				return
			}
			cost := surfaceCost(extents, div)
			if bestCost < 0 || cost < bestCost {
				best = append([]int(nil), div...)
				bestCost = cost
			}
			return
		}
		for f := remaining; f >= 1; f-- {
			if remaining%f != 0 || extents[axis]%f != 0 {
				continue
			}
			div[axis] = f
			search(axis-1, remaining/f)
		}
	}
	search(nd-1, ranks)

	if best == nil {
		return nil, &ConfigurationError{
			Extents: append([]int(nil), extents...),
			Ranks:   ranks,
			Reason:  "no divisor grid matches the extents",
		}
	}
	return best, nil
}

// surfaceCost is the per-block boundary area summed over directions: the
// number of sites each block exposes to its neighbors.
func surfaceCost(extents, div []int) int {
	blockVol := 1
	for a := range extents {
		blockVol *= extents[a] / div[a]
	}
	cost := 0
	for a := range extents {
		if div[a] > 1 {
			cost += 2 * blockVol / (extents[a] / div[a])
		}
	}
	return cost
}

// ExplicitPolicy honors a caller-supplied division grid.
type ExplicitPolicy struct {
	Divisions []int
}

func (p ExplicitPolicy) Divide(extents []int, ranks int) ([]int, error) {
	if len(p.Divisions) != len(extents) {
		return nil, &ConfigurationError{
			Extents: append([]int(nil), extents...),
			Ranks:   ranks,
			Reason: fmt.Sprintf("explicit divisions have %d axes, lattice has %d",
				len(p.Divisions), len(extents)),
		}
	}
	prod := 1
	for a, d := range p.Divisions {
		if d < 1 {
			return nil, &ConfigurationError{
				Extents: append([]int(nil), extents...),
				Ranks:   ranks,
				Reason:  fmt.Sprintf("division %d on axis %d", d, a),
			}
		}
		if extents[a]%d != 0 {
			return nil, &ConfigurationError{
				Extents: append([]int(nil), extents...),
				Ranks:   ranks,
				Reason:  fmt.Sprintf("axis %d extent %d not divisible by %d", a, extents[a], d),
			}
		}
		prod *= d
	}
	if prod != ranks {
		return nil, &ConfigurationError{
			Extents: append([]int(nil), extents...),
			Ranks:   ranks,
			Reason:  fmt.Sprintf("explicit divisions cover %d blocks", prod),
		}
	}
	return append([]int(nil), p.Divisions...), nil
}
