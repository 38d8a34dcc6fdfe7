package lattice

import "fmt"

// Direction identifies one of the 2*NDim nearest-neighbor directions of the
// lattice. Directions are encoded as 2*axis for the positive (up) direction
// along an axis and 2*axis+1 for the negative (down) direction, so the
// encoding is independent of the lattice dimension.
type Direction int

// Up returns the positive direction along the given axis.
func Up(axis int) Direction { return Direction(axis << 1) }

// Down returns the negative direction along the given axis.
func Down(axis int) Direction { return Direction(axis<<1 | 1) }

// Axis returns the coordinate axis this direction moves along.
func (d Direction) Axis() int { return int(d) >> 1 }

// IsUp reports whether this is the positive direction along its axis.
func (d Direction) IsUp() bool { return d&1 == 0 }

// Opposite returns the reversed direction along the same axis.
func (d Direction) Opposite() Direction { return d ^ 1 }

// Step returns the coordinate increment of this direction: +1 or -1.
func (d Direction) Step() int {
	if d.IsUp() {
		return 1
	}
	return -1
}

func (d Direction) String() string {
	if d.IsUp() {
		return fmt.Sprintf("+%d", d.Axis())
	}
	return fmt.Sprintf("-%d", d.Axis())
}

// Parity selects the even or odd sublattice, or all sites. A site's parity
// is the parity of its global coordinate sum.
type Parity int

const (
	EVEN Parity = iota
	ODD
	ALL
)

func (p Parity) String() string {
	switch p {
	case EVEN:
		return "even"
	case ODD:
		return "odd"
	case ALL:
		return "all"
	}
	return fmt.Sprintf("parity(%d)", int(p))
}

// Opposite returns the complementary parity. ALL is its own opposite.
func (p Parity) Opposite() Parity {
	switch p {
	case EVEN:
		return ODD
	case ODD:
		return EVEN
	}
	return ALL
}

// Matches reports whether a site of parity sp is selected by p.
func (p Parity) Matches(sp Parity) bool {
	return p == ALL || p == sp
}

// CoordParity returns the parity of a global coordinate.
func CoordParity(coord []int) Parity {
	sum := 0
	for _, c := range coord {
		sum += c
	}
	if sum&1 == 0 {
		return EVEN
	}
	return ODD
}
