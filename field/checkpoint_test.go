package field

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiagt-summer/HILA/comm"
	"github.com/xiagt-summer/HILA/lattice"
)

// ckptFill is the reference value of a site for the checkpoint tests.
func ckptFill(lat *lattice.Lattice, coord []int) []float64 {
	g := float64(lat.GlobalIndex(coord))
	return []float64{g, g + 0.5}
}

// writeCkpt fills a field under one decomposition and layout and returns
// the checkpoint bytes root produced.
func writeCkpt(t *testing.T, extents, div []int, layout Layout) []byte {
	t.Helper()
	ranks := 1
	for _, d := range div {
		ranks *= d
	}
	var buf bytes.Buffer
	world := comm.NewWorld(ranks)
	world.Run(func(c *comm.Comm) {
		lat, err := lattice.SetupWithPolicy(extents, ranks, lattice.ExplicitPolicy{Divisions: div})
		require.NoError(t, err)
		f, err := New(lat.Node(c.Rank()), c, RealVector(2), layout)
		require.NoError(t, err)
		node := f.Node()
		for i := 0; i < node.LocalVolume(); i++ {
			f.SetElem(i, ckptFill(lat, node.CoordOf(i)))
		}
		var w *bytes.Buffer
		if c.Rank() == comm.Root {
			w = &buf
		}
		if w == nil {
			require.NoError(t, f.WriteCheckpoint(nil))
		} else {
			require.NoError(t, f.WriteCheckpoint(w))
		}
	})
	return buf.Bytes()
}

func TestCheckpoint_ByteIdenticalAcrossLayouts(t *testing.T) {
	em := writeCkpt(t, []int{4, 4}, []int{2, 1}, ElementMajor)
	cm := writeCkpt(t, []int{4, 4}, []int{2, 1}, ComponentMajor)
	assert.Equal(t, em, cm)
}

func TestCheckpoint_ByteIdenticalAcrossDecompositions(t *testing.T) {
	ref := writeCkpt(t, []int{4, 4}, []int{1, 1}, ElementMajor)
	assert.Len(t, ref, 16*2*8)
	assert.Equal(t, ref, writeCkpt(t, []int{4, 4}, []int{2, 1}, ElementMajor))
	assert.Equal(t, ref, writeCkpt(t, []int{4, 4}, []int{1, 2}, ComponentMajor))
	assert.Equal(t, ref, writeCkpt(t, []int{4, 4}, []int{2, 2}, ElementMajor))
}

func TestCheckpoint_LexicographicOrder(t *testing.T) {
	// single rank, 2x2: sites stream as (0,0) (1,0) (0,1) (1,1)
	buf := writeCkpt(t, []int{2, 2}, []int{1, 1}, ElementMajor)
	require.Len(t, buf, 4*2*8)
	for g := 0; g < 4; g++ {
		first := math.Float64frombits(binary.LittleEndian.Uint64(buf[g*16:]))
		second := math.Float64frombits(binary.LittleEndian.Uint64(buf[g*16+8:]))
		assert.Equal(t, float64(g), first)
		assert.Equal(t, float64(g)+0.5, second)
	}
}

func TestCheckpoint_RoundTripAcrossDecompositions(t *testing.T) {
	// written on a 2-rank grid split along axis 0, read back on a 2-rank
	// grid split along axis 1 with the other layout
	data := writeCkpt(t, []int{4, 4}, []int{2, 1}, ElementMajor)

	world := comm.NewWorld(2)
	world.Run(func(c *comm.Comm) {
		lat, err := lattice.SetupWithPolicy([]int{4, 4}, 2, lattice.ExplicitPolicy{Divisions: []int{1, 2}})
		require.NoError(t, err)
		f, err := New(lat.Node(c.Rank()), c, RealVector(2), ComponentMajor)
		require.NoError(t, err)
		var r *bytes.Reader
		if c.Rank() == comm.Root {
			r = bytes.NewReader(data)
		}
		if r == nil {
			require.NoError(t, f.ReadCheckpoint(nil))
		} else {
			require.NoError(t, f.ReadCheckpoint(r))
		}
		node := f.Node()
		for i := 0; i < node.LocalVolume(); i++ {
			coord := node.CoordOf(i)
			assert.Equal(t, ckptFill(lat, coord), f.Elem(i), "site %v", coord)
		}
	})
}

func TestCheckpoint_RootNeedsStream(t *testing.T) {
	world := comm.NewWorld(1)
	lat, err := lattice.Setup([]int{4}, 1)
	require.NoError(t, err)
	f, err := New(lat.Node(0), world.Comm(0), Real, ElementMajor)
	require.NoError(t, err)
	assert.Error(t, f.WriteCheckpoint(nil))
	assert.Error(t, f.ReadCheckpoint(nil))
}
