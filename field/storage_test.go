package field

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiagt-summer/HILA/lattice"
)

func testNode(t *testing.T, extents []int) *lattice.Node {
	t.Helper()
	lat, err := lattice.Setup(extents, 1)
	require.NoError(t, err)
	return lat.Node(0)
}

func TestStorage_RoundTripBothLayouts(t *testing.T) {
	node := testNode(t, []int{4, 4})
	for _, layout := range []Layout{ElementMajor, ComponentMajor} {
		t.Run(layout.String(), func(t *testing.T) {
			s, err := Alloc(node, ComplexVector(3), layout)
			require.NoError(t, err)

			want := make([][]float64, s.AllocSites())
			for i := 0; i < s.AllocSites(); i++ {
				vals := make([]float64, 6)
				for c := range vals {
					vals[c] = float64(i*100+c) + 0.25
				}
				want[i] = vals
				s.Set(i, vals)
			}
			for i := 0; i < s.AllocSites(); i++ {
				assert.Equal(t, want[i], s.Get(i), "site %d", i)
			}
		})
	}
}

func TestStorage_LayoutAffectsPackingOnly(t *testing.T) {
	node := testNode(t, []int{8})
	em, err := Alloc(node, RealVector(2), ElementMajor)
	require.NoError(t, err)
	cm, err := Alloc(node, RealVector(2), ComponentMajor)
	require.NoError(t, err)

	for i := 0; i < em.AllocSites(); i++ {
		vals := []float64{float64(i), -float64(i)}
		em.Set(i, vals)
		cm.Set(i, vals)
	}
	for i := 0; i < em.AllocSites(); i++ {
		assert.Equal(t, em.Get(i), cm.Get(i))
	}
}

func TestStorage_GatherScatter(t *testing.T) {
	node := testNode(t, []int{8})
	src, err := Alloc(node, Complex, ElementMajor)
	require.NoError(t, err)
	dst, err := Alloc(node, Complex, ComponentMajor)
	require.NoError(t, err)

	for i := 0; i < src.AllocSites(); i++ {
		src.Set(i, []float64{float64(i), float64(-i)})
	}
	idx := []int{5, 0, 3}
	buf := src.GatherElems(idx)
	assert.Len(t, buf, 3*Complex.ElemBytes())
	require.NoError(t, dst.ScatterElems(buf, idx))
	for _, i := range idx {
		assert.Equal(t, src.Get(i), dst.Get(i))
	}
}

func TestStorage_ScatterSizeMismatch(t *testing.T) {
	node := testNode(t, []int{8})
	s, err := Alloc(node, Real, ElementMajor)
	require.NoError(t, err)
	err = s.ScatterElems(make([]byte, 7), []int{0})
	assert.Error(t, err)
}

func TestStorage_OutOfRangePanics(t *testing.T) {
	node := testNode(t, []int{8})
	s, err := Alloc(node, Real, ElementMajor)
	require.NoError(t, err)
	assert.Panics(t, func() { s.Get(s.AllocSites()) })
	assert.Panics(t, func() { s.Set(-1, []float64{0}) })
}

func TestStorage_BadElemType(t *testing.T) {
	node := testNode(t, []int{8})
	_, err := Alloc(node, ElemType{Name: "none", Comps: 0}, ElementMajor)
	assert.Error(t, err)
	_, err = Alloc(node, ElemType{Name: "oddpair", Comps: 3, ComplexPair: true}, ElementMajor)
	assert.Error(t, err)
}

func TestElemTypes(t *testing.T) {
	assert.Equal(t, 1, Real.Comps)
	assert.Equal(t, 2, Complex.Comps)
	assert.True(t, Complex.ComplexPair)
	assert.Equal(t, 6, ComplexVector(3).Comps)
	assert.Equal(t, 18, ComplexMatrix(3).Comps)
	assert.Equal(t, 8, Real.ElemBytes())
}
