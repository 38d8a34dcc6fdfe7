package lattice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSurfacePolicy_MinimizesSurface(t *testing.T) {
	// 16x4: splitting the long axis exposes 8 boundary sites per block,
	// splitting the short one exposes 32.
	div, err := SurfacePolicy{}.Divide([]int{16, 4}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, div)

	// over 8 ranks on a cube several grids tie on surface; the tie-break
	// keeps the first candidate, which loads the higher axes
	div, err = SurfacePolicy{}.Divide([]int{8, 8, 8}, 8)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 4}, div)
}

func TestSurfacePolicy_RespectsDivisibility(t *testing.T) {
	// axis 0 extent 6 cannot take 4 divisions; the only grid is 2x2
	div, err := SurfacePolicy{}.Divide([]int{6, 4}, 4)
	require.NoError(t, err)
	prod := 1
	for a, d := range div {
		assert.Zero(t, []int{6, 4}[a]%d)
		prod *= d
	}
	assert.Equal(t, 4, prod)
}

func TestSurfacePolicy_Deterministic(t *testing.T) {
	first, err := SurfacePolicy{}.Divide([]int{12, 12, 12}, 6)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := SurfacePolicy{}.Divide([]int{12, 12, 12}, 6)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSurfacePolicy_NoValidGrid(t *testing.T) {
	_, err := SurfacePolicy{}.Divide([]int{5, 5}, 2)
	require.Error(t, err)
	assert.ErrorContains(t, err, "no divisor grid")
}

func TestExplicitPolicy(t *testing.T) {
	div, err := ExplicitPolicy{Divisions: []int{1, 4}}.Divide([]int{8, 8}, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4}, div)

	_, err = ExplicitPolicy{Divisions: []int{2, 2}}.Divide([]int{8, 8}, 8)
	assert.Error(t, err, "division product must match the rank count")

	_, err = ExplicitPolicy{Divisions: []int{3, 1}}.Divide([]int{8, 8}, 3)
	assert.Error(t, err, "divisions must divide the extents")

	_, err = ExplicitPolicy{Divisions: []int{2}}.Divide([]int{8, 8}, 2)
	assert.Error(t, err, "division grid must cover every axis")
}
