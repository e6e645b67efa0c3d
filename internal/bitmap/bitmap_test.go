package bitmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetHasPopCount(t *testing.T) {
	var b Bitmap
	b = b.Set(0).Set(3).Set(15)
	require.True(t, b.Has(0))
	require.True(t, b.Has(3))
	require.True(t, b.Has(15))
	require.False(t, b.Has(1))
	require.Equal(t, 3, b.PopCount())
	require.Equal(t, []uint8{0, 3, 15}, b.Indices())
}

func TestAndNotSubsetOf(t *testing.T) {
	var winners Bitmap
	winners = winners.Set(0).Set(1).Set(2)
	var submitters Bitmap
	submitters = submitters.Set(0).Set(1).Set(2).Set(3)

	losers := submitters.AndNot(winners)
	require.Equal(t, []uint8{3}, losers.Indices())
	require.True(t, winners.SubsetOf(submitters))
	require.False(t, submitters.SubsetOf(winners))
}

func TestMaxVerifiersBound(t *testing.T) {
	require.Equal(t, 16, MaxVerifiers)
	var full Bitmap
	for i := uint8(0); i < MaxVerifiers; i++ {
		full = full.Set(i)
	}
	require.Equal(t, MaxVerifiers, full.PopCount())
}
