package rdtree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"rdtree/internal/bitalg"
)

func TestConstraint_SubsetBlobRoundTrip(t *testing.T) {
	bfp := []byte{0x0F, 0xFF, 0x00, 0x12}
	blob := SerializeSubset(bfp)

	decoded, err := DeserializeConstraint(blob, len(bfp))
	require.NoError(t, err)

	subset, ok := decoded.(*SubsetConstraint)
	require.True(t, ok)
	require.Equal(t, bfp, subset.BFP)
}

func TestConstraint_TanimotoBlobRoundTrip(t *testing.T) {
	bfp := []byte{0x0F, 0xFF, 0x00, 0x12}
	blob := SerializeTanimoto(bfp, 0.75)

	decoded, err := DeserializeConstraint(blob, len(bfp))
	require.NoError(t, err)

	tanimoto, ok := decoded.(*TanimotoConstraint)
	require.True(t, ok)
	require.Equal(t, bfp, tanimoto.BFP)
	require.InDelta(t, 0.75, tanimoto.Threshold, 1e-12)
}

func TestConstraint_RejectsShortBlob(t *testing.T) {
	_, err := DeserializeConstraint([]byte{1, 2, 3}, 4)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestConstraint_RejectsMismatchedLength(t *testing.T) {
	blob := SerializeSubset([]byte{1, 2, 3, 4})
	_, err := DeserializeConstraint(blob, 8)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestConstraint_RejectsUnknownMagic(t *testing.T) {
	blob := SerializeSubset([]byte{1, 2, 3, 4})
	blob[0] ^= 0xFF
	_, err := DeserializeConstraint(blob, 4)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

type fakeFreqs map[int]int

func (f fakeFreqs) BitFreq(_ context.Context, bit int) (int, error) {
	return f[bit], nil
}

func TestConstraint_TanimotoInitialize_PrefersRarestBits(t *testing.T) {
	bfp := []byte{0x03} // bits 0 and 1 set
	freqs := fakeFreqs{0: 100, 1: 1}

	c := NewTanimotoConstraint(bfp, 1.0)
	require.NoError(t, c.Initialize(context.Background(), freqs))

	require.Equal(t, 1, bitalg.Weight(c.Filter))
	require.Equal(t, byte(0x02), c.Filter[0]) // bit 1 is rarer than bit 0
}

func TestConstraint_SubsetPruning(t *testing.T) {
	q := []byte{0x0F}
	c := NewSubsetConstraint(q)

	superset := &Item{MinW: 4, MaxW: 4, BFP: []byte{0xFF}}
	require.False(t, c.TestLeaf(superset))

	notSuperset := &Item{MinW: 2, MaxW: 2, BFP: []byte{0x03}}
	require.True(t, c.TestLeaf(notSuperset))
}
