package rdtree

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"rdtree/internal/bitalg"
)

// Constraint blob framing magics (spec §6).
const (
	containerMagic uint32 = 0x3DAF12AB
	subsetMagic    uint32 = 0x7C4F9902
	tanimotoMagic  uint32 = 0xF8324B5E
)

// Constraint is the shared capability set of the constraint engine (CE):
// a deserialized predicate that the cursor uses to prune internal items
// and accept leaf items.
type Constraint interface {
	// TestInternal reports whether the subtree rooted at item can be
	// pruned entirely (no descendant leaf can satisfy the constraint).
	TestInternal(item *Item) bool
	// TestLeaf reports whether item should be pruned (rejected); the
	// cursor emits the item's rowid only when this returns false.
	TestLeaf(item *Item) bool
}

// SubsetConstraint matches leaves whose BFP is a superset of a query BFP.
type SubsetConstraint struct {
	BFP    []byte
	Weight int
}

// NewSubsetConstraint builds a subset constraint over query bfp (copied).
func NewSubsetConstraint(bfp []byte) *SubsetConstraint {
	return &SubsetConstraint{BFP: append([]byte(nil), bfp...), Weight: bitalg.Weight(bfp)}
}

func (c *SubsetConstraint) test(item *Item) bool {
	if int(item.MaxW) < c.Weight {
		return true
	}
	return !bitalg.Contains(item.BFP, c.BFP)
}

// TestInternal prunes if the envelope's max weight is below the query's
// weight, or if the envelope does not contain the query.
func (c *SubsetConstraint) TestInternal(item *Item) bool { return c.test(item) }

// TestLeaf applies the identical test to a concrete leaf BFP.
func (c *SubsetConstraint) TestLeaf(item *Item) bool { return c.test(item) }

// BitFrequencyReader exposes the global bit-frequency table the Tanimoto
// constraint consults while building its bit-filter.
type BitFrequencyReader interface {
	BitFreq(ctx context.Context, bit int) (int, error)
}

// TanimotoConstraint matches leaves whose Tanimoto similarity to a query
// BFP is at least Threshold.
type TanimotoConstraint struct {
	BFP       []byte
	Threshold float64
	Weight    int
	Filter    []byte
}

// NewTanimotoConstraint builds an uninitialized Tanimoto constraint; call
// Initialize before using it for pruning so the bit-filter is populated.
func NewTanimotoConstraint(bfp []byte, threshold float64) *TanimotoConstraint {
	return &TanimotoConstraint{
		BFP:       append([]byte(nil), bfp...),
		Threshold: threshold,
		Weight:    bitalg.Weight(bfp),
		Filter:    make([]byte, len(bfp)),
	}
}

// Initialize builds the bit-filter F: k = ceil((1-threshold)*|q|) + 1 of
// q's set bits, preferring the globally rarest bits per the bit_freq
// table.
func (c *TanimotoConstraint) Initialize(ctx context.Context, freqs BitFrequencyReader) error {
	na := c.Weight
	k := int(math.Ceil((1-c.Threshold)*float64(na))) + 1
	if k > na {
		k = na
	}

	type bitFreq struct {
		bit  int
		freq int
	}
	var candidates []bitFreq
	for i := 0; i < len(c.BFP)*8; i++ {
		if c.BFP[i/8]&(1<<uint(i%8)) == 0 {
			continue
		}
		freq, err := freqs.BitFreq(ctx, i)
		if err != nil {
			return err
		}
		candidates = append(candidates, bitFreq{bit: i, freq: freq})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].freq < candidates[j].freq })

	for i := 0; i < k && i < len(candidates); i++ {
		b := candidates[i].bit
		c.Filter[b/8] |= 1 << uint(b%8)
	}
	return nil
}

// TestInternal prunes using the weight-bound, bit-filter-intersection, and
// intersection-weight-upper-bound checks from spec §4.5, in that order
// from cheapest to most expensive.
func (c *TanimotoConstraint) TestInternal(item *Item) bool {
	na := float64(c.Weight)
	if float64(item.MaxW) < c.Threshold*na || na < c.Threshold*float64(item.MinW) {
		return true
	}
	if !bitalg.Intersects(item.BFP, c.Filter) {
		return true
	}
	iw := bitalg.IWeight(item.BFP, c.BFP)
	return float64(iw) < c.Threshold*na
}

// TestLeaf recomputes the exact Tanimoto similarity after the same cheap
// pre-checks, and accepts (returns false) only when it meets Threshold.
func (c *TanimotoConstraint) TestLeaf(item *Item) bool {
	na := float64(c.Weight)
	nb := float64(item.MaxW)
	if nb < c.Threshold*na || na < c.Threshold*nb {
		return true
	}
	if !bitalg.Intersects(item.BFP, c.Filter) {
		return true
	}
	sim := bitalg.Tanimoto(item.BFP, c.BFP)
	return sim < c.Threshold
}

// SerializeSubset encodes a subset constraint blob for rdtree_subset(bfp).
func SerializeSubset(bfp []byte) []byte {
	out := make([]byte, 8+len(bfp))
	binary.BigEndian.PutUint32(out[0:4], containerMagic)
	binary.BigEndian.PutUint32(out[4:8], subsetMagic)
	copy(out[8:], bfp)
	return out
}

// SerializeTanimoto encodes a Tanimoto constraint blob for
// rdtree_tanimoto(bfp, threshold).
func SerializeTanimoto(bfp []byte, threshold float64) []byte {
	out := make([]byte, 8+len(bfp)+8)
	binary.BigEndian.PutUint32(out[0:4], containerMagic)
	binary.BigEndian.PutUint32(out[4:8], tanimotoMagic)
	copy(out[8:8+len(bfp)], bfp)
	binary.NativeEndian.PutUint64(out[8+len(bfp):], math.Float64bits(threshold))
	return out
}

// DeserializeConstraint decodes a constraint blob produced by
// SerializeSubset or SerializeTanimoto. bfpBytes is the index's configured
// fingerprint width, used to validate the payload length.
func DeserializeConstraint(blob []byte, bfpBytes int) (Constraint, error) {
	if len(blob) < 8 {
		return nil, fmt.Errorf("rdtree: constraint blob too short: %w", ErrInvalidArgument)
	}
	magic := binary.BigEndian.Uint32(blob[0:4])
	if magic != containerMagic {
		return nil, fmt.Errorf("rdtree: unrecognized constraint container magic: %w", ErrInvalidArgument)
	}
	kind := binary.BigEndian.Uint32(blob[4:8])
	payload := blob[8:]

	switch kind {
	case subsetMagic:
		if len(payload) != bfpBytes {
			return nil, fmt.Errorf("rdtree: subset constraint payload length %d != %d: %w", len(payload), bfpBytes, ErrInvalidArgument)
		}
		return NewSubsetConstraint(payload), nil
	case tanimotoMagic:
		if len(payload) != bfpBytes+8 {
			return nil, fmt.Errorf("rdtree: tanimoto constraint payload length %d != %d: %w", len(payload), bfpBytes+8, ErrInvalidArgument)
		}
		bfp := payload[:bfpBytes]
		threshold := math.Float64frombits(binary.NativeEndian.Uint64(payload[bfpBytes:]))
		return NewTanimotoConstraint(bfp, threshold), nil
	default:
		return nil, fmt.Errorf("rdtree: unrecognized constraint kind magic: %w", ErrInvalidArgument)
	}
}
